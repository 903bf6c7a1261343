package preprocessing

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// newRand は seed から決定的な乱数生成器を作る
func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// TrainTestSplit は rows をシャッフルして訓練用とテスト用に分ける。
// テスト行数は ceil(n*fraction) で、どちらも最低1行を残す。
// 同じ seed と入力なら常に同じ分割になる。戻り値はそれぞれ昇順
func TrainTestSplit(rows []int, fraction float64, seed uint64) (train, test []int, err error) {
	n := len(rows)
	nTest := int(math.Ceil(float64(n)*fraction - 1e-9))
	if nTest < 1 {
		nTest = 1
	}
	if n-nTest < 1 {
		return nil, nil, errors.NewInsufficientDataError("train/test split needs at least one row on each side", 2, n)
	}

	shuffled := append([]int(nil), rows...)
	r := newRand(seed)
	r.Shuffle(n, func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	test = append(test, shuffled[:nTest]...)
	train = append(train, shuffled[nTest:]...)
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// StratifiedTrainTestSplit はクラスごとの比率を保って分割する。
// labels[i] は rows[i] のクラス符号。各クラスは2行以上必要で、
// 各クラスから round(n_c*fraction) 行（最低1行は訓練側に残す）をテストに回す
func StratifiedTrainTestSplit(rows, labels []int, fraction float64, seed uint64) (train, test []int, err error) {
	groups := make(map[int][]int)
	var order []int
	for i, row := range rows {
		c := labels[i]
		if _, ok := groups[c]; !ok {
			order = append(order, c)
		}
		groups[c] = append(groups[c], row)
	}

	r := newRand(seed)
	nTest := make([]int, len(order))
	total, largest := 0, 0
	for k, c := range order {
		g := groups[c]
		if len(g) < 2 {
			return nil, nil, errors.NewInsufficientDataError("every class needs at least 2 rows for a stratified split", 2, len(g))
		}
		r.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })
		nt := int(math.Round(float64(len(g)) * fraction))
		if nt > len(g)-1 {
			nt = len(g) - 1
		}
		nTest[k] = nt
		total += nt
		if len(g) > len(groups[order[largest]]) {
			largest = k
		}
	}
	if total == 0 {
		nTest[largest] = 1
	}

	for k, c := range order {
		g := groups[c]
		test = append(test, g[:nTest[k]]...)
		train = append(train, g[nTest[k]:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

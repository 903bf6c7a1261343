package training

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// Fold is one cross-validation split of the training rows.
type Fold struct {
	TrainIndices []int
	TestIndices  []int
}

// Splitter partitions n training rows into folds. Implementations are
// deterministic for a given seed and input.
type Splitter interface {
	Split(y *mat.VecDense) ([]Fold, error)
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// KFold splits rows into NSplits consecutive folds. The first n%NSplits folds
// get one extra row.
type KFold struct {
	NSplits int
	Shuffle bool
	Seed    uint64
}

// NewKFold creates a KFold splitter.
func NewKFold(nSplits int, shuffle bool, seed uint64) *KFold {
	return &KFold{NSplits: nSplits, Shuffle: shuffle, Seed: seed}
}

// Split returns NSplits folds over y.Len() rows.
func (k *KFold) Split(y *mat.VecDense) ([]Fold, error) {
	n := y.Len()
	if err := checkSplits(k.NSplits, n); err != nil {
		return nil, err
	}

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if k.Shuffle {
		r := newRand(k.Seed)
		r.Shuffle(n, func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
	}

	assign := make([]int, n)
	foldSize := n / k.NSplits
	remainder := n % k.NSplits
	current := 0
	for f := 0; f < k.NSplits; f++ {
		size := foldSize
		if f < remainder {
			size++
		}
		for _, idx := range indices[current : current+size] {
			assign[idx] = f
		}
		current += size
	}
	return foldsFrom(assign, k.NSplits), nil
}

// StratifiedKFold keeps the class proportions of y in every fold.
// Rows of each class are shuffled, then the classes are laid out one after
// another (ascending label order) and dealt to folds round-robin.
type StratifiedKFold struct {
	NSplits int
	Shuffle bool
	Seed    uint64
}

// NewStratifiedKFold creates a StratifiedKFold splitter.
func NewStratifiedKFold(nSplits int, shuffle bool, seed uint64) *StratifiedKFold {
	return &StratifiedKFold{NSplits: nSplits, Shuffle: shuffle, Seed: seed}
}

// Split returns NSplits stratified folds over y.
func (s *StratifiedKFold) Split(y *mat.VecDense) ([]Fold, error) {
	n := y.Len()
	if err := checkSplits(s.NSplits, n); err != nil {
		return nil, err
	}

	byClass := make(map[float64][]int)
	for i := 0; i < n; i++ {
		label := y.AtVec(i)
		byClass[label] = append(byClass[label], i)
	}
	labels := make([]float64, 0, len(byClass))
	for label := range byClass {
		labels = append(labels, label)
	}
	sort.Float64s(labels)

	// クラス順を固定してから乱数を消費するので、mapの反復順に依存しない
	r := newRand(s.Seed)
	order := make([]int, 0, n)
	for _, label := range labels {
		rows := byClass[label]
		if s.Shuffle {
			r.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		}
		order = append(order, rows...)
	}

	assign := make([]int, n)
	for i, idx := range order {
		assign[idx] = i % s.NSplits
	}
	return foldsFrom(assign, s.NSplits), nil
}

func checkSplits(nSplits, n int) error {
	if nSplits < 2 {
		return errors.NewConfigurationError("training.cv_folds", nSplits, "cross-validation needs at least 2 folds")
	}
	if nSplits > n {
		return errors.NewInsufficientDataError("cross-validation needs at least one row per fold", nSplits, n)
	}
	return nil
}

// foldsFrom builds folds from a row→fold assignment. Indices are ascending.
func foldsFrom(assign []int, k int) []Fold {
	folds := make([]Fold, k)
	for idx, f := range assign {
		for g := range folds {
			if g == f {
				folds[g].TestIndices = append(folds[g].TestIndices, idx)
			} else {
				folds[g].TrainIndices = append(folds[g].TrainIndices, idx)
			}
		}
	}
	return folds
}

// subsetRows copies the given rows of X and y.
func subsetRows(X *mat.Dense, y *mat.VecDense, rows []int) (*mat.Dense, *mat.VecDense) {
	_, cols := X.Dims()
	xs := mat.NewDense(len(rows), cols, nil)
	ys := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		xs.SetRow(i, X.RawRowView(r))
		ys.SetVec(i, y.AtVec(r))
	}
	return xs, ys
}

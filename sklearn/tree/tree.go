// Package tree はCARTアルゴリズムによる決定木の分類器と回帰器を提供します。
//
// 分割は「x <= threshold なら左」で、閾値は隣接する異なる値の中点です。
// max_features を指定すると各ノードで特徴量をランダムに選び、
// ensemble パッケージのランダムフォレストから使われます。
package tree

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

const leafFeature = -1

// node は平坦なスライスに格納される木のノード。Left/Right はスライスの添字
type node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     []float64 // 分類: クラス比率、回帰: 平均値1要素
	NSamples  int
	Impurity  float64
	Depth     int
}

func (n *node) isLeaf() bool {
	return n.Feature == leafFeature
}

// treeParams は分類器と回帰器で共通のハイパーパラメータ
type treeParams struct {
	criterion       string
	maxDepth        int // 0 は無制限
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int // 0 は全特徴量
	randomState     uint64
}

// Option は決定木の設定オプション
type Option func(*treeParams)

// WithCriterion は不純度の基準を設定（分類: gini/entropy、回帰: squared_error/mse）
func WithCriterion(criterion string) Option {
	return func(p *treeParams) {
		p.criterion = criterion
	}
}

// WithMaxDepth は木の最大深さを設定。0 は無制限
func WithMaxDepth(depth int) Option {
	return func(p *treeParams) {
		p.maxDepth = depth
	}
}

// WithMinSamplesSplit は分割に必要な最小サンプル数を設定
func WithMinSamplesSplit(n int) Option {
	return func(p *treeParams) {
		p.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf は葉に残す最小サンプル数を設定
func WithMinSamplesLeaf(n int) Option {
	return func(p *treeParams) {
		p.minSamplesLeaf = n
	}
}

// WithMaxFeatures は各ノードで評価する特徴量数を設定。0 は全特徴量
func WithMaxFeatures(n int) Option {
	return func(p *treeParams) {
		p.maxFeatures = n
	}
}

// WithRandomState は特徴量サンプリングの乱数シードを設定
func WithRandomState(seed uint64) Option {
	return func(p *treeParams) {
		p.randomState = seed
	}
}

func defaultParams(criterion string) treeParams {
	return treeParams{
		criterion:       criterion,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
	}
}

func (p *treeParams) validate(criteria ...string) error {
	valid := false
	for _, c := range criteria {
		if p.criterion == c {
			valid = true
			break
		}
	}
	switch {
	case !valid:
		return errors.NewValidationError("criterion", "unsupported criterion", p.criterion)
	case p.maxDepth < 0:
		return errors.NewValidationError("max_depth", "must be non-negative", p.maxDepth)
	case p.minSamplesSplit < 2:
		return errors.NewValidationError("min_samples_split", "must be at least 2", p.minSamplesSplit)
	case p.minSamplesLeaf < 1:
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", p.minSamplesLeaf)
	case p.maxFeatures < 0:
		return errors.NewValidationError("max_features", "must be non-negative", p.maxFeatures)
	}
	return nil
}

func (p *treeParams) getParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         p.criterion,
		"max_depth":         p.maxDepth,
		"min_samples_split": p.minSamplesSplit,
		"min_samples_leaf":  p.minSamplesLeaf,
		"max_features":      p.maxFeatures,
		"random_state":      p.randomState,
	}
}

func (p *treeParams) setParams(modelName string, params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "criterion":
			p.criterion, err = model.ParamString(key, value)
		case "max_depth":
			p.maxDepth, err = model.ParamInt(key, value)
		case "min_samples_split":
			p.minSamplesSplit, err = model.ParamInt(key, value)
		case "min_samples_leaf":
			p.minSamplesLeaf, err = model.ParamInt(key, value)
		case "max_features":
			p.maxFeatures, err = model.ParamInt(key, value)
		case "random_state":
			p.randomState, err = model.ParamSeed(key, value)
		default:
			err = model.UnknownParam(modelName, key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// paramsSnapshot はgob用にエクスポートしたハイパーパラメータ
type paramsSnapshot struct {
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	RandomState     uint64
}

func (p *treeParams) snapshot() paramsSnapshot {
	return paramsSnapshot{
		Criterion:       p.criterion,
		MaxDepth:        p.maxDepth,
		MinSamplesSplit: p.minSamplesSplit,
		MinSamplesLeaf:  p.minSamplesLeaf,
		MaxFeatures:     p.maxFeatures,
		RandomState:     p.randomState,
	}
}

func (s paramsSnapshot) restore() treeParams {
	return treeParams{
		criterion:       s.Criterion,
		maxDepth:        s.MaxDepth,
		minSamplesSplit: s.MinSamplesSplit,
		minSamplesLeaf:  s.MinSamplesLeaf,
		maxFeatures:     s.MaxFeatures,
		randomState:     s.RandomState,
	}
}

// builder は訓練データから木を再帰的に構築する
type builder struct {
	params   treeParams
	columns  [][]float64 // 列優先の特徴量
	y        []float64   // 分類: クラス添字、回帰: 目的変数
	nClasses int         // 回帰では0
	rng      *rand.Rand

	nodes       []node
	importances []float64
}

func newBuilder(params treeParams, X mat.Matrix, y []float64, nClasses int) *builder {
	rows, cols := X.Dims()
	columns := make([][]float64, cols)
	for j := range columns {
		columns[j] = make([]float64, rows)
		for i := 0; i < rows; i++ {
			columns[j][i] = X.At(i, j)
		}
	}
	seed := params.randomState
	return &builder{
		params:      params,
		columns:     columns,
		y:           y,
		nClasses:    nClasses,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		importances: make([]float64, cols),
	}
}

func (b *builder) fit() ([]node, []float64) {
	indices := make([]int, len(b.y))
	for i := range indices {
		indices[i] = i
	}
	b.grow(indices, 0)

	total := 0.0
	for _, v := range b.importances {
		total += v
	}
	if total > 0 {
		for j := range b.importances {
			b.importances[j] /= total
		}
	}
	return b.nodes, b.importances
}

func (b *builder) grow(indices []int, depth int) int {
	value, impurity := b.summarize(indices)
	idx := len(b.nodes)
	b.nodes = append(b.nodes, node{
		Feature:  leafFeature,
		Value:    value,
		NSamples: len(indices),
		Impurity: impurity,
		Depth:    depth,
	})

	n := len(indices)
	if impurity <= 1e-12 ||
		n < b.params.minSamplesSplit ||
		n < 2*b.params.minSamplesLeaf ||
		(b.params.maxDepth > 0 && depth >= b.params.maxDepth) {
		return idx
	}

	s, ok := b.bestSplit(indices)
	if !ok {
		return idx
	}

	var left, right []int
	col := b.columns[s.feature]
	for _, i := range indices {
		if col[i] <= s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	b.importances[s.feature] += float64(n)*impurity -
		float64(len(left))*s.leftImpurity - float64(len(right))*s.rightImpurity

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[idx].Feature = s.feature
	b.nodes[idx].Threshold = s.threshold
	b.nodes[idx].Left = l
	b.nodes[idx].Right = r
	return idx
}

// summarize はノードの予測値と不純度を返す
func (b *builder) summarize(indices []int) ([]float64, float64) {
	n := float64(len(indices))
	if b.nClasses == 0 {
		sum, sumSq := 0.0, 0.0
		for _, i := range indices {
			sum += b.y[i]
			sumSq += b.y[i] * b.y[i]
		}
		return []float64{sum / n}, variance(sum, sumSq, n)
	}
	counts := make([]float64, b.nClasses)
	for _, i := range indices {
		counts[int(b.y[i])]++
	}
	impurity := b.classImpurity(counts, n)
	for k := range counts {
		counts[k] /= n
	}
	return counts, impurity
}

func variance(sum, sumSq, n float64) float64 {
	if n == 0 {
		return 0
	}
	mean := sum / n
	return math.Max(sumSq/n-mean*mean, 0)
}

func (b *builder) classImpurity(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	impurity := 0.0
	if b.params.criterion == "entropy" {
		for _, c := range counts {
			if c > 0 {
				p := c / n
				impurity -= p * math.Log2(p)
			}
		}
		return impurity
	}
	impurity = 1
	for _, c := range counts {
		p := c / n
		impurity -= p * p
	}
	return impurity
}

type split struct {
	feature       int
	threshold     float64
	score         float64 // 子ノードの重み付き不純度
	leftImpurity  float64
	rightImpurity float64
}

func (b *builder) candidateFeatures() []int {
	nFeatures := len(b.columns)
	if b.params.maxFeatures <= 0 || b.params.maxFeatures >= nFeatures {
		features := make([]int, nFeatures)
		for j := range features {
			features[j] = j
		}
		return features
	}
	features := b.rng.Perm(nFeatures)[:b.params.maxFeatures]
	sort.Ints(features)
	return features
}

func (b *builder) bestSplit(indices []int) (split, bool) {
	best := split{score: math.Inf(1)}
	found := false
	n := len(indices)
	sorted := make([]int, n)
	minLeaf := b.params.minSamplesLeaf

	for _, f := range b.candidateFeatures() {
		col := b.columns[f]
		copy(sorted, indices)
		sort.SliceStable(sorted, func(a, c int) bool { return col[sorted[a]] < col[sorted[c]] })

		sweep := b.newSweep(sorted)
		for i := 0; i < n-1; i++ {
			sweep.moveLeft(sorted[i])
			if col[sorted[i]] == col[sorted[i+1]] {
				continue
			}
			nl := i + 1
			if nl < minLeaf || n-nl < minLeaf {
				continue
			}
			impL, impR := sweep.impurities()
			score := (float64(nl)*impL + float64(n-nl)*impR) / float64(n)
			if score < best.score {
				threshold := (col[sorted[i]] + col[sorted[i+1]]) / 2
				if threshold >= col[sorted[i+1]] {
					threshold = col[sorted[i]]
				}
				best = split{feature: f, threshold: threshold, score: score, leftImpurity: impL, rightImpurity: impR}
				found = true
			}
		}
	}
	return best, found
}

// sweep はソート済みの行を左へ1つずつ移しながら左右の統計量を更新する
type sweep struct {
	b                 *builder
	leftN, rightN     float64
	leftSum, rightSum float64
	leftSq, rightSq   float64
	leftCnt, rightCnt []float64
}

func (b *builder) newSweep(indices []int) *sweep {
	s := &sweep{b: b, rightN: float64(len(indices))}
	if b.nClasses > 0 {
		s.leftCnt = make([]float64, b.nClasses)
		s.rightCnt = make([]float64, b.nClasses)
	}
	for _, i := range indices {
		if b.nClasses > 0 {
			s.rightCnt[int(b.y[i])]++
		} else {
			s.rightSum += b.y[i]
			s.rightSq += b.y[i] * b.y[i]
		}
	}
	return s
}

func (s *sweep) moveLeft(i int) {
	s.leftN++
	s.rightN--
	if s.b.nClasses > 0 {
		k := int(s.b.y[i])
		s.leftCnt[k]++
		s.rightCnt[k]--
		return
	}
	v := s.b.y[i]
	s.leftSum += v
	s.rightSum -= v
	s.leftSq += v * v
	s.rightSq -= v * v
}

func (s *sweep) impurities() (float64, float64) {
	if s.b.nClasses > 0 {
		return s.b.classImpurity(s.leftCnt, s.leftN), s.b.classImpurity(s.rightCnt, s.rightN)
	}
	return variance(s.leftSum, s.leftSq, s.leftN), variance(s.rightSum, s.rightSq, s.rightN)
}

// leafFor はサンプルがたどり着く葉を返す
func leafFor(nodes []node, X mat.Matrix, row int) *node {
	n := &nodes[0]
	for !n.isLeaf() {
		if X.At(row, n.Feature) <= n.Threshold {
			n = &nodes[n.Left]
		} else {
			n = &nodes[n.Right]
		}
	}
	return n
}

func treeDepth(nodes []node) int {
	depth := 0
	for i := range nodes {
		if nodes[i].Depth > depth {
			depth = nodes[i].Depth
		}
	}
	return depth
}

func leafCount(nodes []node) int {
	count := 0
	for i := range nodes {
		if nodes[i].isLeaf() {
			count++
		}
	}
	return count
}

// checkFitInput はFitの入力の形と数値を検証する
func checkFitInput(op string, X, y mat.Matrix) (int, int, error) {
	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows == 0 || cols == 0 {
		return 0, 0, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if rows != yRows {
		return 0, 0, errors.NewDimensionError(op, rows, yRows, 0)
	}
	if yCols != 1 {
		return 0, 0, errors.NewDimensionError(op, 1, yCols, 1)
	}
	if err := errors.CheckMatrix(op, X, rows, cols, 0); err != nil {
		return 0, 0, err
	}
	if err := errors.CheckMatrix(op, y, rows, 1, 0); err != nil {
		return 0, 0, err
	}
	return rows, cols, nil
}

// Package neighbors はk近傍法による分類器と回帰器を提供します。
package neighbors

import (
	"encoding/gob"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/core/parallel"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

func init() {
	gob.Register(&KNeighborsClassifier{})
	gob.Register(&KNeighborsRegressor{})
}

// knnParams は分類器と回帰器で共通のハイパーパラメータ
type knnParams struct {
	nNeighbors int
	weights    string // uniform | distance
	metric     string // euclidean | manhattan
	nJobs      int
}

// Option はk近傍法の設定オプション
type Option func(*knnParams)

// WithNNeighbors は近傍数kを設定
func WithNNeighbors(k int) Option {
	return func(p *knnParams) { p.nNeighbors = k }
}

// WithWeights は近傍の重み付け（uniform/distance）を設定
func WithWeights(weights string) Option {
	return func(p *knnParams) { p.weights = weights }
}

// WithMetric は距離関数（euclidean/manhattan）を設定
func WithMetric(metric string) Option {
	return func(p *knnParams) { p.metric = metric }
}

// WithNJobs は予測の並列数を設定
func WithNJobs(n int) Option {
	return func(p *knnParams) { p.nJobs = n }
}

func defaultParams() knnParams {
	return knnParams{nNeighbors: 5, weights: "uniform", metric: "euclidean"}
}

func (p *knnParams) validate() error {
	switch {
	case p.nNeighbors < 1:
		return errors.NewValidationError("n_neighbors", "must be at least 1", p.nNeighbors)
	case p.weights != "uniform" && p.weights != "distance":
		return errors.NewValidationError("weights", "must be 'uniform' or 'distance'", p.weights)
	case p.metric != "euclidean" && p.metric != "manhattan":
		return errors.NewValidationError("metric", "must be 'euclidean' or 'manhattan'", p.metric)
	}
	return nil
}

func (p *knnParams) getParams() map[string]interface{} {
	return map[string]interface{}{
		"n_neighbors": p.nNeighbors,
		"weights":     p.weights,
		"metric":      p.metric,
		"n_jobs":      p.nJobs,
	}
}

func (p *knnParams) setParams(modelName string, params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "n_neighbors":
			p.nNeighbors, err = model.ParamInt(key, value)
		case "weights":
			p.weights, err = model.ParamString(key, value)
		case "metric":
			p.metric, err = model.ParamString(key, value)
		case "n_jobs":
			p.nJobs, err = model.ParamInt(key, value)
		default:
			err = model.UnknownParam(modelName, key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// neighbor は訓練サンプルの添字と距離
type neighbor struct {
	index    int
	distance float64
}

// memory は学習時に保持する訓練データ
type memory struct {
	X    *mat.Dense
	y    []float64
	rows int
	cols int
}

func newMemory(op string, X, y mat.Matrix) (*memory, error) {
	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows == 0 || cols == 0 {
		return nil, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if rows != yRows {
		return nil, errors.NewDimensionError(op, rows, yRows, 0)
	}
	if yCols != 1 {
		return nil, errors.NewDimensionError(op, 1, yCols, 1)
	}
	if err := errors.CheckMatrix(op, X, rows, cols, 0); err != nil {
		return nil, err
	}
	target := make([]float64, rows)
	for i := range target {
		target[i] = y.At(i, 0)
	}
	return &memory{X: mat.DenseCopyOf(X), y: target, rows: rows, cols: cols}, nil
}

func (m *memory) distance(metric string, X mat.Matrix, row, train int) float64 {
	d := 0.0
	for j := 0; j < m.cols; j++ {
		diff := X.At(row, j) - m.X.At(train, j)
		if metric == "manhattan" {
			d += math.Abs(diff)
		} else {
			d += diff * diff
		}
	}
	if metric == "manhattan" {
		return d
	}
	return math.Sqrt(d)
}

// kNearest はrow行目に近い訓練サンプルを距離の昇順で返す。
// kが訓練サンプル数を超える場合は全サンプルを使う。同距離は添字の小さい方を優先する
func (m *memory) kNearest(p *knnParams, X mat.Matrix, row int) []neighbor {
	all := make([]neighbor, m.rows)
	for i := 0; i < m.rows; i++ {
		all[i] = neighbor{index: i, distance: m.distance(p.metric, X, row, i)}
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].distance < all[b].distance })
	k := p.nNeighbors
	if k > m.rows {
		k = m.rows
	}
	return all[:k]
}

// weightsOf は近傍の重みを返す。distance重みで距離0の近傍がある場合はそれらだけを等しく扱う
func weightsOf(p *knnParams, neighbors []neighbor) []float64 {
	w := make([]float64, len(neighbors))
	if p.weights != "distance" {
		for i := range w {
			w[i] = 1
		}
		return w
	}
	exact := false
	for _, n := range neighbors {
		if n.distance == 0 {
			exact = true
			break
		}
	}
	for i, n := range neighbors {
		switch {
		case exact && n.distance == 0:
			w[i] = 1
		case exact:
			w[i] = 0
		default:
			w[i] = 1 / n.distance
		}
	}
	return w
}

// paramsSnapshot と memorySnapshot はgob用
type paramsSnapshot struct {
	NNeighbors int
	Weights    string
	Metric     string
	NJobs      int
}

type memorySnapshot struct {
	Rows, Cols int
	X          []float64
	Y          []float64
}

func (p *knnParams) snapshot() paramsSnapshot {
	return paramsSnapshot{NNeighbors: p.nNeighbors, Weights: p.weights, Metric: p.metric, NJobs: p.nJobs}
}

func (s paramsSnapshot) restore() knnParams {
	return knnParams{nNeighbors: s.NNeighbors, weights: s.Weights, metric: s.Metric, nJobs: s.NJobs}
}

func (m *memory) snapshot() *memorySnapshot {
	if m == nil {
		return nil
	}
	return &memorySnapshot{Rows: m.rows, Cols: m.cols, X: m.X.RawMatrix().Data, Y: m.y}
}

func (s *memorySnapshot) restore() *memory {
	if s == nil || s.Rows == 0 {
		return nil
	}
	return &memory{X: mat.NewDense(s.Rows, s.Cols, s.X), y: s.Y, rows: s.Rows, cols: s.Cols}
}

// KNeighborsClassifier はk近傍の重み付き多数決による分類器
type KNeighborsClassifier struct {
	knnParams
	state *model.StateManager

	mem      *memory
	classes_ []int
}

// NewKNeighborsClassifier は新しいk近傍分類器を作成
func NewKNeighborsClassifier(options ...Option) *KNeighborsClassifier {
	knn := &KNeighborsClassifier{knnParams: defaultParams(), state: model.NewStateManager()}
	for _, opt := range options {
		opt(&knn.knnParams)
	}
	return knn
}

// Fit は訓練データを保持する
func (knn *KNeighborsClassifier) Fit(X, y mat.Matrix) error {
	const op = "KNeighborsClassifier.Fit"
	if err := knn.validate(); err != nil {
		return err
	}
	mem, err := newMemory(op, X, y)
	if err != nil {
		return err
	}
	seen := make(map[int]bool)
	for _, v := range mem.y {
		if v != math.Trunc(v) {
			return errors.NewValueError(op, fmt.Sprintf("class labels must be integers, got %g", v))
		}
		seen[int(v)] = true
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	knn.mem = mem
	knn.classes_ = classes
	knn.state.SetDimensions(mem.cols, mem.rows)
	knn.state.SetFitted()
	return nil
}

// PredictProba は近傍の重み付き得票率を返す。列の順序は Classes() に対応
func (knn *KNeighborsClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := knn.state.RequireFitted("KNeighborsClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := knn.state.CheckFeatures("KNeighborsClassifier.PredictProba", cols); err != nil {
		return nil, err
	}
	column := make(map[int]int, len(knn.classes_))
	for k, c := range knn.classes_ {
		column[c] = k
	}

	probas := mat.NewDense(rows, len(knn.classes_), nil)
	parallel.Parallelize(rows, knn.nJobs, func(start, end int) {
		for i := start; i < end; i++ {
			neighbors := knn.mem.kNearest(&knn.knnParams, X, i)
			w := weightsOf(&knn.knnParams, neighbors)
			total := 0.0
			votes := make([]float64, len(knn.classes_))
			for n, nb := range neighbors {
				votes[column[int(knn.mem.y[nb.index])]] += w[n]
				total += w[n]
			}
			for k := range votes {
				probas.Set(i, k, votes[k]/total)
			}
		}
	})
	return probas, nil
}

// Predict は得票率が最大のクラスを返す
func (knn *KNeighborsClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := knn.PredictProba(X)
	if err != nil {
		return nil, err
	}
	rows, nClasses := probas.Dims()
	predictions := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		best := 0
		for k := 1; k < nClasses; k++ {
			if probas.At(i, k) > probas.At(i, best) {
				best = k
			}
		}
		predictions.Set(i, 0, float64(knn.classes_[best]))
	}
	return predictions, nil
}

// Classes は学習したクラスラベルを昇順で返す
func (knn *KNeighborsClassifier) Classes() []int {
	return append([]int(nil), knn.classes_...)
}

// GetParams はハイパーパラメータを返す
func (knn *KNeighborsClassifier) GetParams() map[string]interface{} {
	return knn.getParams()
}

// SetParams はハイパーパラメータを設定する
func (knn *KNeighborsClassifier) SetParams(params map[string]interface{}) error {
	return knn.setParams("KNeighborsClassifier", params)
}

// IsFitted はモデルが学習済みかを返す
func (knn *KNeighborsClassifier) IsFitted() bool {
	return knn.state.IsFitted()
}

type classifierSnapshot struct {
	State   *model.StateManager
	Params  paramsSnapshot
	Memory  *memorySnapshot
	Classes []int
}

// GobEncode は保持している訓練データをgobで書き出す
func (knn *KNeighborsClassifier) GobEncode() ([]byte, error) {
	return model.GobBytes(classifierSnapshot{
		State:   knn.state,
		Params:  knn.snapshot(),
		Memory:  knn.mem.snapshot(),
		Classes: knn.classes_,
	})
}

// GobDecode はGobEncodeで書き出した状態を復元する
func (knn *KNeighborsClassifier) GobDecode(data []byte) error {
	var s classifierSnapshot
	if err := model.FromGobBytes(data, &s); err != nil {
		return err
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	knn.state = s.State
	knn.knnParams = s.Params.restore()
	knn.mem = s.Memory.restore()
	knn.classes_ = s.Classes
	return nil
}

// KNeighborsRegressor はk近傍の目的変数の重み付き平均による回帰器
type KNeighborsRegressor struct {
	knnParams
	state *model.StateManager

	mem *memory
}

// NewKNeighborsRegressor は新しいk近傍回帰器を作成
func NewKNeighborsRegressor(options ...Option) *KNeighborsRegressor {
	knn := &KNeighborsRegressor{knnParams: defaultParams(), state: model.NewStateManager()}
	for _, opt := range options {
		opt(&knn.knnParams)
	}
	return knn
}

// Fit は訓練データを保持する
func (knn *KNeighborsRegressor) Fit(X, y mat.Matrix) error {
	if err := knn.validate(); err != nil {
		return err
	}
	mem, err := newMemory("KNeighborsRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	knn.mem = mem
	knn.state.SetDimensions(mem.cols, mem.rows)
	knn.state.SetFitted()
	return nil
}

// Predict は近傍の目的変数の重み付き平均を返す
func (knn *KNeighborsRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := knn.state.RequireFitted("KNeighborsRegressor", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := knn.state.CheckFeatures("KNeighborsRegressor.Predict", cols); err != nil {
		return nil, err
	}
	predictions := mat.NewDense(rows, 1, nil)
	parallel.Parallelize(rows, knn.nJobs, func(start, end int) {
		for i := start; i < end; i++ {
			neighbors := knn.mem.kNearest(&knn.knnParams, X, i)
			w := weightsOf(&knn.knnParams, neighbors)
			sum, total := 0.0, 0.0
			for n, nb := range neighbors {
				sum += w[n] * knn.mem.y[nb.index]
				total += w[n]
			}
			predictions.Set(i, 0, sum/total)
		}
	})
	return predictions, nil
}

// GetParams はハイパーパラメータを返す
func (knn *KNeighborsRegressor) GetParams() map[string]interface{} {
	return knn.getParams()
}

// SetParams はハイパーパラメータを設定する
func (knn *KNeighborsRegressor) SetParams(params map[string]interface{}) error {
	return knn.setParams("KNeighborsRegressor", params)
}

// IsFitted はモデルが学習済みかを返す
func (knn *KNeighborsRegressor) IsFitted() bool {
	return knn.state.IsFitted()
}

type regressorSnapshot struct {
	State  *model.StateManager
	Params paramsSnapshot
	Memory *memorySnapshot
}

// GobEncode は保持している訓練データをgobで書き出す
func (knn *KNeighborsRegressor) GobEncode() ([]byte, error) {
	return model.GobBytes(regressorSnapshot{State: knn.state, Params: knn.snapshot(), Memory: knn.mem.snapshot()})
}

// GobDecode はGobEncodeで書き出した状態を復元する
func (knn *KNeighborsRegressor) GobDecode(data []byte) error {
	var s regressorSnapshot
	if err := model.FromGobBytes(data, &s); err != nil {
		return err
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	knn.state = s.State
	knn.knnParams = s.Params.restore()
	knn.mem = s.Memory.restore()
	return nil
}

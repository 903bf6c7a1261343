// Package naive_bayes はガウス分布を仮定したナイーブベイズ分類器を提供します。
package naive_bayes

import (
	"encoding/gob"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

func init() {
	gob.Register(&GaussianNB{})
}

// GaussianNB は特徴量ごとに独立な正規分布を仮定するナイーブベイズ分類器。
// PartialFit でバッチごとに平均と分散を更新できる
type GaussianNB struct {
	state *model.StateManager

	// ハイパーパラメータ
	varSmoothing float64

	// 学習済みパラメータ
	classes_    []int
	classCount_ []float64
	theta_      [][]float64 // クラス×特徴量の平均
	var_        [][]float64 // クラス×特徴量の分散（平滑化前）
	epsilon_    float64
}

// Option はGaussianNBの設定オプション
type Option func(*GaussianNB)

// WithVarSmoothing は分散に加える最大分散の割合を設定
func WithVarSmoothing(v float64) Option {
	return func(nb *GaussianNB) {
		nb.varSmoothing = v
	}
}

// NewGaussianNB は新しいGaussianNBを作成
func NewGaussianNB(options ...Option) *GaussianNB {
	nb := &GaussianNB{
		state:        model.NewStateManager(),
		varSmoothing: 1e-9,
	}
	for _, opt := range options {
		opt(nb)
	}
	return nb
}

// Fit は状態をリセットしてから全データで学習する
func (nb *GaussianNB) Fit(X, y mat.Matrix) error {
	rows, _ := y.Dims()
	seen := make(map[int]bool)
	for i := 0; i < rows; i++ {
		seen[int(y.At(i, 0))] = true
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	nb.state.Reset()
	nb.classes_ = nil
	return nb.PartialFit(X, y, classes)
}

// PartialFit はバッチでクラスごとの平均と分散を更新する。
// 最初の呼び出しでは classes に全クラスを渡す必要がある
func (nb *GaussianNB) PartialFit(X, y mat.Matrix, classes []int) error {
	const op = "GaussianNB.PartialFit"
	if nb.varSmoothing < 0 {
		return errors.NewValidationError("var_smoothing", "must be non-negative", nb.varSmoothing)
	}
	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if rows != yRows {
		return errors.NewDimensionError(op, rows, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError(op, 1, yCols, 1)
	}
	if err := errors.CheckMatrix(op, X, rows, cols, 0); err != nil {
		return err
	}

	if !nb.state.IsFitted() {
		if len(classes) == 0 {
			return errors.NewValueError(op, "classes must be passed on the first call to PartialFit")
		}
		nb.classes_ = append([]int(nil), classes...)
		sort.Ints(nb.classes_)
		nb.classCount_ = make([]float64, len(nb.classes_))
		nb.theta_ = make([][]float64, len(nb.classes_))
		nb.var_ = make([][]float64, len(nb.classes_))
		for k := range nb.classes_ {
			nb.theta_[k] = make([]float64, cols)
			nb.var_[k] = make([]float64, cols)
		}
		nb.state.SetDimensions(cols, 0)
	} else if err := nb.state.CheckFeatures(op, cols); err != nil {
		return err
	}

	index := make(map[int]int, len(nb.classes_))
	for k, c := range nb.classes_ {
		index[c] = k
	}
	groups := make([][]int, len(nb.classes_))
	for i := 0; i < rows; i++ {
		v := y.At(i, 0)
		k, ok := index[int(v)]
		if v != math.Trunc(v) || !ok {
			return errors.NewValueError(op, fmt.Sprintf("label %g is not in classes %v", v, nb.classes_))
		}
		groups[k] = append(groups[k], i)
	}

	// 平滑化量はバッチ内の最大分散に比例する
	maxVar := 0.0
	column := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(column, j, X)
		_, v := stat.PopMeanVariance(column, nil)
		maxVar = math.Max(maxVar, v)
	}
	nb.epsilon_ = nb.varSmoothing * maxVar
	if nb.epsilon_ == 0 {
		nb.epsilon_ = math.Max(nb.varSmoothing, 1e-12)
	}

	for k, members := range groups {
		if len(members) == 0 {
			continue
		}
		nNew := float64(len(members))
		nOld := nb.classCount_[k]
		total := nOld + nNew
		values := make([]float64, len(members))
		for j := 0; j < cols; j++ {
			for m, i := range members {
				values[m] = X.At(i, j)
			}
			meanNew, varNew := stat.PopMeanVariance(values, nil)
			meanOld, varOld := nb.theta_[k][j], nb.var_[k][j]
			d := meanOld - meanNew
			nb.theta_[k][j] = (nOld*meanOld + nNew*meanNew) / total
			nb.var_[k][j] = (nOld*varOld + nNew*varNew + nOld*nNew/total*d*d) / total
		}
		nb.classCount_[k] = total
	}

	_, seenRows := nb.state.GetDimensions()
	nb.state.SetDimensions(cols, seenRows+rows)
	nb.state.SetFitted()
	return nil
}

// jointLogLikelihood は log P(c) + Σ log N(x_j | θ_cj, σ²_cj) を返す
func (nb *GaussianNB) jointLogLikelihood(X mat.Matrix, method string) (*mat.Dense, error) {
	if err := nb.state.RequireFitted("GaussianNB", method); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := nb.state.CheckFeatures("GaussianNB."+method, cols); err != nil {
		return nil, err
	}
	total := 0.0
	for _, c := range nb.classCount_ {
		total += c
	}
	jll := mat.NewDense(rows, len(nb.classes_), nil)
	for k := range nb.classes_ {
		logPrior := errors.StabilizeLog(nb.classCount_[k] / total)
		for i := 0; i < rows; i++ {
			ll := logPrior
			for j := 0; j < cols; j++ {
				v := nb.var_[k][j] + nb.epsilon_
				d := X.At(i, j) - nb.theta_[k][j]
				ll -= 0.5*math.Log(2*math.Pi*v) + d*d/(2*v)
			}
			jll.Set(i, k, ll)
		}
	}
	return jll, nil
}

// PredictLogProba は各クラスの対数事後確率を返す
func (nb *GaussianNB) PredictLogProba(X mat.Matrix) (mat.Matrix, error) {
	jll, err := nb.jointLogLikelihood(X, "PredictLogProba")
	if err != nil {
		return nil, err
	}
	rows, nClasses := jll.Dims()
	row := make([]float64, nClasses)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, jll)
		norm := errors.LogSumExp(row)
		for k := range row {
			jll.Set(i, k, row[k]-norm)
		}
	}
	return jll, nil
}

// PredictProba は各クラスの事後確率を返す。列の順序は Classes() に対応
func (nb *GaussianNB) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	logProba, err := nb.PredictLogProba(X)
	if err != nil {
		return nil, err
	}
	probas := mat.DenseCopyOf(logProba)
	probas.Apply(func(_, _ int, v float64) float64 { return math.Exp(v) }, probas)
	return probas, nil
}

// Predict は事後確率が最大のクラスを返す
func (nb *GaussianNB) Predict(X mat.Matrix) (mat.Matrix, error) {
	jll, err := nb.jointLogLikelihood(X, "Predict")
	if err != nil {
		return nil, err
	}
	rows, nClasses := jll.Dims()
	predictions := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		best := 0
		for k := 1; k < nClasses; k++ {
			if jll.At(i, k) > jll.At(i, best) {
				best = k
			}
		}
		predictions.Set(i, 0, float64(nb.classes_[best]))
	}
	return predictions, nil
}

// Score は正解率を返す
func (nb *GaussianNB) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := nb.Predict(X)
	if err != nil {
		return 0, err
	}
	rows, _ := y.Dims()
	correct := 0
	for i := 0; i < rows; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(rows), nil
}

// Classes は学習したクラスラベルを昇順で返す
func (nb *GaussianNB) Classes() []int {
	return append([]int(nil), nb.classes_...)
}

// Theta はクラスごとの特徴量平均を返す
func (nb *GaussianNB) Theta() [][]float64 {
	out := make([][]float64, len(nb.theta_))
	for k := range nb.theta_ {
		out[k] = append([]float64(nil), nb.theta_[k]...)
	}
	return out
}

// GetParams はハイパーパラメータを返す
func (nb *GaussianNB) GetParams() map[string]interface{} {
	return map[string]interface{}{"var_smoothing": nb.varSmoothing}
}

// SetParams はハイパーパラメータを設定する
func (nb *GaussianNB) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		if key != "var_smoothing" {
			return model.UnknownParam("GaussianNB", key, value)
		}
		v, err := model.ParamFloat(key, value)
		if err != nil {
			return err
		}
		nb.varSmoothing = v
	}
	return nil
}

// IsFitted はモデルが学習済みかを返す
func (nb *GaussianNB) IsFitted() bool {
	return nb.state.IsFitted()
}

type gaussianSnapshot struct {
	State        *model.StateManager
	VarSmoothing float64
	Classes      []int
	ClassCount   []float64
	Theta        [][]float64
	Var          [][]float64
	Epsilon      float64
}

// GobEncode は学習済みの統計量をgobで書き出す
func (nb *GaussianNB) GobEncode() ([]byte, error) {
	return model.GobBytes(gaussianSnapshot{
		State:        nb.state,
		VarSmoothing: nb.varSmoothing,
		Classes:      nb.classes_,
		ClassCount:   nb.classCount_,
		Theta:        nb.theta_,
		Var:          nb.var_,
		Epsilon:      nb.epsilon_,
	})
}

// GobDecode はGobEncodeで書き出した統計量を復元する
func (nb *GaussianNB) GobDecode(data []byte) error {
	var s gaussianSnapshot
	if err := model.FromGobBytes(data, &s); err != nil {
		return err
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	nb.state = s.State
	nb.varSmoothing = s.VarSmoothing
	nb.classes_ = s.Classes
	nb.classCount_ = s.ClassCount
	nb.theta_ = s.Theta
	nb.var_ = s.Var
	nb.epsilon_ = s.Epsilon
	return nil
}

// String はモデルの文字列表現を返す
func (nb *GaussianNB) String() string {
	return fmt.Sprintf("GaussianNB(var_smoothing=%g, classes=%d, fitted=%t)", nb.varSmoothing, len(nb.classes_), nb.state.IsFitted())
}

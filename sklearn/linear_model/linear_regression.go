// Package linear_model は最小二乗法・リッジ回帰・ロジスティック回帰を提供します。
package linear_model

import (
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

func init() {
	gob.Register(&LinearRegression{})
	gob.Register(&LogisticRegression{})
}

// LinearRegression は最小二乗法による線形回帰。
// alpha > 0 の場合はL2正則化付き（リッジ回帰）になる
type LinearRegression struct {
	state *model.StateManager

	// ハイパーパラメータ
	fitIntercept bool
	alpha        float64
	positive     bool

	// 学習済みパラメータ
	coef_      []float64
	intercept_ float64
}

// LinearRegressionOption は設定オプション
type LinearRegressionOption func(*LinearRegression)

// NewLinearRegression は新しいLinearRegressionモデルを作成
func NewLinearRegression(options ...LinearRegressionOption) *LinearRegression {
	lr := &LinearRegression{
		state:        model.NewStateManager(),
		fitIntercept: true,
	}
	for _, opt := range options {
		opt(lr)
	}
	return lr
}

// NewRidge はL2正則化付きの線形回帰を作成する
func NewRidge(alpha float64, options ...LinearRegressionOption) *LinearRegression {
	return NewLinearRegression(append([]LinearRegressionOption{WithAlpha(alpha)}, options...)...)
}

// WithLRFitIntercept は切片の学習有無を設定（LinearRegression用）
func WithLRFitIntercept(fit bool) LinearRegressionOption {
	return func(lr *LinearRegression) {
		lr.fitIntercept = fit
	}
}

// WithAlpha はL2正則化の強さを設定
func WithAlpha(alpha float64) LinearRegressionOption {
	return func(lr *LinearRegression) {
		lr.alpha = alpha
	}
}

// WithPositive は係数の正制約を設定
func WithPositive(positive bool) LinearRegressionOption {
	return func(lr *LinearRegression) {
		lr.positive = positive
	}
}

func (lr *LinearRegression) name() string {
	if lr.alpha > 0 {
		return "Ridge"
	}
	return "LinearRegression"
}

// Fit はモデルを訓練データで学習
func (lr *LinearRegression) Fit(X, y mat.Matrix) error {
	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	op := lr.name() + ".Fit"

	if rows == 0 || cols == 0 {
		return errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if rows != yRows {
		return errors.NewDimensionError(op, rows, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError(op, 1, yCols, 1)
	}
	if lr.alpha < 0 {
		return errors.NewValidationError("alpha", "must be non-negative", lr.alpha)
	}
	if err := errors.CheckMatrix(op, X, rows, cols, 0); err != nil {
		return err
	}

	var err error
	if lr.alpha > 0 {
		err = lr.fitRidge(X, y)
	} else {
		err = lr.fitOLS(X, y)
	}
	if err != nil {
		return err
	}

	// 正の制約がある場合
	if lr.positive {
		for i := range lr.coef_ {
			if lr.coef_[i] < 0 {
				lr.coef_[i] = 0
			}
		}
	}
	for _, c := range lr.coef_ {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return errors.NewNumericalInstabilityError(op, lr.coef_, 0)
		}
	}

	lr.state.SetDimensions(cols, rows)
	lr.state.SetFitted()
	return nil
}

// fitOLS はQR分解で最小二乗解を求める
func (lr *LinearRegression) fitOLS(X, y mat.Matrix) error {
	rows, cols := X.Dims()

	// 切片を学習する場合は [1 | X] の行列を作る
	offset := 0
	if lr.fitIntercept {
		offset = 1
	}
	XFit := mat.NewDense(rows, cols+offset, nil)
	for i := 0; i < rows; i++ {
		if lr.fitIntercept {
			XFit.Set(i, 0, 1.0)
		}
		for j := 0; j < cols; j++ {
			XFit.Set(i, j+offset, X.At(i, j))
		}
	}
	if rows < cols+offset {
		return errors.NewModelError(lr.name()+".Fit",
			fmt.Sprintf("need at least %d samples for %d parameters", cols+offset, cols+offset), errors.ErrSingularMatrix)
	}

	var qr mat.QR
	qr.Factorize(XFit)
	coefficients := mat.NewDense(cols+offset, 1, nil)
	if err := qr.SolveTo(coefficients, false, y); err != nil {
		return errors.NewModelError(lr.name()+".Fit", err.Error(), errors.ErrSingularMatrix)
	}

	lr.intercept_ = 0
	if lr.fitIntercept {
		lr.intercept_ = coefficients.At(0, 0)
	}
	lr.coef_ = make([]float64, cols)
	for j := 0; j < cols; j++ {
		lr.coef_[j] = coefficients.At(j+offset, 0)
	}
	return nil
}

// fitRidge は中心化したデータで (XᵀX + αI) w = Xᵀy を解く。切片は正則化しない
func (lr *LinearRegression) fitRidge(X, y mat.Matrix) error {
	rows, cols := X.Dims()

	xMean := make([]float64, cols)
	yMean := 0.0
	if lr.fitIntercept {
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				xMean[j] += X.At(i, j)
			}
			yMean += y.At(i, 0)
		}
		for j := range xMean {
			xMean[j] /= float64(rows)
		}
		yMean /= float64(rows)
	}

	Xc := mat.NewDense(rows, cols, nil)
	yc := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			Xc.Set(i, j, X.At(i, j)-xMean[j])
		}
		yc.SetVec(i, y.At(i, 0)-yMean)
	}

	var gram mat.SymDense
	gram.SymOuterK(1, Xc.T())
	for j := 0; j < cols; j++ {
		gram.SetSym(j, j, gram.At(j, j)+lr.alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(Xc.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return errors.NewModelError(lr.name()+".Fit", "gram matrix is not positive definite", errors.ErrSingularMatrix)
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &rhs); err != nil {
		return errors.NewModelError(lr.name()+".Fit", err.Error(), errors.ErrSingularMatrix)
	}

	lr.coef_ = make([]float64, cols)
	lr.intercept_ = yMean
	for j := 0; j < cols; j++ {
		lr.coef_[j] = w.AtVec(j)
		lr.intercept_ -= xMean[j] * lr.coef_[j]
	}
	return nil
}

// Predict は入力データに対する予測を行う
func (lr *LinearRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.state.RequireFitted(lr.name(), "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := lr.state.CheckFeatures(lr.name()+".Predict", cols); err != nil {
		return nil, err
	}

	predictions := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		pred := lr.intercept_
		for j := 0; j < cols; j++ {
			pred += X.At(i, j) * lr.coef_[j]
		}
		predictions.Set(i, 0, pred)
	}
	return predictions, nil
}

// Score はモデルの決定係数（R²）を計算
func (lr *LinearRegression) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0, err
	}

	rows, _ := y.Dims()
	var yMean float64
	for i := 0; i < rows; i++ {
		yMean += y.At(i, 0)
	}
	yMean /= float64(rows)

	var ssTot, ssRes float64
	for i := 0; i < rows; i++ {
		yi := y.At(i, 0)
		predi := predictions.At(i, 0)
		ssTot += (yi - yMean) * (yi - yMean)
		ssRes += (yi - predi) * (yi - predi)
	}
	if ssTot == 0 {
		return 0, errors.NewValueError(lr.name()+".Score", "Cannot compute score with zero variance in y_true")
	}
	return 1.0 - (ssRes / ssTot), nil
}

// Coef は学習された重み係数を返す
func (lr *LinearRegression) Coef() []float64 {
	if lr.coef_ == nil {
		return nil
	}
	return append([]float64(nil), lr.coef_...)
}

// Intercept は学習された切片を返す
func (lr *LinearRegression) Intercept() float64 {
	return lr.intercept_
}

// FeatureImportances は係数の絶対値を返す
func (lr *LinearRegression) FeatureImportances() ([]float64, error) {
	if err := lr.state.RequireFitted(lr.name(), "FeatureImportances"); err != nil {
		return nil, err
	}
	imp := make([]float64, len(lr.coef_))
	for j, c := range lr.coef_ {
		imp[j] = math.Abs(c)
	}
	return imp, nil
}

// GetParams はハイパーパラメータを返す
func (lr *LinearRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"fit_intercept": lr.fitIntercept,
		"alpha":         lr.alpha,
		"positive":      lr.positive,
	}
}

// SetParams はハイパーパラメータを設定する
func (lr *LinearRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "fit_intercept":
			lr.fitIntercept, err = model.ParamBool(key, value)
		case "alpha":
			lr.alpha, err = model.ParamFloat(key, value)
		case "positive":
			lr.positive, err = model.ParamBool(key, value)
		default:
			err = model.UnknownParam(lr.name(), key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// IsFitted はモデルが学習済みかを返す
func (lr *LinearRegression) IsFitted() bool {
	return lr.state.IsFitted()
}

type linearSnapshot struct {
	State        *model.StateManager
	FitIntercept bool
	Alpha        float64
	Positive     bool
	Coef         []float64
	Intercept    float64
}

// GobEncode は学習済みの状態をgobで書き出す
func (lr *LinearRegression) GobEncode() ([]byte, error) {
	return model.GobBytes(linearSnapshot{
		State:        lr.state,
		FitIntercept: lr.fitIntercept,
		Alpha:        lr.alpha,
		Positive:     lr.positive,
		Coef:         lr.coef_,
		Intercept:    lr.intercept_,
	})
}

// GobDecode はGobEncodeで書き出した状態を復元する
func (lr *LinearRegression) GobDecode(data []byte) error {
	var s linearSnapshot
	if err := model.FromGobBytes(data, &s); err != nil {
		return err
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	lr.state = s.State
	lr.fitIntercept = s.FitIntercept
	lr.alpha = s.Alpha
	lr.positive = s.Positive
	lr.coef_ = s.Coef
	lr.intercept_ = s.Intercept
	return nil
}

// String はモデルの文字列表現を返す
func (lr *LinearRegression) String() string {
	nf, _ := lr.state.GetDimensions()
	if !lr.state.IsFitted() {
		return fmt.Sprintf("%s(fit_intercept=%t, alpha=%g, positive=%t)", lr.name(), lr.fitIntercept, lr.alpha, lr.positive)
	}
	return fmt.Sprintf("%s(fit_intercept=%t, alpha=%g, n_features=%d, fitted=true)", lr.name(), lr.fitIntercept, lr.alpha, nf)
}

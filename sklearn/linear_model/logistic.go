package linear_model

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// LogisticRegression は勾配降下法で学習するロジスティック回帰。
// 2クラスは単一のシグモイド、多クラスはone-vs-restまたは多項（softmax）で学習する
type LogisticRegression struct {
	state *model.StateManager

	// ハイパーパラメータ
	penalty      string  // "l2", "l1", "none"
	C            float64 // 正則化の強さの逆数
	fitIntercept bool
	randomState  uint64
	maxIter      int
	multiClass   string // "ovr", "multinomial"
	tol          float64

	// 学習済みパラメータ
	coef_      [][]float64 // 2クラスは1行、多クラスはクラス数の行
	intercept_ []float64
	classes_   []int
	nClasses_  int
	nIter_     []int
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		maxIter:      100,
		multiClass:   "ovr",
		tol:          1e-4,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.penalty = penalty }
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.C = c }
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.fitIntercept = fit }
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.maxIter = maxIter }
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.tol = tol }
}

// WithLRMultiClass sets the multiclass strategy ("ovr" or "multinomial")
func WithLRMultiClass(strategy string) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.multiClass = strategy }
}

// WithLRRandomState sets the random seed
func WithLRRandomState(seed uint64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.randomState = seed }
}

func (lr *LogisticRegression) validate() error {
	switch lr.penalty {
	case "l2", "l1", "none":
	default:
		return errors.NewValidationError("penalty", "must be l2, l1 or none", lr.penalty)
	}
	switch lr.multiClass {
	case "ovr", "multinomial":
	default:
		return errors.NewValidationError("multi_class", "must be ovr or multinomial", lr.multiClass)
	}
	if lr.C <= 0 {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	if lr.maxIter < 1 {
		return errors.NewValidationError("max_iter", "must be at least 1", lr.maxIter)
	}
	return nil
}

// Fit trains the logistic regression model
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()

	if nSamples == 0 || nFeatures == 0 {
		return errors.NewModelError("LogisticRegression.Fit", "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError("LogisticRegression.Fit", nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewDimensionError("LogisticRegression.Fit", 1, yCols, 1)
	}
	if err := lr.validate(); err != nil {
		return err
	}
	if err := errors.CheckMatrix("LogisticRegression.Fit", X, nSamples, nFeatures, 0); err != nil {
		return err
	}

	lr.extractClasses(y)
	if lr.nClasses_ < 2 {
		return errors.NewValueError("LogisticRegression.Fit", fmt.Sprintf("needs samples of at least 2 classes, got %d", lr.nClasses_))
	}
	lr.initializeWeights(nFeatures)

	switch {
	case lr.nClasses_ == 2:
		lr.fitBinary(X, lr.binaryTarget(y, lr.classes_[1]), 0)
	case lr.multiClass == "multinomial":
		lr.fitMultinomial(X, y)
	default:
		for k, class := range lr.classes_ {
			lr.fitBinary(X, lr.binaryTarget(y, class), k)
		}
	}

	for k := range lr.coef_ {
		if err := errors.CheckScalar("LogisticRegression.Fit", lr.intercept_[k], lr.nIter_[k]); err != nil {
			return err
		}
		for _, w := range lr.coef_[k] {
			if err := errors.CheckScalar("LogisticRegression.Fit", w, lr.nIter_[k]); err != nil {
				return err
			}
		}
		if lr.nIter_[k] >= lr.maxIter {
			errors.Warn(errors.NewConvergenceWarning("LogisticRegression", lr.maxIter, ""))
		}
	}

	lr.state.SetDimensions(nFeatures, nSamples)
	lr.state.SetFitted()
	return nil
}

// extractClasses identifies unique class labels in ascending order
func (lr *LogisticRegression) extractClasses(y mat.Matrix) {
	rows, _ := y.Dims()
	seen := make(map[int]bool)
	lr.classes_ = lr.classes_[:0]
	for i := 0; i < rows; i++ {
		label := int(y.At(i, 0))
		if !seen[label] {
			seen[label] = true
			lr.classes_ = append(lr.classes_, label)
		}
	}
	sort.Ints(lr.classes_)
	lr.nClasses_ = len(lr.classes_)
}

// initializeWeights は重みを小さな乱数で初期化する
func (lr *LogisticRegression) initializeWeights(nFeatures int) {
	rows := 1
	if lr.nClasses_ > 2 {
		rows = lr.nClasses_
	}
	r := rand.New(rand.NewPCG(lr.randomState, lr.randomState^0x9e3779b97f4a7c15))
	lr.coef_ = make([][]float64, rows)
	for k := range lr.coef_ {
		lr.coef_[k] = make([]float64, nFeatures)
		for j := range lr.coef_[k] {
			lr.coef_[k][j] = r.NormFloat64() * 0.01
		}
	}
	lr.intercept_ = make([]float64, rows)
	lr.nIter_ = make([]int, rows)
}

func (lr *LogisticRegression) binaryTarget(y mat.Matrix, positive int) []float64 {
	rows, _ := y.Dims()
	out := make([]float64, rows)
	for i := range out {
		if int(y.At(i, 0)) == positive {
			out[i] = 1
		}
	}
	return out
}

// regularize は正則化項の勾配を加える
func (lr *LogisticRegression) regularize(grad, weights []float64) {
	if lr.penalty != "l2" {
		return
	}
	lambda := 1.0 / lr.C
	for j := range weights {
		grad[j] += lambda * weights[j]
	}
}

// proximal はL1正則化のソフト閾値処理を行う
func (lr *LogisticRegression) proximal(weights []float64, step float64) {
	if lr.penalty != "l1" {
		return
	}
	t := step / lr.C
	for j, w := range weights {
		switch {
		case w > t:
			weights[j] = w - t
		case w < -t:
			weights[j] = w + t
		default:
			weights[j] = 0
		}
	}
}

// fitBinary は coef_[k] を2値のロジスティック損失で学習する
func (lr *LogisticRegression) fitBinary(X mat.Matrix, target []float64, k int) {
	nSamples, nFeatures := X.Dims()
	weights := lr.coef_[k]
	intercept := &lr.intercept_[k]

	for iter := 0; iter < lr.maxIter; iter++ {
		gradWeights := make([]float64, nFeatures)
		gradIntercept := 0.0
		for i := 0; i < nSamples; i++ {
			z := *intercept
			for j := 0; j < nFeatures; j++ {
				z += X.At(i, j) * weights[j]
			}
			diff := sigmoid(z) - target[i]
			gradIntercept += diff
			for j := 0; j < nFeatures; j++ {
				gradWeights[j] += diff * X.At(i, j)
			}
		}
		for j := range gradWeights {
			gradWeights[j] /= float64(nSamples)
		}
		gradIntercept /= float64(nSamples)
		lr.regularize(gradWeights, weights)

		learningRate := 1.0 / (1.0 + 0.1*float64(iter))
		for j := range weights {
			weights[j] -= learningRate * gradWeights[j]
		}
		lr.proximal(weights, learningRate/float64(nSamples))
		if lr.fitIntercept {
			*intercept -= learningRate * gradIntercept
		}
		lr.nIter_[k] = iter + 1

		if maxAbs(gradWeights, gradIntercept) < lr.tol {
			break
		}
	}
}

// fitMultinomial はsoftmaxの交差エントロピーを全クラス同時に最小化する
func (lr *LogisticRegression) fitMultinomial(X, y mat.Matrix) {
	nSamples, nFeatures := X.Dims()
	classIndex := make(map[int]int, lr.nClasses_)
	for k, c := range lr.classes_ {
		classIndex[c] = k
	}

	scores := make([]float64, lr.nClasses_)
	for iter := 0; iter < lr.maxIter; iter++ {
		grad := make([][]float64, lr.nClasses_)
		for k := range grad {
			grad[k] = make([]float64, nFeatures)
		}
		gradIntercept := make([]float64, lr.nClasses_)

		for i := 0; i < nSamples; i++ {
			lr.softmax(X, i, scores)
			truth := classIndex[int(y.At(i, 0))]
			for k := range scores {
				diff := scores[k]
				if k == truth {
					diff -= 1
				}
				gradIntercept[k] += diff
				for j := 0; j < nFeatures; j++ {
					grad[k][j] += diff * X.At(i, j)
				}
			}
		}

		learningRate := 1.0 / (1.0 + 0.1*float64(iter))
		worst := 0.0
		for k := range grad {
			for j := range grad[k] {
				grad[k][j] /= float64(nSamples)
			}
			gradIntercept[k] /= float64(nSamples)
			lr.regularize(grad[k], lr.coef_[k])
			for j := range lr.coef_[k] {
				lr.coef_[k][j] -= learningRate * grad[k][j]
			}
			lr.proximal(lr.coef_[k], learningRate/float64(nSamples))
			if lr.fitIntercept {
				lr.intercept_[k] -= learningRate * gradIntercept[k]
			}
			worst = math.Max(worst, maxAbs(grad[k], gradIntercept[k]))
		}
		for k := range lr.nIter_ {
			lr.nIter_[k] = iter + 1
		}
		if worst < lr.tol {
			break
		}
	}
}

func maxAbs(grad []float64, extra float64) float64 {
	m := math.Abs(extra)
	for _, g := range grad {
		m = math.Max(m, math.Abs(g))
	}
	return m
}

// softmax は i 行目のクラス確率を out に書き込む
func (lr *LogisticRegression) softmax(X mat.Matrix, i int, out []float64) {
	_, nFeatures := X.Dims()
	maxScore := math.Inf(-1)
	for k := range out {
		score := lr.intercept_[k]
		for j := 0; j < nFeatures; j++ {
			score += X.At(i, j) * lr.coef_[k][j]
		}
		out[k] = score
		maxScore = math.Max(maxScore, score)
	}
	sum := 0.0
	for k := range out {
		out[k] = math.Exp(out[k] - maxScore)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
}

func (lr *LogisticRegression) checkPredict(X mat.Matrix, method string) error {
	if err := lr.state.RequireFitted("LogisticRegression", method); err != nil {
		return err
	}
	_, cols := X.Dims()
	return lr.state.CheckFeatures("LogisticRegression."+method, cols)
}

// Predict makes predictions for input data
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}
	nSamples, _ := X.Dims()
	predictions := mat.NewDense(nSamples, 1, nil)
	for i := 0; i < nSamples; i++ {
		best := 0
		for k := 1; k < lr.nClasses_; k++ {
			if probas.At(i, k) > probas.At(i, best) {
				best = k
			}
		}
		predictions.Set(i, 0, float64(lr.classes_[best]))
	}
	return predictions, nil
}

// PredictProba returns probability estimates for each class
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.checkPredict(X, "PredictProba"); err != nil {
		return nil, err
	}

	nSamples, nFeatures := X.Dims()
	probas := mat.NewDense(nSamples, lr.nClasses_, nil)
	row := make([]float64, lr.nClasses_)
	for i := 0; i < nSamples; i++ {
		switch {
		case lr.nClasses_ == 2:
			z := lr.intercept_[0]
			for j := 0; j < nFeatures; j++ {
				z += X.At(i, j) * lr.coef_[0][j]
			}
			p := sigmoid(z)
			row[0], row[1] = 1-p, p
		case lr.multiClass == "multinomial":
			lr.softmax(X, i, row)
		default:
			// OvRの各シグモイドを正規化する
			sum := 0.0
			for k := range row {
				z := lr.intercept_[k]
				for j := 0; j < nFeatures; j++ {
					z += X.At(i, j) * lr.coef_[k][j]
				}
				row[k] = sigmoid(z)
				sum += row[k]
			}
			for k := range row {
				row[k] /= sum
			}
		}
		probas.SetRow(i, row)
	}
	return probas, nil
}

// Classes はPredictProbaの列に対応するクラス符号を返す
func (lr *LogisticRegression) Classes() []int {
	return append([]int(nil), lr.classes_...)
}

// FeatureImportances は係数の絶対値（多クラスはクラス平均）を返す
func (lr *LogisticRegression) FeatureImportances() ([]float64, error) {
	if err := lr.state.RequireFitted("LogisticRegression", "FeatureImportances"); err != nil {
		return nil, err
	}
	nFeatures, _ := lr.state.GetDimensions()
	imp := make([]float64, nFeatures)
	for _, w := range lr.coef_ {
		for j := range imp {
			imp[j] += math.Abs(w[j]) / float64(len(lr.coef_))
		}
	}
	return imp, nil
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0.0
	}
	nSamples, _ := X.Dims()
	correct := 0
	for i := 0; i < nSamples; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(nSamples)
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"random_state":  lr.randomState,
		"max_iter":      lr.maxIter,
		"multi_class":   lr.multiClass,
		"tol":           lr.tol,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "penalty":
			lr.penalty, err = model.ParamString(key, value)
		case "C":
			lr.C, err = model.ParamFloat(key, value)
		case "fit_intercept":
			lr.fitIntercept, err = model.ParamBool(key, value)
		case "random_state":
			lr.randomState, err = model.ParamSeed(key, value)
		case "max_iter":
			lr.maxIter, err = model.ParamInt(key, value)
		case "multi_class":
			lr.multiClass, err = model.ParamString(key, value)
		case "tol":
			lr.tol, err = model.ParamFloat(key, value)
		default:
			err = model.UnknownParam("LogisticRegression", key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type logisticSnapshot struct {
	State     *model.StateManager
	Params    logisticParams
	Coef      [][]float64
	Intercept []float64
	Classes   []int
	NIter     []int
}

type logisticParams struct {
	Penalty      string
	C            float64
	FitIntercept bool
	RandomState  uint64
	MaxIter      int
	MultiClass   string
	Tol          float64
}

// GobEncode は学習済みの状態をgobで書き出す
func (lr *LogisticRegression) GobEncode() ([]byte, error) {
	return model.GobBytes(logisticSnapshot{
		State: lr.state,
		Params: logisticParams{
			Penalty: lr.penalty, C: lr.C, FitIntercept: lr.fitIntercept, RandomState: lr.randomState,
			MaxIter: lr.maxIter, MultiClass: lr.multiClass, Tol: lr.tol,
		},
		Coef:      lr.coef_,
		Intercept: lr.intercept_,
		Classes:   lr.classes_,
		NIter:     lr.nIter_,
	})
}

// GobDecode はGobEncodeで書き出した状態を復元する
func (lr *LogisticRegression) GobDecode(data []byte) error {
	var s logisticSnapshot
	if err := model.FromGobBytes(data, &s); err != nil {
		return err
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	lr.state = s.State
	lr.penalty, lr.C, lr.fitIntercept = s.Params.Penalty, s.Params.C, s.Params.FitIntercept
	lr.randomState, lr.maxIter, lr.multiClass, lr.tol = s.Params.RandomState, s.Params.MaxIter, s.Params.MultiClass, s.Params.Tol
	lr.coef_ = s.Coef
	lr.intercept_ = s.Intercept
	lr.classes_ = s.Classes
	lr.nClasses_ = len(s.Classes)
	lr.nIter_ = s.NIter
	return nil
}

// sigmoid computes the sigmoid function
func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + errors.StabilizeExp(-z))
}

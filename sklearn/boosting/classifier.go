package boosting

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/sklearn/tree"
)

// GradientBoostingClassifier は対数損失の勾配ブースティング分類器。
// 2クラスでは1本のロジット、3クラス以上ではクラスごとのロジットをsoftmaxでまとめる
type GradientBoostingClassifier struct {
	boostParams
	state *model.StateManager

	classes_   []int
	init_      []float64
	trees      [][]*tree.DecisionTreeRegressor // 段×ロジット
	trainLoss_ []float64
}

// NewGradientBoostingClassifier は新しい勾配ブースティング分類器を作成
func NewGradientBoostingClassifier(options ...Option) *GradientBoostingClassifier {
	gb := &GradientBoostingClassifier{boostParams: defaultParams(), state: model.NewStateManager()}
	for _, opt := range options {
		opt(&gb.boostParams)
	}
	return gb
}

func (gb *GradientBoostingClassifier) nLogits() int {
	if len(gb.classes_) == 2 {
		return 1
	}
	return len(gb.classes_)
}

// Fit は事前確率の対数オッズから始めて、各段で負の勾配に木を当てはめる
func (gb *GradientBoostingClassifier) Fit(X, y mat.Matrix) error {
	const op = "GradientBoostingClassifier.Fit"
	if err := gb.validate(); err != nil {
		return err
	}
	rows, cols, err := checkInput(op, X, y)
	if err != nil {
		return err
	}

	index := make(map[int]int)
	for i := 0; i < rows; i++ {
		v := y.At(i, 0)
		if v != math.Trunc(v) {
			return errors.NewValueError(op, fmt.Sprintf("class labels must be integers, got %g", v))
		}
		index[int(v)] = 0
	}
	if len(index) < 2 {
		return errors.NewValueError(op, "the number of classes has to be greater than one")
	}
	classes := make([]int, 0, len(index))
	for c := range index {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	for k, c := range classes {
		index[c] = k
	}
	codes := make([]int, rows)
	counts := make([]float64, len(classes))
	for i := range codes {
		codes[i] = index[int(y.At(i, 0))]
		counts[codes[i]]++
	}
	gb.classes_ = classes
	K := gb.nLogits()

	// 初期値は事前確率の対数オッズ
	initial := make([]float64, K)
	if K == 1 {
		p := errors.ClipValue(counts[1]/float64(rows), 1e-15, 1-1e-15)
		initial[0] = math.Log(p / (1 - p))
	} else {
		for k := range initial {
			initial[k] = errors.StabilizeLog(counts[k] / float64(rows))
		}
	}

	F := mat.NewDense(rows, K, nil)
	for i := 0; i < rows; i++ {
		F.SetRow(i, initial)
	}
	residuals := make([]float64, rows)
	sampler := newStageSampler(&gb.boostParams, rows)
	trees := make([][]*tree.DecisionTreeRegressor, 0, gb.nEstimators)
	losses := make([]float64, 0, gb.nEstimators)

	for m := 0; m < gb.nEstimators; m++ {
		probas := gb.probabilities(F)
		stageRows := sampler.next()
		stage := make([]*tree.DecisionTreeRegressor, K)
		for k := 0; k < K; k++ {
			column := k
			if K == 1 {
				column = 1
			}
			for i := range residuals {
				target := 0.0
				if codes[i] == column {
					target = 1
				}
				residuals[i] = target - probas.At(i, column)
			}
			dt, err := gb.fitStage(op, X, residuals, stageRows, m)
			if err != nil {
				return err
			}
			stage[k] = dt
		}
		for k, dt := range stage {
			pred, err := dt.Predict(X)
			if err != nil {
				return err
			}
			for i := 0; i < rows; i++ {
				F.Set(i, k, F.At(i, k)+gb.learningRate*pred.At(i, 0))
			}
		}
		trees = append(trees, stage)
		losses = append(losses, logLoss(gb.probabilities(F), codes))
	}

	gb.init_ = initial
	gb.trees = trees
	gb.trainLoss_ = losses
	gb.state.SetDimensions(cols, rows)
	gb.state.SetFitted()
	return nil
}

// probabilities はロジット行列からクラス確率を計算する
func (gb *GradientBoostingClassifier) probabilities(F *mat.Dense) *mat.Dense {
	rows, K := F.Dims()
	probas := mat.NewDense(rows, len(gb.classes_), nil)
	logits := make([]float64, K)
	for i := 0; i < rows; i++ {
		if K == 1 {
			p := 1 / (1 + errors.StabilizeExp(-F.At(i, 0)))
			probas.Set(i, 0, 1-p)
			probas.Set(i, 1, p)
			continue
		}
		mat.Row(logits, i, F)
		norm := errors.LogSumExp(logits)
		for k := range logits {
			probas.Set(i, k, math.Exp(logits[k]-norm))
		}
	}
	return probas
}

func logLoss(probas *mat.Dense, codes []int) float64 {
	loss := 0.0
	for i, c := range codes {
		loss -= errors.StabilizeLog(probas.At(i, c))
	}
	return loss / float64(len(codes))
}

// decisionFunction は各行のロジットを返す
func (gb *GradientBoostingClassifier) decisionFunction(X mat.Matrix, method string) (*mat.Dense, error) {
	if err := gb.state.RequireFitted("GradientBoostingClassifier", method); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := gb.state.CheckFeatures("GradientBoostingClassifier."+method, cols); err != nil {
		return nil, err
	}
	F := mat.NewDense(rows, len(gb.init_), nil)
	for i := 0; i < rows; i++ {
		F.SetRow(i, gb.init_)
	}
	for _, stage := range gb.trees {
		for k, dt := range stage {
			pred, err := dt.Predict(X)
			if err != nil {
				return nil, err
			}
			for i := 0; i < rows; i++ {
				F.Set(i, k, F.At(i, k)+gb.learningRate*pred.At(i, 0))
			}
		}
	}
	return F, nil
}

// PredictProba は各クラスの確率を返す。列の順序は Classes() に対応
func (gb *GradientBoostingClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	F, err := gb.decisionFunction(X, "PredictProba")
	if err != nil {
		return nil, err
	}
	return gb.probabilities(F), nil
}

// Predict は確率が最大のクラスを返す
func (gb *GradientBoostingClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	F, err := gb.decisionFunction(X, "Predict")
	if err != nil {
		return nil, err
	}
	probas := gb.probabilities(F)
	rows, nClasses := probas.Dims()
	predictions := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		best := 0
		for k := 1; k < nClasses; k++ {
			if probas.At(i, k) > probas.At(i, best) {
				best = k
			}
		}
		predictions.Set(i, 0, float64(gb.classes_[best]))
	}
	return predictions, nil
}

// Classes は学習したクラスラベルを昇順で返す
func (gb *GradientBoostingClassifier) Classes() []int {
	return append([]int(nil), gb.classes_...)
}

// FeatureImportances は全ての木の重要度の平均を返す
func (gb *GradientBoostingClassifier) FeatureImportances() ([]float64, error) {
	if err := gb.state.RequireFitted("GradientBoostingClassifier", "FeatureImportances"); err != nil {
		return nil, err
	}
	nFeatures, _ := gb.state.GetDimensions()
	var all []*tree.DecisionTreeRegressor
	for _, stage := range gb.trees {
		all = append(all, stage...)
	}
	return importancesOf(nFeatures, all)
}

// TrainLoss は各段の訓練データでの対数損失を返す
func (gb *GradientBoostingClassifier) TrainLoss() []float64 {
	return append([]float64(nil), gb.trainLoss_...)
}

// GetParams はハイパーパラメータを返す
func (gb *GradientBoostingClassifier) GetParams() map[string]interface{} {
	return gb.getParams()
}

// SetParams はハイパーパラメータを設定する
func (gb *GradientBoostingClassifier) SetParams(params map[string]interface{}) error {
	return gb.setParams("GradientBoostingClassifier", params)
}

// IsFitted はモデルが学習済みかを返す
func (gb *GradientBoostingClassifier) IsFitted() bool {
	return gb.state.IsFitted()
}

type classifierSnapshot struct {
	State     *model.StateManager
	Params    paramsSnapshot
	Classes   []int
	Init      []float64
	Trees     [][]*tree.DecisionTreeRegressor
	TrainLoss []float64
}

// GobEncode は学習済みのモデルをgobで書き出す
func (gb *GradientBoostingClassifier) GobEncode() ([]byte, error) {
	return model.GobBytes(classifierSnapshot{
		State:     gb.state,
		Params:    gb.snapshot(),
		Classes:   gb.classes_,
		Init:      gb.init_,
		Trees:     gb.trees,
		TrainLoss: gb.trainLoss_,
	})
}

// GobDecode はGobEncodeで書き出したモデルを復元する
func (gb *GradientBoostingClassifier) GobDecode(data []byte) error {
	var s classifierSnapshot
	if err := model.FromGobBytes(data, &s); err != nil {
		return err
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	gb.state = s.State
	gb.boostParams = s.Params.restore()
	gb.classes_ = s.Classes
	gb.init_ = s.Init
	gb.trees = s.Trees
	gb.trainLoss_ = s.TrainLoss
	return nil
}

// String はモデルの文字列表現を返す
func (gb *GradientBoostingClassifier) String() string {
	return fmt.Sprintf("GradientBoostingClassifier(n_estimators=%d, learning_rate=%g, max_depth=%d, fitted=%t)",
		gb.nEstimators, gb.learningRate, gb.maxDepth, gb.state.IsFitted())
}

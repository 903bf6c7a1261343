package boosting

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/sklearn/tree"
)

// GradientBoostingRegressor は二乗誤差の勾配ブースティング回帰器
type GradientBoostingRegressor struct {
	boostParams
	state *model.StateManager

	init_      float64
	trees      []*tree.DecisionTreeRegressor
	trainLoss_ []float64
}

// NewGradientBoostingRegressor は新しい勾配ブースティング回帰器を作成
func NewGradientBoostingRegressor(options ...Option) *GradientBoostingRegressor {
	gb := &GradientBoostingRegressor{boostParams: defaultParams(), state: model.NewStateManager()}
	for _, opt := range options {
		opt(&gb.boostParams)
	}
	return gb
}

// Fit は平均値から始めて残差に木を順に当てはめる
func (gb *GradientBoostingRegressor) Fit(X, y mat.Matrix) error {
	const op = "GradientBoostingRegressor.Fit"
	if err := gb.validate(); err != nil {
		return err
	}
	rows, cols, err := checkInput(op, X, y)
	if err != nil {
		return err
	}

	target := make([]float64, rows)
	mean := 0.0
	for i := range target {
		target[i] = y.At(i, 0)
		mean += target[i]
	}
	mean /= float64(rows)

	F := make([]float64, rows)
	for i := range F {
		F[i] = mean
	}
	residuals := make([]float64, rows)
	sampler := newStageSampler(&gb.boostParams, rows)
	trees := make([]*tree.DecisionTreeRegressor, 0, gb.nEstimators)
	losses := make([]float64, 0, gb.nEstimators)

	for m := 0; m < gb.nEstimators; m++ {
		for i := range residuals {
			residuals[i] = target[i] - F[i]
		}
		dt, err := gb.fitStage(op, X, residuals, sampler.next(), m)
		if err != nil {
			return err
		}
		pred, err := dt.Predict(X)
		if err != nil {
			return err
		}
		loss := 0.0
		for i := range F {
			F[i] += gb.learningRate * pred.At(i, 0)
			d := target[i] - F[i]
			loss += d * d
		}
		trees = append(trees, dt)
		losses = append(losses, loss/float64(rows))
	}

	gb.init_ = mean
	gb.trees = trees
	gb.trainLoss_ = losses
	gb.state.SetDimensions(cols, rows)
	gb.state.SetFitted()
	return nil
}

// Predict は初期値と全段の予測の和を返す
func (gb *GradientBoostingRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := gb.state.RequireFitted("GradientBoostingRegressor", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := gb.state.CheckFeatures("GradientBoostingRegressor.Predict", cols); err != nil {
		return nil, err
	}
	predictions := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		predictions.Set(i, 0, gb.init_)
	}
	for _, dt := range gb.trees {
		p, err := dt.Predict(X)
		if err != nil {
			return nil, err
		}
		for i := 0; i < rows; i++ {
			predictions.Set(i, 0, predictions.At(i, 0)+gb.learningRate*p.At(i, 0))
		}
	}
	return predictions, nil
}

// FeatureImportances は全ての木の分散減少の平均を返す
func (gb *GradientBoostingRegressor) FeatureImportances() ([]float64, error) {
	if err := gb.state.RequireFitted("GradientBoostingRegressor", "FeatureImportances"); err != nil {
		return nil, err
	}
	nFeatures, _ := gb.state.GetDimensions()
	return importancesOf(nFeatures, gb.trees)
}

// TrainLoss は各段の訓練データでの平均二乗誤差を返す
func (gb *GradientBoostingRegressor) TrainLoss() []float64 {
	return append([]float64(nil), gb.trainLoss_...)
}

// GetParams はハイパーパラメータを返す
func (gb *GradientBoostingRegressor) GetParams() map[string]interface{} {
	return gb.getParams()
}

// SetParams はハイパーパラメータを設定する
func (gb *GradientBoostingRegressor) SetParams(params map[string]interface{}) error {
	return gb.setParams("GradientBoostingRegressor", params)
}

// IsFitted はモデルが学習済みかを返す
func (gb *GradientBoostingRegressor) IsFitted() bool {
	return gb.state.IsFitted()
}

type regressorSnapshot struct {
	State     *model.StateManager
	Params    paramsSnapshot
	Init      float64
	Trees     []*tree.DecisionTreeRegressor
	TrainLoss []float64
}

// GobEncode は学習済みのモデルをgobで書き出す
func (gb *GradientBoostingRegressor) GobEncode() ([]byte, error) {
	return model.GobBytes(regressorSnapshot{
		State:     gb.state,
		Params:    gb.snapshot(),
		Init:      gb.init_,
		Trees:     gb.trees,
		TrainLoss: gb.trainLoss_,
	})
}

// GobDecode はGobEncodeで書き出したモデルを復元する
func (gb *GradientBoostingRegressor) GobDecode(data []byte) error {
	var s regressorSnapshot
	if err := model.FromGobBytes(data, &s); err != nil {
		return err
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	gb.state = s.State
	gb.boostParams = s.Params.restore()
	gb.init_ = s.Init
	gb.trees = s.Trees
	gb.trainLoss_ = s.TrainLoss
	return nil
}

// String はモデルの文字列表現を返す
func (gb *GradientBoostingRegressor) String() string {
	return fmt.Sprintf("GradientBoostingRegressor(n_estimators=%d, learning_rate=%g, max_depth=%d, fitted=%t)",
		gb.nEstimators, gb.learningRate, gb.maxDepth, gb.state.IsFitted())
}

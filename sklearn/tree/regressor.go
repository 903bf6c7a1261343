package tree

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// DecisionTreeRegressor は分散（二乗誤差）を最小化するCART回帰木
type DecisionTreeRegressor struct {
	treeParams
	state *model.StateManager

	nodes               []node
	featureImportances_ []float64
}

// NewDecisionTreeRegressor は新しい回帰木を作成。デフォルトの基準は squared_error
func NewDecisionTreeRegressor(options ...Option) *DecisionTreeRegressor {
	dt := &DecisionTreeRegressor{
		treeParams: defaultParams("squared_error"),
		state:      model.NewStateManager(),
	}
	for _, opt := range options {
		opt(&dt.treeParams)
	}
	return dt
}

// Fit は回帰木を学習する
func (dt *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	const op = "DecisionTreeRegressor.Fit"
	if err := dt.validate("squared_error", "mse"); err != nil {
		return err
	}
	rows, cols, err := checkFitInput(op, X, y)
	if err != nil {
		return err
	}
	target := make([]float64, rows)
	for i := range target {
		target[i] = y.At(i, 0)
	}
	dt.nodes, dt.featureImportances_ = newBuilder(dt.treeParams, X, target, 0).fit()
	dt.state.SetDimensions(cols, rows)
	dt.state.SetFitted()
	return nil
}

// Predict は葉の平均値を返す
func (dt *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.state.RequireFitted("DecisionTreeRegressor", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := dt.state.CheckFeatures("DecisionTreeRegressor.Predict", cols); err != nil {
		return nil, err
	}
	predictions := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		predictions.Set(i, 0, leafFor(dt.nodes, X, i).Value[0])
	}
	return predictions, nil
}

// Score は決定係数（R²）を返す
func (dt *DecisionTreeRegressor) Score(X, y mat.Matrix) (float64, error) {
	predictions, err := dt.Predict(X)
	if err != nil {
		return 0, err
	}
	rows, _ := y.Dims()
	mean := 0.0
	for i := 0; i < rows; i++ {
		mean += y.At(i, 0)
	}
	mean /= float64(rows)
	var ssTot, ssRes float64
	for i := 0; i < rows; i++ {
		d := y.At(i, 0) - mean
		r := y.At(i, 0) - predictions.At(i, 0)
		ssTot += d * d
		ssRes += r * r
	}
	if ssTot == 0 {
		return 0, errors.NewValueError("DecisionTreeRegressor.Score", "Cannot compute score with zero variance in y_true")
	}
	return 1 - ssRes/ssTot, nil
}

// FeatureImportances は分散減少に基づく特徴量重要度（合計1）を返す
func (dt *DecisionTreeRegressor) FeatureImportances() ([]float64, error) {
	if err := dt.state.RequireFitted("DecisionTreeRegressor", "FeatureImportances"); err != nil {
		return nil, err
	}
	return append([]float64(nil), dt.featureImportances_...), nil
}

// GetDepth は学習した木の深さを返す
func (dt *DecisionTreeRegressor) GetDepth() int {
	return treeDepth(dt.nodes)
}

// GetNLeaves は葉の数を返す
func (dt *DecisionTreeRegressor) GetNLeaves() int {
	return leafCount(dt.nodes)
}

// GetParams はハイパーパラメータを返す
func (dt *DecisionTreeRegressor) GetParams() map[string]interface{} {
	return dt.getParams()
}

// SetParams はハイパーパラメータを設定する
func (dt *DecisionTreeRegressor) SetParams(params map[string]interface{}) error {
	return dt.setParams("DecisionTreeRegressor", params)
}

// IsFitted はモデルが学習済みかを返す
func (dt *DecisionTreeRegressor) IsFitted() bool {
	return dt.state.IsFitted()
}

type regressorSnapshot struct {
	State       *model.StateManager
	Params      paramsSnapshot
	Nodes       []node
	Importances []float64
}

// GobEncode は学習済みの木をgobで書き出す
func (dt *DecisionTreeRegressor) GobEncode() ([]byte, error) {
	return model.GobBytes(regressorSnapshot{
		State:       dt.state,
		Params:      dt.snapshot(),
		Nodes:       dt.nodes,
		Importances: dt.featureImportances_,
	})
}

// GobDecode はGobEncodeで書き出した木を復元する
func (dt *DecisionTreeRegressor) GobDecode(data []byte) error {
	var s regressorSnapshot
	if err := model.FromGobBytes(data, &s); err != nil {
		return err
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	dt.state = s.State
	dt.treeParams = s.Params.restore()
	dt.nodes = s.Nodes
	dt.featureImportances_ = s.Importances
	return nil
}

// String はモデルの文字列表現を返す
func (dt *DecisionTreeRegressor) String() string {
	if !dt.state.IsFitted() {
		return fmt.Sprintf("DecisionTreeRegressor(max_depth=%d)", dt.maxDepth)
	}
	return fmt.Sprintf("DecisionTreeRegressor(depth=%d, leaves=%d)", dt.GetDepth(), dt.GetNLeaves())
}

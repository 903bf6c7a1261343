package ensemble

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/core/parallel"
	"github.com/YuminosukeSato/mlexplorer/sklearn/tree"
)

// RandomForestRegressor は回帰木の予測を平均するランダムフォレスト
type RandomForestRegressor struct {
	forestParams
	state *model.StateManager

	trees []*tree.DecisionTreeRegressor
}

// NewRandomForestRegressor は新しいランダムフォレスト回帰器を作成
func NewRandomForestRegressor(options ...Option) *RandomForestRegressor {
	rf := &RandomForestRegressor{
		forestParams: defaultParams("squared_error"),
		state:        model.NewStateManager(),
	}
	for _, opt := range options {
		opt(&rf.forestParams)
	}
	return rf
}

// Fit はブートストラップ標本ごとに回帰木を並列に学習する
func (rf *RandomForestRegressor) Fit(X, y mat.Matrix) error {
	rows, cols, err := rf.checkFit("RandomForestRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	samples := rf.drawSamples(rows)
	trees := make([]*tree.DecisionTreeRegressor, len(samples))
	err = parallel.ForEach(len(samples), rf.nJobs, func(t int) error {
		dt := tree.NewDecisionTreeRegressor(rf.treeOptions(rf.maxFeatures, samples[t].seed)...)
		if err := dt.Fit(subset(X, samples[t].rows), subset(y, samples[t].rows)); err != nil {
			return err
		}
		trees[t] = dt
		return nil
	})
	if err != nil {
		return err
	}
	rf.trees = trees
	rf.state.SetDimensions(cols, rows)
	rf.state.SetFitted()
	return nil
}

// Predict は全ての木の予測の平均を返す
func (rf *RandomForestRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.state.RequireFitted("RandomForestRegressor", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := rf.state.CheckFeatures("RandomForestRegressor.Predict", cols); err != nil {
		return nil, err
	}
	predictions := mat.NewDense(rows, 1, nil)
	for _, dt := range rf.trees {
		p, err := dt.Predict(X)
		if err != nil {
			return nil, err
		}
		predictions.Add(predictions, p)
	}
	predictions.Scale(1/float64(len(rf.trees)), predictions)
	return predictions, nil
}

// FeatureImportances は木ごとの分散減少の平均を返す
func (rf *RandomForestRegressor) FeatureImportances() ([]float64, error) {
	if err := rf.state.RequireFitted("RandomForestRegressor", "FeatureImportances"); err != nil {
		return nil, err
	}
	nFeatures, _ := rf.state.GetDimensions()
	perTree := make([][]float64, len(rf.trees))
	for t, dt := range rf.trees {
		imp, err := dt.FeatureImportances()
		if err != nil {
			return nil, err
		}
		perTree[t] = imp
	}
	return averageImportances(nFeatures, perTree), nil
}

// NTrees は学習済みの木の本数を返す
func (rf *RandomForestRegressor) NTrees() int {
	return len(rf.trees)
}

// GetParams はハイパーパラメータを返す
func (rf *RandomForestRegressor) GetParams() map[string]interface{} {
	return rf.getParams()
}

// SetParams はハイパーパラメータを設定する
func (rf *RandomForestRegressor) SetParams(params map[string]interface{}) error {
	return rf.setParams("RandomForestRegressor", params)
}

// IsFitted はモデルが学習済みかを返す
func (rf *RandomForestRegressor) IsFitted() bool {
	return rf.state.IsFitted()
}

type regressorSnapshot struct {
	State  *model.StateManager
	Params paramsSnapshot
	Trees  []*tree.DecisionTreeRegressor
}

// GobEncode は学習済みの森をgobで書き出す
func (rf *RandomForestRegressor) GobEncode() ([]byte, error) {
	return model.GobBytes(regressorSnapshot{State: rf.state, Params: rf.snapshot(), Trees: rf.trees})
}

// GobDecode はGobEncodeで書き出した森を復元する
func (rf *RandomForestRegressor) GobDecode(data []byte) error {
	var s regressorSnapshot
	if err := model.FromGobBytes(data, &s); err != nil {
		return err
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	rf.state = s.State
	rf.forestParams = s.Params.restore()
	rf.trees = s.Trees
	return nil
}

// String はモデルの文字列表現を返す
func (rf *RandomForestRegressor) String() string {
	return fmt.Sprintf("RandomForestRegressor(n_estimators=%d, max_depth=%d, fitted=%t)",
		rf.nEstimators, rf.maxDepth, rf.state.IsFitted())
}

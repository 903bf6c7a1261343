package ensemble

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/core/parallel"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/sklearn/tree"
)

// RandomForestClassifier は決定木分類器の確率を平均するランダムフォレスト
type RandomForestClassifier struct {
	forestParams
	state *model.StateManager

	trees    []*tree.DecisionTreeClassifier
	classes_ []int
}

// NewRandomForestClassifier は新しいランダムフォレスト分類器を作成
func NewRandomForestClassifier(options ...Option) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		forestParams: defaultParams("gini"),
		state:        model.NewStateManager(),
	}
	for _, opt := range options {
		opt(&rf.forestParams)
	}
	return rf
}

// Fit はブートストラップ標本ごとに木を並列に学習する
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) error {
	const op = "RandomForestClassifier.Fit"
	rows, cols, err := rf.checkFit(op, X, y)
	if err != nil {
		return err
	}

	seen := make(map[int]bool)
	for i := 0; i < rows; i++ {
		v := y.At(i, 0)
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

	maxFeatures := rf.maxFeatures
	if maxFeatures == 0 {
		maxFeatures = sqrtFeatures(cols)
	}
	samples := rf.drawSamples(rows)
	trees := make([]*tree.DecisionTreeClassifier, len(samples))
	err = parallel.ForEach(len(samples), rf.nJobs, func(t int) error {
		dt := tree.NewDecisionTreeClassifier(rf.treeOptions(maxFeatures, samples[t].seed)...)
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
	rf.classes_ = classes
	rf.state.SetDimensions(cols, rows)
	rf.state.SetFitted()
	return nil
}

// PredictProba は全ての木の確率の平均を返す。ブートストラップ標本に現れなかったクラスは0として扱う
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.state.RequireFitted("RandomForestClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := rf.state.CheckFeatures("RandomForestClassifier.PredictProba", cols); err != nil {
		return nil, err
	}

	column := make(map[int]int, len(rf.classes_))
	for k, c := range rf.classes_ {
		column[c] = k
	}
	probas := mat.NewDense(rows, len(rf.classes_), nil)
	for _, dt := range rf.trees {
		p, err := dt.PredictProba(X)
		if err != nil {
			return nil, err
		}
		for k, c := range dt.Classes() {
			target := column[c]
			for i := 0; i < rows; i++ {
				probas.Set(i, target, probas.At(i, target)+p.At(i, k))
			}
		}
	}
	probas.Scale(1/float64(len(rf.trees)), probas)
	return probas, nil
}

// Predict は平均確率が最大のクラスラベルを返す
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	probas, err := rf.PredictProba(X)
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
		predictions.Set(i, 0, float64(rf.classes_[best]))
	}
	return predictions, nil
}

// Classes は学習したクラスラベルを昇順で返す
func (rf *RandomForestClassifier) Classes() []int {
	return append([]int(nil), rf.classes_...)
}

// FeatureImportances は木ごとの不純度減少の平均を返す
func (rf *RandomForestClassifier) FeatureImportances() ([]float64, error) {
	if err := rf.state.RequireFitted("RandomForestClassifier", "FeatureImportances"); err != nil {
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
func (rf *RandomForestClassifier) NTrees() int {
	return len(rf.trees)
}

// GetParams はハイパーパラメータを返す
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return rf.getParams()
}

// SetParams はハイパーパラメータを設定する
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	return rf.setParams("RandomForestClassifier", params)
}

// IsFitted はモデルが学習済みかを返す
func (rf *RandomForestClassifier) IsFitted() bool {
	return rf.state.IsFitted()
}

type classifierSnapshot struct {
	State   *model.StateManager
	Params  paramsSnapshot
	Trees   []*tree.DecisionTreeClassifier
	Classes []int
}

// GobEncode は学習済みの森をgobで書き出す
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	return model.GobBytes(classifierSnapshot{
		State:   rf.state,
		Params:  rf.snapshot(),
		Trees:   rf.trees,
		Classes: rf.classes_,
	})
}

// GobDecode はGobEncodeで書き出した森を復元する
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	var s classifierSnapshot
	if err := model.FromGobBytes(data, &s); err != nil {
		return err
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	rf.state = s.State
	rf.forestParams = s.Params.restore()
	rf.trees = s.Trees
	rf.classes_ = s.Classes
	return nil
}

// String はモデルの文字列表現を返す
func (rf *RandomForestClassifier) String() string {
	return fmt.Sprintf("RandomForestClassifier(n_estimators=%d, max_depth=%d, fitted=%t)",
		rf.nEstimators, rf.maxDepth, rf.state.IsFitted())
}

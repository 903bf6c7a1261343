package tree

import (
	"encoding/gob"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

func init() {
	gob.Register(&DecisionTreeClassifier{})
	gob.Register(&DecisionTreeRegressor{})
}

// DecisionTreeClassifier はCART決定木による分類器
type DecisionTreeClassifier struct {
	treeParams
	state *model.StateManager

	// 学習済みパラメータ
	nodes               []node
	classes_            []int
	nClasses_           int
	featureImportances_ []float64
}

// NewDecisionTreeClassifier は新しい決定木分類器を作成。デフォルトの基準は gini
func NewDecisionTreeClassifier(options ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		treeParams: defaultParams("gini"),
		state:      model.NewStateManager(),
	}
	for _, opt := range options {
		opt(&dt.treeParams)
	}
	return dt
}

// Fit は決定木を学習する。yはクラスラベル（整数値）
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	const op = "DecisionTreeClassifier.Fit"
	if err := dt.validate("gini", "entropy"); err != nil {
		return err
	}
	rows, cols, err := checkFitInput(op, X, y)
	if err != nil {
		return err
	}

	classes, codes, err := encodeClasses(op, y, rows)
	if err != nil {
		return err
	}

	dt.classes_ = classes
	dt.nClasses_ = len(classes)
	dt.nodes, dt.featureImportances_ = newBuilder(dt.treeParams, X, codes, dt.nClasses_).fit()
	dt.state.SetDimensions(cols, rows)
	dt.state.SetFitted()
	return nil
}

// encodeClasses はyから昇順のクラス一覧と各行のクラス添字を作る
func encodeClasses(op string, y mat.Matrix, rows int) ([]int, []float64, error) {
	seen := make(map[int]bool)
	for i := 0; i < rows; i++ {
		v := y.At(i, 0)
		if v != math.Trunc(v) {
			return nil, nil, errors.NewValueError(op, fmt.Sprintf("class labels must be integers, got %g", v))
		}
		seen[int(v)] = true
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	index := make(map[int]int, len(classes))
	for k, c := range classes {
		index[c] = k
	}
	codes := make([]float64, rows)
	for i := range codes {
		codes[i] = float64(index[int(y.At(i, 0))])
	}
	return classes, codes, nil
}

// PredictProba は各クラスの確率を返す。列の順序は Classes() に対応
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := dt.state.CheckFeatures("DecisionTreeClassifier.PredictProba", cols); err != nil {
		return nil, err
	}
	probas := mat.NewDense(rows, dt.nClasses_, nil)
	for i := 0; i < rows; i++ {
		probas.SetRow(i, leafFor(dt.nodes, X, i).Value)
	}
	return probas, nil
}

// Predict は確率が最大のクラスラベルを返す
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := dt.state.CheckFeatures("DecisionTreeClassifier.Predict", cols); err != nil {
		return nil, err
	}
	predictions := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		value := leafFor(dt.nodes, X, i).Value
		best := 0
		for k := 1; k < len(value); k++ {
			if value[k] > value[best] {
				best = k
			}
		}
		predictions.Set(i, 0, float64(dt.classes_[best]))
	}
	return predictions, nil
}

// Score は正解率を返す。予測に失敗した場合は0
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	predictions, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	rows, _ := y.Dims()
	if rows == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < rows; i++ {
		if predictions.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(rows)
}

// Classes は学習したクラスラベルを昇順で返す
func (dt *DecisionTreeClassifier) Classes() []int {
	return append([]int(nil), dt.classes_...)
}

// FeatureImportances は不純度減少に基づく特徴量重要度（合計1）を返す
func (dt *DecisionTreeClassifier) FeatureImportances() ([]float64, error) {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", "FeatureImportances"); err != nil {
		return nil, err
	}
	return append([]float64(nil), dt.featureImportances_...), nil
}

// GetFeatureImportances は特徴量重要度を返す。未学習ならnil
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	imp, _ := dt.FeatureImportances()
	return imp
}

// GetDepth は学習した木の深さを返す
func (dt *DecisionTreeClassifier) GetDepth() int {
	return treeDepth(dt.nodes)
}

// GetNLeaves は葉の数を返す
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	return leafCount(dt.nodes)
}

// GetParams はハイパーパラメータを返す
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return dt.getParams()
}

// SetParams はハイパーパラメータを設定する
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	return dt.setParams("DecisionTreeClassifier", params)
}

// IsFitted はモデルが学習済みかを返す
func (dt *DecisionTreeClassifier) IsFitted() bool {
	return dt.state.IsFitted()
}

type classifierSnapshot struct {
	State       *model.StateManager
	Params      paramsSnapshot
	Nodes       []node
	Classes     []int
	Importances []float64
}

// GobEncode は学習済みの木をgobで書き出す
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	return model.GobBytes(classifierSnapshot{
		State:       dt.state,
		Params:      dt.snapshot(),
		Nodes:       dt.nodes,
		Classes:     dt.classes_,
		Importances: dt.featureImportances_,
	})
}

// GobDecode はGobEncodeで書き出した木を復元する
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	var s classifierSnapshot
	if err := model.FromGobBytes(data, &s); err != nil {
		return err
	}
	if s.State == nil {
		s.State = model.NewStateManager()
	}
	dt.state = s.State
	dt.treeParams = s.Params.restore()
	dt.nodes = s.Nodes
	dt.classes_ = s.Classes
	dt.nClasses_ = len(s.Classes)
	dt.featureImportances_ = s.Importances
	return nil
}

// String はモデルの文字列表現を返す
func (dt *DecisionTreeClassifier) String() string {
	if !dt.state.IsFitted() {
		return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, max_depth=%d)", dt.criterion, dt.maxDepth)
	}
	return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, depth=%d, leaves=%d, classes=%d)",
		dt.criterion, dt.GetDepth(), dt.GetNLeaves(), dt.nClasses_)
}

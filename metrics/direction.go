// Package metrics は分類・回帰の評価指標と、指標ごとの優劣の向きを提供します。
package metrics

import (
	"sort"
	"strings"

	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// 指標名
const (
	NameAccuracy          = "accuracy"
	NamePrecision         = "precision"
	NameRecall            = "recall"
	NameF1                = "f1"
	NameROCAUC            = "roc_auc"
	NameLogLoss           = "log_loss"
	NameMSE               = "mse"
	NameRMSE              = "rmse"
	NameMAE               = "mae"
	NameR2                = "r2"
	NameMAPE              = "mape"
	NameExplainedVariance = "explained_variance"
)

// Direction は指標の値が大きいほど良いか小さいほど良いかを表す
type Direction int

const (
	HigherIsBetter Direction = iota + 1
	LowerIsBetter
)

func (d Direction) String() string {
	switch d {
	case HigherIsBetter:
		return "higher_is_better"
	case LowerIsBetter:
		return "lower_is_better"
	default:
		return "unknown"
	}
}

// Better は a が b より良い値かを返す（同値はfalse）
func (d Direction) Better(a, b float64) bool {
	if d == LowerIsBetter {
		return a < b
	}
	return a > b
}

var directions = map[string]Direction{
	NameAccuracy:          HigherIsBetter,
	NamePrecision:         HigherIsBetter,
	NameRecall:            HigherIsBetter,
	NameF1:                HigherIsBetter,
	NameROCAUC:            HigherIsBetter,
	NameLogLoss:           LowerIsBetter,
	NameMSE:               LowerIsBetter,
	NameRMSE:              LowerIsBetter,
	NameMAE:               LowerIsBetter,
	NameR2:                HigherIsBetter,
	NameMAPE:              LowerIsBetter,
	NameExplainedVariance: HigherIsBetter,
}

// DirectionOf は指標名の向きを返す。未知の名前はConfigurationError
func DirectionOf(name string) (Direction, error) {
	d, ok := directions[name]
	if !ok {
		return 0, errors.NewConfigurationError("primary_metric", name, "unknown metric; known metrics are "+strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names は既知の指標名を辞書順で返す
func Names() []string {
	names := make([]string, 0, len(directions))
	for n := range directions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultMetric は問題種別ごとの既定の主指標を返す
func DefaultMetric(pt dataset.ProblemType) string {
	if pt == dataset.Regression {
		return NameRMSE
	}
	return NameAccuracy
}

// Applies は指標がその問題種別で計算されるかを返す
func Applies(name string, pt dataset.ProblemType) bool {
	switch name {
	case NameAccuracy, NamePrecision, NameRecall, NameF1, NameROCAUC, NameLogLoss:
		return pt == dataset.Classification
	case NameMSE, NameRMSE, NameMAE, NameR2, NameMAPE, NameExplainedVariance:
		return pt == dataset.Regression
	default:
		return false
	}
}

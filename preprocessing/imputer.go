package preprocessing

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// 欠損値の扱い
const (
	StrategyDrop   = "drop"
	StrategyMean   = "mean"
	StrategyMedian = "median"
	StrategyMode   = "mode"
)

// ParseStrategy は欠損値戦略の名前を検証する
func ParseStrategy(s string) (string, error) {
	switch s {
	case StrategyDrop, StrategyMean, StrategyMedian, StrategyMode:
		return s, nil
	default:
		return "", errors.NewConfigurationError("preprocessing.missing_strategy", s, "must be drop, mean, median or mode")
	}
}

// FillValue は1列分の補完値。数値列はFloat、カテゴリ列はStrを使う
type FillValue struct {
	Set   bool
	Float float64
	Str   string
}

// Imputer は訓練パーティションだけから学習した列ごとの補完値を保持する
type Imputer struct {
	Strategy string
	Fill     []FillValue // 特徴量の順
}

// appliesTo は戦略がその型の列に適用できるかを返す
func appliesTo(strategy string, t dataset.ColumnType) bool {
	switch strategy {
	case StrategyMean, StrategyMedian:
		return t == dataset.Numeric
	case StrategyMode:
		return true
	default:
		return false
	}
}

// fitImputer は rows に含まれる行の非欠損値から補完値を計算する
func fitImputer(strategy string, cols []dataset.Column, rows []int) (*Imputer, error) {
	imp := &Imputer{Strategy: strategy, Fill: make([]FillValue, len(cols))}
	if strategy == StrategyDrop {
		return imp, nil
	}
	for j, col := range cols {
		if !appliesTo(strategy, col.Type) {
			continue
		}
		if col.Type == dataset.Numeric {
			values := make([]float64, 0, len(rows))
			for _, r := range rows {
				if !col.IsMissing(r) {
					values = append(values, col.Floats[r])
				}
			}
			if len(values) == 0 {
				return nil, errors.NewInsufficientDataError("column '"+col.Name+"' has no values in the training split to impute from", 1, 0)
			}
			imp.Fill[j] = FillValue{Set: true, Float: numericFill(strategy, values)}
			continue
		}
		values := make([]string, 0, len(rows))
		for _, r := range rows {
			if !col.IsMissing(r) {
				values = append(values, col.Strings[r])
			}
		}
		if len(values) == 0 {
			return nil, errors.NewInsufficientDataError("column '"+col.Name+"' has no values in the training split to impute from", 1, 0)
		}
		imp.Fill[j] = FillValue{Set: true, Str: stringMode(values)}
	}
	return imp, nil
}

func numericFill(strategy string, values []float64) float64 {
	switch strategy {
	case StrategyMean:
		return stat.Mean(values, nil)
	case StrategyMedian:
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		n := len(sorted)
		if n%2 == 1 {
			return sorted[n/2]
		}
		return (sorted[n/2-1] + sorted[n/2]) / 2
	default:
		return floatMode(values)
	}
}

// floatMode は最頻値を返す。同数の場合は小さい値を選ぶ
func floatMode(values []float64) float64 {
	counts := make(map[float64]int)
	for _, v := range values {
		counts[v]++
	}
	best, bestCount := math.Inf(1), 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best
}

// stringMode は最頻値を返す。同数の場合は辞書順で小さい値を選ぶ
func stringMode(values []string) string {
	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	best, bestCount := "", 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best
}

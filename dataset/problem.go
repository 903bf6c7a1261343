package dataset

import (
	"math"
	"strings"

	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// ProblemType is either Classification or Regression.
type ProblemType int

const (
	Classification ProblemType = iota + 1
	Regression
)

func (p ProblemType) String() string {
	switch p {
	case Classification:
		return "classification"
	case Regression:
		return "regression"
	default:
		return "unknown"
	}
}

// MaxClassCardinality is the largest number of distinct integral values a
// numeric target may have and still be treated as class labels.
const MaxClassCardinality = 20

// ParseProblemType parses an explicit override. "auto" and "" return 0,
// which means the type is inferred from the target.
func ParseProblemType(s string) (ProblemType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return 0, nil
	case "classification":
		return Classification, nil
	case "regression":
		return Regression, nil
	default:
		return 0, errors.NewConfigurationError("problem_type", s, "must be auto, classification or regression")
	}
}

// InferProblemType decides the problem type from the target column.
// Categorical targets are Classification. Numeric targets are Classification
// when all values are integral with at most MaxClassCardinality distinct
// values, Regression otherwise.
func InferProblemType(target Column) (ProblemType, error) {
	switch target.Type {
	case Categorical:
		return Classification, nil
	case Numeric:
		distinct := make(map[float64]struct{})
		for _, v := range target.Floats {
			if math.IsNaN(v) {
				continue
			}
			if v != math.Trunc(v) {
				return Regression, nil
			}
			distinct[v] = struct{}{}
			if len(distinct) > MaxClassCardinality {
				return Regression, nil
			}
		}
		if len(distinct) == 0 {
			return 0, errors.NewSchemaError(target.Name, "target has no values")
		}
		return Classification, nil
	default:
		return 0, errors.NewSchemaError(target.Name, "target column type is unknown")
	}
}

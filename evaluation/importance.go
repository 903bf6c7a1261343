package evaluation

import (
	"context"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/backend"
	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/core/parallel"
	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/metrics"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/pkg/log"
	"github.com/YuminosukeSato/mlexplorer/training"
)

// importance uses the estimator's native importances when it has them and
// permutation importance otherwise.
func (e *Engine) importance(tm *training.TrainedModel, X *mat.Dense, y *mat.VecDense) (*FeatureImportance, error) {
	_, cols := X.Dims()
	names := featureNames(tm, cols)

	if fi, ok := tm.Estimator.(model.FeatureImportancer); ok {
		values, err := fi.FeatureImportances()
		if err == nil && len(values) == cols {
			return &FeatureImportance{Method: "native", Features: names, Values: normalize(values)}, nil
		}
		e.logger.Debug("Native importances unavailable, falling back to permutation",
			log.ModelNameKey, tm.Name,
		)
	}

	values, err := e.permutationImportance(tm, X, y)
	if err != nil {
		return nil, err
	}
	return &FeatureImportance{Method: "permutation", Features: names, Values: normalize(values)}, nil
}

// permutationImportance is the mean degradation of the default metric when
// one column is shuffled. Each feature has its own seeded generator and its
// own copy of X.
func (e *Engine) permutationImportance(tm *training.TrainedModel, X *mat.Dense, y *mat.VecDense) ([]float64, error) {
	name := metrics.DefaultMetric(tm.ProblemType)
	dir, err := metrics.DirectionOf(name)
	if err != nil {
		return nil, err
	}
	score := func(m *mat.Dense) (float64, error) {
		pred, err := tm.Predict(m)
		if err != nil {
			return 0, err
		}
		if tm.ProblemType == dataset.Classification {
			return metrics.Accuracy(y, pred)
		}
		return metrics.RMSE(y, pred)
	}

	base, err := score(X)
	if err != nil {
		return nil, err
	}

	rows, cols := X.Dims()
	out := make([]float64, cols)
	err = parallel.ForEach(cols, e.workers, func(j int) error {
		r := rand.New(rand.NewPCG(e.seed, uint64(j)^0x9e3779b97f4a7c15))
		shuffled := mat.DenseCopyOf(X)
		column := mat.Col(nil, j, X)
		var total float64
		for rep := 0; rep < e.repeats; rep++ {
			r.Shuffle(rows, func(a, b int) { column[a], column[b] = column[b], column[a] })
			shuffled.SetCol(j, column)
			s, err := score(shuffled)
			if err != nil {
				return err
			}
			if dir == metrics.HigherIsBetter {
				total += base - s
			} else {
				total += s - base
			}
		}
		out[j] = total / float64(e.repeats)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// normalize clips negatives to zero and scales to sum 1.
func normalize(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		if v > 0 {
			out[i] = v
		}
	}
	if sum := floats.Sum(out); sum > 0 {
		floats.Scale(1/sum, out)
	}
	return out
}

// interpretation never fails: problems are reported in Reason.
func (e *Engine) interpretation(ctx context.Context, tm *training.TrainedModel, X *mat.Dense) (interp Interpretation) {
	interp.Backend = InterpretBackend
	if !e.interpret {
		interp.Reason = "interpretation disabled"
		return interp
	}
	explainer, ok := e.caps.Interpreter(InterpretBackend)
	if !ok {
		interp.Reason = errors.NewBackendUnavailableError(InterpretBackend, "interpretation").Error()
		return interp
	}

	rows, cols := X.Dims()
	n := min(rows, e.interpretSamples)
	sample := mat.DenseCopyOf(X.Slice(0, n, 0, cols))
	background := mat.DenseCopyOf(X.Slice(0, min(rows, DefaultBackgroundRows), 0, cols))

	f, class, err := e.explainedOutput(tm, sample)
	if err == nil {
		var values *mat.Dense
		err = errors.SafeExecute("Engine.interpretation", func() error {
			var explainErr error
			values, explainErr = explainer.Explain(ctx, f, background, sample, backend.ExplainOptions{Seed: e.seed})
			return explainErr
		})
		interp.Values = values
	}
	if err != nil {
		e.logger.Warn("Interpretation unavailable",
			log.ModelNameKey, tm.Name,
			"reason", err.Error(),
		)
		return Interpretation{Backend: InterpretBackend, Reason: err.Error()}
	}

	interp.Available = true
	interp.Class = class
	interp.Features = featureNames(tm, cols)
	interp.Rows = make([]int, n)
	for i := range interp.Rows {
		interp.Rows[i] = i
	}
	return interp
}

// explainedOutput picks the scalar output to attribute. Regression explains
// the prediction. Classification explains a class probability: the positive
// class for binary problems, otherwise the class predicted most often on the
// sampled rows (the first such class on ties).
func (e *Engine) explainedOutput(tm *training.TrainedModel, sample *mat.Dense) (backend.PredictFunc, string, error) {
	if tm.ProblemType != dataset.Classification {
		return func(m *mat.Dense) ([]float64, error) {
			pred, err := tm.Predict(m)
			if err != nil {
				return nil, err
			}
			return mat.Col(nil, 0, pred), nil
		}, "", nil
	}

	if _, ok := tm.Estimator.(model.Classifier); !ok {
		return nil, "", errors.NewValueError("Engine.interpretation", tm.Name+" does not produce probabilities")
	}
	nClasses := tm.NumClasses()
	class := 1
	if nClasses != 2 {
		pred, err := tm.Predict(sample)
		if err != nil {
			return nil, "", err
		}
		counts := make([]int, nClasses)
		for i := 0; i < pred.Len(); i++ {
			if c := int(pred.AtVec(i)); c >= 0 && c < nClasses {
				counts[c]++
			}
		}
		class = floats.MaxIdx(intsToFloats(counts))
	}
	f := func(m *mat.Dense) ([]float64, error) {
		proba, err := tm.PredictProba(m)
		if err != nil {
			return nil, err
		}
		return mat.Col(nil, class, proba), nil
	}
	return f, classNames(tm, nClasses)[class], nil
}

func intsToFloats(xs []int) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}

// Package evaluation scores trained models on the held-out split.
//
// Evaluation is read-only: the model is only asked for predictions and any
// matrix that is perturbed (permutation importance, interpretation) is a
// copy.
package evaluation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/backend"
	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/metrics"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/pkg/log"
	"github.com/YuminosukeSato/mlexplorer/telemetry"
	"github.com/YuminosukeSato/mlexplorer/training"
)

// Defaults for the optional diagnostics.
const (
	DefaultPermutationRepeats = 5
	DefaultInterpretSamples   = 20
	DefaultBackgroundRows     = 50
	InterpretBackend          = "shap"
)

// Metric is one named score. NotApplicable metrics carry a Reason instead of
// a Value.
type Metric struct {
	Name          string
	Value         float64
	NotApplicable bool
	Reason        string
}

// Pair is one actual/predicted point of a regression evaluation.
type Pair struct {
	Actual    float64
	Predicted float64
}

// FeatureImportance is normalised so that Values sums to 1 (or is all zero).
type FeatureImportance struct {
	Method   string // "native" or "permutation"
	Features []string
	Values   []float64
}

// Interpretation holds per-row Shapley attributions of the test rows in Rows.
type Interpretation struct {
	Available bool
	Reason    string
	Backend   string
	Class     string // explained class for classification
	Features  []string
	Rows      []int
	Values    *mat.Dense
}

// Result is the evaluation of one trained model.
type Result struct {
	Model       *training.TrainedModel
	ProblemType dataset.ProblemType
	Metrics     map[string]Metric

	// classification
	Classes         []string
	ConfusionMatrix *mat.Dense
	ROC             []metrics.ROCPoint

	// regression
	Residuals         []float64
	ActualVsPredicted []Pair

	Importance     *FeatureImportance
	Interpretation Interpretation
	Duration       time.Duration
}

// Metric returns the named metric.
func (r *Result) Metric(name string) (Metric, bool) {
	m, ok := r.Metrics[name]
	return m, ok
}

// Option configures an Engine.
type Option func(*Engine)

// WithOneVsRestAUC computes macro one-vs-rest ROC AUC for more than two classes.
func WithOneVsRestAUC(enabled bool) Option {
	return func(e *Engine) { e.oneVsRest = enabled }
}

// WithInterpretation enables Shapley attributions.
func WithInterpretation(enabled bool) Option {
	return func(e *Engine) { e.interpret = enabled }
}

// WithPermutationRepeats sets the shuffles per feature for permutation importance.
func WithPermutationRepeats(n int) Option {
	return func(e *Engine) { e.repeats = n }
}

// WithInterpretSamples caps the test rows that are explained.
func WithInterpretSamples(n int) Option {
	return func(e *Engine) { e.interpretSamples = n }
}

// WithSeed seeds permutation importance and interpretation.
func WithSeed(seed uint64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithCapabilities sets the backends interpretation may use.
func WithCapabilities(caps backend.Capabilities) Option {
	return func(e *Engine) { e.caps = caps; e.capsSet = true }
}

// WithWorkers bounds the goroutines used for permutation importance.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithLogger sets the logger provider.
func WithLogger(provider log.LoggerProvider) Option {
	return func(e *Engine) { e.logger = provider.GetLoggerWithName("Evaluator") }
}

// WithTelemetry records evaluations on tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(e *Engine) { e.tel = tel }
}

// Engine evaluates trained models.
type Engine struct {
	oneVsRest        bool
	interpret        bool
	repeats          int
	interpretSamples int
	seed             uint64
	workers          int
	caps             backend.Capabilities
	capsSet          bool
	logger           log.Logger
	tel              *telemetry.Telemetry
}

// NewEngine creates an Engine.
//
//	engine := evaluation.NewEngine(
//	    evaluation.WithOneVsRestAUC(true),
//	    evaluation.WithInterpretation(true),
//	)
//	res, err := engine.Evaluate(ctx, tm, prep.XTest, prep.YTest)
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		repeats:          DefaultPermutationRepeats,
		interpretSamples: DefaultInterpretSamples,
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.capsSet {
		e.caps = backend.Snapshot()
	}
	if e.repeats < 1 {
		e.repeats = DefaultPermutationRepeats
	}
	if e.interpretSamples < 1 {
		e.interpretSamples = DefaultInterpretSamples
	}
	if e.logger == nil {
		e.logger = log.Default().GetLoggerWithName("Evaluator")
	}
	if e.tel == nil {
		e.tel = telemetry.Noop()
	}
	return e
}

// Evaluate computes the metrics and diagnostics of tm on the test split.
func (e *Engine) Evaluate(ctx context.Context, tm *training.TrainedModel, XTest *mat.Dense, yTest *mat.VecDense) (*Result, error) {
	start := time.Now()
	ctx, span := e.tel.Start(ctx, telemetry.SpanEvaluation, telemetry.AttrModel.String(tm.Name))
	defer span.End()

	rows, _ := XTest.Dims()
	if rows == 0 {
		return nil, errors.ErrEmptyData
	}
	if yTest.Len() != rows {
		return nil, errors.NewDimensionError("Engine.Evaluate", rows, yTest.Len(), 0)
	}

	pred, err := tm.Predict(XTest)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	res := &Result{Model: tm, ProblemType: tm.ProblemType, Metrics: make(map[string]Metric)}
	if tm.ProblemType == dataset.Classification {
		err = e.classification(res, tm, XTest, yTest, pred)
	} else {
		err = e.regression(res, yTest, pred)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if res.Importance, err = e.importance(tm, XTest, yTest); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	res.Interpretation = e.interpretation(ctx, tm, XTest)

	res.Duration = time.Since(start)
	e.tel.ObserveEvaluation(tm.Name)
	primary := metrics.DefaultMetric(tm.ProblemType)
	e.logger.Info("Model evaluated",
		log.ModelNameKey, tm.Name,
		log.OperationKey, log.OperationEvaluate,
		log.SamplesKey, rows,
		log.MetricKey, primary,
		log.MetricValueKey, res.Metrics[primary].Value,
		log.DurationMsKey, res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Engine) classification(res *Result, tm *training.TrainedModel, X *mat.Dense, y, pred *mat.VecDense) error {
	nClasses := tm.NumClasses()
	for i := 0; i < y.Len(); i++ {
		for _, v := range []float64{y.AtVec(i), pred.AtVec(i)} {
			if int(v)+1 > nClasses {
				nClasses = int(v) + 1
			}
		}
	}
	res.Classes = classNames(tm, nClasses)

	acc, err := metrics.Accuracy(y, pred)
	if err != nil {
		return err
	}
	res.set(metrics.NameAccuracy, acc)

	precision, recall, f1, err := metrics.PrecisionRecallF1(y, pred, nClasses)
	if err != nil {
		return err
	}
	res.set(metrics.NamePrecision, precision)
	res.set(metrics.NameRecall, recall)
	res.set(metrics.NameF1, f1)

	if res.ConfusionMatrix, err = metrics.ConfusionMatrix(y, pred, nClasses); err != nil {
		return err
	}

	proba, err := tm.PredictProba(X)
	if err != nil {
		var valErr *errors.ValueError
		if !errors.As(err, &valErr) {
			return err
		}
		reason := tm.Name + " does not produce probabilities"
		res.notApplicable(metrics.NameROCAUC, reason)
		res.notApplicable(metrics.NameLogLoss, reason)
		return nil
	}

	if nClasses == 2 {
		positive := mat.VecDenseCopyOf(proba.ColView(1))
		if auc, err := metrics.AUC(y, positive); err != nil {
			res.notApplicable(metrics.NameROCAUC, err.Error())
		} else {
			res.set(metrics.NameROCAUC, auc)
			res.ROC, _ = metrics.ROCCurve(y, positive)
		}
		if ll, err := metrics.BinaryLogLoss(y, positive); err != nil {
			res.notApplicable(metrics.NameLogLoss, err.Error())
		} else {
			res.set(metrics.NameLogLoss, ll)
		}
		return nil
	}

	res.notApplicable(metrics.NameLogLoss, "log loss is reported for binary classification only")
	if !e.oneVsRest {
		res.notApplicable(metrics.NameROCAUC, fmt.Sprintf("%d classes; enable one-vs-rest AUC", nClasses))
		return nil
	}
	if auc, err := metrics.OneVsRestAUC(y, proba); err != nil {
		res.notApplicable(metrics.NameROCAUC, err.Error())
	} else {
		res.set(metrics.NameROCAUC, auc)
	}
	return nil
}

func (e *Engine) regression(res *Result, y, pred *mat.VecDense) error {
	for _, m := range []struct {
		name string
		fn   func(yTrue, yPred *mat.VecDense) (float64, error)
	}{
		{metrics.NameMSE, metrics.MSE},
		{metrics.NameRMSE, metrics.RMSE},
		{metrics.NameMAE, metrics.MAE},
		{metrics.NameR2, metrics.R2Score},
		{metrics.NameExplainedVariance, metrics.ExplainedVarianceScore},
		{metrics.NameMAPE, metrics.MAPE},
	} {
		v, err := m.fn(y, pred)
		switch {
		case errors.Is(err, metrics.ErrZeroVariance):
			res.notApplicable(m.name, "y_test has zero variance")
		case err != nil && m.name == metrics.NameMAPE:
			res.notApplicable(m.name, err.Error())
		case err != nil:
			return err
		default:
			res.set(m.name, v)
		}
	}

	var err error
	if res.Residuals, err = metrics.Residuals(y, pred); err != nil {
		return err
	}
	res.ActualVsPredicted = make([]Pair, y.Len())
	for i := range res.ActualVsPredicted {
		res.ActualVsPredicted[i] = Pair{Actual: y.AtVec(i), Predicted: pred.AtVec(i)}
	}
	return nil
}

func (r *Result) set(name string, v float64) {
	r.Metrics[name] = Metric{Name: name, Value: v}
}

func (r *Result) notApplicable(name, reason string) {
	r.Metrics[name] = Metric{Name: name, NotApplicable: true, Reason: reason}
}

func classNames(tm *training.TrainedModel, n int) []string {
	if tm.State != nil && tm.State.Labels != nil {
		if names := tm.State.Classes(); len(names) >= n {
			return names
		}
	}
	names := make([]string, n)
	for i := range names {
		names[i] = strconv.Itoa(i)
	}
	return names
}

func featureNames(tm *training.TrainedModel, n int) []string {
	if tm.State != nil {
		if names := tm.State.FeatureNames(); len(names) == n {
			return names
		}
	}
	names := make([]string, n)
	for i := range names {
		names[i] = "x" + strconv.Itoa(i)
	}
	return names
}

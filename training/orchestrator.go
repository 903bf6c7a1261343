// Package training fits registry model specs on preprocessed data.
//
// Models are trained one after another. Within one model the CV folds run on
// a bounded worker pool and their scores are reduced in fold order, so the
// result does not depend on scheduling. A failing model is recorded as a
// TrainingFailure and the remaining models still train.
package training

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/core/parallel"
	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/metrics"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/pkg/log"
	"github.com/YuminosukeSato/mlexplorer/preprocessing"
	"github.com/YuminosukeSato/mlexplorer/registry"
	"github.com/YuminosukeSato/mlexplorer/telemetry"
)

// randomStateParam is injected into every estimator that exposes it.
const randomStateParam = "random_state"

// ProgressFunc is called after each model finishes, successfully or not.
// index is 1-based.
type ProgressFunc func(index, total int, modelName string, elapsedSeconds float64)

// Options controls how models are trained.
type Options struct {
	CVFolds        int // 0 disables cross-validation
	GridSearch     bool
	Seed           uint64
	SessionTimeout time.Duration // 0 means no limit
	Workers        int           // fold workers, 0 means NumCPU
	Progress       ProgressFunc
}

// Validate checks the options against the number of training rows.
func (o Options) Validate(nTrain int) error {
	switch {
	case o.CVFolds < 0:
		return errors.NewConfigurationError("training.cv_folds", o.CVFolds, "must not be negative")
	case o.CVFolds == 1 && o.GridSearch:
		return errors.NewConfigurationError("training.cv_folds", o.CVFolds, "grid search needs at least 2 folds")
	case o.GridSearch && o.CVFolds < 2:
		return errors.NewConfigurationError("training.grid_search", o.GridSearch, "grid search requires cv_folds >= 2")
	case o.CVFolds == 1:
		return errors.NewConfigurationError("training.cv_folds", o.CVFolds, "cross-validation needs at least 2 folds")
	case o.CVFolds > nTrain:
		return errors.NewConfigurationError("training.cv_folds", o.CVFolds, fmt.Sprintf("exceeds the %d training rows", nTrain))
	case o.SessionTimeout < 0:
		return errors.NewConfigurationError("training.session_timeout", o.SessionTimeout, "must not be negative")
	}
	return nil
}

// CVSummary is the fold scores of one parameter set.
type CVSummary struct {
	Metric string
	Scores []float64 // fold order
	Mean   float64
	Std    float64
}

// GridPoint is one evaluated grid search combination.
type GridPoint struct {
	Params map[string]interface{}
	CV     *CVSummary
	Err    error
}

// Result is the outcome of Train.
type Result struct {
	Models    []*TrainedModel
	Failures  []*errors.TrainingFailure
	Cancelled bool
	TimedOut  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithOptions sets the training options.
func WithOptions(opts Options) Option {
	return func(o *Orchestrator) { o.opts = opts }
}

// WithLogger sets the logger provider.
func WithLogger(provider log.LoggerProvider) Option {
	return func(o *Orchestrator) { o.logger = provider.GetLoggerWithName("Orchestrator") }
}

// WithTelemetry records fits and failures on tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *Orchestrator) { o.tel = tel }
}

// Orchestrator trains model specs.
type Orchestrator struct {
	opts   Options
	logger log.Logger
	tel    *telemetry.Telemetry
	now    func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.Default().GetLoggerWithName("Orchestrator")
	}
	if o.tel == nil {
		o.tel = telemetry.Noop()
	}
	return o
}

// ScoringMetric is the metric CV and grid search optimise for pt.
func ScoringMetric(pt dataset.ProblemType) string {
	if pt == dataset.Regression {
		return metrics.NameR2
	}
	return metrics.NameAccuracy
}

// Train fits every spec in order.
//
// ctx is checked before each model and between grid combinations; on
// cancellation the in-flight model is dropped and the finished ones are
// returned with Cancelled set. After SessionTimeout no new model starts.
// The returned error is non-nil only for invalid options or inputs.
func (o *Orchestrator) Train(ctx context.Context, specs []registry.ModelSpec, pt dataset.ProblemType,
	XTrain *mat.Dense, yTrain *mat.VecDense, state *preprocessing.State) (*Result, error) {
	nTrain, _ := XTrain.Dims()
	if err := o.opts.Validate(nTrain); err != nil {
		return nil, err
	}
	if yTrain.Len() != nTrain {
		return nil, errors.NewDimensionError("Orchestrator.Train", nTrain, yTrain.Len(), 0)
	}

	ctx, span := o.tel.Start(ctx, telemetry.SpanTraining, telemetry.AttrProblemType.String(pt.String()))
	defer span.End()

	start := o.now()
	var deadline time.Time
	if o.opts.SessionTimeout > 0 {
		deadline = start.Add(o.opts.SessionTimeout)
	}

	var folds []Fold
	if o.opts.CVFolds >= 2 {
		var err error
		if folds, err = o.splitter(pt).Split(yTrain); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	res := &Result{}
	for i, spec := range specs {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		if !deadline.IsZero() && !o.now().Before(deadline) {
			res.TimedOut = true
			o.logger.Warn("Session timeout reached, no further models are scheduled",
				log.ModelIndexKey, i,
				"remaining", len(specs)-i,
			)
			break
		}

		logger := o.logger.With(log.ModelNameKey, spec.Name, log.ModelIndexKey, spec.Index)
		fitCtx, fitSpan := o.tel.Start(ctx, telemetry.SpanFit, telemetry.AttrModel.String(spec.Name))
		fitStart := o.now()
		tm, err := o.trainModel(fitCtx, spec, pt, XTrain, yTrain, state, folds)
		fitDuration := o.now().Sub(fitStart)

		if err != nil && ctx.Err() != nil {
			fitSpan.End()
			res.Cancelled = true
			logger.Warn("Training cancelled", log.OperationKey, log.OperationFit)
			break
		}
		if err != nil {
			failure := errors.NewTrainingFailure(spec.Name, err)
			res.Failures = append(res.Failures, failure)
			telemetry.RecordError(fitSpan, err)
			fitSpan.SetAttributes(telemetry.AttrFailureKind.String(failure.Kind))
			o.tel.ObserveFailure(spec.Name, failure.Kind)
			logger.Error("Model training failed",
				err,
				log.OperationKey, log.OperationFit,
				log.FailureKindKey, failure.Kind,
			)
		} else {
			tm.FitDuration = fitDuration
			res.Models = append(res.Models, tm)
			o.tel.ObserveFit(spec.Name, pt.String(), fitDuration)
			fields := []any{
				log.OperationKey, log.OperationFit,
				log.HyperParamsKey, model.FormatParams(tm.Params),
				log.DurationMsKey, fitDuration.Milliseconds(),
			}
			if tm.CV != nil {
				fields = append(fields, log.FoldsKey, len(tm.CV.Scores), log.CVMeanKey, tm.CV.Mean, log.CVStdKey, tm.CV.Std)
			}
			logger.Info("Model trained", fields...)
		}
		fitSpan.End()

		if o.opts.Progress != nil {
			o.opts.Progress(i+1, len(specs), spec.Name, o.now().Sub(start).Seconds())
		}
	}
	return res, nil
}

func (o *Orchestrator) splitter(pt dataset.ProblemType) Splitter {
	if pt == dataset.Classification {
		return NewStratifiedKFold(o.opts.CVFolds, true, o.opts.Seed)
	}
	return NewKFold(o.opts.CVFolds, true, o.opts.Seed)
}

// trainModel runs CV or grid search as configured, then fits the final
// estimator on the full training set.
func (o *Orchestrator) trainModel(ctx context.Context, spec registry.ModelSpec, pt dataset.ProblemType,
	X *mat.Dense, y *mat.VecDense, state *preprocessing.State, folds []Fold) (*TrainedModel, error) {
	if !spec.Supports(pt) {
		return nil, errors.NewValueError("Orchestrator.Train", fmt.Sprintf("%s does not support %s", spec.Name, pt))
	}

	tm := &TrainedModel{
		Name:        spec.Name,
		Family:      spec.Family,
		Index:       spec.Index,
		ProblemType: pt,
		State:       state,
	}

	params := spec.Grid.Defaults()
	switch {
	case o.opts.GridSearch && len(folds) > 0:
		best, trace, err := o.gridSearch(ctx, spec, pt, X, y, folds)
		tm.GridTrace = trace
		if err != nil {
			return nil, err
		}
		params = trace[best].Params
		tm.CV = trace[best].CV
	case len(folds) > 0:
		summary, err := o.crossValidate(spec, pt, params, X, y, folds)
		if err != nil {
			return nil, err
		}
		tm.CV = summary
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	est, used, err := o.build(spec, pt, params)
	if err != nil {
		return nil, err
	}
	err = errors.SafeExecute(spec.Name+".Fit", func() error { return est.Fit(X, y) })
	if err != nil {
		return nil, err
	}
	tm.Estimator = est
	tm.Params = used
	return tm, nil
}

// gridSearch scores every combination by CV mean and returns the index of
// the best one. Ties keep the earlier combination. A failing combination is
// recorded in the trace and skipped.
func (o *Orchestrator) gridSearch(ctx context.Context, spec registry.ModelSpec, pt dataset.ProblemType,
	X *mat.Dense, y *mat.VecDense, folds []Fold) (int, []GridPoint, error) {
	combos := spec.Grid.Combinations()
	if len(combos) == 0 {
		combos = []map[string]interface{}{{}}
	}
	dir, err := metrics.DirectionOf(ScoringMetric(pt))
	if err != nil {
		return -1, nil, err
	}

	trace := make([]GridPoint, 0, len(combos))
	best := -1
	var firstErr error
	for c, combo := range combos {
		if err := ctx.Err(); err != nil {
			return -1, trace, err
		}
		summary, err := o.crossValidate(spec, pt, combo, X, y, folds)
		trace = append(trace, GridPoint{Params: combo, CV: summary, Err: err})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			o.logger.Debug("Grid combination failed",
				log.ModelNameKey, spec.Name,
				log.CombinationKey, c,
				log.HyperParamsKey, model.FormatParams(combo),
				"error", err.Error(),
			)
			continue
		}
		if best < 0 || dir.Better(summary.Mean, trace[best].CV.Mean) {
			best = c
		}
		o.logger.Debug("Grid combination scored",
			log.ModelNameKey, spec.Name,
			log.CombinationKey, c,
			log.CombinationsKey, len(combos),
			log.HyperParamsKey, model.FormatParams(combo),
			log.CVMeanKey, summary.Mean,
		)
	}
	if best < 0 {
		return -1, trace, firstErr
	}
	return best, trace, nil
}

// crossValidate fits params on every fold concurrently. Scores are stored by
// fold index and reduced in that order.
func (o *Orchestrator) crossValidate(spec registry.ModelSpec, pt dataset.ProblemType, params map[string]interface{},
	X *mat.Dense, y *mat.VecDense, folds []Fold) (*CVSummary, error) {
	scores := make([]float64, len(folds))
	err := parallel.ForEach(len(folds), o.opts.Workers, func(i int) error {
		// ワーカー内のpanicはここで捕まえないとプロセスごと落ちる
		return errors.SafeExecute(fmt.Sprintf("%s.fold[%d]", spec.Name, i), func() error {
			est, _, err := o.build(spec, pt, params)
			if err != nil {
				return err
			}
			xTr, yTr := subsetRows(X, y, folds[i].TrainIndices)
			xTe, yTe := subsetRows(X, y, folds[i].TestIndices)
			if err := est.Fit(xTr, yTr); err != nil {
				return err
			}
			pred, err := est.Predict(xTe)
			if err != nil {
				return err
			}
			scores[i], err = foldScore(pt, yTe, pred)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	summary := &CVSummary{Metric: ScoringMetric(pt), Scores: scores}
	if len(scores) > 1 {
		summary.Mean, summary.Std = stat.MeanStdDev(scores, nil)
	} else {
		summary.Mean = scores[0]
	}
	if err := errors.CheckScalar(spec.Name+".cv_mean", summary.Mean, 0); err != nil {
		return nil, err
	}
	return summary, nil
}

// build creates an estimator for params layered over the grid defaults and
// injects the session seed into estimators that take one. It returns the
// effective parameters.
func (o *Orchestrator) build(spec registry.ModelSpec, pt dataset.ProblemType, params map[string]interface{}) (model.Estimator, map[string]interface{}, error) {
	merged := spec.Grid.Defaults()
	for k, v := range params {
		merged[k] = v
	}
	est, err := spec.Build(pt, merged)
	if err != nil {
		return nil, nil, err
	}
	if getter, ok := est.(model.ParameterGetter); ok {
		if _, has := getter.GetParams()[randomStateParam]; has {
			if setter, ok := est.(model.ParameterSetter); ok {
				if err := setter.SetParams(map[string]interface{}{randomStateParam: o.opts.Seed}); err != nil {
					return nil, nil, err
				}
				merged[randomStateParam] = o.opts.Seed
			}
		}
	}
	return est, merged, nil
}

// foldScore is accuracy for classification and R² for regression. A constant
// fold target scores 1 for a perfect fit and 0 otherwise.
func foldScore(pt dataset.ProblemType, yTrue *mat.VecDense, pred mat.Matrix) (float64, error) {
	yPred := columnVec(pred)
	if pt == dataset.Classification {
		return metrics.Accuracy(yTrue, yPred)
	}
	score, err := metrics.R2Score(yTrue, yPred)
	if errors.Is(err, metrics.ErrZeroVariance) {
		mse, mseErr := metrics.MSE(yTrue, yPred)
		if mseErr != nil {
			return 0, mseErr
		}
		if mse == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return score, err
}

// columnVec copies the first column of m.
func columnVec(m mat.Matrix) *mat.VecDense {
	if v, ok := m.(*mat.VecDense); ok {
		return v
	}
	n, _ := m.Dims()
	v := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		v.SetVec(i, m.At(i, 0))
	}
	return v
}

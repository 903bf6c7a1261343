// Package session runs one end-to-end training session: preprocess the
// dataset, train the selected families, evaluate them on the held-out split
// and rank them.
//
// A TrainingSession owns every TrainedModel and evaluation it produces. It is
// not safe for concurrent use and runs at most once.
package session

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/mlexplorer/artifact"
	"github.com/YuminosukeSato/mlexplorer/backend"
	"github.com/YuminosukeSato/mlexplorer/config"
	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/evaluation"
	_ "github.com/YuminosukeSato/mlexplorer/interpret" // shap backend
	"github.com/YuminosukeSato/mlexplorer/leaderboard"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/pkg/log"
	"github.com/YuminosukeSato/mlexplorer/preprocessing"
	"github.com/YuminosukeSato/mlexplorer/registry"
	"github.com/YuminosukeSato/mlexplorer/telemetry"
	"github.com/YuminosukeSato/mlexplorer/training"
)

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("session: already run")

// ErrNotRun is returned by accessors that need a finished Run.
var ErrNotRun = errors.New("session: not run")

// Option configures a TrainingSession.
type Option func(*TrainingSession)

// WithLogger sets the logger provider. Without it the session creates a
// zerolog provider at Config.Log.Level.
func WithLogger(provider log.LoggerProvider) Option {
	return func(s *TrainingSession) { s.provider = provider }
}

// WithTelemetry sets the metrics and tracing sink. Without it the session
// registers collectors on the default Prometheus registerer when
// Config.Telemetry.Enabled is set and records nothing otherwise.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *TrainingSession) { s.tel = tel }
}

// WithCapabilities restricts the model and interpretation backends.
func WithCapabilities(caps backend.Capabilities) Option {
	return func(s *TrainingSession) {
		s.caps = caps
		s.capsSet = true
	}
}

// WithProgress sets the callback invoked after every model fit.
func WithProgress(fn training.ProgressFunc) Option {
	return func(s *TrainingSession) { s.progress = fn }
}

// TrainingSession is one run over one dataset.
type TrainingSession struct {
	ID     uuid.UUID
	Config config.Config

	provider log.LoggerProvider
	logger   log.Logger
	tel      *telemetry.Telemetry
	caps     backend.Capabilities
	capsSet  bool
	progress training.ProgressFunc

	ran         bool
	prep        *preprocessing.Result
	problemType dataset.ProblemType
	metric      string
	trained     *training.Result
	evaluations []*evaluation.Result
	failures    []*errors.TrainingFailure
	board       *leaderboard.Leaderboard
	duration    time.Duration
}

// New validates cfg and creates a session.
func New(cfg config.Config, opts ...Option) (*TrainingSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &TrainingSession{ID: uuid.New(), Config: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if s.provider == nil {
		level, _ := log.ParseLevel(cfg.Log.Level)
		zp := log.NewZerologProvider(level)
		zp.InstallWarningHook()
		s.provider = zp
	}
	s.logger = s.provider.GetLoggerWithName("Session").With(log.SessionIDKey, s.ID.String())

	if s.tel == nil {
		if cfg.Telemetry.Enabled {
			tel, err := telemetry.New(cfg.Telemetry.Namespace, nil)
			if err != nil {
				return nil, errors.Wrap(err, "session: register telemetry")
			}
			s.tel = tel
		} else {
			s.tel = telemetry.Noop()
		}
	}
	if !s.capsSet {
		s.caps = backend.Snapshot()
	}
	return s, nil
}

// Run executes the session. Configuration and schema errors abort it and are
// returned. Per-model training and evaluation failures are recorded and
// available from Failures. Cancellation of ctx or the session timeout keeps
// the models finished so far.
func (s *TrainingSession) Run(ctx context.Context, ds *dataset.Dataset) error {
	if s.ran {
		return ErrAlreadyRun
	}
	s.ran = true

	start := time.Now()
	ctx, span := s.tel.Start(ctx, telemetry.SpanSession, telemetry.AttrSessionID.String(s.ID.String()))
	defer span.End()

	err := s.run(ctx, ds)
	s.duration = time.Since(start)
	s.tel.ObserveSession(s.duration)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Error("Session aborted", err, log.DurationMsKey, s.duration.Milliseconds())
		return err
	}
	span.SetAttributes(telemetry.AttrProblemType.String(s.problemType.String()))

	fields := []any{
		log.ProblemTypeKey, s.problemType.String(),
		"models", len(s.trained.Models),
		"failures", len(s.failures),
		log.DurationMsKey, s.duration.Milliseconds(),
	}
	if best, err := s.board.Best(); err == nil {
		fields = append(fields, log.ModelNameKey, best.Model.Name, log.MetricKey, s.metric)
	}
	s.logger.Info("Session completed", fields...)
	return nil
}

func (s *TrainingSession) run(ctx context.Context, ds *dataset.Dataset) error {
	if ds == nil {
		return errors.ErrEmptyData
	}
	cfg := s.Config

	// preprocessing
	_, prepSpan := s.tel.Start(ctx, telemetry.SpanPreprocessing)
	prep, err := preprocessing.NewPipeline(
		preprocessing.WithOptions(cfg.PreprocessingOptions()),
		preprocessing.WithLogger(s.provider),
	).FitTransform(ds, cfg.Target, cfg.Features)
	if err != nil {
		telemetry.RecordError(prepSpan, err)
		prepSpan.End()
		return err
	}
	prepSpan.End()
	s.prep = prep
	s.problemType = prep.State.ProblemType
	s.logger.Info("Dataset prepared",
		log.PhaseKey, log.PhasePreprocessing,
		log.ProblemTypeKey, s.problemType.String(),
		log.TrainRowsKey, len(prep.TrainRows),
		log.TestRowsKey, len(prep.TestRows),
		log.FeaturesKey, len(prep.State.FeatureNames()),
	)

	if s.metric, err = cfg.PrimaryMetric(s.problemType); err != nil {
		return err
	}
	specs, err := registry.New(s.caps).Select(s.problemType, cfg.Training.Models)
	if err != nil {
		return err
	}

	// training
	orch := training.NewOrchestrator(
		training.WithOptions(training.Options{
			CVFolds:        cfg.Training.CVFolds,
			GridSearch:     cfg.Training.GridSearch,
			Seed:           cfg.Preprocessing.RandomSeed,
			SessionTimeout: cfg.Training.SessionTimeout,
			Workers:        cfg.Training.Workers,
			Progress:       s.progress,
		}),
		training.WithLogger(s.provider),
		training.WithTelemetry(s.tel),
	)
	s.trained, err = orch.Train(ctx, specs, s.problemType, prep.XTrain, prep.YTrain, prep.State)
	if err != nil {
		return err
	}
	s.failures = append(s.failures, s.trained.Failures...)
	s.logger.Info("Training finished",
		log.PhaseKey, log.PhaseTraining,
		"models", len(s.trained.Models),
		"failures", len(s.trained.Failures),
		"cancelled", s.trained.Cancelled,
		"timed_out", s.trained.TimedOut,
	)

	// evaluation
	engine := evaluation.NewEngine(
		evaluation.WithOneVsRestAUC(cfg.Evaluation.OneVsRestAUC),
		evaluation.WithInterpretation(cfg.Evaluation.Interpret),
		evaluation.WithPermutationRepeats(cfg.Evaluation.PermutationRepeats),
		evaluation.WithInterpretSamples(cfg.Evaluation.InterpretSamples),
		evaluation.WithSeed(cfg.Preprocessing.RandomSeed),
		evaluation.WithCapabilities(s.caps),
		evaluation.WithWorkers(cfg.Training.Workers),
		evaluation.WithLogger(s.provider),
		evaluation.WithTelemetry(s.tel),
	)
	for _, tm := range s.trained.Models {
		res, err := engine.Evaluate(ctx, tm, prep.XTest, prep.YTest)
		if err != nil {
			failure := errors.NewTrainingFailure(tm.Name, errors.Wrap(err, "evaluate"))
			s.failures = append(s.failures, failure)
			s.logger.Error("Model evaluation failed",
				err,
				log.PhaseKey, log.PhaseEvaluation,
				log.ModelNameKey, tm.Name,
				log.FailureKindKey, failure.Kind,
			)
			continue
		}
		s.evaluations = append(s.evaluations, res)
	}

	// ranking
	_, rankSpan := s.tel.Start(ctx, telemetry.SpanRanking)
	defer rankSpan.End()
	if s.board, err = leaderboard.Rank(s.evaluations, s.metric); err != nil {
		telemetry.RecordError(rankSpan, err)
		return err
	}
	return nil
}

// ProblemType is the resolved problem type, 0 before Run.
func (s *TrainingSession) ProblemType() dataset.ProblemType { return s.problemType }

// PrimaryMetric is the ranking metric, empty before Run.
func (s *TrainingSession) PrimaryMetric() string { return s.metric }

// Duration is the wall time of Run.
func (s *TrainingSession) Duration() time.Duration { return s.duration }

// Preprocessed returns the split and fitted state, nil before Run.
func (s *TrainingSession) Preprocessed() *preprocessing.Result { return s.prep }

// Models returns the successfully trained models in registry order.
func (s *TrainingSession) Models() []*training.TrainedModel {
	if s.trained == nil {
		return nil
	}
	return append([]*training.TrainedModel(nil), s.trained.Models...)
}

// Evaluations returns the evaluation results in registry order.
func (s *TrainingSession) Evaluations() []*evaluation.Result {
	return append([]*evaluation.Result(nil), s.evaluations...)
}

// Failures returns the isolated per-model failures.
func (s *TrainingSession) Failures() []*errors.TrainingFailure {
	return append([]*errors.TrainingFailure(nil), s.failures...)
}

// Cancelled reports whether training stopped because ctx was cancelled.
func (s *TrainingSession) Cancelled() bool { return s.trained != nil && s.trained.Cancelled }

// TimedOut reports whether the session timeout stopped scheduling.
func (s *TrainingSession) TimedOut() bool { return s.trained != nil && s.trained.TimedOut }

// Leaderboard returns the ranking, or ErrNotRun.
func (s *TrainingSession) Leaderboard() (*leaderboard.Leaderboard, error) {
	if s.board == nil {
		return nil, ErrNotRun
	}
	return s.board, nil
}

// Best returns the top-ranked evaluation.
func (s *TrainingSession) Best() (*evaluation.Result, error) {
	lb, err := s.Leaderboard()
	if err != nil {
		return nil, err
	}
	return lb.Best()
}

// SaveBest writes the top-ranked model as an artifact to w.
func (s *TrainingSession) SaveBest(ctx context.Context, w io.Writer) (*artifact.Artifact, error) {
	best, err := s.Best()
	if err != nil {
		return nil, err
	}
	_, span := s.tel.Start(ctx, telemetry.SpanPersistence, telemetry.AttrModel.String(best.Model.Name))
	defer span.End()

	a, err := artifact.Save(w, best.Model)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	s.logArtifact(best.Model.Name, a, "")
	return a, nil
}

// SaveBestFile writes the top-ranked model under Config.Artifact.Dir and
// returns the file path.
func (s *TrainingSession) SaveBestFile(ctx context.Context) (string, error) {
	best, err := s.Best()
	if err != nil {
		return "", err
	}
	_, span := s.tel.Start(ctx, telemetry.SpanPersistence, telemetry.AttrModel.String(best.Model.Name))
	defer span.End()

	path, err := artifact.SaveFile(s.Config.Artifact.Dir, best.Model)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	s.logArtifact(best.Model.Name, nil, path)
	return path, nil
}

func (s *TrainingSession) logArtifact(model string, a *artifact.Artifact, path string) {
	fields := []any{
		log.PhaseKey, log.PhasePersistence,
		log.OperationKey, log.OperationSave,
		log.ModelNameKey, model,
	}
	if a != nil {
		fields = append(fields, log.ArtifactIDKey, a.ID.String())
	}
	if path != "" {
		fields = append(fields, "path", path)
	}
	s.logger.Info("Artifact saved", fields...)
}

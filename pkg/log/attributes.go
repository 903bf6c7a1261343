// Standard attribute keys for training sessions.
//
// Keys follow a hierarchical naming convention ("model.name",
// "data.samples") so that log lines from preprocessing, training,
// evaluation and persistence can be filtered by the same fields.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the registry name of a model family.
	// Examples: "logistic_regression", "random_forest"
	ModelNameKey = "model.name"

	// ModelIndexKey is the position of the model in registry order.
	ModelIndexKey = "model.index"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "fit_transform", "evaluate"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component is logging.
	// Examples: "Pipeline", "Orchestrator", "Evaluator"
	ComponentKey = "ml.component"

	// PhaseKey indicates the session phase.
	PhaseKey = "ml.phase"

	// SessionIDKey identifies a training session.
	SessionIDKey = "session.id"

	// ProblemTypeKey is "classification" or "regression".
	ProblemTypeKey = "session.problem_type"

	// ArtifactIDKey identifies a persisted artifact.
	ArtifactIDKey = "artifact.id"
)

// Data Shape
const (
	// SamplesKey indicates the number of rows.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of feature columns.
	FeaturesKey = "data.features"

	// ClassesKey indicates the number of target classes.
	ClassesKey = "data.classes"

	// TrainRowsKey and TestRowsKey record the split sizes.
	TrainRowsKey = "data.train_rows"
	TestRowsKey  = "data.test_rows"

	// ColumnKey names a single dataset column.
	ColumnKey = "data.column"
)

// Performance and Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// MetricKey names the metric a value belongs to.
	MetricKey = "metrics.name"

	// MetricValueKey records a metric value.
	MetricValueKey = "metrics.value"

	// AccuracyKey records classification accuracy.
	AccuracyKey = "metrics.accuracy"

	// R2ScoreKey records the coefficient of determination.
	R2ScoreKey = "metrics.r2_score"

	// IterationKey records the iteration number of an iterative solver.
	IterationKey = "training.iteration"
)

// Cross-validation and grid search
const (
	// FoldsKey records the number of CV folds.
	FoldsKey = "cv.folds"

	// CVMeanKey and CVStdKey record the CV score distribution.
	CVMeanKey = "cv.mean"
	CVStdKey  = "cv.std"

	// CombinationKey is the index of a grid search combination.
	CombinationKey = "grid.combination"

	// CombinationsKey is the number of grid search combinations.
	CombinationsKey = "grid.combinations"

	// HyperParamsKey contains the hyperparameters in use.
	HyperParamsKey = "model.hyperparams"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Error Context
const (
	// ErrorCodeKey provides a structured error code.
	ErrorCodeKey = "error.code"

	// FailureKindKey categorizes a per-model training failure.
	FailureKindKey = "error.failure_kind"
)

// Standard attribute values.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationEvaluate     = "evaluate"
	OperationSave         = "save"
	OperationLoad         = "load"

	PhasePreprocessing = "preprocessing"
	PhaseTraining      = "training"
	PhaseEvaluation    = "evaluation"
	PhaseRanking       = "ranking"
	PhasePersistence   = "persistence"
)

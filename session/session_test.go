package session

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/YuminosukeSato/mlexplorer/artifact"
	"github.com/YuminosukeSato/mlexplorer/backend"
	"github.com/YuminosukeSato/mlexplorer/config"
	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/metrics"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/pkg/log"
	"github.com/YuminosukeSato/mlexplorer/telemetry"
)

// flowers は3クラスのブロブにカテゴリ列を加えたデータ
func flowers(t *testing.T, perClass int) *dataset.Dataset {
	t.Helper()
	r := rand.New(rand.NewPCG(3, 3^0x9e3779b97f4a7c15))
	species := []string{"setosa", "versicolor", "virginica"}
	centers := [][]float64{{1, 1}, {6, 6}, {-4, 6}}
	n := perClass * len(species)
	length, width := make([]float64, n), make([]float64, n)
	soil := make([]string, n)
	labels := make([]string, n)
	for c := range species {
		for i := 0; i < perClass; i++ {
			row := c*perClass + i
			length[row] = centers[c][0] + r.NormFloat64()*0.6
			width[row] = centers[c][1] + r.NormFloat64()*0.6
			soil[row] = []string{"clay", "sand"}[row%2]
			labels[row] = species[c]
		}
	}
	ds, err := dataset.New(
		dataset.NewNumericColumn("length", length),
		dataset.NewNumericColumn("width", width),
		dataset.NewCategoricalColumn("soil", soil),
		dataset.NewCategoricalColumn("species", labels),
	)
	require.NoError(t, err)
	return ds
}

func housing(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	r := rand.New(rand.NewPCG(8, 8^0x9e3779b97f4a7c15))
	rooms, age, price := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		rooms[i] = 1 + r.Float64()*6
		age[i] = r.Float64() * 50
		price[i] = 50*rooms[i] - 0.8*age[i] + 20 + r.NormFloat64()
	}
	ds, err := dataset.New(
		dataset.NewNumericColumn("rooms", rooms),
		dataset.NewNumericColumn("age", age),
		dataset.NewNumericColumn("price", price),
	)
	require.NoError(t, err)
	return ds
}

func baseConfig(target string, models ...string) config.Config {
	cfg := config.Default()
	cfg.Target = target
	cfg.Training.CVFolds = 3
	cfg.Training.Models = models
	return cfg
}

func newSession(t *testing.T, cfg config.Config, opts ...Option) (*TrainingSession, *log.TestLoggerProvider) {
	t.Helper()
	provider, _ := log.NewTestLoggerProvider(log.LevelDebug)
	opts = append([]Option{WithLogger(provider), WithCapabilities(backend.NewCapabilities())}, opts...)
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	return s, provider
}

func TestRunClassification(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	reg := prometheus.NewRegistry()
	tel, err := telemetry.New("mlx", reg, telemetry.WithTracerProvider(tp))
	require.NoError(t, err)

	var progressed []string
	models := []string{"logistic_regression", "decision_tree", "knn", "gaussian_nb"}
	s, provider := newSession(t, baseConfig("species", models...),
		WithTelemetry(tel),
		WithProgress(func(index, total int, name string, _ float64) {
			assert.Equal(t, len(models), total)
			progressed = append(progressed, fmt.Sprintf("%d:%s", index, name))
		}),
	)

	_, err = s.Leaderboard()
	assert.ErrorIs(t, err, ErrNotRun)

	require.NoError(t, s.Run(context.Background(), flowers(t, 30)))

	assert.Equal(t, dataset.Classification, s.ProblemType())
	assert.Equal(t, metrics.NameAccuracy, s.PrimaryMetric())
	assert.Empty(t, s.Failures())
	assert.False(t, s.Cancelled())
	assert.False(t, s.TimedOut())
	assert.Equal(t, []string{"1:logistic_regression", "2:decision_tree", "3:knn", "4:gaussian_nb"}, progressed)
	assert.Len(t, s.Models(), len(models))
	assert.Len(t, s.Evaluations(), len(models))
	for _, tm := range s.Models() {
		require.NotNil(t, tm.CV, tm.Name)
		assert.Len(t, tm.CV.Scores, 3)
	}

	lb, err := s.Leaderboard()
	require.NoError(t, err)
	assert.Equal(t, len(models), lb.Len())
	best, err := s.Best()
	require.NoError(t, err)
	assert.Equal(t, lb.Entries()[0].Result, best)
	assert.GreaterOrEqual(t, best.Metrics[metrics.NameAccuracy].Value, 0.9)

	assert.True(t, provider.Logger().ContainsMessage("Session completed"))
	assert.True(t, provider.Logger().ContainsField(log.SessionIDKey, s.ID.String()))

	spans := map[string]int{}
	for _, span := range recorder.Ended() {
		spans[span.Name()]++
	}
	assert.Equal(t, 1, spans[telemetry.SpanSession])
	assert.Equal(t, 1, spans[telemetry.SpanPreprocessing])
	assert.Equal(t, len(models), spans[telemetry.SpanFit])
	assert.Equal(t, len(models), spans[telemetry.SpanEvaluation])
	assert.Equal(t, 1, spans[telemetry.SpanRanking])

	families, err := testutil.GatherAndCount(reg, "mlx_training_models_trained_total")
	require.NoError(t, err)
	assert.Equal(t, len(models), families)
	durations, err := testutil.GatherAndCount(reg, "mlx_session_session_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, durations)

	assert.ErrorIs(t, s.Run(context.Background(), flowers(t, 30)), ErrAlreadyRun)
}

func TestRunRegression(t *testing.T) {
	cfg := baseConfig("price", "linear_regression", "ridge", "decision_tree")
	cfg.Evaluation.Interpret = true
	s, _ := newSession(t, cfg, WithCapabilities(backend.Snapshot()))
	require.NoError(t, s.Run(context.Background(), housing(t, 120)))

	assert.Equal(t, dataset.Regression, s.ProblemType())
	assert.Equal(t, metrics.NameRMSE, s.PrimaryMetric())
	best, err := s.Best()
	require.NoError(t, err)
	assert.Contains(t, []string{"linear_regression", "ridge"}, best.Model.Name)
	assert.Greater(t, best.Metrics[metrics.NameR2].Value, 0.95)
	assert.True(t, best.Interpretation.Available, best.Interpretation.Reason)
}

func TestRunAborts(t *testing.T) {
	tests := []struct {
		name  string
		cfg   func() config.Config
		check func(t *testing.T, err error)
	}{
		{
			name: "missing_target",
			cfg:  func() config.Config { return baseConfig("colour") },
			check: func(t *testing.T, err error) {
				var schemaErr *errors.SchemaError
				require.True(t, errors.As(err, &schemaErr), "got %v", err)
				assert.Equal(t, "colour", schemaErr.Column)
			},
		},
		{
			name: "metric_for_other_problem",
			cfg: func() config.Config {
				c := baseConfig("species")
				c.Evaluation.PrimaryMetric = metrics.NameR2
				return c
			},
			check: func(t *testing.T, err error) {
				var cfgErr *errors.ConfigurationError
				require.True(t, errors.As(err, &cfgErr), "got %v", err)
				assert.Equal(t, "evaluation.primary_metric", cfgErr.Option)
			},
		},
		{
			name: "unknown_model",
			cfg:  func() config.Config { return baseConfig("species", "svm") },
			check: func(t *testing.T, err error) {
				var cfgErr *errors.ConfigurationError
				require.True(t, errors.As(err, &cfgErr), "got %v", err)
				assert.Equal(t, "training.models", cfgErr.Option)
			},
		},
		{
			name: "regression_model_for_classification",
			cfg:  func() config.Config { return baseConfig("species", "ridge") },
			check: func(t *testing.T, err error) {
				var cfgErr *errors.ConfigurationError
				assert.True(t, errors.As(err, &cfgErr), "got %v", err)
			},
		},
		{
			name: "too_many_folds",
			cfg: func() config.Config {
				c := baseConfig("species", "knn")
				c.Training.CVFolds = 500
				return c
			},
			check: func(t *testing.T, err error) {
				var cfgErr *errors.ConfigurationError
				require.True(t, errors.As(err, &cfgErr), "got %v", err)
				assert.Equal(t, "training.cv_folds", cfgErr.Option)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, provider := newSession(t, tt.cfg())
			err := s.Run(context.Background(), flowers(t, 10))
			require.Error(t, err)
			tt.check(t, err)
			assert.True(t, provider.Logger().ContainsMessage("Session aborted"))

			_, err = s.Best()
			assert.ErrorIs(t, err, ErrNotRun)
		})
	}
}

func TestRunCancelledKeepsFinishedModels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, _ := newSession(t, baseConfig("species", "decision_tree", "knn", "gaussian_nb"),
		WithProgress(func(index, _ int, _ string, _ float64) {
			if index == 1 {
				cancel()
			}
		}),
	)
	require.NoError(t, s.Run(ctx, flowers(t, 20)))
	assert.True(t, s.Cancelled())
	require.Len(t, s.Models(), 1)
	assert.Equal(t, "decision_tree", s.Models()[0].Name)

	best, err := s.Best()
	require.NoError(t, err)
	assert.Equal(t, "decision_tree", best.Model.Name)
}

func TestSaveBest(t *testing.T) {
	ds := flowers(t, 20)
	cfg := baseConfig("species", "decision_tree", "gaussian_nb")
	cfg.Artifact.Dir = filepath.Join(t.TempDir(), "out")
	s, provider := newSession(t, cfg)

	var buf bytes.Buffer
	_, err := s.SaveBest(context.Background(), &buf)
	assert.ErrorIs(t, err, ErrNotRun)

	require.NoError(t, s.Run(context.Background(), ds))
	best, err := s.Best()
	require.NoError(t, err)

	saved, err := s.SaveBest(context.Background(), &buf)
	require.NoError(t, err)
	assert.True(t, provider.Logger().ContainsField(log.ArtifactIDKey, saved.ID.String()))

	loaded, err := artifact.LoadFor(&buf, ds)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, loaded.ID)
	want, err := best.Model.PredictLabels(ds)
	require.NoError(t, err)
	got, err := loaded.Model.PredictLabels(ds)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	path, err := s.SaveBestFile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cfg.Artifact.Dir, filepath.Dir(path))
	fromFile, err := artifact.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, best.Model.Name, fromFile.Model.Name)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := baseConfig("species")
	cfg.Training.CVFolds = 1
	_, err := New(cfg)
	var cfgErr *errors.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "training.cv_folds", cfgErr.Option)
}

func TestLeaderboardOrderFollowsMetricDirection(t *testing.T) {
	t.Run("binary_accuracy_descending", func(t *testing.T) {
		r := rand.New(rand.NewPCG(12, 12^0x9e3779b97f4a7c15))
		n := 100
		x1, x2 := make([]float64, n), make([]float64, n)
		label := make([]string, n)
		for i := 0; i < n; i++ {
			x1[i], x2[i] = r.NormFloat64(), r.NormFloat64()
			label[i] = "ham"
			if x1[i]+0.5*x2[i]+r.NormFloat64()*0.8 > 0 {
				label[i] = "spam"
			}
		}
		ds, err := dataset.New(
			dataset.NewNumericColumn("x1", x1),
			dataset.NewNumericColumn("x2", x2),
			dataset.NewCategoricalColumn("label", label),
		)
		require.NoError(t, err)

		s, _ := newSession(t, baseConfig("label", "logistic_regression", "decision_tree", "knn"))
		require.NoError(t, s.Run(context.Background(), ds))
		assert.Equal(t, dataset.Classification, s.ProblemType())

		lb, err := s.Leaderboard()
		require.NoError(t, err)
		require.Equal(t, 3, lb.Len())
		entries := lb.Entries()
		for i := 1; i < len(entries); i++ {
			assert.GreaterOrEqual(t, entries[i-1].Value, entries[i].Value)
		}
	})

	t.Run("regression_rmse_ascending", func(t *testing.T) {
		s, _ := newSession(t, baseConfig("price", "linear_regression", "decision_tree", "knn"))
		require.NoError(t, s.Run(context.Background(), housing(t, 1000)))
		assert.Equal(t, dataset.Regression, s.ProblemType())

		lb, err := s.Leaderboard()
		require.NoError(t, err)
		require.Equal(t, 3, lb.Len())
		entries := lb.Entries()
		for i := 1; i < len(entries); i++ {
			assert.LessOrEqual(t, entries[i-1].Value, entries[i].Value)
		}
	})
}

func TestRunIsDeterministic(t *testing.T) {
	run := func() []float64 {
		s, _ := newSession(t, baseConfig("species", "logistic_regression", "random_forest"))
		require.NoError(t, s.Run(context.Background(), flowers(t, 20)))
		var out []float64
		for _, res := range s.Evaluations() {
			out = append(out, res.Metrics[metrics.NameAccuracy].Value, res.Metrics[metrics.NameF1].Value)
		}
		out = append(out, float64(s.Preprocessed().TestRows[0]))
		return out
	}
	assert.Equal(t, run(), run())
}

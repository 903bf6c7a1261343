package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

const sampleYAML = `
target: species
features: [sepal_length, sepal_width]
problem_type: classification
preprocessing:
  missing_strategy: median
  test_fraction: 0.25
  random_seed: 7
training:
  cv_folds: 5
  grid_search: true
  models: [knn, random_forest]
  session_timeout: 2m
evaluation:
  primary_metric: f1
  one_vs_rest_auc: true
log:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mlx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "species", cfg.Target)
	assert.Equal(t, []string{"sepal_length", "sepal_width"}, cfg.Features)
	assert.Equal(t, "median", cfg.Preprocessing.MissingStrategy)
	assert.Equal(t, 0.25, cfg.Preprocessing.TestFraction)
	assert.Equal(t, uint64(7), cfg.Preprocessing.RandomSeed)
	assert.True(t, cfg.Preprocessing.ScaleNumeric, "unset keys keep their defaults")
	assert.Equal(t, 5, cfg.Training.CVFolds)
	assert.True(t, cfg.Training.GridSearch)
	assert.Equal(t, []string{"knn", "random_forest"}, cfg.Training.Models)
	assert.Equal(t, 2*time.Minute, cfg.Training.SessionTimeout)
	assert.Equal(t, "f1", cfg.Evaluation.PrimaryMetric)
	assert.Equal(t, 5, cfg.Evaluation.PermutationRepeats)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "artifacts", cfg.Artifact.Dir)

	pt, err := cfg.ProblemTypeOverride()
	require.NoError(t, err)
	assert.Equal(t, dataset.Classification, pt)

	opts := cfg.PreprocessingOptions()
	assert.Equal(t, dataset.Classification, opts.ProblemType)
	assert.Equal(t, uint64(7), opts.RandomSeed)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MLX_TARGET", "price")
	t.Setenv("MLX_TRAINING_CV_FOLDS", "3")
	t.Setenv("MLX_PREPROCESSING_SCALE_NUMERIC", "false")
	t.Setenv("MLX_EVALUATION_INTERPRET", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "price", cfg.Target)
	assert.Equal(t, 3, cfg.Training.CVFolds)
	assert.False(t, cfg.Preprocessing.ScaleNumeric)
	assert.True(t, cfg.Evaluation.Interpret)
	assert.Equal(t, "auto", cfg.ProblemType)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "problem_type: auto\n"))
	var cfgErr *errors.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "target", cfgErr.Option)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Target = "y"
		return c
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		option string
	}{
		{"problem_type", func(c *Config) { c.ProblemType = "clustering" }, "problem_type"},
		{"missing_strategy", func(c *Config) { c.Preprocessing.MissingStrategy = "zero" }, "preprocessing.missing_strategy"},
		{"test_fraction", func(c *Config) { c.Preprocessing.TestFraction = 0.9 }, "preprocessing.test_fraction"},
		{"negative_folds", func(c *Config) { c.Training.CVFolds = -2 }, "training.cv_folds"},
		{"one_fold", func(c *Config) { c.Training.CVFolds = 1 }, "training.cv_folds"},
		{"grid_without_cv", func(c *Config) { c.Training.GridSearch = true }, "training.grid_search"},
		{"timeout", func(c *Config) { c.Training.SessionTimeout = -time.Second }, "training.session_timeout"},
		{"workers", func(c *Config) { c.Training.Workers = -1 }, "training.workers"},
		{"metric", func(c *Config) { c.Evaluation.PrimaryMetric = "bleu" }, "primary_metric"},
		{"repeats", func(c *Config) { c.Evaluation.PermutationRepeats = 0 }, "evaluation.permutation_repeats"},
		{"samples", func(c *Config) { c.Evaluation.InterpretSamples = 0 }, "evaluation.interpret_samples"},
		{"log_level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"telemetry_namespace", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Namespace = "" }, "telemetry.namespace"},
	}

	base := valid()
	require.NoError(t, base.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			var cfgErr *errors.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.option, cfgErr.Option)
		})
	}
}

func TestPrimaryMetric(t *testing.T) {
	c := Default()
	m, err := c.PrimaryMetric(dataset.Regression)
	require.NoError(t, err)
	assert.Equal(t, "rmse", m)
	m, err = c.PrimaryMetric(dataset.Classification)
	require.NoError(t, err)
	assert.Equal(t, "accuracy", m)

	c.Evaluation.PrimaryMetric = "accuracy"
	_, err = c.PrimaryMetric(dataset.Regression)
	var cfgErr *errors.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

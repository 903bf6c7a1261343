// Package config loads session configuration from an optional YAML file and
// MLX_ environment variables.
//
// Environment variables use the key path with "." replaced by "_", e.g.
// MLX_TRAINING_CV_FOLDS=5 or MLX_PREPROCESSING_TEST_FRACTION=0.25.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/metrics"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/pkg/log"
	"github.com/YuminosukeSato/mlexplorer/preprocessing"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "MLX"

// Config is the full session configuration.
type Config struct {
	Target        string              `mapstructure:"target"`
	Features      []string            `mapstructure:"features"`
	ProblemType   string              `mapstructure:"problem_type"`
	Preprocessing PreprocessingConfig `mapstructure:"preprocessing"`
	Training      TrainingConfig      `mapstructure:"training"`
	Evaluation    EvaluationConfig    `mapstructure:"evaluation"`
	Log           LogConfig           `mapstructure:"log"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Artifact      ArtifactConfig      `mapstructure:"artifact"`
}

type PreprocessingConfig struct {
	MissingStrategy   string  `mapstructure:"missing_strategy"`
	ScaleNumeric      bool    `mapstructure:"scale_numeric"`
	EncodeCategorical bool    `mapstructure:"encode_categorical"`
	TestFraction      float64 `mapstructure:"test_fraction"`
	RandomSeed        uint64  `mapstructure:"random_seed"`
}

type TrainingConfig struct {
	CVFolds        int           `mapstructure:"cv_folds"`
	GridSearch     bool          `mapstructure:"grid_search"`
	Models         []string      `mapstructure:"models"` // empty selects every available family
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	Workers        int           `mapstructure:"workers"`
}

type EvaluationConfig struct {
	PrimaryMetric      string `mapstructure:"primary_metric"` // empty uses the problem type default
	OneVsRestAUC       bool   `mapstructure:"one_vs_rest_auc"`
	Interpret          bool   `mapstructure:"interpret"`
	PermutationRepeats int    `mapstructure:"permutation_repeats"`
	InterpretSamples   int    `mapstructure:"interpret_samples"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type TelemetryConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

type ArtifactConfig struct {
	Dir string `mapstructure:"dir"`
}

// Default returns the configuration used for every key that is not set.
func Default() Config {
	prep := preprocessing.DefaultOptions()
	return Config{
		ProblemType: "auto",
		Preprocessing: PreprocessingConfig{
			MissingStrategy:   prep.MissingStrategy,
			ScaleNumeric:      prep.ScaleNumeric,
			EncodeCategorical: prep.EncodeCategorical,
			TestFraction:      prep.TestFraction,
			RandomSeed:        prep.RandomSeed,
		},
		Evaluation: EvaluationConfig{
			PermutationRepeats: 5,
			InterpretSamples:   20,
		},
		Log:       LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{Namespace: "mlexplorer"},
		Artifact:  ArtifactConfig{Dir: "artifacts"},
	}
}

// Load reads path (if not empty) and the environment on top of Default and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("target", d.Target)
	v.SetDefault("features", d.Features)
	v.SetDefault("problem_type", d.ProblemType)

	v.SetDefault("preprocessing.missing_strategy", d.Preprocessing.MissingStrategy)
	v.SetDefault("preprocessing.scale_numeric", d.Preprocessing.ScaleNumeric)
	v.SetDefault("preprocessing.encode_categorical", d.Preprocessing.EncodeCategorical)
	v.SetDefault("preprocessing.test_fraction", d.Preprocessing.TestFraction)
	v.SetDefault("preprocessing.random_seed", d.Preprocessing.RandomSeed)

	v.SetDefault("training.cv_folds", d.Training.CVFolds)
	v.SetDefault("training.grid_search", d.Training.GridSearch)
	v.SetDefault("training.models", d.Training.Models)
	v.SetDefault("training.session_timeout", d.Training.SessionTimeout)
	v.SetDefault("training.workers", d.Training.Workers)

	v.SetDefault("evaluation.primary_metric", d.Evaluation.PrimaryMetric)
	v.SetDefault("evaluation.one_vs_rest_auc", d.Evaluation.OneVsRestAUC)
	v.SetDefault("evaluation.interpret", d.Evaluation.Interpret)
	v.SetDefault("evaluation.permutation_repeats", d.Evaluation.PermutationRepeats)
	v.SetDefault("evaluation.interpret_samples", d.Evaluation.InterpretSamples)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.namespace", d.Telemetry.Namespace)
	v.SetDefault("artifact.dir", d.Artifact.Dir)
}

// Validate checks every option that can be checked without the data.
// Fold counts against the training rows are checked by the orchestrator.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Target) == "" {
		return errors.NewConfigurationError("target", c.Target, "a target column is required")
	}
	if _, err := c.ProblemTypeOverride(); err != nil {
		return err
	}
	if err := c.PreprocessingOptions().Validate(); err != nil {
		return err
	}

	t := c.Training
	switch {
	case t.CVFolds < 0:
		return errors.NewConfigurationError("training.cv_folds", t.CVFolds, "must not be negative")
	case t.CVFolds == 1:
		return errors.NewConfigurationError("training.cv_folds", t.CVFolds, "cross-validation needs at least 2 folds")
	case t.GridSearch && t.CVFolds < 2:
		return errors.NewConfigurationError("training.grid_search", t.GridSearch, "grid search requires cv_folds >= 2")
	case t.SessionTimeout < 0:
		return errors.NewConfigurationError("training.session_timeout", t.SessionTimeout, "must not be negative")
	case t.Workers < 0:
		return errors.NewConfigurationError("training.workers", t.Workers, "must not be negative")
	}

	e := c.Evaluation
	if e.PrimaryMetric != "" {
		if _, err := metrics.DirectionOf(e.PrimaryMetric); err != nil {
			return err
		}
	}
	if e.PermutationRepeats < 1 {
		return errors.NewConfigurationError("evaluation.permutation_repeats", e.PermutationRepeats, "must be at least 1")
	}
	if e.InterpretSamples < 1 {
		return errors.NewConfigurationError("evaluation.interpret_samples", e.InterpretSamples, "must be at least 1")
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return errors.NewConfigurationError("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	if c.Telemetry.Enabled && c.Telemetry.Namespace == "" {
		return errors.NewConfigurationError("telemetry.namespace", c.Telemetry.Namespace, "required when telemetry is enabled")
	}
	return nil
}

// ProblemTypeOverride returns the explicit problem type, or 0 for "auto".
func (c *Config) ProblemTypeOverride() (dataset.ProblemType, error) {
	return dataset.ParseProblemType(c.ProblemType)
}

// PreprocessingOptions converts the preprocessing section. An invalid
// problem_type yields the zero (inferred) problem type; Validate reports it.
func (c *Config) PreprocessingOptions() preprocessing.Options {
	pt, _ := c.ProblemTypeOverride()
	p := c.Preprocessing
	return preprocessing.Options{
		MissingStrategy:   p.MissingStrategy,
		ScaleNumeric:      p.ScaleNumeric,
		EncodeCategorical: p.EncodeCategorical,
		TestFraction:      p.TestFraction,
		RandomSeed:        p.RandomSeed,
		ProblemType:       pt,
	}
}

// PrimaryMetric returns the configured ranking metric or the default of pt.
// A metric that does not apply to pt is a ConfigurationError.
func (c *Config) PrimaryMetric(pt dataset.ProblemType) (string, error) {
	name := c.Evaluation.PrimaryMetric
	if name == "" {
		return metrics.DefaultMetric(pt), nil
	}
	if _, err := metrics.DirectionOf(name); err != nil {
		return "", err
	}
	if !metrics.Applies(name, pt) {
		return "", errors.NewConfigurationError("evaluation.primary_metric", name, "not defined for "+pt.String())
	}
	return name, nil
}

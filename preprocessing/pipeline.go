package preprocessing

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/pkg/log"
)

// Options は前処理パイプラインの設定
type Options struct {
	MissingStrategy   string
	ScaleNumeric      bool
	EncodeCategorical bool
	TestFraction      float64
	RandomSeed        uint64
	ProblemType       dataset.ProblemType // 0なら推定する
}

// DefaultOptions はデフォルト設定を返す
func DefaultOptions() Options {
	return Options{
		MissingStrategy:   StrategyDrop,
		ScaleNumeric:      true,
		EncodeCategorical: true,
		TestFraction:      0.2,
		RandomSeed:        42,
	}
}

// Validate は設定値を検証する
func (o Options) Validate() error {
	if _, err := ParseStrategy(o.MissingStrategy); err != nil {
		return err
	}
	if !(o.TestFraction > 0 && o.TestFraction <= 0.5) {
		return errors.NewConfigurationError("preprocessing.test_fraction", o.TestFraction, "must be in (0, 0.5]")
	}
	return nil
}

// Option はPipelineの設定を変更する関数
type Option func(*Pipeline)

// WithMissingStrategy は欠損値戦略を設定する
func WithMissingStrategy(strategy string) Option {
	return func(p *Pipeline) { p.opts.MissingStrategy = strategy }
}

// WithScaling は数値列の標準化の有無を設定する
func WithScaling(enabled bool) Option {
	return func(p *Pipeline) { p.opts.ScaleNumeric = enabled }
}

// WithEncoding はカテゴリ列の符号化の有無を設定する
func WithEncoding(enabled bool) Option {
	return func(p *Pipeline) { p.opts.EncodeCategorical = enabled }
}

// WithTestFraction はテストに回す行の割合を設定する
func WithTestFraction(fraction float64) Option {
	return func(p *Pipeline) { p.opts.TestFraction = fraction }
}

// WithRandomSeed は分割のシードを設定する
func WithRandomSeed(seed uint64) Option {
	return func(p *Pipeline) { p.opts.RandomSeed = seed }
}

// WithProblemType は問題種別の推定を上書きする
func WithProblemType(pt dataset.ProblemType) Option {
	return func(p *Pipeline) { p.opts.ProblemType = pt }
}

// WithOptions は設定をまとめて指定する
func WithOptions(opts Options) Option {
	return func(p *Pipeline) { p.opts = opts }
}

// WithLogger はロガープロバイダを設定する
func WithLogger(provider log.LoggerProvider) Option {
	return func(p *Pipeline) { p.logger = provider.GetLoggerWithName("Pipeline") }
}

// Pipeline は生のデータセットを訓練・テスト行列に変換する
type Pipeline struct {
	opts   Options
	logger log.Logger
}

// NewPipeline は新しいPipelineを作成する
//
// 使用例:
//
//	p := preprocessing.NewPipeline(
//	    preprocessing.WithMissingStrategy(preprocessing.StrategyMean),
//	    preprocessing.WithTestFraction(0.25),
//	)
//	res, err := p.FitTransform(ds, "species", nil)
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{opts: DefaultOptions()}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.Default().GetLoggerWithName("Pipeline")
	}
	return p
}

// Options は現在の設定を返す
func (p *Pipeline) Options() Options {
	return p.opts
}

// Result は前処理の出力
type Result struct {
	XTrain    *mat.Dense
	XTest     *mat.Dense
	YTrain    *mat.VecDense
	YTest     *mat.VecDense
	TrainRows []int // データセット上の行番号（昇順）
	TestRows  []int
	State     *State
}

// FitTransform はdsを検証し、欠損値を処理して分割し、訓練パーティションで
// 前処理状態を学習して両方のパーティションに適用する。
// featuresが空ならターゲット以外の全列を使う
func (p *Pipeline) FitTransform(ds *dataset.Dataset, target string, features []string) (*Result, error) {
	start := time.Now()
	if err := p.opts.Validate(); err != nil {
		return nil, err
	}

	targetCol, err := ds.Column(target)
	if err != nil {
		return nil, errors.NewSchemaError(target, "target column not found")
	}
	schema, cols, err := p.selectFeatures(ds, target, features)
	if err != nil {
		return nil, err
	}

	pt, err := p.problemType(targetCol)
	if err != nil {
		return nil, err
	}

	kept, err := p.keptRows(targetCol, schema, cols)
	if err != nil {
		return nil, err
	}

	var train, test []int
	if pt == dataset.Classification {
		train, test, err = StratifiedTrainTestSplit(kept, firstAppearanceCodes(labelsOf(targetCol, kept)), p.opts.TestFraction, p.opts.RandomSeed)
	} else {
		train, test, err = TrainTestSplit(kept, p.opts.TestFraction, p.opts.RandomSeed)
	}
	if err != nil {
		return nil, err
	}

	state, err := p.fitState(ds, targetCol, pt, schema, cols, train)
	if err != nil {
		return nil, err
	}

	res := &Result{TrainRows: train, TestRows: test, State: state}
	if res.XTrain, err = state.transformRows(ds, train); err != nil {
		return nil, err
	}
	if res.XTest, err = state.transformRows(ds, test); err != nil {
		return nil, err
	}
	if res.YTrain, err = state.EncodeTarget(targetCol, train); err != nil {
		return nil, err
	}
	if res.YTest, err = state.EncodeTarget(targetCol, test); err != nil {
		return nil, err
	}

	p.logger.Info("Preprocessing completed",
		log.OperationKey, log.OperationFitTransform,
		log.ProblemTypeKey, pt.String(),
		log.SamplesKey, ds.NRows(),
		log.FeaturesKey, len(schema),
		log.TrainRowsKey, len(train),
		log.TestRowsKey, len(test),
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (p *Pipeline) selectFeatures(ds *dataset.Dataset, target string, features []string) ([]FeatureSchema, []dataset.Column, error) {
	if len(features) == 0 {
		for _, name := range ds.Names() {
			if name != target {
				features = append(features, name)
			}
		}
	}
	if len(features) == 0 {
		return nil, nil, errors.NewSchemaError(target, "no feature columns besides the target")
	}

	seen := make(map[string]struct{}, len(features))
	schema := make([]FeatureSchema, 0, len(features))
	cols := make([]dataset.Column, 0, len(features))
	for _, name := range features {
		if name == target {
			return nil, nil, errors.NewSchemaError(name, "target column cannot also be a feature")
		}
		if _, dup := seen[name]; dup {
			return nil, nil, errors.NewSchemaError(name, "feature listed more than once")
		}
		seen[name] = struct{}{}

		col, err := ds.Column(name)
		if err != nil {
			return nil, nil, errors.NewSchemaError(name, "feature column not found")
		}
		switch col.Type {
		case dataset.Unknown:
			return nil, nil, errors.NewSchemaError(name, "column has no values to infer a type from")
		case dataset.Categorical:
			if !p.opts.EncodeCategorical {
				return nil, nil, errors.NewSchemaError(name, "non-numeric feature requires categorical encoding")
			}
		}
		schema = append(schema, FeatureSchema{Name: name, Type: col.Type})
		cols = append(cols, col)
	}
	return schema, cols, nil
}

func (p *Pipeline) problemType(target dataset.Column) (dataset.ProblemType, error) {
	if target.Type == dataset.Unknown {
		return 0, errors.NewSchemaError(target.Name, "target column has no values")
	}
	switch p.opts.ProblemType {
	case dataset.Classification:
		return dataset.Classification, nil
	case dataset.Regression:
		if target.Type != dataset.Numeric {
			return 0, errors.NewSchemaError(target.Name, "regression requires a numeric target")
		}
		return dataset.Regression, nil
	default:
		return dataset.InferProblemType(target)
	}
}

// keptRows はターゲット欠損行を除き、drop戦略では特徴量に欠損のある行も除く
func (p *Pipeline) keptRows(target dataset.Column, schema []FeatureSchema, cols []dataset.Column) ([]int, error) {
	kept := make([]int, 0, target.Len())
	for r := 0; r < target.Len(); r++ {
		if target.IsMissing(r) {
			continue
		}
		if p.opts.MissingStrategy == StrategyDrop && anyMissing(cols, r) {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		return nil, errors.NewInsufficientDataError("no rows left after removing missing values", 2, 0)
	}

	if p.opts.MissingStrategy == StrategyMean || p.opts.MissingStrategy == StrategyMedian {
		for j, col := range cols {
			if appliesTo(p.opts.MissingStrategy, col.Type) {
				continue
			}
			for _, r := range kept {
				if col.IsMissing(r) {
					return nil, errors.NewTypeMismatchError(schema[j].Name, p.opts.MissingStrategy, col.Type.String())
				}
			}
		}
	}
	return kept, nil
}

func anyMissing(cols []dataset.Column, r int) bool {
	for _, col := range cols {
		if col.IsMissing(r) {
			return true
		}
	}
	return false
}

func (p *Pipeline) fitState(ds *dataset.Dataset, target dataset.Column, pt dataset.ProblemType, schema []FeatureSchema, cols []dataset.Column, train []int) (*State, error) {
	imp, err := fitImputer(p.opts.MissingStrategy, cols, train)
	if err != nil {
		return nil, err
	}

	enc := newOrdinalEncoder()
	var numeric []int
	for j, col := range cols {
		if schema[j].Type == dataset.Numeric {
			numeric = append(numeric, j)
			continue
		}
		values := make([]string, 0, len(train))
		for _, r := range train {
			switch {
			case !col.IsMissing(r):
				values = append(values, col.Text(r))
			case imp.Fill[j].Set:
				values = append(values, imp.Fill[j].Str)
			}
		}
		enc.fitColumn(j, values)
	}

	state := &State{
		ProblemType: pt,
		Target:      target.Name,
		Features:    schema,
		Imputer:     imp,
		Encoder:     enc,
	}
	if pt == dataset.Classification {
		state.Labels = fitLabelEncoder(labelsOf(target, train))
	}

	if p.opts.ScaleNumeric && len(numeric) > 0 {
		raw, err := state.encodeRows(ds, train)
		if err != nil {
			return nil, err
		}
		scaler := NewStandardScaler(numeric)
		if err := scaler.Fit(raw); err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("fit scaler on %d training rows", len(train)))
		}
		state.Scaler = scaler
	}
	return state, nil
}

// firstAppearanceCodes はラベルを初出順の整数符号に変換する
func firstAppearanceCodes(labels []string) []int {
	codes := make([]int, len(labels))
	seen := make(map[string]int)
	for i, l := range labels {
		c, ok := seen[l]
		if !ok {
			c = len(seen)
			seen[l] = c
		}
		codes[i] = c
	}
	return codes
}

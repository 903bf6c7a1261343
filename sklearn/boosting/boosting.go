// Package boosting は回帰木を弱学習器とする勾配ブースティングを提供します。
//
// このパッケージはオプションのバックエンド "boosting" として登録されます。
// 利用するにはブランクインポートしてください。
//
//	import _ "github.com/YuminosukeSato/mlexplorer/sklearn/boosting"
package boosting

import (
	"encoding/gob"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/backend"
	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/sklearn/tree"
)

// BackendName はこのパッケージが登録するバックエンド名
const BackendName = "boosting"

// Version はバックエンドのバージョン
const Version = "1.0.0"

func init() {
	gob.Register(&GradientBoostingClassifier{})
	gob.Register(&GradientBoostingRegressor{})

	backend.Register(backend.Backend{
		Name:    BackendName,
		Version: Version,
		Models: []backend.ModelFactory{{
			Name:         "gradient_boosting",
			Family:       "boosting",
			ProblemTypes: []dataset.ProblemType{dataset.Classification, dataset.Regression},
			Grid: model.ParamGrid{
				{Name: "n_estimators", Values: []interface{}{100, 200}},
				{Name: "learning_rate", Values: []interface{}{0.1, 0.05}},
				{Name: "max_depth", Values: []interface{}{3, 5}},
			},
			New: newEstimator,
		}},
	})
}

func newEstimator(pt dataset.ProblemType, params map[string]interface{}) (model.Estimator, error) {
	var est interface {
		model.Estimator
		model.ParameterSetter
	}
	if pt == dataset.Classification {
		est = NewGradientBoostingClassifier()
	} else {
		est = NewGradientBoostingRegressor()
	}
	if err := est.SetParams(params); err != nil {
		return nil, err
	}
	return est, nil
}

// boostParams は分類器と回帰器で共通のハイパーパラメータ
type boostParams struct {
	nEstimators    int
	learningRate   float64
	maxDepth       int
	minSamplesLeaf int
	subsample      float64
	randomState    uint64
}

// Option は勾配ブースティングの設定オプション
type Option func(*boostParams)

// WithNEstimators はブースティングの段数を設定
func WithNEstimators(n int) Option {
	return func(p *boostParams) { p.nEstimators = n }
}

// WithLearningRate は各段の縮小率を設定
func WithLearningRate(lr float64) Option {
	return func(p *boostParams) { p.learningRate = lr }
}

// WithMaxDepth は弱学習器の最大深さを設定
func WithMaxDepth(depth int) Option {
	return func(p *boostParams) { p.maxDepth = depth }
}

// WithMinSamplesLeaf は弱学習器の葉の最小サンプル数を設定
func WithMinSamplesLeaf(n int) Option {
	return func(p *boostParams) { p.minSamplesLeaf = n }
}

// WithSubsample は各段で使う行の割合を設定。1未満で確率的勾配ブースティングになる
func WithSubsample(fraction float64) Option {
	return func(p *boostParams) { p.subsample = fraction }
}

// WithRandomState はサブサンプリングの乱数シードを設定
func WithRandomState(seed uint64) Option {
	return func(p *boostParams) { p.randomState = seed }
}

func defaultParams() boostParams {
	return boostParams{
		nEstimators:    100,
		learningRate:   0.1,
		maxDepth:       3,
		minSamplesLeaf: 1,
		subsample:      1.0,
	}
}

func (p *boostParams) validate() error {
	switch {
	case p.nEstimators < 1:
		return errors.NewValidationError("n_estimators", "must be at least 1", p.nEstimators)
	case p.learningRate <= 0:
		return errors.NewValidationError("learning_rate", "must be positive", p.learningRate)
	case p.subsample <= 0 || p.subsample > 1:
		return errors.NewValidationError("subsample", "must be in (0, 1]", p.subsample)
	case p.maxDepth < 0:
		return errors.NewValidationError("max_depth", "must be non-negative", p.maxDepth)
	}
	return nil
}

func (p *boostParams) getParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":     p.nEstimators,
		"learning_rate":    p.learningRate,
		"max_depth":        p.maxDepth,
		"min_samples_leaf": p.minSamplesLeaf,
		"subsample":        p.subsample,
		"random_state":     p.randomState,
	}
}

func (p *boostParams) setParams(modelName string, params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "n_estimators":
			p.nEstimators, err = model.ParamInt(key, value)
		case "learning_rate":
			p.learningRate, err = model.ParamFloat(key, value)
		case "max_depth":
			p.maxDepth, err = model.ParamInt(key, value)
		case "min_samples_leaf":
			p.minSamplesLeaf, err = model.ParamInt(key, value)
		case "subsample":
			p.subsample, err = model.ParamFloat(key, value)
		case "random_state":
			p.randomState, err = model.ParamSeed(key, value)
		default:
			err = model.UnknownParam(modelName, key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type paramsSnapshot struct {
	NEstimators    int
	LearningRate   float64
	MaxDepth       int
	MinSamplesLeaf int
	Subsample      float64
	RandomState    uint64
}

func (p *boostParams) snapshot() paramsSnapshot {
	return paramsSnapshot{
		NEstimators:    p.nEstimators,
		LearningRate:   p.learningRate,
		MaxDepth:       p.maxDepth,
		MinSamplesLeaf: p.minSamplesLeaf,
		Subsample:      p.subsample,
		RandomState:    p.randomState,
	}
}

func (s paramsSnapshot) restore() boostParams {
	return boostParams{
		nEstimators:    s.NEstimators,
		learningRate:   s.LearningRate,
		maxDepth:       s.MaxDepth,
		minSamplesLeaf: s.MinSamplesLeaf,
		subsample:      s.Subsample,
		randomState:    s.RandomState,
	}
}

// stageSampler は各段の学習に使う行を選ぶ。subsample=1 なら全行
type stageSampler struct {
	rows     int
	fraction float64
	rng      *rand.Rand
	allRows  []int
}

func newStageSampler(p *boostParams, rows int) *stageSampler {
	all := make([]int, rows)
	for i := range all {
		all[i] = i
	}
	return &stageSampler{
		rows:     rows,
		fraction: p.subsample,
		rng:      rand.New(rand.NewPCG(p.randomState, p.randomState^0x9e3779b97f4a7c15)),
		allRows:  all,
	}
}

func (s *stageSampler) next() []int {
	if s.fraction >= 1 {
		return s.allRows
	}
	n := int(math.Max(1, math.Round(s.fraction*float64(s.rows))))
	return s.rng.Perm(s.rows)[:n]
}

// fitStage は勾配（残差）に回帰木を当てはめる
func (p *boostParams) fitStage(op string, X mat.Matrix, residuals []float64, rows []int, stage int) (*tree.DecisionTreeRegressor, error) {
	_, cols := X.Dims()
	Xs := mat.NewDense(len(rows), cols, nil)
	ys := mat.NewDense(len(rows), 1, nil)
	for i, r := range rows {
		for j := 0; j < cols; j++ {
			Xs.Set(i, j, X.At(r, j))
		}
		ys.Set(i, 0, residuals[r])
	}
	if err := errors.CheckMatrix(op, ys, len(rows), 1, stage); err != nil {
		return nil, err
	}
	dt := tree.NewDecisionTreeRegressor(
		tree.WithMaxDepth(p.maxDepth),
		tree.WithMinSamplesLeaf(p.minSamplesLeaf),
	)
	if err := dt.Fit(Xs, ys); err != nil {
		return nil, err
	}
	return dt, nil
}

func checkInput(op string, X, y mat.Matrix) (int, int, error) {
	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows == 0 || cols == 0 {
		return 0, 0, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if rows != yRows {
		return 0, 0, errors.NewDimensionError(op, rows, yRows, 0)
	}
	if yCols != 1 {
		return 0, 0, errors.NewDimensionError(op, 1, yCols, 1)
	}
	if err := errors.CheckMatrix(op, X, rows, cols, 0); err != nil {
		return 0, 0, err
	}
	return rows, cols, nil
}

// importancesOf は全ての木の重要度の平均を合計1に正規化する
func importancesOf(nFeatures int, trees []*tree.DecisionTreeRegressor) ([]float64, error) {
	avg := make([]float64, nFeatures)
	for _, dt := range trees {
		imp, err := dt.FeatureImportances()
		if err != nil {
			return nil, err
		}
		for j, v := range imp {
			avg[j] += v
		}
	}
	total := 0.0
	for _, v := range avg {
		total += v
	}
	if total > 0 {
		for j := range avg {
			avg[j] /= total
		}
	}
	return avg, nil
}

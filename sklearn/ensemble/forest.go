// Package ensemble はブートストラップと特徴量サンプリングによるランダムフォレストを提供します。
package ensemble

import (
	"encoding/gob"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/sklearn/tree"
)

func init() {
	gob.Register(&RandomForestClassifier{})
	gob.Register(&RandomForestRegressor{})
}

// forestParams は分類器と回帰器で共通のハイパーパラメータ
type forestParams struct {
	nEstimators     int
	criterion       string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int // 0 は分類でsqrt(n)、回帰で全特徴量
	bootstrap       bool
	randomState     uint64
	nJobs           int
}

// Option はランダムフォレストの設定オプション
type Option func(*forestParams)

// WithNEstimators は木の本数を設定
func WithNEstimators(n int) Option {
	return func(p *forestParams) { p.nEstimators = n }
}

// WithCriterion は各木の不純度基準を設定
func WithCriterion(criterion string) Option {
	return func(p *forestParams) { p.criterion = criterion }
}

// WithMaxDepth は各木の最大深さを設定。0 は無制限
func WithMaxDepth(depth int) Option {
	return func(p *forestParams) { p.maxDepth = depth }
}

// WithMinSamplesLeaf は葉の最小サンプル数を設定
func WithMinSamplesLeaf(n int) Option {
	return func(p *forestParams) { p.minSamplesLeaf = n }
}

// WithMaxFeatures は各ノードで評価する特徴量数を設定
func WithMaxFeatures(n int) Option {
	return func(p *forestParams) { p.maxFeatures = n }
}

// WithBootstrap はブートストラップサンプリングの有無を設定
func WithBootstrap(bootstrap bool) Option {
	return func(p *forestParams) { p.bootstrap = bootstrap }
}

// WithRandomState は乱数シードを設定
func WithRandomState(seed uint64) Option {
	return func(p *forestParams) { p.randomState = seed }
}

// WithNJobs は並列に学習する木の数を設定。0 以下はCPU数
func WithNJobs(n int) Option {
	return func(p *forestParams) { p.nJobs = n }
}

func defaultParams(criterion string) forestParams {
	return forestParams{
		nEstimators:     100,
		criterion:       criterion,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		bootstrap:       true,
	}
}

func (p *forestParams) getParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      p.nEstimators,
		"criterion":         p.criterion,
		"max_depth":         p.maxDepth,
		"min_samples_split": p.minSamplesSplit,
		"min_samples_leaf":  p.minSamplesLeaf,
		"max_features":      p.maxFeatures,
		"bootstrap":         p.bootstrap,
		"random_state":      p.randomState,
		"n_jobs":            p.nJobs,
	}
}

func (p *forestParams) setParams(modelName string, params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "n_estimators":
			p.nEstimators, err = model.ParamInt(key, value)
		case "criterion":
			p.criterion, err = model.ParamString(key, value)
		case "max_depth":
			p.maxDepth, err = model.ParamInt(key, value)
		case "min_samples_split":
			p.minSamplesSplit, err = model.ParamInt(key, value)
		case "min_samples_leaf":
			p.minSamplesLeaf, err = model.ParamInt(key, value)
		case "max_features":
			p.maxFeatures, err = model.ParamInt(key, value)
		case "bootstrap":
			p.bootstrap, err = model.ParamBool(key, value)
		case "random_state":
			p.randomState, err = model.ParamSeed(key, value)
		case "n_jobs":
			p.nJobs, err = model.ParamInt(key, value)
		default:
			err = model.UnknownParam(modelName, key, value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *forestParams) treeOptions(maxFeatures int, seed uint64) []tree.Option {
	return []tree.Option{
		tree.WithCriterion(p.criterion),
		tree.WithMaxDepth(p.maxDepth),
		tree.WithMinSamplesSplit(p.minSamplesSplit),
		tree.WithMinSamplesLeaf(p.minSamplesLeaf),
		tree.WithMaxFeatures(maxFeatures),
		tree.WithRandomState(seed),
	}
}

// paramsSnapshot はgob用にエクスポートしたハイパーパラメータ
type paramsSnapshot struct {
	NEstimators     int
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	Bootstrap       bool
	RandomState     uint64
	NJobs           int
}

func (p *forestParams) snapshot() paramsSnapshot {
	return paramsSnapshot{
		NEstimators:     p.nEstimators,
		Criterion:       p.criterion,
		MaxDepth:        p.maxDepth,
		MinSamplesSplit: p.minSamplesSplit,
		MinSamplesLeaf:  p.minSamplesLeaf,
		MaxFeatures:     p.maxFeatures,
		Bootstrap:       p.bootstrap,
		RandomState:     p.randomState,
		NJobs:           p.nJobs,
	}
}

func (s paramsSnapshot) restore() forestParams {
	return forestParams{
		nEstimators:     s.NEstimators,
		criterion:       s.Criterion,
		maxDepth:        s.MaxDepth,
		minSamplesSplit: s.MinSamplesSplit,
		minSamplesLeaf:  s.MinSamplesLeaf,
		maxFeatures:     s.MaxFeatures,
		bootstrap:       s.Bootstrap,
		randomState:     s.RandomState,
		nJobs:           s.NJobs,
	}
}

// sample は1本の木の学習に使う行と乱数シード
type sample struct {
	rows []int
	seed uint64
}

// drawSamples は木ごとのブートストラップ標本とシードを順番に生成する。
// 並列学習の順序に関係なく同じシードなら同じ森になる
func (p *forestParams) drawSamples(nRows int) []sample {
	rng := rand.New(rand.NewPCG(p.randomState, p.randomState^0x9e3779b97f4a7c15))
	samples := make([]sample, p.nEstimators)
	for t := range samples {
		rows := make([]int, nRows)
		for i := range rows {
			if p.bootstrap {
				rows[i] = rng.IntN(nRows)
			} else {
				rows[i] = i
			}
		}
		samples[t] = sample{rows: rows, seed: rng.Uint64()}
	}
	return samples
}

func (p *forestParams) checkFit(op string, X, y mat.Matrix) (int, int, error) {
	if p.nEstimators < 1 {
		return 0, 0, errors.NewValidationError("n_estimators", "must be at least 1", p.nEstimators)
	}
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
	return rows, cols, nil
}

// subset はrowsで指定した行を持つ新しい行列を作る
func subset(m mat.Matrix, rows []int) *mat.Dense {
	_, cols := m.Dims()
	out := mat.NewDense(len(rows), cols, nil)
	for i, r := range rows {
		for j := 0; j < cols; j++ {
			out.Set(i, j, m.At(r, j))
		}
	}
	return out
}

// averageImportances は各木の重要度の平均を合計1に正規化する
func averageImportances(nFeatures int, perTree [][]float64) []float64 {
	avg := make([]float64, nFeatures)
	for _, imp := range perTree {
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
	return avg
}

func sqrtFeatures(nFeatures int) int {
	return int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
}

// Package interpret provides the "shap" backend: model-agnostic Shapley value
// attributions estimated by Monte Carlo permutation sampling.
//
// Importing the package registers the backend:
//
//	import _ "github.com/YuminosukeSato/mlexplorer/interpret"
package interpret

import (
	"context"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/backend"
	"github.com/YuminosukeSato/mlexplorer/core/parallel"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

const (
	// BackendName is the name the backend registers under.
	BackendName = "shap"
	// Version is the backend version.
	Version = "1.0.0"

	// DefaultPermutations is used when ExplainOptions.Permutations is not positive.
	DefaultPermutations = 64
)

func init() {
	backend.Register(backend.Backend{
		Name:        BackendName,
		Version:     Version,
		Interpreter: NewMonteCarlo(),
	})
}

// MonteCarlo estimates interventional Shapley values.
//
// For each explained row x and each sampled permutation π, a background row z
// is drawn and the features are switched from z to x one at a time in the
// order π. The marginal change of f at each switch is that feature's
// contribution; contributions are averaged over the permutations. For every
// row the attributions sum to f(x) minus the mean of f over the drawn
// background rows.
type MonteCarlo struct {
	workers int
}

// Option configures MonteCarlo.
type Option func(*MonteCarlo)

// WithWorkers limits the rows explained concurrently.
func WithWorkers(n int) Option {
	return func(m *MonteCarlo) { m.workers = n }
}

// NewMonteCarlo creates the estimator.
func NewMonteCarlo(opts ...Option) *MonteCarlo {
	m := &MonteCarlo{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Explain returns an attribution matrix with the shape of X.
// Each row uses its own seeded generator, so the result does not depend on
// the number of workers.
func (m *MonteCarlo) Explain(ctx context.Context, f backend.PredictFunc, background, X *mat.Dense, opts backend.ExplainOptions) (*mat.Dense, error) {
	rows, cols := X.Dims()
	bgRows, bgCols := background.Dims()
	if rows == 0 || bgRows == 0 {
		return nil, errors.ErrEmptyData
	}
	if bgCols != cols {
		return nil, errors.NewDimensionError("MonteCarlo.Explain", cols, bgCols, 1)
	}
	perms := opts.Permutations
	if perms <= 0 {
		perms = DefaultPermutations
	}

	phi := mat.NewDense(rows, cols, nil)
	err := parallel.ForEach(rows, m.workers, func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r := rand.New(rand.NewPCG(opts.Seed, uint64(i)^0x9e3779b97f4a7c15))
		values, err := explainRow(f, background, X.RawRowView(i), perms, r)
		if err != nil {
			return err
		}
		phi.SetRow(i, values)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return phi, nil
}

// explainRow averages marginal contributions over perms permutations. Each
// permutation is one batch of cols+1 predictions.
func explainRow(f backend.PredictFunc, background *mat.Dense, x []float64, perms int, r *rand.Rand) ([]float64, error) {
	cols := len(x)
	bgRows, _ := background.Dims()
	sum := make([]float64, cols)
	batch := mat.NewDense(cols+1, cols, nil)
	order := make([]int, cols)

	for p := 0; p < perms; p++ {
		for j := range order {
			order[j] = j
		}
		r.Shuffle(cols, func(a, b int) { order[a], order[b] = order[b], order[a] })
		z := background.RawRowView(r.IntN(bgRows))

		// 行kは順列の先頭k個だけxに置き換えた点
		current := append([]float64(nil), z...)
		batch.SetRow(0, current)
		for k, j := range order {
			current[j] = x[j]
			batch.SetRow(k+1, current)
		}
		out, err := f(batch)
		if err != nil {
			return nil, err
		}
		if len(out) != cols+1 {
			return nil, errors.NewDimensionError("MonteCarlo.predict", cols+1, len(out), 0)
		}
		for k, j := range order {
			sum[j] += out[k+1] - out[k]
		}
	}

	for j := range sum {
		sum[j] /= float64(perms)
		if err := errors.CheckScalar("MonteCarlo.Explain", sum[j], 0); err != nil {
			return nil, err
		}
	}
	return sum, nil
}

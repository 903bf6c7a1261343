package interpret

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/backend"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// linear は f(x) = 2*x0 - x1 + 0*x2 + 3
func linear(X *mat.Dense) ([]float64, error) {
	n, _ := X.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = 2*X.At(i, 0) - X.At(i, 1) + 3
	}
	return out, nil
}

// product は f(x) = x0 * x1 で、交互作用を等分する
func product(X *mat.Dense) ([]float64, error) {
	n, _ := X.Dims()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = X.At(i, 0) * X.At(i, 1)
	}
	return out, nil
}

func TestRegistered(t *testing.T) {
	caps := backend.Snapshot()
	interp, ok := caps.Interpreter(BackendName)
	require.True(t, ok)
	assert.IsType(t, &MonteCarlo{}, interp)
}

func TestExplainLinearIsExact(t *testing.T) {
	background := mat.NewDense(1, 3, []float64{1, 1, 1})
	X := mat.NewDense(2, 3, []float64{
		3, 0, 5,
		-1, 4, 2,
	})
	phi, err := NewMonteCarlo().Explain(context.Background(), linear, background, X, backend.ExplainOptions{Permutations: 8, Seed: 1})
	require.NoError(t, err)

	want := mat.NewDense(2, 3, []float64{
		2 * (3 - 1), -(0 - 1), 0,
		2 * (-1 - 1), -(4 - 1), 0,
	})
	assert.True(t, mat.EqualApprox(want, phi, 1e-12))
}

func TestExplainInteractionSplitsEvenly(t *testing.T) {
	background := mat.NewDense(1, 2, []float64{0, 0})
	X := mat.NewDense(1, 2, []float64{2, 3})
	phi, err := NewMonteCarlo().Explain(context.Background(), product, background, X, backend.ExplainOptions{Permutations: 400, Seed: 5})
	require.NoError(t, err)

	// 正確なShapley値はどちらも3。順列は2通りしかないので標本誤差は小さい
	assert.InDelta(t, 3.0, phi.At(0, 0), 0.75)
	assert.InDelta(t, 3.0, phi.At(0, 1), 0.75)
	assert.InDelta(t, 6.0, phi.At(0, 0)+phi.At(0, 1), 1e-12)
}

func TestExplainDeterministicAcrossWorkers(t *testing.T) {
	background := mat.NewDense(3, 2, []float64{0, 0, 1, 2, -1, 1})
	X := mat.NewDense(4, 2, []float64{2, 3, 1, 1, 0, 5, -2, 2})
	opts := backend.ExplainOptions{Permutations: 16, Seed: 9}

	a, err := NewMonteCarlo(WithWorkers(1)).Explain(context.Background(), product, background, X, opts)
	require.NoError(t, err)
	b, err := NewMonteCarlo(WithWorkers(4)).Explain(context.Background(), product, background, X, opts)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a, b))
}

func TestExplainErrors(t *testing.T) {
	m := NewMonteCarlo()
	X := mat.NewDense(1, 2, []float64{1, 2})

	_, err := m.Explain(context.Background(), product, mat.NewDense(1, 3, nil), X, backend.ExplainOptions{})
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Explain(ctx, product, mat.NewDense(1, 2, nil), X, backend.ExplainOptions{})
	assert.ErrorIs(t, err, context.Canceled)

	failing := func(*mat.Dense) ([]float64, error) { return nil, errors.New("model unavailable") }
	_, err = m.Explain(context.Background(), failing, mat.NewDense(1, 2, nil), X, backend.ExplainOptions{})
	assert.Error(t, err)
}

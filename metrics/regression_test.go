package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

type vecCase struct {
	name    string
	yTrue   *mat.VecDense
	yPred   *mat.VecDense
	want    float64
	delta   float64
	wantErr bool
}

func runVecCases(t *testing.T, fn func(yTrue, yPred *mat.VecDense) (float64, error), tests []vecCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fn(tt.yTrue, tt.yPred)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			delta := tt.delta
			if delta == 0 {
				delta = 1e-10
			}
			assert.InDelta(t, tt.want, got, delta)
		})
	}
}

func vec(values ...float64) *mat.VecDense {
	return mat.NewVecDense(len(values), values)
}

var mismatched = vecCase{name: "dimension mismatch", yTrue: vec(1, 2, 3), yPred: vec(1, 2), wantErr: true}

func TestMSE(t *testing.T) {
	runVecCases(t, MSE, []vecCase{
		{name: "perfect prediction", yTrue: vec(1, 2, 3, 4, 5), yPred: vec(1, 2, 3, 4, 5), want: 0},
		// ((0.5)^2 + (0.5)^2 + (-0.5)^2 + (-0.5)^2) / 4
		{name: "simple case", yTrue: vec(1, 2, 3, 4), yPred: vec(1.5, 2.5, 2.5, 3.5), want: 0.25},
		{name: "larger errors", yTrue: vec(10, 20, 30), yPred: vec(12, 18, 33), want: 17.0 / 3.0},
		mismatched,
		{name: "empty vectors", yTrue: &mat.VecDense{}, yPred: &mat.VecDense{}, wantErr: true},
		{name: "nil vectors", wantErr: true},
	})
}

func TestMSEMatrix(t *testing.T) {
	got, err := MSEMatrix(mat.NewDense(4, 1, []float64{1, 2, 3, 4}), mat.NewDense(4, 1, []float64{1.5, 2.5, 2.5, 3.5}))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, got, 1e-10)

	_, err = MSEMatrix(mat.NewDense(2, 2, []float64{1, 2, 3, 4}), mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	assert.Error(t, err)
}

func TestRMSE(t *testing.T) {
	runVecCases(t, RMSE, []vecCase{
		{name: "perfect prediction", yTrue: vec(1, 2, 3, 4, 5), yPred: vec(1, 2, 3, 4, 5), want: 0},
		{name: "simple case", yTrue: vec(0, 0, 0, 0), yPred: vec(1, 1, 1, 1), want: 1},
		mismatched,
	})
}

func TestMAE(t *testing.T) {
	runVecCases(t, MAE, []vecCase{
		{name: "perfect prediction", yTrue: vec(1, 2, 3, 4, 5), yPred: vec(1, 2, 3, 4, 5), want: 0},
		{name: "simple case", yTrue: vec(1, 2, 3, 4), yPred: vec(1.5, 2.5, 2.5, 3.5), want: 0.5},
		{name: "with negative differences", yTrue: vec(1, 2, 3, 4), yPred: vec(2, 1, 4, 3), want: 1},
		mismatched,
	})
}

func TestR2Score(t *testing.T) {
	runVecCases(t, R2Score, []vecCase{
		{name: "perfect prediction", yTrue: vec(1, 2, 3, 4, 5), yPred: vec(1, 2, 3, 4, 5), want: 1},
		{name: "no variance in yTrue", yTrue: vec(3, 3, 3, 3, 3), yPred: vec(2, 3, 4, 3, 3), wantErr: true},
		{name: "worse than mean baseline", yTrue: vec(1, 2, 3, 4), yPred: vec(4, 3, 2, 1), want: -3, delta: 0.01},
		mismatched,
	})

	_, err := R2Score(vec(3, 3), vec(1, 2))
	assert.True(t, errors.Is(err, ErrZeroVariance))
}

func TestMAPEAndExplainedVariance(t *testing.T) {
	runVecCases(t, MAPE, []vecCase{
		{name: "ten percent", yTrue: vec(10, 20), yPred: vec(11, 18), want: 10},
		{name: "zero targets skipped", yTrue: vec(0, 10), yPred: vec(5, 12), want: 20},
		{name: "all zero", yTrue: vec(0, 0), yPred: vec(1, 1), wantErr: true},
	})
	runVecCases(t, ExplainedVarianceScore, []vecCase{
		{name: "constant offset", yTrue: vec(1, 2, 3, 4), yPred: vec(2, 3, 4, 5), want: 1},
		{name: "no variance", yTrue: vec(1, 1), yPred: vec(1, 2), wantErr: true},
	})
}

func TestResiduals(t *testing.T) {
	res, err := Residuals(vec(1, 2, 3), vec(0.5, 2, 4))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0, -1}, res)
}

func BenchmarkMSE(b *testing.B) {
	size := 10000
	yTrue := mat.NewVecDense(size, nil)
	yPred := mat.NewVecDense(size, nil)
	for i := 0; i < size; i++ {
		yTrue.SetVec(i, float64(i))
		yPred.SetVec(i, float64(i)+0.1*float64(i%10))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = MSE(yTrue, yPred)
	}
}

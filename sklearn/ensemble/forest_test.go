package ensemble

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// blobs は3クラスが十分離れた2次元データ
func blobs() (*mat.Dense, *mat.Dense) {
	centers := [][2]float64{{0, 0}, {5, 5}, {10, 0}}
	X := mat.NewDense(60, 3, nil)
	y := mat.NewDense(60, 1, nil)
	for i := 0; i < 60; i++ {
		c := i % 3
		X.Set(i, 0, centers[c][0]+float64(i%5)*0.1)
		X.Set(i, 1, centers[c][1]-float64(i%7)*0.1)
		X.Set(i, 2, float64(i%4))
		y.Set(i, 0, float64(c))
	}
	return X, y
}

func TestRandomForestClassifier(t *testing.T) {
	X, y := blobs()
	rf := NewRandomForestClassifier(WithNEstimators(15), WithRandomState(7), WithNJobs(3))
	require.NoError(t, rf.Fit(X, y))
	assert.Equal(t, 15, rf.NTrees())
	assert.Equal(t, []int{0, 1, 2}, rf.Classes())

	predictions, err := rf.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(y, predictions))

	probas, err := rf.PredictProba(X)
	require.NoError(t, err)
	rows, cols := probas.Dims()
	require.Equal(t, 3, cols)
	for i := 0; i < rows; i++ {
		assert.InDelta(t, 1.0, mat.Sum(probas.(*mat.Dense).RowView(i)), 1e-9)
	}

	imp, err := rf.FeatureImportances()
	require.NoError(t, err)
	require.Len(t, imp, 3)
	assert.InDelta(t, 1.0, imp[0]+imp[1]+imp[2], 1e-9)
	assert.Less(t, imp[2], imp[0]+imp[1])
}

func TestRandomForestIsDeterministicAcrossWorkers(t *testing.T) {
	X, y := blobs()
	a := NewRandomForestClassifier(WithNEstimators(8), WithRandomState(3), WithNJobs(1))
	b := NewRandomForestClassifier(WithNEstimators(8), WithRandomState(3), WithNJobs(4))
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))

	pa, err := a.PredictProba(X)
	require.NoError(t, err)
	pb, err := b.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(pa, pb))

	c := NewRandomForestClassifier(WithNEstimators(8), WithRandomState(4))
	require.NoError(t, c.Fit(X, y))
	pc, err := c.PredictProba(X)
	require.NoError(t, err)
	assert.False(t, mat.Equal(pa, pc))
}

func TestRandomForestRegressor(t *testing.T) {
	X := mat.NewDense(80, 2, nil)
	y := mat.NewDense(80, 1, nil)
	for i := 0; i < 80; i++ {
		x := float64(i) / 8
		X.Set(i, 0, x)
		X.Set(i, 1, float64(i%5))
		y.Set(i, 0, 3*math.Sin(x))
	}

	rf := NewRandomForestRegressor(WithNEstimators(20), WithRandomState(1))
	require.NoError(t, rf.Fit(X, y))
	predictions, err := rf.Predict(X)
	require.NoError(t, err)

	sse, sst := 0.0, 0.0
	mean := mat.Sum(y) / 80
	for i := 0; i < 80; i++ {
		r := y.At(i, 0) - predictions.At(i, 0)
		d := y.At(i, 0) - mean
		sse += r * r
		sst += d * d
	}
	assert.Greater(t, 1-sse/sst, 0.9)

	imp, err := rf.FeatureImportances()
	require.NoError(t, err)
	assert.Greater(t, imp[0], imp[1])

	noBootstrap := NewRandomForestRegressor(WithNEstimators(3), WithBootstrap(false))
	require.NoError(t, noBootstrap.Fit(X, y))
	p, err := noBootstrap.Predict(X)
	require.NoError(t, err)
	assert.InDelta(t, y.At(10, 0), p.At(10, 0), 1e-9)
}

func TestRandomForestParamsAndErrors(t *testing.T) {
	rf := NewRandomForestClassifier()
	params := rf.GetParams()
	assert.Equal(t, 100, params["n_estimators"])
	assert.Equal(t, true, params["bootstrap"])

	require.NoError(t, rf.SetParams(map[string]interface{}{"n_estimators": 5, "max_depth": 3, "random_state": 2}))
	assert.Equal(t, 5, rf.nEstimators)
	assert.Equal(t, uint64(2), rf.randomState)
	assert.Error(t, rf.SetParams(map[string]interface{}{"oob_score": true}))

	_, err := rf.Predict(mat.NewDense(1, 3, nil))
	var nfe *errors.NotFittedError
	assert.ErrorAs(t, err, &nfe)

	var valErr *errors.ValidationError
	assert.ErrorAs(t, NewRandomForestRegressor(WithNEstimators(0)).Fit(mat.NewDense(2, 1, []float64{1, 2}), mat.NewDense(2, 1, []float64{1, 2})), &valErr)

	var dimErr *errors.DimensionError
	assert.ErrorAs(t, rf.Fit(mat.NewDense(2, 1, []float64{1, 2}), mat.NewDense(3, 1, nil)), &dimErr)
}

func TestRandomForestGobRoundTrip(t *testing.T) {
	X, y := blobs()
	tests := []struct {
		name string
		est  model.Estimator
	}{
		{"classifier", NewRandomForestClassifier(WithNEstimators(4), WithRandomState(5))},
		{"regressor", NewRandomForestRegressor(WithNEstimators(4), WithRandomState(5))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.est.Fit(X, y))
			var buf bytes.Buffer
			require.NoError(t, gob.NewEncoder(&buf).Encode(&tt.est))
			var loaded model.Estimator
			require.NoError(t, gob.NewDecoder(&buf).Decode(&loaded))

			want, err := tt.est.Predict(X)
			require.NoError(t, err)
			got, err := loaded.Predict(X)
			require.NoError(t, err)
			assert.True(t, mat.Equal(want, got))
		})
	}
}

package linear_model

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

func TestMain(m *testing.M) {
	errors.SetWarningHandler(func(error) {})
	m.Run()
}

func assertProbabilities(t *testing.T, probas mat.Matrix) {
	t.Helper()
	rows, cols := probas.Dims()
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			p := probas.At(i, j)
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-6, "row %d", i)
	}
}

func TestLogisticRegression_FitPredict_Binary(t *testing.T) {
	// Class 0: (1, 1) 付近、Class 1: (3, 3) 付近
	X := mat.NewDense(6, 2, []float64{
		0.5, 0.5,
		1.0, 1.5,
		1.5, 1.0,
		3.0, 2.5,
		2.5, 3.0,
		3.5, 3.5,
	})
	y := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})

	lr := NewLogisticRegression(WithLRMaxIter(1000), WithLRTol(1e-4))
	require.NoError(t, lr.Fit(X, y))

	predictions, err := lr.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		assert.Equal(t, y.At(i, 0), predictions.At(i, 0), "sample %d", i)
	}

	testPreds, err := lr.Predict(mat.NewDense(2, 2, []float64{1, 1, 3, 3}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, testPreds.At(0, 0))
	assert.Equal(t, 1.0, testPreds.At(1, 0))
	assert.Equal(t, []int{0, 1}, lr.Classes())
}

func TestLogisticRegression_PredictProba(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{0, 0, 0, 1, 1, 0, 1, 1})
	y := mat.NewDense(4, 1, []float64{0, 0, 1, 1})

	lr := NewLogisticRegression(WithLRMaxIter(500))
	require.NoError(t, lr.Fit(X, y))

	probas, err := lr.PredictProba(X)
	require.NoError(t, err)
	rows, cols := probas.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 2, cols)
	assertProbabilities(t, probas)

	predictions, err := lr.Predict(X)
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		pred := int(predictions.At(i, 0))
		assert.Greater(t, probas.At(i, pred), probas.At(i, 1-pred), "sample %d", i)
	}
}

func TestLogisticRegression_Score(t *testing.T) {
	// 特徴量の和が1.5を超えるとクラス1
	X := mat.NewDense(8, 3, []float64{
		0, 0, 0,
		0, 0, 1,
		0, 1, 0,
		0, 1, 1,
		1, 0, 0,
		1, 0, 1,
		1, 1, 0,
		1, 1, 1,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 0, 1, 0, 1, 1, 1})

	lr := NewLogisticRegression(WithLRMaxIter(1000), WithLRC(10.0))
	require.NoError(t, lr.Fit(X, y))
	assert.GreaterOrEqual(t, lr.Score(X, y), 0.75)

	XSimple := mat.NewDense(6, 2, []float64{0, 0, 0, 1, 1, 0, 3, 3, 3, 4, 4, 3})
	ySimple := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})
	lr2 := NewLogisticRegression(WithLRMaxIter(1000), WithLRC(10.0))
	require.NoError(t, lr2.Fit(XSimple, ySimple))
	assert.Equal(t, 1.0, lr2.Score(XSimple, ySimple))
}

func TestLogisticRegression_Regularization(t *testing.T) {
	X := mat.NewDense(10, 5, []float64{
		1, 0, 0, 0, 0,
		0, 1, 0, 0, 0,
		0, 0, 1, 0, 0,
		0, 0, 0, 1, 0,
		0, 0, 0, 0, 1,
		1, 1, 0, 0, 0,
		0, 1, 1, 0, 0,
		0, 0, 1, 1, 0,
		0, 0, 0, 1, 1,
		1, 0, 0, 0, 1,
	})
	y := mat.NewDense(10, 1, []float64{0, 0, 0, 1, 1, 0, 0, 1, 1, 1})

	norm := func(lr *LogisticRegression) float64 {
		s := 0.0
		for _, w := range lr.coef_[0] {
			s += w * w
		}
		return math.Sqrt(s)
	}

	lrStrong := NewLogisticRegression(WithLRC(0.01), WithLRMaxIter(1000))
	require.NoError(t, lrStrong.Fit(X, y))
	lrWeak := NewLogisticRegression(WithLRC(100.0), WithLRMaxIter(1000))
	require.NoError(t, lrWeak.Fit(X, y))

	assert.Less(t, norm(lrStrong), norm(lrWeak))
}

func TestLogisticRegression_Multiclass(t *testing.T) {
	X := mat.NewDense(9, 2, []float64{
		0, 0, 0, 1, 1, 0,
		2, 2, 2, 3, 3, 2,
		4, 4, 4, 5, 5, 4,
	})
	y := mat.NewDense(9, 1, []float64{0, 0, 0, 1, 1, 1, 2, 2, 2})

	for _, strategy := range []string{"ovr", "multinomial"} {
		t.Run(strategy, func(t *testing.T) {
			lr := NewLogisticRegression(WithLRMaxIter(1000), WithLRC(10.0), WithLRMultiClass(strategy))
			require.NoError(t, lr.Fit(X, y))
			assert.Equal(t, 3, lr.nClasses_)

			probas, err := lr.PredictProba(X)
			require.NoError(t, err)
			_, cols := probas.Dims()
			assert.Equal(t, 3, cols)
			assertProbabilities(t, probas)

			predictions, err := lr.Predict(X)
			require.NoError(t, err)
			correct := 0
			for i := 0; i < 9; i++ {
				if predictions.At(i, 0) == y.At(i, 0) {
					correct++
				}
			}
			assert.GreaterOrEqual(t, float64(correct)/9.0, 0.66)
		})
	}
}

func TestLogisticRegression_GetSetParams(t *testing.T) {
	lr := NewLogisticRegression()
	params := lr.GetParams()
	assert.Equal(t, 1.0, params["C"])
	assert.Equal(t, 100, params["max_iter"])

	require.NoError(t, lr.SetParams(map[string]interface{}{
		"C":            2,
		"max_iter":     200.0,
		"penalty":      "l1",
		"tol":          1e-5,
		"random_state": 7,
	}))
	assert.Equal(t, 2.0, lr.C)
	assert.Equal(t, 200, lr.maxIter)
	assert.Equal(t, "l1", lr.penalty)
	assert.Equal(t, 1e-5, lr.tol)
	assert.Equal(t, uint64(7), lr.randomState)

	var valErr *errors.ValidationError
	assert.ErrorAs(t, lr.SetParams(map[string]interface{}{"solver": "lbfgs"}), &valErr)
}

func TestLogisticRegression_Errors(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	lr := NewLogisticRegression()
	_, err := lr.Predict(X)
	var nfe *errors.NotFittedError
	assert.ErrorAs(t, err, &nfe)
	_, err = lr.PredictProba(X)
	assert.ErrorAs(t, err, &nfe)

	err = lr.Fit(X, mat.NewDense(2, 1, []float64{1, 1}))
	var valErr *errors.ValueError
	assert.ErrorAs(t, err, &valErr)

	err = NewLogisticRegression(WithLRPenalty("elasticnet")).Fit(X, mat.NewDense(2, 1, []float64{0, 1}))
	var paramErr *errors.ValidationError
	assert.ErrorAs(t, err, &paramErr)

	lr = NewLogisticRegression()
	require.NoError(t, lr.Fit(X, mat.NewDense(2, 1, []float64{0, 1})))
	_, err = lr.Predict(mat.NewDense(1, 3, nil))
	var dimErr *errors.DimensionError
	assert.ErrorAs(t, err, &dimErr)
}

func TestLogisticRegression_SeedAndGob(t *testing.T) {
	X := mat.NewDense(6, 2, []float64{0, 0, 0, 1, 1, 0, 3, 3, 3, 4, 4, 3})
	y := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})

	a := NewLogisticRegression(WithLRRandomState(3))
	b := NewLogisticRegression(WithLRRandomState(3))
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))
	assert.Equal(t, a.coef_, b.coef_)

	var buf bytes.Buffer
	var est model.Estimator = a
	require.NoError(t, gob.NewEncoder(&buf).Encode(&est))
	var loaded model.Estimator
	require.NoError(t, gob.NewDecoder(&buf).Decode(&loaded))

	want, err := a.PredictProba(X)
	require.NoError(t, err)
	got, err := loaded.(*LogisticRegression).PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
}

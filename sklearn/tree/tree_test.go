package tree

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

func separableData() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(8, 2, []float64{
		0, 0,
		0, 1,
		1, 0,
		1, 1,
		3, 3,
		3, 4,
		4, 3,
		4, 4,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 0, 0, 1, 1, 1, 1})
	return X, y
}

func assertRowsSumToOne(t *testing.T, probas mat.Matrix) {
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

func TestDecisionTreeClassifier_FitPredict_Binary(t *testing.T) {
	X, y := separableData()
	dt := NewDecisionTreeClassifier(WithCriterion("gini"), WithMaxDepth(5))
	require.NoError(t, dt.Fit(X, y))

	predictions, err := dt.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(y, predictions))

	testPreds, err := dt.Predict(mat.NewDense(2, 2, []float64{0.5, 0.5, 3.5, 3.5}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, testPreds.At(0, 0))
	assert.Equal(t, 1.0, testPreds.At(1, 0))
}

func TestDecisionTreeClassifier_PredictProba(t *testing.T) {
	X := mat.NewDense(6, 2, []float64{0, 0, 0, 1, 1, 0, 2, 2, 2, 3, 3, 2})
	y := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})

	dt := NewDecisionTreeClassifier(WithMaxDepth(3))
	require.NoError(t, dt.Fit(X, y))

	probas, err := dt.PredictProba(X)
	require.NoError(t, err)
	rows, cols := probas.Dims()
	assert.Equal(t, 6, rows)
	assert.Equal(t, 2, cols)
	assertRowsSumToOne(t, probas)
}

func TestDecisionTreeClassifier_Score(t *testing.T) {
	// 両方の特徴量が同程度ならクラス0（XOR型）
	X := mat.NewDense(8, 2, []float64{
		0.0, 0.0,
		0.0, 0.1,
		0.1, 1.0,
		0.0, 0.9,
		1.0, 0.0,
		0.9, 0.0,
		1.0, 1.0,
		0.9, 0.9,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 1, 1, 1, 1, 0, 0})

	dt := NewDecisionTreeClassifier(WithMaxDepth(5), WithMinSamplesLeaf(1))
	require.NoError(t, dt.Fit(X, y))
	assert.Equal(t, 1.0, dt.Score(X, y))

	XSimple := mat.NewDense(6, 2, []float64{0, 0, 0, 1, 1, 0, 2, 2, 2, 3, 3, 2})
	ySimple := mat.NewDense(6, 1, []float64{0, 0, 0, 1, 1, 1})
	for _, criterion := range []string{"gini", "entropy"} {
		dtSimple := NewDecisionTreeClassifier(WithCriterion(criterion), WithMaxDepth(3))
		require.NoError(t, dtSimple.Fit(XSimple, ySimple))
		assert.Equal(t, 1.0, dtSimple.Score(XSimple, ySimple), criterion)
	}
}

func TestDecisionTreeClassifier_Multiclass(t *testing.T) {
	X := mat.NewDense(9, 2, []float64{
		0, 0, 0, 1, 1, 0,
		3, 3, 3, 4, 4, 3,
		6, 6, 6, 7, 7, 6,
	})
	y := mat.NewDense(9, 1, []float64{0, 0, 0, 1, 1, 1, 2, 2, 2})

	dt := NewDecisionTreeClassifier(WithCriterion("gini"), WithMaxDepth(5))
	require.NoError(t, dt.Fit(X, y))
	assert.Equal(t, 3, dt.nClasses_)
	assert.Equal(t, []int{0, 1, 2}, dt.Classes())

	probas, err := dt.PredictProba(X)
	require.NoError(t, err)
	_, cols := probas.Dims()
	require.Equal(t, 3, cols)
	assertRowsSumToOne(t, probas)
	for i := 0; i < 9; i++ {
		assert.Equal(t, 1.0, probas.At(i, int(y.At(i, 0))), "row %d", i)
	}
	assert.Equal(t, 1.0, dt.Score(X, y))
}

func TestDecisionTreeClassifier_NonContiguousLabels(t *testing.T) {
	X, _ := separableData()
	y := mat.NewDense(8, 1, []float64{5, 5, 5, 5, 2, 2, 2, 2})

	dt := NewDecisionTreeClassifier()
	require.NoError(t, dt.Fit(X, y))
	assert.Equal(t, []int{2, 5}, dt.Classes())

	predictions, err := dt.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(y, predictions))

	var valErr *errors.ValueError
	assert.ErrorAs(t, dt.Fit(X, mat.NewDense(8, 1, []float64{0, 0.5, 0, 0, 1, 1, 1, 1})), &valErr)
}

func TestDecisionTreeClassifier_FeatureImportance(t *testing.T) {
	// 特徴量0だけがクラスを決める
	X := mat.NewDense(8, 3, []float64{
		0, 0, 0,
		0, 1, 1,
		0, 0, 1,
		0, 1, 0,
		1, 0, 0,
		1, 1, 1,
		1, 0, 1,
		1, 1, 0,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 0, 0, 1, 1, 1, 1})

	dt := NewDecisionTreeClassifier()
	require.NoError(t, dt.Fit(X, y))

	importances := dt.GetFeatureImportances()
	require.Len(t, importances, 3)
	assert.Greater(t, importances[0], importances[1])
	assert.Greater(t, importances[0], importances[2])

	sum := 0.0
	for _, imp := range importances {
		sum += imp
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestDecisionTreeClassifier_Constraints(t *testing.T) {
	X := mat.NewDense(16, 2, nil)
	y := mat.NewDense(16, 1, nil)
	for i := 0; i < 16; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64(i%4))
		y.Set(i, 0, float64(i%2))
	}

	t.Run("max_depth", func(t *testing.T) {
		dt := NewDecisionTreeClassifier(WithMaxDepth(2))
		require.NoError(t, dt.Fit(X, y))
		assert.LessOrEqual(t, dt.GetDepth(), 2)
		assert.LessOrEqual(t, dt.GetNLeaves(), 4)
	})

	t.Run("min_samples", func(t *testing.T) {
		dt := NewDecisionTreeClassifier(WithMinSamplesSplit(5), WithMinSamplesLeaf(2))
		require.NoError(t, dt.Fit(X.Slice(0, 10, 0, 2), y.Slice(0, 10, 0, 1)))
		assert.LessOrEqual(t, dt.GetNLeaves(), 5)
	})

	t.Run("unlimited", func(t *testing.T) {
		dt := NewDecisionTreeClassifier()
		require.NoError(t, dt.Fit(X, y))
		assert.Equal(t, 1.0, dt.Score(X, y))
	})
}

func TestDecisionTreeClassifier_GetSetParams(t *testing.T) {
	dt := NewDecisionTreeClassifier()
	params := dt.GetParams()
	assert.Equal(t, "gini", params["criterion"])
	assert.Equal(t, 2, params["min_samples_split"])

	require.NoError(t, dt.SetParams(map[string]interface{}{
		"criterion":         "entropy",
		"max_depth":         5,
		"min_samples_split": 4.0,
		"min_samples_leaf":  2,
		"random_state":      uint64(9),
	}))
	assert.Equal(t, "entropy", dt.criterion)
	assert.Equal(t, 5, dt.maxDepth)
	assert.Equal(t, 4, dt.minSamplesSplit)
	assert.Equal(t, 2, dt.minSamplesLeaf)
	assert.Equal(t, uint64(9), dt.randomState)

	assert.Error(t, dt.SetParams(map[string]interface{}{"splitter": "best"}))
	assert.Error(t, dt.SetParams(map[string]interface{}{"max_depth": 2.5}))
}

func TestDecisionTreeClassifier_Errors(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{1, 2, 3, 4})

	dt := NewDecisionTreeClassifier()
	_, err := dt.Predict(X)
	var nfe *errors.NotFittedError
	assert.ErrorAs(t, err, &nfe)
	_, err = dt.PredictProba(X)
	assert.ErrorAs(t, err, &nfe)
	_, err = dt.FeatureImportances()
	assert.ErrorAs(t, err, &nfe)

	var valErr *errors.ValidationError
	assert.ErrorAs(t, NewDecisionTreeClassifier(WithCriterion("mse")).Fit(X, mat.NewDense(2, 1, []float64{0, 1})), &valErr)
	assert.ErrorAs(t, NewDecisionTreeClassifier(WithMinSamplesSplit(1)).Fit(X, mat.NewDense(2, 1, []float64{0, 1})), &valErr)

	var dimErr *errors.DimensionError
	assert.ErrorAs(t, dt.Fit(X, mat.NewDense(3, 1, nil)), &dimErr)

	var numErr *errors.NumericalInstabilityError
	assert.ErrorAs(t, dt.Fit(mat.NewDense(2, 1, []float64{math.Inf(1), 0}), mat.NewDense(2, 1, []float64{0, 1})), &numErr)

	require.NoError(t, dt.Fit(X, mat.NewDense(2, 1, []float64{0, 1})))
	_, err = dt.Predict(mat.NewDense(1, 3, nil))
	assert.ErrorAs(t, err, &dimErr)
}

func TestDecisionTreeRegressor(t *testing.T) {
	X := mat.NewDense(40, 2, nil)
	y := mat.NewDense(40, 1, nil)
	for i := 0; i < 40; i++ {
		x := float64(i) / 4
		X.Set(i, 0, x)
		X.Set(i, 1, float64(i%3))
		y.Set(i, 0, math.Sin(x))
	}

	dt := NewDecisionTreeRegressor()
	require.NoError(t, dt.Fit(X, y))
	score, err := dt.Score(X, y)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)

	imp, err := dt.FeatureImportances()
	require.NoError(t, err)
	assert.Greater(t, imp[0], imp[1])

	stump := NewDecisionTreeRegressor(WithMaxDepth(1), WithCriterion("mse"))
	require.NoError(t, stump.Fit(X, y))
	assert.Equal(t, 2, stump.GetNLeaves())
	predictions, err := stump.Predict(X)
	require.NoError(t, err)
	distinct := map[float64]bool{}
	for i := 0; i < 40; i++ {
		distinct[predictions.At(i, 0)] = true
	}
	assert.Len(t, distinct, 2)

	var valErr *errors.ValidationError
	assert.ErrorAs(t, NewDecisionTreeRegressor(WithCriterion("gini")).Fit(X, y), &valErr)
}

func TestDecisionTree_MaxFeaturesIsSeeded(t *testing.T) {
	X := mat.NewDense(30, 4, nil)
	y := mat.NewDense(30, 1, nil)
	for i := 0; i < 30; i++ {
		for j := 0; j < 4; j++ {
			X.Set(i, j, float64((i*(j+3))%7))
		}
		y.Set(i, 0, float64((i*5)%7))
	}

	a := NewDecisionTreeRegressor(WithMaxFeatures(2), WithRandomState(11))
	b := NewDecisionTreeRegressor(WithMaxFeatures(2), WithRandomState(11))
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))
	assert.Equal(t, a.nodes, b.nodes)
}

func TestDecisionTree_GobRoundTrip(t *testing.T) {
	X, y := separableData()
	tests := []struct {
		name string
		est  model.Estimator
	}{
		{"classifier", NewDecisionTreeClassifier(WithMaxDepth(3))},
		{"regressor", NewDecisionTreeRegressor(WithMinSamplesLeaf(2))},
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
			assert.Equal(t, tt.est.(model.ParameterGetter).GetParams(), loaded.(model.ParameterGetter).GetParams())
		})
	}
}

package training

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/preprocessing"
)

func fruitDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	X, y := blobs(12, 21)
	n, _ := X.Dims()
	names := []string{"apple", "banana", "cherry"}
	a := make([]float64, n)
	b := make([]float64, n)
	label := make([]string, n)
	for i := 0; i < n; i++ {
		a[i], b[i] = X.At(i, 0), X.At(i, 1)
		label[i] = names[int(y.AtVec(i))]
	}
	ds, err := dataset.New(
		dataset.NewNumericColumn("a", a),
		dataset.NewNumericColumn("b", b),
		dataset.NewCategoricalColumn("fruit", label),
	)
	require.NoError(t, err)
	return ds
}

func TestTrainedModelPredictDataset(t *testing.T) {
	ds := fruitDataset(t)
	prep, err := preprocessing.NewPipeline(preprocessing.WithRandomSeed(3)).FitTransform(ds, "fruit", nil)
	require.NoError(t, err)

	specs := coreSpecs(t, dataset.Classification, "knn", "gaussian_nb")
	res, err := NewOrchestrator().Train(context.Background(), specs, dataset.Classification, prep.XTrain, prep.YTrain, prep.State)
	require.NoError(t, err)
	require.Len(t, res.Models, 2)

	for _, tm := range res.Models {
		t.Run(tm.Name, func(t *testing.T) {
			direct, err := tm.Predict(prep.XTest)
			require.NoError(t, err)
			viaRaw, err := tm.PredictDataset(ds.Select(prep.TestRows))
			require.NoError(t, err)
			assert.True(t, mat.Equal(direct, viaRaw))

			labels, err := tm.PredictLabels(ds.Select(prep.TestRows))
			require.NoError(t, err)
			want, err := prep.State.DecodeLabels(direct)
			require.NoError(t, err)
			assert.Equal(t, want, labels)
			for _, l := range labels {
				assert.Contains(t, []string{"apple", "banana", "cherry"}, l)
			}

			proba, err := tm.PredictProba(prep.XTest)
			require.NoError(t, err)
			rows, cols := proba.Dims()
			assert.Equal(t, len(prep.TestRows), rows)
			assert.Equal(t, 3, cols)
			for i := 0; i < rows; i++ {
				assert.InDelta(t, 1.0, mat.Sum(proba.RowView(i)), 1e-9)
			}
		})
	}
}

func TestTrainedModelRegressionLabels(t *testing.T) {
	X, y := linearData(40, 2)
	n, _ := X.Dims()
	a, b := make([]float64, n), make([]float64, n)
	target := make([]float64, n)
	for i := 0; i < n; i++ {
		a[i], b[i], target[i] = X.At(i, 0), X.At(i, 1), y.AtVec(i)
	}
	ds, err := dataset.New(
		dataset.NewNumericColumn("a", a),
		dataset.NewNumericColumn("b", b),
		dataset.NewNumericColumn("y", target),
	)
	require.NoError(t, err)
	prep, err := preprocessing.NewPipeline(preprocessing.WithProblemType(dataset.Regression)).FitTransform(ds, "y", nil)
	require.NoError(t, err)

	specs := coreSpecs(t, dataset.Regression, "linear_regression")
	res, err := NewOrchestrator().Train(context.Background(), specs, dataset.Regression, prep.XTrain, prep.YTrain, prep.State)
	require.NoError(t, err)
	require.Len(t, res.Models, 1)

	tm := res.Models[0]
	labels, err := tm.PredictLabels(ds.Select(prep.TestRows))
	require.NoError(t, err)
	assert.Len(t, labels, len(prep.TestRows))

	_, err = tm.PredictProba(prep.XTest)
	var valErr *errors.ValueError
	assert.True(t, errors.As(err, &valErr))

	var empty TrainedModel
	_, err = empty.Predict(prep.XTest)
	var nfErr *errors.NotFittedError
	assert.True(t, errors.As(err, &nfErr))
}

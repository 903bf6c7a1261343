package training

import (
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/preprocessing"
)

// TrainedModel is a fitted estimator together with everything needed to
// apply it to raw data.
type TrainedModel struct {
	Name        string
	Family      string
	Index       int // registry position
	ProblemType dataset.ProblemType
	Estimator   model.Estimator
	Params      map[string]interface{}
	State       *preprocessing.State
	FitDuration time.Duration
	CV          *CVSummary  // nil without cross-validation
	GridTrace   []GridPoint // nil without grid search
}

// Predict returns one prediction per row of the preprocessed matrix X.
// Classification predictions are class codes.
func (m *TrainedModel) Predict(X mat.Matrix) (*mat.VecDense, error) {
	if m.Estimator == nil {
		return nil, errors.NewNotFittedError(m.Name, "Predict")
	}
	pred, err := m.Estimator.Predict(X)
	if err != nil {
		return nil, err
	}
	return columnVec(pred), nil
}

// PredictProba returns class probabilities with one column per class code
// of the preprocessing state. Columns of classes the estimator never saw
// are zero.
func (m *TrainedModel) PredictProba(X mat.Matrix) (*mat.Dense, error) {
	clf, ok := m.Estimator.(model.Classifier)
	if !ok {
		return nil, errors.NewValueError("TrainedModel.PredictProba", m.Name+" does not produce probabilities")
	}
	proba, err := clf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	nClasses := m.NumClasses()
	rows, _ := proba.Dims()
	out := mat.NewDense(rows, nClasses, nil)
	for j, code := range clf.Classes() {
		if code < 0 || code >= nClasses {
			return nil, errors.NewValueError("TrainedModel.PredictProba", "class code "+strconv.Itoa(code)+" out of range")
		}
		for i := 0; i < rows; i++ {
			out.Set(i, code, proba.At(i, j))
		}
	}
	return out, nil
}

// NumClasses is the number of class codes of a classification model. Without
// a preprocessing state it falls back to the codes the estimator saw.
func (m *TrainedModel) NumClasses() int {
	if m.State != nil && m.State.Labels != nil {
		return len(m.State.Classes())
	}
	n := 0
	if clf, ok := m.Estimator.(model.Classifier); ok {
		for _, c := range clf.Classes() {
			if c+1 > n {
				n = c + 1
			}
		}
	}
	return n
}

// PredictDataset preprocesses raw rows with the stored state and predicts.
func (m *TrainedModel) PredictDataset(ds *dataset.Dataset) (*mat.VecDense, error) {
	if m.State == nil {
		return nil, errors.NewValueError("TrainedModel.PredictDataset", "model has no preprocessing state")
	}
	X, err := m.State.Apply(ds)
	if err != nil {
		return nil, err
	}
	return m.Predict(X)
}

// PredictLabels predicts raw rows and decodes classification codes to the
// original labels. Regression predictions are formatted as numbers.
func (m *TrainedModel) PredictLabels(ds *dataset.Dataset) ([]string, error) {
	pred, err := m.PredictDataset(ds)
	if err != nil {
		return nil, err
	}
	if m.ProblemType == dataset.Classification {
		return m.State.DecodeLabels(pred)
	}
	out := make([]string, pred.Len())
	for i := range out {
		out[i] = strconv.FormatFloat(pred.AtVec(i), 'g', -1, 64)
	}
	return out, nil
}

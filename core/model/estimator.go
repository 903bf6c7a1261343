// Package model defines the interfaces every estimator and transformer in
// mlexplorer implements, plus shared fitted-state bookkeeping.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter is the interface for models that learn from data.
type Fitter interface {
	Fit(X, y mat.Matrix) error
}

// Predictor is the interface for fitted models that produce an n×1 prediction matrix.
type Predictor interface {
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Estimator is the unit the orchestrator trains, evaluates and persists.
type Estimator interface {
	Fitter
	Predictor
}

// Classifier is an Estimator that also produces class probabilities.
// Column j of PredictProba corresponds to Classes()[j].
type Classifier interface {
	Estimator
	PredictProba(X mat.Matrix) (mat.Matrix, error)
	Classes() []int
}

// FeatureImportancer is implemented by models with native feature importances
// (impurity reduction for trees, coefficient magnitude for linear models).
type FeatureImportancer interface {
	FeatureImportances() ([]float64, error)
}

// ParameterGetter is the interface for models that expose their hyperparameters.
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter modification.
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}

// Transformer learns a transformation on X and applies it.
type Transformer interface {
	Fit(X mat.Matrix) error
	Transform(X mat.Matrix) (mat.Matrix, error)
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}

package registry

import (
	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/sklearn/ensemble"
	"github.com/YuminosukeSato/mlexplorer/sklearn/linear_model"
	"github.com/YuminosukeSato/mlexplorer/sklearn/naive_bayes"
	"github.com/YuminosukeSato/mlexplorer/sklearn/neighbors"
	"github.com/YuminosukeSato/mlexplorer/sklearn/tree"
)

var (
	classificationOnly = []dataset.ProblemType{dataset.Classification}
	regressionOnly     = []dataset.ProblemType{dataset.Regression}
	both               = []dataset.ProblemType{dataset.Classification, dataset.Regression}
)

type configurable interface {
	model.Estimator
	model.ParameterSetter
}

// build applies params to a freshly constructed estimator.
func build(est configurable, params map[string]interface{}) (model.Estimator, error) {
	if err := est.SetParams(params); err != nil {
		return nil, err
	}
	return est, nil
}

// coreSpecs lists the built-in families in canonical order. Classification
// and regression share one list; All filters it by problem type.
func coreSpecs() []ModelSpec {
	return []ModelSpec{
		{
			Name:         "logistic_regression",
			Family:       "linear",
			ProblemTypes: classificationOnly,
			Grid: ParamGrid{
				{Name: "C", Values: []interface{}{1.0, 0.1, 10.0}},
				{Name: "max_iter", Values: []interface{}{200}},
			},
			Available: true,
			New: func(_ dataset.ProblemType, params map[string]interface{}) (model.Estimator, error) {
				return build(linear_model.NewLogisticRegression(), params)
			},
		},
		{
			Name:         "linear_regression",
			Family:       "linear",
			ProblemTypes: regressionOnly,
			Grid: ParamGrid{
				{Name: "fit_intercept", Values: []interface{}{true}},
			},
			Available: true,
			New: func(_ dataset.ProblemType, params map[string]interface{}) (model.Estimator, error) {
				return build(linear_model.NewLinearRegression(), params)
			},
		},
		{
			Name:         "ridge",
			Family:       "linear",
			ProblemTypes: regressionOnly,
			Grid: ParamGrid{
				{Name: "alpha", Values: []interface{}{1.0, 0.1, 10.0}},
			},
			Available: true,
			New: func(_ dataset.ProblemType, params map[string]interface{}) (model.Estimator, error) {
				return build(linear_model.NewRidge(1.0), params)
			},
		},
		{
			Name:         "decision_tree",
			Family:       "tree",
			ProblemTypes: both,
			Grid: ParamGrid{
				{Name: "max_depth", Values: []interface{}{0, 3, 5, 10}},
				{Name: "min_samples_leaf", Values: []interface{}{1, 5}},
			},
			Available: true,
			New: func(pt dataset.ProblemType, params map[string]interface{}) (model.Estimator, error) {
				if pt == dataset.Classification {
					return build(tree.NewDecisionTreeClassifier(), params)
				}
				return build(tree.NewDecisionTreeRegressor(), params)
			},
		},
		{
			Name:         "random_forest",
			Family:       "ensemble",
			ProblemTypes: both,
			Grid: ParamGrid{
				{Name: "n_estimators", Values: []interface{}{100, 200}},
				{Name: "max_depth", Values: []interface{}{0, 10}},
			},
			Available: true,
			New: func(pt dataset.ProblemType, params map[string]interface{}) (model.Estimator, error) {
				if pt == dataset.Classification {
					return build(ensemble.NewRandomForestClassifier(), params)
				}
				return build(ensemble.NewRandomForestRegressor(), params)
			},
		},
		{
			Name:         "knn",
			Family:       "neighbors",
			ProblemTypes: both,
			Grid: ParamGrid{
				{Name: "n_neighbors", Values: []interface{}{5, 3, 7, 11}},
				{Name: "weights", Values: []interface{}{"uniform", "distance"}},
			},
			Available: true,
			New: func(pt dataset.ProblemType, params map[string]interface{}) (model.Estimator, error) {
				if pt == dataset.Classification {
					return build(neighbors.NewKNeighborsClassifier(), params)
				}
				return build(neighbors.NewKNeighborsRegressor(), params)
			},
		},
		{
			Name:         "gaussian_nb",
			Family:       "naive_bayes",
			ProblemTypes: classificationOnly,
			Grid: ParamGrid{
				{Name: "var_smoothing", Values: []interface{}{1e-9, 1e-8, 1e-7}},
			},
			Available: true,
			New: func(_ dataset.ProblemType, params map[string]interface{}) (model.Estimator, error) {
				return build(naive_bayes.NewGaussianNB(), params)
			},
		},
	}
}

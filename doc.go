// Package mlexplorer is the training and evaluation core of the ML Model
// Explorer: it turns a tabular dataset into a ranked set of trained models.
//
// A session runs four phases over one dataset:
//
//   - preprocessing: validate the schema, handle missing values, split
//     train/test and fit scaling and encoding on the training rows only
//   - training: fit every selected model family with optional k-fold CV and
//     grid search, isolating per-model failures
//   - evaluation: metrics, confusion matrix, ROC, residuals, feature
//     importance and optional Shapley interpretation on the test rows
//   - ranking: order the results on a primary metric
//
// # Quick Start
//
//	cfg := config.Default()
//	cfg.Target = "species"
//	cfg.Training.CVFolds = 5
//
//	s, err := session.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := s.Run(ctx, ds); err != nil {
//	    log.Fatal(err)
//	}
//	best, _ := s.Best()
//	path, _ := s.SaveBestFile(ctx)
//
// The saved artifact carries the preprocessing state, so it can be applied
// to new raw data:
//
//	a, err := artifact.LoadFor(f, fresh)
//	labels, err := a.Model.PredictLabels(fresh)
//
// # Packages
//
//   - dataset: typed columns and problem type inference
//   - preprocessing: imputation, scaling, encoding, split and fingerprint
//   - registry, backend: model families and optional backends
//   - sklearn/...: estimators (linear, tree, forest, knn, naive Bayes, boosting)
//   - training: orchestrator, cross-validation and grid search
//   - evaluation, metrics, interpret: metrics and diagnostics
//   - leaderboard: ranking
//   - artifact: persistence
//   - session, config, telemetry: wiring, configuration and observability
//   - pkg/errors, pkg/log: error types and structured logging
package mlexplorer

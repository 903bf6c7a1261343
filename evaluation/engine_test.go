package evaluation

import (
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/YuminosukeSato/mlexplorer/backend"
	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/interpret"
	"github.com/YuminosukeSato/mlexplorer/metrics"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
	"github.com/YuminosukeSato/mlexplorer/pkg/log"
	"github.com/YuminosukeSato/mlexplorer/preprocessing"
	"github.com/YuminosukeSato/mlexplorer/registry"
	"github.com/YuminosukeSato/mlexplorer/telemetry"
	"github.com/YuminosukeSato/mlexplorer/training"
)

type fixture struct {
	prep   *preprocessing.Result
	models map[string]*training.TrainedModel
}

// classDataset はクラスごとに中心をずらした2特徴量のデータ
func classDataset(t *testing.T, labels []string, perClass int) *dataset.Dataset {
	t.Helper()
	r := rand.New(rand.NewPCG(17, 17^0x9e3779b97f4a7c15))
	var a, b []float64
	var target []string
	for c, label := range labels {
		for i := 0; i < perClass; i++ {
			a = append(a, float64(c)*4+r.NormFloat64())
			b = append(b, float64(c%2)*-3+r.NormFloat64())
			target = append(target, label)
		}
	}
	ds, err := dataset.New(
		dataset.NewNumericColumn("a", a),
		dataset.NewNumericColumn("b", b),
		dataset.NewCategoricalColumn("label", target),
	)
	require.NoError(t, err)
	return ds
}

func regressionDataset(t *testing.T, n int) *dataset.Dataset {
	t.Helper()
	r := rand.New(rand.NewPCG(23, 23^0x9e3779b97f4a7c15))
	a, b, noise, y := make([]float64, n), make([]float64, n), make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		a[i], b[i], noise[i] = r.Float64()*10, r.Float64()*10, r.Float64()
		y[i] = 4*a[i] - b[i] + r.NormFloat64()*0.2
	}
	ds, err := dataset.New(
		dataset.NewNumericColumn("a", a),
		dataset.NewNumericColumn("b", b),
		dataset.NewNumericColumn("noise", noise),
		dataset.NewNumericColumn("y", y),
	)
	require.NoError(t, err)
	return ds
}

func train(t *testing.T, ds *dataset.Dataset, target string, names ...string) fixture {
	t.Helper()
	prep, err := preprocessing.NewPipeline(preprocessing.WithTestFraction(0.3)).FitTransform(ds, target, nil)
	require.NoError(t, err)
	pt := prep.State.ProblemType
	specs, err := registry.New(backend.NewCapabilities()).Select(pt, names)
	require.NoError(t, err)
	res, err := training.NewOrchestrator().Train(context.Background(), specs, pt, prep.XTrain, prep.YTrain, prep.State)
	require.NoError(t, err)
	require.Empty(t, res.Failures)

	f := fixture{prep: prep, models: make(map[string]*training.TrainedModel)}
	for _, tm := range res.Models {
		f.models[tm.Name] = tm
	}
	return f
}

func TestEvaluateBinary(t *testing.T) {
	f := train(t, classDataset(t, []string{"no", "yes"}, 40), "label", "logistic_regression", "knn")
	engine := NewEngine(WithSeed(3))

	for _, name := range []string{"logistic_regression", "knn"} {
		t.Run(name, func(t *testing.T) {
			before := mat.DenseCopyOf(f.prep.XTest)
			res, err := engine.Evaluate(context.Background(), f.models[name], f.prep.XTest, f.prep.YTest)
			require.NoError(t, err)
			assert.True(t, mat.Equal(before, f.prep.XTest), "evaluation must not modify X")

			for _, m := range []string{metrics.NameAccuracy, metrics.NamePrecision, metrics.NameRecall, metrics.NameF1, metrics.NameROCAUC, metrics.NameLogLoss} {
				got, ok := res.Metric(m)
				require.True(t, ok, m)
				assert.False(t, got.NotApplicable, m)
			}
			assert.Greater(t, res.Metrics[metrics.NameAccuracy].Value, 0.9)
			assert.Greater(t, res.Metrics[metrics.NameROCAUC].Value, 0.9)
			assert.Equal(t, []string{"no", "yes"}, res.Classes)
			assert.NotEmpty(t, res.ROC)

			rows, _ := f.prep.XTest.Dims()
			r, c := res.ConfusionMatrix.Dims()
			assert.Equal(t, 2, r)
			assert.Equal(t, 2, c)
			assert.InDelta(t, float64(rows), mat.Sum(res.ConfusionMatrix), 1e-9)

			require.NotNil(t, res.Importance)
			assert.Equal(t, []string{"a", "b"}, res.Importance.Features)
			assert.InDelta(t, 1.0, floats.Sum(res.Importance.Values), 1e-9)
			assert.Nil(t, res.Residuals)
			assert.False(t, res.Interpretation.Available)
		})
	}
}

func TestImportanceMethod(t *testing.T) {
	f := train(t, classDataset(t, []string{"no", "yes"}, 30), "label", "decision_tree", "gaussian_nb")
	engine := NewEngine(WithSeed(1), WithPermutationRepeats(3))

	tree, err := engine.Evaluate(context.Background(), f.models["decision_tree"], f.prep.XTest, f.prep.YTest)
	require.NoError(t, err)
	assert.Equal(t, "native", tree.Importance.Method)

	nb, err := engine.Evaluate(context.Background(), f.models["gaussian_nb"], f.prep.XTest, f.prep.YTest)
	require.NoError(t, err)
	assert.Equal(t, "permutation", nb.Importance.Method)

	again, err := NewEngine(WithSeed(1), WithPermutationRepeats(3), WithWorkers(1)).
		Evaluate(context.Background(), f.models["gaussian_nb"], f.prep.XTest, f.prep.YTest)
	require.NoError(t, err)
	assert.Equal(t, nb.Importance.Values, again.Importance.Values)
}

func TestEvaluateMulticlass(t *testing.T) {
	f := train(t, classDataset(t, []string{"red", "green", "blue"}, 30), "label", "random_forest")
	tm := f.models["random_forest"]

	res, err := NewEngine().Evaluate(context.Background(), tm, f.prep.XTest, f.prep.YTest)
	require.NoError(t, err)
	assert.True(t, res.Metrics[metrics.NameROCAUC].NotApplicable)
	assert.NotEmpty(t, res.Metrics[metrics.NameROCAUC].Reason)
	assert.True(t, res.Metrics[metrics.NameLogLoss].NotApplicable)
	assert.Empty(t, res.ROC)
	assert.Equal(t, []string{"red", "green", "blue"}, res.Classes)
	r, _ := res.ConfusionMatrix.Dims()
	assert.Equal(t, 3, r)

	ovr, err := NewEngine(WithOneVsRestAUC(true)).Evaluate(context.Background(), tm, f.prep.XTest, f.prep.YTest)
	require.NoError(t, err)
	assert.False(t, ovr.Metrics[metrics.NameROCAUC].NotApplicable)
	assert.Greater(t, ovr.Metrics[metrics.NameROCAUC].Value, 0.9)
}

func TestEvaluateRegression(t *testing.T) {
	f := train(t, regressionDataset(t, 80), "y", "linear_regression")
	tm := f.models["linear_regression"]

	res, err := NewEngine().Evaluate(context.Background(), tm, f.prep.XTest, f.prep.YTest)
	require.NoError(t, err)
	for _, m := range []string{metrics.NameMSE, metrics.NameRMSE, metrics.NameMAE, metrics.NameR2} {
		assert.False(t, res.Metrics[m].NotApplicable, m)
	}
	assert.Greater(t, res.Metrics[metrics.NameR2].Value, 0.99)
	assert.InDelta(t, res.Metrics[metrics.NameRMSE].Value*res.Metrics[metrics.NameRMSE].Value, res.Metrics[metrics.NameMSE].Value, 1e-9)

	rows, _ := f.prep.XTest.Dims()
	require.Len(t, res.Residuals, rows)
	require.Len(t, res.ActualVsPredicted, rows)
	for i, p := range res.ActualVsPredicted {
		assert.InDelta(t, p.Actual-p.Predicted, res.Residuals[i], 1e-12)
	}
	assert.Nil(t, res.ConfusionMatrix)

	// 線形回帰の係数の絶対値: a(4) > b(1) > noise(~0)
	require.Equal(t, "native", res.Importance.Method)
	assert.Greater(t, res.Importance.Values[0], res.Importance.Values[1])
	assert.Greater(t, res.Importance.Values[1], res.Importance.Values[2])
}

func TestEvaluateZeroVarianceTarget(t *testing.T) {
	f := train(t, regressionDataset(t, 40), "y", "linear_regression")
	rows, _ := f.prep.XTest.Dims()
	constant := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		constant.SetVec(i, 5)
	}

	res, err := NewEngine().Evaluate(context.Background(), f.models["linear_regression"], f.prep.XTest, constant)
	require.NoError(t, err)
	assert.True(t, res.Metrics[metrics.NameR2].NotApplicable)
	assert.Equal(t, "y_test has zero variance", res.Metrics[metrics.NameR2].Reason)
	assert.False(t, res.Metrics[metrics.NameMSE].NotApplicable)
}

func TestInterpretation(t *testing.T) {
	f := train(t, regressionDataset(t, 60), "y", "linear_regression")
	tm := f.models["linear_regression"]
	shap := backend.Backend{Name: interpret.BackendName, Interpreter: interpret.NewMonteCarlo()}

	t.Run("available", func(t *testing.T) {
		engine := NewEngine(WithInterpretation(true), WithInterpretSamples(5), WithCapabilities(backend.NewCapabilities(shap)))
		res, err := engine.Evaluate(context.Background(), tm, f.prep.XTest, f.prep.YTest)
		require.NoError(t, err)
		interp := res.Interpretation
		require.True(t, interp.Available, interp.Reason)
		assert.Equal(t, []int{0, 1, 2, 3, 4}, interp.Rows)
		assert.Equal(t, []string{"a", "b", "noise"}, interp.Features)
		r, c := interp.Values.Dims()
		assert.Equal(t, 5, r)
		assert.Equal(t, 3, c)
	})

	t.Run("backend_missing", func(t *testing.T) {
		engine := NewEngine(WithInterpretation(true), WithCapabilities(backend.NewCapabilities()))
		res, err := engine.Evaluate(context.Background(), tm, f.prep.XTest, f.prep.YTest)
		require.NoError(t, err)
		assert.False(t, res.Interpretation.Available)
		assert.Contains(t, res.Interpretation.Reason, interpret.BackendName)
		assert.Nil(t, res.Interpretation.Values)
	})

	t.Run("disabled", func(t *testing.T) {
		res, err := NewEngine(WithCapabilities(backend.NewCapabilities(shap))).Evaluate(context.Background(), tm, f.prep.XTest, f.prep.YTest)
		require.NoError(t, err)
		assert.False(t, res.Interpretation.Available)
	})
}

func TestInterpretationClassification(t *testing.T) {
	f := train(t, classDataset(t, []string{"no", "yes"}, 30), "label", "logistic_regression")
	caps := backend.NewCapabilities(backend.Backend{Name: interpret.BackendName, Interpreter: interpret.NewMonteCarlo()})
	res, err := NewEngine(WithInterpretation(true), WithCapabilities(caps)).
		Evaluate(context.Background(), f.models["logistic_regression"], f.prep.XTest, f.prep.YTest)
	require.NoError(t, err)
	require.True(t, res.Interpretation.Available, res.Interpretation.Reason)
	assert.Equal(t, "yes", res.Interpretation.Class)
}

func TestEvaluateObservability(t *testing.T) {
	f := train(t, classDataset(t, []string{"no", "yes"}, 20), "label", "knn")
	provider, _ := log.NewTestLoggerProvider(log.LevelInfo)
	recorder := tracetest.NewSpanRecorder()
	tel, err := telemetry.New("mlx", prometheus.NewRegistry(),
		telemetry.WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))))
	require.NoError(t, err)

	_, err = NewEngine(WithLogger(provider), WithTelemetry(tel)).
		Evaluate(context.Background(), f.models["knn"], f.prep.XTest, f.prep.YTest)
	require.NoError(t, err)

	assert.True(t, provider.Logger().ContainsMessage("Model evaluated"))
	assert.True(t, provider.Logger().ContainsField(log.ModelNameKey, "knn"))
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, telemetry.SpanEvaluation, recorder.Ended()[0].Name())
}

func TestEvaluateErrors(t *testing.T) {
	f := train(t, classDataset(t, []string{"no", "yes"}, 20), "label", "knn")
	_, err := NewEngine().Evaluate(context.Background(), f.models["knn"], f.prep.XTest, mat.NewVecDense(1, nil))
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))
}

func TestPlots(t *testing.T) {
	dir := t.TempDir()
	bin := train(t, classDataset(t, []string{"no", "yes"}, 30), "label", "logistic_regression")
	reg := train(t, regressionDataset(t, 40), "y", "ridge")
	engine := NewEngine()

	clf, err := engine.Evaluate(context.Background(), bin.models["logistic_regression"], bin.prep.XTest, bin.prep.YTest)
	require.NoError(t, err)
	rgr, err := engine.Evaluate(context.Background(), reg.models["ridge"], reg.prep.XTest, reg.prep.YTest)
	require.NoError(t, err)

	rocPath := filepath.Join(dir, "roc.png")
	require.NoError(t, SaveROCPlot(clf, rocPath))
	residualPath := filepath.Join(dir, "residuals.svg")
	require.NoError(t, SaveResidualPlot(rgr, residualPath))
	for _, p := range []string{rocPath, residualPath} {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}

	var valErr *errors.ValueError
	assert.True(t, errors.As(SaveROCPlot(rgr, filepath.Join(dir, "x.png")), &valErr))
	assert.True(t, errors.As(SaveResidualPlot(clf, filepath.Join(dir, "y.png")), &valErr))
}

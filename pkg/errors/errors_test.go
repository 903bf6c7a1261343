package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "Fit",
			kind:    "invalid input",
			err:     fmt.Errorf("test error"),
			wantMsg: "mlexplorer: Fit: invalid input: test error",
		},
		{
			name:    "without original error",
			op:      "Predict",
			kind:    "not fitted",
			wantMsg: "mlexplorer: Predict: not fitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)
			assert.Equal(t, tt.wantMsg, err.Error())

			// スタックトレースの存在確認
			assert.Contains(t, fmt.Sprintf("%+v", err), "errors_test.go")

			var modelErr *ModelError
			assert.True(t, As(err, &modelErr))
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 3, 2, 1)
	assert.Equal(t, "mlexplorer: Predict: dimension mismatch on axis 1 (features). Expected 3, got 2", err.Error())

	var dimErr *DimensionError
	require.True(t, As(err, &dimErr))
	assert.Equal(t, 3, dimErr.Expected)
}

func TestSessionErrorMessagesCarryContext(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{
			name:     "schema error names the column",
			err:      NewSchemaError("price", "target column not found"),
			contains: []string{"price", "target column not found"},
		},
		{
			name:     "type mismatch names strategy and column",
			err:      NewTypeMismatchError("city", "mean", "categorical"),
			contains: []string{"mean", "categorical", "city"},
		},
		{
			name:     "configuration error carries the value",
			err:      NewConfigurationError("training.cv_folds", 12, "exceeds training rows (8)"),
			contains: []string{"training.cv_folds", "12", "exceeds training rows"},
		},
		{
			name:     "schema mismatch lists missing columns",
			err:      NewSchemaMismatchError("abc", "def", []string{"age"}, nil),
			contains: []string{"abc", "def", "missing columns [age]"},
		},
		{
			name:     "backend unavailable names the backend",
			err:      NewBackendUnavailableError("shap", "interpretation"),
			contains: []string{"shap", "interpretation"},
		},
		{
			name:     "insufficient data shows counts",
			err:      NewInsufficientDataError("class 'b' has too few rows", 2, 1),
			contains: []string{"class 'b'", "required 2, got 1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, s := range tt.contains {
				assert.Contains(t, tt.err.Error(), s)
			}
		})
	}
}

func TestFailureKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"numerical", NewNumericalInstabilityError("gradient_update", []float64{1}, 3), FailureNumerical},
		{"singular", Wrap(ErrSingularMatrix, "solve"), FailureNumerical},
		{"dimension", NewDimensionError("Fit", 2, 3, 0), FailureDimension},
		{"not fitted", NewNotFittedError("Tree", "Predict"), FailureNotFitted},
		{"value", NewValueError("Fit", "bad"), FailureValue},
		{"validation", NewValidationError("C", "must be positive", -1.0), FailureValue},
		{"panic", SafeExecute("fit", func() error { panic("boom") }), FailurePanic},
		{"unknown", fmt.Errorf("plain"), FailureUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureKind(tt.err))
		})
	}
}

func TestTrainingFailureUnwrap(t *testing.T) {
	cause := NewNumericalInstabilityError("loss", []float64{0}, 1)
	failure := NewTrainingFailure("logistic_regression", cause)

	assert.Equal(t, FailureNumerical, failure.Kind)
	assert.True(t, strings.Contains(failure.Error(), "logistic_regression"))

	var numErr *NumericalInstabilityError
	assert.True(t, As(failure, &numErr))
}

func TestNewConvergenceWarning(t *testing.T) {
	warn := NewConvergenceWarning("GradientDescent", 1000, "loss did not decrease")
	assert.Equal(t, "GradientDescent failed to converge after 1000 iterations: loss did not decrease", warn.Error())
}

func TestWarnUsesHandler(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(func(error) {})

	Warn(NewUndefinedMetricWarning("precision", "no predicted samples", 0))
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Error(), "precision")
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "in %s: expected %d, got %d", "Predict", 10, 5)

	assert.True(t, Is(wrapped, ErrEmptyData))
	assert.Contains(t, wrapped.Error(), "in Predict: expected 10, got 5")
}

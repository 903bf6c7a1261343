package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/mlexplorer/dataset"
)

func TestRegisterAndSnapshot(t *testing.T) {
	before := Snapshot()
	require.False(t, before.Has("test_backend"))

	Register(Backend{Name: "test_backend", Version: "0.1", Models: []ModelFactory{
		{Name: "m", ProblemTypes: []dataset.ProblemType{dataset.Regression}},
	}})
	t.Cleanup(func() {
		mu.Lock()
		delete(backends, "test_backend")
		mu.Unlock()
	})

	after := Snapshot()
	assert.True(t, after.Has("test_backend"))
	assert.False(t, before.Has("test_backend"), "snapshots are not affected by later registrations")
	b, ok := after.Get("test_backend")
	require.True(t, ok)
	assert.Equal(t, "0.1", b.Version)
	assert.True(t, b.Models[0].Supports(dataset.Regression))
	assert.False(t, b.Models[0].Supports(dataset.Classification))

	_, ok = after.Interpreter("test_backend")
	assert.False(t, ok)

	assert.Panics(t, func() { Register(Backend{Name: "test_backend"}) })
	assert.Panics(t, func() { Register(Backend{}) })
}

func TestNewCapabilities(t *testing.T) {
	caps := NewCapabilities(Backend{Name: "shap"}, Backend{Name: "boosting"})
	assert.Equal(t, []string{"boosting", "shap"}, caps.Names())
	assert.False(t, NewCapabilities().Has("shap"))
}

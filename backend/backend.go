// Package backend holds the process-wide table of optional capability
// providers. Optional packages call Register from init, so a binary gains a
// backend by blank-importing it:
//
//	import _ "github.com/YuminosukeSato/mlexplorer/sklearn/boosting"
//
// The orchestrator takes a Snapshot once at startup and never consults the
// global table again.
package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/dataset"
)

// Factory builds an unfitted estimator for a problem type from parameters.
type Factory func(pt dataset.ProblemType, params map[string]interface{}) (model.Estimator, error)

// ModelFactory describes one algorithm family contributed by a backend.
type ModelFactory struct {
	Name         string
	Family       string
	ProblemTypes []dataset.ProblemType
	Grid         model.ParamGrid
	New          Factory
}

// Supports reports whether the family handles pt.
func (m ModelFactory) Supports(pt dataset.ProblemType) bool {
	for _, p := range m.ProblemTypes {
		if p == pt {
			return true
		}
	}
	return false
}

// PredictFunc scores every row of X with a single output per row.
type PredictFunc func(X *mat.Dense) ([]float64, error)

// ExplainOptions configures a Shapley-style attribution.
type ExplainOptions struct {
	Permutations int
	Seed         uint64
}

// Interpreter computes per-row, per-feature attributions of f on X relative
// to a background sample. The result has the shape of X.
type Interpreter interface {
	Explain(ctx context.Context, f PredictFunc, background, X *mat.Dense, opts ExplainOptions) (*mat.Dense, error)
}

// Backend is a named optional capability provider.
type Backend struct {
	Name        string
	Version     string
	Models      []ModelFactory
	Interpreter Interpreter
}

var (
	mu       sync.RWMutex
	backends = make(map[string]Backend)
)

// Register makes a backend available. It panics when called twice with the
// same name or with an empty name.
func Register(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b.Name == "" {
		panic("backend: Register with empty name")
	}
	if _, dup := backends[b.Name]; dup {
		panic(fmt.Sprintf("backend: Register called twice for %q", b.Name))
	}
	backends[b.Name] = b
}

// Snapshot returns the backends registered so far.
func Snapshot() Capabilities {
	mu.RLock()
	defer mu.RUnlock()
	list := make([]Backend, 0, len(backends))
	for _, b := range backends {
		list = append(list, b)
	}
	return NewCapabilities(list...)
}

// Capabilities is an immutable view of available backends.
type Capabilities struct {
	byName map[string]Backend
	names  []string
}

// NewCapabilities builds a Capabilities value from an explicit list, which
// lets tests simulate any combination of installed backends.
func NewCapabilities(list ...Backend) Capabilities {
	c := Capabilities{byName: make(map[string]Backend, len(list))}
	for _, b := range list {
		c.byName[b.Name] = b
		c.names = append(c.names, b.Name)
	}
	sort.Strings(c.names)
	return c
}

// Has reports whether the named backend is available.
func (c Capabilities) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Names returns the available backend names in sorted order.
func (c Capabilities) Names() []string {
	return append([]string(nil), c.names...)
}

// Get returns the named backend.
func (c Capabilities) Get(name string) (Backend, bool) {
	b, ok := c.byName[name]
	return b, ok
}

// Interpreter returns the interpreter of the named backend, if any.
func (c Capabilities) Interpreter(name string) (Interpreter, bool) {
	b, ok := c.byName[name]
	if !ok || b.Interpreter == nil {
		return nil, false
	}
	return b.Interpreter, true
}

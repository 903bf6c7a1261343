// Package registry enumerates the algorithm families a session may train.
//
// Core families are always present. Families provided by optional backends
// (see package backend) are listed after them and are marked unavailable when
// their backend is not registered, so a caller can show them greyed out.
package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/YuminosukeSato/mlexplorer/backend"
	"github.com/YuminosukeSato/mlexplorer/core/model"
	"github.com/YuminosukeSato/mlexplorer/dataset"
	"github.com/YuminosukeSato/mlexplorer/pkg/errors"
)

// ParamGrid is the ordered hyperparameter search space of a family.
type ParamGrid = model.ParamGrid

// ModelSpec describes one trainable algorithm family for one problem type.
type ModelSpec struct {
	Name         string
	Family       string
	ProblemTypes []dataset.ProblemType
	Grid         ParamGrid
	Backend      string // empty for core families
	Available    bool
	Index        int // position in registry order, used for deterministic tie-breaking
	New          backend.Factory
}

// Supports reports whether the family handles pt.
func (s ModelSpec) Supports(pt dataset.ProblemType) bool {
	for _, p := range s.ProblemTypes {
		if p == pt {
			return true
		}
	}
	return false
}

// Build creates an unfitted estimator with params layered over the defaults.
func (s ModelSpec) Build(pt dataset.ProblemType, params map[string]interface{}) (model.Estimator, error) {
	if !s.Available || s.New == nil {
		return nil, errors.NewBackendUnavailableError(s.Backend, s.Name)
	}
	merged := s.Grid.Defaults()
	for k, v := range params {
		merged[k] = v
	}
	return s.New(pt, merged)
}

// optionalFamily is a family the registry knows about even when its backend
// is absent.
type optionalFamily struct {
	name         string
	family       string
	backend      string
	problemTypes []dataset.ProblemType
}

var optionalFamilies = []optionalFamily{
	{
		name:         "gradient_boosting",
		family:       "boosting",
		backend:      "boosting",
		problemTypes: []dataset.ProblemType{dataset.Classification, dataset.Regression},
	},
}

// Registry lists families gated by a capability snapshot.
type Registry struct {
	caps backend.Capabilities
}

// New creates a registry over caps.
func New(caps backend.Capabilities) *Registry {
	return &Registry{caps: caps}
}

// Default creates a registry over the backends registered so far.
func Default() *Registry {
	return New(backend.Snapshot())
}

// All returns every family for pt in registry order: core families, then
// known optional families, then families contributed by other backends.
// Unavailable families have Available=false.
func (r *Registry) All(pt dataset.ProblemType) []ModelSpec {
	var specs []ModelSpec
	for _, spec := range coreSpecs() {
		if spec.Supports(pt) {
			specs = append(specs, spec)
		}
	}

	known := make(map[string]bool)
	for _, f := range optionalFamilies {
		known[f.name] = true
		supports := false
		for _, p := range f.problemTypes {
			supports = supports || p == pt
		}
		if !supports {
			continue
		}
		spec := ModelSpec{
			Name:         f.name,
			Family:       f.family,
			ProblemTypes: f.problemTypes,
			Backend:      f.backend,
		}
		if factory, ok := r.factory(f.backend, f.name); ok {
			spec.Grid = factory.Grid
			spec.New = factory.New
			spec.Available = true
		}
		specs = append(specs, spec)
	}

	for _, name := range r.caps.Names() {
		b, _ := r.caps.Get(name)
		for _, factory := range b.Models {
			if known[factory.Name] || !factory.Supports(pt) {
				continue
			}
			specs = append(specs, ModelSpec{
				Name:         factory.Name,
				Family:       factory.Family,
				ProblemTypes: factory.ProblemTypes,
				Grid:         factory.Grid,
				Backend:      name,
				Available:    true,
				New:          factory.New,
			})
		}
	}

	for i := range specs {
		specs[i].Index = i
	}
	return specs
}

func (r *Registry) factory(backendName, model string) (backend.ModelFactory, bool) {
	b, ok := r.caps.Get(backendName)
	if !ok {
		return backend.ModelFactory{}, false
	}
	for _, f := range b.Models {
		if f.Name == model {
			return f, true
		}
	}
	return backend.ModelFactory{}, false
}

// AvailableModels returns the families for pt that can be trained now.
func (r *Registry) AvailableModels(pt dataset.ProblemType) []ModelSpec {
	var out []ModelSpec
	for _, spec := range r.All(pt) {
		if spec.Available {
			out = append(out, spec)
		}
	}
	return out
}

// Lookup finds a family by name for pt.
func (r *Registry) Lookup(name string, pt dataset.ProblemType) (ModelSpec, error) {
	all := r.All(pt)
	for _, spec := range all {
		if spec.Name != name {
			continue
		}
		if !spec.Available {
			return ModelSpec{}, errors.NewBackendUnavailableError(spec.Backend, fmt.Sprintf("model '%s'", name))
		}
		return spec, nil
	}
	names := make([]string, len(all))
	for i, spec := range all {
		names[i] = spec.Name
	}
	return ModelSpec{}, errors.NewConfigurationError("training.models", name,
		fmt.Sprintf("unknown model for %s; known models are %s", pt, strings.Join(names, ", ")))
}

// Select keeps the requested families in registry order. An empty names
// list selects every available family.
func (r *Registry) Select(pt dataset.ProblemType, names []string) ([]ModelSpec, error) {
	if len(names) == 0 {
		return r.AvailableModels(pt), nil
	}
	seen := make(map[string]bool, len(names))
	var specs []ModelSpec
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		spec, err := r.Lookup(name, pt)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	sort.SliceStable(specs, func(i, j int) bool { return specs[i].Index < specs[j].Index })
	return specs, nil
}

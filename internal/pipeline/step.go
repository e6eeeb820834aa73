package pipeline

import (
	"context"
	"fmt"
	"sort"
)

// Step handles one or more phases of the install pipeline for a package
// (spec §4.3). Grounded on the shape implied by vee/pipeline/git.py: a
// factory_priority class attribute, a factory(cls, step, pkg) classmethod,
// and a get_next(self, step) instance method -- translated here into a Go
// interface plus a Factory that produces Steps.
type Step interface {
	// GetNext returns this Step itself if it also handles phase, or nil if
	// the registry should be consulted instead.
	GetNext(phase Phase) Step
	// Run executes phase against s.
	Run(ctx context.Context, phase Phase, s *State) error
}

// Factory produces a Step for a (phase, package) pair, or reports that it
// doesn't match.
type Factory interface {
	// Priority orders factories; higher wins when more than one matches.
	Priority() int
	// Create returns a Step and true if this factory handles phase for s.
	Create(phase Phase, s *State) (Step, bool)
}

// Registry is the priority-ordered set of Factories consulted whenever the
// current Step doesn't handle the next phase itself.
type Registry struct {
	factories []Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry { return &Registry{} }

// Register adds f to the registry.
func (r *Registry) Register(f Factory) { r.factories = append(r.factories, f) }

// sorted returns factories ordered by descending priority, ties broken by
// registration order (stable sort).
func (r *Registry) sorted() []Factory {
	out := make([]Factory, len(r.factories))
	copy(out, r.factories)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority() > out[j].Priority() })
	return out
}

// NextStep implements spec §4.3's dispatch rule: "the driver first asks
// S.get_next(P) which may return S itself ... or nothing; if nothing, the
// registry enumerates all factories in descending priority order and
// returns the first that produces a step."
func (r *Registry) NextStep(current Step, phase Phase, s *State) (Step, error) {
	if current != nil {
		if next := current.GetNext(phase); next != nil {
			return next, nil
		}
	}
	for _, f := range r.sorted() {
		if step, ok := f.Create(phase, s); ok {
			return step, nil
		}
	}
	return nil, fmt.Errorf("no pipeline step handles phase %q for package %q", phase, s.URL)
}

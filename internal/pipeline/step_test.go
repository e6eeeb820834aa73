package pipeline

import (
	"context"
	"testing"
)

type stubStep struct {
	name     string
	nextSelf Phase
}

func (s stubStep) GetNext(phase Phase) Step {
	if phase == s.nextSelf {
		return s
	}
	return nil
}

func (s stubStep) Run(ctx context.Context, phase Phase, st *State) error { return nil }

type stubFactory struct {
	priority int
	phase    Phase
	step     Step
}

func (f stubFactory) Priority() int { return f.priority }

func (f stubFactory) Create(phase Phase, s *State) (Step, bool) {
	if phase != f.phase {
		return nil, false
	}
	return f.step, true
}

func TestRegistryPrefersCurrentStepSelfChain(t *testing.T) {
	r := NewRegistry()
	r.Register(stubFactory{priority: 10, phase: PhaseFetch, step: stubStep{name: "low"}})

	current := stubStep{name: "git", nextSelf: PhaseFetch}
	step, err := r.NextStep(current, PhaseFetch, &State{})
	if err != nil {
		t.Fatalf("NextStep: %v", err)
	}
	got, ok := step.(stubStep)
	if !ok || got.name != "git" {
		t.Fatalf("expected current step to self-chain, got %+v", step)
	}
}

func TestRegistryOrdersByDescendingPriority(t *testing.T) {
	r := NewRegistry()
	r.Register(stubFactory{priority: 1, phase: PhaseBuild, step: stubStep{name: "generic"}})
	r.Register(stubFactory{priority: 5000, phase: PhaseBuild, step: stubStep{name: "python"}})

	step, err := r.NextStep(nil, PhaseBuild, &State{})
	if err != nil {
		t.Fatalf("NextStep: %v", err)
	}
	got, ok := step.(stubStep)
	if !ok || got.name != "python" {
		t.Fatalf("expected higher-priority factory to win, got %+v", step)
	}
}

func TestRegistryErrorsWhenNothingMatches(t *testing.T) {
	r := NewRegistry()
	if _, err := r.NextStep(nil, PhaseBuild, &State{URL: "pypi:flask"}); err == nil {
		t.Fatal("expected an error when no factory matches")
	}
}

func TestSetDefaultNamesDoesNotOverrideExisting(t *testing.T) {
	s := &State{TransportType: "pypi", PackageName: "pypi/flask/flask-3.0.0.tar.gz"}
	if err := s.SetDefaultNames(true, true, true); err != nil {
		t.Fatalf("SetDefaultNames: %v", err)
	}
	if s.PackageName != "pypi/flask/flask-3.0.0.tar.gz" {
		t.Fatalf("expected PackageName to be left alone, got %q", s.PackageName)
	}
	if s.InstallName == "" {
		t.Fatal("expected InstallName to be derived")
	}
}

func TestSetDefaultNamesDerivesFromURL(t *testing.T) {
	s := &State{TransportType: "http", URL: "https://example.com/foo/bar.tar.gz"}
	if err := s.SetDefaultNames(true, true, true); err != nil {
		t.Fatalf("SetDefaultNames: %v", err)
	}
	if s.PackageName == "" {
		t.Fatal("expected PackageName to be derived from URL")
	}
	if s.BuildName == "" {
		t.Fatal("expected BuildName to be derived")
	}
}

package pipeline

import (
	"context"
	"fmt"
)

// Stage is one pipeline phase. Implementations must keep Fingerprint pure —
// no I/O, no clock reads — and confine all collaborator calls to Execute.
type Stage interface {
	// Name identifies the stage; it namespaces its fingerprints and records.
	Name() string

	// DependsOn lists upstream stage names whose records must be usable
	// before this stage may start.
	DependsOn() []string

	// Cacheable reports whether results may be reused across runs. Publish
	// is not cacheable: every upload is a distinct external side effect.
	Cacheable() bool

	// ValidateInputs checks the upstream records before any external call.
	// It returns ErrMissingUpstream when a dependency is absent or unusable.
	ValidateInputs(upstream map[string]Record) error

	// Fingerprint derives the content hash of the stage's logical inputs,
	// chaining upstream fingerprints where the physical content matters.
	Fingerprint(in Inputs, upstream map[string]Record) string

	// Execute calls the external collaborator and writes artifact bytes
	// under dir. It is the only method allowed to perform I/O.
	Execute(ctx context.Context, in Inputs, upstream map[string]Record, dir string) (Artifact, error)
}

// Registry holds the registered stages and validates their dependency graph.
type Registry struct {
	stages map[string]Stage
	order  []string
}

// NewRegistry validates the stage set: every declared dependency must be
// registered, and the graph must be acyclic.
func NewRegistry(stages ...Stage) (*Registry, error) {
	reg := &Registry{stages: make(map[string]Stage, len(stages))}
	for _, st := range stages {
		if _, dup := reg.stages[st.Name()]; dup {
			return nil, fmt.Errorf("stage %s registered twice", st.Name())
		}
		reg.stages[st.Name()] = st
	}
	for name, st := range reg.stages {
		for _, dep := range st.DependsOn() {
			if _, ok := reg.stages[dep]; !ok {
				return nil, fmt.Errorf("stage %s depends on unregistered stage %s", name, dep)
			}
		}
	}
	order, err := reg.topoOrder()
	if err != nil {
		return nil, err
	}
	reg.order = order
	return reg, nil
}

// Stage returns the registered stage for name.
func (r *Registry) Stage(name string) (Stage, bool) {
	st, ok := r.stages[name]
	return st, ok
}

// Order returns the stage names in dependency order.
func (r *Registry) Order() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Downstream returns name plus every stage strictly downstream of it, in
// dependency order. Used by explicit re-run requests.
func (r *Registry) Downstream(name string) ([]string, error) {
	if _, ok := r.stages[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, name)
	}
	affected := map[string]bool{name: true}
	// Propagate along the topological order: any stage depending on an
	// affected stage is itself affected.
	for _, id := range r.order {
		if affected[id] {
			continue
		}
		for _, dep := range r.stages[id].DependsOn() {
			if affected[dep] {
				affected[id] = true
				break
			}
		}
	}
	var out []string
	for _, id := range r.order {
		if affected[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *Registry) topoOrder() ([]string, error) {
	indegree := make(map[string]int, len(r.stages))
	adjacency := make(map[string][]string, len(r.stages))
	for name, st := range r.stages {
		if _, ok := indegree[name]; !ok {
			indegree[name] = 0
		}
		for _, dep := range st.DependsOn() {
			adjacency[dep] = append(adjacency[dep], name)
			indegree[name]++
		}
	}
	var queue []string
	for _, name := range sortedKeys(indegree) {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	var order []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)
		for _, next := range adjacency[current] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != len(r.stages) {
		return nil, fmt.Errorf("stage graph contains a cycle")
	}
	return order, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

// RequireUsable is a ValidateInputs helper shared by the stage
// implementations: every named dependency must be present and usable.
func RequireUsable(upstream map[string]Record, deps ...string) error {
	for _, dep := range deps {
		rec, ok := upstream[dep]
		if !ok || !rec.Usable() {
			return fmt.Errorf("%w: %s", ErrMissingUpstream, dep)
		}
	}
	return nil
}

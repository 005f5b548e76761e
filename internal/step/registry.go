package step

import "fmt"

// Registry holds every step registered by a scraper, keyed by name, and
// resolves continuation references (spec §4.4.3: "the runtime resolves
// [yielded requests] to the step's name and inherits the target step's
// priority if the yielded request's priority is still the default").
type Registry struct {
	byName map[string]*Step
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]*Step{}}
}

// Add registers a step, erroring on a duplicate name.
func (r *Registry) Add(s *Step) error {
	if _, exists := r.byName[s.Meta.Name]; exists {
		return fmt.Errorf("step: duplicate step name %q", s.Meta.Name)
	}
	r.byName[s.Meta.Name] = s
	return nil
}

// Get looks up a step by name.
func (r *Registry) Get(name string) (*Step, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// All returns every registered step.
func (r *Registry) All() []*Step {
	out := make([]*Step, 0, len(r.byName))
	for _, s := range r.byName {
		out = append(out, s)
	}
	return out
}

// ResolveContinuation returns the effective continuation name and priority
// for a yielded child request, inheriting the target step's priority when
// the caller left the default in place.
func (r *Registry) ResolveContinuation(continuationName string, requestedPriority int) (name string, priority int, err error) {
	s, ok := r.byName[continuationName]
	if !ok {
		return "", 0, fmt.Errorf("step: unknown continuation %q", continuationName)
	}
	priority = requestedPriority
	const defaultPriority = 9
	if requestedPriority == defaultPriority {
		priority = s.Meta.Priority
	}
	return s.Meta.Name, priority, nil
}

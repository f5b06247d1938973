package treatment

import "strings"

// Registry maps uppercase action tags to their strategies. Adding a
// treatment is a Register call only.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds a registry with the built-in strategies. store
// backs the accumulated strategies' buffers.
func NewRegistry(store PointAppender) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	r.Register("RAW", RawStrategy{})
	r.Register("GNOISE", GaussianNoiseStrategy{})
	r.Register("AVG", &AverageStrategy{store: store})
	return r
}

// Register adds or replaces the strategy for an action tag.
func (r *Registry) Register(action string, s Strategy) {
	r.strategies[strings.ToUpper(action)] = s
}

// Get returns the strategy registered for action, matching
// case-insensitively.
func (r *Registry) Get(action string) (Strategy, bool) {
	s, ok := r.strategies[strings.ToUpper(action)]
	return s, ok
}

// IsAccumulated reports whether the strategy for action defers output
// for periodic aggregate release.
func (r *Registry) IsAccumulated(action string) bool {
	s, ok := r.strategies[strings.ToUpper(action)]
	if !ok {
		return false
	}
	_, accumulated := s.(AccumulatedStrategy)
	return accumulated
}

package aggregator

import (
	"sync"

	"github.com/R3E-Network/defi_portfolio/internal/domain/portfolio"
	svcerrors "github.com/R3E-Network/defi_portfolio/internal/errors"
)

// Registry holds the process-wide source list. The slice is copy-on-write:
// a snapshot handed to an aggregation pass is never modified afterwards.
type Registry struct {
	mu      sync.RWMutex
	sources []portfolio.SourceConfig
}

// NewRegistry creates a registry in declaration order.
func NewRegistry(sources []portfolio.SourceConfig) *Registry {
	cp := make([]portfolio.SourceConfig, len(sources))
	for i, s := range sources {
		cp[i] = s.Clone()
	}
	return &Registry{sources: cp}
}

// Snapshot returns the current source list. Callers must treat it as read-only.
func (r *Registry) Snapshot() []portfolio.SourceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources
}

// Get returns the named source.
func (r *Registry) Get(name string) (portfolio.SourceConfig, bool) {
	for _, s := range r.Snapshot() {
		if s.Name == name {
			return s, true
		}
	}
	return portfolio.SourceConfig{}, false
}

// SetEnabled toggles a source and returns its new configuration.
func (r *Registry) SetEnabled(name string, enabled bool) (portfolio.SourceConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, s := range r.sources {
		if s.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return portfolio.SourceConfig{}, svcerrors.NotFound("source", name)
	}

	next := make([]portfolio.SourceConfig, len(r.sources))
	copy(next, r.sources)
	next[idx].Enabled = enabled
	r.sources = next

	return next[idx], nil
}

// Counts returns the number of enabled and total sources.
func (r *Registry) Counts() (enabled, total int) {
	snapshot := r.Snapshot()
	for _, s := range snapshot {
		if s.Enabled {
			enabled++
		}
	}
	return enabled, len(snapshot)
}

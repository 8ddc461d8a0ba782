package target

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mattermost/mattermost-plugin-vma/server/vma"
)

// ErrRegistryClosed is returned when targets are listed after the registry has been closed.
var ErrRegistryClosed = errors.New("target registry is closed")

// Registry holds all registered targets in registration order.
// It provides thread-safe operations for registering, retrieving, and listing targets.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	targets   map[string]Target
	listeners []func()
	closed    bool
}

// NewRegistry creates a new target registry.
func NewRegistry() *Registry {
	return &Registry{
		targets: make(map[string]Target),
	}
}

// Register appends a target to the registry.
// Returns an error if a target with the same ID already exists.
func (r *Registry) Register(target Target) error {
	if target == nil {
		return fmt.Errorf("cannot register nil target")
	}

	id := target.GetID()
	if id == "" {
		return fmt.Errorf("target ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.targets[id]; exists {
		return fmt.Errorf("target with ID %s already registered", id)
	}

	r.targets[id] = target
	r.order = append(r.order, id)
	return nil
}

// Replace swaps the target registered under the same ID, keeping its registration position.
func (r *Registry) Replace(target Target) error {
	if target == nil {
		return fmt.Errorf("cannot register nil target")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := target.GetID()
	if _, exists := r.targets[id]; !exists {
		return fmt.Errorf("target with ID %s not found", id)
	}

	r.targets[id] = target
	return nil
}

// Unregister removes a target from the registry.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.targets[id]; !exists {
		return fmt.Errorf("target with ID %s not found", id)
	}

	delete(r.targets, id)
	for i, registered := range r.order {
		if registered == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get retrieves a target by its ID.
// Returns nil if the target doesn't exist.
func (r *Registry) Get(id string) Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.targets[id]
}

// List returns all registered targets in registration order.
func (r *Registry) List() []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]Target, 0, len(r.order))
	for _, id := range r.order {
		targets = append(targets, r.targets[id])
	}
	return targets
}

// ListTargets is List for consumers that must handle enumeration failures.
func (r *Registry) ListTargets() ([]Target, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return nil, ErrRegistryClosed
	}
	return r.List(), nil
}

// NeededSources returns the sources the registered targets currently require.
func (r *Registry) NeededSources() map[vma.Source]bool {
	return NeededSources(r.List())
}

// Count returns the number of registered targets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.targets)
}

// OnTopologyChange registers fn to be called by TopologyChanged.
func (r *Registry) OnTopologyChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, fn)
}

// TopologyChanged signals every listener that targets were added, removed, enabled, disabled or
// switched test mode. Callers fire it once after applying a batch of changes.
func (r *Registry) TopologyChanged() {
	r.mu.RLock()
	listeners := make([]func(), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

// Close removes all targets and makes ListTargets fail from then on.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.targets = make(map[string]Target)
	r.order = nil
	r.listeners = nil
}

package unit

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bryanchriswhite/LoopCam/internal/logger"
)

// Env carries host resources a factory may need
type Env struct {
	// DataDir is a writable directory units may keep files under
	DataDir string
}

// Factory constructs one unit instance
type Factory func(env Env) (Unit, error)

// reserved identities are never instantiated by Discover
var reserved = map[string]struct{}{
	"unit": {},
	"base": {},
}

// Registry maps stable unit identities to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Default is the registry unit implementations add themselves to from init()
var Default = NewRegistry()

// Register adds a factory to the default registry
func Register(id string, factory Factory) {
	Default.Register(id, factory)
}

// Register adds a factory. It panics on an empty id, a nil factory or a
// duplicate id, all of which are programming errors.
func (r *Registry) Register(id string, factory Factory) {
	if id == "" {
		panic("unit: Register with empty id")
	}
	if factory == nil {
		panic("unit: Register factory is nil for " + id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[id]; dup {
		panic("unit: Register called twice for " + id)
	}
	r.factories[id] = factory
}

// IDs returns every registered identity in discovery order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// New instantiates a single unit by identity
func (r *Registry) New(id string, env Env) (Unit, error) {
	r.mu.RLock()
	factory, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, id)
	}
	return instantiate(id, factory, env)
}

func instantiate(id string, factory Factory, env Env) (u Unit, err error) {
	defer func() {
		if r := recover(); r != nil {
			u, err = nil, fmt.Errorf("%w: %v", ErrUnitPanic, r)
		}
	}()
	u, err = factory(env)
	if err == nil && u == nil {
		err = fmt.Errorf("factory returned no unit")
	}
	return u, err
}

func isReserved(id string) bool {
	if strings.HasPrefix(id, "_") {
		return true
	}
	_, ok := reserved[id]
	return ok
}

// Discovery is the result of one Discover call
type Discovery struct {
	// Units holds every instance in discovery order
	Units []Unit

	// Groups holds the same instances keyed by Group()
	Groups map[string][]Unit

	// Chain holds the same instances sorted by Order()
	Chain Chain

	// Errors holds one *DiscoveryError per skipped implementation
	Errors []error
}

// GroupNames returns the group keys sorted alphabetically
func (d *Discovery) GroupNames() []string {
	names := make([]string, 0, len(d.Groups))
	for name := range d.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Find returns the discovered unit with the given identity
func (d *Discovery) Find(id string) (Unit, bool) {
	for _, u := range d.Units {
		if u.ID() == id {
			return u, true
		}
	}
	return nil, false
}

// Close releases resources held by units implementing Closer
func (d *Discovery) Close() error {
	var firstErr error
	for _, u := range d.Units {
		c, ok := u.(Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close unit %s: %w", u.ID(), err)
		}
	}
	return firstErr
}

// Discover instantiates every registered implementation exactly once,
// skipping the exclude list and reserved identities. Implementations whose
// factory fails are reported in Errors and skipped.
func (r *Registry) Discover(exclude []string, env Env) *Discovery {
	log := logger.WithComponent("registry")

	blocked := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		blocked[id] = struct{}{}
	}

	d := &Discovery{
		Groups: make(map[string][]Unit),
	}
	for _, id := range r.IDs() {
		if _, skip := blocked[id]; skip || isReserved(id) {
			log.Debug().Str("unit", id).Msg("Skipping blocked unit")
			continue
		}

		u, err := r.New(id, env)
		if err != nil {
			derr := &DiscoveryError{UnitID: id, Err: err}
			log.Error().Err(err).Str("unit", id).Msg("Failed to instantiate unit")
			d.Errors = append(d.Errors, derr)
			continue
		}

		d.Units = append(d.Units, u)
		d.Groups[u.Group()] = append(d.Groups[u.Group()], u)
	}
	d.Chain = NewChain(d.Units)

	log.Info().
		Int("units", len(d.Units)).
		Int("groups", len(d.Groups)).
		Int("errors", len(d.Errors)).
		Msg("Discovered units")
	return d
}

// Discover runs discovery against the default registry
func Discover(exclude []string, env Env) *Discovery {
	return Default.Discover(exclude, env)
}

package adapter

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/geo-catalog/internal/model"
)

// Registry maps system names to their adapters.
type Registry struct {
	adapters map[model.SystemName]Adapter
	order    []model.SystemName // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with every supported adapter, in
// ingestion order.
func NewRegistry() *Registry {
	r := &Registry{
		adapters: make(map[model.SystemName]Adapter),
	}

	r.Register(NewEMSL())
	r.Register(NewESSDive())
	r.Register(NewNMDC())
	r.Register(NewJGIBiosamples())
	r.Register(NewJGIOrganism())

	return r
}

// Register adds an adapter, replacing any previous one for the same system.
func (r *Registry) Register(a Adapter) {
	sys := a.System()
	if _, exists := r.adapters[sys]; !exists {
		r.order = append(r.order, sys)
	}
	r.adapters[sys] = a
}

// Get returns the adapter for a system.
func (r *Registry) Get(sys model.SystemName) (Adapter, error) {
	a, ok := r.adapters[sys]
	if !ok {
		return nil, eris.Errorf("adapter: no adapter for system %q", sys)
	}
	return a, nil
}

// Select returns the adapters for the given systems in registration order,
// or all adapters when systems is empty. Large sources are dropped when
// skipLarge is set.
func (r *Registry) Select(systems []model.SystemName, skipLarge bool) ([]Adapter, error) {
	want := make(map[model.SystemName]bool, len(systems))
	for _, sys := range systems {
		if _, err := r.Get(sys); err != nil {
			return nil, err
		}
		want[sys] = true
	}

	var result []Adapter
	for _, sys := range r.order {
		if len(want) > 0 && !want[sys] {
			continue
		}
		a := r.adapters[sys]
		if skipLarge && a.Large() {
			continue
		}
		result = append(result, a)
	}
	return result, nil
}

// All returns every adapter in registration order.
func (r *Registry) All() []Adapter {
	result := make([]Adapter, 0, len(r.order))
	for _, sys := range r.order {
		result = append(result, r.adapters[sys])
	}
	return result
}

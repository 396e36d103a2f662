package memory

import (
	"sync"

	"pktcore/internal/events"
	"pktcore/internal/flog"
)

// RegistryPressureEvent reports registry-wide utilisation crossing
// PressureThreshold, re-emitted alongside the per-pool PressureEvent that
// triggered it.
type RegistryPressureEvent struct {
	Pool        string
	Utilisation float64
}

// Registry owns a named set of BlockPools and reports aggregate
// utilisation across all of them.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]*BlockPool

	Pressure *events.Emitter[RegistryPressureEvent]
}

// NewRegistry creates an empty pool registry.
func NewRegistry() *Registry {
	return &Registry{
		pools:    make(map[string]*BlockPool),
		Pressure: events.NewEmitter[RegistryPressureEvent](16),
	}
}

// Create makes a new named BlockPool. Creation is idempotent on name
// collision: the pre-existing pool is returned and a warning is logged,
// per spec — it is not an error.
func (r *Registry) Create(name string, blockSize, capacity, headerSize int) (*BlockPool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.pools[name]; ok {
		flog.Warnf("block pool registry: %q already exists, returning existing pool", name)
		return existing, nil
	}

	pool, err := NewBlockPool(name, blockSize, capacity, headerSize)
	if err != nil {
		return nil, err
	}

	pool.MemoryPressure.Subscribe(func(ev PressureEvent) {
		if r.Utilisation() >= PressureThreshold {
			r.Pressure.Emit(RegistryPressureEvent{Pool: ev.Pool, Utilisation: r.Utilisation()})
		}
	})

	r.pools[name] = pool
	return pool, nil
}

// Get returns the named pool, or ok=false if it does not exist.
func (r *Registry) Get(name string) (*BlockPool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[name]
	return p, ok
}

// Drop removes and closes the named pool.
func (r *Registry) Drop(name string) {
	r.mu.Lock()
	p, ok := r.pools[name]
	if ok {
		delete(r.pools, name)
	}
	r.mu.Unlock()

	if ok {
		p.Close()
	}
}

// List returns a snapshot of the currently registered pools.
func (r *Registry) List() []*BlockPool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*BlockPool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	return out
}

// Utilisation returns Σused/Σcapacity across every registered pool.
func (r *Registry) Utilisation() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var usedSum, capSum int
	for _, p := range r.pools {
		usedSum += p.Used()
		capSum += p.Capacity()
	}
	if capSum == 0 {
		return 0
	}
	return float64(usedSum) / float64(capSum)
}

// Close drops and closes every pool in the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	names := make([]string, 0, len(r.pools))
	for name := range r.pools {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		r.Drop(name)
	}
}

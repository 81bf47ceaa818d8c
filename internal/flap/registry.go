package flap

import (
	"sync"
	"time"
)

// Registry hands out one Damper per host.
type Registry struct {
	mutex     sync.RWMutex
	dampers   map[string]*Damper
	threshold int
	window    time.Duration
}

func NewRegistry(threshold int, window time.Duration) *Registry {
	return &Registry{
		dampers:   make(map[string]*Damper),
		threshold: threshold,
		window:    window,
	}
}

func (r *Registry) Get(host string) *Damper {
	r.mutex.RLock()
	d, exists := r.dampers[host]
	r.mutex.RUnlock()

	if exists {
		return d
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Another goroutine may have created it.
	if d, exists = r.dampers[host]; exists {
		return d
	}

	d = NewDamper(r.threshold, r.window)
	r.dampers[host] = d
	return d
}

// Stats returns the state of every host seen so far.
func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.dampers))
	for host, d := range r.dampers {
		stats[host] = d.State()
	}
	return stats
}

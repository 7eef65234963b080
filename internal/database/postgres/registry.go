package postgres

import (
	"context"
	"sync"

	"github.com/koustreak/featureserv/internal/database"
	"golang.org/x/sync/singleflight"
)

// Registry hands out one Driver per configuration key. The first caller for
// a key creates the pool; concurrent first callers wait for that single
// creation instead of racing to build their own.
type Registry struct {
	mu      sync.Mutex
	drivers map[string]*Driver
	group   singleflight.Group
	open    func(ctx context.Context, cfg *database.Config) (*Driver, error)
}

// NewRegistry returns a Registry that opens pools with New.
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[string]*Driver),
		open:    New,
	}
}

// Get returns the driver for cfg, creating it on first use.
func (r *Registry) Get(ctx context.Context, cfg *database.Config) (*Driver, error) {
	key := cfg.Key()
	if d := r.lookup(key); d != nil {
		return d, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if d := r.lookup(key); d != nil {
			return d, nil
		}
		d, err := r.open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.drivers[key] = d
		r.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Driver), nil
}

func (r *Registry) lookup(key string) *Driver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drivers[key]
}

// Close closes every pool the registry created.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, d := range r.drivers {
		d.Close()
		delete(r.drivers, key)
	}
}

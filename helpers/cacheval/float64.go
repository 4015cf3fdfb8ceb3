// Package cacheval holds a value with validity timeout.
// "updated" timestamp is stored after value, without consistency.
// Usage scenario: slow sensors that must not be polled faster than their sampling period.
package cacheval

import (
	"sync"
	"time"

	"github.com/aquanode/aquanode/helpers/atomic_clock"
	"github.com/aquanode/aquanode/helpers/atomic_float"
)

type Float64 struct {
	value   atomic_float.F64
	updated *atomic_clock.Clock
	valid   time.Duration
	mu      sync.Mutex // serializes update
}

// Not thread-safe. `valid` duration cannot be changed later.
func (c *Float64) Init(valid time.Duration) {
	c.updated = atomic_clock.New(0)
	c.valid = valid
}

func (c *Float64) get(now int64) (float64, bool) {
	v := c.value.Load()
	if c.updated.IsZero() {
		return v, false
	}
	age := atomic_clock.New(now).Sub(c.updated)
	return v, age >= 0 && age < c.valid
}

// Get returns current, possibly stale value.
func (c *Float64) Get() float64 { return c.value.Load() }

// GetFresh returns current value and true if it's fresh.
func (c *Float64) GetFresh() (float64, bool) { return c.get(atomic_clock.Source()) }

// GetOrUpdate returns fresh value or calls `f` to produce new one.
// Error from `f` is returned with the stale value, cache is not updated.
func (c *Float64) GetOrUpdate(f func() (float64, error)) (float64, error) {
	if v, ok := c.get(atomic_clock.Source()); ok {
		return v, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// concurrent update may have finished while waiting
	if v, ok := c.get(atomic_clock.Source()); ok {
		return v, nil
	}
	v, err := f()
	if err != nil {
		return c.value.Load(), err
	}
	c.Set(v)
	return v, nil
}

func (c *Float64) Set(new float64) {
	c.value.Store(new)
	c.updated.SetNow()
}

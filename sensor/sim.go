package sensor

import (
	"math/rand"
	"sync"

	"github.com/aquanode/aquanode/helpers"
	"github.com/aquanode/aquanode/helpers/atomic_float"
)

// Sim is settable reading for bench runs without probes, console `set` changes it.
type Sim struct {
	v      atomic_float.F64
	Jitter float64

	mu   sync.Mutex
	rand *rand.Rand
}

func NewSim(value, jitter float64) *Sim {
	s := &Sim{Jitter: jitter, rand: helpers.RandUnix()}
	s.v.Store(value)
	return s
}

func (s *Sim) Set(v float64) { s.v.Store(v) }
func (s *Sim) Get() float64  { return s.v.Load() }

func (s *Sim) Read() (float64, error) {
	v := s.v.Load()
	if s.Jitter != 0 {
		s.mu.Lock()
		v += s.Jitter * (2*s.rand.Float64() - 1)
		s.mu.Unlock()
	}
	return v, nil
}

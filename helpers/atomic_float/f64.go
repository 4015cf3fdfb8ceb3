// Package atomic_float stores float64 in uint64 bits for lock free access.
package atomic_float

import (
	"math"
	"sync/atomic"
)

type F64 uint64

func NewF64(v float64) *F64 {
	f := new(F64)
	f.Store(v)
	return f
}

func (f *F64) Load() float64 {
	return math.Float64frombits(atomic.LoadUint64((*uint64)(f)))
}

func (f *F64) Store(new float64) {
	atomic.StoreUint64((*uint64)(f), math.Float64bits(new))
}

func (f *F64) Swap(new float64) float64 {
	return math.Float64frombits(atomic.SwapUint64((*uint64)(f), math.Float64bits(new)))
}

func (f *F64) Add(delta float64) float64 {
	for {
		oldbits := atomic.LoadUint64((*uint64)(f))
		new := math.Float64frombits(oldbits) + delta
		if atomic.CompareAndSwapUint64((*uint64)(f), oldbits, math.Float64bits(new)) {
			return new
		}
	}
}

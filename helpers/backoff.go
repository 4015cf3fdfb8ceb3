package helpers

import (
	"sync/atomic"
	"time"
)

// Limited exponential backoff for retry delays.
// K=1 (or zero) gives fixed Min delay, which is what connection loops use by default.
// Failure() increases next delay by K, Reset() returns it to Min.
type Backoff struct {
	next int64 // atomic align

	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms
}

func FixedBackoff(d time.Duration) Backoff {
	return Backoff{Min: d, Max: d, K: 1}
}

// Use scenario:
// for {
//   err := op()
//   if err == nil { break }
//   time.Sleep(backoff.Failure())
// }
func (b *Backoff) Failure() time.Duration {
	cur := b.current()
	k := b.K
	if k < 1 {
		k = 1
	}
	atomic.StoreInt64(&b.next, int64(b.limit(time.Duration(float32(cur)*k))))
	return cur
}

func (b *Backoff) Reset() {
	atomic.StoreInt64(&b.next, int64(b.limit(b.Min)))
}

func (b *Backoff) current() time.Duration {
	atomic.CompareAndSwapInt64(&b.next, 0, int64(b.limit(b.Min)))
	return time.Duration(atomic.LoadInt64(&b.next))
}

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max != 0 && d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	if d < res {
		return d
	}
	return d / res * res
}

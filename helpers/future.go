// Future idea from github.com/256dpi/gomqtt client/future
// with completed/cancelled channels exported
// which allows to wait on result in custom select statement.

package helpers

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
)

type Future struct {
	result    interface{}
	completed chan struct{}
	cancelled chan struct{}
	done      bool
	mutex     sync.Mutex
}

func NewFuture() *Future {
	return &Future{
		completed: make(chan struct{}),
		cancelled: make(chan struct{}),
	}
}

func (f *Future) Cancelled() <-chan struct{} { return f.cancelled }
func (f *Future) Completed() <-chan struct{} { return f.completed }

func (f *Future) Complete(result interface{}) bool { return f.finish(result, f.completed) }
func (f *Future) Cancel(result interface{}) bool   { return f.finish(result, f.cancelled) }

func (f *Future) finish(result interface{}, ch chan struct{}) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.done {
		return false
	}
	f.result = result
	close(ch)
	f.done = true
	return true
}

func (f *Future) Result() interface{} {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.result
}

// Wait blocks until future is completed, cancelled, timeout passed or ctx done.
// Cancel result is returned as error if it is one.
func (f *Future) Wait(ctx context.Context, timeout time.Duration) (interface{}, error) {
	tmr := time.NewTimer(timeout)
	defer tmr.Stop()
	select {
	case <-f.completed:
		return f.Result(), nil
	case <-f.cancelled:
		r := f.Result()
		if err, ok := r.(error); ok {
			return nil, err
		}
		return r, errors.Errorf("future cancelled result=%v", r)
	case <-tmr.C:
		return nil, errors.Timeoutf("future wait=%v", timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

package helpers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cases := []struct {
		name   string
		fun    func(f *Future)
		expect interface{}
		check  func(t testing.TB, err error)
	}{
		{"complete", func(f *Future) { f.Complete(uint16(7)) }, uint16(7), func(t testing.TB, err error) { require.NoError(t, err) }},
		{"cancel-error", func(f *Future) { f.Cancel(fmt.Errorf("connack rc=5")) }, nil,
			func(t testing.TB, err error) { assert.EqualError(t, err, "connack rc=5") }},
		{"timeout", func(f *Future) {}, nil,
			func(t testing.TB, err error) { assert.True(t, errors.IsTimeout(err), err) }},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			f := NewFuture()
			go c.fun(f)
			result, err := f.Wait(ctx, 20*time.Millisecond)
			c.check(t, err)
			assert.Equal(t, c.expect, result)
		})
	}
}

func TestFutureOnce(t *testing.T) {
	t.Parallel()

	f := NewFuture()
	assert.True(t, f.Complete(1))
	assert.False(t, f.Complete(2))
	assert.False(t, f.Cancel(3))
	assert.Equal(t, 1, f.Result())
}

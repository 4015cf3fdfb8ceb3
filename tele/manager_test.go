package tele_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aquanode/aquanode/helpers"
	"github.com/aquanode/aquanode/log2"
	"github.com/aquanode/aquanode/tele"
	"github.com/aquanode/aquanode/tele/link"
	"github.com/aquanode/aquanode/tele/teletest"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tenv struct {
	session *teletest.Session
	channel *tele.Channel
	manager *tele.Manager
	states  []tele.State
	linkUp  bool
	probes  int
}

func newEnv(t testing.TB, maxAttempts int) *tenv {
	log := log2.NewTest(t, log2.LDebug)
	env := &tenv{session: teletest.New(), linkUp: true}
	env.channel = tele.NewChannel(env.session, nil, log, nil)
	var err error
	env.manager, err = tele.NewManager(tele.ManagerOptions{
		Link: link.Func(func(context.Context) (bool, error) {
			env.probes++
			return env.linkUp, nil
		}),
		Channel:      env.channel,
		Credentials:  &tele.Credentials{ClientID: "aquanode-1"},
		Log:          log,
		LinkRetry:    helpers.FixedRetry(time.Millisecond, maxAttempts),
		SessionRetry: helpers.FixedRetry(time.Millisecond, maxAttempts),
		OnState:      func(s tele.State) { env.states = append(env.states, s) },
	})
	require.NoError(t, err)
	return env
}

func TestEstablishLink(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	t.Run("up", func(t *testing.T) {
		env := newEnv(t, 3)
		require.NoError(t, env.manager.EstablishLink(ctx))
		assert.Equal(t, tele.LinkUp, env.manager.State())
		assert.Equal(t, 1, env.probes)
	})

	t.Run("never-up", func(t *testing.T) {
		env := newEnv(t, 5)
		env.linkUp = false
		err := env.manager.EstablishLink(ctx)
		require.Error(t, err)
		assert.Equal(t, tele.ErrLinkDown, errors.Cause(err))
		assert.Equal(t, 5, env.probes)
		assert.Equal(t, tele.Disconnected, env.manager.State())
		assert.Equal(t, uint32(5), env.manager.Stat().Copy().LinkFails)
		assert.Empty(t, env.session.Calls())
	})

	t.Run("probe-error", func(t *testing.T) {
		env := newEnv(t, 2)
		m, err := tele.NewManager(tele.ManagerOptions{
			Link:      link.Func(func(context.Context) (bool, error) { return false, fmt.Errorf("no such interface") }),
			Channel:   env.channel,
			LinkRetry: helpers.FixedRetry(time.Millisecond, 2),
		})
		require.NoError(t, err)
		err = m.EstablishLink(ctx)
		assert.Equal(t, tele.ErrLinkDown, errors.Cause(err))
	})

	t.Run("unbounded-cancel", func(t *testing.T) {
		env := newEnv(t, 0)
		env.linkUp = false
		ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := env.manager.EstablishLink(ctx)
		assert.Equal(t, context.DeadlineExceeded, err)
		assert.True(t, env.probes > 1)
	})
}

func TestEstablishSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cases := []struct {
		name        string
		setup       func(*tenv)
		expectState tele.State
		expectCalls string
		expectCause error
	}{
		{"first-try", func(env *tenv) {}, tele.SessionActive,
			"connect subscribe:esp32/sub", nil},
		{"retry", func(env *tenv) {
			env.session.ConnectErrs = []error{fmt.Errorf("tls handshake"), fmt.Errorf("connack rc=3")}
		}, tele.SessionActive,
			"connect connect connect subscribe:esp32/sub", nil},
		{"exhausted", func(env *tenv) {
			env.session.ConnectErrs = []error{fmt.Errorf("e1"), fmt.Errorf("e2"), fmt.Errorf("e3")}
		}, tele.Disconnected,
			"connect connect connect disconnect", tele.ErrSessionInactive},
		{"connect-ok-not-connected", func(env *tenv) {
			env.session.ConnectNoop = true
		}, tele.Disconnected,
			"connect disconnect", tele.ErrSessionInactive},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			env := newEnv(t, 3)
			env.channel.Subscribe("esp32/sub") // offline, only remembered
			env.session.ResetCalls()
			c.setup(env)
			require.NoError(t, env.manager.EstablishLink(ctx))
			state, err := env.manager.EstablishSession(ctx)
			assert.Equal(t, c.expectState, state)
			assert.Equal(t, c.expectState, env.manager.State())
			assert.Equal(t, c.expectState == tele.SessionActive, env.manager.IsSessionActive())
			assert.Equal(t, c.expectCalls, env.session.CallString())
			if c.expectCause != nil {
				require.Error(t, err)
				assert.Equal(t, c.expectCause, errors.Cause(err))
				assert.True(t, tele.IsSessionError(err))
			} else {
				require.NoError(t, err)
				assert.Equal(t, "aquanode-1", env.session.Credentials().ClientID)
			}
		})
	}
}

func TestSessionDrop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newEnv(t, 3)
	require.NoError(t, env.channel.Subscribe("esp32/sub")) // not connected yet
	require.NoError(t, env.manager.EstablishLink(ctx))
	_, err := env.manager.EstablishSession(ctx)
	require.NoError(t, err)
	// already active: no reconnect
	_, err = env.manager.EstablishSession(ctx)
	require.NoError(t, err)

	env.session.Drop()
	assert.False(t, env.session.Deliver("esp32/sub", "lost"))
	err = env.channel.Publish("esp32/pub", []byte("{}"))
	assert.True(t, tele.IsSessionError(err))
	env.manager.Lost(err)
	assert.Equal(t, tele.Disconnected, env.manager.State())

	env.session.ResetCalls()
	require.NoError(t, env.manager.EstablishLink(ctx))
	_, err = env.manager.EstablishSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "connect subscribe:esp32/sub", env.session.CallString())
	assert.True(t, env.session.Deliver("esp32/sub", "hello"))

	assert.Equal(t, []tele.State{
		tele.LinkUp, tele.SessionActive, tele.Disconnected, tele.LinkUp, tele.SessionActive,
	}, env.states)
	st := env.manager.Stat().Copy()
	assert.Equal(t, uint32(2), st.Connects)
	assert.Equal(t, uint32(1), st.Lost)
	assert.Equal(t, uint32(1), st.PublishFails)
}

func TestCheckSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newEnv(t, 3)
	assert.False(t, env.manager.CheckSession())
	assert.Equal(t, tele.Disconnected, env.manager.State())
	require.NoError(t, env.manager.EstablishLink(ctx))
	_, err := env.manager.EstablishSession(ctx)
	require.NoError(t, err)
	assert.True(t, env.manager.CheckSession())

	// transport gone without publish or service error
	env.session.Drop()
	env.session.ResetCalls()
	assert.Equal(t, tele.SessionActive, env.manager.State())
	assert.False(t, env.manager.IsSessionActive())
	assert.False(t, env.manager.CheckSession())
	assert.Equal(t, tele.Disconnected, env.manager.State())
	assert.Equal(t, "disconnect", env.session.CallString())
	assert.Equal(t, uint32(1), env.manager.Stat().Copy().Lost)

	// already Disconnected, not counted again
	assert.False(t, env.manager.CheckSession())
	assert.Equal(t, uint32(1), env.manager.Stat().Copy().Lost)
}

func TestNewManagerInvalid(t *testing.T) {
	t.Parallel()

	_, err := tele.NewManager(tele.ManagerOptions{})
	assert.True(t, errors.IsNotValid(err))
}

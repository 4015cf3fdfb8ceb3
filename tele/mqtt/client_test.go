package mqtt_test

import (
	"context"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/aquanode/aquanode/log2"
	"github.com/aquanode/aquanode/tele"
	"github.com/aquanode/aquanode/tele/mqtt"
	"github.com/aquanode/aquanode/tele/mqtttest"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const timeout = 5 * time.Second

func TestSession(t *testing.T) {
	t.Parallel()

	type tenv struct {
		broker *mqtttest.Broker
		s      *mqtt.Session
		ctx    context.Context
		creds  *tele.Credentials
	}
	cases := []struct {
		name string
		opt  mqtt.Options
		fun  func(t testing.TB, env *tenv)
	}{
		{"connect", mqtt.Options{}, func(t testing.TB, env *tenv) {
			require.NoError(t, env.s.Connect(env.ctx, env.creds))
			assert.True(t, env.s.IsConnected())
			cs := env.broker.Connects()
			require.Len(t, cs, 1)
			assert.Equal(t, `<Connect ClientID="node1" KeepAlive=0 Username="user" Password="secret" CleanSession=true Will=nil Version=4>`, cs[0].String())
			require.NoError(t, env.s.Disconnect())
			assert.False(t, env.s.IsConnected())
		}},
		{"denied", mqtt.Options{}, func(t testing.TB, env *tenv) {
			env.broker.SetDeny(true)
			err := env.s.Connect(env.ctx, env.creds)
			require.Error(t, err)
			assert.Equal(t, mqtt.ErrConnectionDenied, errors.Cause(err))
			assert.False(t, env.s.IsConnected())
		}},
		{"offline", mqtt.Options{}, func(t testing.TB, env *tenv) {
			assert.Equal(t, tele.ErrNotConnected, env.s.Publish("esp32/pub", []byte("{}")))
			assert.Equal(t, tele.ErrNotConnected, env.s.Subscribe("esp32/sub"))
			_, err := env.s.Service(env.ctx)
			assert.Equal(t, tele.ErrNotConnected, err)
		}},
		{"subscribe-receive", mqtt.Options{}, func(t testing.TB, env *tenv) {
			require.NoError(t, env.s.Connect(env.ctx, env.creds))
			require.NoError(t, env.s.Subscribe("esp32/sub"))
			assert.True(t, env.broker.Subscribed("esp32/sub"))
			assert.Equal(t, 1, env.broker.Deliver("esp32/sub", []byte("led on")))
			var got []tele.Message
			require.Eventually(t, func() bool {
				ms, err := env.s.Service(env.ctx)
				assert.NoError(t, err)
				got = append(got, ms...)
				return len(got) != 0
			}, timeout, 10*time.Millisecond)
			assert.Equal(t, []tele.Message{{Topic: "esp32/sub", Payload: "led on"}}, got)
		}},
		{"publish-qos0", mqtt.Options{}, func(t testing.TB, env *tenv) {
			require.NoError(t, env.s.Connect(env.ctx, env.creds))
			require.NoError(t, env.s.Publish("esp32/pub", []byte(`{"a":1}`)))
			require.Eventually(t, func() bool { return len(env.broker.Published()) == 1 }, timeout, 10*time.Millisecond)
			m := env.broker.Published()[0]
			assert.Equal(t, "esp32/pub", m.Topic)
			assert.Equal(t, `{"a":1}`, string(m.Payload))
			assert.Equal(t, packet.QOSAtMostOnce, m.QOS)
		}},
		{"publish-qos1", mqtt.Options{QoS: 1}, func(t testing.TB, env *tenv) {
			require.NoError(t, env.s.Connect(env.ctx, env.creds))
			// returns only after PUBACK
			require.NoError(t, env.s.Publish("esp32/pub", []byte("x")))
			ms := env.broker.Published()
			require.Len(t, ms, 1)
			assert.Equal(t, packet.QOSAtLeastOnce, ms[0].QOS)
		}},
		{"server-drop", mqtt.Options{}, func(t testing.TB, env *tenv) {
			require.NoError(t, env.s.Connect(env.ctx, env.creds))
			require.Eventually(t, func() bool { return env.broker.DropClients() == 1 }, timeout, 10*time.Millisecond)
			require.Eventually(t, func() bool { return !env.s.IsConnected() }, timeout, 10*time.Millisecond)
			_, err := env.s.Service(env.ctx)
			assert.Error(t, err)
			assert.Error(t, env.s.Publish("esp32/pub", []byte("x")))
			// reconnect on same session object
			require.NoError(t, env.s.Connect(env.ctx, env.creds))
			assert.True(t, env.s.IsConnected())
			assert.Len(t, env.broker.Connects(), 2)
		}},
		{"missing-pong", mqtt.Options{KeepaliveSec: 1}, func(t testing.TB, env *tenv) {
			env.broker.SetNoPong(true)
			require.NoError(t, env.s.Connect(env.ctx, env.creds))
			var err error
			require.Eventually(t, func() bool {
				_, err = env.s.Service(env.ctx)
				return err != nil
			}, timeout, 50*time.Millisecond)
			assert.Equal(t, mqtt.ErrMissingPong, errors.Cause(err))
			assert.False(t, env.s.IsConnected())
		}},
		{"keepalive-pong", mqtt.Options{KeepaliveSec: 1}, func(t testing.TB, env *tenv) {
			require.NoError(t, env.s.Connect(env.ctx, env.creds))
			until := time.Now().Add(2 * time.Second)
			for time.Now().Before(until) {
				_, err := env.s.Service(env.ctx)
				require.NoError(t, err)
				time.Sleep(50 * time.Millisecond)
			}
			assert.True(t, env.s.IsConnected())
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			broker, err := mqtttest.NewBroker(log)
			require.NoError(t, err)
			defer broker.Close()

			opt := c.opt
			opt.Broker = broker.URL()
			opt.NetworkTimeout = timeout
			opt.Log = log
			s, err := mqtt.New(opt)
			require.NoError(t, err)
			defer s.Disconnect()

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			env := &tenv{
				broker: broker,
				s:      s,
				ctx:    ctx,
				creds:  &tele.Credentials{ClientID: "node1", Username: "user", Password: "secret"},
			}
			c.fun(t, env)
		})
	}
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()
	_, err := mqtt.New(mqtt.Options{})
	assert.True(t, errors.IsNotValid(err))
	_, err = mqtt.New(mqtt.Options{Broker: "tcp://localhost:1883", QoS: 2})
	assert.True(t, errors.IsNotValid(err))
}

// Package paho is tele.Session over eclipse/paho.mqtt.golang.
// Paho internal goroutines only push into inbox; message handling happens
// in owner goroutine via Service.
package paho

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aquanode/aquanode/helpers"
	"github.com/aquanode/aquanode/log2"
	"github.com/aquanode/aquanode/tele"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

const (
	DefaultNetworkTimeout = 30 * time.Second
	DefaultInboxSize      = 32
	disconnectQuiesceMs   = 250
)

var ErrConnectionLost = errors.New("paho connection lost")

type Options struct {
	Broker         string
	QoS            int
	KeepaliveSec   int
	NetworkTimeout time.Duration
	InboxSize      int
	Log            *log2.Log
	LogDebug       bool // paho internal debug log
}

type Session struct {
	mu     sync.Mutex
	opt    Options
	client mqtt.Client
	inbox  chan tele.Message
	lost   *helpers.AtomicError
}

var _ tele.Session = &Session{} // compile-time interface test

var logOnce sync.Once

func New(opt Options) (*Session, error) {
	if opt.Broker == "" {
		return nil, errors.NotValidf("paho broker empty")
	}
	if opt.QoS < 0 || opt.QoS > 1 {
		return nil, errors.NotValidf("paho qos=%d", opt.QoS)
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.InboxSize == 0 {
		opt.InboxSize = DefaultInboxSize
	}
	opt.Broker = brokerURL(opt.Broker)
	logOnce.Do(func() {
		mqtt.CRITICAL = log2.Bridge{Log: opt.Log, Level: log2.LError, Prefix: "paho critical: "}
		mqtt.ERROR = log2.Bridge{Log: opt.Log, Level: log2.LError, Prefix: "paho error: "}
		mqtt.WARN = log2.Bridge{Log: opt.Log, Level: log2.LInfo, Prefix: "paho warn: "}
		if opt.LogDebug {
			mqtt.DEBUG = log2.Bridge{Log: opt.Log, Level: log2.LDebug, Prefix: "paho: "}
		}
	})
	return &Session{
		opt:   opt,
		inbox: make(chan tele.Message, opt.InboxSize),
		lost:  &helpers.AtomicError{},
	}, nil
}

func (s *Session) Connect(ctx context.Context, creds *tele.Credentials) error {
	_ = s.Disconnect()

	tlsConfig, err := creds.TLSConfig()
	if err != nil {
		return errors.Annotate(err, "paho connect")
	}
	// fresh lost cell per connection, late callback of previous client must not poison new one
	lost := &helpers.AtomicError{}
	clientID := creds.ClientID
	if clientID == "" {
		clientID = creds.Username
	}
	mopt := mqtt.NewClientOptions().
		AddBroker(s.opt.Broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetOrderMatters(false).
		SetKeepAlive(time.Duration(s.opt.KeepaliveSec) * time.Second).
		SetPingTimeout(s.opt.NetworkTimeout).
		SetConnectTimeout(s.opt.NetworkTimeout).
		SetWriteTimeout(s.opt.NetworkTimeout).
		SetDefaultPublishHandler(s.onMessage).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.opt.Log.Errorf("paho connection lost err=%v", err)
			lost.StoreOnce(errors.Wrap(err, ErrConnectionLost))
		})
	if creds.Username != "" {
		mopt.SetUsername(creds.Username)
	}
	if creds.Password != "" {
		mopt.SetPassword(creds.Password)
	}
	if tlsConfig != nil {
		mopt.SetTLSConfig(tlsConfig)
	}

	client := mqtt.NewClient(mopt)
	tok := client.Connect()
	if err = s.wait(ctx, tok, "connect"); err != nil {
		// late success after timeout must not leave orphan connection
		go func() {
			if tok.Wait() && tok.Error() == nil {
				client.Disconnect(0)
			}
		}()
		return err
	}
	s.mu.Lock()
	s.client = client
	s.lost = lost
	s.mu.Unlock()
	return nil
}

func (s *Session) IsConnected() bool {
	client, lost := s.get()
	if client == nil || !client.IsConnectionOpen() {
		return false
	}
	_, isLost := lost.Load()
	return !isLost
}

func (s *Session) Subscribe(topic string) error {
	client, _ := s.get()
	if client == nil {
		return tele.ErrNotConnected
	}
	// nil callback routes messages to default publish handler
	return s.wait(context.Background(), client.Subscribe(topic, byte(s.opt.QoS), nil), "subscribe topic="+topic)
}

func (s *Session) Publish(topic string, payload []byte) error {
	client, _ := s.get()
	if client == nil {
		return tele.ErrNotConnected
	}
	return s.wait(context.Background(), client.Publish(topic, byte(s.opt.QoS), false, payload), "publish topic="+topic)
}

// Service drains inbox. Paho pings on its own.
func (s *Session) Service(ctx context.Context) ([]tele.Message, error) {
	client, lost := s.get()
	if client == nil {
		return nil, tele.ErrNotConnected
	}
	var ms []tele.Message
drain:
	for {
		select {
		case m := <-s.inbox:
			ms = append(ms, m)
		default:
			break drain
		}
	}
	if err, isLost := lost.Load(); isLost {
		return ms, err
	}
	if !client.IsConnectionOpen() {
		return ms, tele.ErrNotConnected
	}
	return ms, nil
}

func (s *Session) Disconnect() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client != nil {
		client.Disconnect(disconnectQuiesceMs)
	}
	return nil
}

func (s *Session) get() (mqtt.Client, *helpers.AtomicError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client, s.lost
}

func (s *Session) onMessage(_ mqtt.Client, m mqtt.Message) {
	msg := tele.Message{Topic: m.Topic(), Payload: string(m.Payload())}
	select {
	case s.inbox <- msg:
	default:
		s.opt.Log.Errorf("paho inbox full, dropped topic=%s", msg.Topic)
	}
}

func (s *Session) wait(ctx context.Context, tok mqtt.Token, what string) error {
	timeout := s.opt.NetworkTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 || !tok.WaitTimeout(timeout) {
		return errors.Timeoutf("paho %s", what)
	}
	if err := tok.Error(); err != nil {
		return errors.Annotatef(err, "paho %s", what)
	}
	return nil
}

// brokerURL maps config schemes onto paho schemes.
func brokerURL(s string) string {
	switch {
	case strings.HasPrefix(s, "mqtts://"):
		return "ssl://" + strings.TrimPrefix(s, "mqtts://")
	case strings.HasPrefix(s, "mqtt://"):
		return "tcp://" + strings.TrimPrefix(s, "mqtt://")
	}
	return s
}

// Package teletest provides scripted tele.Session for tests.
package teletest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aquanode/aquanode/tele"
)

var ErrDropped = fmt.Errorf("connection dropped")

// Session records every call as "connect", "subscribe:<topic>", "publish:<topic>", "service", "disconnect".
type Session struct {
	mu sync.Mutex

	// consumed one per Connect call, nil entry or empty list means success
	ConnectErrs []error
	// Connect returns nil but session stays disconnected
	ConnectNoop bool
	PublishErr  error
	ServiceErr  error

	calls     []string
	connected bool
	subs      map[string]struct{}
	inbox     []tele.Message
	published []tele.Message
	creds     *tele.Credentials
}

var _ tele.Session = &Session{} // compile-time interface test

func New() *Session { return &Session{subs: make(map[string]struct{})} }

func (s *Session) record(call string) { s.calls = append(s.calls, call) }

func (s *Session) Connect(ctx context.Context, creds *tele.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("connect")
	s.creds = creds
	if len(s.ConnectErrs) != 0 {
		err := s.ConnectErrs[0]
		s.ConnectErrs = s.ConnectErrs[1:]
		if err != nil {
			return err
		}
	}
	if s.ConnectNoop {
		return nil
	}
	s.connected = true
	s.subs = make(map[string]struct{})
	return nil
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) Subscribe(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("subscribe:" + topic)
	if !s.connected {
		return tele.ErrNotConnected
	}
	s.subs[topic] = struct{}{}
	return nil
}

func (s *Session) Publish(topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("publish:" + topic)
	if !s.connected {
		return tele.ErrNotConnected
	}
	if s.PublishErr != nil {
		return s.PublishErr
	}
	s.published = append(s.published, tele.Message{Topic: topic, Payload: string(payload)})
	return nil
}

func (s *Session) Service(ctx context.Context) ([]tele.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("service")
	if !s.connected {
		return nil, ErrDropped
	}
	if s.ServiceErr != nil {
		return nil, s.ServiceErr
	}
	msgs := s.inbox
	s.inbox = nil
	return msgs, nil
}

func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("disconnect")
	s.connected = false
	return nil
}

// Drop simulates broker side connection loss, subscriptions are forgotten.
func (s *Session) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.subs = make(map[string]struct{})
}

// Deliver queues inbound message if topic is subscribed, returns false otherwise.
func (s *Session) Deliver(topic, payload string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[topic]; !ok || !s.connected {
		return false
	}
	s.inbox = append(s.inbox, tele.Message{Topic: topic, Payload: payload})
	return true
}

func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// CallString is calls joined with space, convenient for assert.Equal.
func (s *Session) CallString() string { return strings.Join(s.Calls(), " ") }

func (s *Session) ResetCalls() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

func (s *Session) Published() []tele.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tele.Message(nil), s.published...)
}

func (s *Session) Credentials() *tele.Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

package tele

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aquanode/aquanode/helpers"
	"github.com/aquanode/aquanode/log2"
	"github.com/aquanode/aquanode/tele/link"
	"github.com/juju/errors"
)

const (
	DefaultLinkPoll     = 500 * time.Millisecond
	DefaultConnectRetry = 100 * time.Millisecond
)

type ManagerOptions struct {
	Link        link.Prober
	Channel     *Channel
	Credentials *Credentials
	Log         *log2.Log
	// nil means unbounded fixed delay retry with defaults above
	LinkRetry    *helpers.RetryPolicy
	SessionRetry *helpers.RetryPolicy
	// OnState is called on every transition, on the goroutine that caused it.
	OnState func(State)
}

// Manager is the only writer of connection state.
// Disconnected --link ok--> LinkUp --handshake ok--> SessionActive --Lost--> Disconnected
type Manager struct {
	state   int32 // atomic State
	opt     ManagerOptions
	session Session
	log     *log2.Log
	stat    *Stat
}

func NewManager(opt ManagerOptions) (*Manager, error) {
	if opt.Link == nil || opt.Channel == nil {
		return nil, errors.NotValidf("code error tele.ManagerOptions link=%v channel=%v", opt.Link, opt.Channel)
	}
	if opt.Credentials == nil {
		opt.Credentials = &Credentials{}
	}
	if opt.LinkRetry == nil {
		opt.LinkRetry = helpers.FixedRetry(DefaultLinkPoll, 0)
	}
	if opt.SessionRetry == nil {
		opt.SessionRetry = helpers.FixedRetry(DefaultConnectRetry, 0)
	}
	m := &Manager{
		opt:     opt,
		session: opt.Channel.session,
		log:     opt.Log,
		stat:    opt.Channel.stat,
	}
	return m, nil
}

func (m *Manager) State() State { return State(atomic.LoadInt32(&m.state)) }

// IsSessionActive never blocks. Transport loss noticed by the session
// but not yet reported through Lost also counts as inactive.
func (m *Manager) IsSessionActive() bool {
	return m.State() == SessionActive && m.session.IsConnected()
}

// CheckSession reports whether session is active, SessionActive with
// disconnected transport is moved to Disconnected right away.
func (m *Manager) CheckSession() bool {
	if m.IsSessionActive() {
		return true
	}
	if m.State() == SessionActive {
		m.Lost(errors.Annotate(ErrNotConnected, "session check"))
	}
	return false
}

func (m *Manager) Stat() *Stat { return m.stat }

func (m *Manager) setState(s State) {
	prev := State(atomic.SwapInt32(&m.state, int32(s)))
	if prev == s {
		return
	}
	m.log.Infof("tele state %s -> %s", prev, s)
	if m.opt.OnState != nil {
		m.opt.OnState(s)
	}
}

// EstablishLink polls link prober until it is up.
// With bounded LinkRetry returns ErrLinkDown cause after last attempt.
func (m *Manager) EstablishLink(ctx context.Context) error {
	err := m.opt.LinkRetry.Do(ctx, func(attempt int) error {
		up, err := m.opt.Link.Up(ctx)
		if err == nil && up {
			return nil
		}
		if attempt == 1 {
			m.log.Infof("tele link %s down, waiting", m.opt.Link)
		}
		m.stat.Modify(func(s *Stat) { s.LinkFails++ })
		if err != nil {
			m.log.Debugf("tele link probe attempt=%d err=%v", attempt, err)
			return errors.Wrap(err, ErrLinkDown)
		}
		return ErrLinkDown
	})
	if err != nil {
		m.setState(Disconnected)
		return err
	}
	if m.State() == Disconnected {
		m.setState(LinkUp)
	}
	return nil
}

// EstablishSession connects broker session with retry, then re-issues subscriptions.
// Returns SessionActive or ErrSessionInactive cause, recoverable next cycle.
func (m *Manager) EstablishSession(ctx context.Context) (State, error) {
	if m.IsSessionActive() {
		return SessionActive, nil
	}
	creds := m.opt.Credentials
	m.log.Infof("tele connecting client=%s", creds.ClientID)
	err := m.opt.SessionRetry.Do(ctx, func(attempt int) error {
		err := m.session.Connect(ctx, creds)
		if err != nil {
			m.log.Debugf("tele connect attempt=%d err=%v", attempt, err)
			m.stat.Modify(func(s *Stat) { s.ConnectFails++; s.LastError = err.Error() })
		}
		return err
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		m.fail()
		return m.State(), ctxErr
	}
	if !m.session.IsConnected() {
		// retry loop may end without success only when bounded or context done
		m.fail()
		m.log.Errorf("tele session not connected after connect loop err=%v", err)
		return m.State(), sessionInactive(err, "connect")
	}

	if err = m.opt.Channel.Resubscribe(); err != nil {
		m.fail()
		return m.State(), sessionInactive(err, "resubscribe")
	}
	m.stat.Modify(func(s *Stat) { s.Connects++ })
	m.setState(SessionActive)
	return SessionActive, nil
}

// Lost is SessionActive -> Disconnected transition after failed publish or service.
func (m *Manager) Lost(err error) {
	if m.State() == SessionActive {
		m.stat.Modify(func(s *Stat) { s.Lost++ })
	}
	m.log.Errorf("tele session lost err=%v", err)
	m.fail()
}

// Close disconnects session, state becomes Disconnected.
func (m *Manager) Close() error {
	err := m.session.Disconnect()
	m.setState(Disconnected)
	return err
}

func (m *Manager) fail() {
	if err := m.session.Disconnect(); err != nil {
		m.log.Debugf("tele disconnect err=%v", err)
	}
	m.setState(Disconnected)
}

func sessionInactive(err error, op string) error {
	if err == nil {
		return errors.Annotate(ErrSessionInactive, op)
	}
	return errors.Wrap(errors.Annotate(err, op), ErrSessionInactive)
}

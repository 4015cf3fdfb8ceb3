// Package mqtt is tele.Session over 256dpi/gomqtt packet and transport.
package mqtt

import (
	"context"
	"crypto/tls"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/aquanode/aquanode/helpers"
	"github.com/aquanode/aquanode/helpers/atomic_clock"
	"github.com/aquanode/aquanode/log2"
	"github.com/aquanode/aquanode/tele"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

const DefaultNetworkTimeout = 30 * time.Second
const DefaultInboxSize = 32

var (
	ErrClosing            = errors.New("mqtt session is closing")
	ErrServerClosed       = errors.New("mqtt server closed connection")
	ErrConnectionDenied   = errors.New("mqtt connection denied")
	ErrExpectedConnack    = errors.New("mqtt expected CONNACK")
	ErrFailedSubscription = errors.New("mqtt failed subscription")
	ErrMissingPong        = errors.New("mqtt missing pong")
)

type Options struct {
	Broker         string
	QoS            int
	KeepaliveSec   uint16
	NetworkTimeout time.Duration
	InboxSize      int
	Log            *log2.Log
}

// Session is single clean MQTT session with single owner goroutine.
// - Connect dials, sends CONNECT and waits CONNACK synchronously
// - background reader only feeds inbox and resolves acks
// - PINGREQ is sent from Service, no pinger goroutine
// - QOS 0,1
// - no reconnect, Manager decides when
type Session struct {
	sync.Mutex

	current *sessionConn
	lastID  uint32
	opt     Options
}

var _ tele.Session = &Session{} // compile-time interface test

func New(opt Options) (*Session, error) {
	if opt.Broker == "" {
		return nil, errors.NotValidf("mqtt broker empty")
	}
	if opt.QoS < 0 || opt.QoS > 1 {
		return nil, errors.NotValidf("mqtt qos=%d", opt.QoS)
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.InboxSize == 0 {
		opt.InboxSize = DefaultInboxSize
	}
	opt.Broker = brokerURL(opt.Broker)
	return &Session{
		lastID: uint32(time.Now().UnixNano()),
		opt:    opt,
	}, nil
}

func (s *Session) Connect(ctx context.Context, creds *tele.Credentials) error {
	_ = s.Disconnect()

	tlsConfig, err := creds.TLSConfig()
	if err != nil {
		return errors.Annotate(err, "mqtt connect")
	}
	cc, err := dial(ctx, s.opt, tlsConfig, creds)
	if err != nil {
		return err
	}
	s.Lock()
	s.current = cc
	s.Unlock()
	return nil
}

func (s *Session) IsConnected() bool {
	cc := s.conn()
	return cc != nil && cc.alive.IsRunning()
}

func (s *Session) Subscribe(topic string) error {
	cc := s.conn()
	if cc == nil {
		return tele.ErrNotConnected
	}
	sub := &packet.Subscribe{
		ID:            s.nextID(),
		Subscriptions: []packet.Subscription{{Topic: topic, QOS: packet.QOS(s.opt.QoS)}},
	}
	r, err := cc.request(sub, sub.ID)
	if err != nil {
		return errors.Annotatef(err, "subscribe topic=%s", topic)
	}
	suback, ok := r.(*packet.Suback)
	if !ok {
		pkt, _ := r.(packet.Generic)
		return cc.die(errors.Annotatef(ErrFailedSubscription, "response=%s", packetString(pkt)))
	}
	for _, code := range suback.ReturnCodes {
		if code == packet.QOSFailure {
			return errors.Annotatef(ErrFailedSubscription, "topic=%s", topic)
		}
	}
	return nil
}

func (s *Session) Publish(topic string, payload []byte) error {
	cc := s.conn()
	if cc == nil {
		return tele.ErrNotConnected
	}
	pub := packet.NewPublish()
	pub.Message = packet.Message{Topic: topic, Payload: payload, QOS: packet.QOS(s.opt.QoS)}
	if pub.Message.QOS == packet.QOSAtMostOnce {
		return cc.send(pub)
	}
	pub.ID = s.nextID()
	if _, err := cc.request(pub, pub.ID); err != nil {
		return errors.Annotatef(err, "publish topic=%s", topic)
	}
	return nil
}

// Service sends PINGREQ when keepalive is due and drains inbox.
// Returns connection error once reader or pinger found session dead.
func (s *Session) Service(ctx context.Context) ([]tele.Message, error) {
	cc := s.conn()
	if cc == nil {
		return nil, tele.ErrNotConnected
	}
	if cc.alive.IsRunning() {
		cc.ping()
	}
	var ms []tele.Message
drain:
	for {
		select {
		case m := <-cc.inbox:
			ms = append(ms, m)
		default:
			break drain
		}
	}
	if !cc.alive.IsRunning() {
		err, _ := cc.err.Load()
		return ms, err
	}
	return ms, nil
}

func (s *Session) Disconnect() error {
	s.Lock()
	cc := s.current
	s.current = nil
	s.Unlock()
	if cc == nil {
		return nil
	}
	if cc.alive.IsRunning() {
		_ = cc.send(packet.NewDisconnect())
	}
	_ = cc.die(ErrClosing)
	cc.alive.Wait()
	return nil
}

func (s *Session) conn() *sessionConn {
	s.Lock()
	defer s.Unlock()
	return s.current
}

func (s *Session) nextID() packet.ID {
	u32 := atomic.AddUint32(&s.lastID, 1)
	id := packet.ID(u32 % (1 << 16))
	if id == 0 {
		id = 1
	}
	return id
}

// One broker connection. Dead after first error, never reused.
type sessionConn struct {
	alive  *alive.Alive
	conn   transport.Conn
	err    helpers.AtomicError
	inbox  chan tele.Message
	log    *log2.Log
	opt    Options
	pingat *atomic_clock.Clock // last outgoing packet
	pongat *atomic_clock.Clock // last incoming packet

	sendMu sync.Mutex
	flows  struct {
		sync.Mutex
		m map[packet.ID]*helpers.Future
	}
}

func dial(ctx context.Context, opt Options, tlsConfig *tls.Config, creds *tele.Credentials) (*sessionConn, error) {
	dialer := transport.NewDialer(transport.DialConfig{
		TLSConfig: tlsConfig,
		Timeout:   opt.NetworkTimeout,
	})
	conn, err := dialer.Dial(opt.Broker)
	if err != nil {
		return nil, errors.Annotatef(err, "mqtt dial broker=%s", opt.Broker)
	}
	if err = ctx.Err(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	conpkt := packet.NewConnect()
	conpkt.ClientID = defaultString(creds.ClientID, creds.Username)
	conpkt.KeepAlive = opt.KeepaliveSec
	conpkt.CleanSession = true
	conpkt.Username = creds.Username
	conpkt.Password = creds.Password
	if err = conn.Send(conpkt, false); err != nil {
		_ = conn.Close()
		return nil, errors.Annotate(err, "mqtt send CONNECT")
	}
	opt.Log.Debugf("mqtt sent %s", packetString(conpkt))

	conn.SetReadTimeout(opt.NetworkTimeout)
	pkt, err := conn.Receive()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Annotate(err, "mqtt expect CONNACK")
	}
	connack, ok := pkt.(*packet.Connack)
	if !ok {
		_ = conn.Close()
		return nil, errors.Annotatef(ErrExpectedConnack, "pkt=%s", packetString(pkt))
	}
	if connack.ReturnCode != packet.ConnectionAccepted {
		_ = conn.Close()
		return nil, errors.Annotate(ErrConnectionDenied, connack.ReturnCode.String())
	}
	conn.SetReadTimeout(0)
	opt.Log.Debugf("mqtt %s", connack.String())

	cc := &sessionConn{
		alive:  alive.NewAlive(),
		conn:   conn,
		inbox:  make(chan tele.Message, opt.InboxSize),
		log:    opt.Log,
		opt:    opt,
		pingat: atomic_clock.Now(),
		pongat: atomic_clock.Now(),
	}
	cc.flows.m = make(map[packet.ID]*helpers.Future)
	cc.alive.Add(1)
	go cc.reader()
	return cc, nil
}

func (cc *sessionConn) die(e error) error {
	if e == nil {
		e = ErrClosing
	}
	if err, set := cc.err.StoreOnce(e); set {
		return err
	}
	cc.alive.Stop()
	cc.flows.Lock()
	for id, fu := range cc.flows.m {
		fu.Cancel(e)
		delete(cc.flows.m, id)
	}
	cc.flows.Unlock()
	if err := cc.conn.Close(); err != nil && !isClosedConn(err) {
		cc.log.Debugf("mqtt close err=%v", err)
	}
	return e
}

// ping sends PINGREQ as late as possible and kills connection without response
// within keepalive and a half ([MQTT-3.1.2-24]).
func (cc *sessionConn) ping() {
	if cc.opt.KeepaliveSec == 0 {
		return
	}
	keepalive := time.Duration(cc.opt.KeepaliveSec) * time.Second
	interval := keepalive - cc.opt.NetworkTimeout
	if interval <= 0 {
		interval = keepalive / 2
	}
	sincePong := atomic_clock.Since(cc.pongat)
	if sincePong > keepaliveAndHalf(cc.opt.KeepaliveSec) {
		_ = cc.die(ErrMissingPong)
		return
	}
	if atomic_clock.Since(cc.pingat) >= interval || sincePong >= interval {
		_ = cc.send(packet.NewPingreq())
	}
}

func (cc *sessionConn) reader() {
	defer cc.alive.Done()
	for {
		pkt, err := cc.conn.Receive()
		if !cc.alive.IsRunning() {
			return
		}
		switch err {
		case nil: // success path

		case io.EOF:
			cc.log.Errorf("mqtt server closed connection")
			_ = cc.die(ErrServerClosed)
			return

		default:
			_ = cc.die(errors.Annotate(err, "mqtt receive"))
			return
		}
		cc.pongat.SetNow()
		cc.log.Debugf("mqtt received %s", packetString(pkt))

		switch pt := pkt.(type) {
		case *packet.Connack:
			_ = cc.die(errors.Errorf("mqtt server error duplicate CONNACK"))
			return

		case *packet.Pingresp:

		case *packet.Suback:
			cc.resolve(pt.ID, pt)

		case *packet.Puback:
			cc.resolve(pt.ID, pt)

		case *packet.Publish:
			cc.onPublish(pt)

		default:
			cc.log.Debugf("mqtt unexpected packet %s", packetString(pkt))
		}
	}
}

func (cc *sessionConn) onPublish(pub *packet.Publish) {
	m := tele.Message{Topic: pub.Message.Topic, Payload: string(pub.Message.Payload)}
	select {
	case cc.inbox <- m:
	default:
		cc.log.Errorf("mqtt inbox full, dropped topic=%s", m.Topic)
	}
	if pub.Message.QOS == packet.QOSAtLeastOnce {
		puback := packet.NewPuback()
		puback.ID = pub.ID
		_ = cc.send(puback)
	}
}

func (cc *sessionConn) resolve(id packet.ID, pkt packet.Generic) {
	cc.flows.Lock()
	fu, ok := cc.flows.m[id]
	delete(cc.flows.m, id)
	cc.flows.Unlock()
	if !ok {
		cc.log.Errorf("mqtt unexpected ack %s", packetString(pkt))
		return
	}
	fu.Complete(pkt)
}

// request sends packet and waits for ack with same id.
// Ack timeout is fatal for connection.
func (cc *sessionConn) request(pkt packet.Generic, id packet.ID) (interface{}, error) {
	fu := helpers.NewFuture()
	cc.flows.Lock()
	cc.flows.m[id] = fu
	cc.flows.Unlock()
	if err := cc.send(pkt); err != nil {
		return nil, err
	}
	r, err := fu.Wait(context.Background(), cc.opt.NetworkTimeout)
	if errors.IsTimeout(err) {
		return nil, cc.die(errors.Annotatef(err, "%s ack", pkt.Type().String()))
	}
	return r, err
}

func (cc *sessionConn) send(p packet.Generic) error {
	if !cc.alive.IsRunning() {
		err, _ := cc.err.Load()
		return err
	}
	cc.sendMu.Lock()
	err := cc.conn.Send(p, false)
	cc.sendMu.Unlock()
	if err != nil {
		return cc.die(errors.Annotatef(err, "mqtt send %s", p.Type().String()))
	}
	cc.pingat.SetNow()
	cc.log.Debugf("mqtt sent %s", packetString(p))
	return nil
}

package tele

import (
	"context"
	"sync"
	"time"

	"github.com/aquanode/aquanode/log2"
	"github.com/juju/errors"
)

// Channel is publish/subscribe facade over Session.
// It remembers subscribed topics to re-issue them for every new session.
type Channel struct {
	session Session
	handler Handler
	log     *log2.Log
	stat    *Stat

	mu     sync.Mutex
	topics []string
}

func NewChannel(session Session, handler Handler, log *log2.Log, stat *Stat) *Channel {
	if session == nil {
		panic("code error tele.NewChannel session=nil")
	}
	if handler == nil {
		handler = LogHandler(log)
	}
	if stat == nil {
		stat = new(Stat)
	}
	return &Channel{session: session, handler: handler, log: log, stat: stat}
}

// LogHandler only observes inbound messages.
func LogHandler(log *log2.Log) Handler {
	return func(m Message) {
		log.Infof("incoming topic=%s payload=%s", m.Topic, m.Payload)
	}
}

func (c *Channel) Session() Session { return c.session }

// Subscribe is idempotent, repeated topic is sent to broker again but remembered once.
// Offline subscribe is only remembered, Resubscribe issues it with next session.
func (c *Channel) Subscribe(topic string) error {
	if topic == "" {
		return errors.NotValidf("subscribe topic empty")
	}
	c.mu.Lock()
	known := false
	for _, t := range c.topics {
		known = known || t == topic
	}
	if !known {
		c.topics = append(c.topics, topic)
	}
	c.mu.Unlock()
	if !c.session.IsConnected() {
		c.log.Debugf("subscribe topic=%s deferred until session", topic)
		return nil
	}
	return c.subscribe(topic)
}

func (c *Channel) subscribe(topic string) error {
	if !c.session.IsConnected() {
		return errors.Annotatef(ErrNotConnected, "subscribe topic=%s", topic)
	}
	if err := c.session.Subscribe(topic); err != nil {
		return errors.Annotatef(err, "subscribe topic=%s", topic)
	}
	c.log.Debugf("subscribed topic=%s", topic)
	return nil
}

// Resubscribe issues every remembered topic on current session.
func (c *Channel) Resubscribe() error {
	c.mu.Lock()
	topics := append([]string(nil), c.topics...)
	c.mu.Unlock()
	for _, t := range topics {
		if err := c.subscribe(t); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

// Publish reports result of local send only, not delivery.
func (c *Channel) Publish(topic string, payload []byte) error {
	c.log.Debugf("publish topic=%s bytes=%d", topic, len(payload))
	var err error
	if !c.session.IsConnected() {
		err = errors.Annotatef(ErrNotConnected, "publish topic=%s", topic)
	} else if err = c.session.Publish(topic, payload); err != nil {
		err = errors.Annotatef(err, "publish topic=%s", topic)
	}
	c.stat.Modify(func(s *Stat) {
		if err != nil {
			s.PublishFails++
			s.LastError = err.Error()
			return
		}
		s.Published++
		s.PublishedBytes += uint64(len(payload))
		s.LastPublish = time.Now()
	})
	return err
}

// Service pumps keepalive and delivers inbound messages to handler on caller goroutine.
// Messages received before transport failure are still delivered.
func (c *Channel) Service(ctx context.Context) error {
	msgs, err := c.session.Service(ctx)
	for _, m := range msgs {
		c.handler(m)
	}
	if n := len(msgs); n != 0 {
		c.stat.Modify(func(s *Stat) { s.Received += uint32(n) })
	}
	if err == nil && !c.session.IsConnected() {
		err = ErrNotConnected
	}
	if err != nil {
		return errors.Annotate(err, "service")
	}
	return nil
}

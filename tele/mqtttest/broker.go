// Package mqtttest is minimal in-process MQTT 3.1.1 broker for session tests.
// Clean sessions only, exact topic match, QoS 0 delivery.
package mqtttest

import (
	"net"
	"sync"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/aquanode/aquanode/log2"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
)

type Broker struct {
	sync.Mutex
	alive *alive.Alive
	ns    *transport.NetServer
	log   *log2.Log

	clients   map[*client]struct{}
	connects  []*packet.Connect
	published []packet.Message

	deny   bool
	noPong bool
}

type client struct {
	sync.Mutex
	conn transport.Conn
	id   string
	subs map[string]struct{}
}

func NewBroker(log *log2.Log) (*Broker, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:")
	if err != nil {
		return nil, errors.Annotate(err, "mqtttest listen")
	}
	b := &Broker{
		alive:   alive.NewAlive(),
		ns:      transport.NewNetServer(ln),
		log:     log,
		clients: make(map[*client]struct{}),
	}
	b.alive.Add(1)
	go b.acceptLoop()
	return b, nil
}

func (b *Broker) URL() string { return "tcp://" + b.ns.Addr().String() }

// SetDeny makes following CONNECT receive NotAuthorized.
func (b *Broker) SetDeny(deny bool) {
	b.Lock()
	b.deny = deny
	b.Unlock()
}

// SetNoPong makes broker ignore PINGREQ.
func (b *Broker) SetNoPong(v bool) {
	b.Lock()
	b.noPong = v
	b.Unlock()
}

func (b *Broker) Connects() []*packet.Connect {
	b.Lock()
	defer b.Unlock()
	return append([]*packet.Connect(nil), b.connects...)
}

func (b *Broker) Published() []packet.Message {
	b.Lock()
	defer b.Unlock()
	return append([]packet.Message(nil), b.published...)
}

// Subscribed reports whether any connected client holds exact topic subscription.
func (b *Broker) Subscribed(topic string) bool {
	b.Lock()
	defer b.Unlock()
	for c := range b.clients {
		c.Lock()
		_, ok := c.subs[topic]
		c.Unlock()
		if ok {
			return true
		}
	}
	return false
}

// Deliver sends QoS 0 PUBLISH to subscribed clients, returns number of recipients.
func (b *Broker) Deliver(topic string, payload []byte) int {
	pub := packet.NewPublish()
	pub.Message = packet.Message{Topic: topic, Payload: payload, QOS: packet.QOSAtMostOnce}
	n := 0
	for _, c := range b.clientList() {
		c.Lock()
		_, ok := c.subs[topic]
		c.Unlock()
		if !ok {
			continue
		}
		if err := c.conn.Send(pub, false); err != nil {
			b.log.Errorf("mqtttest deliver client=%s err=%v", c.id, err)
			continue
		}
		n++
	}
	return n
}

// DropClients closes every client connection without DISCONNECT.
func (b *Broker) DropClients() int {
	cs := b.clientList()
	for _, c := range cs {
		_ = c.conn.Close()
	}
	return len(cs)
}

func (b *Broker) Close() error {
	b.alive.Stop()
	err := b.ns.Close()
	b.DropClients()
	b.alive.Wait()
	return err
}

func (b *Broker) clientList() []*client {
	b.Lock()
	defer b.Unlock()
	cs := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		cs = append(cs, c)
	}
	return cs
}

func (b *Broker) acceptLoop() {
	defer b.alive.Done()
	for {
		conn, err := b.ns.Accept()
		if !b.alive.IsRunning() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			b.log.Errorf("mqtttest accept err=%v", err)
			return
		}
		if !b.alive.Add(1) {
			_ = conn.Close()
			return
		}
		go b.processConn(conn)
	}
}

func (b *Broker) processConn(conn transport.Conn) {
	defer b.alive.Done()
	defer conn.Close()

	pkt, err := conn.Receive()
	if err != nil {
		b.log.Debugf("mqtttest receive CONNECT err=%v", err)
		return
	}
	connect, ok := pkt.(*packet.Connect)
	if !ok {
		b.log.Errorf("mqtttest expected CONNECT pkt=%s", pkt.String())
		return
	}
	b.Lock()
	b.connects = append(b.connects, connect)
	deny := b.deny
	b.Unlock()

	connack := packet.NewConnack()
	connack.ReturnCode = packet.ConnectionAccepted
	if deny {
		connack.ReturnCode = packet.NotAuthorized
		_ = conn.Send(connack, false)
		return
	}
	if err = conn.Send(connack, false); err != nil {
		return
	}

	c := &client{conn: conn, id: connect.ClientID, subs: make(map[string]struct{})}
	b.Lock()
	b.clients[c] = struct{}{}
	b.Unlock()
	defer func() {
		b.Lock()
		delete(b.clients, c)
		b.Unlock()
	}()

	for {
		pkt, err := conn.Receive()
		if err != nil {
			b.log.Debugf("mqtttest client=%s receive err=%v", c.id, err)
			return
		}
		b.log.Debugf("mqtttest client=%s pkt=%s", c.id, pkt.String())
		if !b.processPacket(c, pkt) {
			return
		}
	}
}

func (b *Broker) processPacket(c *client, pkt packet.Generic) bool {
	var err error
	switch pt := pkt.(type) {
	case *packet.Pingreq:
		b.Lock()
		silent := b.noPong
		b.Unlock()
		if !silent {
			err = c.conn.Send(packet.NewPingresp(), false)
		}

	case *packet.Subscribe:
		suback := packet.NewSuback()
		suback.ID = pt.ID
		suback.ReturnCodes = make([]packet.QOS, 0, len(pt.Subscriptions))
		c.Lock()
		for _, sub := range pt.Subscriptions {
			c.subs[sub.Topic] = struct{}{}
			suback.ReturnCodes = append(suback.ReturnCodes, packet.QOSAtMostOnce)
		}
		c.Unlock()
		err = c.conn.Send(suback, false)

	case *packet.Publish:
		b.Lock()
		b.published = append(b.published, *pt.Message.Copy())
		b.Unlock()
		if pt.Message.QOS == packet.QOSAtLeastOnce {
			puback := packet.NewPuback()
			puback.ID = pt.ID
			err = c.conn.Send(puback, false)
		}

	case *packet.Disconnect:
		return false

	default:
		b.log.Errorf("mqtttest client=%s unexpected pkt=%s", c.id, pkt.String())
		return false
	}
	if err != nil {
		b.log.Debugf("mqtttest client=%s send err=%v", c.id, err)
		return false
	}
	return true
}

package tele

import (
	"context"
	"sync/atomic"

	"github.com/aquanode/aquanode/log2"
)

// Noop session logs payloads instead of sending, used by dry run mode.
type Noop struct {
	Log       *log2.Log
	connected uint32
}

var _ Session = &Noop{} // compile-time interface test

func (n *Noop) Connect(ctx context.Context, creds *Credentials) error {
	n.Log.Debugf("noop connect client=%s", creds.ClientID)
	atomic.StoreUint32(&n.connected, 1)
	return nil
}

func (n *Noop) IsConnected() bool { return atomic.LoadUint32(&n.connected) == 1 }

func (n *Noop) Subscribe(topic string) error {
	n.Log.Debugf("noop subscribe topic=%s", topic)
	return nil
}

func (n *Noop) Publish(topic string, payload []byte) error {
	n.Log.Infof("dry-run topic=%s payload=%s", topic, payload)
	return nil
}

func (n *Noop) Service(context.Context) ([]Message, error) { return nil, nil }

func (n *Noop) Disconnect() error {
	atomic.StoreUint32(&n.connected, 0)
	return nil
}

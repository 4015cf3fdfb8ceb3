package tele

import "context"

// Session is one authenticated broker connection, implemented by tele/paho and tele/mqtt.
// Connect on connected session reconnects. After Disconnect or transport failure
// IsConnected returns false until next successful Connect.
// Subscriptions do not survive Connect, caller re-issues them.
type Session interface {
	Connect(ctx context.Context, creds *Credentials) error
	IsConnected() bool
	Subscribe(topic string) error
	Publish(topic string, payload []byte) error
	// Service pumps keepalive and returns inbound messages queued since last call.
	Service(ctx context.Context) ([]Message, error)
	Disconnect() error
}

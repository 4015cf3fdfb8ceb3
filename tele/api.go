// Package tele owns broker connectivity of the node:
// two layer connection lifecycle (Manager) and publish/subscribe over a Session (Channel).
package tele

import (
	"fmt"

	"github.com/juju/errors"
)

type State int32

const (
	Disconnected State = iota
	LinkUp
	SessionActive
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case LinkUp:
		return "LinkUp"
	case SessionActive:
		return "SessionActive"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Message is inbound publish, consumed by Handler right away.
type Message struct {
	Topic   string
	Payload string
}

// Handler runs inline in Channel.Service, must not block.
type Handler func(Message)

var (
	ErrLinkDown        = errors.New("network link down")
	ErrSessionInactive = errors.New("broker session inactive")
	ErrNotConnected    = errors.New("not connected")
)

// IsSessionError reports errors recovered by re-establishing session next cycle.
func IsSessionError(err error) bool {
	switch errors.Cause(err) {
	case ErrSessionInactive, ErrNotConnected:
		return true
	}
	return false
}

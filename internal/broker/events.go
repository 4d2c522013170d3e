package broker

import (
	"github.com/fleetcam/broker/internal/protocol"
	"github.com/fleetcam/broker/internal/registry"
)

// Event is the broker's typed inbox alphabet. Every mutation the dispatcher
// makes is triggered by exactly one of these.
type Event interface{ isEvent() }

// PeerConnected requests a fresh PeerID for a newly accepted connection.
// Reply receives the assigned id once registry.Connect has run; the caller
// (connection frontend) must not send Welcome itself — the dispatcher does
// that as part of handling this event, so that exactly one Welcome is ever
// sent per connection.
type PeerConnected struct {
	Outbox registry.Outbox
	Reply  chan protocol.PeerID
}

// Frame carries one raw inbound text frame from an already-connected peer.
type Frame struct {
	PeerID protocol.PeerID
	Data   []byte
}

// PeerDisconnected triggers the ordered cascade that collapses every
// session and pipeline membership involving the peer before removing it
// from the registry.
type PeerDisconnected struct {
	PeerID protocol.PeerID
}

func (PeerConnected) isEvent()    {}
func (Frame) isEvent()            {}
func (PeerDisconnected) isEvent() {}

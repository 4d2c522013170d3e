// Package session implements the producer/consumer session table and its
// two reverse indexes, plus the forwarding rule that keeps SDP offers
// flowing only from the producer side.
package session

import (
	"errors"

	"github.com/google/uuid"

	"github.com/fleetcam/broker/internal/protocol"
)

var (
	ErrNoSuchProducer    = errors.New("session: no such producer")
	ErrNotAProducer      = errors.New("session: peer is not a producer")
	ErrNoSuchConsumer    = errors.New("session: no such consumer")
	ErrNoSuchSession     = errors.New("session: no such session")
	ErrOfferFromConsumer = errors.New("session: offer forwarded from consumer")
	ErrNotAParticipant   = errors.New("session: peer is not a session participant")
)

// PeerLookup is the subset of the registry the session table needs to
// validate StartSession requests, kept as an interface so session has no
// import-time dependency on the registry's concrete type.
type PeerLookup interface {
	Get(id protocol.PeerID) (exists bool)
	HasRole(id protocol.PeerID, role protocol.PeerRole) bool
}

// Sender delivers an outbound message to a peer, implemented by the
// dispatcher atop the registry.
type Sender interface {
	Send(id protocol.PeerID, msg protocol.Outbound) error
}

type entry struct {
	id       protocol.SessionID
	consumer protocol.PeerID
	producer protocol.PeerID
}

func (s entry) otherPeerID(from protocol.PeerID) (protocol.PeerID, bool) {
	switch from {
	case s.consumer:
		return s.producer, true
	case s.producer:
		return s.consumer, true
	default:
		return "", false
	}
}

// Table holds every active session plus its reverse indexes. Zero value is
// not ready; use New. Owned exclusively by the broker dispatcher goroutine.
type Table struct {
	sessions   map[protocol.SessionID]entry
	byConsumer map[protocol.PeerID]map[protocol.SessionID]struct{}
	byProducer map[protocol.PeerID]map[protocol.SessionID]struct{}
}

func New() *Table {
	return &Table{
		sessions:   make(map[protocol.SessionID]entry),
		byConsumer: make(map[protocol.PeerID]map[protocol.SessionID]struct{}),
		byProducer: make(map[protocol.PeerID]map[protocol.SessionID]struct{}),
	}
}

// Start creates a session between producerID and consumerID. On success it
// sends SessionStarted to the consumer, then StartSession to the producer,
// in that order, via sender.
func (t *Table) Start(peers PeerLookup, sender Sender, producerID, consumerID protocol.PeerID) (protocol.SessionID, error) {
	if !peers.Get(producerID) {
		return "", ErrNoSuchProducer
	}
	if !peers.HasRole(producerID, protocol.RoleProducer) {
		return "", ErrNotAProducer
	}
	if !peers.Get(consumerID) {
		return "", ErrNoSuchConsumer
	}

	id := protocol.SessionID(uuid.NewString())
	t.sessions[id] = entry{id: id, consumer: consumerID, producer: producerID}
	t.index(t.byConsumer, consumerID, id)
	t.index(t.byProducer, producerID, id)

	if err := sender.Send(consumerID, protocol.SessionStarted{PeerID: producerID, SessionID: id}); err != nil {
		return id, err
	}
	if err := sender.Send(producerID, protocol.StartSessionOut{PeerID: consumerID, SessionID: id}); err != nil {
		return id, err
	}
	return id, nil
}

func (t *Table) index(idx map[protocol.PeerID]map[protocol.SessionID]struct{}, peer protocol.PeerID, id protocol.SessionID) {
	set, ok := idx[peer]
	if !ok {
		set = make(map[protocol.SessionID]struct{})
		idx[peer] = set
	}
	set[id] = struct{}{}
}

func (t *Table) unindex(idx map[protocol.PeerID]map[protocol.SessionID]struct{}, peer protocol.PeerID, id protocol.SessionID) {
	set, ok := idx[peer]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, peer)
	}
}

// Forward routes a Peer frame to the other session endpoint. fromPeer is
// the sender of the frame; an SDP offer is rejected when fromPeer is the
// session's consumer.
func (t *Table) Forward(sender Sender, fromPeer protocol.PeerID, msg protocol.PeerMessage) error {
	s, ok := t.sessions[msg.SessionID]
	if !ok {
		return ErrNoSuchSession
	}
	if msg.Inner.IsOffer() && fromPeer == s.consumer {
		return ErrOfferFromConsumer
	}
	target, ok := s.otherPeerID(fromPeer)
	if !ok {
		return ErrNotAParticipant
	}
	return sender.Send(target, protocol.PeerOut{Message: msg})
}

// End removes sessionID if it exists and notifies the surviving endpoint
// (never the requester) with EndSession. Idempotent: ending an id with no
// matching session is a no-op.
func (t *Table) End(sender Sender, requestingPeer protocol.PeerID, sessionID protocol.SessionID) error {
	s, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	t.remove(s)

	survivor, ok := s.otherPeerID(requestingPeer)
	if !ok {
		// requestingPeer matched neither endpoint. Pick the producer as a
		// deterministic default recipient for the notification.
		survivor = s.producer
	}
	return sender.Send(survivor, protocol.EndSessionOut{SessionID: sessionID})
}

func (t *Table) remove(s entry) {
	delete(t.sessions, s.id)
	t.unindex(t.byConsumer, s.consumer, s.id)
	t.unindex(t.byProducer, s.producer, s.id)
}

// CollapseProducer ends every session where peerID is the producer,
// notifying each surviving consumer exactly once.
func (t *Table) CollapseProducer(sender Sender, peerID protocol.PeerID) {
	for id := range cloneSet(t.byProducer[peerID]) {
		_ = t.End(sender, peerID, id)
	}
}

// CollapseConsumer ends every session where peerID is the consumer,
// notifying each surviving producer exactly once.
func (t *Table) CollapseConsumer(sender Sender, peerID protocol.PeerID) {
	for id := range cloneSet(t.byConsumer[peerID]) {
		_ = t.End(sender, peerID, id)
	}
}

func cloneSet(set map[protocol.SessionID]struct{}) map[protocol.SessionID]struct{} {
	out := make(map[protocol.SessionID]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out
}

// Exists reports whether sessionID currently has an entry, used by tests to
// verify teardown.
func (t *Table) Exists(sessionID protocol.SessionID) bool {
	_, ok := t.sessions[sessionID]
	return ok
}

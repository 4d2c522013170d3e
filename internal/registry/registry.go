// Package registry tracks the set of currently connected peers, their
// declared status, and the send handle the dispatcher uses to reach them.
//
// Registry is owned exclusively by the broker dispatcher goroutine (see
// internal/broker); it holds no mutex by design, matching the "actor with
// mailbox" concurrency model that removes the need for locking entirely.
package registry

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/fleetcam/broker/internal/protocol"
)

// ErrUnknownPeer is returned by operations on a peer id with no entry.
var ErrUnknownPeer = errors.New("registry: unknown peer")

// Outbox is the bounded send handle a connection frontend exposes to the
// dispatcher. Send must not block past the queue's capacity; a full queue
// is the frontend's signal to disconnect the peer with Overrun.
type Outbox interface {
	Send(msg protocol.Outbound) error
}

// Entry is one connected peer's registry record.
type Entry struct {
	Outbox Outbox
	Status protocol.PeerStatus
}

// StatusChange describes a side effect set_status must cause after it
// replaces a peer's status, resolved by the dispatcher into actual sends
// (registry itself never touches other peers' outboxes, keeping ownership
// of who-sends-what-to-whom inside this package's return values, not
// hidden side effects on other entries).
type StatusChange struct {
	// NotifyInit is set when a producer announces with a camera meta and
	// its inviting viewer is still registered; New is sent to it alone.
	NotifyInit protocol.PeerID

	// BroadcastListeners is true when a recorder announcement must be
	// broadcast to every currently listening peer.
	BroadcastListeners bool

	// New is the status to send, populated whenever either notification
	// path above applies.
	New protocol.PeerStatus
}

// Registry is the live peer map. Zero value is not ready; use New.
type Registry struct {
	peers map[protocol.PeerID]*Entry
}

func New() *Registry {
	return &Registry{peers: make(map[protocol.PeerID]*Entry)}
}

// Connect allocates a fresh PeerID, inserts an empty-status entry, and
// returns the id the caller must use to send Welcome — exactly once, before
// any other outbound message, for the lifetime of the connection.
func (r *Registry) Connect(outbox Outbox) protocol.PeerID {
	id := protocol.PeerID(uuid.NewString())
	r.peers[id] = &Entry{
		Outbox: outbox,
		Status: protocol.PeerStatus{Roles: []protocol.PeerRole{}},
	}
	return id
}

// Get returns the entry for id, or nil if absent.
func (r *Registry) Get(id protocol.PeerID) (*Entry, bool) {
	e, ok := r.peers[id]
	return e, ok
}

// SetStatus replaces a peer's status and reports what notification the
// dispatcher must now send as a result. Returns ErrUnknownPeer if no entry
// exists for id.
func (r *Registry) SetStatus(id protocol.PeerID, newStatus protocol.PeerStatus) (StatusChange, error) {
	entry, ok := r.peers[id]
	if !ok {
		return StatusChange{}, ErrUnknownPeer
	}

	if entry.Status.EqualIgnoringPeerID(newStatus) {
		return StatusChange{}, nil
	}

	newStatus.PeerID = id
	entry.Status = newStatus

	if newStatus.Producing() {
		if meta, ok := protocol.DecodeCameraMeta(newStatus.Meta); ok && meta.Init != "" {
			if _, initStillHere := r.peers[meta.Init]; initStillHere {
				return StatusChange{NotifyInit: meta.Init, New: newStatus}, nil
			}
		}
		return StatusChange{}, nil
	}
	if newStatus.Recording() {
		if _, ok := protocol.RecorderCameraID(newStatus.Meta); ok {
			return StatusChange{BroadcastListeners: true, New: newStatus}, nil
		}
	}
	return StatusChange{}, nil
}

// Remove deletes id's entry and returns its last known status, if any.
func (r *Registry) Remove(id protocol.PeerID) (protocol.PeerStatus, bool) {
	entry, ok := r.peers[id]
	if !ok {
		return protocol.PeerStatus{}, false
	}
	delete(r.peers, id)
	return entry.Status, true
}

// Listening returns the ids of every currently connected listening peer.
func (r *Registry) Listening() []protocol.PeerID {
	var ids []protocol.PeerID
	for id, e := range r.peers {
		if e.Status.Listening() {
			ids = append(ids, id)
		}
	}
	return ids
}

// FindProducingCamera returns the peer id and status of a connected,
// producing peer whose meta.id matches cameraID, if one exists. Used by the
// preview pipeline manager's "producer already available" shortcut.
func (r *Registry) FindProducingCamera(cameraID string) (protocol.PeerID, protocol.PeerStatus, bool) {
	for id, e := range r.peers {
		if !e.Status.Producing() {
			continue
		}
		meta, ok := protocol.DecodeCameraMeta(e.Status.Meta)
		if ok && meta.ID == cameraID {
			return id, e.Status, true
		}
	}
	return "", protocol.PeerStatus{}, false
}

// HasRole reports whether id is currently registered with role r.
func (r *Registry) HasRole(id protocol.PeerID, role protocol.PeerRole) bool {
	e, ok := r.peers[id]
	if !ok {
		return false
	}
	for _, have := range e.Status.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// Send delivers msg to id's outbox. Returns ErrUnknownPeer if id is no
// longer registered (the peer may have disconnected between the decision
// to send and the send itself).
func (r *Registry) Send(id protocol.PeerID, msg protocol.Outbound) error {
	e, ok := r.peers[id]
	if !ok {
		return ErrUnknownPeer
	}
	return e.Outbox.Send(msg)
}

// rawStatus is a convenience for callers building a PeerStatusChanged for a
// now-removed peer (the dispatcher's "recorder is gone" notification),
// which needs the last-known roles/meta but an absent peer_id.
func rawStatus(roles []protocol.PeerRole, meta json.RawMessage) protocol.PeerStatus {
	return protocol.PeerStatus{Roles: roles, Meta: meta}
}

// GoneStatus builds the PeerStatusChanged payload for a disconnected
// recorder: same roles/meta, no peer_id.
func GoneStatus(old protocol.PeerStatus) protocol.PeerStatus {
	return rawStatus(old.Roles, old.Meta)
}

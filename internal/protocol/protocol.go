// Package protocol implements the wire codec between peers and the broker:
// a JSON object per frame, externally tagged by a "type" discriminant.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/tidwall/gjson"
)

// PeerID identifies a connected peer for the lifetime of its connection.
type PeerID string

// SessionID identifies an active producer/consumer session.
type SessionID string

// PeerRole is one of the roles a peer can declare via SetPeerStatus.
type PeerRole string

const (
	RoleListener PeerRole = "Listener"
	RoleProducer PeerRole = "Producer"
	RoleConsumer PeerRole = "Consumer"
	RoleRecorder PeerRole = "Recorder"
)

// PeerStatus is the roles + free-form metadata a peer declares about itself.
type PeerStatus struct {
	PeerID PeerID          `json:"peer_id,omitempty"`
	Roles  []PeerRole      `json:"roles"`
	Meta   json.RawMessage `json:"meta,omitempty"`
}

func (s PeerStatus) hasRole(r PeerRole) bool {
	for _, have := range s.Roles {
		if have == r {
			return true
		}
	}
	return false
}

func (s PeerStatus) Producing() bool { return s.hasRole(RoleProducer) }
func (s PeerStatus) Listening() bool { return s.hasRole(RoleListener) }
func (s PeerStatus) Recording() bool { return s.hasRole(RoleRecorder) }

// EqualIgnoringPeerID reports structural equality of roles and meta, the
// comparison set_status uses to decide whether a SetPeerStatus is a no-op.
func (s PeerStatus) EqualIgnoringPeerID(other PeerStatus) bool {
	if len(s.Roles) != len(other.Roles) {
		return false
	}
	seen := make(map[PeerRole]int, len(s.Roles))
	for _, r := range s.Roles {
		seen[r]++
	}
	for _, r := range other.Roles {
		seen[r]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return string(s.Meta) == string(other.Meta)
}

// CameraMeta is the {id, init} a producer stamps into PeerStatus.Meta.
type CameraMeta struct {
	ID   string `json:"id"`
	Init PeerID `json:"init"`
}

// MetaString extracts a string field from a free-form meta blob without
// round-tripping the whole object through a strict struct.
func MetaString(meta json.RawMessage, field string) (string, bool) {
	if len(meta) == 0 {
		return "", false
	}
	res := gjson.GetBytes(meta, field)
	if !res.Exists() || res.Type != gjson.String {
		return "", false
	}
	return res.String(), true
}

// DecodeCameraMeta extracts {id, init} from a producer's announced meta.
// Both fields are required; a meta object missing either is not a camera
// announcement.
func DecodeCameraMeta(meta json.RawMessage) (CameraMeta, bool) {
	id, ok := MetaString(meta, "id")
	if !ok {
		return CameraMeta{}, false
	}
	init, ok := MetaString(meta, "init")
	if !ok {
		return CameraMeta{}, false
	}
	return CameraMeta{ID: id, Init: PeerID(init)}, true
}

// RecorderCameraID extracts meta.id for a recording peer, where init is
// absent (recorders don't have an inviting viewer).
func RecorderCameraID(meta json.RawMessage) (string, bool) {
	return MetaString(meta, "id")
}

// Camera mirrors the external catalog row.
type Camera struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	URL      string `json:"url"`
}

// SdpKind discriminates the two SDP variants of PeerMessageInner.
type SdpKind string

const (
	SdpOffer  SdpKind = "Offer"
	SdpAnswer SdpKind = "Answer"
)

// PeerMessageInner is the tagged union forwarded between session endpoints:
// either an SDP offer/answer or an ICE candidate. The broker only ever
// inspects Kind and SdpKind; it never looks inside SDP or Candidate.
type PeerMessageInner struct {
	Kind      string                    // "Sdp" or "Ice"
	SdpKind   SdpKind                   // valid when Kind == "Sdp"
	SDP       *webrtc.SessionDescription
	Candidate *webrtc.ICECandidateInit
}

// IsOffer reports whether this is the SDP offer variant, the one case the
// session table's forwarding rule treats specially: an offer may only be
// forwarded from the producer side of a session, never the consumer.
func (m PeerMessageInner) IsOffer() bool {
	return m.Kind == "Sdp" && m.SdpKind == SdpOffer
}

func (m PeerMessageInner) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case "Sdp":
		inner, err := json.Marshal(struct {
			Sdp *webrtc.SessionDescription `json:"sdp"`
		}{Sdp: m.SDP})
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{
			"Sdp": mustWrap(string(m.SdpKind), inner),
		})
	case "Ice":
		inner, err := json.Marshal(m.Candidate)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]json.RawMessage{"Ice": inner})
	default:
		return nil, fmt.Errorf("protocol: unknown PeerMessageInner kind %q", m.Kind)
	}
}

func mustWrap(tag string, payload []byte) json.RawMessage {
	out, _ := json.Marshal(map[string]json.RawMessage{tag: payload})
	return out
}

func (m *PeerMessageInner) UnmarshalJSON(data []byte) error {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return fmt.Errorf("protocol: peer_message: %w", err)
	}
	if sdp, ok := outer["Sdp"]; ok {
		var sdpOuter map[string]json.RawMessage
		if err := json.Unmarshal(sdp, &sdpOuter); err != nil {
			return fmt.Errorf("protocol: peer_message.Sdp: %w", err)
		}
		for _, kind := range []SdpKind{SdpOffer, SdpAnswer} {
			raw, ok := sdpOuter[string(kind)]
			if !ok {
				continue
			}
			var body struct {
				Sdp webrtc.SessionDescription `json:"sdp"`
			}
			if err := json.Unmarshal(raw, &body); err != nil {
				return fmt.Errorf("protocol: peer_message.Sdp.%s: %w", kind, err)
			}
			m.Kind = "Sdp"
			m.SdpKind = kind
			m.SDP = &body.Sdp
			return nil
		}
		return fmt.Errorf("protocol: peer_message.Sdp: missing Offer/Answer variant")
	}
	if ice, ok := outer["Ice"]; ok {
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(ice, &cand); err != nil {
			return fmt.Errorf("protocol: peer_message.Ice: %w", err)
		}
		m.Kind = "Ice"
		m.Candidate = &cand
		return nil
	}
	return fmt.Errorf("protocol: peer_message: unknown variant")
}

// PeerMessage is the session-scoped envelope carrying SDP/ICE between
// endpoints. The broker never inspects Inner's payload, only its Kind and
// SdpKind.
type PeerMessage struct {
	SessionID SessionID        `json:"session_id"`
	Inner     PeerMessageInner `json:"peer_message"`
}

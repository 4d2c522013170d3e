package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound tag discriminants for the externally tagged wire frames:
// {"type": "<Tag>", ...fields...}.
const (
	TagSetPeerStatus = "SetPeerStatus"
	TagStartSession  = "StartSession"
	TagEndSession    = "EndSession"
	TagPeer          = "Peer"
	TagPreview       = "Preview"
	TagStopPreview   = "StopPreview"
	TagAddCamera     = "AddCamera"
	TagEditCamera    = "EditCamera"
	TagRemoveCamera  = "RemoveCamera"
	TagListCameras   = "ListCameras"

	TagWelcome           = "Welcome"
	TagPeerStatusChanged = "PeerStatusChanged"
	TagSessionStarted    = "SessionStarted"
	TagError             = "Error"
)

// Inbound is the decoded form of any frame a peer can send the broker.
// At most one of the typed fields is populated, selected by Tag
// (ListCameras carries no payload).
type Inbound struct {
	Tag string

	SetPeerStatus PeerStatus
	StartSession  struct {
		PeerID PeerID `json:"peer_id"`
	}
	EndSession struct {
		SessionID SessionID `json:"session_id"`
	}
	Peer        PeerMessage
	Preview     struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	StopPreview struct {
		ID string `json:"id"`
	}
	Camera Camera
}

// ErrUnknownTag marks a well-formed frame whose type discriminant names no
// known variant; the dispatcher replies with the fixed "unknown message"
// details for these, versus a generic malformed-frame Error otherwise.
var ErrUnknownTag = errors.New("protocol: unknown message type")

// DecodeInbound parses one text frame into its typed form. Unknown tags and
// malformed frames both return an error; the caller (the connection
// frontend / dispatcher) turns that into an Error{details} reply without
// dropping the connection.
func DecodeInbound(data []byte) (Inbound, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Inbound{}, fmt.Errorf("protocol: malformed frame: %w", err)
	}
	if probe.Type == "" {
		return Inbound{}, fmt.Errorf("protocol: malformed frame: missing type")
	}

	msg := Inbound{Tag: probe.Type}
	switch probe.Type {
	case TagSetPeerStatus:
		var status PeerStatus
		if err := json.Unmarshal(data, &status); err != nil {
			return Inbound{}, fmt.Errorf("protocol: SetPeerStatus: %w", err)
		}
		msg.SetPeerStatus = status
	case TagStartSession:
		if err := json.Unmarshal(data, &msg.StartSession); err != nil {
			return Inbound{}, fmt.Errorf("protocol: StartSession: %w", err)
		}
	case TagEndSession:
		if err := json.Unmarshal(data, &msg.EndSession); err != nil {
			return Inbound{}, fmt.Errorf("protocol: EndSession: %w", err)
		}
	case TagPeer:
		if err := json.Unmarshal(data, &msg.Peer); err != nil {
			return Inbound{}, fmt.Errorf("protocol: Peer: %w", err)
		}
	case TagPreview:
		if err := json.Unmarshal(data, &msg.Preview); err != nil {
			return Inbound{}, fmt.Errorf("protocol: Preview: %w", err)
		}
	case TagStopPreview:
		if err := json.Unmarshal(data, &msg.StopPreview); err != nil {
			return Inbound{}, fmt.Errorf("protocol: StopPreview: %w", err)
		}
	case TagAddCamera, TagEditCamera, TagRemoveCamera:
		if err := json.Unmarshal(data, &msg.Camera); err != nil {
			return Inbound{}, fmt.Errorf("protocol: %s: %w", probe.Type, err)
		}
	case TagListCameras:
		// no payload
	default:
		return Inbound{}, fmt.Errorf("%w %q", ErrUnknownTag, probe.Type)
	}
	return msg, nil
}

// Outbound messages, one struct per variant. EncodeOutbound below stamps
// each with its "type" discriminant.

type Welcome struct {
	PeerID PeerID `json:"peer_id"`
}

type PeerStatusChanged struct {
	Status PeerStatus
}

type SessionStarted struct {
	PeerID    PeerID    `json:"peer_id"`
	SessionID SessionID `json:"session_id"`
}

type StartSessionOut struct {
	PeerID    PeerID    `json:"peer_id"`
	SessionID SessionID `json:"session_id"`
}

type PeerOut struct {
	Message PeerMessage
}

type EndSessionOut struct {
	SessionID SessionID `json:"session_id"`
}

type ListCamerasOut struct {
	Cameras []Camera `json:"cameras"`
}

type ErrorOut struct {
	Details string `json:"details"`
}

// Outbound is the interface implemented by every broker → peer message;
// EncodeOutbound uses Tag to stamp the discriminant.
type Outbound interface {
	Tag() string
}

func (Welcome) Tag() string           { return TagWelcome }
func (PeerStatusChanged) Tag() string { return TagPeerStatusChanged }
func (SessionStarted) Tag() string    { return TagSessionStarted }
func (StartSessionOut) Tag() string   { return TagStartSession }
func (PeerOut) Tag() string           { return TagPeer }
func (EndSessionOut) Tag() string     { return TagEndSession }
func (ListCamerasOut) Tag() string    { return TagListCameras }
func (ErrorOut) Tag() string          { return TagError }

// EncodeOutbound serializes any Outbound variant into a single tagged JSON
// object: {"type": "<Tag>", ...fields...}.
func EncodeOutbound(msg Outbound) ([]byte, error) {
	var fields json.RawMessage
	var err error

	switch m := msg.(type) {
	case PeerStatusChanged:
		fields, err = json.Marshal(m.Status)
	case PeerOut:
		fields, err = json.Marshal(m.Message)
	default:
		fields, err = json.Marshal(msg)
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.Tag(), err)
	}

	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(fields, &asMap); err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.Tag(), err)
	}
	asMap["type"] = json.RawMessage(fmt.Sprintf("%q", msg.Tag()))
	return json.Marshal(asMap)
}

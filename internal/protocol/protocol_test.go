package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestDecodeInboundSetPeerStatus(t *testing.T) {
	data := []byte(`{"type":"SetPeerStatus","roles":["Producer"],"meta":{"id":"cam1","init":"v1"}}`)
	msg, err := DecodeInbound(data)
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	if msg.Tag != TagSetPeerStatus {
		t.Fatalf("Tag = %q, want SetPeerStatus", msg.Tag)
	}
	if !msg.SetPeerStatus.Producing() {
		t.Fatalf("expected Producing() true")
	}
	meta, ok := DecodeCameraMeta(msg.SetPeerStatus.Meta)
	if !ok {
		t.Fatalf("expected camera meta to decode")
	}
	if meta.ID != "cam1" || meta.Init != "v1" {
		t.Fatalf("meta = %+v", meta)
	}
}

func TestDecodeInboundUnknownTag(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":"Bogus"}`))
	if err == nil {
		t.Fatalf("expected error for unknown tag")
	}
}

func TestDecodeInboundMalformed(t *testing.T) {
	_, err := DecodeInbound([]byte(`not json`))
	if err == nil {
		t.Fatalf("expected error for malformed frame")
	}
}

func TestPeerStatusEqualIgnoringPeerID(t *testing.T) {
	a := PeerStatus{PeerID: "p1", Roles: []PeerRole{RoleProducer, RoleListener}, Meta: json.RawMessage(`{"id":"cam1"}`)}
	b := PeerStatus{PeerID: "p2", Roles: []PeerRole{RoleListener, RoleProducer}, Meta: json.RawMessage(`{"id":"cam1"}`)}
	if !a.EqualIgnoringPeerID(b) {
		t.Fatalf("expected equal ignoring peer_id and role order")
	}
	c := PeerStatus{PeerID: "p1", Roles: []PeerRole{RoleProducer, RoleListener}, Meta: json.RawMessage(`{"id":"cam2"}`)}
	if a.EqualIgnoringPeerID(c) {
		t.Fatalf("expected not equal: different meta")
	}
}

func TestPeerMessageInnerOfferRoundTrip(t *testing.T) {
	sdp := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
	inner := PeerMessageInner{
		Kind:    "Sdp",
		SdpKind: SdpOffer,
		SDP:     &sdp,
	}
	data, err := inner.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if !strings.Contains(string(data), `"Offer"`) {
		t.Fatalf("encoded = %s, want Offer tag", data)
	}
	var decoded PeerMessageInner
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.IsOffer() {
		t.Fatalf("expected round-tripped message to report IsOffer() true")
	}
}

func TestPeerMessageInnerIce(t *testing.T) {
	data := []byte(`{"Ice":{"candidate":"candidate:1 1 UDP 1 0.0.0.0 1 typ host"}}`)
	var decoded PeerMessageInner
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Kind != "Ice" || decoded.Candidate == nil {
		t.Fatalf("decoded = %+v", decoded)
	}
	if decoded.IsOffer() {
		t.Fatalf("ICE candidate must never report IsOffer() true")
	}
}

func TestEncodeOutboundWelcome(t *testing.T) {
	data, err := EncodeOutbound(Welcome{PeerID: "p1"})
	if err != nil {
		t.Fatalf("EncodeOutbound: %v", err)
	}
	var asMap map[string]string
	if err := json.Unmarshal(data, &asMap); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if asMap["type"] != TagWelcome || asMap["peer_id"] != "p1" {
		t.Fatalf("decoded = %+v", asMap)
	}
}

func TestEncodeOutboundListCameras(t *testing.T) {
	data, err := EncodeOutbound(ListCamerasOut{Cameras: []Camera{{ID: "cam1", Name: "front"}}})
	if err != nil {
		t.Fatalf("EncodeOutbound: %v", err)
	}
	if !strings.Contains(string(data), `"type":"ListCameras"`) {
		t.Fatalf("encoded = %s", data)
	}
}

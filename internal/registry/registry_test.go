package registry

import (
	"encoding/json"
	"testing"

	"github.com/fleetcam/broker/internal/protocol"
)

type fakeOutbox struct {
	sent []protocol.Outbound
}

func (f *fakeOutbox) Send(msg protocol.Outbound) error {
	f.sent = append(f.sent, msg)
	return nil
}

func TestConnectSendsNoImplicitWelcome(t *testing.T) {
	r := New()
	ob := &fakeOutbox{}
	id := r.Connect(ob)
	if id == "" {
		t.Fatalf("expected non-empty peer id")
	}
	if len(ob.sent) != 0 {
		t.Fatalf("Connect must not send anything itself, sent %+v", ob.sent)
	}
	entry, ok := r.Get(id)
	if !ok {
		t.Fatalf("expected entry to exist after Connect")
	}
	if entry.Status.Producing() || entry.Status.Listening() {
		t.Fatalf("fresh entry should have no roles: %+v", entry.Status)
	}
}

func TestSetStatusUnknownPeer(t *testing.T) {
	r := New()
	_, err := r.SetStatus("nope", protocol.PeerStatus{})
	if err != ErrUnknownPeer {
		t.Fatalf("err = %v, want ErrUnknownPeer", err)
	}
}

func TestSetStatusDuplicateIsNoOp(t *testing.T) {
	r := New()
	ob := &fakeOutbox{}
	id := r.Connect(ob)

	status := protocol.PeerStatus{Roles: []protocol.PeerRole{protocol.RoleRecorder}, Meta: json.RawMessage(`{"id":"cam2"}`)}
	change1, err := r.SetStatus(id, status)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if !change1.BroadcastListeners {
		t.Fatalf("expected first SetStatus to request a broadcast")
	}

	change2, err := r.SetStatus(id, status)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if change2.BroadcastListeners {
		t.Fatalf("expected duplicate SetStatus to be a no-op (R2)")
	}
}

func TestSetStatusProducerNotifiesInit(t *testing.T) {
	r := New()
	viewer := r.Connect(&fakeOutbox{})

	producerOb := &fakeOutbox{}
	producer := r.Connect(producerOb)

	meta, _ := json.Marshal(map[string]string{"id": "cam1", "init": string(viewer)})
	status := protocol.PeerStatus{Roles: []protocol.PeerRole{protocol.RoleProducer}, Meta: meta}
	change, err := r.SetStatus(producer, status)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if change.NotifyInit != viewer {
		t.Fatalf("NotifyInit = %q, want %q", change.NotifyInit, viewer)
	}
}

func TestRemoveReturnsLastStatus(t *testing.T) {
	r := New()
	id := r.Connect(&fakeOutbox{})
	status := protocol.PeerStatus{Roles: []protocol.PeerRole{protocol.RoleListener}}
	if _, err := r.SetStatus(id, status); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	removed, ok := r.Remove(id)
	if !ok || !removed.Listening() {
		t.Fatalf("Remove = %+v, %v", removed, ok)
	}
	if _, ok := r.Get(id); ok {
		t.Fatalf("expected entry gone after Remove")
	}
}

func TestFindProducingCamera(t *testing.T) {
	r := New()
	producer := r.Connect(&fakeOutbox{})
	meta, _ := json.Marshal(map[string]string{"id": "cam1", "init": "v1"})
	if _, err := r.SetStatus(producer, protocol.PeerStatus{Roles: []protocol.PeerRole{protocol.RoleProducer}, Meta: meta}); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	id, status, ok := r.FindProducingCamera("cam1")
	if !ok || id != producer || !status.Producing() {
		t.Fatalf("FindProducingCamera = %q, %+v, %v", id, status, ok)
	}
	if _, _, ok := r.FindProducingCamera("cam2"); ok {
		t.Fatalf("expected no match for cam2")
	}
}

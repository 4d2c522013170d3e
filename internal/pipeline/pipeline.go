// Package pipeline manages per-camera reference-counted preview pipelines:
// the bridge that turns an RTSP camera feed into a WebRTC stream for
// viewers. The pipeline description itself is an opaque string handed to an
// external media engine; this package never interprets it.
package pipeline

import (
	"fmt"
	"log"

	"github.com/fleetcam/broker/internal/protocol"
)

// Handle is a started pipeline the manager can stop. The concrete
// implementation (internal/pipeline/process.go) shells out to an external
// media engine process; tests substitute a fake.
type Handle interface {
	Stop() error
}

// Starter constructs and starts a pipeline from its opaque description,
// returning a handle the manager will later Stop.
type Starter interface {
	Start(description string) (Handle, error)
}

// PeerLookup is the subset of the registry the pipeline manager needs for
// its "producer already available" shortcut.
type PeerLookup interface {
	FindProducingCamera(cameraID string) (protocol.PeerID, protocol.PeerStatus, bool)
}

// Sender delivers a message to one peer.
type Sender interface {
	Send(id protocol.PeerID, msg protocol.Outbound) error
}

type cameraEntry struct {
	handle  Handle
	viewers map[protocol.PeerID]struct{}
}

// Manager holds the live camera → {handle, viewers} map. Owned exclusively
// by the broker dispatcher goroutine.
type Manager struct {
	starter    Starter
	signalAddr string // e.g. "ws://127.0.0.1:8080/ws", used in pipeline templates
	cameras    map[string]*cameraEntry
}

func NewManager(starter Starter, signalAddr string) *Manager {
	return &Manager{
		starter:    starter,
		signalAddr: signalAddr,
		cameras:    make(map[string]*cameraEntry),
	}
}

// PreviewDescription renders the live-preview pipeline description string
// handed to the external media engine.
func PreviewDescription(cameraID string, initPeer protocol.PeerID, signalAddr, url string) string {
	return fmt.Sprintf(
		`webrtcsink name=ws meta="meta,id=%s,init=%s" signaller::address="%s" rtspsrc location=%s drop-on-latency=true latency=50 ! rtph264depay ! h264parse ! video/x-h264,alignment=au ! avdec_h264 ! ws.`,
		cameraID, initPeer, signalAddr, url,
	)
}

// RecordingDescription renders the recording pipeline description string
// handed to the external media engine.
func RecordingDescription(cameraID, url string, bufferBytes int) string {
	return fmt.Sprintf(
		`rtspsrc name=rtspsrc location=%s drop-on-latency=true latency=50 ! rtph264depay ! h264parse ! video/x-h264,alignment=au ! timestampcvt input-timestamp-mode=start-at-current-time ! queue max-size-buffers=0 max-size-time=0 max-size-bytes=%d ! pravegasink allow-create-scope=true controller=tcp://127.0.0.1:9090 stream=examples/%s sync=false buffer-size=%d timestamp-mode=tai`,
		url, bufferBytes, cameraID, bufferBytes,
	)
}

// Attach adds viewerID to cameraID's viewer set, starting a new pipeline on
// first attach. If a producer for cameraID is already connected, sends it
// to viewerID as a PeerStatusChanged shortcut. Pipeline start failures are
// returned for the dispatcher to log; no message goes to the viewer.
func (m *Manager) Attach(peers PeerLookup, sender Sender, cameraID, url string, viewerID protocol.PeerID) error {
	if entry, ok := m.cameras[cameraID]; ok {
		entry.viewers[viewerID] = struct{}{}
	} else {
		desc := PreviewDescription(cameraID, viewerID, m.signalAddr, url)
		handle, err := m.starter.Start(desc)
		if err != nil {
			return fmt.Errorf("pipeline: start %s: %w", cameraID, err)
		}
		m.cameras[cameraID] = &cameraEntry{
			handle:  handle,
			viewers: map[protocol.PeerID]struct{}{viewerID: {}},
		}
	}

	if producerID, status, ok := peers.FindProducingCamera(cameraID); ok {
		changed := protocol.PeerStatus{PeerID: producerID, Roles: status.Roles, Meta: status.Meta}
		return sender.Send(viewerID, protocol.PeerStatusChanged{Status: changed})
	}
	return nil
}

// Detach removes viewerID from cameraID's set, stopping the pipeline and
// removing the entry once it becomes empty. Idempotent: detaching an
// absent viewer or camera is a no-op.
func (m *Manager) Detach(cameraID string, viewerID protocol.PeerID) {
	entry, ok := m.cameras[cameraID]
	if !ok {
		return
	}
	delete(entry.viewers, viewerID)
	if len(entry.viewers) == 0 {
		m.stopAndRemove(cameraID, entry)
	}
}

// DropViewer removes peerID from every camera's viewer set, used by the
// dispatcher on peer disconnect.
func (m *Manager) DropViewer(peerID protocol.PeerID) {
	for cameraID, entry := range m.cameras {
		if _, ok := entry.viewers[peerID]; !ok {
			continue
		}
		delete(entry.viewers, peerID)
		if len(entry.viewers) == 0 {
			m.stopAndRemove(cameraID, entry)
		}
	}
}

// DropCamera unconditionally stops and removes cameraID's entry, used by
// catalog edits/removals so a stale URL is never cached.
func (m *Manager) DropCamera(cameraID string) {
	entry, ok := m.cameras[cameraID]
	if !ok {
		return
	}
	m.stopAndRemove(cameraID, entry)
}

func (m *Manager) stopAndRemove(cameraID string, entry *cameraEntry) {
	delete(m.cameras, cameraID)
	if err := entry.handle.Stop(); err != nil {
		log.Printf("pipeline: stop %s: %v", cameraID, err)
	}
}

// Active reports whether cameraID currently has a running pipeline, used
// by tests to verify that the viewer set is never empty while an entry
// exists.
func (m *Manager) Active(cameraID string) bool {
	_, ok := m.cameras[cameraID]
	return ok
}

// ViewerCount returns the number of viewers attached to cameraID.
func (m *Manager) ViewerCount(cameraID string) int {
	entry, ok := m.cameras[cameraID]
	if !ok {
		return 0
	}
	return len(entry.viewers)
}

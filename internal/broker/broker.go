// Package broker implements the single-threaded dispatcher that owns the
// peer registry, session table, pipeline manager, and camera catalog: the
// heart of the system. It is the only package that mutates any of those
// stores, draining a buffered inbox of connect/frame/disconnect events the
// way a hub drains its register/unregister/broadcast channels, generalized
// to the full event set a camera-fleet broker needs.
package broker

import (
	"context"
	"errors"
	"log"

	"github.com/fleetcam/broker/internal/catalog"
	"github.com/fleetcam/broker/internal/pipeline"
	"github.com/fleetcam/broker/internal/protocol"
	"github.com/fleetcam/broker/internal/recorder"
	"github.com/fleetcam/broker/internal/registry"
	"github.com/fleetcam/broker/internal/session"
)

// InboxCapacity bounds the dispatcher's event queue. Connection frontends
// block briefly posting into it under load; this is separate from each
// peer's own bounded outbound queue.
const InboxCapacity = 256

// recorderIndex maps camera-id to its currently registered recorder peer,
// kept here (not inside registry) because it's dispatcher-owned cross-peer
// bookkeeping, not a single peer's own status.
type recorderIndex map[string]protocol.PeerID

func (r recorderIndex) PeerFor(cameraID string) (protocol.PeerID, bool) {
	id, ok := r[cameraID]
	return id, ok
}

// registryPeerLookup adapts *registry.Registry to session.PeerLookup,
// whose two-bool-return shape differs from the registry's own Get.
type registryPeerLookup struct{ r *registry.Registry }

func (a registryPeerLookup) Get(id protocol.PeerID) bool {
	_, ok := a.r.Get(id)
	return ok
}

func (a registryPeerLookup) HasRole(id protocol.PeerID, role protocol.PeerRole) bool {
	return a.r.HasRole(id, role)
}

// Broker is the dispatcher. Construct with New and run with Run; every
// other method on the stores it owns must only be called from within Run's
// goroutine (reached via the Event alphabet), never concurrently.
type Broker struct {
	registry    *registry.Registry
	sessions    *session.Table
	pipelines   *pipeline.Manager
	catalog     *catalog.Adapter
	recorderSup *recorder.Supervisor
	recorders   recorderIndex
	peers       registryPeerLookup
	logger      *log.Logger

	inbox chan Event
}

func New(reg *registry.Registry, sessions *session.Table, pipelines *pipeline.Manager, cat *catalog.Adapter, recSup *recorder.Supervisor, logger *log.Logger) *Broker {
	return &Broker{
		registry:    reg,
		sessions:    sessions,
		pipelines:   pipelines,
		catalog:     cat,
		recorderSup: recSup,
		recorders:   make(recorderIndex),
		peers:       registryPeerLookup{r: reg},
		logger:      logger,
		inbox:       make(chan Event, InboxCapacity),
	}
}

// Inbox is the send-only handle connection frontends post events into.
func (b *Broker) Inbox() chan<- Event { return b.inbox }

// Run drains the inbox until ctx is canceled. It is the broker's only
// goroutine; every store mutation happens here.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.inbox:
			b.handle(ev)
		}
	}
}

func (b *Broker) handle(ev Event) {
	switch e := ev.(type) {
	case PeerConnected:
		b.handleConnected(e)
	case Frame:
		b.handleFrame(e.PeerID, e.Data)
	case PeerDisconnected:
		b.handleDisconnected(e.PeerID)
	}
}

func (b *Broker) handleConnected(ev PeerConnected) {
	id := b.registry.Connect(ev.Outbox)
	ev.Reply <- id
	if err := b.registry.Send(id, protocol.Welcome{PeerID: id}); err != nil {
		b.logger.Printf("broker: welcome %s: %v", id, err)
	}
}

func (b *Broker) handleFrame(peerID protocol.PeerID, data []byte) {
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		b.logger.Printf("broker: decode from %s: %v", peerID, err)
		details := "malformed message"
		if errors.Is(err, protocol.ErrUnknownTag) {
			details = "unknown message"
		}
		if sendErr := b.registry.Send(peerID, protocol.ErrorOut{Details: details}); sendErr != nil {
			b.logger.Printf("broker: error reply to %s: %v", peerID, sendErr)
		}
		return
	}

	switch msg.Tag {
	case protocol.TagSetPeerStatus:
		b.handleSetPeerStatus(peerID, msg.SetPeerStatus)
	case protocol.TagStartSession:
		b.handleStartSession(peerID, msg.StartSession.PeerID)
	case protocol.TagEndSession:
		if err := b.sessions.End(b.registry, peerID, msg.EndSession.SessionID); err != nil {
			b.logger.Printf("broker: end session %s from %s: %v", msg.EndSession.SessionID, peerID, err)
		}
	case protocol.TagPeer:
		if err := b.sessions.Forward(b.registry, peerID, msg.Peer); err != nil {
			b.logger.Printf("broker: forward from %s: %v", peerID, err)
		}
	case protocol.TagPreview:
		b.handlePreview(peerID, msg.Preview.ID, msg.Preview.URL)
	case protocol.TagStopPreview:
		b.pipelines.Detach(msg.StopPreview.ID, peerID)
	case protocol.TagAddCamera:
		b.handleAddCamera(msg.Camera)
	case protocol.TagEditCamera:
		b.handleEditCamera(msg.Camera)
	case protocol.TagRemoveCamera:
		b.handleRemoveCamera(msg.Camera.ID)
	case protocol.TagListCameras:
		b.handleListCameras(peerID)
	}
}

func (b *Broker) handleSetPeerStatus(peerID protocol.PeerID, status protocol.PeerStatus) {
	change, err := b.registry.SetStatus(peerID, status)
	if err != nil {
		b.logger.Printf("broker: set_status %s: %v", peerID, err)
		return
	}

	if change.NotifyInit != "" {
		if err := b.registry.Send(change.NotifyInit, protocol.PeerStatusChanged{Status: change.New}); err != nil {
			b.logger.Printf("broker: notify init %s: %v", change.NotifyInit, err)
		}
		return
	}
	if change.BroadcastListeners {
		if camID, ok := protocol.RecorderCameraID(change.New.Meta); ok {
			b.recorders[camID] = peerID
		}
		for _, listener := range b.registry.Listening() {
			if err := b.registry.Send(listener, protocol.PeerStatusChanged{Status: change.New}); err != nil {
				b.logger.Printf("broker: broadcast status to %s: %v", listener, err)
			}
		}
	}
}

func (b *Broker) handleStartSession(consumerID, producerID protocol.PeerID) {
	if _, err := b.sessions.Start(b.peers, b.registry, producerID, consumerID); err != nil {
		b.logger.Printf("broker: start session producer=%s consumer=%s: %v", producerID, consumerID, err)
	}
}

func (b *Broker) handlePreview(viewerID protocol.PeerID, cameraID, url string) {
	if err := b.pipelines.Attach(b.registry, b.registry, cameraID, url, viewerID); err != nil {
		b.logger.Printf("broker: attach preview %s for %s: %v", cameraID, viewerID, err)
	}
}

func (b *Broker) handleAddCamera(cam protocol.Camera) {
	added, err := b.catalog.Add(cam.Name, cam.Location, cam.URL)
	if err != nil {
		b.logger.Printf("broker: add camera: %v", err)
		return
	}
	b.broadcastCameraList()
	if err := b.recorderSup.Start(added.ID, added.URL); err != nil {
		b.logger.Printf("broker: start recorder for %s: %v", added.ID, err)
	}
}

func (b *Broker) handleEditCamera(cam protocol.Camera) {
	if err := b.catalog.Edit(cam.ID, cam.Name, cam.Location, cam.URL); err != nil {
		b.logger.Printf("broker: edit camera %s: %v", cam.ID, err)
		return
	}
	b.broadcastCameraList()
	b.pipelines.DropCamera(cam.ID)
}

func (b *Broker) handleRemoveCamera(id string) {
	if err := b.catalog.Remove(id); err != nil {
		b.logger.Printf("broker: remove camera %s: %v", id, err)
		return
	}
	b.broadcastCameraList()
	b.pipelines.DropCamera(id)
	if err := b.recorderSup.Stop(b.recorders, b.registry, id); err != nil {
		b.logger.Printf("broker: stop recorder %s: %v", id, err)
	}
}

func (b *Broker) handleListCameras(peerID protocol.PeerID) {
	cams, err := b.catalog.List()
	if err != nil {
		b.logger.Printf("broker: list cameras for %s: %v", peerID, err)
		return
	}
	if err := b.registry.Send(peerID, protocol.ListCamerasOut{Cameras: cams}); err != nil {
		b.logger.Printf("broker: send camera list to %s: %v", peerID, err)
		return
	}
	for _, recPeerID := range b.recorders {
		entry, ok := b.registry.Get(recPeerID)
		if !ok {
			continue
		}
		if err := b.registry.Send(peerID, protocol.PeerStatusChanged{Status: entry.Status}); err != nil {
			b.logger.Printf("broker: send recorder status to %s: %v", peerID, err)
		}
	}
}

func (b *Broker) broadcastCameraList() {
	cams, err := b.catalog.List()
	if err != nil {
		b.logger.Printf("broker: broadcast camera list: %v", err)
		return
	}
	for _, listener := range b.registry.Listening() {
		if err := b.registry.Send(listener, protocol.ListCamerasOut{Cameras: cams}); err != nil {
			b.logger.Printf("broker: broadcast camera list to %s: %v", listener, err)
		}
	}
}

// handleDisconnected runs the ordered teardown cascade for a lost peer: drop
// it from any pipeline's viewer set, drop it from the recorder index,
// broadcast a "recorder gone" notice if it was recording, remove it from
// the registry, then collapse any sessions where it was either endpoint.
// Its status is peeked before any mutation so the "had recording" check
// sees the pre-removal state.
func (b *Broker) handleDisconnected(peerID protocol.PeerID) {
	entry, ok := b.registry.Get(peerID)
	if !ok {
		return
	}
	status := entry.Status

	b.pipelines.DropViewer(peerID)

	for camID, rec := range b.recorders {
		if rec == peerID {
			delete(b.recorders, camID)
		}
	}

	if status.Recording() {
		gone := registry.GoneStatus(status)
		for _, listener := range b.registry.Listening() {
			if listener == peerID {
				continue
			}
			if err := b.registry.Send(listener, protocol.PeerStatusChanged{Status: gone}); err != nil {
				b.logger.Printf("broker: broadcast recorder-gone to %s: %v", listener, err)
			}
		}
	}

	b.registry.Remove(peerID)
	b.sessions.CollapseProducer(b.registry, peerID)
	b.sessions.CollapseConsumer(b.registry, peerID)
}

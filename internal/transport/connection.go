// Package transport is the connection frontend: one goroutine pair per
// peer, owning the heartbeat, decoding inbound text frames into broker
// events, and writing broker outputs back out in enqueue order.
//
// The read/write pump pair is generalized from a per-room broadcast hub
// shape to post decoded frames onto the broker's single typed inbox
// instead of a room-scoped broadcast channel.
package transport

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetcam/broker/internal/broker"
	"github.com/fleetcam/broker/internal/protocol"
)

const (
	// PingInterval is how often the server sends a heartbeat ping.
	PingInterval = 5 * time.Second
	// PongWait is how long the server waits for a pong (or a peer ping)
	// before declaring the peer dead.
	PongWait = 10 * time.Second
	writeWait = 5 * time.Second
	// OutboundCapacity is the per-peer bounded outbound queue size.
	OutboundCapacity = 1024
)

// Upgrader is permissive by design: this broker does no authentication or
// authorization, so it accepts any origin rather than gating on one.
var Upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Connection is one peer's read/write pump pair plus its bounded outbound
// queue. It implements registry.Outbox.
type Connection struct {
	conn     *websocket.Conn
	outbound chan []byte
	peerID   protocol.PeerID
	logger   *log.Logger

	overrunOnce sync.Once
	overrun     chan struct{}
}

func newConnection(conn *websocket.Conn, logger *log.Logger) *Connection {
	return &Connection{
		conn:     conn,
		outbound: make(chan []byte, OutboundCapacity),
		logger:   logger,
		overrun:  make(chan struct{}),
	}
}

// Send encodes msg and enqueues it for this peer. A full queue is an
// overrun: the connection is torn down and the send fails rather than
// blocking or silently dropping the message.
func (c *Connection) Send(msg protocol.Outbound) error {
	data, err := protocol.EncodeOutbound(msg)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", msg.Tag(), err)
	}
	select {
	case c.outbound <- data:
		return nil
	default:
		c.overrunOnce.Do(func() { close(c.overrun) })
		return fmt.Errorf("transport: outbound queue overrun for peer %s", c.peerID)
	}
}

// ServeWS upgrades the request and runs the connection frontend until the
// peer disconnects, posting PeerConnected/Frame/PeerDisconnected events
// onto inbox.
func ServeWS(inbox chan<- broker.Event, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Printf("transport: upgrade: %v", err)
			return
		}
		c := newConnection(wsConn, logger)
		c.serve(inbox)
	}
}

func (c *Connection) serve(inbox chan<- broker.Event) {
	defer c.conn.Close()

	reply := make(chan protocol.PeerID, 1)
	inbox <- broker.PeerConnected{Outbox: c, Reply: reply}
	c.peerID = <-reply

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }

	c.conn.SetReadDeadline(time.Now().Add(PongWait))
	refresh := func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	}
	c.conn.SetPongHandler(refresh)
	// A peer-initiated ping counts as liveness too; gorilla still sends the
	// pong reply from its default handler, chained here.
	pingReply := c.conn.PingHandler()
	c.conn.SetPingHandler(func(appData string) error {
		_ = refresh(appData)
		return pingReply(appData)
	})

	go c.writePump(done)
	go func() {
		select {
		case <-c.overrun:
			// An overrun peer is disconnected, not throttled: closing the
			// socket unblocks readPump, which ends serve and triggers the
			// dispatcher's teardown cascade.
			closeDone()
			c.conn.Close()
		case <-done:
		}
	}()

	c.readPump(inbox, closeDone)
	closeDone()
	inbox <- broker.PeerDisconnected{PeerID: c.peerID}
}

func (c *Connection) readPump(inbox chan<- broker.Event, closeDone func()) {
	defer closeDone()
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			inbox <- broker.Frame{PeerID: c.peerID, Data: data}
		case websocket.BinaryMessage:
			if err := c.Send(protocol.ErrorOut{Details: "binary frames are not accepted"}); err != nil {
				c.logger.Printf("transport: reject binary from %s: %v", c.peerID, err)
				return
			}
		case websocket.CloseMessage:
			return
		}
	}
}

// writePump is the connection's only writer: gorilla/websocket permits at
// most one concurrent writer per connection, so the heartbeat ping is
// folded into this same select loop rather than ticking from a second
// goroutine.
func (c *Connection) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case data, ok := <-c.outbound:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Command recorder is a headless process that announces itself to the
// broker as a Recorder for one camera and exits cleanly when told to,
// reusing the signaling channel for its own shutdown. It retries the
// connection on any error rather than giving up.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetcam/broker/internal/protocol"
)

func main() {
	port := flag.Int("port", 8080, "broker port")
	cameraID := flag.String("id", "", "camera id this recorder represents")
	cameraURL := flag.String("camera-url", "", "rtsp uri for the camera feed")
	flag.Parse()

	if *cameraID == "" {
		fmt.Fprintln(os.Stderr, "recorder: --id is required")
		os.Exit(1)
	}
	_ = cameraURL // accepted on the command line but not used by this binary

	logger := log.New(os.Stderr, "recorder: ", log.LstdFlags)

	for {
		done, err := connectAndRun(*port, *cameraID, logger)
		if err != nil {
			logger.Printf("connection failed: %v; retrying in 1s", err)
			time.Sleep(time.Second)
			continue
		}
		if done {
			return
		}
	}
}

// connectAndRun dials the broker, announces as a recorder on Welcome, and
// returns (true, nil) once told to stop via EndSession{session_id==id}.
// Any transport error returns (false, err) so the caller retries.
func connectAndRun(port int, cameraID string, logger *log.Logger) (bool, error) {
	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false, fmt.Errorf("read: %w", err)
		}

		var envelope struct {
			Type      string `json:"type"`
			PeerID    string `json:"peer_id"`
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			logger.Printf("malformed frame from broker: %v", err)
			continue
		}

		switch envelope.Type {
		case "Welcome":
			if err := announce(conn, cameraID); err != nil {
				return false, fmt.Errorf("announce: %w", err)
			}
			logger.Printf("registered as recorder for camera %s", cameraID)
		case "EndSession":
			if envelope.SessionID == cameraID {
				logger.Printf("received stop signal for camera %s", cameraID)
				return true, nil
			}
		}
	}
}

func announce(conn *websocket.Conn, cameraID string) error {
	meta, err := json.Marshal(map[string]string{"id": cameraID})
	if err != nil {
		return err
	}
	status := protocol.PeerStatus{
		Roles: []protocol.PeerRole{protocol.RoleRecorder},
		Meta:  meta,
	}
	fields, err := json.Marshal(status)
	if err != nil {
		return err
	}
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(fields, &asMap); err != nil {
		return err
	}
	asMap["type"] = json.RawMessage(`"SetPeerStatus"`)
	frame, err := json.Marshal(asMap)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

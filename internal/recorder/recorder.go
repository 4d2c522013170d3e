// Package recorder supervises detached recorder processes: one per camera
// currently being persisted to durable storage. The broker spawns the
// child and never tracks its PID; the child re-identifies itself over the
// same signaling channel once it connects (SetPeerStatus{Recorder, meta.id}),
// and is told to drain and exit by reusing that same channel (EndSession),
// deliberately avoiding a second IPC mechanism.
package recorder

import (
	"fmt"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/fleetcam/broker/internal/protocol"
)

// Sender delivers a message to one peer, used for the stop signal.
type Sender interface {
	Send(id protocol.PeerID, msg protocol.Outbound) error
}

// RecorderIndex is the subset of state the supervisor needs to find which
// peer is currently recording a camera.
type RecorderIndex interface {
	PeerFor(cameraID string) (protocol.PeerID, bool)
}

// Supervisor spawns and signals detached recorder processes.
type Supervisor struct {
	binaryPath string
	brokerPort int
}

func NewSupervisor(binaryPath string, brokerPort int) *Supervisor {
	return &Supervisor{binaryPath: binaryPath, brokerPort: brokerPort}
}

// Start spawns a detached recorder process for cameraID. The child survives
// this process exiting: it's placed in its own process group and never
// waited on.
func (s *Supervisor) Start(cameraID, cameraURL string) error {
	cmd := exec.Command(s.binaryPath,
		"--port", strconv.Itoa(s.brokerPort),
		"--id", cameraID,
		"--camera-url", cameraURL,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("recorder: spawn %s for camera %s: %w", s.binaryPath, cameraID, err)
	}
	return nil
}

// Stop sends the signaling-channel shutdown command to cameraID's recorder
// peer, if one is currently registered. A camera with no registered
// recorder is a no-op; the caller decides whether that's notable.
func (s *Supervisor) Stop(index RecorderIndex, sender Sender, cameraID string) error {
	peerID, ok := index.PeerFor(cameraID)
	if !ok {
		return nil
	}
	return sender.Send(peerID, protocol.EndSessionOut{SessionID: protocol.SessionID(cameraID)})
}

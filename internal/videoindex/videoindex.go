// Package videoindex implements the read-only HTTP adjunct:
// GET /v1/videos?ctoken=<opaque>, listing persisted streams tagged "video"
// from the byte-stream controller.
//
// The byte-stream store's official client libraries are Rust/Java only, so
// StreamController's production implementation speaks the controller's
// minimal line-oriented TCP protocol directly against the standard library.
package videoindex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Stream is one persisted stream entry as returned to HTTP callers.
type Stream struct {
	Stream            string `json:"stream"`
	ContinuationToken string `json:"continuationToken"`
}

// StreamController lists streams tagged with a given tag within a scope, as
// of a continuation token. Implemented by TCPController in production and
// faked in tests.
type StreamController interface {
	ListStreamsForTag(ctx context.Context, scope, tag, ctoken string) ([]Stream, error)
}

// TCPController talks to the controller at Addr (default
// "127.0.0.1:9090") over a short-lived connection per request.
type TCPController struct {
	Addr string
}

func NewTCPController(addr string) *TCPController {
	if addr == "" {
		addr = "127.0.0.1:9090"
	}
	return &TCPController{Addr: addr}
}

// ListStreamsForTag opens one connection, issues a single line request, and
// reads newline-delimited "stream continuationToken" pairs terminated by a
// bare ".".
func (c *TCPController) ListStreamsForTag(ctx context.Context, scope, tag, ctoken string) ([]Stream, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("videoindex: dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	}

	if _, err := fmt.Fprintf(conn, "LIST-STREAMS-FOR-TAG %s %s %s\n", scope, tag, ctoken); err != nil {
		return nil, fmt.Errorf("videoindex: request: %w", err)
	}

	var streams []Stream
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "." {
			break
		}
		parts := strings.SplitN(line, " ", 2)
		stream := Stream{Stream: parts[0]}
		if len(parts) == 2 {
			stream.ContinuationToken = parts[1]
		}
		streams = append(streams, stream)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("videoindex: read response: %w", err)
	}
	return streams, nil
}

// Handler serves GET /v1/videos?ctoken=<opaque> within the fixed scope
// "examples" and tag "video".
func Handler(controller StreamController) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctoken := r.URL.Query().Get("ctoken")
		streams, err := controller.ListStreamsForTag(r.Context(), "examples", "video", ctoken)
		if err != nil {
			http.Error(w, "failed to list streams", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(streams); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
		}
	}
}

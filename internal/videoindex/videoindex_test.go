package videoindex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http/httptest"
	"testing"
)

type fakeController struct {
	streams []Stream
}

func (f *fakeController) ListStreamsForTag(ctx context.Context, scope, tag, ctoken string) ([]Stream, error) {
	return f.streams, nil
}

func TestHandlerReturnsStreams(t *testing.T) {
	fc := &fakeController{streams: []Stream{{Stream: "cam1", ContinuationToken: "tok1"}}}
	req := httptest.NewRequest("GET", "/v1/videos?ctoken=abc", nil)
	rec := httptest.NewRecorder()

	Handler(fc).ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []Stream
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Stream != "cam1" {
		t.Fatalf("got = %+v", got)
	}
}

func TestTCPControllerParsesResponse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		line, _ := reader.ReadString('\n')
		if line == "" {
			return
		}
		fmt.Fprintf(conn, "cam1 tok1\ncam2 tok2\n.\n")
	}()

	controller := NewTCPController(ln.Addr().String())
	streams, err := controller.ListStreamsForTag(context.Background(), "examples", "video", "")
	if err != nil {
		t.Fatalf("ListStreamsForTag: %v", err)
	}
	if len(streams) != 2 || streams[0].Stream != "cam1" || streams[1].ContinuationToken != "tok2" {
		t.Fatalf("streams = %+v", streams)
	}
}

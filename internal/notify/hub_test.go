package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func dialHub(t *testing.T, hub *Hub, userID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.HandleConnection(w, r, userID)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestEmitToUserDeliversEnvelope(t *testing.T) {
	hub := NewHub(zerolog.New(io.Discard))
	conn := dialHub(t, hub, "u1")

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount("u1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.EmitToUser("u1", EventProgress, ProgressEvent{GenerationID: "g1", Progress: 40, Message: "generating"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env struct {
		Event   string        `json:"event"`
		Payload ProgressEvent `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Event != EventProgress || env.Payload.GenerationID != "g1" || env.Payload.Progress != 40 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestEmitToOtherUserIsNotDelivered(t *testing.T) {
	hub := NewHub(zerolog.New(io.Discard))
	conn := dialHub(t, hub, "u1")

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount("u1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.EmitToUser("u2", EventFailed, FailedEvent{GenerationID: "g1", Error: "nope"})

	_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("message for another user must not be delivered")
	}
}

func TestEmitWithoutConnectionsIsNoop(t *testing.T) {
	hub := NewHub(zerolog.New(io.Discard))
	// Must not panic or block.
	hub.EmitToUser("nobody", EventCompleted, CompletedEvent{GenerationID: "g1"})
}

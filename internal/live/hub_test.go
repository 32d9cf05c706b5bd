package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"snapkeep/internal/upload"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("camera"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, cameraID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?camera=" + cameraID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForViewers(t *testing.T, hub *Hub, cameraID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ViewerCount(cameraID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d viewers for %s, got %d", want, cameraID, hub.ViewerCount(cameraID))
}

func TestHubDeliversEventsPerCamera(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := newTestServer(t, hub)

	cam1 := dial(t, srv, "cam1")
	cam2 := dial(t, srv, "cam2")
	waitForViewers(t, hub, "cam1", 1)
	waitForViewers(t, hub, "cam2", 1)

	hub.SnapshotStored(context.Background(), upload.Outcome{
		CameraID:  "cam1",
		Key:       "cam1/20260101_000000.jpg",
		SizeBytes: 42,
		StoredAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	_ = cam1.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := cam1.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	want := Event{Type: "snapshot", CameraID: "cam1", Key: "cam1/20260101_000000.jpg", Timestamp: "2026-01-01T00:00:00Z", SizeBytes: 42}
	if ev != want {
		t.Fatalf("event mismatch: got %+v want %+v", ev, want)
	}

	_ = cam2.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := cam2.ReadMessage(); err == nil {
		t.Fatal("cam2 viewer must not receive cam1 events")
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "cam1")
	waitForViewers(t, hub, "cam1", 1)

	_ = conn.Close()
	waitForViewers(t, hub, "cam1", 0)
}

func TestHubCloseDisconnectsViewers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := newTestServer(t, hub)

	conn := dial(t, srv, "cam1")
	waitForViewers(t, hub, "cam1", 1)

	hub.Close()
	if got := hub.ViewerCount("cam1"); got != 0 {
		t.Fatalf("expected no viewers after close, got %d", got)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed")
	}
}

func TestPublishWithoutViewersIsNoop(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Publish(Event{Type: "snapshot", CameraID: "nobody"})
	if hub.ViewerCount("nobody") != 0 {
		t.Fatal("expected no viewers")
	}
}

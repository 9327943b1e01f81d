package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.ServeWS(w, r, r.URL.Query().Get("room")); err != nil {
			t.Errorf("serve ws: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialRoom(t *testing.T, srv *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?room=" + url.QueryEscape(room)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", room, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, room string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount(room) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room %s has %d clients, want %d", room, hub.ClientCount(room), want)
}

func readWithin(t *testing.T, conn *websocket.Conn, d time.Duration) []byte {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(d))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestBroadcastReachesOnlyTheRoom(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, hub)

	first := dialRoom(t, srv, TeamRoom("t1"))
	second := dialRoom(t, srv, TeamRoom("t1"))
	other := dialRoom(t, srv, TeamRoom("t2"))
	waitForClients(t, hub, TeamRoom("t1"), 2)
	waitForClients(t, hub, TeamRoom("t2"), 1)

	hub.Broadcast(TeamRoom("t1"), []byte(`{"type":"team_update"}`))

	for _, conn := range []*websocket.Conn{first, second} {
		if got := string(readWithin(t, conn, 2*time.Second)); got != `{"type":"team_update"}` {
			t.Fatalf("unexpected payload %q", got)
		}
	}

	_ = other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatal("client in another room received the event")
	}
}

func TestDisconnectedClientLeavesTheRoom(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, hub)

	conn := dialRoom(t, srv, TeamRoom("t9"))
	waitForClients(t, hub, TeamRoom("t9"), 1)

	conn.Close()
	waitForClients(t, hub, TeamRoom("t9"), 0)

	// Broadcasting into the now-empty room must not panic.
	hub.Broadcast(TeamRoom("t9"), []byte("x"))
}

func TestBroadcastDoesNotBlockOnSlowClient(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, hub)

	// The client never reads, so once its send buffer and the socket fill
	// up, further events must be dropped rather than blocking the sender.
	dialRoom(t, srv, TeamRoom("t1"))
	waitForClients(t, hub, TeamRoom("t1"), 1)

	payload := []byte(strings.Repeat("x", 64*1024))
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			hub.Broadcast(TeamRoom("t1"), payload)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcast blocked on a slow client")
	}
}

func TestLocalNotifierDeliversThreadEvents(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, hub)
	n := NewNotifier(hub)

	conn := dialRoom(t, srv, ThreadRoom("th1"))
	waitForClients(t, hub, ThreadRoom("th1"), 1)

	n.NotifyThreadRoom("th1", ThreadEvent{AuthorUsername: "ada", Content: "ran the 5k, strava attached"})

	var got threadPayload
	if err := json.Unmarshal(readWithin(t, conn, 2*time.Second), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "thread_message" || got.ThreadID != "th1" {
		t.Fatalf("unexpected event %+v", got)
	}
	if got.AuthorUsername != "ada" || got.Content != "ran the 5k, strava attached" {
		t.Fatalf("unexpected event body %+v", got)
	}
}

func TestRedisNotifierFansOutThroughPubSub(t *testing.T) {
	s := miniredis.RunT(t)
	hub := NewHub()
	srv := newTestServer(t, hub)

	n, err := NewRedisNotifier(hub, "redis://"+s.Addr())
	if err != nil {
		t.Fatalf("NewRedisNotifier: %v", err)
	}
	defer n.Close()

	conn := dialRoom(t, srv, TeamRoom("t1"))
	waitForClients(t, hub, TeamRoom("t1"), 1)

	n.NotifyTeamRoom("t1")

	var got teamPayload
	if err := json.Unmarshal(readWithin(t, conn, 2*time.Second), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "team_update" || got.TeamID != "t1" {
		t.Fatalf("unexpected event %+v", got)
	}
}

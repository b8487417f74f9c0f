package api_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mailaudit/mailaudit/internal/hub"
	"github.com/mailaudit/mailaudit/internal/model"
)

func dialEvents(t *testing.T, ts *testServer, user string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/v1/events"
	header := http.Header{}
	if user != "" {
		header.Set("X-User-ID", user)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		if resp != nil {
			t.Fatalf("dial events: %v (status %d)", err, resp.StatusCode)
		}
		t.Fatalf("dial events: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn, want hub.EventType) hub.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		var ev hub.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if ev.Type == want {
			return ev
		}
	}
	t.Fatalf("no %q event before deadline", want)
	return hub.Event{}
}

func TestEventsRequirePrincipal(t *testing.T) {
	ts := newTestServer(t, &fakeProber{}, wideOpen())

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/v1/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without principal succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 handshake rejection, got %+v", resp)
	}
}

func TestEventsStreamOwnRuns(t *testing.T) {
	p := &fakeProber{delay: 20 * time.Millisecond, result: dkimResult("example.com")}
	ts := newTestServer(t, p, wideOpen())
	d := ts.createDomain(t, "alice", "example.com")

	conn := dialEvents(t, ts, "alice")

	var run model.Run
	resp := ts.do(t, http.MethodPost, "/v1/runs", "alice",
		map[string]string{"domain_id": d.ID, "kind": "dkim"}, &run)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start run: status %d", resp.StatusCode)
	}

	started := readEvent(t, conn, hub.EventStarted)
	if started.Run == nil || started.Run.ID != run.ID {
		t.Errorf("started event run = %+v", started.Run)
	}

	completed := readEvent(t, conn, hub.EventCompleted)
	if completed.Run == nil || completed.Run.Score == nil {
		t.Errorf("completed event run = %+v", completed.Run)
	}
}

func TestEventsWatchRunChannel(t *testing.T) {
	p := &fakeProber{delay: 300 * time.Millisecond, result: dkimResult("example.com")}
	ts := newTestServer(t, p, wideOpen())
	d := ts.createDomain(t, "alice", "example.com")

	var run model.Run
	ts.do(t, http.MethodPost, "/v1/runs", "alice",
		map[string]string{"domain_id": d.ID, "kind": "dkim"}, &run)

	// Alice's own session watches via the run channel explicitly; the dedup
	// guarantee means each event still arrives once. The control frame must
	// land before the run completes, hence the long prober delay.
	conn := dialEvents(t, ts, "alice")
	if err := conn.WriteMessage(websocket.TextMessage, []byte("subscribe "+run.ID)); err != nil {
		t.Fatalf("subscribe frame: %v", err)
	}

	completed := readEvent(t, conn, hub.EventCompleted)
	if completed.Run == nil || completed.Run.ID != run.ID {
		t.Errorf("completed event run = %+v", completed.Run)
	}
}

func TestEventsDomainChanged(t *testing.T) {
	ts := newTestServer(t, &fakeProber{}, wideOpen())

	conn := dialEvents(t, ts, "alice")
	d := ts.createDomain(t, "alice", "example.com")

	ev := readEvent(t, conn, hub.EventDomainChanged)
	if ev.Domain == nil || ev.Domain.ID != d.ID {
		t.Errorf("domain_changed event = %+v", ev.Domain)
	}
}

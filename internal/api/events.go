package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mailaudit/mailaudit/internal/hub"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Auth is the X-User-ID principal; cross-origin pages may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents upgrades the connection and streams lifecycle events for the
// calling user. Clients may send "subscribe <run-id>" and
// "unsubscribe <run-id>" text frames to follow runs they own.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	owner := principal(r)

	// Subscribe before the handshake completes so events emitted right after
	// the client's dial returns are not missed.
	sub := s.hub.Subscribe(owner)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		s.logger.Error("websocket upgrade", "error", err)
		return
	}

	liveSessions.Inc()
	s.logger.Info("event session opened", "owner", owner)

	done := make(chan struct{})
	go s.writePump(conn, sub, done)
	s.readPump(r, conn, sub)

	sub.Close()
	<-done
	conn.Close()
	liveSessions.Dec()
	s.logger.Info("event session closed", "owner", owner)
}

// readPump consumes client control frames until the connection drops.
func (s *Server) readPump(r *http.Request, conn *websocket.Conn, sub *hub.Subscription) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}

		verb, runID, ok := strings.Cut(strings.TrimSpace(string(msg)), " ")
		if !ok || runID == "" {
			continue
		}

		switch verb {
		case "subscribe":
			// Only runs visible to the caller may be watched.
			if _, err := s.engine.GetRun(r.Context(), principal(r), runID); err != nil {
				continue
			}
			sub.Watch(runID)
		case "unsubscribe":
			sub.Unwatch(runID)
		}
	}
}

// writePump pushes hub events and keepalive pings until the subscription is
// closed or a write fails.
func (s *Server) writePump(conn *websocket.Conn, sub *hub.Subscription, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

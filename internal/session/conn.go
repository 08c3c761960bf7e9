package session

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ServeHTTP upgrades the request to a WebSocket and runs the session until the
// client disconnects, misses a pong, or the manager shuts down.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	s := m.Open(r.RemoteAddr)
	go m.writePump(ws, s)
	m.readPump(ws, s)
}

func (m *Manager) readPump(ws *websocket.Conn, s *Session) {
	defer func() {
		m.Close(s.id)
		_ = ws.Close()
	}()

	// Any inbound frame or pong proves liveness.
	deadline := m.cfg.PingInterval + m.cfg.PongGrace
	ws.SetReadLimit(m.cfg.MaxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(deadline))
		m.Handle(s, raw)
	}
}

func (m *Manager) writePump(ws *websocket.Conn, s *Session) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case b := <-s.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
				s.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(m.cfg.WriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("ping failed", "error", err)
				return
			}

		case <-s.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(m.cfg.WriteWait))
			return
		}
	}
}

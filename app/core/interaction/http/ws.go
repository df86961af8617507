package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"taskpilot/app/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from arbitrary origins; identity comes
	// from the trusted user header, not the origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsChannel adapts one websocket connection to the broadcaster's
// Channel interface. Writes are serialized because the ping loop and
// the broadcaster both write.
type wsChannel struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsChannel) Close() error {
	return c.conn.Close()
}

func (c *wsChannel) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// handleWebSocket upgrades the request and registers the connection
// with the broadcaster until the peer goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[HTTP] WebSocket upgrade failed user=%s: %v", userID, err)
		return
	}
	ch := &wsChannel{conn: conn}
	s.caster.Connect(userID, ch)

	done := make(chan struct{})
	go s.wsPingLoop(ch, done)

	// The read loop notices disconnects, services pong control frames,
	// and answers application-level "ping" text frames so browser
	// clients without control-frame access can keep the channel warm.
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if string(payload) == "ping" {
			if err := ch.Send([]byte("pong")); err != nil {
				break
			}
		}
	}

	close(done)
	s.caster.Disconnect(userID, ch)
	_ = conn.Close()
	logger.Info("[HTTP] WebSocket closed user=%s remaining=%d", userID, s.caster.ConnectionCount(userID))
}

func (s *Server) wsPingLoop(ch *wsChannel, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ch.ping(); err != nil {
				return
			}
		}
	}
}

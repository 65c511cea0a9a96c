// File: server/conn.go
package server

import (
	"encoding/json"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/phalanx-mp/phalanx/match"
)

// wsConn adapts a websocket connection to the match layer's ClientConn. The
// mutex serialises writes: the match actor and the connection handler both
// write to the same socket.
type wsConn struct {
	mu   sync.Mutex
	ws   *websocket.Conn
	addr string
}

func newWSConn(ws *websocket.Conn) *wsConn {
	addr := "unknown"
	if ws.Request() != nil {
		addr = ws.Request().RemoteAddr
	}
	return &wsConn{ws: ws, addr: addr}
}

// SendEvent writes one enveloped event to the client.
func (c *wsConn) SendEvent(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.JSON.Send(c.ws, match.Envelope{Event: event, Data: data})
}

// Close tears the underlying websocket down.
func (c *wsConn) Close() error {
	return c.ws.Close()
}

// RemoteAddr describes the peer for logs.
func (c *wsConn) RemoteAddr() string {
	return c.addr
}

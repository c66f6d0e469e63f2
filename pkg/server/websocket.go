package server

import (
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from arbitrary origins; the protocol has
		// its own authentication.
		return true
	},
}

// HandleWebSocket upgrades an HTTP request and runs the standard session
// path over the WebSocket connection. Each text message is one protocol
// line; the adapter below makes the connection look like a net.Conn so the
// session loop, worker pool, and presence machinery are shared unchanged.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debugLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	debugLog.Printf("WebSocket connection from %s", ws.RemoteAddr())
	s.wg.Add(1)
	go s.dispatch(newWSConn(ws))
}

// wsConn adapts a websocket connection to net.Conn for the line-based
// session loop. Reads return message payloads with a newline appended when
// the sender omitted one; writes forward whole lines as text messages.
type wsConn struct {
	ws  *websocket.Conn
	buf []byte
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	if len(c.buf) == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		if len(data) == 0 || data[len(data)-1] != '\n' {
			data = append(data, '\n')
		}
		c.buf = data
	}

	n := copy(p, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}

func (c *wsConn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.ws.RemoteAddr()
}

func (c *wsConn) SetDeadline(t time.Time) error {
	if err := c.ws.SetReadDeadline(t); err != nil {
		return err
	}
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

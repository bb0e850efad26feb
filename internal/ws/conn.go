package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fastql/server/internal/infrastructure/monitoring"
)

// conn adapts a websocket to session.Client. gorilla allows one concurrent
// writer, so every write goes through writeMu.
type conn struct {
	ws      *websocket.Conn
	metrics *monitoring.Metrics

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, metrics *monitoring.Metrics) *conn {
	return &conn{ws: ws, metrics: metrics}
}

// Output sends process output and notices as one binary frame.
func (c *conn) Output(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return err
	}
	c.metrics.RecordWSMessage("out", "binary")
	return nil
}

func (c *conn) writeEvent(msg serverMessage) error {
	data, err := encodeServerMessage(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.metrics.RecordWSMessage("out", "text")
	return nil
}

func (c *conn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a normal close frame and closes the socket.
func (c *conn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "session ended")
}

func (c *conn) closeWith(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

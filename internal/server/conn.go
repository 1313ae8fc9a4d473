package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// maxMessageBytes bounds a single client message. 20 ms of base64 audio is
// well under 1 KiB; this leaves room for clients that batch.
const maxMessageBytes = 1 << 20

// wsClient adapts a server-side websocket to session.Client.
type wsClient struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newWSClient(conn *websocket.Conn, writeTimeout time.Duration) *wsClient {
	conn.SetReadLimit(maxMessageBytes)
	return &wsClient{conn: conn, writeTimeout: writeTimeout}
}

// ReadMessage returns the next text message. Binary and control frames are
// skipped.
func (c *wsClient) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsClient) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *wsClient) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

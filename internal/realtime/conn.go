package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cierrateam/avr-sts-openai/pkg/version"
)

// DefaultURL is the realtime endpoint used when none is configured.
const DefaultURL = "wss://api.openai.com/v1/realtime"

// ErrNotConnected is returned when sending on a closed connection.
var ErrNotConnected = errors.New("realtime: not connected")

// DialConfig describes how to reach the backend.
type DialConfig struct {
	URL              string
	APIKey           string
	Model            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Backend is the session's view of a backend connection.
type Backend interface {
	Send(ctx context.Context, event any) error
	ReadEvent() (*ServerEvent, error)
	Close() error
}

// Conn is a websocket connection to the realtime backend. Sends are
// serialized; ReadEvent must only be called from one goroutine.
type Conn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// Dial opens a backend connection.
func Dial(ctx context.Context, cfg DialConfig, logger *slog.Logger) (*Conn, error) {
	raw := cfg.URL
	if raw == "" {
		raw = DefaultURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if cfg.Model != "" {
		q := u.Query()
		q.Set("model", cfg.Model)
		u.RawQuery = q.Encode()
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")
	header.Set("User-Agent", version.UserAgent())

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.HandshakeTimeout
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	logger.Debug("Connecting to realtime backend", slog.String("url", u.Redacted()))

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	logger.Info("Realtime backend connected", slog.String("model", cfg.Model))
	return &Conn{conn: conn, writeTimeout: cfg.WriteTimeout, logger: logger}, nil
}

// Send writes event as a JSON text message.
func (c *Conn) Send(ctx context.Context, event any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if c.writeTimeout > 0 {
		if t := time.Now().Add(c.writeTimeout); deadline.IsZero() || t.Before(deadline) {
			deadline = t
		}
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	if err := c.conn.WriteJSON(event); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// ReadEvent blocks for the next server event. Non-text frames are skipped.
func (c *Conn) ReadEvent() (*ServerEvent, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		ev, err := ParseServerEvent(data)
		if err != nil {
			c.logger.Warn("Discarding malformed backend event", slog.Any("error", err))
			continue
		}
		return ev, nil
	}
}

// Close sends a close frame and releases the connection. Safe to call more
// than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.mu.Unlock()

		c.logger.Info("Closing realtime connection")
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

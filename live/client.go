package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// DefaultEndpoint is the bidirectional streaming endpoint.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

// ErrSessionClosed is returned when sending on a closed session.
var ErrSessionClosed = errors.New("live: session closed")

// SessionConfig describes one streaming session.
type SessionConfig struct {
	APIKey            string
	Model             string
	SystemInstruction string
	Endpoint          string // default DefaultEndpoint
}

// Conn is the transport for one live session: JSON messages out, server
// events in. Messages is closed when the read side ends; Err then reports
// the terminating error, if any.
type Conn interface {
	Send(ctx context.Context, v any) error
	Messages() <-chan ServerMessage
	Err() error
	Close() error
}

// Dialer establishes a Conn for a session. Swappable for tests.
type Dialer func(ctx context.Context, cfg SessionConfig) (Conn, error)

// Client is the WebSocket implementation of Conn.
type Client struct {
	conn *websocket.Conn
	msgs chan ServerMessage

	writeMu sync.Mutex
	closed  bool

	errMu   sync.Mutex
	readErr error
}

// Dial connects, sends the session setup message, and starts the read loop.
// The session is not ready for audio until a SetupComplete event arrives.
func Dial(ctx context.Context, cfg SessionConfig) (Conn, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u := endpoint + "?key=" + url.QueryEscape(cfg.APIKey)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial live session (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial live session: %w", err)
	}

	c := &Client{
		conn: conn,
		msgs: make(chan ServerMessage, 32),
	}

	setup := setupMessage{
		Setup: setupPayload{
			Model: cfg.Model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
			},
		},
	}
	if cfg.SystemInstruction != "" {
		setup.Setup.SystemInstruction = &content{
			Parts: []part{{Text: cfg.SystemInstruction}},
		}
	}
	if err := c.Send(ctx, setup); err != nil {
		c.Close()
		return nil, fmt.Errorf("send session setup: %w", err)
	}

	go c.readLoop()
	return c, nil
}

// Send writes one JSON message. Sends after Close return ErrSessionClosed.
func (c *Client) Send(ctx context.Context, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return ErrSessionClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}
	return c.conn.WriteJSON(v)
}

// Messages returns the inbound event channel, closed when the read loop ends.
func (c *Client) Messages() <-chan ServerMessage {
	return c.msgs
}

// Err reports what terminated the read loop. A normal closure (local Close
// or a clean server goodbye) reports nil.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.readErr
}

// Close shuts the connection down. Closing an already-closed session is a
// no-op rather than an error.
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	// Best effort; the server may already be gone.
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.msgs)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.setReadErr(err)
			return
		}

		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Error("unmarshal server event", "error", err, "data", string(data))
			continue
		}
		c.msgs <- msg
	}
}

func (c *Client) setReadErr(err error) {
	c.writeMu.Lock()
	wasClosed := c.closed
	c.writeMu.Unlock()

	if wasClosed || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return
	}

	c.errMu.Lock()
	c.readErr = err
	c.errMu.Unlock()
}

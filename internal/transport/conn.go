package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DialFunc opens a connection to a gateway URL. The gateway package takes
// one of these so tests can substitute a scripted transport.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Conn is a single open connection to the gateway.
type Conn interface {
	// Events returns the inbound event stream. Implementations emit
	// EventMessage entries until the connection dies, then exactly one
	// EventClosed, then close the channel.
	Events() <-chan Event

	// Send writes one text frame.
	Send(data []byte) error

	// Close tears the connection down with the given close code.
	// Safe to call more than once.
	Close(code int) error
}

// conn implements Conn over gorilla/websocket.
type conn struct {
	cfg Config
	ws  *websocket.Conn

	// Output channel
	events chan Event

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.Mutex
	closed    bool
	localCode int // code passed to Close, 0 if the peer closed first
}

// Dial opens a WebSocket connection to url with default settings.
func Dial(ctx context.Context, url string) (Conn, error) {
	return DialConfig(ctx, url, DefaultConfig())
}

// DialConfig opens a WebSocket connection to url.
func DialConfig(ctx context.Context, url string, cfg Config) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, err
	}

	c := &conn{
		cfg:    cfg,
		ws:     ws,
		events: make(chan Event, cfg.BufferSize),
	}

	go c.readLoop()

	return c, nil
}

// Events returns the event channel.
func (c *conn) Events() <-chan Event {
	return c.events
}

// Send writes one text frame to the connection.
func (c *conn) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close tears the connection down with the given close code. The code is
// recorded first so the read loop reports it on the terminal event instead
// of the generic local-close error.
func (c *conn) Close(code int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.localCode = code
	c.mu.Unlock()

	// Tell the peer why we are leaving. WriteControl is safe concurrently
	// with in-flight writes.
	c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(time.Second),
	)
	return c.ws.Close()
}

// readLoop pumps inbound frames into the event stream until the socket
// dies, then emits the terminal close event.
func (c *conn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			c.events <- Event{
				Kind: EventClosed,
				Code: c.closeCode(err),
				Err:  err,
			}
			return
		}

		c.events <- Event{
			Kind:       EventMessage,
			Data:       data,
			ReceivedAt: receivedAt,
		}
	}
}

// closeCode resolves the code for a dead socket: a locally requested code
// wins, then the peer's close frame, then abnormal closure.
func (c *conn) closeCode(err error) int {
	c.mu.Lock()
	local := c.localCode
	closedLocally := c.closed
	c.mu.Unlock()

	if closedLocally && local != 0 {
		return local
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return websocket.CloseAbnormalClosure
}

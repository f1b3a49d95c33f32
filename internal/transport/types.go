package transport

import (
	"errors"
	"time"
)

// Errors
var (
	ErrClosed = errors.New("transport closed")
)

// EventKind tags an entry in a connection's event stream.
type EventKind int

const (
	// EventMessage carries one inbound frame.
	EventMessage EventKind = iota
	// EventClosed is the terminal entry: the connection is gone and no
	// further events follow.
	EventClosed
)

// Event is one entry in the stream a Conn produces. Inbound frames and the
// connection's death arrive as a single consumed sequence, so the consumer
// never races a message against a close notification.
type Event struct {
	Kind       EventKind
	Data       []byte    // Raw frame bytes (EventMessage)
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
	Code       int       // Close code (EventClosed)
	Err        error     // Read error that surfaced the close, if any
}

// Config configures a WebSocket connection.
type Config struct {
	HandshakeTimeout time.Duration // Timeout for the opening handshake
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Event channel buffer size
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       512,
	}
}

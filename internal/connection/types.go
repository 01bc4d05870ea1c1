package connection

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected   = errors.New("not connected")
	ErrTimeout        = errors.New("operation timeout")
	ErrConnectionLost = errors.New("connection lost")
)

// LostError reports an unexpected end of a connection.
type LostError struct {
	Reason string    // Human-readable reason
	At     time.Time // When the read loop observed the failure
	Err    error     // Underlying read error, if any
}

func (e *LostError) Error() string {
	return fmt.Sprintf("connection lost: %s", e.Reason)
}

func (e *LostError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConnectionLost}
	}
	return []error{ErrConnectionLost, e.Err}
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL               string        // WebSocket URL including app_id (e.g., wss://ws.derivws.com/websockets/v3?app_id=1089)
	HandshakeTimeout  time.Duration // Dial handshake timeout
	WriteTimeout      time.Duration // Write deadline for sends
	KeepaliveInterval time.Duration // Interval between liveness frames
	BufferSize        int           // Inbound message channel buffer size
	SendRate          float64       // Max outbound frames per second (0 = unlimited)
	SendBurst         int           // Token bucket burst for SendRate
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		KeepaliveInterval: 30 * time.Second,
		BufferSize:        1000,
		SendRate:          0,
		SendBurst:         1,
	}
}

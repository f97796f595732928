package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ErrMalformedMessage marks a frame that arrived intact but is not a valid envelope.
var ErrMalformedMessage = errors.New("malformed message")

// Conn serializes writes to a gorilla connection, which allows only one
// concurrent writer. Autosave notifications and replies share it.
type Conn struct {
	ws         *websocket.Conn
	readExpiry time.Duration

	mu sync.Mutex
}

// NewConn wraps ws. readExpiry bounds the idle time between client messages.
func NewConn(ws *websocket.Conn, readExpiry time.Duration) *Conn {
	if readExpiry <= 0 {
		readExpiry = 5 * time.Minute
	}
	return &Conn{ws: ws, readExpiry: readExpiry}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (c *Conn) WriteTyped(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (c *Conn) WriteError(code, errMsg string, fields map[string]string) error {
	return c.WriteTyped(ErrorResponse{
		Event:  EventError,
		Code:   code,
		Error:  errMsg,
		Fields: fields,
	})
}

// ReadEnvelope reads one message and peeks at its action. The raw bytes are
// returned for decoding into the action's request type.
func (c *Conn) ReadEnvelope() (Action, []byte, error) {
	c.ws.SetReadDeadline(time.Now().Add(c.readExpiry))
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return "", nil, err
	}

	var env RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", raw, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return env.Action, raw, nil
}

package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second

	// ReadWait is how long a connection may stay silent. Clients ping well
	// inside it.
	ReadWait = 2 * time.Minute

	// MaxMessageSize caps a single client frame.
	MaxMessageSize = 8 << 10
)

// ErrMalformed marks a frame that arrived intact but is not a valid request.
// The connection stays usable.
var ErrMalformed = errors.New("malformed websocket request")

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, code, message string) error {
	return WriteTyped(conn, ErrorResponse{
		Event:   EventError,
		Code:    code,
		Message: message,
	})
}

// ReadRequest reads one frame and returns its action with the raw body for
// the action-specific decode.
func ReadRequest(conn *websocket.Conn) (Action, json.RawMessage, error) {
	conn.SetReadDeadline(time.Now().Add(ReadWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", nil, err
	}

	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", data, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.Action, data, nil
}

// Close sends a close frame with code and reason before the caller drops
// the connection.
func Close(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

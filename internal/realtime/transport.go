package realtime

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Transport.ReadMessage when the peer closed cleanly.
var ErrClosed = errors.New("transport closed")

// Transport is the wire under a Connection. WriteMessage must give up once deadline passes.
type Transport interface {
	WriteMessage(data []byte, deadline time.Time) error
	ReadMessage() ([]byte, error)
	Close() error
}

type wsTransport struct {
	conn *websocket.Conn
}

// NewWebSocketTransport adapts a gorilla connection. readLimit caps inbound frames.
func NewWebSocketTransport(conn *websocket.Conn, readLimit int64) Transport {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &wsTransport{conn: conn}
}

func (t *wsTransport) WriteMessage(data []byte, deadline time.Time) error {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
				errors.Is(err, io.EOF) {
				return nil, ErrClosed
			}
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return t.conn.Close()
}

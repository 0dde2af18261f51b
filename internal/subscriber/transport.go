package subscriber

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"SignalRelay/internal/domain/models"
	xhttp "SignalRelay/pkg/http"

	"github.com/gorilla/websocket"
)

// Conn is one live link to the relay.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Querier fetches recent signals for catch-up after a reconnect.
type Querier interface {
	Recent(ctx context.Context, limit int) ([]*models.Signal, error)
}

const wsWriteTimeout = 10 * time.Second

// WSDialer dials the relay over WebSocket.
type WSDialer struct {
	dialer *websocket.Dialer
}

func NewWSDialer(handshakeTimeout time.Duration) *WSDialer {
	d := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		d.HandshakeTimeout = handshakeTimeout
	}
	return &WSDialer{dialer: &d}
}

func (d *WSDialer) Dial(ctx context.Context, u string) (Conn, error) {
	ws, _, err := d.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}

// HTTPQuerier reads GET {base}/signals from the relay API.
type HTTPQuerier struct {
	client *xhttp.Client
	base   string
}

func NewHTTPQuerier(client *xhttp.Client, apiURL string) *HTTPQuerier {
	return &HTTPQuerier{client: client, base: strings.TrimRight(apiURL, "/")}
}

func (q *HTTPQuerier) Recent(ctx context.Context, limit int) ([]*models.Signal, error) {
	var resp models.SignalListResponse
	err := q.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         q.base + "/signals",
		QueryParams: url.Values{"limit": {strconv.Itoa(limit)}},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("catch-up query: %w", err)
	}
	return resp.Signals, nil
}

package realtime

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"SignalRelay/internal/domain/models"

	"github.com/google/uuid"
)

// Connection is one subscriber. It is either live or dead; once dead it never sends again.
type Connection struct {
	id          string
	transport   Transport
	remote      string
	connectedAt time.Time

	dead      atomic.Bool
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func NewConnection(t Transport, remote string, connectedAt time.Time) *Connection {
	return &Connection{
		id:          uuid.NewString(),
		transport:   t,
		remote:      remote,
		connectedAt: connectedAt,
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) Remote() string { return c.remote }

func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

func (c *Connection) Alive() bool { return !c.dead.Load() }

// Send writes one frame. A failed write marks the connection dead.
func (c *Connection) Send(data []byte, deadline time.Time) error {
	if c.dead.Load() {
		return fmt.Errorf("%w: connection %s is dead", models.ErrSend, c.id)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.transport.WriteMessage(data, deadline); err != nil {
		c.dead.Store(true)
		return fmt.Errorf("%w: connection %s: %v", models.ErrSend, c.id, err)
	}
	return nil
}

// Close marks the connection dead and closes the transport once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.dead.Store(true)
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}

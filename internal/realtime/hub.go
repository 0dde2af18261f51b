package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"SignalRelay/internal/domain/models"
	domrepo "SignalRelay/internal/domain/repository"
	"SignalRelay/pkg/logger"
	"SignalRelay/pkg/metrics"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// ErrHubClosed is returned by Register after Close.
var ErrHubClosed = errors.New("hub closed")

const (
	defaultSendTimeout = 5 * time.Second
	defaultMaxParallel = 64
	defaultWelcome     = "Connected to signal relay"
)

// Hub owns the live subscriber set and fans signals out to it.
//
// Broadcasts are serialized so every connection sees signals in broadcast order.
// Register and Unregister may run while a broadcast is in flight; the broadcast works on a
// snapshot taken when it starts.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	closed bool

	dispatchMu sync.Mutex

	sendTimeout time.Duration
	maxParallel int
	welcome     string
	clock       clockwork.Clock
	logger      *logger.Logger
	metrics     domrepo.Metrics
	startedAt   time.Time
}

type HubOption func(*Hub)

// WithSendTimeout bounds each individual send.
func WithSendTimeout(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.sendTimeout = d
		}
	}
}

// WithMaxParallelSends caps concurrent sends within one broadcast.
func WithMaxParallelSends(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.maxParallel = n
		}
	}
}

func WithWelcomeMessage(msg string) HubOption {
	return func(h *Hub) {
		if msg != "" {
			h.welcome = msg
		}
	}
}

func WithClock(c clockwork.Clock) HubOption {
	return func(h *Hub) {
		h.clock = c
	}
}

func WithMetrics(m domrepo.Metrics) HubOption {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

func NewHub(l *logger.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		conns:       make(map[string]*Connection),
		sendTimeout: defaultSendTimeout,
		maxParallel: defaultMaxParallel,
		welcome:     defaultWelcome,
		clock:       clockwork.NewRealClock(),
		logger:      l,
		metrics:     metrics.Nop{},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.NewNop()
	}
	h.startedAt = h.clock.Now()
	return h
}

// Register sends the connection acknowledgement and then adds c to the live set.
// If the acknowledgement cannot be delivered c is closed and never joins.
func (h *Hub) Register(c *Connection) error {
	now := h.clock.Now()
	ack, err := json.Marshal(models.NewConnectionMessage(h.welcome, now))
	if err != nil {
		return fmt.Errorf("encode ack: %w", err)
	}

	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		_ = c.Close()
		return ErrHubClosed
	}

	if err := c.Send(ack, now.Add(h.sendTimeout)); err != nil {
		_ = c.Close()
		h.metrics.RecordError("send")
		return fmt.Errorf("register %s: %w", c.ID(), err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = c.Close()
		return ErrHubClosed
	}
	h.conns[c.ID()] = c
	n := len(h.conns)
	h.mu.Unlock()

	h.metrics.RecordConnections(n)
	h.logger.Info("subscriber registered",
		logger.String("conn", c.ID()),
		logger.String("remote", c.Remote()),
		logger.Int("clients", n))
	return nil
}

// Unregister removes c and closes it. It reports whether c was a member; repeated calls
// are no-ops.
func (h *Hub) Unregister(c *Connection) bool {
	h.mu.Lock()
	_, ok := h.conns[c.ID()]
	if ok {
		delete(h.conns, c.ID())
	}
	n := len(h.conns)
	h.mu.Unlock()

	_ = c.Close()
	if !ok {
		return false
	}

	h.metrics.RecordConnections(n)
	h.logger.Info("subscriber unregistered",
		logger.String("conn", c.ID()),
		logger.Int("clients", n))
	return true
}

// Broadcast sends s to every live connection and returns how many sends succeeded.
// A failed send removes that connection; the others still receive s.
func (h *Hub) Broadcast(ctx context.Context, s *models.Signal) int {
	start := h.clock.Now()
	data, err := json.Marshal(models.NewSignalMessage(s))
	if err != nil {
		h.logger.Error("encode signal frame", logger.Int64("signal_id", s.ID), logger.Error(err))
		h.metrics.RecordError("encode")
		return 0
	}

	h.dispatchMu.Lock()
	defer h.dispatchMu.Unlock()

	targets := h.snapshot()
	if len(targets) == 0 {
		return 0
	}

	deadline := h.clock.Now().Add(h.sendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	var (
		delivered atomic.Int64
		failedMu  sync.Mutex
		failed    []*Connection
	)

	g := new(errgroup.Group)
	g.SetLimit(h.maxParallel)
	for _, c := range targets {
		c := c
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := c.Send(data, deadline); err != nil {
				h.logger.Warn("broadcast send failed",
					logger.String("conn", c.ID()),
					logger.Int64("signal_id", s.ID),
					logger.Error(err))
				failedMu.Lock()
				failed = append(failed, c)
				failedMu.Unlock()
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range failed {
		h.Unregister(c)
	}

	n := int(delivered.Load())
	h.metrics.RecordBroadcast(n, len(failed))
	h.metrics.RecordLatency("broadcast", h.clock.Since(start).Seconds())
	h.logger.Debug("broadcast done",
		logger.Int64("signal_id", s.ID),
		logger.Int("delivered", n),
		logger.Int("failed", len(failed)))
	return n
}

// Handle dispatches one socket event for c.
func (h *Hub) Handle(c *Connection, ev Event) {
	switch ev.Kind {
	case EventOpen:
		h.logger.Debug("subscriber open", logger.String("conn", c.ID()))
	case EventMessage:
		h.handleMessage(c, ev.Payload)
	case EventClose:
		h.Unregister(c)
	case EventError:
		h.logger.Warn("subscriber transport error", logger.String("conn", c.ID()), logger.Error(ev.Err))
		h.Unregister(c)
	}
}

func (h *Hub) handleMessage(c *Connection, payload []byte) {
	var in models.InboundMessage
	if err := json.Unmarshal(payload, &in); err != nil {
		h.logger.Debug("ignoring malformed frame", logger.String("conn", c.ID()), logger.Error(err))
		return
	}

	switch in.Type {
	case models.MessagePing:
		now := h.clock.Now()
		pong, _ := json.Marshal(models.NewPongMessage(now))
		if err := c.Send(pong, now.Add(h.sendTimeout)); err != nil {
			h.logger.Warn("pong send failed", logger.String("conn", c.ID()), logger.Error(err))
			h.Unregister(c)
		}
	default:
		h.logger.Debug("ignoring frame", logger.String("conn", c.ID()), logger.String("type", in.Type))
	}
}

// Serve pumps inbound frames from c into Handle until the transport closes or fails.
// It blocks; run it on the connection's own goroutine.
func (h *Hub) Serve(c *Connection) {
	for {
		data, err := c.transport.ReadMessage()
		if err != nil {
			if errors.Is(err, ErrClosed) || !c.Alive() {
				h.Handle(c, CloseEvent())
			} else {
				h.Handle(c, ErrorEvent(err))
			}
			return
		}
		h.Handle(c, MessageEvent(data))
	}
}

func (h *Hub) snapshot() []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// Len is the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

type Stats struct {
	ConnectedClients int
	Uptime           time.Duration
}

func (h *Hub) Stats() Stats {
	return Stats{
		ConnectedClients: h.Len(),
		Uptime:           h.clock.Since(h.startedAt),
	}
}

// Close refuses new registrations and closes every live connection.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*Connection)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	h.metrics.RecordConnections(0)
	h.logger.Info("hub closed", logger.Int("closed_connections", len(conns)))
	return nil
}

package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"SignalRelay/internal/domain/models"
	"SignalRelay/internal/service/cache"
	applogger "SignalRelay/pkg/logger"

	"github.com/jonboulle/clockwork"
	"github.com/jpillora/backoff"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config tunes the reconnect loop.
type Config struct {
	URL           string
	CatchUpLimit  int
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	BackoffFactor float64
	PingInterval  time.Duration
	PongTimeout   time.Duration
	// ForceReconnect drops the link when a pong is overdue. Otherwise a late pong is only logged.
	ForceReconnect bool
	DedupeTTL      time.Duration
}

func (c *Config) applyDefaults() {
	if c.CatchUpLimit <= 0 {
		c.CatchUpLimit = models.DefaultQueryLimit
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = time.Second
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = 30 * time.Second
		if c.BackoffMax < c.BackoffMin {
			c.BackoffMax = c.BackoffMin
		}
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 2
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.DedupeTTL <= 0 {
		c.DedupeTTL = time.Hour
	}
}

// Client keeps a subscription to the relay alive. After every successful connect it
// queries recent signals so nothing published while it was away is missed; a seen-id set
// keeps catch-up and live frames from delivering the same signal twice.
type Client struct {
	cfg     Config
	dialer  Dialer
	querier Querier
	clock   clockwork.Clock
	l       *applogger.Logger
	backoff *backoff.Backoff
	seen    *cache.TTLCache

	onSignal func(*models.Signal)
	onState  func(State)

	deliverMu sync.Mutex

	mu    sync.RWMutex
	state State

	closeOnce sync.Once
	closing   chan struct{}
}

type Option func(*Client)

func WithClock(c clockwork.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

func WithLogger(l *applogger.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.l = l
		}
	}
}

// OnSignal is called once per distinct signal, never concurrently.
func OnSignal(fn func(*models.Signal)) Option {
	return func(cl *Client) { cl.onSignal = fn }
}

func OnStateChange(fn func(State)) Option {
	return func(cl *Client) { cl.onState = fn }
}

func NewClient(cfg Config, dialer Dialer, querier Querier, opts ...Option) *Client {
	cfg.applyDefaults()
	c := &Client{
		cfg:      cfg,
		dialer:   dialer,
		querier:  querier,
		clock:    clockwork.NewRealClock(),
		l:        applogger.NewNop(),
		onSignal: func(*models.Signal) {},
		onState:  func(State) {},
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.backoff = &backoff.Backoff{
		Min:    cfg.BackoffMin,
		Max:    cfg.BackoffMax,
		Factor: cfg.BackoffFactor,
		Jitter: true,
	}
	c.seen = cache.NewTTLCacheWithClock(c.clock)
	return c
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s || c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.l.Debug("subscriber state", applogger.String("state", s.String()))
	c.onState(s)
}

// Run connects and reconnects until ctx ends or Close is called. Dial and transport
// failures are retried forever with capped exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	for {
		if c.stopped(ctx) {
			c.setState(StateClosing)
			return nil
		}

		c.setState(StateConnecting)
		conn, err := c.dialer.Dial(ctx, c.cfg.URL)
		if err != nil {
			c.setState(StateDisconnected)
			delay := c.backoff.Duration()
			c.l.Warn("subscriber connect failed",
				applogger.String("url", c.cfg.URL),
				applogger.Duration("retry_in", delay),
				applogger.Error(err))
			if !c.wait(ctx, delay) {
				c.setState(StateClosing)
				return nil
			}
			continue
		}

		c.backoff.Reset()
		c.setState(StateConnected)
		reason := c.session(ctx, conn)
		c.setState(StateDisconnected)

		delay := c.backoff.Duration()
		c.l.Info("subscriber disconnected",
			applogger.String("reason", reason),
			applogger.Duration("retry_in", delay))
		if !c.wait(ctx, delay) {
			c.setState(StateClosing)
			return nil
		}
	}
}

// Close stops Run and the current session.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		close(c.closing)
	})
	return nil
}

func (c *Client) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	t := c.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return true
	case <-ctx.Done():
		return false
	case <-c.closing:
		return false
	}
}

// session serves one connection and reports why it ended.
func (c *Client) session(ctx context.Context, conn Conn) string {
	sctx, cancel := context.WithCancel(ctx)

	frames := make(chan []byte, 16)
	readErr := make(chan error, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-sctx.Done():
				return
			}
		}
	}()
	var catchUpWG sync.WaitGroup
	catchUpWG.Add(1)
	go func() {
		defer catchUpWG.Done()
		c.catchUp(sctx)
	}()

	// the reader may be parked on a full frames buffer, so cancel before waiting on it
	defer func() {
		cancel()
		_ = conn.Close()
		<-readerDone
		catchUpWG.Wait()
	}()

	ticker := c.clock.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	var (
		pongTimer clockwork.Timer
		pongDue   <-chan time.Time
	)
	stopPongTimer := func() {
		if pongTimer != nil {
			pongTimer.Stop()
			pongTimer = nil
			pongDue = nil
		}
	}
	defer stopPongTimer()

	ping, _ := json.Marshal(models.PingMessage{Type: models.MessagePing})

	for {
		select {
		case <-ctx.Done():
			return "context done"
		case <-c.closing:
			return "closed"
		case err := <-readErr:
			return "read: " + err.Error()
		case data := <-frames:
			if c.handleFrame(data) == models.MessagePong {
				stopPongTimer()
			}
		case <-ticker.Chan():
			if err := conn.WriteMessage(ping); err != nil {
				return "ping: " + err.Error()
			}
			if pongTimer == nil {
				pongTimer = c.clock.NewTimer(c.cfg.PongTimeout)
				pongDue = pongTimer.Chan()
			}
		case <-pongDue:
			pongTimer, pongDue = nil, nil
			c.l.Warn("subscriber pong overdue", applogger.Duration("timeout", c.cfg.PongTimeout))
			if c.cfg.ForceReconnect {
				return "pong timeout"
			}
		}
	}
}

// handleFrame processes one inbound frame and returns its type.
func (c *Client) handleFrame(data []byte) string {
	var in models.InboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		c.l.Debug("subscriber ignoring malformed frame", applogger.Error(err))
		return ""
	}
	switch in.Type {
	case models.MessageConnection:
		c.l.Info("subscriber connected", applogger.String("message", in.Message))
	case models.MessageSignal:
		var s models.Signal
		if err := json.Unmarshal(in.Data, &s); err != nil {
			c.l.Warn("subscriber bad signal frame", applogger.Error(err))
			return in.Type
		}
		c.deliver(&s)
	}
	return in.Type
}

func (c *Client) catchUp(ctx context.Context) {
	if c.querier == nil {
		return
	}
	list, err := c.querier.Recent(ctx, c.cfg.CatchUpLimit)
	if err != nil {
		if ctx.Err() == nil {
			c.l.Warn("subscriber catch-up failed", applogger.Error(err))
		}
		return
	}
	n := 0
	for _, s := range list {
		if ctx.Err() != nil {
			return
		}
		if c.deliver(s) {
			n++
		}
	}
	c.l.Info("subscriber catch-up done",
		applogger.Int("fetched", len(list)),
		applogger.Int("delivered", n))
}

// deliver hands s to the callback unless it was seen already.
func (c *Client) deliver(s *models.Signal) bool {
	if s == nil || s.ID == 0 {
		return false
	}
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if !c.seen.SetIfAbsent(strconv.FormatInt(s.ID, 10), struct{}{}, c.cfg.DedupeTTL) {
		return false
	}
	c.onSignal(s)
	return true
}

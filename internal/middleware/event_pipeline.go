package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SignalRelay/internal/domain/models"
	domrepo "SignalRelay/internal/domain/repository"
	"SignalRelay/pkg/logger"

	"github.com/jpillora/backoff"
)

// ErrBufferFull is returned by Publish when the pipeline cannot take another event.
var ErrBufferFull = errors.New("event buffer full")

// EventPipeline decouples the ingestion path from a downstream EventPublisher. Publish
// validates and enqueues without touching the network; a background loop forwards
// events in order and retries a failing one with backoff. A full buffer drops events.
type EventPipeline struct {
	next     domrepo.EventPublisher
	metrics  domrepo.Metrics
	logger   *logger.Logger
	bufSize  int
	bufCh    chan *models.SignalEvent
	retryMin time.Duration
	retryMax time.Duration
	drainFor time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
}

type PipelineOption func(*EventPipeline)

// WithBufferSize sets the temporary buffer size when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *EventPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithRetryBackoff sets the retry delay range for buffered events.
func WithRetryBackoff(min, max time.Duration) PipelineOption {
	return func(p *EventPipeline) {
		if min > 0 {
			p.retryMin = min
		}
		if max >= p.retryMin {
			p.retryMax = max
		}
	}
}

func WithLogger(l *logger.Logger) PipelineOption {
	return func(p *EventPipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewEventPipeline(next domrepo.EventPublisher, metrics domrepo.Metrics, opts ...PipelineOption) *EventPipeline {
	p := &EventPipeline{
		next:     next,
		metrics:  metrics,
		logger:   logger.NewNop(),
		bufSize:  1000,
		retryMin: 50 * time.Millisecond,
		retryMax: 2 * time.Second,
		drainFor: 5 * time.Second,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.SignalEvent, p.bufSize)
	return p
}

// Start launches the forwarding loop.
func (p *EventPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go p.flushLoop(ctx)
}

func (p *EventPipeline) flushLoop(ctx context.Context) {
	defer close(p.done)
	b := &backoff.Backoff{Min: p.retryMin, Max: p.retryMax, Factor: 2, Jitter: true}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case ev := <-p.bufCh:
			if !p.forward(ctx, ev, b) {
				// keep the event for the final drain
				p.requeue(ev)
				return
			}
		}
	}
}

// forward retries ev until it is accepted or the loop is told to stop.
func (p *EventPipeline) forward(ctx context.Context, ev *models.SignalEvent, b *backoff.Backoff) bool {
	for {
		start := time.Now()
		err := p.next.Publish(ctx, ev)
		if err == nil {
			b.Reset()
			p.metrics.RecordLatency("pipeline_publish", time.Since(start).Seconds())
			return true
		}
		p.metrics.RecordError("pipeline_flush")
		delay := b.Duration()
		p.logger.Warn("event publish failed, retrying",
			logger.String("event", ev.Event),
			logger.Int64("signal_id", ev.SignalID),
			logger.Duration("retry_in", delay),
			logger.Error(err))
		select {
		case <-time.After(delay):
		case <-p.stopCh:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// Stop stops the forwarding loop and reports how many events were still buffered.
func (p *EventPipeline) Stop() int {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return len(p.bufCh)
	}
	p.started = false
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	<-p.done

	left := len(p.bufCh)
	if left > 0 {
		p.logger.Warn("event pipeline stopped with buffered events", logger.Int("pending", left))
	}
	return left
}

// Publish validates ev and queues it for the forwarding loop. It never blocks.
func (p *EventPipeline) Publish(_ context.Context, ev *models.SignalEvent) error {
	if err := validateEvent(ev); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.buffer(ev) {
		return ErrBufferFull
	}
	return nil
}

// Close stops the loop, makes one bounded attempt at whatever is still buffered and closes
// the downstream publisher.
func (p *EventPipeline) Close() error {
	p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), p.drainFor)
	defer cancel()
	lost := 0
	for {
		select {
		case ev := <-p.bufCh:
			if err := p.next.Publish(ctx, ev); err != nil {
				lost++
			}
			continue
		default:
		}
		break
	}
	if lost > 0 {
		p.metrics.RecordError("pipeline_drain")
		p.logger.Warn("events lost on close", logger.Int("lost", lost))
	}
	return p.next.Close()
}

// Pending is the number of queued events.
func (p *EventPipeline) Pending() int {
	return len(p.bufCh)
}

func (p *EventPipeline) requeue(ev *models.SignalEvent) {
	select {
	case p.bufCh <- ev:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
	}
}

func (p *EventPipeline) buffer(ev *models.SignalEvent) bool {
	select {
	case p.bufCh <- ev:
		return true
	default:
		p.metrics.RecordError("pipeline_buffer_full")
		p.logger.Warn("event dropped, buffer full",
			logger.String("event", ev.Event),
			logger.Int64("signal_id", ev.SignalID))
		return false
	}
}

func validateEvent(ev *models.SignalEvent) error {
	if ev == nil {
		return fmt.Errorf("event nil")
	}
	switch ev.Event {
	case models.EventSignalCreated, models.EventSignalStatus:
		if ev.Signal == nil {
			return fmt.Errorf("%s without signal", ev.Event)
		}
	case models.EventSignalDeleted:
	default:
		return fmt.Errorf("unknown event %q", ev.Event)
	}
	if ev.SignalID <= 0 {
		return fmt.Errorf("signal id invalid")
	}
	return nil
}

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"SignalRelay/internal/domain/models"
	"SignalRelay/pkg/logger"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeTransport struct {
	mu        sync.Mutex
	frames    [][]byte
	deadlines []time.Time
	fail      bool
	closes    int
	inbound   chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan []byte, 8)}
}

func (t *fakeTransport) WriteMessage(data []byte, deadline time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return errors.New("broken pipe")
	}
	t.frames = append(t.frames, append([]byte(nil), data...))
	t.deadlines = append(t.deadlines, deadline)
	return nil
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	data, ok := <-t.inbound
	if !ok {
		return nil, ErrClosed
	}
	return data, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closes++
	return nil
}

func (t *fakeTransport) setFail(v bool) {
	t.mu.Lock()
	t.fail = v
	t.mu.Unlock()
}

func (t *fakeTransport) messages() []models.InboundMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.InboundMessage, 0, len(t.frames))
	for _, f := range t.frames {
		var m models.InboundMessage
		_ = json.Unmarshal(f, &m)
		out = append(out, m)
	}
	return out
}

// signalIDs returns ids of the signal frames in arrival order.
func (t *fakeTransport) signalIDs() []int64 {
	var ids []int64
	for _, m := range t.messages() {
		if m.Type != models.MessageSignal {
			continue
		}
		var s models.Signal
		_ = json.Unmarshal(m.Data, &s)
		ids = append(ids, s.ID)
	}
	return ids
}

type HubSuite struct {
	suite.Suite
	clock *clockwork.FakeClock
	hub   *Hub
}

func (s *HubSuite) SetupTest() {
	s.clock = clockwork.NewFakeClockAt(time.Now())
	s.hub = NewHub(logger.NewNop(), WithClock(s.clock), WithSendTimeout(2*time.Second))
}

func (s *HubSuite) connect() (*Connection, *fakeTransport) {
	t := newFakeTransport()
	c := NewConnection(t, "127.0.0.1", s.clock.Now())
	s.Require().NoError(s.hub.Register(c))
	return c, t
}

func sig(id int64) *models.Signal {
	return &models.Signal{ID: id, Type: models.SignalLong, Symbol: "EURUSD", Session: models.SessionLondon}
}

func (s *HubSuite) TestRegisterSendsAck() {
	_, t := s.connect()

	msgs := t.messages()
	s.Require().Len(msgs, 1)
	s.Equal(models.MessageConnection, msgs[0].Type)
	s.Equal("Connected to signal relay", msgs[0].Message)
	s.Equal(1, s.hub.Len())
}

func (s *HubSuite) TestRegisterFailsWhenAckFails() {
	t := newFakeTransport()
	t.setFail(true)
	c := NewConnection(t, "x", s.clock.Now())

	err := s.hub.Register(c)
	s.ErrorIs(err, models.ErrSend)
	s.Equal(0, s.hub.Len())
	s.False(c.Alive())
}

func (s *HubSuite) TestBroadcastPrunesFailures() {
	var good, bad []*fakeTransport
	for i := 0; i < 5; i++ {
		_, t := s.connect()
		if i%2 == 0 {
			good = append(good, t)
		} else {
			bad = append(bad, t)
		}
	}
	for _, t := range bad {
		t.setFail(true)
	}

	n := s.hub.Broadcast(context.Background(), sig(1))

	s.Equal(len(good), n)
	s.Equal(len(good), s.hub.Len())
	for _, t := range good {
		s.Equal([]int64{1}, t.signalIDs())
	}
	for _, t := range bad {
		s.Equal(1, t.closes)
	}

	// survivors keep receiving
	s.Equal(len(good), s.hub.Broadcast(context.Background(), sig(2)))
}

func (s *HubSuite) TestUnregisteredReceivesNothing() {
	a, at := s.connect()
	_, bt := s.connect()

	s.True(s.hub.Unregister(a))
	n := s.hub.Broadcast(context.Background(), sig(7))

	s.Equal(1, n)
	s.Empty(at.signalIDs())
	s.Equal([]int64{7}, bt.signalIDs())
}

func (s *HubSuite) TestUnregisterIsIdempotent() {
	c, t := s.connect()

	s.True(s.hub.Unregister(c))
	s.False(s.hub.Unregister(c))
	s.Equal(1, t.closes)
	s.Equal(0, s.hub.Len())
}

func (s *HubSuite) TestBroadcastEmpty() {
	s.Equal(0, s.hub.Broadcast(context.Background(), sig(1)))
}

func (s *HubSuite) TestSendDeadline() {
	_, t := s.connect()
	s.hub.Broadcast(context.Background(), sig(1))

	t.mu.Lock()
	defer t.mu.Unlock()
	s.Require().Len(t.deadlines, 2)
	s.Equal(s.clock.Now().Add(2*time.Second), t.deadlines[1])
}

func (s *HubSuite) TestContextDeadlineTightensSend() {
	_, t := s.connect()
	ctxDeadline := s.clock.Now().Add(500 * time.Millisecond)
	ctx, cancel := context.WithDeadline(context.Background(), ctxDeadline)
	defer cancel()

	s.hub.Broadcast(ctx, sig(1))

	t.mu.Lock()
	defer t.mu.Unlock()
	s.Require().Len(t.deadlines, 2)
	s.Equal(ctxDeadline, t.deadlines[1])
}

func (s *HubSuite) TestPerConnectionOrderMatchesBroadcastOrder() {
	_, a := s.connect()
	_, b := s.connect()

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			s.hub.Broadcast(context.Background(), sig(id))
		}(i)
	}
	wg.Wait()

	s.Len(a.signalIDs(), 20)
	s.Equal(a.signalIDs(), b.signalIDs())
}

// gatedTransport holds signal frames until release is closed. A transport closed while
// a frame is held reports the write as failed.
type gatedTransport struct {
	*fakeTransport
	entered chan struct{}
	release chan struct{}
	closed  chan struct{}
	once    sync.Once
}

func newGatedTransport(release chan struct{}) *gatedTransport {
	return &gatedTransport{
		fakeTransport: newFakeTransport(),
		entered:       make(chan struct{}, 1),
		release:       release,
		closed:        make(chan struct{}),
	}
}

func (g *gatedTransport) WriteMessage(data []byte, deadline time.Time) error {
	var m models.InboundMessage
	if json.Unmarshal(data, &m) == nil && m.Type == models.MessageSignal {
		g.entered <- struct{}{}
		<-g.release
		select {
		case <-g.closed:
			return ErrClosed
		default:
		}
	}
	return g.fakeTransport.WriteMessage(data, deadline)
}

func (g *gatedTransport) Close() error {
	g.once.Do(func() { close(g.closed) })
	return g.fakeTransport.Close()
}

func (s *HubSuite) connectVia(t Transport) *Connection {
	c := NewConnection(t, "127.0.0.1", s.clock.Now())
	s.Require().NoError(s.hub.Register(c))
	return c
}

func (s *HubSuite) TestMembershipChangesDuringBroadcast() {
	release := make(chan struct{})
	stay := newGatedTransport(release)
	leave := newGatedTransport(release)
	s.connectVia(stay)
	leaving := s.connectVia(leave)

	result := make(chan int, 1)
	go func() { result <- s.hub.Broadcast(context.Background(), sig(5)) }()

	for _, g := range []*gatedTransport{stay, leave} {
		select {
		case <-g.entered:
		case <-time.After(2 * time.Second):
			s.FailNow("broadcast never reached a subscriber")
		}
	}

	// both sends are parked; membership changes must not wait for them
	changed := make(chan struct{})
	var joined *fakeTransport
	go func() {
		defer close(changed)
		_, joined = s.connect()
		s.True(s.hub.Unregister(leaving))
	}()
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		s.FailNow("register/unregister blocked behind broadcast")
	}

	close(release)
	var n int
	select {
	case n = <-result:
	case <-time.After(2 * time.Second):
		s.FailNow("broadcast did not finish")
	}

	s.Equal(1, n)
	s.Equal([]int64{5}, stay.signalIDs())
	s.Empty(leave.signalIDs())
	s.Empty(joined.signalIDs())
	s.Equal(2, s.hub.Len())

	// the late joiner is part of the next snapshot
	next := make(chan int, 1)
	go func() { next <- s.hub.Broadcast(context.Background(), sig(6)) }()
	<-stay.entered
	s.Equal(2, <-next)
	s.Equal([]int64{6}, joined.signalIDs())
	s.Equal([]int64{5, 6}, stay.signalIDs())
}

func (s *HubSuite) TestPingGetsPong() {
	c, t := s.connect()

	s.hub.Handle(c, MessageEvent([]byte(`{"type":"ping"}`)))

	msgs := t.messages()
	s.Require().Len(msgs, 2)
	s.Equal(models.MessagePong, msgs[1].Type)
	s.True(msgs[1].Timestamp.Equal(s.clock.Now()))
}

func (s *HubSuite) TestMalformedFrameIgnored() {
	c, t := s.connect()

	s.hub.Handle(c, MessageEvent([]byte(`not json`)))
	s.hub.Handle(c, MessageEvent([]byte(`{"type":"subscribe"}`)))

	s.Len(t.messages(), 1)
	s.Equal(1, s.hub.Len())
}

func (s *HubSuite) TestErrorEventUnregisters() {
	c, _ := s.connect()
	s.hub.Handle(c, ErrorEvent(errors.New("reset by peer")))
	s.Equal(0, s.hub.Len())
}

func (s *HubSuite) TestServeUntilClose() {
	c, t := s.connect()

	done := make(chan struct{})
	go func() {
		s.hub.Serve(c)
		close(done)
	}()

	t.inbound <- []byte(`{"type":"ping"}`)
	close(t.inbound)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		s.FailNow("serve did not return")
	}
	s.Equal(0, s.hub.Len())
	s.Equal(models.MessagePong, t.messages()[1].Type)
}

func (s *HubSuite) TestStats() {
	s.connect()
	s.clock.Advance(90 * time.Second)

	st := s.hub.Stats()
	s.Equal(1, st.ConnectedClients)
	s.Equal(90*time.Second, st.Uptime)
}

func (s *HubSuite) TestCloseRejectsRegistration() {
	_, t := s.connect()
	require.NoError(s.T(), s.hub.Close())

	s.Equal(1, t.closes)
	err := s.hub.Register(NewConnection(newFakeTransport(), "x", s.clock.Now()))
	s.ErrorIs(err, ErrHubClosed)
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "open", EventOpen.String())
	assert.Equal(t, "error", EventError.String())
	assert.Equal(t, "EventKind(9)", EventKind(9).String())
}

package scheduler

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantilt-tracker/internal/command"
	"pantilt-tracker/internal/executor"
	"pantilt-tracker/internal/link"
)

// blockingRunner blocks each execution until released or cancelled.
type blockingRunner struct {
	started chan command.Command
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan command.Command, 16),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) Execute(ctx context.Context, cmd command.Command) command.Outcome {
	r.started <- cmd
	select {
	case <-ctx.Done():
		return command.Cancelled()
	case <-r.release:
		return command.Succeeded()
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func waitOutcome(t *testing.T, tk *Ticket) command.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := tk.Wait(ctx)
	require.NoError(t, err)
	return out
}

func TestDispatchSupersedesInFlight(t *testing.T) {
	r := newBlockingRunner()
	s := New(r, quietLogger())
	defer s.Close()

	a := s.Dispatch(command.MustNew(command.PanLeft, 5))
	<-r.started
	b := s.Dispatch(command.MustNew(command.PanRight, 5))

	assert.Equal(t, command.Cancelled(), waitOutcome(t, a))

	<-r.started
	close(r.release)
	assert.Equal(t, command.Succeeded(), waitOutcome(t, b))
}

func TestDispatchWhenIdleProceeds(t *testing.T) {
	r := newBlockingRunner()
	close(r.release)
	s := New(r, quietLogger())
	defer s.Close()

	tk := s.Dispatch(command.NewPing())
	assert.Equal(t, command.Succeeded(), waitOutcome(t, tk))
	assert.False(t, s.Busy())
}

func TestTryDispatchSkipsWhileBusy(t *testing.T) {
	r := newBlockingRunner()
	s := New(r, quietLogger())
	defer s.Close()

	first, ok := s.TryDispatch(command.MustNew(command.TiltUp, 5))
	require.True(t, ok)
	<-r.started

	_, ok = s.TryDispatch(command.MustNew(command.TiltDown, 5))
	assert.False(t, ok)

	close(r.release)
	waitOutcome(t, first)

	_, ok = s.TryDispatch(command.MustNew(command.TiltDown, 5))
	assert.True(t, ok)
}

func TestCancel(t *testing.T) {
	r := newBlockingRunner()
	s := New(r, quietLogger())
	defer s.Close()

	assert.False(t, s.Cancel(), "nothing in flight")

	tk := s.Dispatch(command.NewSelfTest())
	<-r.started
	assert.True(t, s.Cancel())
	assert.Equal(t, command.Cancelled(), waitOutcome(t, tk))

	assert.False(t, s.Cancel(), "cancelling a completed command is a no-op")
	assert.Equal(t, command.Cancelled(), tk.Outcome())
}

func TestEventsAndCancelAffordance(t *testing.T) {
	r := newBlockingRunner()
	s := New(r, quietLogger())
	defer s.Close()

	events, unsubscribe := s.Subscribe(16)
	defer unsubscribe()

	a := s.Dispatch(command.MustNew(command.PanLeft, 5))
	<-r.started
	b := s.Dispatch(command.MustNew(command.PanRight, 5))
	waitOutcome(t, a)
	<-r.started

	// While b runs the superseded completion must not disable cancel.
	st := s.Status()
	require.NotNil(t, st.InFlight)
	assert.Equal(t, command.PanRight, st.InFlight.Code())
	assert.True(t, st.CanCancel)

	close(r.release)
	waitOutcome(t, b)

	var got []Event
	for len(got) < 4 {
		select {
		case ev := <-events:
			got = append(got, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d events", len(got))
		}
	}

	var aDone, bDone *Event
	for i := range got {
		ev := got[i]
		if ev.Kind == EventStarted {
			assert.True(t, ev.CanCancel)
			continue
		}
		switch ev.TicketID {
		case a.ID:
			aDone = &got[i]
		case b.ID:
			bDone = &got[i]
		}
	}
	require.NotNil(t, aDone)
	require.NotNil(t, bDone)
	assert.Equal(t, command.StatusCancelled, aDone.Outcome.Status)
	assert.True(t, aDone.CanCancel)
	assert.Equal(t, command.StatusSuccess, bDone.Outcome.Status)
	assert.False(t, bDone.CanCancel)

	st = s.Status()
	assert.Nil(t, st.InFlight)
	assert.False(t, st.CanCancel)
	require.NotNil(t, st.Last)
	assert.Equal(t, b.ID, st.Last.TicketID)
}

func TestCloseCancelsAndRejects(t *testing.T) {
	r := newBlockingRunner()
	s := New(r, quietLogger())

	events, _ := s.Subscribe(4)
	tk := s.Dispatch(command.NewReset())
	<-r.started
	s.Close()

	assert.Equal(t, command.Cancelled(), tk.Outcome())
	assert.Nil(t, s.Dispatch(command.NewPing()))
	_, ok := s.TryDispatch(command.NewPing())
	assert.False(t, ok)

	for range events {
	}
}

type countingTransport struct {
	mu      sync.Mutex
	open    bool
	holders atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
}

func (c *countingTransport) Open(string, int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = true
	return nil
}

func (c *countingTransport) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

func (c *countingTransport) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *countingTransport) SendSynchronous(ctx context.Context, _ link.Address, _ []byte, _ time.Duration) error {
	n := c.holders.Add(1)
	defer c.holders.Add(-1)
	if n > c.maxSeen.Load() {
		c.maxSeen.Store(n)
	}
	select {
	case <-time.After(c.delay):
		return nil
	case <-ctx.Done():
		return command.ErrCancelled
	}
}

func TestSupersededCommandsNeverShareLink(t *testing.T) {
	logger := quietLogger()
	tr := &countingTransport{delay: 5 * time.Millisecond}
	exec, err := executor.New(link.NewGate(tr, logger), executor.Settings{
		Port:        "/dev/ttyUSB0",
		BaudRate:    9600,
		Destination: link.DefaultAddress,
		Timeout:     time.Second,
	}, logger)
	require.NoError(t, err)

	s := New(exec, logger)
	var tickets []*Ticket
	for i := 0; i < 10; i++ {
		tickets = append(tickets, s.Dispatch(command.MustNew(command.PanLeft, i)))
		time.Sleep(time.Millisecond)
	}
	last := tickets[len(tickets)-1]
	assert.Equal(t, command.StatusSuccess, waitOutcome(t, last).Status)
	s.Close()

	for _, tk := range tickets[:len(tickets)-1] {
		st := tk.Outcome().Status
		assert.Contains(t, []command.Status{command.StatusCancelled, command.StatusSuccess}, st)
	}
	assert.EqualValues(t, 1, tr.maxSeen.Load())
	assert.False(t, tr.IsOpen())
}

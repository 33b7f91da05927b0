package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pantilt-tracker/internal/command"
)

// Runner executes one command to completion.
type Runner interface {
	Execute(ctx context.Context, cmd command.Command) command.Outcome
}

// Ticket tracks one dispatched command.
type Ticket struct {
	ID        uuid.UUID
	Command   command.Command
	StartedAt time.Time

	cancel  context.CancelFunc
	done    chan struct{}
	outcome command.Outcome
}

// Done is closed once the outcome is available.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Outcome returns the outcome. It is only meaningful after Done is closed.
func (t *Ticket) Outcome() command.Outcome {
	<-t.done
	return t.outcome
}

// Wait blocks until the command completes or ctx is done.
func (t *Ticket) Wait(ctx context.Context) (command.Outcome, error) {
	select {
	case <-t.done:
		return t.outcome, nil
	case <-ctx.Done():
		return command.Outcome{}, ctx.Err()
	}
}

func (t *Ticket) completed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// EventKind distinguishes scheduler events.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
)

// Event reports a command starting or completing.
type Event struct {
	Kind      EventKind        `json:"kind"`
	TicketID  uuid.UUID        `json:"ticket_id"`
	Command   string           `json:"command"`
	Data      int              `json:"data"`
	Outcome   *command.Outcome `json:"outcome,omitempty"`
	CanCancel bool             `json:"can_cancel"`
	Time      time.Time        `json:"time"`
}

// Status is a snapshot of the scheduler.
type Status struct {
	InFlight  *command.Command
	CanCancel bool
	Last      *Event
}

// Scheduler runs at most one command at a time from the caller's point of
// view: dispatching a new command cancels the one in flight.
type Scheduler struct {
	runner Runner
	logger *logrus.Logger

	mu      sync.Mutex
	current *Ticket
	last    *Event
	subs    map[chan Event]struct{}
	closed  bool

	wg sync.WaitGroup
}

// New creates a scheduler around runner.
func New(runner Runner, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		runner: runner,
		logger: logger,
		subs:   make(map[chan Event]struct{}),
	}
}

// Dispatch cancels any in-flight command and starts cmd. It returns nil
// after Close.
func (s *Scheduler) Dispatch(cmd command.Command) *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if s.current != nil && !s.current.completed() {
		s.logger.WithFields(logrus.Fields{
			"cancelled": s.current.Command.String(),
			"next":      cmd.String(),
		}).Debug("Superseding in-flight command")
		s.current.cancel()
	}
	return s.startLocked(cmd)
}

// TryDispatch starts cmd only if nothing is in flight.
func (s *Scheduler) TryDispatch(cmd command.Command) (*Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || (s.current != nil && !s.current.completed()) {
		return nil, false
	}
	return s.startLocked(cmd), true
}

func (s *Scheduler) startLocked(cmd command.Command) *Ticket {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Ticket{
		ID:        uuid.New(),
		Command:   cmd,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	s.current = t
	s.publishLocked(s.eventLocked(EventStarted, t))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		outcome := s.runner.Execute(ctx, cmd)
		s.finish(t, outcome)
	}()
	return t
}

func (s *Scheduler) finish(t *Ticket, outcome command.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.outcome = outcome
	close(t.done)

	ev := s.eventLocked(EventCompleted, t)
	ev.Outcome = &outcome
	s.last = &ev
	s.publishLocked(ev)
}

func (s *Scheduler) eventLocked(kind EventKind, t *Ticket) Event {
	return Event{
		Kind:      kind,
		TicketID:  t.ID,
		Command:   t.Command.Code().String(),
		Data:      t.Command.Data(),
		CanCancel: s.current != nil && !s.current.completed(),
		Time:      time.Now(),
	}
}

func (s *Scheduler) publishLocked(ev Event) {
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.WithField("kind", ev.Kind).Warn("Subscriber buffer full, dropping event")
		}
	}
}

// Cancel cancels the in-flight command. It reports false when there was
// nothing left to cancel.
func (s *Scheduler) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.completed() {
		return false
	}
	s.current.cancel()
	return true
}

// Busy reports whether a command is in flight.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && !s.current.completed()
}

// Status returns a snapshot for presentation.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Status
	if s.current != nil && !s.current.completed() {
		cmd := s.current.Command
		st.InFlight = &cmd
		st.CanCancel = true
	}
	if s.last != nil {
		ev := *s.last
		st.Last = &ev
	}
	return st
}

// Subscribe returns a channel of events and a function that ends the
// subscription. Events are dropped when the buffer is full.
func (s *Scheduler) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

// Close cancels the in-flight command, waits for every command goroutine
// and closes all subscriptions.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.current != nil {
		s.current.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.mu.Unlock()
}

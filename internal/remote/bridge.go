package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pantilt-tracker/internal/command"
	"pantilt-tracker/internal/scheduler"
)

const (
	minRetryDelay = 100 * time.Millisecond
	maxRetryDelay = 30 * time.Second
)

// cancelVerb in a request cancels the in-flight command.
const cancelVerb = "CANCEL"

// Request is a command received from the bus.
type Request struct {
	Command string `json:"command"`
	Data    int    `json:"data"`
}

// Dispatcher is the scheduler surface driven by remote requests.
type Dispatcher interface {
	Dispatch(cmd command.Command) *scheduler.Ticket
	Cancel() bool
	Subscribe(buffer int) (<-chan scheduler.Event, func())
}

// Bridge relays requests from <prefix>:commands into the scheduler and
// scheduler events out to <prefix>:events.
type Bridge struct {
	bus        Bus
	dispatcher Dispatcher
	logger     *logrus.Logger

	commands string
	events   string

	mu       sync.Mutex
	received uint64
	rejected uint64
}

func NewBridge(bus Bus, dispatcher Dispatcher, prefix string, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if prefix == "" {
		prefix = "pantilt"
	}
	return &Bridge{
		bus:        bus,
		dispatcher: dispatcher,
		logger:     logger,
		commands:   prefix + ":commands",
		events:     prefix + ":events",
	}
}

func (b *Bridge) Channels() (commands, events string) { return b.commands, b.events }

// Run relays until ctx is done. Broken subscriptions are retried with
// exponential backoff.
func (b *Bridge) Run(ctx context.Context) error {
	events, unsubscribe := b.dispatcher.Subscribe(64)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.publishLoop(ctx, events)
	}()

	b.logger.WithFields(logrus.Fields{"commands": b.commands, "events": b.events}).Info("Remote bridge started")
	b.subscriptionLoop(ctx)
	<-done
	return nil
}

func (b *Bridge) subscriptionLoop(ctx context.Context) {
	retryDelay := minRetryDelay
	for ctx.Err() == nil {
		err := b.bus.Receive(ctx, b.commands, b.handleMessage)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			b.logger.WithError(err).WithField("retry_in", retryDelay).Warn("Remote subscription lost")
			if !wait(ctx, retryDelay) {
				return
			}
			retryDelay = min(retryDelay*2, maxRetryDelay)
			continue
		}
		retryDelay = minRetryDelay
		if !wait(ctx, minRetryDelay) {
			return
		}
	}
}

func (b *Bridge) publishLoop(ctx context.Context, events <-chan scheduler.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := b.publish(ctx, ev); err != nil {
				b.logger.WithError(err).Warn("Remote event dropped")
			}
		}
	}
}

func (b *Bridge) publish(ctx context.Context, ev scheduler.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.bus.Publish(ctx, b.events, string(data))
}

func (b *Bridge) handleMessage(message string) {
	b.mu.Lock()
	b.received++
	b.mu.Unlock()

	cmd, cancel, err := ParseRequest([]byte(message))
	if err != nil {
		b.mu.Lock()
		b.rejected++
		b.mu.Unlock()
		b.logger.WithError(err).Warn("Remote request rejected")
		return
	}

	if cancel {
		b.logger.WithField("cancelled", b.dispatcher.Cancel()).Info("Remote cancel")
		return
	}
	if t := b.dispatcher.Dispatch(cmd); t != nil {
		b.logger.WithFields(logrus.Fields{"command": cmd.String(), "ticket": t.ID}).Info("Remote command dispatched")
	}
}

// Stats returns the number of requests received and rejected.
func (b *Bridge) Stats() (received, rejected uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.received, b.rejected
}

// ParseRequest decodes a bus request. cancel is true for a cancel request.
func ParseRequest(data []byte) (cmd command.Command, cancel bool, err error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return command.Command{}, false, fmt.Errorf("%w: %v", command.ErrInvalidCommand, err)
	}
	if strings.EqualFold(strings.TrimSpace(req.Command), cancelVerb) {
		return command.Command{}, true, nil
	}

	code, err := command.ParseCode(req.Command)
	if err != nil {
		return command.Command{}, false, err
	}
	switch code {
	case command.Ping:
		return command.NewPing(), false, nil
	case command.SelfTest:
		return command.NewSelfTest(), false, nil
	case command.Reset:
		return command.NewReset(), false, nil
	}
	cmd, err = command.New(code, req.Data)
	return cmd, false, err
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

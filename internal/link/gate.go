package link

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"pantilt-tracker/internal/command"
)

// Address is the 16-bit radio address of the remote controller.
type Address uint16

// DefaultAddress is the MY address of the XBee shield on the pan/tilt head.
const DefaultAddress Address = 0x8081

func (a Address) String() string {
	return fmt.Sprintf("0x%04X", uint16(a))
}

// Session is the view of an open link handed to a transaction.
type Session interface {
	// SendSynchronous sends payload to dest and blocks until the remote
	// reports a status, the timeout elapses or ctx is done.
	SendSynchronous(ctx context.Context, dest Address, payload []byte, timeout time.Duration) error
}

// Transport is the half-duplex serial channel to the radio.
type Transport interface {
	Session
	Open(port string, baudRate int) error
	Close() error
	IsOpen() bool
}

// Gate owns the one physical serial connection. At most one caller holds it
// at a time and the connection is closed before every WithLink returns.
type Gate struct {
	transport Transport
	sem       chan struct{}
	logger    *logrus.Logger

	holding      atomic.Bool
	transactions atomic.Uint64
}

// NewGate creates a gate around transport.
func NewGate(transport Transport, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gate{
		transport: transport,
		sem:       make(chan struct{}, 1),
		logger:    logger,
	}
}

// WithLink acquires the gate, opens the link on port at baudRate if needed,
// runs fn and closes the link. Waiting for the gate is abandoned when ctx is
// done, in which case command.ErrCancelled is returned and fn never runs.
func (g *Gate) WithLink(ctx context.Context, port string, baudRate int, fn func(Session) error) (err error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for link: %v", command.ErrCancelled, ctx.Err())
	}
	g.holding.Store(true)
	g.transactions.Add(1)

	defer func() {
		if g.transport.IsOpen() {
			if cerr := g.transport.Close(); cerr != nil {
				g.logger.WithError(cerr).WithField("port", port).Error("Failed to close link")
				err = errors.Join(err, fmt.Errorf("close link: %w", cerr))
			}
		}
		g.holding.Store(false)
		<-g.sem
	}()

	if !g.transport.IsOpen() {
		if oerr := g.transport.Open(port, baudRate); oerr != nil {
			return fmt.Errorf("%w: %s at %d baud: %v", command.ErrTransportOpen, port, baudRate, oerr)
		}
		g.logger.WithFields(logrus.Fields{"port": port, "baud": baudRate}).Debug("Link opened")
	}

	return fn(g.transport)
}

// Holding reports whether a transaction currently owns the link.
func (g *Gate) Holding() bool {
	return g.holding.Load()
}

// Transactions returns the number of transactions that acquired the gate.
func (g *Gate) Transactions() uint64 {
	return g.transactions.Load()
}

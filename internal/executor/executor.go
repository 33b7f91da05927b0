package executor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pantilt-tracker/internal/command"
	"pantilt-tracker/internal/link"
)

// BaudRates are the rates the radio link supports.
var BaudRates = []int{2400, 4800, 9600, 19200, 38400, 76800, 153600}

// ValidBaudRate reports whether baud is one of BaudRates.
func ValidBaudRate(baud int) bool {
	return slices.Contains(BaudRates, baud)
}

// Settings locate the radio link and bound each transaction.
type Settings struct {
	Port        string
	BaudRate    int
	Destination link.Address
	Timeout     time.Duration
}

// Validate checks the settings before they are used.
func (s Settings) Validate() error {
	if s.Port == "" {
		return errors.New("serial port is required")
	}
	if !ValidBaudRate(s.BaudRate) {
		return fmt.Errorf("unsupported baud rate %d (want one of %v)", s.BaudRate, BaudRates)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", s.Timeout)
	}
	return nil
}

// Executor runs one command per call over the gated link.
type Executor struct {
	gate   *link.Gate
	logger *logrus.Logger

	mu       sync.RWMutex
	settings Settings
}

// New creates an executor. The settings must be valid.
func New(gate *link.Gate, settings Settings, logger *logrus.Logger) (*Executor, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Executor{gate: gate, settings: settings, logger: logger}, nil
}

// Settings returns the current link settings.
func (e *Executor) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// UpdateSettings replaces the link settings used by later executions.
func (e *Executor) UpdateSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
	e.logger.WithFields(logrus.Fields{"port": s.Port, "baud": s.BaudRate}).Info("Link settings updated")
	return nil
}

// Execute sends cmd and returns its outcome. Cancelling ctx stops the
// transaction at its next checkpoint. The link is closed when Execute returns.
func (e *Executor) Execute(ctx context.Context, cmd command.Command) command.Outcome {
	log := e.logger.WithFields(logrus.Fields{
		"command": cmd.Code().String(),
		"data":    cmd.Data(),
	})

	if !cmd.Code().Valid() {
		log.Error("Invalid command ignored")
		return command.Failed(command.ErrInvalidCommand.Error())
	}

	if ctx.Err() != nil {
		log.Warn("Cancelled command before execution")
		return command.Cancelled()
	}

	s := e.Settings()
	start := time.Now()
	log.Info("Executing command")

	err := e.gate.WithLink(ctx, s.Port, s.BaudRate, func(sess link.Session) error {
		if err := ctx.Err(); err != nil {
			return command.ErrCancelled
		}
		if err := sess.SendSynchronous(ctx, s.Destination, cmd.Payload(), s.Timeout); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return command.ErrCancelled
		}
		return nil
	})

	outcome := classify(ctx, err)
	log = log.WithFields(logrus.Fields{
		"outcome": outcome.Status.String(),
		"latency": time.Since(start),
	})
	switch outcome.Status {
	case command.StatusSuccess:
		log.Info("Completed command")
	case command.StatusCancelled:
		log.Warn("Cancelled command")
	default:
		log.WithError(err).Error("Error executing command")
	}
	return outcome
}

func classify(ctx context.Context, err error) command.Outcome {
	switch {
	case err == nil:
		return command.Succeeded()
	case errors.Is(err, command.ErrCancelled), errors.Is(err, context.Canceled), ctx.Err() != nil:
		return command.Cancelled()
	case errors.Is(err, command.ErrTransportTimeout):
		return command.Failed(command.ErrTransportTimeout.Error())
	default:
		return command.Failed(err.Error())
	}
}

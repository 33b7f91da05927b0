package ptz

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"

	"pantilt-tracker/internal/command"
	"pantilt-tracker/internal/scheduler"
)

// Deadzone is the joystick magnitude below which an axis is ignored.
const Deadzone = 0.05

// MaxStep bounds the operator step size (the console slider).
const MaxStep = 45

// ErrNotConnected is returned once the scheduler no longer accepts commands.
var ErrNotConnected = errors.New("pan/tilt head not connected")

// Controller defines the operator control surface of the pan/tilt head
type Controller interface {
	// PanTilt moves one step along the dominant axis
	// pan: -1.0 (left) to 1.0 (right)
	// tilt: -1.0 (down) to 1.0 (up)
	PanTilt(pan, tilt float64) error

	// PanTo and TiltTo move an axis to an absolute position (0-255)
	PanTo(position int) error
	TiltTo(position int) error

	Ping() error
	SelfTest() error
	Reset() error

	// Stop cancels the in-flight command
	Stop() error

	// SetStep sets the magnitude of relative moves (1-45)
	SetStep(step int) error
	Step() int

	Close() error
}

// Dispatcher is the scheduler surface the controller uses.
type Dispatcher interface {
	Dispatch(cmd command.Command) *scheduler.Ticket
	Cancel() bool
}

// Remote drives the head through the command scheduler. Every command
// supersedes whatever is in flight, like the console buttons.
type Remote struct {
	dispatcher Dispatcher
	logger     *logrus.Logger

	mu   sync.Mutex
	step int
}

var _ Controller = (*Remote)(nil)

func NewRemote(d Dispatcher, step int, logger *logrus.Logger) (*Remote, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := validateStep(step); err != nil {
		return nil, err
	}
	return &Remote{dispatcher: d, logger: logger, step: step}, nil
}

// Axis returns the relative command for a joystick vector, or false when
// both axes are inside the dead zone. The larger deflection wins.
func Axis(pan, tilt float64, step int) (command.Command, bool, error) {
	if math.IsNaN(pan) || math.IsNaN(tilt) {
		return command.Command{}, false, fmt.Errorf("invalid joystick vector (%v, %v)", pan, tilt)
	}
	ap, at := math.Abs(pan), math.Abs(tilt)
	if ap < Deadzone && at < Deadzone {
		return command.Command{}, false, nil
	}

	var code command.Code
	switch {
	case ap >= at && pan < 0:
		code = command.PanLeft
	case ap >= at:
		code = command.PanRight
	case tilt < 0:
		code = command.TiltDown
	default:
		code = command.TiltUp
	}
	cmd, err := command.New(code, step)
	return cmd, err == nil, err
}

func (r *Remote) PanTilt(pan, tilt float64) error {
	cmd, ok, err := Axis(pan, tilt, r.Step())
	if err != nil || !ok {
		return err
	}
	return r.dispatch(cmd)
}

func (r *Remote) PanTo(position int) error  { return r.absolute(command.PanTo, position) }
func (r *Remote) TiltTo(position int) error { return r.absolute(command.TiltTo, position) }

func (r *Remote) Ping() error     { return r.dispatch(command.NewPing()) }
func (r *Remote) SelfTest() error { return r.dispatch(command.NewSelfTest()) }
func (r *Remote) Reset() error    { return r.dispatch(command.NewReset()) }

func (r *Remote) Stop() error {
	if r.dispatcher.Cancel() {
		r.logger.Info("In-flight command cancelled by operator")
	}
	return nil
}

func (r *Remote) SetStep(step int) error {
	if err := validateStep(step); err != nil {
		return err
	}
	r.mu.Lock()
	r.step = step
	r.mu.Unlock()
	return nil
}

func (r *Remote) Step() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.step
}

// Close cancels anything in flight. The scheduler is owned by the caller.
func (r *Remote) Close() error {
	r.dispatcher.Cancel()
	return nil
}

func (r *Remote) absolute(code command.Code, position int) error {
	cmd, err := command.New(code, position)
	if err != nil {
		return fmt.Errorf("%s: %w", code, err)
	}
	return r.dispatch(cmd)
}

func (r *Remote) dispatch(cmd command.Command) error {
	if r.dispatcher.Dispatch(cmd) == nil {
		return fmt.Errorf("dispatch %s: %w", cmd, ErrNotConnected)
	}
	r.logger.WithField("command", cmd.String()).Debug("Operator command dispatched")
	return nil
}

func validateStep(step int) error {
	if step < 1 || step > MaxStep {
		return fmt.Errorf("step %d out of range 1-%d", step, MaxStep)
	}
	return nil
}

package tracking

import (
	"fmt"

	"pantilt-tracker/internal/command"
)

// DefaultStep is the fixed step the tracker moves per correction.
const DefaultStep = 5

// MaxStep bounds the operator-adjustable step size.
const MaxStep = 45

// Priority picks the axis when both need correction in the same frame.
type Priority string

const (
	PriorityPan  Priority = "pan"
	PriorityTilt Priority = "tilt"
)

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityPan, PriorityTilt:
		return p, nil
	default:
		return "", fmt.Errorf("unknown axis priority %q", s)
	}
}

// TargetDelta is the target centre minus the frame centre.
type TargetDelta struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Delta computes the offset of target's centre from the frame centre.
func Delta(frameWidth, frameHeight int, target Box) TargetDelta {
	c := target.Center()
	return TargetDelta{
		X: float64(c.X) - float64(frameWidth)/2.0,
		Y: float64(c.Y) - float64(frameHeight)/2.0,
	}
}

// Thresholds returns the dead zone half-widths: a tenth of each dimension,
// truncated.
func Thresholds(frameWidth, frameHeight int) (int, int) {
	return frameWidth / 10, frameHeight / 10
}

// Centering is a bang-bang controller: once the target leaves the dead zone
// it emits one fixed-size step toward it.
type Centering struct {
	Step     int
	Priority Priority
}

// NewCentering validates the step and priority.
func NewCentering(step int, priority Priority) (Centering, error) {
	if step < 1 || step > MaxStep {
		return Centering{}, fmt.Errorf("step %d out of range 1-%d", step, MaxStep)
	}
	if priority == "" {
		priority = PriorityPan
	}
	if _, err := ParsePriority(string(priority)); err != nil {
		return Centering{}, err
	}
	return Centering{Step: step, Priority: priority}, nil
}

// Actions returns the horizontal and vertical corrections implied by the
// target position, either of which may be absent.
func (c Centering) Actions(frameWidth, frameHeight int, target Box) (pan, tilt *command.Command) {
	d := Delta(frameWidth, frameHeight, target)
	tw, th := Thresholds(frameWidth, frameHeight)

	switch {
	case d.X > float64(tw):
		pan = c.step(command.PanLeft)
	case d.X < -float64(tw):
		pan = c.step(command.PanRight)
	}
	switch {
	case d.Y > float64(th):
		tilt = c.step(command.TiltDown)
	case d.Y < -float64(th):
		tilt = c.step(command.TiltUp)
	}
	return pan, tilt
}

// ComputeAction returns the single command to issue for this frame, if any.
func (c Centering) ComputeAction(frameWidth, frameHeight int, target Box) (command.Command, bool) {
	pan, tilt := c.Actions(frameWidth, frameHeight, target)
	first, second := pan, tilt
	if c.Priority == PriorityTilt {
		first, second = tilt, pan
	}
	if first != nil {
		return *first, true
	}
	if second != nil {
		return *second, true
	}
	return command.Command{}, false
}

func (c Centering) step(code command.Code) *command.Command {
	step := c.Step
	if step < 1 || step > MaxStep {
		step = DefaultStep
	}
	cmd := command.MustNew(code, step)
	return &cmd
}

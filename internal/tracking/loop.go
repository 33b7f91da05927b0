package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"pantilt-tracker/internal/command"
	"pantilt-tracker/internal/scheduler"
)

// ErrEndOfStream is returned by a FrameSource with no more frames.
var ErrEndOfStream = errors.New("end of stream")

// Frame is one captured image. The loop closes every frame it reads.
type Frame interface {
	Width() int
	Height() int
	// Empty frames are produced while the camera warms up.
	Empty() bool
	Close() error
}

// FrameSource produces frames until ErrEndOfStream.
type FrameSource interface {
	Read(ctx context.Context) (Frame, error)
}

// Detector finds candidate targets in a frame, in no particular order.
type Detector interface {
	Detect(frame Frame) ([]Box, error)
}

// Presenter receives annotations. Publish must not block.
type Presenter interface {
	Publish(a Annotation)
}

// Dispatcher is the part of the scheduler the loop drives.
type Dispatcher interface {
	Dispatch(cmd command.Command) *scheduler.Ticket
	TryDispatch(cmd command.Command) (*scheduler.Ticket, bool)
}

// DispatchMode selects how tracking commands interact with one in flight.
type DispatchMode string

const (
	// ModeSupersede cancels the in-flight command.
	ModeSupersede DispatchMode = "supersede"
	// ModeSkipBusy drops the correction while a command is in flight.
	ModeSkipBusy DispatchMode = "skip-busy"
)

func ParseDispatchMode(s string) (DispatchMode, error) {
	switch m := DispatchMode(s); m {
	case ModeSupersede, ModeSkipBusy:
		return m, nil
	default:
		return "", fmt.Errorf("unknown dispatch mode %q", s)
	}
}

// Annotation describes one processed frame for presentation.
type Annotation struct {
	Seq         uint64       `json:"seq"`
	Time        time.Time    `json:"time"`
	FrameWidth  int          `json:"frame_width"`
	FrameHeight int          `json:"frame_height"`
	Boxes       []Box        `json:"boxes"`
	Target      *Box         `json:"target,omitempty"`
	Delta       *TargetDelta `json:"delta,omitempty"`
	Command     string       `json:"command,omitempty"`
	Dispatched  bool         `json:"dispatched"`
	Tracking    bool         `json:"tracking"`
}

// LoopConfig configures the frame loop.
type LoopConfig struct {
	Centering Centering
	Mode      DispatchMode
	// Pause is slept between reads to rate-limit capture.
	Pause time.Duration
	// Enabled starts the loop with actuation on.
	Enabled bool
}

// errorBackoff is slept after a failed read so a broken source does not spin.
const errorBackoff = 100 * time.Millisecond

// Loop pulls frames, detects, selects a target and drives the centering
// controller, dispatching at most one command per frame.
type Loop struct {
	source     FrameSource
	detector   Detector
	dispatcher Dispatcher
	presenter  Presenter
	logger     *logrus.Logger

	mu        sync.RWMutex
	centering Centering
	mode      DispatchMode
	pause     time.Duration

	enabled atomic.Bool
	seq     atomic.Uint64
}

// NewLoop wires the loop. presenter may be nil.
func NewLoop(source FrameSource, detector Detector, dispatcher Dispatcher, presenter Presenter, cfg LoopConfig, logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSupersede
	}
	l := &Loop{
		source:     source,
		detector:   detector,
		dispatcher: dispatcher,
		presenter:  presenter,
		logger:     logger,
		centering:  cfg.Centering,
		mode:       cfg.Mode,
		pause:      cfg.Pause,
	}
	l.enabled.Store(cfg.Enabled)
	return l
}

// SetEnabled turns actuation on or off. Frames are still annotated.
func (l *Loop) SetEnabled(on bool) {
	l.enabled.Store(on)
	l.logger.WithField("enabled", on).Info("Tracking toggled")
}

func (l *Loop) Enabled() bool { return l.enabled.Load() }

// SetStep changes the step used for later corrections.
func (l *Loop) SetStep(step int) error {
	if step < 1 || step > MaxStep {
		return fmt.Errorf("step %d out of range 1-%d", step, MaxStep)
	}
	l.mu.Lock()
	l.centering.Step = step
	l.mu.Unlock()
	return nil
}

func (l *Loop) Step() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.centering.Step
}

// Run processes frames until ctx is done or the source ends.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Frame loop started")
	defer l.logger.Info("Frame loop stopped")

	for ctx.Err() == nil {
		frame, err := l.source.Read(ctx)
		if errors.Is(err, ErrEndOfStream) {
			l.logger.Info("No captured frame, end of stream")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.WithError(err).Warn("Frame read failed")
			sleep(ctx, errorBackoff)
			continue
		}

		l.Process(frame)
		if err := frame.Close(); err != nil {
			l.logger.WithError(err).Debug("Frame close failed")
		}

		l.mu.RLock()
		pause := l.pause
		l.mu.RUnlock()
		if pause > 0 {
			sleep(ctx, pause)
		}
	}
	return nil
}

// Process handles a single frame and returns its annotation. Empty frames
// are skipped and yield a zero annotation.
func (l *Loop) Process(frame Frame) Annotation {
	if frame.Empty() {
		return Annotation{}
	}

	boxes, err := l.detector.Detect(frame)
	if err != nil {
		l.logger.WithError(err).Warn("Detection failed, skipping frame")
		return Annotation{}
	}

	w, h := frame.Width(), frame.Height()
	ann := Annotation{
		Seq:         l.seq.Add(1),
		Time:        time.Now(),
		FrameWidth:  w,
		FrameHeight: h,
		Boxes:       boxes,
		Tracking:    l.enabled.Load(),
	}

	if target, ok := SelectTarget(boxes); ok {
		d := Delta(w, h, target)
		ann.Target = &target
		ann.Delta = &d

		l.mu.RLock()
		centering, mode := l.centering, l.mode
		l.mu.RUnlock()

		if cmd, ok := centering.ComputeAction(w, h, target); ok {
			ann.Command = cmd.Code().String()
			if ann.Tracking {
				ann.Dispatched = l.dispatch(mode, cmd)
			}
		}
	}

	if l.presenter != nil {
		l.presenter.Publish(ann)
	}
	return ann
}

func (l *Loop) dispatch(mode DispatchMode, cmd command.Command) bool {
	if mode == ModeSkipBusy {
		_, ok := l.dispatcher.TryDispatch(cmd)
		return ok
	}
	l.dispatcher.Dispatch(cmd)
	return true
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

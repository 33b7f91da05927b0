package ptz

import (
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantilt-tracker/internal/command"
	"pantilt-tracker/internal/scheduler"
)

type fakeDispatcher struct {
	sent      []command.Command
	cancels   int
	inFlight  bool
	closedSch bool
}

func (f *fakeDispatcher) Dispatch(cmd command.Command) *scheduler.Ticket {
	if f.closedSch {
		return nil
	}
	f.sent = append(f.sent, cmd)
	f.inFlight = true
	return &scheduler.Ticket{Command: cmd}
}

func (f *fakeDispatcher) Cancel() bool {
	f.cancels++
	was := f.inFlight
	f.inFlight = false
	return was
}

func newRemote(t *testing.T, d *fakeDispatcher) *Remote {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	r, err := NewRemote(d, 10, l)
	require.NoError(t, err)
	return r
}

func TestAxis(t *testing.T) {
	tests := []struct {
		name      string
		pan, tilt float64
		want      command.Code
		ok        bool
	}{
		{name: "deadzone", pan: 0.04, tilt: -0.04},
		{name: "left", pan: -1, want: command.PanLeft, ok: true},
		{name: "right", pan: 0.5, tilt: 0.2, want: command.PanRight, ok: true},
		{name: "down", pan: 0.1, tilt: -0.9, want: command.TiltDown, ok: true},
		{name: "up", tilt: 0.3, want: command.TiltUp, ok: true},
		{name: "tie goes to pan", pan: 0.5, tilt: 0.5, want: command.PanRight, ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, ok, err := Axis(tt.pan, tt.tilt, 7)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, cmd.Code())
				assert.Equal(t, 7, cmd.Data())
			}
		})
	}

	_, _, err := Axis(math.NaN(), 0, 5)
	assert.Error(t, err)
}

func TestRemotePanTiltUsesStep(t *testing.T) {
	d := &fakeDispatcher{}
	r := newRemote(t, d)

	require.NoError(t, r.PanTilt(-1, 0))
	require.NoError(t, r.SetStep(30))
	require.NoError(t, r.PanTilt(0, 1))
	require.NoError(t, r.PanTilt(0, 0))

	require.Len(t, d.sent, 2)
	assert.Equal(t, command.MustNew(command.PanLeft, 10), d.sent[0])
	assert.Equal(t, command.MustNew(command.TiltUp, 30), d.sent[1])
}

func TestRemoteAbsoluteAndFixed(t *testing.T) {
	d := &fakeDispatcher{}
	r := newRemote(t, d)

	require.NoError(t, r.PanTo(200))
	require.NoError(t, r.TiltTo(0))
	require.NoError(t, r.Ping())
	require.NoError(t, r.SelfTest())
	require.NoError(t, r.Reset())
	assert.ErrorIs(t, r.TiltTo(256), command.ErrDataOutOfRange)

	assert.Equal(t, []command.Command{
		command.MustNew(command.PanTo, 200),
		command.MustNew(command.TiltTo, 0),
		command.NewPing(),
		command.NewSelfTest(),
		command.NewReset(),
	}, d.sent)
}

func TestRemoteStopCancels(t *testing.T) {
	d := &fakeDispatcher{}
	r := newRemote(t, d)
	require.NoError(t, r.Ping())
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	assert.Equal(t, 2, d.cancels)
	assert.False(t, d.inFlight)
}

func TestRemoteStepValidation(t *testing.T) {
	d := &fakeDispatcher{}
	r := newRemote(t, d)
	assert.Error(t, r.SetStep(0))
	assert.Error(t, r.SetStep(MaxStep+1))
	assert.Equal(t, 10, r.Step())

	_, err := NewRemote(d, 0, nil)
	assert.Error(t, err)
}

func TestRemoteSchedulerClosed(t *testing.T) {
	d := &fakeDispatcher{closedSch: true}
	r := newRemote(t, d)
	assert.ErrorIs(t, r.Ping(), ErrNotConnected)
	assert.ErrorIs(t, r.PanTilt(1, 0), ErrNotConnected)
	assert.ErrorIs(t, r.PanTo(128), ErrNotConnected)
}

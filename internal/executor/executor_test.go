package executor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantilt-tracker/internal/command"
	"pantilt-tracker/internal/link"
)

// mockTransport records payloads and answers with SendFunc.
type mockTransport struct {
	mu       sync.Mutex
	open     bool
	opens    int
	openErr  error
	payloads [][]byte

	SendFunc func(ctx context.Context, payload []byte) error
}

func (m *mockTransport) Open(string, int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.open = true
	m.opens++
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

func (m *mockTransport) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *mockTransport) SendSynchronous(ctx context.Context, dest link.Address, payload []byte, timeout time.Duration) error {
	m.mu.Lock()
	m.payloads = append(m.payloads, append([]byte(nil), payload...))
	m.mu.Unlock()
	if m.SendFunc != nil {
		return m.SendFunc(ctx, payload)
	}
	return nil
}

func testSettings() Settings {
	return Settings{
		Port:        "/dev/ttyUSB0",
		BaudRate:    9600,
		Destination: link.DefaultAddress,
		Timeout:     time.Second,
	}
}

func newTestExecutor(t *testing.T, tr *mockTransport) *Executor {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	e, err := New(link.NewGate(tr, logger), testSettings(), logger)
	require.NoError(t, err)
	return e
}

func TestExecuteOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		sendErr error
		want    command.Outcome
	}{
		{"success", nil, command.Succeeded()},
		{"timeout", command.ErrTransportTimeout, command.Failed("timeout")},
		{"wrapped timeout", errors.Join(errors.New("radio"), command.ErrTransportTimeout), command.Failed("timeout")},
		{"remote failure", command.ErrTransportProtocol, command.Failed("transport protocol failure")},
		{"send exception", errors.New("write: broken pipe"), command.Failed("write: broken pipe")},
		{"transport cancelled", command.ErrCancelled, command.Cancelled()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &mockTransport{SendFunc: func(context.Context, []byte) error { return tt.sendErr }}
			e := newTestExecutor(t, tr)

			got := e.Execute(context.Background(), command.MustNew(command.PanLeft, 5))
			assert.Equal(t, tt.want, got)
			assert.False(t, tr.IsOpen(), "link left open")
		})
	}
}

func TestExecuteSelfTestSuccess(t *testing.T) {
	tr := &mockTransport{}
	e := newTestExecutor(t, tr)

	got := e.Execute(context.Background(), command.NewSelfTest())
	assert.Equal(t, command.StatusSuccess, got.Status)
	require.Len(t, tr.payloads, 1)
	assert.Equal(t, []byte{7, 0}, tr.payloads[0])
	assert.False(t, tr.IsOpen())
}

func TestExecuteRoundTripsPayload(t *testing.T) {
	tr := &mockTransport{}
	e := newTestExecutor(t, tr)

	e.Execute(context.Background(), command.MustNew(command.PanTo, 200))
	require.Len(t, tr.payloads, 1)

	decoded, err := command.DecodePayload(tr.payloads[0])
	require.NoError(t, err)
	assert.Equal(t, command.PanTo, decoded.Code())
	assert.Equal(t, 200, decoded.Data())
}

func TestExecuteInvalidCommandSkipsLink(t *testing.T) {
	tr := &mockTransport{}
	e := newTestExecutor(t, tr)

	got := e.Execute(context.Background(), command.MustNew(command.Code(9), 0))
	assert.Equal(t, command.Failed("invalid command"), got)
	assert.Zero(t, tr.opens)
	assert.Empty(t, tr.payloads)
}

func TestExecuteOpenFailure(t *testing.T) {
	tr := &mockTransport{openErr: errors.New("no such file or directory")}
	e := newTestExecutor(t, tr)

	got := e.Execute(context.Background(), command.NewPing())
	assert.Equal(t, command.StatusFailed, got.Status)
	assert.Contains(t, got.Reason, "transport open failed")
	assert.False(t, tr.IsOpen())
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	tr := &mockTransport{}
	e := newTestExecutor(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := e.Execute(ctx, command.NewReset())
	assert.Equal(t, command.Cancelled(), got)
	assert.Zero(t, tr.opens)
}

func TestExecuteCancelledDuringTransaction(t *testing.T) {
	sending := make(chan struct{})
	tr := &mockTransport{SendFunc: func(ctx context.Context, _ []byte) error {
		close(sending)
		<-ctx.Done()
		return command.ErrCancelled
	}}
	e := newTestExecutor(t, tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan command.Outcome, 1)
	go func() { done <- e.Execute(ctx, command.MustNew(command.TiltUp, 5)) }()

	<-sending
	cancel()
	got := <-done
	assert.Equal(t, command.Cancelled(), got)
	assert.False(t, tr.IsOpen())
}

func TestExecuteCancelledAfterSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := &mockTransport{SendFunc: func(context.Context, []byte) error {
		cancel()
		return nil
	}}
	e := newTestExecutor(t, tr)

	assert.Equal(t, command.Cancelled(), e.Execute(ctx, command.MustNew(command.TiltDown, 5)))
	assert.False(t, tr.IsOpen())
}

func TestSettingsValidation(t *testing.T) {
	s := testSettings()
	s.BaudRate = 115200
	require.Error(t, s.Validate())

	s = testSettings()
	s.Port = ""
	require.Error(t, s.Validate())

	s = testSettings()
	s.Timeout = 0
	require.Error(t, s.Validate())

	for _, baud := range BaudRates {
		s = testSettings()
		s.BaudRate = baud
		require.NoError(t, s.Validate(), baud)
	}
}

func TestUpdateSettings(t *testing.T) {
	e := newTestExecutor(t, &mockTransport{})

	s := testSettings()
	s.BaudRate = 19200
	require.NoError(t, e.UpdateSettings(s))
	assert.Equal(t, 19200, e.Settings().BaudRate)

	s.BaudRate = 1
	require.Error(t, e.UpdateSettings(s))
	assert.Equal(t, 19200, e.Settings().BaudRate)
}

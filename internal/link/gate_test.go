package link

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantilt-tracker/internal/command"
)

type fakeTransport struct {
	mu       sync.Mutex
	open     bool
	opens    int
	closes   int
	openErr  error
	closeErr error

	concurrent atomic.Int32
	maxSeen    atomic.Int32
	SendFunc   func(ctx context.Context, dest Address, payload []byte, timeout time.Duration) error
}

func (f *fakeTransport) Open(port string, baud int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	if f.open {
		return errors.New("already open")
	}
	f.open = true
	f.opens++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closes++
	return f.closeErr
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) SendSynchronous(ctx context.Context, dest Address, payload []byte, timeout time.Duration) error {
	n := f.concurrent.Add(1)
	defer f.concurrent.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.SendFunc != nil {
		return f.SendFunc(ctx, dest, payload, timeout)
	}
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestWithLinkOpensAndCloses(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGate(tr, quietLogger())

	err := g.WithLink(context.Background(), "/dev/ttyUSB0", 9600, func(s Session) error {
		assert.True(t, tr.IsOpen())
		assert.True(t, g.Holding())
		return s.SendSynchronous(context.Background(), DefaultAddress, []byte{0, 5}, time.Second)
	})
	require.NoError(t, err)
	assert.False(t, tr.IsOpen())
	assert.False(t, g.Holding())
	assert.Equal(t, 1, tr.opens)
	assert.Equal(t, 1, tr.closes)
	assert.EqualValues(t, 1, g.Transactions())
}

func TestWithLinkClosesOnError(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGate(tr, quietLogger())
	boom := errors.New("boom")

	err := g.WithLink(context.Background(), "p", 9600, func(Session) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, tr.IsOpen())
}

func TestWithLinkClosesOnPanic(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGate(tr, quietLogger())

	assert.Panics(t, func() {
		_ = g.WithLink(context.Background(), "p", 9600, func(Session) error { panic("fault") })
	})
	assert.False(t, tr.IsOpen())
	assert.False(t, g.Holding())

	// The gate is usable again afterwards.
	require.NoError(t, g.WithLink(context.Background(), "p", 9600, func(Session) error { return nil }))
}

func TestWithLinkOpenFailure(t *testing.T) {
	tr := &fakeTransport{openErr: errors.New("no such port")}
	g := NewGate(tr, quietLogger())

	called := false
	err := g.WithLink(context.Background(), "/dev/none", 9600, func(Session) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, command.ErrTransportOpen)
	assert.False(t, called)
	assert.False(t, tr.IsOpen())
}

func TestWithLinkCloseFailureSurfaces(t *testing.T) {
	tr := &fakeTransport{closeErr: errors.New("close failed")}
	g := NewGate(tr, quietLogger())

	err := g.WithLink(context.Background(), "p", 9600, func(Session) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
}

func TestWithLinkCancelledWhileWaiting(t *testing.T) {
	tr := &fakeTransport{}
	g := NewGate(tr, quietLogger())

	release := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = g.WithLink(context.Background(), "p", 9600, func(Session) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := g.WithLink(ctx, "p", 9600, func(Session) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, command.ErrCancelled)
	assert.False(t, called)

	close(release)
}

func TestWithLinkIsExclusive(t *testing.T) {
	tr := &fakeTransport{
		SendFunc: func(ctx context.Context, dest Address, payload []byte, timeout time.Duration) error {
			time.Sleep(2 * time.Millisecond)
			return nil
		},
	}
	g := NewGate(tr, quietLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.WithLink(context.Background(), "p", 9600, func(s Session) error {
				return s.SendSynchronous(context.Background(), DefaultAddress, []byte{6, 111}, time.Second)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, tr.maxSeen.Load())
	assert.Equal(t, 20, tr.opens)
	assert.Equal(t, 20, tr.closes)
	assert.False(t, tr.IsOpen())
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, "0x8081", DefaultAddress.String())
}

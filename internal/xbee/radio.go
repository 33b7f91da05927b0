package xbee

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"

	"pantilt-tracker/internal/command"
	"pantilt-tracker/internal/link"
)

// ErrNotOpen is returned when sending on a closed radio.
var ErrNotOpen = errors.New("xbee: port not open")

// StatusError carries a non-success TxStatus from the radio.
type StatusError struct {
	Status TxStatusCode
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote reported %s", e.Status)
}

func (e *StatusError) Unwrap() error {
	return command.ErrTransportProtocol
}

// Port is the part of a serial port the radio uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// OpenFunc opens a serial port at the given baud rate.
type OpenFunc func(name string, baudRate int) (Port, error)

// OpenSerial opens a real serial port with 8N1 framing.
func OpenSerial(name string, baudRate int) (Port, error) {
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Config for the radio.
type Config struct {
	Open OpenFunc
	// PollInterval bounds each blocking read so cancellation is observed.
	PollInterval time.Duration
}

// Radio talks to the local XBee module in API mode. It implements
// link.Transport; callers serialize access through a link.Gate.
type Radio struct {
	cfg    Config
	logger *logrus.Logger

	mu      sync.Mutex
	port    Port
	name    string
	frameID byte
}

var _ link.Transport = (*Radio)(nil)

// NewRadio creates a radio that opens ports with cfg.Open (OpenSerial if nil).
func NewRadio(cfg Config, logger *logrus.Logger) *Radio {
	if cfg.Open == nil {
		cfg.Open = OpenSerial
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Radio{cfg: cfg, logger: logger}
}

// Open opens the serial port. Opening an already open radio is an error.
func (r *Radio) Open(name string, baudRate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port != nil {
		return fmt.Errorf("xbee: %s already open", r.name)
	}
	p, err := r.cfg.Open(name, baudRate)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	if err := p.SetReadTimeout(r.cfg.PollInterval); err != nil {
		p.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", name, err)
	}
	r.port = p
	r.name = name
	return nil
}

// Close closes the serial port.
func (r *Radio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	return err
}

func (r *Radio) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port != nil
}

// nextFrameID returns a rolling non-zero frame id. Zero would suppress the
// TxStatus response.
func (r *Radio) nextFrameID() byte {
	r.frameID++
	if r.frameID == 0 {
		r.frameID = 1
	}
	return r.frameID
}

// SendSynchronous sends payload in a TxRequest16 and waits for the matching
// TxStatus.
func (r *Radio) SendSynchronous(ctx context.Context, dest link.Address, payload []byte, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port == nil {
		return ErrNotOpen
	}

	// Drop anything the remote sent since the last transaction.
	if err := r.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to flush input: %w", err)
	}

	req := TxRequest16{
		FrameID:     r.nextFrameID(),
		Destination: uint16(dest),
		Options:     optionNone,
		Payload:     payload,
	}
	r.logger.WithFields(logrus.Fields{
		"dest":     dest,
		"frame_id": req.FrameID,
		"payload":  payload,
	}).Debug("Sending request")

	if _, err := r.port.Write(req.Marshal()); err != nil {
		return fmt.Errorf("failed to write request: %w", err)
	}

	dec := NewDecoder(&deadlineReader{
		ctx:      ctx,
		r:        r.port,
		deadline: time.Now().Add(timeout),
	})
	for {
		data, err := dec.Next()
		if errors.Is(err, ErrChecksum) {
			r.logger.Warn("Dropping frame with bad checksum")
			continue
		}
		if err != nil {
			return err
		}
		if len(data) == 0 || data[0] != apiTxStatus {
			r.logger.WithField("api_id", fmt.Sprintf("0x%02X", firstByte(data))).Debug("Ignoring unrelated frame")
			continue
		}
		status, err := parseTxStatus(data)
		if err != nil {
			return err
		}
		if status.FrameID != req.FrameID {
			continue
		}
		if status.Status != TxSuccess {
			return &StatusError{Status: status.Status}
		}
		return nil
	}
}

func firstByte(b []byte) byte {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

// deadlineReader turns the port's short read timeouts into a single
// deadline and observes ctx between reads.
type deadlineReader struct {
	ctx      context.Context
	r        io.Reader
	deadline time.Time
}

func (d *deadlineReader) Read(p []byte) (int, error) {
	for {
		if err := d.ctx.Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", command.ErrCancelled, err)
		}
		if !time.Now().Before(d.deadline) {
			return 0, command.ErrTransportTimeout
		}
		n, err := d.r.Read(p)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

// ListPorts returns the serial ports present on this machine, or the usual
// USB adapter names when enumeration is unavailable.
func ListPorts() []string {
	ports, err := serial.GetPortsList()
	if err != nil || len(ports) == 0 {
		return []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2", "/dev/ttyUSB3", "/dev/ttyUSB4", "/dev/ttyUSB5"}
	}
	return ports
}

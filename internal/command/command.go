package command

import (
	"fmt"
	"strings"
)

// Code identifies a command understood by the pan/tilt microcontroller.
// The numeric values are the first byte of the wire payload.
type Code uint8

const (
	PanLeft  Code = 0
	PanRight Code = 1
	TiltDown Code = 2
	TiltUp   Code = 3
	PanTo    Code = 4
	TiltTo   Code = 5
	Ping     Code = 6
	SelfTest Code = 7
	Reset    Code = 8
)

// PingData is the fixed data byte the controller expects with a ping.
const PingData = 111

// MaxData is the largest value that fits the data byte.
const MaxData = 255

var codeNames = [...]string{
	PanLeft:  "PAN LEFT",
	PanRight: "PAN RIGHT",
	TiltDown: "TILT DOWN",
	TiltUp:   "TILT UP",
	PanTo:    "PAN TO",
	TiltTo:   "TILT TO",
	Ping:     "PING",
	SelfTest: "SELF TEST",
	Reset:    "RESET",
}

// Valid reports whether c is one of the known command codes.
func (c Code) Valid() bool {
	return int(c) < len(codeNames)
}

func (c Code) String() string {
	if c.Valid() {
		return codeNames[c]
	}
	return fmt.Sprintf("invalid (%d)", uint8(c))
}

// ParseCode accepts names like "PAN_LEFT", "pan-left" or "PAN LEFT".
func ParseCode(name string) (Code, error) {
	norm := strings.ToUpper(strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(name)))
	for i, n := range codeNames {
		if n == norm {
			return Code(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, name)
}

// Command is a single instruction for the remote controller. It is immutable;
// build a new one for every dispatch.
type Command struct {
	code Code
	data uint8
}

// New builds a command. Data outside 0-255 is rejected; unknown codes are
// accepted here and reported by the executor.
func New(code Code, data int) (Command, error) {
	if data < 0 || data > MaxData {
		return Command{}, fmt.Errorf("%w: %s data %d", ErrDataOutOfRange, code, data)
	}
	return Command{code: code, data: uint8(data)}, nil
}

// MustNew is New for constant arguments.
func MustNew(code Code, data int) Command {
	cmd, err := New(code, data)
	if err != nil {
		panic(err)
	}
	return cmd
}

// NewPing returns a ping command carrying PingData.
func NewPing() Command { return Command{code: Ping, data: PingData} }

// NewSelfTest asks the controller to run its self test.
func NewSelfTest() Command { return Command{code: SelfTest} }

// NewReset moves the head back to its default position.
func NewReset() Command { return Command{code: Reset} }

func (c Command) Code() Code { return c.code }

func (c Command) Data() int { return int(c.data) }

func (c Command) String() string {
	return fmt.Sprintf("%s(%d)", c.code, c.data)
}

// Payload encodes the command as the two-byte [code, data] wire payload.
func (c Command) Payload() []byte {
	return []byte{byte(c.code), c.data}
}

// DecodePayload parses a two-byte wire payload.
func DecodePayload(p []byte) (Command, error) {
	if len(p) != 2 {
		return Command{}, fmt.Errorf("%w: payload length %d, want 2", ErrInvalidCommand, len(p))
	}
	return Command{code: Code(p[0]), data: p[1]}, nil
}

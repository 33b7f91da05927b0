package xbee

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// API frame constants (API mode 2, escaped).
const (
	startDelimiter byte = 0x7E
	escapeByte     byte = 0x7D
	xon            byte = 0x11
	xoff           byte = 0x13
	escapeMask     byte = 0x20

	apiTxRequest16 byte = 0x01
	apiTxStatus    byte = 0x89

	// optionNone requests an ACK from the remote radio.
	optionNone byte = 0x00
)

var (
	ErrChecksum     = errors.New("xbee: checksum mismatch")
	ErrShortFrame   = errors.New("xbee: frame too short")
	ErrUnexpectedID = errors.New("xbee: unexpected api id")
)

// TxStatusCode is the delivery status reported for a TxRequest16.
type TxStatusCode byte

const (
	TxSuccess    TxStatusCode = 0
	TxNoAck      TxStatusCode = 1
	TxCCAFailure TxStatusCode = 2
	TxPurged     TxStatusCode = 3
)

func (s TxStatusCode) String() string {
	switch s {
	case TxSuccess:
		return "SUCCESS"
	case TxNoAck:
		return "NO_ACK"
	case TxCCAFailure:
		return "CCA_FAILURE"
	case TxPurged:
		return "PURGED"
	default:
		return fmt.Sprintf("STATUS_%02X", byte(s))
	}
}

// TxRequest16 addresses payload to a 16-bit radio address.
type TxRequest16 struct {
	FrameID     byte
	Destination uint16
	Options     byte
	Payload     []byte
}

// frameData returns the API identifier and body, without framing.
func (r TxRequest16) frameData() []byte {
	data := make([]byte, 0, 5+len(r.Payload))
	data = append(data, apiTxRequest16, r.FrameID, byte(r.Destination>>8), byte(r.Destination), r.Options)
	data = append(data, r.Payload...)
	return data
}

// Marshal encodes the request as a complete escaped API frame.
func (r TxRequest16) Marshal() []byte {
	return encodeFrame(r.frameData())
}

// TxStatus is the radio's response to a TxRequest16.
type TxStatus struct {
	FrameID byte
	Status  TxStatusCode
}

func (s TxStatus) Marshal() []byte {
	return encodeFrame([]byte{apiTxStatus, s.FrameID, byte(s.Status)})
}

// ParseTxRequest16 decodes unescaped frame data into a request.
func ParseTxRequest16(data []byte) (TxRequest16, error) {
	if len(data) < 5 {
		return TxRequest16{}, ErrShortFrame
	}
	if data[0] != apiTxRequest16 {
		return TxRequest16{}, fmt.Errorf("%w: 0x%02X", ErrUnexpectedID, data[0])
	}
	return TxRequest16{
		FrameID:     data[1],
		Destination: uint16(data[2])<<8 | uint16(data[3]),
		Options:     data[4],
		Payload:     append([]byte(nil), data[5:]...),
	}, nil
}

// parseTxStatus decodes unescaped frame data into a status response.
func parseTxStatus(data []byte) (TxStatus, error) {
	if len(data) < 3 {
		return TxStatus{}, ErrShortFrame
	}
	if data[0] != apiTxStatus {
		return TxStatus{}, fmt.Errorf("%w: 0x%02X", ErrUnexpectedID, data[0])
	}
	return TxStatus{FrameID: data[1], Status: TxStatusCode(data[2])}, nil
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0xFF - sum
}

func needsEscape(b byte) bool {
	return b == startDelimiter || b == escapeByte || b == xon || b == xoff
}

func appendEscaped(dst []byte, b byte) []byte {
	if needsEscape(b) {
		return append(dst, escapeByte, b^escapeMask)
	}
	return append(dst, b)
}

// encodeFrame wraps frame data: start delimiter, length, data, checksum.
// Everything after the start delimiter is escaped.
func encodeFrame(data []byte) []byte {
	out := make([]byte, 0, len(data)*2+4)
	out = append(out, startDelimiter)
	out = appendEscaped(out, byte(len(data)>>8))
	out = appendEscaped(out, byte(len(data)))
	for _, b := range data {
		out = appendEscaped(out, b)
	}
	return appendEscaped(out, checksum(data))
}

// Decoder reads escaped API frames from a byte stream.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b == escapeByte {
		next, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		return next ^ escapeMask, nil
	}
	return b, nil
}

// Next returns the unescaped frame data of the next frame, skipping any
// bytes before a start delimiter.
func (d *Decoder) Next() ([]byte, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == startDelimiter {
			break
		}
	}

	hi, err := d.readByte()
	if err != nil {
		return nil, err
	}
	lo, err := d.readByte()
	if err != nil {
		return nil, err
	}
	n := int(hi)<<8 | int(lo)

	data := make([]byte, n)
	for i := range data {
		if data[i], err = d.readByte(); err != nil {
			return nil, err
		}
	}
	sum, err := d.readByte()
	if err != nil {
		return nil, err
	}
	if checksum(data) != sum {
		return nil, ErrChecksum
	}
	return data, nil
}

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/cyflash/cyflash/internal/protocol"
)

// serialPort is the subset of go.bug.st/serial.Port this transport relies
// on, kept narrow so tests can exercise the framing logic against a fake
// without reimplementing the whole library interface.
type serialPort interface {
	io.Reader
	io.Writer
	io.Closer
	ResetInputBuffer() error
}

// Parity mirrors the parity settings a bootloader link may be configured
// with, kept distinct from go.bug.st/serial's type so callers outside this
// package don't need to import it just to build a SerialOptions.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

// StopBits mirrors the stop-bit settings a bootloader link may be
// configured with.
type StopBits int

const (
	StopBits1 StopBits = iota
	StopBits1Half
	StopBits2
)

// SerialOptions configures a SerialTransport.
type SerialOptions struct {
	PortName string
	BaudRate int
	Parity   Parity
	StopBits StopBits

	// PollInterval bounds how long a single underlying read blocks before
	// this transport rechecks ctx for cancellation. Smaller values make
	// cancellation more responsive at the cost of more frequent syscalls.
	PollInterval time.Duration
}

func (o SerialOptions) pollInterval() time.Duration {
	if o.PollInterval > 0 {
		return o.PollInterval
	}
	return 50 * time.Millisecond
}

func toLibParity(p Parity) serial.Parity {
	switch p {
	case ParityOdd:
		return serial.OddParity
	case ParityEven:
		return serial.EvenParity
	case ParityMark:
		return serial.MarkParity
	case ParitySpace:
		return serial.SpaceParity
	default:
		return serial.NoParity
	}
}

func toLibStopBits(s StopBits) serial.StopBits {
	switch s {
	case StopBits1Half:
		return serial.OnePointFiveStopBits
	case StopBits2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

// SerialTransport exchanges bootloader frames over a SOP/EOP-delimited
// serial byte stream. It scans for the start-of-packet byte so that stray
// bytes left over from a prior session, or noise injected while the link
// settles, don't desynchronize framing.
type SerialTransport struct {
	port serialPort
	opts SerialOptions
}

// OpenSerial opens the named serial port under the given options.
func OpenSerial(opts SerialOptions) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: 8,
		Parity:   toLibParity(opts.Parity),
		StopBits: toLibStopBits(opts.StopBits),
	}

	port, err := serial.Open(opts.PortName, mode)
	if err != nil {
		return nil, &Error{Op: "open " + opts.PortName, Err: err}
	}
	if err := port.SetReadTimeout(opts.pollInterval()); err != nil {
		port.Close()
		return nil, &Error{Op: "set read timeout", Err: err}
	}

	return &SerialTransport{port: port, opts: opts}, nil
}

// Close closes the underlying serial port.
func (t *SerialTransport) Close() error {
	return t.port.Close()
}

// Send writes a complete frame to the port.
func (t *SerialTransport) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.port.Write(frame); err != nil {
		return &Error{Op: "write", Err: err}
	}
	return nil
}

// Receive scans the stream for a start-of-packet byte, then reads a
// complete frame: code/status byte, little-endian length, payload,
// checksum, and end-of-packet byte. It discards any bytes read before the
// start-of-packet byte is found.
func (t *SerialTransport) Receive(ctx context.Context) ([]byte, error) {
	if err := t.scanForSOP(ctx); err != nil {
		return nil, err
	}

	header, err := t.readExact(ctx, 3) // code/status + len_lo + len_hi
	if err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint16(header[1:3])

	rest, err := t.readExact(ctx, int(length)+3) // payload + checksum(2) + EOP
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, 1+len(header)+len(rest))
	frame = append(frame, protocol.SOP)
	frame = append(frame, header...)
	frame = append(frame, rest...)
	return frame, nil
}

func (t *SerialTransport) scanForSOP(ctx context.Context) error {
	buf := make([]byte, 1)
	for {
		if err := ctxReadErr(ctx); err != nil {
			return err
		}
		n, err := t.port.Read(buf)
		if err != nil {
			return &Error{Op: "read", Err: err}
		}
		if n == 1 && buf[0] == protocol.SOP {
			return nil
		}
	}
}

// ctxReadErr translates a canceled read context into the same *Timeout the
// CAN transport returns when its own receive budget expires, so callers see
// one timeout taxonomy regardless of transport. A context canceled for
// reasons other than its own deadline (operator interrupt) is passed
// through unwrapped.
func ctxReadErr(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Timeout{Op: "read"}
	}
	return err
}

// readExact blocks until n bytes have been read, rechecking ctx between
// each underlying read so a canceled context unblocks a stalled link.
func (t *SerialTransport) readExact(ctx context.Context, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if err := ctxReadErr(ctx); err != nil {
			return nil, err
		}
		read, err := t.port.Read(buf[:n-len(out)])
		if err != nil {
			return nil, &Error{Op: "read", Err: err}
		}
		out = append(out, buf[:read]...)
	}
	return out, nil
}

// Flush discards any buffered input, used before retrying a desynced
// exchange.
func (t *SerialTransport) Flush() error {
	if err := t.port.ResetInputBuffer(); err != nil {
		return &Error{Op: "flush", Err: err}
	}
	return nil
}

// ListSerialPorts returns the names of available serial ports.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	return ports, nil
}

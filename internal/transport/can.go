package transport

import (
	"context"
	"net"
	"time"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"

	"github.com/cyflash/cyflash/internal/protocol"
)

// canPermutation reorders an 8-byte CAN frame payload. The bootloader's CAN
// transport firmware applies this same byte-swap on both the send and
// receive side, so calling permuteCAN twice is a no-op; this transport
// mirrors that symmetry rather than inventing its own.
var canPermutation = [8]int{3, 2, 1, 0, 7, 6, 5, 4}

func permuteCAN(in [8]byte) [8]byte {
	var out [8]byte
	for i, src := range canPermutation {
		out[i] = in[src]
	}
	return out
}

// CANOptions configures a CANTransport.
type CANOptions struct {
	Interface string // e.g. "can0"

	// DeviceID is the arbitration id this host uses when addressing the
	// target device directly.
	DeviceID uint32

	// BroadcastID, if nonzero, is an additional arbitration id the target
	// may reply on when addressed as part of a broadcast group.
	BroadcastID uint32

	// WildcardID, if nonzero, is an arbitration id this transport accepts
	// frames from regardless of DeviceID/BroadcastID, used on buses where
	// a bootloader hasn't yet been told which id to use.
	WildcardID uint32

	// Echo, when true, means the bus echoes back every transmitted frame;
	// this transport waits for that echo before sending the next fragment
	// instead of sleeping a fixed delay.
	Echo bool

	// SendDelay is the pause between fragments when Echo is false.
	SendDelay time.Duration
}

// CANTransport exchanges bootloader frames over SocketCAN, fragmenting
// each frame into 8-byte CAN payloads and reassembling them on receive.
type CANTransport struct {
	opts        CANOptions
	conn        net.Conn
	transmitter *socketcan.Transmitter
	receiver    *socketcan.Receiver
}

// OpenCAN opens a SocketCAN interface under the given options.
func OpenCAN(ctx context.Context, opts CANOptions) (*CANTransport, error) {
	conn, err := socketcan.DialContext(ctx, "can", opts.Interface)
	if err != nil {
		return nil, &Error{Op: "dial " + opts.Interface, Err: err}
	}

	return &CANTransport{
		opts:        opts,
		conn:        conn,
		transmitter: socketcan.NewTransmitter(conn),
		receiver:    socketcan.NewReceiver(conn),
	}, nil
}

// Close closes the underlying SocketCAN connection.
func (t *CANTransport) Close() error {
	return t.conn.Close()
}

// Send fragments frame into 8-byte CAN payloads, permutes each one, and
// transmits them in order.
func (t *CANTransport) Send(ctx context.Context, frame []byte) error {
	for offset := 0; offset < len(frame); offset += 8 {
		var chunk [8]byte
		copy(chunk[:], frame[offset:])
		payload := permuteCAN(chunk)

		canFrame := can.Frame{
			ID:     t.opts.DeviceID,
			Length: 8,
			Data:   payload,
		}
		if err := t.transmitter.TransmitFrame(ctx, canFrame); err != nil {
			return &Error{Op: "transmit", Err: err}
		}

		if t.opts.Echo {
			if err := t.awaitEcho(ctx, payload); err != nil {
				return err
			}
		} else if t.opts.SendDelay > 0 {
			select {
			case <-time.After(t.opts.SendDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (t *CANTransport) awaitEcho(ctx context.Context, want [8]byte) error {
	for {
		f, err := t.nextFrame(ctx)
		if err != nil {
			return err
		}
		if f.Data == want {
			return nil
		}
	}
}

// Receive reassembles a complete bootloader frame from one or more CAN
// payloads, accepting only frames whose arbitration id matches the
// configured device, broadcast, or wildcard id. ctx is checked before each
// bus read; a read already blocked on the bus is not interrupted by ctx.
func (t *CANTransport) Receive(ctx context.Context) ([]byte, error) {
	return reassembleCANFrame(func() ([8]byte, int, error) {
		f, err := t.nextFrame(ctx)
		if err != nil {
			return [8]byte{}, 0, err
		}
		return f.Data, int(f.Length), nil
	})
}

// reassembleCANFrame pulls raw (pre-permutation) CAN payloads from next
// until it has accumulated a complete bootloader frame, as determined by
// the length field that appears in the frame's first four bytes once
// enough payload has arrived. Factored out of Receive so the reassembly
// logic can be tested without a live CAN bus.
func reassembleCANFrame(next func() ([8]byte, int, error)) ([]byte, error) {
	var frame []byte
	var want int

	for want == 0 || len(frame) < want {
		raw, length, err := next()
		if err != nil {
			return nil, err
		}
		payload := permuteCAN(raw)
		n := length
		if n > 8 {
			n = 8
		}
		frame = append(frame, payload[:n]...)

		if want == 0 && len(frame) >= 4 {
			declaredLen := int(frame[2]) | int(frame[3])<<8
			want = protocol.MinFrameSize + declaredLen
		}
	}

	if len(frame) > want {
		frame = frame[:want]
	}
	return frame, nil
}

func (t *CANTransport) nextFrame(ctx context.Context) (can.Frame, error) {
	for {
		if err := ctxReadErr(ctx); err != nil {
			return can.Frame{}, err
		}
		if !t.receiver.Receive() {
			if err := t.receiver.Err(); err != nil {
				return can.Frame{}, &Error{Op: "receive", Err: err}
			}
			return can.Frame{}, &Timeout{Op: "receive"}
		}
		f := t.receiver.Frame()
		if t.acceptsID(f.ID) {
			return f, nil
		}
	}
}

func (t *CANTransport) acceptsID(id uint32) bool {
	if id == t.opts.DeviceID {
		return true
	}
	if t.opts.BroadcastID != 0 && id == t.opts.BroadcastID {
		return true
	}
	if t.opts.WildcardID != 0 && id == t.opts.WildcardID {
		return true
	}
	return false
}

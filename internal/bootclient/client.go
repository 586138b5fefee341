// Package bootclient implements one method per bootloader command,
// turning the protocol package's frame/payload codecs and a transport
// into a request/response call for each command in the table.
package bootclient

import (
	"context"
	"fmt"
	"time"

	"github.com/cyflash/cyflash/internal/protocol"
	"github.com/cyflash/cyflash/internal/transport"
)

// DefaultChunkSize is the largest data chunk sent in a single SendData or
// ProgramRow request when streaming a row that doesn't fit in one frame.
const DefaultChunkSize = 32

// ValidChunkSizes lists the chunk sizes a bootloader's RX/TX buffer is
// documented to support. Any other value risks overrunning the device's
// staging buffer.
var ValidChunkSizes = [...]int{16, 32, 64, 128}

// IsValidChunkSize reports whether n is one of ValidChunkSizes.
func IsValidChunkSize(n int) bool {
	for _, v := range ValidChunkSizes {
		if v == n {
			return true
		}
	}
	return false
}

// DefaultTimeout bounds how long a single command waits for its response.
const DefaultTimeout = 5 * time.Second

// Client issues bootloader commands over a transport and decodes their
// responses, surfacing a non-success status byte as a *protocol.BootloaderError.
type Client struct {
	tr        transport.Transport
	checksum  protocol.ChecksumKind
	chunkSize int
	timeout   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithChunkSize overrides DefaultChunkSize.
func WithChunkSize(n int) Option {
	return func(c *Client) { c.chunkSize = n }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// New builds a Client over tr, checksumming frames with kind.
func New(tr transport.Transport, kind protocol.ChecksumKind, opts ...Option) *Client {
	c := &Client{
		tr:        tr,
		checksum:  kind,
		chunkSize: DefaultChunkSize,
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do sends a request frame for cmd and returns the decoded response
// payload, or a *protocol.BootloaderError if the device reports failure.
func (c *Client) do(ctx context.Context, cmd byte, payload []byte) ([]byte, error) {
	frame := protocol.EncodeFrame(cmd, payload, c.checksum)
	if err := c.tr.Send(ctx, frame); err != nil {
		return nil, fmt.Errorf("sending %s: %w", protocol.CmdName(cmd), err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.tr.Receive(recvCtx)
	if err != nil {
		return nil, fmt.Errorf("receiving %s response: %w", protocol.CmdName(cmd), err)
	}

	status, respPayload, err := protocol.DecodeFrame(raw, c.checksum)
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", protocol.CmdName(cmd), err)
	}
	if status != protocol.StatusSuccess {
		return nil, &protocol.BootloaderError{Status: status}
	}
	return respPayload, nil
}

// EnterBootloader starts a bootloader session and returns the device's
// identity.
func (c *Client) EnterBootloader(ctx context.Context) (protocol.Identity, error) {
	payload, err := c.do(ctx, protocol.CmdEnterBootloader, protocol.EncodeEnterBootloaderRequest())
	if err != nil {
		return protocol.Identity{}, err
	}
	return protocol.DecodeEnterBootloaderResponse(payload)
}

// EnterBootloaderRetrying performs the repetitive-init procedure: it calls
// EnterBootloader, and on failure reissues the request every 100ms until a
// well-formed response arrives or duration has elapsed. A zero duration
// means a single try with no retry; a negative duration retries
// indefinitely until ctx is canceled. This gives the operator time to
// power-cycle or reset the device while the host keeps knocking.
func (c *Client) EnterBootloaderRetrying(ctx context.Context, duration time.Duration) (protocol.Identity, error) {
	const spacing = 100 * time.Millisecond

	deadline := time.Now().Add(duration)
	for {
		id, err := c.EnterBootloader(ctx)
		if err == nil {
			return id, nil
		}
		if duration >= 0 && !time.Now().Before(deadline) {
			return protocol.Identity{}, err
		}

		select {
		case <-time.After(spacing):
		case <-ctx.Done():
			return protocol.Identity{}, ctx.Err()
		}
	}
}

// ExitBootloader ends the bootloader session, which on most devices
// triggers a reboot into the application.
func (c *Client) ExitBootloader(ctx context.Context) error {
	_, err := c.do(ctx, protocol.CmdExitBootloader, protocol.EncodeExitBootloaderRequest())
	return err
}

// SyncBootloader asks the device to reset its framing state, used to
// recover from a desynchronized exchange.
func (c *Client) SyncBootloader(ctx context.Context) error {
	_, err := c.do(ctx, protocol.CmdSyncBootloader, protocol.EncodeSyncBootloaderRequest())
	return err
}

// GetFlashSize returns the first and last row numbers of the named flash
// array.
func (c *Client) GetFlashSize(ctx context.Context, arrayID byte) (protocol.FlashArrayInfo, error) {
	payload, err := c.do(ctx, protocol.CmdGetFlashSize, protocol.EncodeGetFlashSizeRequest(arrayID))
	if err != nil {
		return protocol.FlashArrayInfo{}, err
	}
	return protocol.DecodeGetFlashSizeResponse(payload)
}

// GetMetadata returns the application metadata block for the named
// application index.
func (c *Client) GetMetadata(ctx context.Context, appIndex byte) (protocol.Metadata, error) {
	payload, err := c.do(ctx, protocol.CmdGetMetadata, protocol.EncodeGetMetadataRequest(appIndex))
	if err != nil {
		return protocol.Metadata{}, err
	}
	return protocol.DecodeGetMetadataResponse(payload)
}

// EraseRow erases a single flash row.
func (c *Client) EraseRow(ctx context.Context, arrayID byte, row uint16) error {
	_, err := c.do(ctx, protocol.CmdEraseRow, protocol.EncodeEraseRowRequest(arrayID, row))
	return err
}

// VerifyRow returns the device-computed checksum of a previously
// programmed row's data.
func (c *Client) VerifyRow(ctx context.Context, arrayID byte, row uint16) (byte, error) {
	payload, err := c.do(ctx, protocol.CmdVerifyRow, protocol.EncodeVerifyRowRequest(arrayID, row))
	if err != nil {
		return 0, err
	}
	return protocol.DecodeVerifyRowResponse(payload)
}

// VerifyChecksum returns whether the application's overall checksum,
// computed by the device across all programmed flash, is valid.
func (c *Client) VerifyChecksum(ctx context.Context) (bool, error) {
	payload, err := c.do(ctx, protocol.CmdVerifyChecksum, protocol.EncodeVerifyChecksumRequest())
	if err != nil {
		return false, err
	}
	return protocol.DecodeVerifyChecksumResponse(payload)
}

// sendData pushes one chunk of row data into the device's staging buffer
// ahead of a ProgramRow command.
func (c *Client) sendData(ctx context.Context, chunk []byte) error {
	_, err := c.do(ctx, protocol.CmdSendData, protocol.EncodeSendDataRequest(chunk))
	return err
}

// ProgramRow writes data to a flash row, transparently streaming it
// across as many SendData commands as needed when it doesn't fit in a
// single ProgramRow request.
func (c *Client) ProgramRow(ctx context.Context, arrayID byte, row uint16, data []byte) error {
	chunks := splitChunks(data, c.chunkSize)
	for _, part := range chunks[:len(chunks)-1] {
		if err := c.sendData(ctx, part); err != nil {
			return fmt.Errorf("streaming row %d data: %w", row, err)
		}
	}
	last := chunks[len(chunks)-1]
	if _, err := c.do(ctx, protocol.CmdProgramRow, protocol.EncodeProgramRowRequest(arrayID, row, last)); err != nil {
		return fmt.Errorf("program row %d: %w", row, err)
	}
	return nil
}

// splitChunks splits data into pieces no longer than size, always
// returning at least one (possibly empty) piece.
func splitChunks(data []byte, size int) [][]byte {
	if size <= 0 || len(data) <= size {
		return [][]byte{data}
	}
	var out [][]byte
	for len(data) > size {
		out = append(out, data[:size])
		data = data[size:]
	}
	return append(out, data)
}

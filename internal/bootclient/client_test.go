package bootclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cyflash/cyflash/internal/protocol"
	"github.com/cyflash/cyflash/internal/transport"
)

// fakeTransport is a deterministic in-memory transport.Transport: each
// call to Send records the frame, and each call to Receive pops the next
// queued response (or fails, if the queue also holds a sentinel error).
type fakeTransport struct {
	sent      [][]byte
	responses []fakeResponse
	next      int
}

type fakeResponse struct {
	frame []byte
	err   error
}

func (f *fakeTransport) Send(_ context.Context, frame []byte) error {
	f.sent = append(f.sent, append([]byte{}, frame...))
	return nil
}

func (f *fakeTransport) Receive(_ context.Context) ([]byte, error) {
	if f.next >= len(f.responses) {
		return nil, errors.New("fakeTransport: no more queued responses")
	}
	r := f.responses[f.next]
	f.next++
	return r.frame, r.err
}

func (f *fakeTransport) Close() error { return nil }

func successFrame(cmd byte, payload []byte) []byte {
	return protocol.EncodeFrame(protocol.StatusSuccess, payload, protocol.ChecksumSum2Complement)
}

func errorFrame(status byte) []byte {
	return protocol.EncodeFrame(status, nil, protocol.ChecksumSum2Complement)
}

func TestClientEnterBootloader(t *testing.T) {
	payload := []byte{0x78, 0x56, 0x34, 0x12, 0x01, 0x00, 0x02, 0x00}
	tr := &fakeTransport{responses: []fakeResponse{{frame: successFrame(0, payload)}}}
	c := New(tr, protocol.ChecksumSum2Complement)

	id, err := c.EnterBootloader(context.Background())
	if err != nil {
		t.Fatalf("EnterBootloader() error = %v", err)
	}
	if id.SiliconID != 0x12345678 {
		t.Errorf("SiliconID = 0x%08X, want 0x12345678", id.SiliconID)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("len(sent) = %d, want 1", len(tr.sent))
	}
}

func TestClientDoSurfacesBootloaderError(t *testing.T) {
	tr := &fakeTransport{responses: []fakeResponse{{frame: errorFrame(protocol.StatusBadChecksum)}}}
	c := New(tr, protocol.ChecksumSum2Complement)

	_, err := c.EnterBootloader(context.Background())
	if err == nil {
		t.Fatal("EnterBootloader() error = nil, want BootloaderError")
	}
	var be *protocol.BootloaderError
	if !errors.As(err, &be) || be.Status != protocol.StatusBadChecksum {
		t.Errorf("EnterBootloader() error = %v, want BootloaderError{Status: BadChecksum}", err)
	}
}

func TestClientEnterBootloaderRetryingSucceedsEventually(t *testing.T) {
	payload := []byte{0x78, 0x56, 0x34, 0x12, 0x01, 0x00, 0x02, 0x00}
	tr := &fakeTransport{responses: []fakeResponse{
		{frame: errorFrame(protocol.StatusBadDevice)},
		{frame: errorFrame(protocol.StatusBadDevice)},
		{frame: successFrame(0, payload)},
	}}
	c := New(tr, protocol.ChecksumSum2Complement)

	start := time.Now()
	id, err := c.EnterBootloaderRetrying(context.Background(), -1)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("EnterBootloaderRetrying() error = %v", err)
	}
	if id.SiliconID != 0x12345678 {
		t.Errorf("SiliconID = 0x%08X, want 0x12345678", id.SiliconID)
	}
	if elapsed < 190*time.Millisecond {
		t.Errorf("elapsed = %v, want at least ~200ms for two 100ms retries", elapsed)
	}
}

func TestClientEnterBootloaderRetryingRetriesForConfiguredDuration(t *testing.T) {
	payload := []byte{0x78, 0x56, 0x34, 0x12, 0x01, 0x00, 0x02, 0x00}
	responses := []fakeResponse{
		{err: &transport.Timeout{Op: "receive"}},
		{err: &transport.Timeout{Op: "receive"}},
		{err: &transport.Timeout{Op: "receive"}},
		{err: &transport.Timeout{Op: "receive"}},
		{err: &transport.Timeout{Op: "receive"}},
		{frame: successFrame(0, payload)},
	}
	tr := &fakeTransport{responses: responses}
	c := New(tr, protocol.ChecksumSum2Complement)

	start := time.Now()
	id, err := c.EnterBootloaderRetrying(context.Background(), 1*time.Second)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("EnterBootloaderRetrying() error = %v", err)
	}
	if id.SiliconID != 0x12345678 {
		t.Errorf("SiliconID = 0x%08X, want 0x12345678", id.SiliconID)
	}
	if len(tr.sent) < 6 {
		t.Errorf("len(sent) = %d, want at least 6 attempts (5 retries + success)", len(tr.sent))
	}
	if elapsed < 500*time.Millisecond {
		t.Errorf("elapsed = %v, want at least ~500ms for 5 retries spaced 100ms apart", elapsed)
	}
}

func TestClientEnterBootloaderRetryingGivesUpAfterDuration(t *testing.T) {
	tr := &fakeTransport{responses: []fakeResponse{
		{err: &transport.Timeout{Op: "receive"}},
		{err: &transport.Timeout{Op: "receive"}},
		{err: &transport.Timeout{Op: "receive"}},
	}}
	c := New(tr, protocol.ChecksumSum2Complement)

	_, err := c.EnterBootloaderRetrying(context.Background(), 150*time.Millisecond)
	if err == nil {
		t.Fatal("EnterBootloaderRetrying() error = nil, want error once the retry duration elapses")
	}
}

func TestClientEnterBootloaderRetryingZeroMeansSingleTry(t *testing.T) {
	tr := &fakeTransport{responses: []fakeResponse{{frame: errorFrame(protocol.StatusBadDevice)}}}
	c := New(tr, protocol.ChecksumSum2Complement)

	if _, err := c.EnterBootloaderRetrying(context.Background(), 0); err == nil {
		t.Fatal("EnterBootloaderRetrying(duration=0) error = nil, want error after single failed try")
	}
	if len(tr.sent) != 1 {
		t.Errorf("len(sent) = %d, want 1 (no retries)", len(tr.sent))
	}
}

func TestClientProgramRowStreamsAcrossChunks(t *testing.T) {
	data := make([]byte, 130) // two full 57-byte chunks plus a 16-byte remainder
	for i := range data {
		data[i] = byte(i)
	}

	tr := &fakeTransport{responses: []fakeResponse{
		{frame: successFrame(0, nil)}, // SendData chunk 1
		{frame: successFrame(0, nil)}, // SendData chunk 2
		{frame: successFrame(0, nil)}, // ProgramRow final chunk
	}}
	c := New(tr, protocol.ChecksumSum2Complement, WithChunkSize(57))

	if err := c.ProgramRow(context.Background(), 0x00, 0x0005, data); err != nil {
		t.Fatalf("ProgramRow() error = %v", err)
	}
	if len(tr.sent) != 3 {
		t.Fatalf("len(sent) = %d, want 3 (2 SendData + 1 ProgramRow)", len(tr.sent))
	}

	lastCode := tr.sent[2][1]
	if lastCode != protocol.CmdProgramRow {
		t.Errorf("final command = 0x%02X, want CmdProgramRow 0x%02X", lastCode, protocol.CmdProgramRow)
	}
}

func TestClientProgramRowSingleChunkFitsOneFrame(t *testing.T) {
	tr := &fakeTransport{responses: []fakeResponse{{frame: successFrame(0, nil)}}}
	c := New(tr, protocol.ChecksumSum2Complement, WithChunkSize(57))

	if err := c.ProgramRow(context.Background(), 0x00, 0x0000, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("ProgramRow() error = %v", err)
	}
	if len(tr.sent) != 1 {
		t.Errorf("len(sent) = %d, want 1", len(tr.sent))
	}
}

func TestSplitChunks(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		size int
		want int // number of chunks
	}{
		{"empty", nil, 57, 1},
		{"exact multiple", make([]byte, 114), 57, 2},
		{"with remainder", make([]byte, 130), 57, 3},
		{"smaller than size", make([]byte, 10), 57, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitChunks(tt.data, tt.size)
			if len(got) != tt.want {
				t.Errorf("splitChunks() len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

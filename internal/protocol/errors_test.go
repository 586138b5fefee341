package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestStatusName(t *testing.T) {
	tests := []struct {
		status byte
		want   string
	}{
		{StatusSuccess, "success"},
		{StatusBadChecksum, "bad checksum"},
		{0xEE, "status 0xEE"},
	}
	for _, tt := range tests {
		if got := StatusName(tt.status); got != tt.want {
			t.Errorf("StatusName(0x%02X) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestBootloaderErrorIs(t *testing.T) {
	err := fmt.Errorf("command failed: %w", &BootloaderError{Status: StatusBadRow})

	if !errors.Is(err, &BootloaderError{Status: StatusBadRow}) {
		t.Error("errors.Is() = false, want true for matching status")
	}
	if errors.Is(err, &BootloaderError{Status: StatusBadKey}) {
		t.Error("errors.Is() = true, want false for mismatched status")
	}
}

func TestChecksumErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  *ChecksumError
		want string
	}{
		{
			name: "frame",
			err:  &ChecksumError{Subkind: ChecksumSubkindFrame, Expected: 0x1234, Actual: 0x5678},
			want: "frame checksum mismatch: expected 0x1234, got 0x5678",
		},
		{
			name: "row",
			err:  &ChecksumError{Subkind: ChecksumSubkindRow, Expected: 0x01, Actual: 0x02},
			want: "row checksum mismatch: expected 0x01, got 0x02",
		},
		{
			name: "application",
			err:  &ChecksumError{Subkind: ChecksumSubkindApplication},
			want: "application checksum verification failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

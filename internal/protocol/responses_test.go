package protocol

import "testing"

func TestDecodeEnterBootloaderResponse(t *testing.T) {
	payload := []byte{0x78, 0x56, 0x34, 0x12, 0x01, 0x00, 0x02, 0x00}
	got, err := DecodeEnterBootloaderResponse(payload)
	if err != nil {
		t.Fatalf("DecodeEnterBootloaderResponse() error = %v", err)
	}
	want := Identity{SiliconID: 0x12345678, SiliconRev: 0x01, BootloaderVersion: 0x000200}
	if got != want {
		t.Errorf("DecodeEnterBootloaderResponse() = %+v, want %+v", got, want)
	}
}

func TestDecodeEnterBootloaderResponseWrongLength(t *testing.T) {
	if _, err := DecodeEnterBootloaderResponse([]byte{0x01, 0x02}); err == nil {
		t.Error("DecodeEnterBootloaderResponse() error = nil, want error for short payload")
	}
}

func TestDecodeGetFlashSizeResponse(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x7F, 0x00}
	got, err := DecodeGetFlashSizeResponse(payload)
	if err != nil {
		t.Fatalf("DecodeGetFlashSizeResponse() error = %v", err)
	}
	want := FlashArrayInfo{FirstRow: 0x0000, LastRow: 0x007F}
	if got != want {
		t.Errorf("DecodeGetFlashSizeResponse() = %+v, want %+v", got, want)
	}
}

func TestDecodeVerifyRowResponse(t *testing.T) {
	got, err := DecodeVerifyRowResponse([]byte{0x42})
	if err != nil {
		t.Fatalf("DecodeVerifyRowResponse() error = %v", err)
	}
	if got != 0x42 {
		t.Errorf("DecodeVerifyRowResponse() = 0x%02X, want 0x42", got)
	}
}

func TestDecodeVerifyChecksumResponse(t *testing.T) {
	tests := []struct {
		payload []byte
		want    bool
	}{
		{[]byte{0x01}, true},
		{[]byte{0x00}, false},
	}
	for _, tt := range tests {
		got, err := DecodeVerifyChecksumResponse(tt.payload)
		if err != nil {
			t.Fatalf("DecodeVerifyChecksumResponse(%v) error = %v", tt.payload, err)
		}
		if got != tt.want {
			t.Errorf("DecodeVerifyChecksumResponse(%v) = %v, want %v", tt.payload, got, tt.want)
		}
	}
}

func TestDecodeGetMetadataResponse(t *testing.T) {
	payload := make([]byte, MetadataSize)
	// checksum
	payload[0], payload[1], payload[2], payload[3] = 0x01, 0x00, 0x00, 0x00
	// bootloadable length
	payload[4], payload[5], payload[6], payload[7] = 0x00, 0x40, 0x00, 0x00
	// bootloader end
	payload[8], payload[9], payload[10], payload[11] = 0x00, 0x80, 0x00, 0x00
	// app version 2.5 -> major 0x02 minor 0x05
	payload[12], payload[13] = 0x05, 0x02
	// app id
	payload[14], payload[15] = 0x01, 0x00
	// custom id
	payload[16], payload[17], payload[18], payload[19] = 0xEF, 0xBE, 0xAD, 0xDE

	got, err := DecodeGetMetadataResponse(payload)
	if err != nil {
		t.Fatalf("DecodeGetMetadataResponse() error = %v", err)
	}

	if got.Checksum != 0x00000001 {
		t.Errorf("Checksum = 0x%08X, want 0x00000001", got.Checksum)
	}
	if got.BootloadableLength != 0x00004000 {
		t.Errorf("BootloadableLength = 0x%08X, want 0x00004000", got.BootloadableLength)
	}
	if got.BootloaderEnd != 0x00008000 {
		t.Errorf("BootloaderEnd = 0x%08X, want 0x00008000", got.BootloaderEnd)
	}
	if got.AppID != 0x0001 {
		t.Errorf("AppID = 0x%04X, want 0x0001", got.AppID)
	}
	if got.CustomID != 0xDEADBEEF {
		t.Errorf("CustomID = 0x%08X, want 0xDEADBEEF", got.CustomID)
	}

	major, minor := got.AppVersionMajorMinor()
	if major != 0x02 || minor != 0x05 {
		t.Errorf("AppVersionMajorMinor() = (%d, %d), want (2, 5)", major, minor)
	}
}

func TestDecodeGetMetadataResponseTooShort(t *testing.T) {
	if _, err := DecodeGetMetadataResponse(make([]byte, 10)); err == nil {
		t.Error("DecodeGetMetadataResponse() error = nil, want error for short payload")
	}
}

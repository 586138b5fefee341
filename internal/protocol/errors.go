package protocol

import "fmt"

// Status codes returned in the status byte of a response frame.
const (
	StatusSuccess     byte = 0x00
	StatusBadKey      byte = 0x01
	StatusBadLength   byte = 0x03
	StatusBadData     byte = 0x04
	StatusBadCommand  byte = 0x05
	StatusBadDevice   byte = 0x06
	StatusBadVersion  byte = 0x07
	StatusBadChecksum byte = 0x08
	StatusBadArray    byte = 0x09
	StatusBadRow      byte = 0x0A
	StatusBadApp      byte = 0x0C
	StatusInvalidApp  byte = 0x0D
	StatusUnknown     byte = 0x0F
)

var statusNames = map[byte]string{
	StatusSuccess:     "success",
	StatusBadKey:      "bad key",
	StatusBadLength:   "bad length",
	StatusBadData:     "bad data",
	StatusBadCommand:  "bad command",
	StatusBadDevice:   "bad device",
	StatusBadVersion:  "bad version",
	StatusBadChecksum: "bad checksum",
	StatusBadArray:    "bad array",
	StatusBadRow:      "bad row",
	StatusBadApp:      "bad app",
	StatusInvalidApp:  "invalid app",
	StatusUnknown:     "unknown",
}

// StatusName returns a human-readable name for a status byte.
func StatusName(status byte) string {
	if name, ok := statusNames[status]; ok {
		return name
	}
	return fmt.Sprintf("status 0x%02X", status)
}

// BootloaderError wraps a nonzero status byte returned by the device.
type BootloaderError struct {
	Status byte
}

func (e *BootloaderError) Error() string {
	return fmt.Sprintf("bootloader error: %s (0x%02X)", StatusName(e.Status), e.Status)
}

// Is reports whether target is a BootloaderError with the same status,
// enabling errors.Is(err, &BootloaderError{Status: protocol.StatusBadKey}).
func (e *BootloaderError) Is(target error) bool {
	t, ok := target.(*BootloaderError)
	return ok && t.Status == e.Status
}

// FramingError indicates a malformed frame: bad SOP/EOP or an inconsistent
// length field.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("framing error: %s", e.Reason)
}

// ChecksumSubkind distinguishes the three checksum-related failures the
// spec groups under a single ChecksumError kind.
type ChecksumSubkind int

const (
	// ChecksumSubkindFrame is a protocol frame checksum mismatch.
	ChecksumSubkindFrame ChecksumSubkind = iota
	// ChecksumSubkindRow is a row checksum mismatch against VerifyRow.
	ChecksumSubkindRow
	// ChecksumSubkindApplication is a failed final VerifyChecksum (zero return).
	ChecksumSubkindApplication
)

// ChecksumError covers frame checksum mismatches, row checksum mismatches,
// and a zero-valued final application checksum verification.
type ChecksumError struct {
	Subkind  ChecksumSubkind
	Expected uint16
	Actual   uint16
}

func (e *ChecksumError) Error() string {
	switch e.Subkind {
	case ChecksumSubkindRow:
		return fmt.Sprintf("row checksum mismatch: expected 0x%02X, got 0x%02X", e.Expected, e.Actual)
	case ChecksumSubkindApplication:
		return "application checksum verification failed"
	default:
		return fmt.Sprintf("frame checksum mismatch: expected 0x%04X, got 0x%04X", e.Expected, e.Actual)
	}
}

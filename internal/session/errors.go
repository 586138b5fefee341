package session

import "fmt"

// InvalidSilicon indicates the device's silicon id or revision doesn't
// match what the firmware image was built for.
type InvalidSilicon struct {
	ImageSiliconID, DeviceSiliconID   uint32
	ImageSiliconRev, DeviceSiliconRev byte
}

func (e *InvalidSilicon) Error() string {
	return fmt.Sprintf(
		"silicon mismatch: image targets id 0x%08X rev 0x%02X, device reports id 0x%08X rev 0x%02X",
		e.ImageSiliconID, e.ImageSiliconRev, e.DeviceSiliconID, e.DeviceSiliconRev,
	)
}

// RowRangeError indicates an image row falls outside the row range the
// device reports for that array.
type RowRangeError struct {
	ArrayID     byte
	Row         uint16
	First, Last uint16
}

func (e *RowRangeError) Error() string {
	return fmt.Sprintf("row %d in array %d is outside device range [%d, %d]", e.Row, e.ArrayID, e.First, e.Last)
}

// MetadataConflict indicates the image's application metadata conflicts
// with what's already on the device (a version downgrade or a different
// application id) and the operator declined to proceed.
type MetadataConflict struct {
	Reason                  string
	DeviceAppID, ImageAppID uint16
}

func (e *MetadataConflict) Error() string {
	return fmt.Sprintf("metadata conflict: %s (device app id 0x%04X, image app id 0x%04X)", e.Reason, e.DeviceAppID, e.ImageAppID)
}

// TooManyPacketErrors indicates the aggregate count of retried packet
// failures exceeded the session's configured budget.
type TooManyPacketErrors struct {
	Limit int
}

func (e *TooManyPacketErrors) Error() string {
	return fmt.Sprintf("exceeded packet error budget of %d", e.Limit)
}

// Canceled indicates the run was aborted because the context passed to
// Run was canceled, not because any particular command failed.
type Canceled struct {
	Reason string
}

func (e *Canceled) Error() string {
	return fmt.Sprintf("canceled: %s", e.Reason)
}

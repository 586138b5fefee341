// Package session orchestrates a full flashing run against a bootloader
// client: entering the bootloader, validating the target image against
// the device, programming and verifying every row, and exiting back into
// the application.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyflash/cyflash/internal/bootclient"
	"github.com/cyflash/cyflash/internal/image"
	"github.com/cyflash/cyflash/internal/protocol"
)

// Options configures a flashing run.
type Options struct {
	// EraseBeforeProgram erases every row before programming it, rather
	// than relying on ProgramRow to implicitly erase.
	EraseBeforeProgram bool

	// EnterDuration is passed through to bootclient.Client.EnterBootloaderRetrying:
	// how long to keep reissuing EnterBootloader before giving up. Zero
	// means a single try; negative means retry until ctx is canceled.
	EnterDuration time.Duration

	// RowRetries bounds how many times a single row's erase/program/verify
	// step is retried before the run fails.
	RowRetries int

	// MaxPacketErrors bounds the aggregate count of retried row failures
	// across the whole run. Zero means unlimited.
	MaxPacketErrors int

	// AppIndex selects which application's metadata GetMetadata queries.
	AppIndex byte

	// Downgrade and NewApp resolve metadata conflicts without prompting
	// when non-nil; nil means ask via Confirm.
	Downgrade *bool
	NewApp    *bool

	// Confirm asks the operator to approve a metadata conflict. Required
	// when Downgrade or NewApp is nil and a conflict arises.
	Confirm Confirm

	// OnEvent, if set, receives a progress Event at each step of the run.
	OnEvent func(Event)
}

func (o Options) emit(ev Event) {
	if o.OnEvent != nil {
		o.OnEvent(ev)
	}
}

// Run drives a complete flashing session against img.
func Run(ctx context.Context, client *bootclient.Client, img *image.Image, opts Options) error {
	id, err := client.EnterBootloaderRetrying(ctx, opts.EnterDuration)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &Canceled{Reason: "canceled while entering bootloader"}
		}
		return fmt.Errorf("entering bootloader: %w", err)
	}
	opts.emit(EnteredBootloader{
		SiliconID:         id.SiliconID,
		SiliconRev:        id.SiliconRev,
		BootloaderVersion: id.BootloaderVersion,
	})

	if id.SiliconID != img.SiliconID || id.SiliconRev != img.SiliconRev {
		return &InvalidSilicon{
			ImageSiliconID:    img.SiliconID,
			DeviceSiliconID:   id.SiliconID,
			ImageSiliconRev:   img.SiliconRev,
			DeviceSiliconRev:  id.SiliconRev,
		}
	}

	if err := checkMetadata(ctx, client, img, opts); err != nil {
		return err
	}

	arrays := img.Arrays()
	if err := verifyRowRanges(ctx, client, arrays, opts); err != nil {
		return err
	}

	budget := opts.MaxPacketErrors
	budgetUsed := 0

	if opts.EraseBeforeProgram {
		if err := eraseRows(ctx, client, img.Rows, opts, budget, &budgetUsed); err != nil {
			return err
		}
	}

	if err := programRows(ctx, client, img.Rows, opts, budget, &budgetUsed); err != nil {
		return err
	}

	ok, err := client.VerifyChecksum(ctx)
	if err != nil {
		return fmt.Errorf("verifying application checksum: %w", err)
	}
	opts.emit(Verified{OK: ok})
	if !ok {
		return &protocol.ChecksumError{Subkind: protocol.ChecksumSubkindApplication}
	}

	if err := client.ExitBootloader(ctx); err != nil {
		return fmt.Errorf("exiting bootloader: %w", err)
	}
	opts.emit(Rebooting{})

	return nil
}

// checkMetadata compares the image's metadata row, if present, against
// the device's reported metadata, and declines a downgrade or application
// id change unless the operator approves.
func checkMetadata(ctx context.Context, client *bootclient.Client, img *image.Image, opts Options) error {
	arrayID := img.HighestArrayID()
	metaRow, ok := img.LastRowOf(arrayID)
	if !ok || len(metaRow.Data) < image.AppMetadataSize {
		return nil
	}

	imageMeta, err := image.DecodeAppMetadata(metaRow.Data)
	if err != nil {
		return fmt.Errorf("decoding image metadata: %w", err)
	}

	deviceMeta, err := client.GetMetadata(ctx, opts.AppIndex)
	if err != nil {
		var be *protocol.BootloaderError
		if errors.As(err, &be) {
			switch be.Status {
			case protocol.StatusBadCommand:
				opts.emit(MetadataUnsupported{Reason: "metadata not supported"})
				return nil
			case protocol.StatusInvalidApp:
				opts.emit(MetadataUnsupported{Reason: "no valid application on device"})
				return nil
			}
		}
		return fmt.Errorf("reading device metadata: %w", err)
	}

	if imageMeta.AppID != deviceMeta.AppID {
		allowed, err := resolveConflict(ctx, opts.NewApp, opts.Confirm,
			fmt.Sprintf("image application id 0x%04X differs from device application id 0x%04X; continue?", imageMeta.AppID, deviceMeta.AppID))
		if err != nil {
			return err
		}
		if !allowed {
			return &MetadataConflict{Reason: "application id mismatch", DeviceAppID: deviceMeta.AppID, ImageAppID: imageMeta.AppID}
		}
	}

	if imageMeta.AppVersion < deviceMeta.AppVersion {
		allowed, err := resolveConflict(ctx, opts.Downgrade, opts.Confirm,
			fmt.Sprintf("image application version 0x%04X is older than device version 0x%04X; downgrade?", imageMeta.AppVersion, deviceMeta.AppVersion))
		if err != nil {
			return err
		}
		if !allowed {
			return &MetadataConflict{Reason: "version downgrade declined", DeviceAppID: deviceMeta.AppID, ImageAppID: imageMeta.AppID}
		}
	}

	return nil
}

func resolveConflict(ctx context.Context, decision *bool, confirm Confirm, prompt string) (bool, error) {
	if decision != nil {
		return *decision, nil
	}
	if confirm == nil {
		return false, nil
	}
	return confirm(ctx, prompt)
}

// verifyRowRanges fetches each array's flash size from the device and
// checks every image row against it before any flashing begins.
func verifyRowRanges(ctx context.Context, client *bootclient.Client, arrays map[byte][]image.Row, opts Options) error {
	for arrayID, rows := range arrays {
		info, err := client.GetFlashSize(ctx, arrayID)
		if err != nil {
			return fmt.Errorf("reading flash size of array %d: %w", arrayID, err)
		}
		opts.emit(ArrayRange{ArrayID: arrayID, First: info.FirstRow, Last: info.LastRow})

		for _, row := range rows {
			if row.RowNum < info.FirstRow || row.RowNum > info.LastRow {
				return &RowRangeError{ArrayID: arrayID, Row: row.RowNum, First: info.FirstRow, Last: info.LastRow}
			}
		}
	}
	return nil
}

func eraseRows(ctx context.Context, client *bootclient.Client, rows []image.Row, opts Options, budget int, used *int) error {
	for i, row := range rows {
		err := withRetry(ctx, opts.RowRetries, budget, used, func() error {
			return client.EraseRow(ctx, row.ArrayID, row.RowNum)
		})
		opts.emit(Erasing{Row: i + 1, Total: len(rows), Errors: *used})
		if err != nil {
			return fmt.Errorf("erasing row %d in array %d: %w", row.RowNum, row.ArrayID, err)
		}
	}
	return nil
}

func programRows(ctx context.Context, client *bootclient.Client, rows []image.Row, opts Options, budget int, used *int) error {
	for i, row := range rows {
		err := withRetry(ctx, opts.RowRetries, budget, used, func() error {
			if err := client.ProgramRow(ctx, row.ArrayID, row.RowNum, row.Data); err != nil {
				return err
			}
			checksum, err := client.VerifyRow(ctx, row.ArrayID, row.RowNum)
			if err != nil {
				return err
			}
			if checksum != row.Checksum {
				return &protocol.ChecksumError{Subkind: protocol.ChecksumSubkindRow, Expected: uint16(row.Checksum), Actual: uint16(checksum)}
			}
			return nil
		})
		opts.emit(Programming{Row: i + 1, Total: len(rows), Errors: *used})
		if err != nil {
			return fmt.Errorf("programming row %d in array %d: %w", row.RowNum, row.ArrayID, err)
		}
	}
	return nil
}

// withRetry runs fn, retrying on error up to maxRetries times. Every
// failed attempt (including the last) adds one to the aggregate count;
// once the count exceeds the budget the run fails even if maxRetries
// hasn't been reached yet. budget <= 0 means unlimited.
func withRetry(ctx context.Context, maxRetries, budget int, used *int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return &Canceled{Reason: "retry loop interrupted"}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		*used++
		if budget > 0 && *used > budget {
			return &TooManyPacketErrors{Limit: budget}
		}
	}
	return lastErr
}

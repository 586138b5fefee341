// Package image models a parsed .cyacd firmware image: the header fields
// that identify the target silicon and checksum algorithm, and the ordered
// sequence of flash rows to program.
package image

import (
	"encoding/binary"
	"fmt"

	"github.com/cyflash/cyflash/internal/protocol"
)

// Row is a single flash row parsed from a .cyacd file.
type Row struct {
	ArrayID  byte
	RowNum   uint16
	Data     []byte
	Checksum byte // row checksum (header plus data) as recorded in the file, for VerifyRow comparison
}

// Image is the parsed contents of a .cyacd firmware file.
type Image struct {
	ChecksumKind protocol.ChecksumKind
	SiliconID    uint32
	SiliconRev   byte
	Rows         []Row
}

// Arrays groups rows by array id, preserving the order each array's rows
// appear in the image. Used by the session orchestrator to validate row
// ranges per array.
func (img *Image) Arrays() map[byte][]Row {
	arrays := make(map[byte][]Row)
	for _, row := range img.Rows {
		arrays[row.ArrayID] = append(arrays[row.ArrayID], row)
	}
	return arrays
}

// HighestArrayID returns the largest array id present in the image. The
// metadata row, if any, lives in the highest-numbered row of this array.
func (img *Image) HighestArrayID() byte {
	var max byte
	for _, row := range img.Rows {
		if row.ArrayID > max {
			max = row.ArrayID
		}
	}
	return max
}

// LastRowOf returns the row with the highest RowNum in the given array, or
// false if the array has no rows.
func (img *Image) LastRowOf(arrayID byte) (Row, bool) {
	var last Row
	found := false
	for _, row := range img.Rows {
		if row.ArrayID != arrayID {
			continue
		}
		if !found || row.RowNum > last.RowNum {
			last = row
			found = true
		}
	}
	return last, found
}

// AppMetadataSize is the length, in bytes, of the metadata block pinned
// down in the external interface spec: the first 32 bytes of a metadata
// row, or the first 32 bytes of a GetMetadata response prefix.
const AppMetadataSize = 32

// AppMetadata is the application identity block that lives near the top of
// the application flash region, readable either from a row's raw bytes or
// from a GetMetadata response.
type AppMetadata struct {
	Checksum          uint32
	BootloadableLength uint32
	BootloaderEnd      uint32
	AppVersion         uint16 // major in the high byte, minor in the low byte
	AppID              uint16
	CustomID           uint32
}

// AppVersionMajorMinor splits the app version into its major (high byte)
// and minor (low byte) components.
func (m AppMetadata) AppVersionMajorMinor() (major, minor byte) {
	return byte(m.AppVersion >> 8), byte(m.AppVersion)
}

// DecodeAppMetadata parses the first AppMetadataSize bytes of data
// (a row's bytes or a GetMetadata response payload) into an AppMetadata.
func DecodeAppMetadata(data []byte) (AppMetadata, error) {
	if len(data) < AppMetadataSize {
		return AppMetadata{}, fmt.Errorf("metadata block too short: got %d bytes, need %d", len(data), AppMetadataSize)
	}
	return AppMetadata{
		Checksum:           binary.LittleEndian.Uint32(data[0:4]),
		BootloadableLength: binary.LittleEndian.Uint32(data[4:8]),
		BootloaderEnd:      binary.LittleEndian.Uint32(data[8:12]),
		AppVersion:         binary.LittleEndian.Uint16(data[12:14]),
		AppID:              binary.LittleEndian.Uint16(data[14:16]),
		CustomID:           binary.LittleEndian.Uint32(data[16:20]),
	}, nil
}

package image

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cyflash/cyflash/internal/protocol"
)

// Parse reads a .cyacd firmware image from the named file.
func Parse(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening firmware image: %w", err)
	}
	defer f.Close()
	return ParseReader(f)
}

// ParseReader reads a .cyacd firmware image from r. The first line is the
// image header; every following non-blank line is a colon-prefixed flash
// row.
func ParseReader(r io.Reader) (*Image, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading firmware image header: %w", err)
		}
		return nil, &ParseError{Reason: "empty file, missing header line"}
	}

	img, err := parseHeader(scanner.Text())
	if err != nil {
		return nil, err
	}

	lineNum := 1
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		row, err := parseRow(line, lineNum)
		if err != nil {
			return nil, err
		}
		img.Rows = append(img.Rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading firmware image: %w", err)
	}

	return img, nil
}

// parseHeader decodes the 6-byte, hex-encoded header line: silicon id (4
// bytes, big-endian), silicon revision (1 byte), checksum type (1 byte).
func parseHeader(line string) (*Image, error) {
	line = strings.TrimSpace(line)
	raw, err := hex.DecodeString(line)
	if err != nil {
		return nil, &ParseError{Line: 1, Reason: fmt.Sprintf("invalid hex in header: %v", err)}
	}
	if len(raw) != 6 {
		return nil, &ParseError{Line: 1, Reason: fmt.Sprintf("header is %d bytes, want 6", len(raw))}
	}

	checksumType := raw[5]
	var kind protocol.ChecksumKind
	switch checksumType {
	case 0x00:
		kind = protocol.ChecksumSum2Complement
	case 0x01:
		kind = protocol.ChecksumCRC16CCITT
	default:
		return nil, &ParseError{Line: 1, Reason: fmt.Sprintf("unknown checksum type 0x%02X", checksumType)}
	}

	return &Image{
		SiliconID:    binary.BigEndian.Uint32(raw[0:4]),
		SiliconRev:   raw[4],
		ChecksumKind: kind,
	}, nil
}

// headerSize is the size, in bytes, of a row's in-file header: array id
// (1), row number (2, big-endian), data length (2, big-endian).
const headerSize = 5

// parseRow decodes a single colon-prefixed row line.
func parseRow(line string, lineNum int) (Row, error) {
	if !strings.HasPrefix(line, ":") {
		return Row{}, &ParseError{Line: lineNum, Reason: "row line missing leading ':'"}
	}
	raw, err := hex.DecodeString(line[1:])
	if err != nil {
		return Row{}, &ParseError{Line: lineNum, Reason: fmt.Sprintf("invalid hex: %v", err)}
	}
	if len(raw) < headerSize+1 {
		return Row{}, &ParseError{Line: lineNum, Reason: "row shorter than header plus checksum"}
	}

	arrayID := raw[0]
	rowNum := binary.BigEndian.Uint16(raw[1:3])
	dataLen := binary.BigEndian.Uint16(raw[3:5])

	want := headerSize + int(dataLen) + 1
	if len(raw) != want {
		return Row{}, &ParseError{Line: lineNum, Reason: fmt.Sprintf("declared data length %d inconsistent with row size %d", dataLen, len(raw))}
	}

	body := raw[:len(raw)-1] // header + data, excludes the trailing checksum byte
	data := raw[headerSize : len(raw)-1]
	wantChecksum := raw[len(raw)-1]

	gotChecksum := checksum8(body)
	if gotChecksum != wantChecksum {
		return Row{}, &ParseError{Line: lineNum, Reason: fmt.Sprintf("row checksum mismatch: file says 0x%02X, computed 0x%02X", wantChecksum, gotChecksum)}
	}

	rowData := make([]byte, len(data))
	copy(rowData, data)

	return Row{
		ArrayID:  arrayID,
		RowNum:   rowNum,
		Data:     rowData,
		Checksum: gotChecksum,
	}, nil
}

// checksum8 is the 8-bit two's complement of the sum of data, the row
// checksum convention used in the firmware image file format. This is
// distinct from the 16-bit frame checksum used on the wire.
func checksum8(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return -sum
}

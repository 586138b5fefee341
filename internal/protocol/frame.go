package protocol

import "encoding/binary"

// Frame delimiters.
const (
	SOP byte = 0x01
	EOP byte = 0x17
)

// MinFrameSize is SOP(1) + CMD/STATUS(1) + LEN(2) + CHECKSUM(2) + EOP(1).
const MinFrameSize = 7

// EncodeFrame builds a complete wire frame:
//
//	SOP | codeOrStatus | len_lo | len_hi | payload | cksum_lo | cksum_hi | EOP
//
// The checksum covers every byte from SOP through the last payload byte,
// inclusive, per the configured checksum algorithm.
func EncodeFrame(codeOrStatus byte, payload []byte, kind ChecksumKind) []byte {
	frame := make([]byte, 0, MinFrameSize+len(payload))
	frame = append(frame, SOP, codeOrStatus)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(len(payload)))
	frame = append(frame, payload...)

	checksum := kind.Compute(frame)
	frame = binary.LittleEndian.AppendUint16(frame, checksum)
	frame = append(frame, EOP)
	return frame
}

// DecodeFrame validates a raw frame and returns its code/status byte and
// payload. It checks SOP/EOP, a length field consistent with the frame's
// actual size, and the checksum.
func DecodeFrame(raw []byte, kind ChecksumKind) (codeOrStatus byte, payload []byte, err error) {
	if len(raw) < MinFrameSize {
		return 0, nil, &FramingError{Reason: "frame shorter than minimum size"}
	}
	if raw[0] != SOP {
		return 0, nil, &FramingError{Reason: "missing start-of-packet byte"}
	}
	if raw[len(raw)-1] != EOP {
		return 0, nil, &FramingError{Reason: "missing end-of-packet byte"}
	}

	codeOrStatus = raw[1]
	length := binary.LittleEndian.Uint16(raw[2:4])
	if int(length) != len(raw)-MinFrameSize {
		return 0, nil, &FramingError{Reason: "declared length does not match frame size"}
	}

	body := raw[:len(raw)-3] // SOP..payload, excludes checksum and EOP
	expected := binary.LittleEndian.Uint16(raw[len(raw)-3 : len(raw)-1])
	actual := kind.Compute(body)
	if expected != actual {
		return 0, nil, &ChecksumError{Subkind: ChecksumSubkindFrame, Expected: expected, Actual: actual}
	}

	if length > 0 {
		payload = raw[4 : 4+length]
	}
	return codeOrStatus, payload, nil
}

package protocol

import "encoding/binary"

// Command codes, sent as the codeOrStatus byte of a request frame.
const (
	CmdVerifyChecksum  byte = 0x31
	CmdGetFlashSize    byte = 0x32
	CmdEraseRow        byte = 0x34
	CmdSyncBootloader  byte = 0x35
	CmdSendData        byte = 0x37
	CmdEnterBootloader byte = 0x38
	CmdProgramRow      byte = 0x39
	CmdVerifyRow       byte = 0x3A
	CmdExitBootloader  byte = 0x3B
	CmdGetMetadata     byte = 0x3C
)

// cmdNames gives a human-readable name to each command code, used in
// logging and error messages.
var cmdNames = map[byte]string{
	CmdVerifyChecksum:  "VerifyChecksum",
	CmdGetFlashSize:    "GetFlashSize",
	CmdEraseRow:        "EraseRow",
	CmdSyncBootloader:  "SyncBootloader",
	CmdSendData:        "SendData",
	CmdEnterBootloader: "EnterBootloader",
	CmdProgramRow:      "ProgramRow",
	CmdVerifyRow:       "VerifyRow",
	CmdExitBootloader:  "ExitBootloader",
	CmdGetMetadata:     "GetMetadata",
}

// CmdName returns a human-readable name for a command code.
func CmdName(cmd byte) string {
	if name, ok := cmdNames[cmd]; ok {
		return name
	}
	return "unknown command"
}

// The Encode* functions below build the payload of a request frame for
// each bootloader command. They return the payload only; callers pass it
// to EncodeFrame along with the command code and checksum kind.

// EncodeEnterBootloaderRequest builds the (empty) EnterBootloader payload.
func EncodeEnterBootloaderRequest() []byte { return nil }

// EncodeExitBootloaderRequest builds the (empty) ExitBootloader payload.
func EncodeExitBootloaderRequest() []byte { return nil }

// EncodeSyncBootloaderRequest builds the (empty) SyncBootloader payload.
func EncodeSyncBootloaderRequest() []byte { return nil }

// EncodeVerifyChecksumRequest builds the (empty) VerifyChecksum payload.
func EncodeVerifyChecksumRequest() []byte { return nil }

// EncodeGetFlashSizeRequest builds the GetFlashSize payload: one byte
// naming the flash array to query.
func EncodeGetFlashSizeRequest(arrayID byte) []byte {
	return []byte{arrayID}
}

// EncodeGetMetadataRequest builds the GetMetadata payload: one byte naming
// the application index to query.
func EncodeGetMetadataRequest(appIndex byte) []byte {
	return []byte{appIndex}
}

// EncodeEraseRowRequest builds the EraseRow payload: array id followed by
// a little-endian row number.
func EncodeEraseRowRequest(arrayID byte, row uint16) []byte {
	payload := make([]byte, 3)
	payload[0] = arrayID
	binary.LittleEndian.PutUint16(payload[1:3], row)
	return payload
}

// EncodeVerifyRowRequest builds the VerifyRow payload: array id followed
// by a little-endian row number.
func EncodeVerifyRowRequest(arrayID byte, row uint16) []byte {
	payload := make([]byte, 3)
	payload[0] = arrayID
	binary.LittleEndian.PutUint16(payload[1:3], row)
	return payload
}

// EncodeProgramRowRequest builds the ProgramRow payload: array id,
// little-endian row number, then the last part of the row's data (any
// earlier parts having been staged on the device by preceding SendData
// commands, per the streaming convention described alongside this command).
func EncodeProgramRowRequest(arrayID byte, row uint16, data []byte) []byte {
	payload := make([]byte, 3+len(data))
	payload[0] = arrayID
	binary.LittleEndian.PutUint16(payload[1:3], row)
	copy(payload[3:], data)
	return payload
}

// EncodeSendDataRequest builds the SendData payload: a raw chunk of row
// data to append to the device's staging buffer ahead of ProgramRow.
func EncodeSendDataRequest(chunk []byte) []byte {
	out := make([]byte, len(chunk))
	copy(out, chunk)
	return out
}

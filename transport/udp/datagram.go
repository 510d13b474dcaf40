// Package udp implements the Cyphal/UDP transport: the 24-byte datagram
// header codec, multicast/unicast endpoint derivation, and the per-source
// reassembler — the UDP analogue of transport/can, sharing its shape
// (TX queue, RX reassembler, filter-free since UDP has no CAN-style hardware
// acceptance filters) but keyed by the wire layout spec.md section 6 gives
// for Cyphal/UDP rather than the 29-bit CAN identifier.
package udp

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/OpenCyphal/libuavcan/types"
)

const (
	// HeaderSize is the fixed Cyphal/UDP datagram header length.
	HeaderSize = 24

	version = 1

	bitServiceNotMessage uint16 = 1 << 15
	bitRequestNotResponse uint16 = 1 << 14
	maskSubjectSpecifier  uint16 = 1<<13 - 1
	maskServiceSpecifier  uint16 = 1<<9 - 1

	bitEndOfTransfer uint32 = 1 << 31
	maskFrameIndex    uint32 = bitEndOfTransfer - 1

	// TrailerSize is the CRC-32C payload trailer appended to the final
	// frame of every transfer.
	TrailerSize = 4
)

// castagnoli is the CRC-32C table Cyphal/UDP uses for its transfer-CRC
// trailer — the same table hash/crc32 exposes as crc32.Castagnoli, and the
// one real NICs offload, which is why the wire format picked it.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Header is the parsed form of a Cyphal/UDP datagram's fixed 24-byte
// header, spec.md section 6.
type Header struct {
	Priority      types.Priority
	Source        types.NodeID
	Destination   types.NodeID
	IsService     bool
	IsRequest     bool // meaningful only if IsService
	Port          types.PortID
	TransferID    types.TransferID
	FrameIndex    uint32
	EndOfTransfer bool
}

// EncodeSubjectSpecifier packs a subject-id data-specifier field.
func EncodeSubjectSpecifier(subject types.PortID) uint16 {
	return uint16(subject) & maskSubjectSpecifier
}

// EncodeServiceSpecifier packs a service-id data-specifier field.
func EncodeServiceSpecifier(service types.PortID, isRequest bool) uint16 {
	v := bitServiceNotMessage | (uint16(service) & maskServiceSpecifier)
	if isRequest {
		v |= bitRequestNotResponse
	}
	return v
}

// DecodeSpecifier unpacks a raw data-specifier field.
func DecodeSpecifier(raw uint16) (isService, isRequest bool, port types.PortID) {
	isService = raw&bitServiceNotMessage != 0
	if isService {
		isRequest = raw&bitRequestNotResponse != 0
		port = types.PortID(raw & maskServiceSpecifier)
	} else {
		port = types.PortID(raw & maskSubjectSpecifier)
	}
	return
}

// headerCRC computes the CRC-16/CCITT-FALSE checksum over the first 22
// header bytes (everything but the CRC field itself), the same algorithm
// and seed transport/can uses for its transfer CRC — spec.md section 6
// names only the field width, not the algorithm, so this implementation
// reuses the one CRC the rest of the module already defines rather than
// introducing a second one.
func headerCRC(buf [HeaderSize]byte) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < HeaderSize-2; i++ {
		crc ^= uint16(buf[i]) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// EncodeHeader serialises h into a fresh 24-byte header, including its CRC.
func EncodeHeader(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = version
	buf[1] = byte(h.Priority)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(h.Source))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(h.Destination))

	var spec uint16
	if h.IsService {
		spec = EncodeServiceSpecifier(h.Port, h.IsRequest)
	} else {
		spec = EncodeSubjectSpecifier(h.Port)
	}
	binary.LittleEndian.PutUint16(buf[6:8], spec)

	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.TransferID))

	frameField := h.FrameIndex & maskFrameIndex
	if h.EndOfTransfer {
		frameField |= bitEndOfTransfer
	}
	binary.LittleEndian.PutUint32(buf[16:20], frameField)

	binary.LittleEndian.PutUint16(buf[20:22], 0) // user-data, always zero

	crc := headerCRC(buf)
	binary.LittleEndian.PutUint16(buf[22:24], crc)
	return buf
}

// DecodeHeader parses and validates a 24-byte header. ok is false if buf is
// too short or the header CRC does not match.
func DecodeHeader(buf []byte) (h Header, ok bool) {
	if len(buf) < HeaderSize {
		return Header{}, false
	}
	var raw [HeaderSize]byte
	copy(raw[:], buf[:HeaderSize])

	gotCRC := binary.LittleEndian.Uint16(raw[22:24])
	if headerCRC(raw) != gotCRC {
		return Header{}, false
	}

	h.Priority = types.Priority(raw[1])
	h.Source = types.NodeID(binary.LittleEndian.Uint16(raw[2:4]))
	h.Destination = types.NodeID(binary.LittleEndian.Uint16(raw[4:6]))

	spec := binary.LittleEndian.Uint16(raw[6:8])
	h.IsService, h.IsRequest, h.Port = DecodeSpecifier(spec)

	h.TransferID = types.TransferID(binary.LittleEndian.Uint64(raw[8:16]))

	frameField := binary.LittleEndian.Uint32(raw[16:20])
	h.EndOfTransfer = frameField&bitEndOfTransfer != 0
	h.FrameIndex = frameField & maskFrameIndex

	return h, true
}

// AppendPayloadCRC appends the CRC-32C trailer Cyphal/UDP requires on the
// final frame of a transfer.
func AppendPayloadCRC(payload []byte) []byte {
	sum := crc32.Checksum(payload, castagnoli)
	out := make([]byte, len(payload)+4)
	copy(out, payload)
	binary.LittleEndian.PutUint32(out[len(payload):], sum)
	return out
}

// VerifyPayloadCRC checks the trailing CRC-32C and returns the payload with
// it stripped off, or ok=false if it doesn't match or data is too short.
func VerifyPayloadCRC(data []byte) (payload []byte, ok bool) {
	if len(data) < TrailerSize {
		return nil, false
	}
	body := data[:len(data)-TrailerSize]
	want := binary.LittleEndian.Uint32(data[len(data)-TrailerSize:])
	got := crc32.Checksum(body, castagnoli)
	if got != want {
		return nil, false
	}
	return body, true
}

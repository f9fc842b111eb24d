package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed, packed size of an OculusMessageHeader on the wire.
const HeaderSize = 16

// ErrShortBuffer is returned when a byte slice is too small to hold the type
// being decoded.
var ErrShortBuffer = errors.New("wire: buffer too short")

// Header is the 16-byte, little-endian frame header that precedes every
// message on the TCP data channel.
type Header struct {
	OculusID    uint16
	SrcDeviceID uint16
	DstDeviceID uint16
	MsgID       uint16
	MsgVersion  uint16
	PayloadSize uint32
	PartNumber  uint16
}

// Valid reports whether h carries the expected magic and, when sonarID is
// nonzero (a session is bound), that the source device id matches it. This
// is the invariant of spec.md §3: "a header is valid iff magic equals
// 0x4F53 AND (when a session is bound) source device id equals the
// session's learned sonar id."
func (h Header) Valid(sonarID uint16) bool {
	if h.OculusID != OculusID {
		return false
	}
	if sonarID != 0 && h.SrcDeviceID != sonarID {
		return false
	}
	return true
}

// MarshalBinary encodes h as exactly HeaderSize little-endian bytes.
func (h Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.PutBytes(buf)
	return buf, nil
}

// PutBytes writes h into buf, which must be at least HeaderSize bytes.
func (h Header) PutBytes(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], h.OculusID)
	binary.LittleEndian.PutUint16(buf[2:4], h.SrcDeviceID)
	binary.LittleEndian.PutUint16(buf[4:6], h.DstDeviceID)
	binary.LittleEndian.PutUint16(buf[6:8], h.MsgID)
	binary.LittleEndian.PutUint16(buf[8:10], h.MsgVersion)
	binary.LittleEndian.PutUint32(buf[10:14], h.PayloadSize)
	binary.LittleEndian.PutUint16(buf[14:16], h.PartNumber)
}

// UnmarshalBinary decodes h from buf, which must be at least HeaderSize
// bytes; extra trailing bytes are ignored.
func (h *Header) UnmarshalBinary(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("%w: header needs %d bytes, got %d", ErrShortBuffer, HeaderSize, len(buf))
	}
	h.OculusID = binary.LittleEndian.Uint16(buf[0:2])
	h.SrcDeviceID = binary.LittleEndian.Uint16(buf[2:4])
	h.DstDeviceID = binary.LittleEndian.Uint16(buf[4:6])
	h.MsgID = binary.LittleEndian.Uint16(buf[6:8])
	h.MsgVersion = binary.LittleEndian.Uint16(buf[8:10])
	h.PayloadSize = binary.LittleEndian.Uint32(buf[10:14])
	h.PartNumber = binary.LittleEndian.Uint16(buf[14:16])
	return nil
}

// RawMessage is a received frame: header plus its exact payload bytes,
// kept together from the moment the header is fully received until all
// observers have returned (spec.md §3 lifecycle).
type RawMessage struct {
	Header  Header
	Payload []byte
}

// Bytes returns the header and payload concatenated, exactly as they
// appeared on the wire — the form the Recorder writes verbatim.
func (m RawMessage) Bytes() []byte {
	out := make([]byte, HeaderSize+len(m.Payload))
	m.Header.PutBytes(out)
	copy(out[HeaderSize:], m.Payload)
	return out
}

package wire

import (
	"encoding/binary"
	"fmt"
	"net"
)

// VersionInfo is the firmware/bitfile version block embedded in a status
// message (OculusVersionInfo).
type VersionInfo struct {
	Arm0Version uint32
	Arm0Date    uint32
	Arm1Version uint32
	Arm1Date    uint32
	CoreVersion uint32
	CoreDate    uint32
}

// versionInfoSize is the packed size of VersionInfo.
const versionInfoSize = 6 * 4

// statusTailSize is everything in a StatusMessage after the header.
const statusTailSize = 4 + 2 + 2 + 4 + versionInfoSize + 4 + 4 + 4 + 6 + 8*8 + 8

// StatusMessageSize is the fixed, total size of a status datagram —
// every status beacon received by the Status Listener must be exactly
// this many bytes (spec.md §4.4, §6).
const StatusMessageSize = HeaderSize + statusTailSize

// StatusMessage is the periodic UDP beacon broadcast by the sonar,
// advertising its identity, network configuration and health.
type StatusMessage struct {
	Head        Header
	DeviceID    uint32
	DeviceType  uint16
	PartNumber  uint16
	Status      uint32
	Version     VersionInfo
	IPAddr      uint32
	IPMask      uint32
	ClientAddr  uint32
	MAC         [6]byte
	Temperature [8]float64
	Pressure    float64
}

// IP returns the sonar's announced IPv4 address, in conventional
// dotted-quad form.
func (s StatusMessage) IP() net.IP {
	return ipFromUint32(s.IPAddr)
}

func ipFromUint32(v uint32) net.IP {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return net.IPv4(b[0], b[1], b[2], b[3])
}

// UnmarshalStatusMessage decodes a status datagram. buf must be exactly
// StatusMessageSize bytes; the Status Listener enforces this before
// calling in (spec.md §4.4: datagrams of any other length are dropped).
func UnmarshalStatusMessage(buf []byte) (StatusMessage, error) {
	var s StatusMessage
	if len(buf) < StatusMessageSize {
		return s, fmt.Errorf("%w: status message needs %d bytes, got %d", ErrShortBuffer, StatusMessageSize, len(buf))
	}
	if err := s.Head.UnmarshalBinary(buf); err != nil {
		return s, err
	}
	b := buf[HeaderSize:]
	s.DeviceID = binary.LittleEndian.Uint32(b[0:4])
	s.DeviceType = binary.LittleEndian.Uint16(b[4:6])
	s.PartNumber = binary.LittleEndian.Uint16(b[6:8])
	s.Status = binary.LittleEndian.Uint32(b[8:12])
	off := 12
	s.Version.Arm0Version = binary.LittleEndian.Uint32(b[off : off+4])
	s.Version.Arm0Date = binary.LittleEndian.Uint32(b[off+4 : off+8])
	s.Version.Arm1Version = binary.LittleEndian.Uint32(b[off+8 : off+12])
	s.Version.Arm1Date = binary.LittleEndian.Uint32(b[off+12 : off+16])
	s.Version.CoreVersion = binary.LittleEndian.Uint32(b[off+16 : off+20])
	s.Version.CoreDate = binary.LittleEndian.Uint32(b[off+20 : off+24])
	off += versionInfoSize
	s.IPAddr = binary.LittleEndian.Uint32(b[off : off+4])
	s.IPMask = binary.LittleEndian.Uint32(b[off+4 : off+8])
	s.ClientAddr = binary.LittleEndian.Uint32(b[off+8 : off+12])
	off += 12
	copy(s.MAC[:], b[off:off+6])
	off += 6
	for i := 0; i < 8; i++ {
		s.Temperature[i] = getF64(b[off : off+8])
		off += 8
	}
	s.Pressure = getF64(b[off : off+8])
	return s, nil
}

// MarshalBinary encodes s as StatusMessageSize little-endian bytes. Used by
// the sonar simulator to produce realistic beacons for tests.
func (s StatusMessage) MarshalBinary() ([]byte, error) {
	buf := make([]byte, StatusMessageSize)
	s.Head.PutBytes(buf[0:HeaderSize])
	b := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(b[0:4], s.DeviceID)
	binary.LittleEndian.PutUint16(b[4:6], s.DeviceType)
	binary.LittleEndian.PutUint16(b[6:8], s.PartNumber)
	binary.LittleEndian.PutUint32(b[8:12], s.Status)
	off := 12
	binary.LittleEndian.PutUint32(b[off:off+4], s.Version.Arm0Version)
	binary.LittleEndian.PutUint32(b[off+4:off+8], s.Version.Arm0Date)
	binary.LittleEndian.PutUint32(b[off+8:off+12], s.Version.Arm1Version)
	binary.LittleEndian.PutUint32(b[off+12:off+16], s.Version.Arm1Date)
	binary.LittleEndian.PutUint32(b[off+16:off+20], s.Version.CoreVersion)
	binary.LittleEndian.PutUint32(b[off+20:off+24], s.Version.CoreDate)
	off += versionInfoSize
	binary.LittleEndian.PutUint32(b[off:off+4], s.IPAddr)
	binary.LittleEndian.PutUint32(b[off+4:off+8], s.IPMask)
	binary.LittleEndian.PutUint32(b[off+8:off+12], s.ClientAddr)
	off += 12
	copy(b[off:off+6], s.MAC[:])
	off += 6
	for i := 0; i < 8; i++ {
		putF64(b[off:off+8], s.Temperature[i])
		off += 8
	}
	putF64(b[off:off+8], s.Pressure)
	return buf, nil
}

// IPv4ToUint32 packs a dotted-quad address into the little-endian uint32
// form used by IPAddr/IPMask/ClientAddr.
func IPv4ToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(v4)
}

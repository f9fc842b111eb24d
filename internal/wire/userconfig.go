package wire

import (
	"encoding/binary"
	"fmt"
)

// UserConfigSize is the packed size of a UserConfig message, header
// included.
const UserConfigSize = HeaderSize + 4 + 4 + 4

// UserConfig carries the sonar's persisted network configuration
// (OculusUserConfig). The driver recognizes it on receive but, per
// spec.md, has no operation that mutates it — the device's network
// settings are provisioned out of band.
type UserConfig struct {
	Head       Header
	IPAddr     uint32
	IPMask     uint32
	DHCPEnable uint32
}

// UnmarshalUserConfig decodes a whole UserConfig message (buf starting at
// the header, as received on the data channel).
func UnmarshalUserConfig(buf []byte) (UserConfig, error) {
	var c UserConfig
	if len(buf) < UserConfigSize {
		return c, fmt.Errorf("%w: user config needs %d bytes, got %d", ErrShortBuffer, UserConfigSize, len(buf))
	}
	if err := c.Head.UnmarshalBinary(buf); err != nil {
		return c, err
	}
	b := buf[HeaderSize:]
	c.IPAddr = binary.LittleEndian.Uint32(b[0:4])
	c.IPMask = binary.LittleEndian.Uint32(b[4:8])
	c.DHCPEnable = binary.LittleEndian.Uint32(b[8:12])
	return c, nil
}

// MarshalBinary encodes c as UserConfigSize little-endian bytes.
func (c UserConfig) MarshalBinary() ([]byte, error) {
	buf := make([]byte, UserConfigSize)
	c.Head.PutBytes(buf[0:HeaderSize])
	b := buf[HeaderSize:]
	binary.LittleEndian.PutUint32(b[0:4], c.IPAddr)
	binary.LittleEndian.PutUint32(b[4:8], c.IPMask)
	binary.LittleEndian.PutUint32(b[8:12], c.DHCPEnable)
	return buf, nil
}

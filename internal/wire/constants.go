// Package wire defines the byte-exact, little-endian wire records exchanged
// with an Oculus-family imaging sonar, and the explicit offset-based
// encode/decode logic for each of them.
package wire

// OculusID is the fixed magic value ("SO" read little-endian) that opens
// every message header on the wire.
const OculusID uint16 = 0x4F53

// Message ids, transmitted as their underlying uint16. Unknown values parse
// without error; they simply don't match any of these constants.
const (
	MsgStatus           uint16 = 1
	MsgSimpleFire       uint16 = 21
	MsgPingResult       uint16 = 34
	MsgSimplePingResult uint16 = 35
	MsgUserConfig       uint16 = 85
	MsgBootInfo         uint16 = 128
	MsgDummy            uint16 = 255
)

// Fire descriptor wire versions, carried in Header.MsgVersion.
const (
	FireVersion1 uint16 = 0
	FireVersion2 uint16 = 2
)

// PingRate enumerates the sonar's fire-rate demand, including standby.
type PingRate uint8

const (
	PingRateNormal  PingRate = 0 // 10 Hz
	PingRateHigh    PingRate = 1 // 15 Hz
	PingRateHighest PingRate = 2 // 40 Hz
	PingRateLow     PingRate = 3 // 5 Hz
	PingRateLowest  PingRate = 4 // 2 Hz
	PingRateStandby PingRate = 5
)

// MasterMode selects the acoustic frequency regime.
type MasterMode uint8

const (
	MasterModeLowFreqWide    MasterMode = 1
	MasterModeHighFreqNarrow MasterMode = 2
)

// DataSize is the per-entry width of image data in a ping result.
type DataSize uint8

const (
	DataSize8Bit  DataSize = 0
	DataSize16Bit DataSize = 1
	DataSize24Bit DataSize = 2
	DataSize32Bit DataSize = 3
)

// Fire flag bits, spec.md §6.
const (
	FlagRangeInMetres uint8 = 1 << 0
	Flag16BitImage    uint8 = 1 << 1
	FlagGainSend      uint8 = 1 << 2
	FlagSimpleReturn  uint8 = 1 << 3
	FlagGainAssistOff uint8 = 1 << 4
	FlagLowPower      uint8 = 1 << 5
	FlagFullBeams     uint8 = 1 << 6
	FlagNetworkTrig   uint8 = 1 << 7
)

// DefaultFlags matches spec.md §6's default fire descriptor: meters, gain
// return, simple return, gain assist disabled.
const DefaultFlags = FlagRangeInMetres | FlagGainSend | FlagSimpleReturn | FlagGainAssistOff

// Network ports, spec.md §6.
const (
	StatusPort = 52102
	DataPort   = 52100
)

package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FireV1Size and FireV2Size are the packed sizes of the two fire descriptor
// wire versions, header included.
const (
	fireCommonSize = 1 + 1 + 1 + 1 + 1 + 8 + 8 + 8 + 8 // mode..salinity
	FireV1Size     = HeaderSize + fireCommonSize
	FireV2Size     = HeaderSize + fireCommonSize + 4 + 8 + 4 + 20
)

// Fire is the fire descriptor common to both wire versions (spec.md §3).
// V2-only fields are carried alongside and ignored when encoding as V1.
type Fire struct {
	Head         Header
	MasterMode   uint8
	PingRate     PingRate
	NetworkSpeed uint8
	Gamma        uint8
	Flags        uint8
	Range        float64
	Gain         float64
	SpeedOfSound float64
	Salinity     float64

	// V2-only.
	ExtFlags uint32
}

// DefaultFire returns the default fire descriptor listed in spec.md §6.
func DefaultFire() Fire {
	return Fire{
		MasterMode:   uint8(MasterModeHighFreqNarrow),
		PingRate:     PingRateNormal,
		NetworkSpeed: 0xFF,
		Gamma:        127,
		Flags:        DefaultFlags,
		Range:        2.54,
		Gain:         50,
		SpeedOfSound: 0,
		Salinity:     0,
	}
}

// IsV2 reports whether f should be encoded using the v2 wire layout, based
// on its header's message version.
func (f Fire) IsV2() bool { return f.Head.MsgVersion == FireVersion2 }

// MarshalBinary encodes f using the wire version recorded in f.Head.MsgVersion.
func (f Fire) MarshalBinary() ([]byte, error) {
	if f.IsV2() {
		return f.marshalV2(), nil
	}
	return f.marshalV1(), nil
}

func (f Fire) marshalV1() []byte {
	buf := make([]byte, FireV1Size)
	f.Head.PutBytes(buf[0:HeaderSize])
	putFireCommon(buf[HeaderSize:], f)
	return buf
}

func (f Fire) marshalV2() []byte {
	buf := make([]byte, FireV2Size)
	f.Head.PutBytes(buf[0:HeaderSize])
	off := HeaderSize
	putFireCommon(buf[off:], f)
	off += fireCommonSize
	binary.LittleEndian.PutUint32(buf[off:off+4], f.ExtFlags)
	// reserved0[2], beaconLocatorFrequency, reserved1[5] are always
	// transmitted as zero; the sonar ignores them on receive.
	return buf
}

func putFireCommon(buf []byte, f Fire) {
	buf[0] = f.MasterMode
	buf[1] = uint8(f.PingRate)
	buf[2] = f.NetworkSpeed
	buf[3] = f.Gamma
	buf[4] = f.Flags
	binary.LittleEndian.PutUint64(buf[5:13], math.Float64bits(f.Range))
	binary.LittleEndian.PutUint64(buf[13:21], math.Float64bits(f.Gain))
	binary.LittleEndian.PutUint64(buf[21:29], math.Float64bits(f.SpeedOfSound))
	binary.LittleEndian.PutUint64(buf[29:37], math.Float64bits(f.Salinity))
}

func getFireCommon(buf []byte, f *Fire) {
	f.MasterMode = buf[0]
	f.PingRate = PingRate(buf[1])
	f.NetworkSpeed = buf[2]
	f.Gamma = buf[3]
	f.Flags = buf[4]
	f.Range = math.Float64frombits(binary.LittleEndian.Uint64(buf[5:13]))
	f.Gain = math.Float64frombits(binary.LittleEndian.Uint64(buf[13:21]))
	f.SpeedOfSound = math.Float64frombits(binary.LittleEndian.Uint64(buf[21:29]))
	f.Salinity = math.Float64frombits(binary.LittleEndian.Uint64(buf[29:37]))
}

// UnmarshalFire decodes a fire descriptor from buf, dispatching on the
// header's MsgVersion field to pick the v1 or v2 layout.
func UnmarshalFire(buf []byte) (Fire, error) {
	var f Fire
	if len(buf) < HeaderSize {
		return f, fmt.Errorf("%w: fire header", ErrShortBuffer)
	}
	if err := f.Head.UnmarshalBinary(buf); err != nil {
		return f, err
	}
	if f.Head.MsgVersion == FireVersion2 {
		if len(buf) < FireV2Size {
			return f, fmt.Errorf("%w: fire v2 needs %d bytes, got %d", ErrShortBuffer, FireV2Size, len(buf))
		}
		getFireCommon(buf[HeaderSize:], &f)
		f.ExtFlags = binary.LittleEndian.Uint32(buf[HeaderSize+fireCommonSize : HeaderSize+fireCommonSize+4])
		return f, nil
	}
	if len(buf) < FireV1Size {
		return f, fmt.Errorf("%w: fire v1 needs %d bytes, got %d", ErrShortBuffer, FireV1Size, len(buf))
	}
	getFireCommon(buf[HeaderSize:], &f)
	return f, nil
}

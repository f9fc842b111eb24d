package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// pingTailV1Size is the size, in bytes, of everything in a
// SimplePingResultV1 that follows the embedded fire descriptor and
// precedes the bearings array.
const pingTailV1Size = 4 + 4 + 8 + 8 + 8 + 8 + 4 + 1 + 8 + 2 + 2 + 4 + 4 + 4

// pingTailV2Size is the v2 equivalent; it adds heading, pitch and roll,
// widens pingStartTime to a double, and carries four spare uint32 words
// after the beam count.
const pingTailV2Size = 4 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 1 + 8 + 2 + 2 + 16 + 4 + 4 + 4

// SimplePingResultV1Size and SimplePingResultV2Size are the fixed-size
// portion of a ping result, not including the trailing bearings array or
// opaque image bytes.
const (
	SimplePingResultV1Size = FireV1Size + pingTailV1Size
	SimplePingResultV2Size = FireV2Size + pingTailV2Size
)

// SimplePingResult is the echoed fire descriptor plus acoustic ping
// metadata (spec.md §3). Heading/pitch/roll are v2-only and read as zero
// when decoded from a v1 frame; a v1 frame carries the ping start time as
// whole seconds only.
type SimplePingResult struct {
	FireMessage Fire

	PingID           uint32
	Status           uint32
	Frequency        float64
	Temperature      float64
	Pressure         float64
	Heading          float64 // v2 only
	Pitch            float64 // v2 only
	Roll             float64 // v2 only
	SpeedOfSoundUsed float64
	PingStartTime    float64 // seconds; v1 carries this as whole seconds only
	DataSize         DataSize
	RangeResolution  float64
	NRanges          uint16
	NBeams           uint16
	ImageOffset      uint32
	ImageSize        uint32
	MessageSize      uint32

	// Bearings holds one centi-degree value per beam, and Image holds the
	// opaque pixel bytes that follow it in the payload. Both are parsed out
	// of the trailing variable-length section of the frame.
	Bearings []int16
	Image    []byte
}

// UnmarshalSimplePingResult decodes a ping result from a raw message payload,
// dispatching on the embedded fire descriptor's wire version (buf must
// start at the fire descriptor, i.e. the message payload, not the header).
func UnmarshalSimplePingResult(buf []byte) (SimplePingResult, error) {
	var r SimplePingResult
	fire, err := UnmarshalFire(buf)
	if err != nil {
		return r, fmt.Errorf("ping result: %w", err)
	}
	r.FireMessage = fire

	if fire.IsV2() {
		if len(buf) < SimplePingResultV2Size {
			return r, fmt.Errorf("%w: ping result v2 needs %d bytes, got %d", ErrShortBuffer, SimplePingResultV2Size, len(buf))
		}
		b := buf[FireV2Size:]
		r.PingID = binary.LittleEndian.Uint32(b[0:4])
		r.Status = binary.LittleEndian.Uint32(b[4:8])
		r.Frequency = getF64(b[8:16])
		r.Temperature = getF64(b[16:24])
		r.Pressure = getF64(b[24:32])
		r.Heading = getF64(b[32:40])
		r.Pitch = getF64(b[40:48])
		r.Roll = getF64(b[48:56])
		r.SpeedOfSoundUsed = getF64(b[56:64])
		r.PingStartTime = getF64(b[64:72])
		r.DataSize = DataSize(b[72])
		r.RangeResolution = getF64(b[73:81])
		r.NRanges = binary.LittleEndian.Uint16(b[81:83])
		r.NBeams = binary.LittleEndian.Uint16(b[83:85])
		// 4 spare uint32 words (16 bytes) at b[85:101] are ignored.
		r.ImageOffset = binary.LittleEndian.Uint32(b[101:105])
		r.ImageSize = binary.LittleEndian.Uint32(b[105:109])
		r.MessageSize = binary.LittleEndian.Uint32(b[109:113])
		return r, parseBearingsAndImage(&r, buf[SimplePingResultV2Size:])
	}

	if len(buf) < SimplePingResultV1Size {
		return r, fmt.Errorf("%w: ping result v1 needs %d bytes, got %d", ErrShortBuffer, SimplePingResultV1Size, len(buf))
	}
	b := buf[FireV1Size:]
	r.PingID = binary.LittleEndian.Uint32(b[0:4])
	r.Status = binary.LittleEndian.Uint32(b[4:8])
	r.Frequency = getF64(b[8:16])
	r.Temperature = getF64(b[16:24])
	r.Pressure = getF64(b[24:32])
	r.SpeedOfSoundUsed = getF64(b[32:40])
	r.PingStartTime = float64(binary.LittleEndian.Uint32(b[40:44]))
	r.DataSize = DataSize(b[44])
	r.RangeResolution = getF64(b[45:53])
	r.NRanges = binary.LittleEndian.Uint16(b[53:55])
	r.NBeams = binary.LittleEndian.Uint16(b[55:57])
	r.ImageOffset = binary.LittleEndian.Uint32(b[57:61])
	r.ImageSize = binary.LittleEndian.Uint32(b[61:65])
	r.MessageSize = binary.LittleEndian.Uint32(b[65:69])
	return r, parseBearingsAndImage(&r, buf[SimplePingResultV1Size:])
}

func parseBearingsAndImage(r *SimplePingResult, tail []byte) error {
	need := int(r.NBeams) * 2
	if len(tail) < need {
		return fmt.Errorf("%w: bearings array needs %d bytes, got %d", ErrShortBuffer, need, len(tail))
	}
	r.Bearings = make([]int16, r.NBeams)
	for i := range r.Bearings {
		r.Bearings[i] = int16(binary.LittleEndian.Uint16(tail[i*2 : i*2+2]))
	}
	rest := tail[need:]
	imgLen := int(r.ImageSize)
	if imgLen > len(rest) {
		imgLen = len(rest)
	}
	r.Image = rest[:imgLen]
	return nil
}

func getF64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func putF64(b []byte, v float64) {
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
}

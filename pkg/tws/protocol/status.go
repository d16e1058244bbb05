package protocol

import (
	"fmt"

	"github.com/srg/twsync/pkg/stream"
)

// StatusFrame is the playback status notification sent by the master:
// [status][sub-event][media type][codec][sample rate][volume]
type StatusFrame struct {
	SubEvent   uint8
	MediaType  stream.Type
	Codec      uint8
	SampleRate uint8
	Volume     uint8
}

// Encode serializes s. Stop-play frames carry no media fields and are five bytes.
func (s StatusFrame) Encode() []byte {
	if s.SubEvent == StatusStopPlay {
		return []byte{byte(EventStatus), s.SubEvent, 0, 0, 0}
	}
	return []byte{byte(EventStatus), s.SubEvent, byte(s.MediaType), s.Codec, s.SampleRate, s.Volume}
}

// DecodeStatus parses a status frame; missing trailing fields are zero
func DecodeStatus(b []byte) (StatusFrame, error) {
	if len(b) < 2 {
		return StatusFrame{}, fmt.Errorf("%w: status frame of %d bytes", ErrMalformedFrame, len(b))
	}
	if EventID(b[0]) != EventStatus {
		return StatusFrame{}, fmt.Errorf("%w: not a status frame (0x%02x)", ErrMalformedFrame, b[0])
	}

	var full [StatusFrameLen]byte
	copy(full[:], b)
	return StatusFrame{
		SubEvent:   full[1],
		MediaType:  stream.Type(full[2]),
		Codec:      full[3],
		SampleRate: full[4],
		Volume:     full[5],
	}, nil
}

// VolumeParam packs a volume sync parameter: media type in the low byte,
// volume in the next one.
func VolumeParam(media stream.Type, volume uint8) uint32 {
	return uint32(media) | uint32(volume)<<8
}

// SplitVolume is the inverse of VolumeParam
func SplitVolume(p uint32) (stream.Type, uint8) {
	return stream.Type(p & 0xFF), uint8(p >> 8)
}

// Battery voltage range reported by the legacy firmware, in microvolts
const (
	BatteryMinMicrovolts = 3200000
	BatteryMaxMicrovolts = 4200000
)

// BatteryParam packs a battery level (0..10) into a battery sync parameter:
// percentage in the top byte, an interpolated voltage in the low 24 bits.
func BatteryParam(level uint8) uint32 {
	l := uint32(level & 0xF)
	p := l*(BatteryMaxMicrovolts-BatteryMinMicrovolts)/10 + BatteryMinMicrovolts
	return p | (l*10)<<24
}

// SplitBattery returns the percentage and voltage of a battery parameter
func SplitBattery(p uint32) (percent uint8, microvolts uint32) {
	return uint8(p >> 24), p & 0xFFFFFF
}

// TWSMode is the controller play mode for the TWS link
type TWSMode uint8

const (
	TWSModeSingle TWSMode = iota
	TWSModeBT
	TWSModeAUX
	TWSModeMusic
	TWSModeUSound
	TWSModeBTSCO
)

// DRCMode selects the dynamic range compression profile on the sink
type DRCMode uint8

const (
	DRCModeNormal DRCMode = 0
	DRCModeAUX    DRCMode = 1
	DRCModeOff    DRCMode = 2
	DRCModeOldVer DRCMode = 7
)

// ModeForStream maps a source stream type to the TWS and DRC mode
func ModeForStream(t stream.Type) (TWSMode, DRCMode) {
	switch t {
	case stream.TypeLocalMusic:
		return TWSModeMusic, DRCModeOff
	case stream.TypeLineIn:
		return TWSModeAUX, DRCModeAUX
	case stream.TypeVoice:
		return TWSModeBTSCO, DRCModeNormal
	case stream.TypeUSound:
		return TWSModeUSound, DRCModeAUX
	default:
		return TWSModeBT, DRCModeNormal
	}
}

// StreamForMode maps a sink TWS mode back to the stream type it plays
func StreamForMode(m TWSMode) stream.Type {
	switch m {
	case TWSModeAUX:
		return stream.TypeLineIn
	case TWSModeMusic:
		return stream.TypeLocalMusic
	case TWSModeBTSCO:
		return stream.TypeVoice
	case TWSModeUSound:
		return stream.TypeUSound
	default:
		return stream.TypeMusic
	}
}

package stream

import "fmt"

// Type is the audio stream type. Values are exchanged with the TWS peer
// inside status frames and must not be renumbered.
type Type uint8

const (
	TypeDefault Type = iota + 1
	TypeMusic
	TypeLocalMusic
	TypeTTS
	TypeVoice
	TypeLineIn
	TypeLineInMix
	TypeSubwoofer
	TypeASR
	TypeAI
	TypeUSound
	TypeUSoundMix
	TypeUSpeaker
	TypeI2SRxIn
	TypeSPDIFIn
	TypeGenerateIn
	TypeGenerateOut
	TypeLocalRecord
	TypeGMARecord
	TypeBackgroundRecord
	TypeMicIn
	TypeFM
	TypeTWS
	TypeExt
)

var typeNames = map[Type]string{
	TypeDefault:    "default",
	TypeMusic:      "music",
	TypeLocalMusic: "local-music",
	TypeTTS:        "tts",
	TypeVoice:      "voice",
	TypeLineIn:     "linein",
	TypeUSound:     "usound",
	TypeMicIn:      "mic-in",
	TypeFM:         "fm",
	TypeTWS:        "tws",
}

func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("stream(%d)", uint8(t))
}

// ParseType maps a stream type name back to its value
func ParseType(s string) (Type, error) {
	for t, n := range typeNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown stream type %q", s)
}

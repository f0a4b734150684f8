// Package inputmode keeps the engine's and the host's view of the input
// mode in sync.
//
// Two (open, mode) pairs are tracked. The engine-effective pair is what the
// conversion engine works with; the host-visible pair is what the host's
// mode store shows to the rest of the desktop. Focus changes, field hints,
// host-originated toggles and engine notifications all funnel through the
// Manager, which decides whether the UI needs refreshing and which
// host-visible fields need publishing.
package inputmode

import (
	"fmt"
	"strings"
)

// ConversionMode is the conversion mode of the input method.
type ConversionMode int

const (
	Direct ConversionMode = iota
	Hiragana
	FullKatakana
	HalfASCII
	FullASCII
	HalfKatakana
)

var modeNames = [...]string{
	Direct:       "direct",
	Hiragana:     "hiragana",
	FullKatakana: "full_katakana",
	HalfASCII:    "half_ascii",
	FullASCII:    "full_ascii",
	HalfKatakana: "half_katakana",
}

func (m ConversionMode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseConversionMode parses the names produced by String.
func ParseConversionMode(s string) (ConversionMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if name == s {
			return ConversionMode(i), nil
		}
	}
	return Direct, fmt.Errorf("unknown conversion mode: %q", s)
}

// Host conversion mode bits, as stored in the host's mode store.
const (
	HostNative    uint32 = 0x0001
	HostKatakana  uint32 = 0x0002
	HostFullShape uint32 = 0x0008
	HostRoman     uint32 = 0x0010
)

// HostBits returns the host representation of m. kana selects kana input;
// otherwise the roman flag is set for the native modes.
func (m ConversionMode) HostBits(kana bool) uint32 {
	var bits uint32
	switch m {
	case Hiragana:
		bits = HostNative | HostFullShape
	case FullKatakana:
		bits = HostNative | HostKatakana | HostFullShape
	case HalfKatakana:
		bits = HostNative | HostKatakana
	case FullASCII:
		bits = HostFullShape
	default:
		return 0
	}
	if !kana && bits&HostNative != 0 {
		bits |= HostRoman
	}
	return bits
}

// ModeFromHostBits converts host bits back to a ConversionMode. The roman
// flag and unknown bits are ignored. ok is false for combinations the input
// method has no mode for.
func ModeFromHostBits(bits uint32) (mode ConversionMode, ok bool) {
	switch bits & (HostNative | HostKatakana | HostFullShape) {
	case HostNative | HostFullShape, HostNative:
		return Hiragana, true
	case HostNative | HostKatakana | HostFullShape:
		return FullKatakana, true
	case HostNative | HostKatakana:
		return HalfKatakana, true
	case HostFullShape:
		return FullASCII, true
	case 0:
		return HalfASCII, true
	default:
		return Direct, false
	}
}

// State is an (open, mode) pair.
type State struct {
	Open bool
	Mode ConversionMode
}

func (s State) String() string {
	if s.Open {
		return "open/" + s.Mode.String()
	}
	return "closed/" + s.Mode.String()
}

// Action tells the caller what to do after a transition.
type Action int

const (
	DoNothing Action = iota
	UpdateUI
)

func (a Action) String() string {
	if a == UpdateUI {
		return "update_ui"
	}
	return "do_nothing"
}

// Notify is a set of host-visible fields that changed and must be published.
type Notify uint8

const (
	NotifyHostOpenClose Notify = 1 << iota
	NotifyHostMode

	NotifyNone Notify = 0
)

// Has reports whether n contains flag.
func (n Notify) Has(flag Notify) bool { return n&flag != 0 }

package inputmode

import (
	"slices"
	"strings"
)

// FieldHint is a scope tag describing what the focused field expects.
type FieldHint string

// Recognized field hints. Tags are compared case-insensitively; any other
// tag is treated as no hint at all.
const (
	HintURL              FieldHint = "url"
	HintEmailUsername    FieldHint = "email_username"
	HintEmailAddress     FieldHint = "email_smtp_address"
	HintPassword         FieldHint = "password"
	HintNumber           FieldHint = "number"
	HintDigits           FieldHint = "digits"
	HintTelephone        FieldHint = "telephone_number"
	HintDate             FieldHint = "date"
	HintTime             FieldHint = "time"
	HintNoIME            FieldHint = "no_ime"
	HintHiragana         FieldHint = "hiragana"
	HintKatakanaFull     FieldHint = "katakana_fullwidth"
	HintKatakanaHalf     FieldHint = "katakana_halfwidth"
	HintAlphanumericFull FieldHint = "alphanumeric_fullwidth"
	HintAlphanumericHalf FieldHint = "alphanumeric_halfwidth"
)

// Aliases accepted by ParseFieldHint.
var hintAliases = map[string]FieldHint{
	"no-ime":        HintNoIME,
	"hiragana-only": HintHiragana,
	"katakana-only": HintKatakanaFull,
	"katakana":      HintKatakanaFull,
	"half_katakana": HintKatakanaHalf,
	"email":         HintEmailAddress,
	"email_address": HintEmailAddress,
	"tel":           HintTelephone,
	"phone":         HintTelephone,
	"ascii":         HintAlphanumericHalf,
	"alphanumeric":  HintAlphanumericHalf,
	"fullwidth":     HintAlphanumericFull,
	"numeric":       HintNumber,
}

// ParseFieldHint normalizes a host scope tag.
func ParseFieldHint(tag string) FieldHint {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if h, ok := hintAliases[tag]; ok {
		return h
	}
	return FieldHint(tag)
}

// ParseFieldHints normalizes a list of host scope tags.
func ParseFieldHints(tags []string) []FieldHint {
	hints := make([]FieldHint, 0, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		hints = append(hints, ParseFieldHint(tag))
	}
	return hints
}

// category is what a hint asks for. A hint either disables the input
// method, forces a mode, or says nothing.
type category struct {
	known   bool
	disable bool
	mode    ConversionMode
}

func categorize(h FieldHint) category {
	switch h {
	case HintURL, HintEmailUsername, HintEmailAddress, HintPassword,
		HintNumber, HintDigits, HintTelephone, HintDate, HintTime, HintNoIME:
		return category{known: true, disable: true}
	case HintHiragana:
		return category{known: true, mode: Hiragana}
	case HintKatakanaFull:
		return category{known: true, mode: FullKatakana}
	case HintKatakanaHalf:
		return category{known: true, mode: HalfKatakana}
	case HintAlphanumericFull:
		return category{known: true, mode: FullASCII}
	case HintAlphanumericHalf:
		return category{known: true, mode: HalfASCII}
	default:
		return category{}
	}
}

// GetOverriddenState applies field hints to base. A single unambiguous
// category wins: "disable" closes the input method and keeps the mode,
// "force mode" opens it in that mode. No hints, only unknown hints, or
// several different categories leave base untouched.
func GetOverriddenState(base State, hints []FieldHint) State {
	var found []category
	for _, h := range hints {
		c := categorize(h)
		if !c.known || slices.Contains(found, c) {
			continue
		}
		found = append(found, c)
	}
	if len(found) != 1 {
		return base
	}
	if found[0].disable {
		return State{Open: false, Mode: base.Mode}
	}
	return State{Open: true, Mode: found[0].mode}
}

// normalizeHints drops duplicates while keeping order.
func normalizeHints(hints []FieldHint) []FieldHint {
	out := make([]FieldHint, 0, len(hints))
	for _, h := range hints {
		if h == "" || slices.Contains(out, h) {
			continue
		}
		out = append(out, h)
	}
	return out
}

package textsurface

import (
	"unicode/utf16"
)

// Encode converts s to native units.
func Encode(s string) []uint16 {
	return utf16.Encode([]rune(s))
}

// Decode converts native units to a string. Unpaired surrogates become
// U+FFFD.
func Decode(units []uint16) string {
	return string(utf16.Decode(units))
}

// Len returns the length of s in native units.
func Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// UnitsForRunes returns how many native units the first n codepoints of s
// occupy. n is clamped to the number of codepoints in s.
func UnitsForRunes(s string, n int) int {
	if n <= 0 {
		return 0
	}
	units := 0
	for _, r := range s {
		if n == 0 {
			break
		}
		units += utf16.RuneLen(r)
		n--
	}
	return units
}

// HasPrefix reports whether units starts with prefix.
func HasPrefix(units, prefix []uint16) bool {
	if len(prefix) > len(units) {
		return false
	}
	for i, u := range prefix {
		if units[i] != u {
			return false
		}
	}
	return true
}

// IsHighSurrogate reports whether u is the first half of a surrogate pair.
func IsHighSurrogate(u uint16) bool {
	return u >= 0xD800 && u <= 0xDBFF
}

// IsLowSurrogate reports whether u is the second half of a surrogate pair.
func IsLowSurrogate(u uint16) bool {
	return u >= 0xDC00 && u <= 0xDFFF
}

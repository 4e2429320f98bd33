package crypt

// RFC 4013 SASLprep, applied to passwords before the R5/R6 hash.

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/bidi"
	"golang.org/x/text/unicode/norm"
)

// SASLprep errors
var (
	ErrSASLprepProhibited    = errors.New("saslprep: prohibited character")
	ErrSASLprepBidirectional = errors.New("saslprep: failed bidirectional check")
	ErrSASLprepEmpty         = errors.New("saslprep: empty string")
)

// SASLprep maps, NFKC-normalises and checks a string. Unassigned code
// points are rejected only when prohibitUnassigned is set ("stored string"
// profile).
func SASLprep(data string, prohibitUnassigned bool) (string, error) {
	var mapped strings.Builder
	mapped.Grow(len(data))
	for _, r := range data {
		switch {
		case mapsToNothing(r):
		case isNonASCIISpace(r):
			mapped.WriteRune(' ')
		default:
			mapped.WriteRune(r)
		}
	}

	normalized := norm.NFKC.String(mapped.String())
	if normalized == "" {
		return "", ErrSASLprepEmpty
	}

	var hasRandAL, hasL bool
	for _, r := range normalized {
		if isProhibited(r) {
			return "", ErrSASLprepProhibited
		}
		if prohibitUnassigned && !isAssigned(r) {
			return "", ErrSASLprepProhibited
		}
		switch bidiClass(r) {
		case bidi.R, bidi.AL:
			hasRandAL = true
		case bidi.L:
			hasL = true
		}
	}

	if hasRandAL {
		runes := []rune(normalized)
		first, last := bidiClass(runes[0]), bidiClass(runes[len(runes)-1])
		if hasL || !isRandAL(first) || !isRandAL(last) {
			return "", ErrSASLprepBidirectional
		}
	}
	return normalized, nil
}

// NormalizePassword applies the stored-string profile. The empty password
// is valid and returned unchanged.
func NormalizePassword(password string) (string, error) {
	if password == "" {
		return "", nil
	}
	return SASLprep(password, true)
}

func bidiClass(r rune) bidi.Class {
	props, _ := bidi.LookupRune(r)
	return props.Class()
}

func isRandAL(c bidi.Class) bool {
	return c == bidi.R || c == bidi.AL
}

// mapsToNothing is RFC 3454 table B.1.
func mapsToNothing(r rune) bool {
	switch r {
	case 0x00AD, 0x034F, 0x1806, 0x180B, 0x180C, 0x180D,
		0x200B, 0x200C, 0x200D, 0x2060, 0xFEFF:
		return true
	}
	return r >= 0xFE00 && r <= 0xFE0F
}

// isNonASCIISpace is RFC 3454 table C.1.2.
func isNonASCIISpace(r rune) bool {
	switch r {
	case 0x00A0, 0x1680, 0x202F, 0x205F, 0x3000:
		return true
	}
	return r >= 0x2000 && r <= 0x200B
}

// isProhibited covers tables C.1.2 and C.2 through C.9.
func isProhibited(r rune) bool {
	switch {
	case isNonASCIISpace(r):
		return true
	case r < 0x20 || r == 0x7F || (r >= 0x80 && r <= 0x9F): // C.2.1, C.2.2
		return true
	case r == 0x06DD || r == 0x070F || r == 0x180E || r == 0x200C || r == 0x200D ||
		r == 0x2028 || r == 0x2029 || (r >= 0x2060 && r <= 0x2063) ||
		(r >= 0x206A && r <= 0x206F) || r == 0xFEFF || (r >= 0xFFF9 && r <= 0xFFFC) ||
		(r >= 0x1D173 && r <= 0x1D17A): // C.2.2
		return true
	case unicode.Is(unicode.Co, r): // C.3
		return true
	case (r >= 0xFDD0 && r <= 0xFDEF) || r&0xFFFE == 0xFFFE: // C.4
		return true
	case r >= 0xD800 && r <= 0xDFFF: // C.5
		return true
	case r >= 0xFFF9 && r <= 0xFFFD: // C.6
		return true
	case r >= 0x2FF0 && r <= 0x2FFB: // C.7
		return true
	case r == 0x0340 || r == 0x0341 || r == 0x200E || r == 0x200F ||
		(r >= 0x202A && r <= 0x202E) || (r >= 0x206A && r <= 0x206F): // C.8
		return true
	case r == 0xE0001 || (r >= 0xE0020 && r <= 0xE007F): // C.9
		return true
	}
	return false
}

// isAssigned approximates table A.1 with the Unicode tables shipped in the
// standard library, which are newer than Unicode 3.2.
func isAssigned(r rune) bool {
	return unicode.In(r, unicode.L, unicode.M, unicode.N, unicode.P, unicode.S,
		unicode.Zs, unicode.Zl, unicode.Zp, unicode.Cc, unicode.Cf, unicode.Co)
}

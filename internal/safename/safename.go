// Package safename rewrites a job name into a filesystem-safe string:
// any UTF-16 code unit other than an ASCII letter or digit is replaced
// by its Crockford base-32 encoding wrapped in '_' delimiters, so the
// output matches [A-Za-z0-9_-]* and the mapping stays injective.
package safename

import (
	"strings"
	"unicode/utf16"
)

const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Safe returns the filesystem-safe rewriting of name. Distinct inputs
// always yield distinct outputs, and the output matches [A-Za-z0-9_-]*.
//
// Only letters and digits pass through literally. Everything else —
// including '_' and '-' themselves — is encoded as a 4-digit Crockford
// base-32 block wrapped in '_' delimiters, so that '_' never appears in
// the output except as a fixed-width block delimiter. That keeps the
// mapping injective: a decoder can always tell a literal run from an
// escaped block, since literal runs never contain '_'.
func Safe(name string) string {
	var b strings.Builder
	for _, unit := range utf16.Encode([]rune(name)) {
		if isLiteralASCII(unit) {
			b.WriteByte(byte(unit))
			continue
		}
		b.WriteByte('_')
		b.WriteString(encodeCrockford(unit))
		b.WriteByte('_')
	}
	return b.String()
}

func isLiteralASCII(unit uint16) bool {
	if unit > 127 {
		return false
	}
	c := byte(unit)
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

// encodeCrockford encodes a 16-bit code unit as Crockford base-32 digits,
// most-significant group first, with no padding (a fixed 4-group
// encoding since 16 bits fits in ceil(16/5) = 4 groups).
func encodeCrockford(unit uint16) string {
	var digits [4]byte
	v := uint32(unit)
	for i := 3; i >= 0; i-- {
		digits[i] = crockford[v&0x1F]
		v >>= 5
	}
	return string(digits[:])
}

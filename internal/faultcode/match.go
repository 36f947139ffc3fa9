package faultcode

import (
	"strconv"
	"strings"
	"unicode"
)

// isRangeCode reports whether a dataset code encodes a hyphenated range,
// e.g. "H1 - H9".
func isRangeCode(code string) bool {
	_, _, _, ok := parseRange(code)
	return ok
}

// parseRange splits a range code into its alphabetic prefix and inclusive
// numeric bounds. Both ends must share the same prefix.
func parseRange(code string) (prefix string, lo, hi int, ok bool) {
	parts := strings.Split(code, "-")
	if len(parts) != 2 {
		return "", 0, 0, false
	}
	loPrefix, loNum, ok := splitCode(strings.TrimSpace(parts[0]))
	if !ok {
		return "", 0, 0, false
	}
	hiPrefix, hiNum, ok := splitCode(strings.TrimSpace(parts[1]))
	if !ok || loPrefix != hiPrefix || hiNum < loNum {
		return "", 0, 0, false
	}
	return loPrefix, loNum, hiNum, true
}

// splitCode separates a fault code into its alphabetic prefix and numeric
// suffix. "H5" -> ("H", 5). Codes without a numeric suffix do not split.
func splitCode(code string) (prefix string, num int, ok bool) {
	i := len(code)
	for i > 0 && unicode.IsDigit(rune(code[i-1])) {
		i--
	}
	if i == len(code) || i == 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(code[i:])
	if err != nil {
		return "", 0, false
	}
	return code[:i], n, true
}

// matchesRange reports whether candidate falls within a range entry: its
// alphabetic prefix must equal the range's prefix and its numeric suffix
// must fall within the inclusive bounds.
func matchesRange(entry, candidate string) bool {
	prefix, lo, hi, ok := parseRange(entry)
	if !ok {
		return false
	}
	cPrefix, cNum, ok := splitCode(candidate)
	if !ok || cPrefix != prefix {
		return false
	}
	return cNum >= lo && cNum <= hi
}

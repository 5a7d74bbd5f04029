package utils

import (
	"strconv"
)

// StringToIntOr returns fallback when s is not an integer.
func StringToIntOr(s string, fallback int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return i
}

// StringToUint parses a positive id; ok is false for anything else.
func StringToUint(s string) (uint, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}

package id

import (
	"strings"

	"github.com/google/uuid"
)

// TraceLength is the number of characters in a trace identifier.
const TraceLength = 8

// UUID generates a random UUID v4 string.
func UUID() string {
	return uuid.NewString()
}

// Trace generates a short trace identifier. It is the first TraceLength
// characters of a UUID v4, which are all hex digits.
func Trace() string {
	return uuid.NewString()[:TraceLength]
}

// IsTrace reports whether s looks like a value produced by Trace.
func IsTrace(s string) bool {
	if len(s) != TraceLength {
		return false
	}
	return strings.Trim(s, "0123456789abcdef") == ""
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

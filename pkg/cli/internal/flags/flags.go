// Package flags provides reusable flag types for CLI commands.
package flags

import (
	"fmt"
	"strings"
)

// Headers implements pflag.Value for repeatable "Name: value" flags.
type Headers map[string]string

// String returns the string representation of the flag value.
func (h *Headers) String() string {
	parts := make([]string, 0, len(*h))
	for k, v := range *h {
		parts = append(parts, k+": "+v)
	}
	return strings.Join(parts, ",")
}

// Set adds a header.
func (h *Headers) Set(value string) error {
	name, v, ok := strings.Cut(value, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("invalid header %q, want Name: value", value)
	}
	if *h == nil {
		*h = Headers{}
	}
	(*h)[name] = strings.TrimSpace(v)
	return nil
}

// Type specifies the type label for Cobra flags.
func (h *Headers) Type() string {
	return "header"
}

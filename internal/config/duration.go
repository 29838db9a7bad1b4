package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration parses an optional, non-negative Go duration. field names the
// config path in error messages.
func ParseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", field)
	}
	return d, nil
}

// DurationOr is ParseDuration with def substituted for an empty or zero value.
func DurationOr(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDuration(field, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

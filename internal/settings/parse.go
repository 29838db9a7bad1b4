package settings

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// errMalformed marks a value that failed to parse; callers fall back to a default.
var errMalformed = errors.New("malformed setting")

func asBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(x))
	case float64:
		return x != 0, nil
	case int:
		return x != 0, nil
	}
	return false, errMalformed
}

func asInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, errMalformed
		}
		return int(x), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(x))
	}
	return 0, errMalformed
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func asStringList(v any) []string {
	switch x := v.(type) {
	case []string:
		return append([]string(nil), x...)
	case []any:
		out := make([]string, 0, len(x))
		for _, it := range x {
			if s := strings.TrimSpace(asString(it)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if strings.TrimSpace(x) == "" {
			return nil
		}
		return []string{x}
	}
	return nil
}

// ParseInterval accepts bare seconds ("60") or a Go duration ("1m30s").
// Empty means disabled.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, errMalformed
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, errMalformed
	}
	return d, nil
}

// ParseClock parses "HH:MM" (or bare minutes since midnight) into minutes since midnight.
func ParseClock(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= 24*60 {
			return 0, errMalformed
		}
		return n, nil
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, errMalformed
	}
	h, err1 := strconv.Atoi(strings.TrimSpace(hh))
	m, err2 := strconv.Atoi(strings.TrimSpace(mm))
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, errMalformed
	}
	return h*60 + m, nil
}

// ParseTextLimit clamps a configured body length into [MinTextLimit, TextLimit].
// Malformed input yields TextLimit.
func ParseTextLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return TextLimit
	}
	n = min(n, TextLimit)
	if n < MinTextLimit {
		n = MinTextLimit
	}
	return n
}

// ParseColor accepts an ARGB integer or "#RRGGBB" / "#AARRGGBB".
func ParseColor(v any) (uint32, error) {
	if s, ok := v.(string); ok {
		s = strings.TrimPrefix(strings.TrimSpace(s), "#")
		if s == "" {
			return 0, nil
		}
		n, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return 0, errMalformed
		}
		if len(s) == 6 {
			n |= 0xFF000000
		}
		return uint32(n), nil
	}
	n, err := asInt(v)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}

const (
	maxPatternSegments = 20
	maxSegmentMillis   = 10000
)

// NullPattern is sent when vibration is throttled; the watch expects a non-empty field.
var NullPattern = []byte{0, 0}

// ParseVibrationPattern converts "on, off, on, ..." millisecond durations into
// little-endian 16-bit segments.
func ParseVibrationPattern(raw string) ([]byte, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	if len(fields) == 0 {
		return nil, errMalformed
	}
	if len(fields) > maxPatternSegments {
		fields = fields[:maxPatternSegments]
	}
	out := make([]byte, 0, len(fields)*2)
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, errMalformed
		}
		n = min(n, maxSegmentMillis)
		out = append(out, byte(n), byte(n>>8))
	}
	return out, nil
}

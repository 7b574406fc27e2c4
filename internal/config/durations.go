package config

import (
	"fmt"
	"strings"
	"time"
)

// maxDuration bounds every duration key; anything longer is almost always a
// unit typo ("20h" for "20ms").
const maxDuration = 30 * 24 * time.Hour

// ParseDurationField parses a Go duration string for the key at path. Empty
// means unset and yields 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	case d > maxDuration:
		return 0, fmt.Errorf("%s: duration %s exceeds %s", path, d, maxDuration)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def standing in for an
// unset or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

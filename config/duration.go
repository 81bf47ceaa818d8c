package config

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidAge = errors.New("invalid age")

var agePattern = regexp.MustCompile(`^(?:(\d+)w\s*)?(?:(\d+)d\s*)?(?:(\d+)h\s*)?(?:(\d+)m)?$`)

// ParseDuration accepts Go durations and bare integers, which count seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// ParseAge parses a staleness limit. Besides the forms ParseDuration
// accepts it understands week/day/hour/minute expressions like "1w 2d 3h 4m".
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAge
	}

	if d, err := ParseDuration(s); err == nil {
		return d, nil
	}

	m := agePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, ErrInvalidAge
	}

	units := []time.Duration{7 * 24 * time.Hour, 24 * time.Hour, time.Hour, time.Minute}
	var total time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, ErrInvalidAge
		}
		total += time.Duration(n) * unit
	}

	return total, nil
}

package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidInterval is returned by ParseInterval for unusable schedule intervals.
var ErrInvalidInterval = errors.New("invalid schedule interval")

const day = 24 * time.Hour

// ParseInterval parses a validation cadence such as "30m", "4h" or "1d".
// Sub-day intervals must divide a day evenly so every run lands on the same
// wall-clock boundaries; price tables are daily or minute bars, so there is no
// week unit.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidInterval, raw)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q needs a positive integer count", ErrInvalidInterval, raw)
	}
	var d time.Duration
	switch s[len(s)-1] {
	case 'm':
		d = time.Duration(n) * time.Minute
	case 'h':
		d = time.Duration(n) * time.Hour
	case 'd':
		return time.Duration(n) * day, nil
	default:
		return 0, fmt.Errorf("%w: %q unit must be m, h or d", ErrInvalidInterval, raw)
	}
	if d > day || day%d != 0 {
		return 0, fmt.Errorf("%w: %q does not divide a day", ErrInvalidInterval, raw)
	}
	return d, nil
}

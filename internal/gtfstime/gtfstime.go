// Package gtfstime converts GTFS "HH:MM:SS" values, which may run past
// 24:00:00 for service continuing after midnight, into wall-clock display
// values.
package gtfstime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned for values that are not H:M:S digit groups.
var ErrMalformed = errors.New("malformed GTFS time")

// Time holds one GTFS time in both representations. Raw keeps the source
// text untouched and is the value to order by; Display is wrapped to a
// 24-hour clock.
type Time struct {
	Display string
	Raw     string
}

// Parse normalizes raw. An empty value stays empty (GTFS allows blank
// times on non-timepoint stops).
func Parse(raw string) (Time, error) {
	display, err := Display(raw)
	if err != nil {
		return Time{}, err
	}
	return Time{Display: display, Raw: raw}, nil
}

// Display returns raw wrapped to a 24-hour clock with every component
// zero-padded. Hours above 23 have 24 subtracted once.
func Display(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}

	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: %q", ErrMalformed, raw)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return "", fmt.Errorf("%w: %q", ErrMalformed, raw)
		}
		nums[i] = n
	}

	hours := nums[0]
	if hours > 23 {
		hours -= 24
	}

	return fmt.Sprintf("%02d:%02d:%02d", hours, nums[1], nums[2]), nil
}

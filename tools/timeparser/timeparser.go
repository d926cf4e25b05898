package timeparser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout and ClockLayout are the layouts of the split heartbeat fields
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04:05"
)

// GMT7 is the fixed UTC+7 offset heartbeat dates and times are rendered in
var GMT7 = time.FixedZone("GMT+7", 7*60*60)

// maxEpoch is 9999-12-31T23:59:59Z
const maxEpoch = 253402300799

// ParseEpoch parses an epoch-seconds value as sent by the tracking API
func ParseEpoch(value string) (int64, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return 0, fmt.Errorf("empty epoch value")
	}

	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		// JSON numbers may arrive in float form, e.g. 1700000000.0
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil || f != math.Trunc(f) || f < 0 || f > maxEpoch {
			return 0, fmt.Errorf("failed to parse epoch '%s': %w", value, err)
		}
		secs = int64(f)
	}

	// time.Unix accepts anything, but the split date must stay a four-digit year
	if secs < 0 || secs > maxEpoch {
		return 0, fmt.Errorf("epoch '%s' out of range", value)
	}

	return secs, nil
}

// SplitGMT7 renders an epoch in UTC+7 as separate date and time-of-day strings
func SplitGMT7(secs int64) (string, string) {
	t := time.Unix(secs, 0).In(GMT7)
	return t.Format(DateLayout), t.Format(ClockLayout)
}

// ParseHeartDate attempts to parse a stored heartbeat date with multiple formats
func ParseHeartDate(dateStr string) (time.Time, error) {
	return parseWithFormats(dateStr, []string{
		DateLayout,   // YYYY-MM-DD
		"02/01/2006", // DD/MM/YYYY
		time.RFC3339, // Standard RFC3339
	})
}

// ParseHeartClock parses a stored heartbeat time-of-day
func ParseHeartClock(clockStr string) (time.Time, error) {
	return parseWithFormats(clockStr, []string{
		ClockLayout, // HH:mm:ss
		"15:04",     // HH:mm
	})
}

func parseWithFormats(value string, formats []string) (time.Time, error) {
	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse '%s': %w", value, lastErr)
}

// Elapsed returns the time from a heartbeat to now, clamped at zero for
// heartbeats reported in the future
func Elapsed(heartbeat, now time.Time) time.Duration {
	d := now.Sub(heartbeat)
	if d < 0 {
		return 0
	}
	return d
}

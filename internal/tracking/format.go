package tracking

import (
	"fmt"
	"time"

	"github.com/septivank/gps-tracking-worker/tools/timeparser"
)

// CoordinatesUnknown is the "no fix" sentinel
const CoordinatesUnknown = "0,0"

var statusLabels = map[int]string{
	1: "Never online",
	2: "Online",
	3: "Expired",
	4: "Offline",
	5: "Block",
}

// StatusLabel maps a datastatus code to its label. Codes outside the table
// and missing codes are "Unknown".
func StatusLabel(code *int) string {
	if code == nil {
		return "Unknown"
	}
	if label, ok := statusLabels[*code]; ok {
		return label
	}
	return "Unknown"
}

// Coordinates combines latitude and longitude into "lat,lon". Both must be
// present, numeric and non-zero, otherwise the "0,0" sentinel is returned.
func Coordinates(lat, lon RawValue) string {
	la, okLat := lat.Float()
	lo, okLon := lon.Float()
	if !okLat || !okLon || la == 0 || lo == 0 {
		return CoordinatesUnknown
	}
	return fmt.Sprintf("%s,%s", lat.String(), lon.String())
}

// HeartTimeParts renders a heartbeat as UTC+7 date and time, empty when no
// heartbeat was observed
func HeartTimeParts(e Epoch) (string, string) {
	if !e.Observed() {
		return "", ""
	}
	return timeparser.SplitGMT7(e.Seconds)
}

// TimeSinceUpdate renders the time since the heartbeat as "XdYhZmin"
func TimeSinceUpdate(e Epoch, now time.Time) string {
	if !e.Observed() {
		return ""
	}

	elapsed := timeparser.Elapsed(time.Unix(e.Seconds, 0), now)
	days := int64(elapsed / (24 * time.Hour))
	hours := int64(elapsed%(24*time.Hour)) / int64(time.Hour)
	minutes := int64(elapsed%time.Hour) / int64(time.Minute)

	return fmt.Sprintf("%dd%dh%dmin", days, hours, minutes)
}

const (
	minutesInYear  = 365 * 24 * 60
	minutesInMonth = 30 * 24 * 60
	minutesInDay   = 24 * 60
)

// TimeAgo renders the time since the heartbeat using the coarsest unit the
// elapsed minutes reach: years, months (30 days), days, hours, minutes
func TimeAgo(e Epoch, now time.Time) string {
	if !e.Observed() {
		return ""
	}

	mins := int64(timeparser.Elapsed(time.Unix(e.Seconds, 0), now) / time.Minute)
	switch {
	case mins >= minutesInYear:
		return fmt.Sprintf("%dy ago", mins/minutesInYear)
	case mins >= minutesInMonth:
		return fmt.Sprintf("%dm ago", mins/minutesInMonth)
	case mins >= minutesInDay:
		return fmt.Sprintf("%dd ago", mins/minutesInDay)
	case mins >= 60:
		return fmt.Sprintf("%dh ago", mins/60)
	default:
		return fmt.Sprintf("%dmin ago", mins)
	}
}

package pipeline

import (
	"time"

	"github.com/septivank/gps-tracking-worker/internal/protrack"
	"github.com/septivank/gps-tracking-worker/internal/tracking"
)

// Normalizer turns reconciled entries into device records
type Normalizer struct {
	now func() time.Time
}

// NewNormalizer creates a normalizer reading the current time from now.
// A nil now uses time.Now.
func NewNormalizer(now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{now: now}
}

// Normalize converts every entry, preserving order. All relative ages of one
// call are computed against the same instant.
func (n *Normalizer) Normalize(entries []Entry) []tracking.DeviceRecord {
	now := n.now()
	records := make([]tracking.DeviceRecord, 0, len(entries))
	for _, e := range entries {
		switch e.Kind {
		case EntryReported:
			records = append(records, normalizeDevice(e.IMEI, e.Device, now))
		case EntryBatchFailed:
			records = append(records, placeholder(e.IMEI, tracking.DescriptionAPIError, tracking.APIErrorStatus(e.Detail)))
		default:
			records = append(records, placeholder(e.IMEI, tracking.DescriptionNoData, tracking.MissingStatus(e.IMEI)))
		}
	}
	return records
}

func normalizeDevice(imei string, d protrack.Device, now time.Time) tracking.DeviceRecord {
	lat, _ := d.Latitude.Float()
	lon, _ := d.Longitude.Float()

	var status *int
	if code, ok := d.DataStatus.Int(); ok {
		status = &code
	}

	heart := tracking.NewEpoch(d.HeartTime.String())
	date, clock := tracking.HeartTimeParts(heart)

	return tracking.DeviceRecord{
		IMEI:                  imei,
		Latitude:              lat,
		Longitude:             lon,
		Coordinates:           tracking.Coordinates(d.Latitude, d.Longitude),
		DataStatus:            status,
		DataStatusDescription: tracking.StatusLabel(status),
		HeartTimeDate:         date,
		HeartTimeTime:         clock,
		HeartTimeUnix:         heart,
		TimeSinceUpdate:       tracking.TimeSinceUpdate(heart, now),
		TimeAgo:               tracking.TimeAgo(heart, now),
		Status:                tracking.StatusSuccess,
	}
}

func placeholder(imei, description, status string) tracking.DeviceRecord {
	return tracking.DeviceRecord{
		IMEI:                  imei,
		Coordinates:           tracking.CoordinatesUnknown,
		DataStatusDescription: description,
		Status:                status,
	}
}

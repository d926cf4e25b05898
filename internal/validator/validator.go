package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/septivank/gps-tracking-worker/internal/db"
	"github.com/septivank/gps-tracking-worker/internal/tracking"
	"github.com/septivank/gps-tracking-worker/tools/timeparser"
)

// maxIMEILength matches the device_data.imei column
const maxIMEILength = 50

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid bool
	Reason  string
}

func invalid(format string, args ...any) ValidationResult {
	return ValidationResult{IsValid: false, Reason: fmt.Sprintf(format, args...)}
}

// Validator converts normalized device records into storable rows
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ToRow validates a record and converts it to a device_data row. The row is
// nil when the record is invalid.
func (v *Validator) ToRow(rec tracking.DeviceRecord) (*db.DeviceRow, ValidationResult) {
	imei := strings.TrimSpace(rec.IMEI)
	if imei == "" {
		return nil, invalid("empty imei")
	}
	if len(imei) > maxIMEILength {
		return nil, invalid("imei longer than %d characters", maxIMEILength)
	}

	if rec.Latitude < -90 || rec.Latitude > 90 {
		return nil, invalid("latitude %v out of range", rec.Latitude)
	}
	if rec.Longitude < -180 || rec.Longitude > 180 {
		return nil, invalid("longitude %v out of range", rec.Longitude)
	}

	heartUnix, result := heartbeatSeconds(rec.HeartTimeUnix)
	if !result.IsValid {
		return nil, result
	}

	date, err := normalizeDate(rec.HeartTimeDate)
	if err != nil {
		return nil, invalid("invalid hearttime_date: %v", err)
	}
	clock, err := normalizeClock(rec.HeartTimeTime)
	if err != nil {
		return nil, invalid("invalid hearttime_time: %v", err)
	}

	row := &db.DeviceRow{
		IMEI:                  imei,
		Latitude:              rec.Latitude,
		Longitude:             rec.Longitude,
		Coordinates:           rec.Coordinates,
		DataStatusDescription: rec.DataStatusDescription,
		HeartTimeDate:         date,
		HeartTimeTime:         clock,
		HeartTimeUnix:         heartUnix,
		Status:                rec.Status,
	}
	if row.Coordinates == "" {
		row.Coordinates = tracking.CoordinatesUnknown
	}
	if rec.DataStatus != nil {
		row.DataStatus = *rec.DataStatus
	}
	if heartUnix > 0 {
		at := time.Unix(heartUnix, 0).UTC()
		row.HeartbeatAt = &at
	}

	return row, ValidationResult{IsValid: true}
}

// heartbeatSeconds accepts parsed epochs and the "no value" markers, which
// store as 0. Anything else is a malformed timestamp.
func heartbeatSeconds(e tracking.Epoch) (int64, ValidationResult) {
	if e.Valid {
		return e.Seconds, ValidationResult{IsValid: true}
	}
	if tracking.NewRawString(strings.TrimSpace(e.Raw)).Absent() {
		return 0, ValidationResult{IsValid: true}
	}
	return 0, invalid("invalid hearttime_unix %q", e.Raw)
}

func normalizeDate(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	t, err := timeparser.ParseHeartDate(s)
	if err != nil {
		return "", err
	}
	return t.Format(timeparser.DateLayout), nil
}

func normalizeClock(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	t, err := timeparser.ParseHeartClock(s)
	if err != nil {
		return "", err
	}
	return t.Format(timeparser.ClockLayout), nil
}

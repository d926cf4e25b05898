// Package tracking holds the canonical device record and the pure formatters
// shared by the ingestion pipeline, the export writer and the query API.
package tracking

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/septivank/gps-tracking-worker/tools/timeparser"
)

// Record statuses other than the per-IMEI failure messages
const (
	StatusSuccess = "success"

	DescriptionAPIError = "API Error"
	DescriptionNoData   = "No data"
)

// DeviceRecord is one normalized device snapshot produced by a pipeline run
type DeviceRecord struct {
	IMEI                  string  `json:"imei"`
	Latitude              float64 `json:"latitude"`
	Longitude             float64 `json:"longitude"`
	Coordinates           string  `json:"coordinates"`
	DataStatus            *int    `json:"datastatus"`
	DataStatusDescription string  `json:"datastatus_description"`
	HeartTimeDate         string  `json:"hearttime_date"`
	HeartTimeTime         string  `json:"hearttime_time"`
	HeartTimeUnix         Epoch   `json:"hearttime_unix"`
	TimeSinceUpdate       string  `json:"TimeSinceUpdate"`
	TimeAgo               string  `json:"TimeAgo"`
	Status                string  `json:"status"`
}

// MissingStatus is the status of an IMEI no batch reported
func MissingStatus(imei string) string {
	return fmt.Sprintf("can't access to %s", imei)
}

// APIErrorStatus is the status of an IMEI whose batch request failed
func APIErrorStatus(detail string) string {
	if detail == "" {
		detail = "Unknown error"
	}
	return fmt.Sprintf("API error: %s", detail)
}

// Epoch is a heartbeat timestamp that keeps the upstream value when it does
// not parse as epoch seconds.
type Epoch struct {
	Seconds int64
	Raw     string
	Valid   bool
}

// NewEpoch builds an Epoch from the textual upstream value
func NewEpoch(raw string) Epoch {
	secs, err := timeparser.ParseEpoch(raw)
	if err != nil {
		return Epoch{Raw: raw}
	}
	return Epoch{Seconds: secs, Raw: raw, Valid: true}
}

// EpochSeconds builds a valid Epoch
func EpochSeconds(secs int64) Epoch {
	return Epoch{Seconds: secs, Raw: strconv.FormatInt(secs, 10), Valid: true}
}

// Observed reports whether a heartbeat was ever seen
func (e Epoch) Observed() bool {
	return e.Valid && e.Seconds > 0
}

// String returns the textual form used in CSV output
func (e Epoch) String() string {
	if e.Valid {
		return strconv.FormatInt(e.Seconds, 10)
	}
	return e.Raw
}

// MarshalJSON writes a number when the value parsed and the raw string otherwise
func (e Epoch) MarshalJSON() ([]byte, error) {
	if e.Valid {
		return []byte(strconv.FormatInt(e.Seconds, 10)), nil
	}
	return json.Marshal(e.Raw)
}

// UnmarshalJSON accepts numbers, strings and null
func (e *Epoch) UnmarshalJSON(data []byte) error {
	var v RawValue
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	*e = NewEpoch(v.String())
	return nil
}

package artifacts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/septivank/gps-tracking-worker/internal/tracking"
)

// RecordColumns is the header of the per-run CSV artifact
var RecordColumns = []string{
	"imei", "latitude", "longitude", "coordinates", "datastatus",
	"datastatus_description", "hearttime_date", "hearttime_time",
	"hearttime_unix", "TimeSinceUpdate", "TimeAgo", "status",
}

// WriteRecordsCSV writes records in RecordColumns order
func WriteRecordsCSV(w io.Writer, records []tracking.DeviceRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RecordColumns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, r := range records {
		datastatus := ""
		if r.DataStatus != nil {
			datastatus = strconv.Itoa(*r.DataStatus)
		}
		row := []string{
			r.IMEI,
			formatFloat(r.Latitude),
			formatFloat(r.Longitude),
			r.Coordinates,
			datastatus,
			r.DataStatusDescription,
			r.HeartTimeDate,
			r.HeartTimeTime,
			r.HeartTimeUnix.String(),
			r.TimeSinceUpdate,
			r.TimeAgo,
			r.Status,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

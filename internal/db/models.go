package db

import (
	"time"
)

// DeviceRow is one row of device_data
type DeviceRow struct {
	RankingID             int64
	IMEI                  string
	Latitude              float64
	Longitude             float64
	Coordinates           string
	DataStatus            int
	DataStatusDescription string
	HeartTimeDate         string // YYYY-MM-DD, empty for NULL
	HeartTimeTime         string // HH:MM:SS, empty for NULL
	HeartTimeUnix         int64
	Status                string
	HeartbeatAt           *time.Time // input only; nil keeps the stored heartbeat
	LastHeartbeatAt       time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// HasCoordinates reports whether the row carries a position fix
func (r DeviceRow) HasCoordinates() bool {
	return !(r.Latitude == 0 && r.Longitude == 0)
}

// DeviceStats aggregates device_data
type DeviceStats struct {
	TotalDevices       int
	WithCoordinates    int
	WithoutCoordinates int
	StatusCounts       map[string]int
}

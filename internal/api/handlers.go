// Package api exposes stored devices, run triggers and exports over HTTP.
package api

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/septivank/gps-tracking-worker/internal/artifacts"
	"github.com/septivank/gps-tracking-worker/internal/db"
	"github.com/septivank/gps-tracking-worker/internal/service"
	"github.com/septivank/gps-tracking-worker/internal/tracking"
)

const (
	defaultPerPage  = 50
	timestampLayout = "2006-01-02 15:04:05"
	exportLayout    = "20060102_150405"
	healthTimeout   = 2 * time.Second
	maxBodyBytes    = 1 << 16
)

// DeviceReader reads stored devices
type DeviceReader interface {
	Ping(ctx context.Context) error
	ListRanked(ctx context.Context, offset, limit int) ([]db.DeviceRow, error)
	ListAll(ctx context.Context) ([]db.DeviceRow, error)
	Count(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*db.DeviceStats, error)
}

// RunController starts runs and artifact loads
type RunController interface {
	Run(ctx context.Context) (*service.RunSummary, error)
	LoadArtifact(ctx context.Context, path string, clearExisting bool) (*service.LoadSummary, error)
}

// RunLister lists stored run artifacts
type RunLister interface {
	Recent(limit int) ([]artifacts.RunInfo, error)
}

// Handler serves the API routes
type Handler struct {
	devices  DeviceReader
	runs     RunController
	history  RunLister
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewHandler creates a new API handler
func NewHandler(devices DeviceReader, runs RunController, history RunLister, logger *zap.Logger) *Handler {
	return &Handler{
		devices:  devices,
		runs:     runs,
		history:  history,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

type pageQuery struct {
	Page    int `validate:"min=1"`
	PerPage int `validate:"min=1,max=500"`
}

type pagination struct {
	CurrentPage  int  `json:"current_page"`
	TotalPages   int  `json:"total_pages"`
	TotalRecords int  `json:"total_records"`
	PerPage      int  `json:"per_page"`
	HasNext      bool `json:"has_next"`
	HasPrevious  bool `json:"has_previous"`
}

type deviceView struct {
	RankingID             int64   `json:"ranking_id"`
	IMEI                  string  `json:"imei"`
	Latitude              float64 `json:"latitude"`
	Longitude             float64 `json:"longitude"`
	Coordinates           string  `json:"coordinates"`
	DataStatus            int     `json:"datastatus"`
	DataStatusDescription string  `json:"datastatus_description"`
	HeartTimeDate         string  `json:"hearttime_date"`
	HeartTimeTime         string  `json:"hearttime_time"`
	HeartTimeUnix         int64   `json:"hearttime_unix"`
	TimeSinceUpdate       string  `json:"TimeSinceUpdate"`
	TimeAgo               string  `json:"TimeAgo"`
	Status                string  `json:"status"`
	CreatedAt             string  `json:"created_at"`
	UpdatedAt             string  `json:"updated_at"`
}

func newDeviceView(row db.DeviceRow, now time.Time) deviceView {
	heartbeat := tracking.EpochSeconds(row.HeartTimeUnix)
	return deviceView{
		RankingID:             row.RankingID,
		IMEI:                  row.IMEI,
		Latitude:              row.Latitude,
		Longitude:             row.Longitude,
		Coordinates:           row.Coordinates,
		DataStatus:            row.DataStatus,
		DataStatusDescription: row.DataStatusDescription,
		HeartTimeDate:         row.HeartTimeDate,
		HeartTimeTime:         row.HeartTimeTime,
		HeartTimeUnix:         row.HeartTimeUnix,
		TimeSinceUpdate:       tracking.TimeSinceUpdate(heartbeat, now),
		TimeAgo:               tracking.TimeAgo(heartbeat, now),
		Status:                row.Status,
		CreatedAt:             row.CreatedAt.Format(timestampLayout),
		UpdatedAt:             row.UpdatedAt.Format(timestampLayout),
	}
}

// Devices returns one page of stored devices ordered by ranking id
func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	q, err := h.parsePageQuery(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	total, err := h.devices.Count(r.Context())
	if err != nil {
		h.logger.Error("failed to count devices", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Out-of-range pages fall back to the last page
	totalPages := int(math.Ceil(float64(total) / float64(q.PerPage)))
	if totalPages < 1 {
		totalPages = 1
	}
	page := q.Page
	if page > totalPages {
		page = totalPages
	}

	rows, err := h.devices.ListRanked(r.Context(), (page-1)*q.PerPage, q.PerPage)
	if err != nil {
		h.logger.Error("failed to list devices", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := h.now()
	data := make([]deviceView, 0, len(rows))
	for _, row := range rows {
		data = append(data, newDeviceView(row, now))
	}

	h.respondJSON(w, http.StatusOK, struct {
		Success    bool         `json:"success"`
		Data       []deviceView `json:"data"`
		Pagination pagination   `json:"pagination"`
	}{
		Success: true,
		Data:    data,
		Pagination: pagination{
			CurrentPage:  page,
			TotalPages:   totalPages,
			TotalRecords: total,
			PerPage:      q.PerPage,
			HasNext:      page < totalPages,
			HasPrevious:  page > 1,
		},
	})
}

func (h *Handler) parsePageQuery(r *http.Request) (pageQuery, error) {
	q := pageQuery{Page: 1, PerPage: defaultPerPage}
	values := r.URL.Query()

	if v := values.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, fmt.Errorf("invalid page: %q", v)
		}
		q.Page = n
	}
	if v := values.Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, fmt.Errorf("invalid per_page: %q", v)
		}
		q.PerPage = n
	}

	if err := h.validate.Struct(q); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Field() == "PerPage" {
				return q, fmt.Errorf("per_page must be between 1 and 500")
			}
			return q, fmt.Errorf("page must be at least 1")
		}
		return q, err
	}
	return q, nil
}

// FetchTracking runs the ingestion pipeline and reports its summary
func (h *Handler) FetchTracking(w http.ResponseWriter, r *http.Request) {
	// The run outlives the request when the client disconnects
	summary, err := h.runs.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, service.ErrRunInProgress) {
			h.respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		*service.RunSummary
	}{
		Success:    true,
		Message:    "GPS tracking data fetched successfully",
		RunSummary: summary,
	})
}

type loadRequest struct {
	JSONFile      string `json:"json_file"`
	ClearExisting bool   `json:"clear_existing"`
}

// LoadDatabase upserts a stored JSON artifact into the device table
func (h *Handler) LoadDatabase(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.JSONFile == "" {
		h.respondError(w, http.StatusBadRequest, artifacts.ErrArtifactNotFound.Error())
		return
	}

	summary, err := h.runs.LoadArtifact(context.WithoutCancel(r.Context()), req.JSONFile, req.ClearExisting)
	if err != nil {
		switch {
		case errors.Is(err, artifacts.ErrInvalidArtifactPath), errors.Is(err, artifacts.ErrArtifactNotFound):
			h.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrRunInProgress):
			h.respondError(w, http.StatusConflict, err.Error())
		default:
			h.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	h.respondJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		*service.LoadSummary
	}{
		Success:     true,
		Message:     fmt.Sprintf("Data loaded successfully. Total records: %d", summary.TotalRecords),
		LoadSummary: summary,
	})
}

var exportHeader = []string{
	"Ranking ID", "IMEI", "Latitude", "Longitude", "Coordinates",
	"Data Status Code", "Data Status", "Heart Date", "Heart Time",
	"Heart Unix", "TimeSinceUpdate", "TimeAgo", "Status", "Created At", "Updated At",
}

// ExportCSV streams every stored device as a CSV attachment
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.devices.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list devices for export", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := h.now()
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="gps_tracking_data_%s.csv"`, now.Format(exportLayout)))

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		h.logger.Warn("failed to write export header", zap.Error(err))
		return
	}
	for _, row := range rows {
		v := newDeviceView(row, now)
		record := []string{
			strconv.FormatInt(v.RankingID, 10),
			v.IMEI,
			strconv.FormatFloat(v.Latitude, 'f', -1, 64),
			strconv.FormatFloat(v.Longitude, 'f', -1, 64),
			v.Coordinates,
			strconv.Itoa(v.DataStatus),
			v.DataStatusDescription,
			v.HeartTimeDate,
			v.HeartTimeTime,
			strconv.FormatInt(v.HeartTimeUnix, 10),
			v.TimeSinceUpdate,
			v.TimeAgo,
			v.Status,
			v.CreatedAt,
			v.UpdatedAt,
		}
		if err := cw.Write(record); err != nil {
			h.logger.Warn("export interrupted", zap.Error(err))
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Warn("failed to flush export", zap.Error(err))
	}
}

// Stats reports coordinate coverage and status description counts
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.devices.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to aggregate stats", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, struct {
		Success            bool           `json:"success"`
		TotalDevices       int            `json:"total_devices"`
		WithCoordinates    int            `json:"with_coordinates"`
		WithoutCoordinates int            `json:"without_coordinates"`
		StatusCounts       map[string]int `json:"status_counts"`
	}{
		Success:            true,
		TotalDevices:       stats.TotalDevices,
		WithCoordinates:    stats.WithCoordinates,
		WithoutCoordinates: stats.WithoutCoordinates,
		StatusCounts:       stats.StatusCounts,
	})
}

// Logs lists the most recent run folders
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	runs, err := h.history.Recent(artifacts.RecentLimit)
	if err != nil {
		h.logger.Error("failed to list run artifacts", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []artifacts.RunInfo{}
	}

	h.respondJSON(w, http.StatusOK, struct {
		Success bool                `json:"success"`
		Logs    []artifacts.RunInfo `json:"logs"`
	}{Success: true, Logs: runs})
}

// Health pings the database
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.devices.Ping(ctx); err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	h.respondJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Status  string `json:"status"`
	}{Success: true, Status: "ok"})
}

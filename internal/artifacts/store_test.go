package artifacts

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/septivank/gps-tracking-worker/internal/tracking"
)

func sampleRecords() []tracking.DeviceRecord {
	status := 2
	return []tracking.DeviceRecord{
		{
			IMEI:                  "111",
			Latitude:              11.5,
			Longitude:             104.9,
			Coordinates:           "11.5,104.9",
			DataStatus:            &status,
			DataStatusDescription: "Online",
			HeartTimeDate:         "2023-11-15",
			HeartTimeTime:         "05:13:20",
			HeartTimeUnix:         tracking.EpochSeconds(1700000000),
			TimeSinceUpdate:       "0d1h0min",
			TimeAgo:               "1h ago",
			Status:                tracking.StatusSuccess,
		},
		{
			IMEI:                  "222",
			Coordinates:           tracking.CoordinatesUnknown,
			DataStatusDescription: tracking.DescriptionNoData,
			HeartTimeUnix:         tracking.NewEpoch("garbage"),
			Status:                tracking.MissingStatus("222"),
		},
	}
}

func TestStore_SaveAndReadBack(t *testing.T) {
	store := NewStore(t.TempDir(), zap.NewNop())
	runAt := time.Date(2025, 12, 29, 8, 5, 9, 0, time.UTC)

	run, err := store.Save(runAt, sampleRecords())
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if run.Folder != "tracking_run_2025-12-29_08-05-09" {
		t.Errorf("Unexpected folder %s", run.Folder)
	}

	records, err := ReadRecords(run.JSONFile)
	if err != nil {
		t.Fatalf("ReadRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if !records[0].HeartTimeUnix.Valid || records[0].HeartTimeUnix.Seconds != 1700000000 {
		t.Errorf("Unexpected heartbeat %+v", records[0].HeartTimeUnix)
	}
	if records[1].HeartTimeUnix.Valid || records[1].HeartTimeUnix.Raw != "garbage" {
		t.Errorf("Expected raw heartbeat preserved, got %+v", records[1].HeartTimeUnix)
	}
	if records[1].DataStatus != nil {
		t.Errorf("Expected null datastatus, got %v", *records[1].DataStatus)
	}

	csvData, err := os.ReadFile(run.CSVFile)
	if err != nil {
		t.Fatalf("Failed to read csv: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected 3 csv lines, got %d", len(lines))
	}
	if lines[0] != strings.Join(RecordColumns, ",") {
		t.Errorf("Unexpected header %s", lines[0])
	}
	if lines[1] != `111,11.5,104.9,"11.5,104.9",2,Online,2023-11-15,05:13:20,1700000000,0d1h0min,1h ago,success` {
		t.Errorf("Unexpected row %s", lines[1])
	}
}

func TestStore_SaveEmptyWritesArray(t *testing.T) {
	store := NewStore(t.TempDir(), zap.NewNop())

	run, err := store.Save(time.Now(), nil)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, _ := os.ReadFile(run.JSONFile)
	if strings.TrimSpace(string(data)) != "[]" {
		t.Errorf("Expected empty array, got %s", data)
	}
}

func TestStore_RecentNewestFirst(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, zap.NewNop())

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		if _, err := store.Save(base.Add(time.Duration(i)*time.Hour), sampleRecords()); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(root, "unrelated"), 0o755); err != nil {
		t.Fatal(err)
	}

	runs, err := store.Recent(RecentLimit)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(runs) != RecentLimit {
		t.Fatalf("Expected %d runs, got %d", RecentLimit, len(runs))
	}
	if runs[0].Folder != "tracking_run_2025-01-01_11-00-00" {
		t.Errorf("Expected newest run first, got %s", runs[0].Folder)
	}
	if runs[9].Folder != "tracking_run_2025-01-01_02-00-00" {
		t.Errorf("Unexpected last run %s", runs[9].Folder)
	}
}

func TestStore_RecentMissingRoot(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing"), zap.NewNop())

	runs, err := store.Recent(RecentLimit)
	if err != nil || len(runs) != 0 {
		t.Errorf("Expected no runs, got %v (err %v)", runs, err)
	}
}

func TestStore_ResolvePath(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, zap.NewNop())
	run, err := store.Save(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), sampleRecords())
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.ResolvePath(run.JSONFile)
	if err != nil {
		t.Fatalf("ResolvePath(listed) failed: %v", err)
	}
	if got != run.JSONFile {
		t.Errorf("Expected %s, got %s", run.JSONFile, got)
	}

	if _, err := store.ResolvePath(filepath.Join(run.Folder, JSONFileName)); err != nil {
		t.Errorf("ResolvePath(relative) failed: %v", err)
	}

	outside := filepath.Join(t.TempDir(), "all_records.json")
	os.WriteFile(outside, []byte("[]"), 0o644)

	invalid := []string{"", outside, "../../etc/passwd", filepath.Join(run.Folder, CSVFileName)}
	for _, p := range invalid {
		if _, err := store.ResolvePath(p); !errors.Is(err, ErrInvalidArtifactPath) {
			t.Errorf("ResolvePath(%q): expected ErrInvalidArtifactPath, got %v", p, err)
		}
	}

	if _, err := store.ResolvePath("tracking_run_1999-01-01_00-00-00/all_records.json"); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Expected ErrArtifactNotFound, got %v", err)
	}
}

// Package artifacts persists the normalized records of every run as JSON and
// CSV files under a timestamped directory, and reads them back.
package artifacts

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/septivank/gps-tracking-worker/internal/tracking"
)

// Artifact file and folder naming
const (
	FolderPrefix = "tracking_run_"
	FolderLayout = "2006-01-02_15-04-05"
	JSONFileName = "all_records.json"
	CSVFileName  = "all_records.csv"

	// RecentLimit is the number of runs listed by Recent
	RecentLimit = 10
)

var (
	// ErrInvalidArtifactPath is returned for paths outside the artifacts
	// directory or not naming a JSON file
	ErrInvalidArtifactPath = errors.New("invalid artifact path")
	// ErrArtifactNotFound is returned when the artifact file does not exist
	ErrArtifactNotFound = errors.New("JSON file not found")
)

// Run locates the files written for one run
type Run struct {
	Folder   string `json:"folder"`
	JSONFile string `json:"json_file"`
	CSVFile  string `json:"csv_file"`
}

// RunInfo describes a past run for listing
type RunInfo struct {
	Folder   string  `json:"folder"`
	JSONFile string  `json:"json_file"`
	SizeMB   float64 `json:"size_mb"`
	Modified string  `json:"modified"`
}

// Store manages the artifacts directory
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore creates a store rooted at dir
func NewStore(dir string, logger *zap.Logger) *Store {
	return &Store{root: dir, logger: logger}
}

// Save writes the records of a run started at runAt
func (s *Store) Save(runAt time.Time, records []tracking.DeviceRecord) (*Run, error) {
	folder := FolderPrefix + runAt.Format(FolderLayout)
	dir := filepath.Join(s.root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	if records == nil {
		records = []tracking.DeviceRecord{}
	}

	run := &Run{
		Folder:   folder,
		JSONFile: filepath.Join(dir, JSONFileName),
		CSVFile:  filepath.Join(dir, CSVFileName),
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal records: %w", err)
	}
	if err := os.WriteFile(run.JSONFile, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write json artifact: %w", err)
	}

	f, err := os.Create(run.CSVFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create csv artifact: %w", err)
	}
	if err := WriteRecordsCSV(f, records); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close csv artifact: %w", err)
	}

	s.logger.Info("saved run artifacts",
		zap.String("folder", folder),
		zap.Int("records", len(records)),
	)
	return run, nil
}

// Recent lists up to limit past runs, newest first. Runs without a JSON file
// are skipped.
func (s *Store) Recent(limit int) ([]RunInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []RunInfo{}, nil
		}
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	var folders []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), FolderPrefix) {
			folders = append(folders, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(folders)))

	runs := make([]RunInfo, 0, min(limit, len(folders)))
	for _, folder := range folders {
		if len(runs) >= limit {
			break
		}
		jsonFile := filepath.Join(s.root, folder, JSONFileName)
		info, err := os.Stat(jsonFile)
		if err != nil {
			continue
		}
		runs = append(runs, RunInfo{
			Folder:   folder,
			JSONFile: jsonFile,
			SizeMB:   math.Round(float64(info.Size())/(1024*1024)*100) / 100,
			Modified: info.ModTime().Format("2006-01-02 15:04:05"),
		})
	}
	return runs, nil
}

// ResolvePath maps a JSON artifact path, either as listed by Recent or
// relative to the artifacts directory, to an absolute path inside it
func (s *Store) ResolvePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidArtifactPath)
	}

	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve artifacts directory: %w", err)
	}

	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else if asGiven, err := filepath.Abs(p); err == nil && within(root, asGiven) {
		abs = asGiven
	} else {
		abs = filepath.Join(root, p)
	}

	if !within(root, abs) || filepath.Ext(abs) != ".json" {
		return "", fmt.Errorf("%w: %s", ErrInvalidArtifactPath, p)
	}

	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrArtifactNotFound, p)
	}
	return abs, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ReadRecords decodes a JSON artifact
func ReadRecords(path string) ([]tracking.DeviceRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	var records []tracking.DeviceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

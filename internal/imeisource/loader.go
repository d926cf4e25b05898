// Package imeisource reads the list of device IMEIs to track.
package imeisource

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

const totalIMEIHeader = "total imei"

// LoadFile reads the IMEI list from a CSV file
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open imei file: %w", err)
	}
	defer f.Close()

	imeis, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read imei file %s: %w", path, err)
	}
	return imeis, nil
}

// Parse reads IMEIs from CSV. The first row is a header. Rows with two or
// more columns carry the IMEI in the second column; single-column rows carry
// it in the first unless it starts with '#'. Order is preserved and
// duplicates are dropped.
func Parse(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	var imeis []string
	seen := make(map[string]struct{})
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}

		imei := pick(row)
		if imei == "" {
			continue
		}
		if _, dup := seen[imei]; dup {
			continue
		}
		seen[imei] = struct{}{}
		imeis = append(imeis, imei)
	}

	return imeis, nil
}

func pick(row []string) string {
	switch {
	case len(row) >= 2:
		imei := strings.TrimSpace(row[1])
		if strings.EqualFold(imei, totalIMEIHeader) {
			return ""
		}
		return imei
	case len(row) == 1:
		imei := strings.TrimSpace(row[0])
		if strings.HasPrefix(imei, "#") {
			return ""
		}
		return imei
	default:
		return ""
	}
}

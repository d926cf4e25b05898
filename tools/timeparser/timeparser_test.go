package timeparser_test

import (
	"testing"
	"time"

	"github.com/septivank/gps-tracking-worker/tools/timeparser"
)

func TestParseEpoch_Valid(t *testing.T) {
	secs, err := timeparser.ParseEpoch(" 1735462245 ")
	if err != nil {
		t.Fatalf("Failed to parse epoch: %v", err)
	}

	if secs != 1735462245 {
		t.Errorf("Expected 1735462245, got %d", secs)
	}
}

func TestParseEpoch_IntegralFloat(t *testing.T) {
	for _, v := range []string{"1700000000.0", "1.7e9"} {
		secs, err := timeparser.ParseEpoch(v)
		if err != nil {
			t.Errorf("Failed to parse %q: %v", v, err)
			continue
		}
		if secs != 1700000000 {
			t.Errorf("Expected 1700000000 for %q, got %d", v, secs)
		}
	}
}

func TestParseEpoch_Invalid(t *testing.T) {
	for _, v := range []string{"", "abc", "12.5", "-5", "99999999999999", "NaN", "Inf", "1e20"} {
		if _, err := timeparser.ParseEpoch(v); err == nil {
			t.Errorf("Expected error for %q", v)
		}
	}
}

func TestSplitGMT7(t *testing.T) {
	// 2025-12-29 17:30:45 UTC is 2025-12-30 00:30:45 in UTC+7
	secs := time.Date(2025, 12, 29, 17, 30, 45, 0, time.UTC).Unix()

	date, clock := timeparser.SplitGMT7(secs)
	if date != "2025-12-30" {
		t.Errorf("Expected 2025-12-30, got %s", date)
	}
	if clock != "00:30:45" {
		t.Errorf("Expected 00:30:45, got %s", clock)
	}
}

func TestParseHeartDate_Formats(t *testing.T) {
	expected := time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC)

	for _, s := range []string{"2025-12-29", "29/12/2025"} {
		result, err := timeparser.ParseHeartDate(s)
		if err != nil {
			t.Fatalf("Failed to parse %q: %v", s, err)
		}
		if !result.Equal(expected) {
			t.Errorf("Expected %v, got %v", expected, result)
		}
	}
}

func TestParseHeartClock_Invalid(t *testing.T) {
	if _, err := timeparser.ParseHeartClock("25:99:00"); err == nil {
		t.Error("Expected error for invalid clock")
	}
}

func TestElapsed_ClampsFuture(t *testing.T) {
	now := time.Date(2025, 12, 29, 10, 30, 0, 0, time.UTC)

	if got := timeparser.Elapsed(now.Add(5*time.Minute), now); got != 0 {
		t.Errorf("Expected 0 for future heartbeat, got %v", got)
	}
	if got := timeparser.Elapsed(now.Add(-3*time.Minute), now); got != 3*time.Minute {
		t.Errorf("Expected 3m, got %v", got)
	}
}

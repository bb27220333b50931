package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
	"time"
)

func TestRecordAppendsJSONLines(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	log, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	stamp := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return stamp }

	entries := []Entry{
		{QuoteID: "q1", ChainID: 56, Accepted: true, AmountIn: "1000", AmountOut: "598"},
		{QuoteID: "q2", ChainID: 56, Accepted: false, RejectReason: "REJECT_REASON_UNSUPPORTED_PAIR"},
	}
	for _, e := range entries {
		if err := log.Record(e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	path := log.pathForDay(stamp)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	defer f.Close()

	var lines []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines = append(lines, e)
	}

	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].QuoteID != "q1" || lines[1].QuoteID != "q2" {
		t.Errorf("unexpected entries: %+v", lines)
	}
	if !lines[0].Timestamp.Equal(stamp) {
		t.Errorf("Timestamp = %v, want %v", lines[0].Timestamp, stamp)
	}
}

func TestRecordUsesExplicitTimestamp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	log, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	explicit := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := log.Record(Entry{QuoteID: "q1", Timestamp: explicit}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	path := log.pathForDay(explicit)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected log file at %s: %v", path, err)
	}
}

func TestOpenCreatesDataDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir() + "/nested/audit"
	if _, err := Open(dir); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected directory to be created: %v", err)
	}
}

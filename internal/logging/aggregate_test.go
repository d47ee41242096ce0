package logging

import (
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestReadLogs(t *testing.T) {
	t.Run("missing log", func(t *testing.T) {
		entries, err := ReadLogs(t.TempDir())
		if err != nil {
			t.Fatalf("ReadLogs: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("len = %d, want 0", len(entries))
		}
	})

	t.Run("parses fields and skips junk", func(t *testing.T) {
		dir := t.TempDir()
		writeLines(t, filepath.Join(dir, LogFileName),
			`{"time":"2026-10-18T09:30:02Z","level":"WARN","msg":"skipping invalid record","run_id":"r1","state_type":"tasks","component":"state","index":3}`,
			`not json`,
			``,
			`{"unrelated":true}`,
			`{"time":"2026-10-18T09:30:01Z","level":"INFO","msg":"run created","component":"run"}`,
		)

		entries, err := ReadLogs(dir)
		if err != nil {
			t.Fatalf("ReadLogs: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("len = %d, want 2", len(entries))
		}
		if entries[0].Message != "run created" {
			t.Errorf("entries not sorted by time: first = %q", entries[0].Message)
		}
		e := entries[1]
		if e.RunID != "r1" || e.StateType != "tasks" || e.Component != "state" || e.Level != LevelWarn {
			t.Errorf("entry = %+v", e)
		}
		if e.Attrs["index"] != float64(3) {
			t.Errorf("Attrs = %v, want index=3", e.Attrs)
		}
		if _, ok := e.Attrs["msg"]; ok {
			t.Error("well-known keys should not be repeated in Attrs")
		}
	})

	t.Run("includes rotated backups", func(t *testing.T) {
		dir := t.TempDir()
		live := filepath.Join(dir, LogFileName)
		writeLines(t, live, `{"time":"2026-10-18T09:30:03Z","level":"INFO","msg":"third"}`)
		writeLines(t, BackupPath(live, 1), `{"time":"2026-10-18T09:30:02Z","level":"INFO","msg":"second"}`)

		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write([]byte(`{"time":"2026-10-18T09:30:01Z","level":"INFO","msg":"first"}` + "\n"))
		_ = zw.Close()
		if err := os.WriteFile(BackupPath(live, 2)+".gz", buf.Bytes(), 0644); err != nil {
			t.Fatal(err)
		}

		entries, err := ReadLogs(dir)
		if err != nil {
			t.Fatalf("ReadLogs: %v", err)
		}
		var got []string
		for _, e := range entries {
			got = append(got, e.Message)
		}
		if strings.Join(got, ",") != "first,second,third" {
			t.Errorf("messages = %v", got)
		}
	})
}

func TestFilterLogs(t *testing.T) {
	base := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	entries := []LogEntry{
		{Time: base, Level: LevelDebug, Message: "lock acquired", Component: "filelock"},
		{Time: base.Add(time.Minute), Level: LevelInfo, Message: "Run created", RunID: "r1", Component: "run"},
		{Time: base.Add(2 * time.Minute), Level: LevelWarn, Message: "skipping invalid record", RunID: "r1", StateType: "tasks"},
		{Time: base.Add(3 * time.Minute), Level: LevelError, Message: "refusing write", RunID: "r2", StateType: "issues"},
	}

	tests := []struct {
		name   string
		filter LogFilter
		want   int
	}{
		{"empty filter", LogFilter{}, 4},
		{"level warn", LogFilter{Level: "warn"}, 2},
		{"since", LogFilter{Since: base.Add(90 * time.Second)}, 2},
		{"until", LogFilter{Until: base.Add(time.Minute)}, 2},
		{"run", LogFilter{RunID: "r1"}, 2},
		{"state type", LogFilter{StateType: "issues"}, 1},
		{"component", LogFilter{Component: "filelock"}, 1},
		{"contains is case-insensitive", LogFilter{Contains: "run CREATED"}, 1},
		{"combined", LogFilter{RunID: "r1", Level: LevelWarn}, 1},
		{"no match", LogFilter{RunID: "r3"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FilterLogs(entries, tt.filter); len(got) != tt.want {
				t.Errorf("len(FilterLogs) = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestWriteLogs(t *testing.T) {
	entries := []LogEntry{{
		Time:      time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
		Level:     LevelWarn,
		Message:   "skipping invalid record",
		RunID:     "r1",
		StateType: "tasks",
		Attrs:     map[string]any{"index": 2},
	}}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteLogs(&buf, entries, ExportText); err != nil {
			t.Fatal(err)
		}
		want := `[2026-10-18 09:30:00.000] WARN  skipping invalid record (run=r1, type=tasks) {"index":2}` + "\n"
		if buf.String() != want {
			t.Errorf("text = %q, want %q", buf.String(), want)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteLogs(&buf, entries, ExportJSON); err != nil {
			t.Fatal(err)
		}
		var decoded []LogEntry
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(decoded) != 1 || decoded[0].RunID != "r1" {
			t.Errorf("decoded = %+v", decoded)
		}
	})

	t.Run("json empty is an array", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteLogs(&buf, nil, ExportJSON); err != nil {
			t.Fatal(err)
		}
		if strings.TrimSpace(buf.String()) != "[]" {
			t.Errorf("json = %q, want []", buf.String())
		}
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteLogs(&buf, entries, ExportCSV); err != nil {
			t.Fatal(err)
		}
		records, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatalf("invalid CSV: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("records = %d, want header + 1", len(records))
		}
		if records[0][0] != "time" || records[1][3] != "r1" || records[1][6] != `{"index":2}` {
			t.Errorf("records = %v", records)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if err := WriteLogs(&bytes.Buffer{}, entries, "xml"); err == nil {
			t.Error("expected error for unsupported format")
		}
	})
}

func TestReadLogs_RoundTripFromLogger(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatal(err)
	}
	logger.WithComponent("state").WithRun("r9").WithStateType("graph").Warn("skipping invalid record", "index", 1)
	_ = logger.Close()

	entries, err := ReadLogs(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("len = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.Component != "state" || e.RunID != "r9" || e.StateType != "graph" || e.Time.IsZero() {
		t.Errorf("entry = %+v", e)
	}
}

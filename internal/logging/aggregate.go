package logging

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogEntry is one parsed line of debug.log.
type LogEntry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	RunID     string         `json:"run_id,omitempty"`
	StateType string         `json:"state_type,omitempty"`
	Component string         `json:"component,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter selects entries. Zero fields match everything; set fields are
// combined with AND.
type LogFilter struct {
	// Level keeps entries at or above this level.
	Level     string
	Since     time.Time
	Until     time.Time
	RunID     string
	StateType string
	Component string
	// Contains is a case-insensitive substring of the message.
	Contains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// maxLineSize bounds a single log line.
const maxLineSize = 1024 * 1024

// ReadLogs parses {logDir}/debug.log and its rotated backups, oldest file
// first, and returns the entries sorted by time. Lines that are not JSON log
// records are skipped. A missing log yields no entries.
func ReadLogs(logDir string) ([]LogEntry, error) {
	live := filepath.Join(logDir, LogFileName)

	// Backups are numbered newest first; read them in reverse.
	var files []string
	for n := 1; ; n++ {
		p := BackupPath(live, n)
		if _, err := os.Stat(p); err == nil {
			files = append(files, p)
		} else if _, err := os.Stat(p + ".gz"); err == nil {
			files = append(files, p+".gz")
		} else {
			break
		}
	}
	for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
		files[i], files[j] = files[j], files[i]
	}
	files = append(files, live)

	var entries []LogEntry
	for _, path := range files {
		got, err := readLogFile(path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, got...)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	return entries, nil
}

func readLogFile(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed log %s: %w", path, err)
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var entries []LogEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if entry, ok := parseLogEntry(line); ok {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return entries, nil
}

// parseLogEntry lifts the well-known keys out of a JSON line and keeps the
// rest in Attrs.
func parseLogEntry(line string) (LogEntry, bool) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, false
	}
	str := func(key string) string {
		v, _ := raw[key].(string)
		delete(raw, key)
		return v
	}

	entry := LogEntry{
		Level:     str("level"),
		Message:   str("msg"),
		RunID:     str("run_id"),
		StateType: str("state_type"),
		Component: str("component"),
	}
	if ts := str("time"); ts != "" {
		entry.Time, _ = time.Parse(time.RFC3339Nano, ts)
	}
	if entry.Level == "" && entry.Message == "" {
		return LogEntry{}, false
	}
	if len(raw) > 0 {
		entry.Attrs = raw
	}
	return entry, true
}

// FilterLogs returns the entries that match f.
func FilterLogs(entries []LogEntry, f LogFilter) []LogEntry {
	out := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f LogFilter) matches(e LogEntry) bool {
	if f.Level != "" {
		want, okWant := levelOrder[strings.ToUpper(f.Level)]
		got, okGot := levelOrder[strings.ToUpper(e.Level)]
		if okWant && okGot && got < want {
			return false
		}
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Time.After(f.Until) {
		return false
	}
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.StateType != "" && e.StateType != f.StateType {
		return false
	}
	if f.Component != "" && e.Component != f.Component {
		return false
	}
	if f.Contains != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.Contains)) {
		return false
	}
	return true
}

// Export formats
const (
	ExportText = "text"
	ExportJSON = "json"
	ExportCSV  = "csv"
)

// WriteLogs writes entries to w as text, json or csv.
func WriteLogs(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case ExportText, "":
		return writeText(w, entries)
	case ExportJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []LogEntry{}
		}
		return enc.Encode(entries)
	case ExportCSV:
		return writeCSV(w, entries)
	default:
		return fmt.Errorf("unsupported export format: %s (supported: text, json, csv)", format)
	}
}

// FormatEntry renders e as one text line:
// [time] LEVEL message (run=..., type=..., component=...) {attrs}
func FormatEntry(e LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %-5s %s", e.Time.Format("2006-01-02 15:04:05.000"), e.Level, e.Message)

	var ctx []string
	if e.RunID != "" {
		ctx = append(ctx, "run="+e.RunID)
	}
	if e.StateType != "" {
		ctx = append(ctx, "type="+e.StateType)
	}
	if e.Component != "" {
		ctx = append(ctx, "component="+e.Component)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if len(e.Attrs) > 0 {
		if attrs, err := json.Marshal(e.Attrs); err == nil {
			b.WriteString(" ")
			b.Write(attrs)
		}
	}
	return b.String()
}

func writeText(w io.Writer, entries []LogEntry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, FormatEntry(e)); err != nil {
			return fmt.Errorf("failed to write log entry: %w", err)
		}
	}
	return nil
}

func writeCSV(w io.Writer, entries []LogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "level", "message", "run_id", "state_type", "component", "attrs"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		attrs := ""
		if len(e.Attrs) > 0 {
			if b, err := json.Marshal(e.Attrs); err == nil {
				attrs = string(b)
			}
		}
		record := []string{
			e.Time.Format(time.RFC3339Nano), e.Level, e.Message,
			e.RunID, e.StateType, e.Component, attrs,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

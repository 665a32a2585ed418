package diaglog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeSession logs a start/stop pair per session through a real Logger.
func writeSession(t *testing.T, path string, sessions ...string) {
	t.Helper()
	t.Setenv("PRINTWATCH_DEBUG", "true")
	l, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, id := range sessions {
		l.Log(LogEntry{Component: ComponentRecorder, Event: EventSessionStart, SessionID: id})
		l.Log(LogEntry{Component: ComponentRecorder, Event: EventSessionStop, SessionID: id, Reason: "intent_cleared"})
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func readExport(t *testing.T, path string) (DiagBundle, []LogEntry) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	if !s.Scan() {
		t.Fatal("export is empty")
	}
	var bundle DiagBundle
	if err := json.Unmarshal(s.Bytes(), &bundle); err != nil {
		t.Fatalf("bundle header: %v", err)
	}
	var entries []LogEntry
	for s.Scan() {
		var e LogEntry
		if err := json.Unmarshal(s.Bytes(), &e); err != nil {
			t.Fatalf("entry %q: %v", s.Text(), err)
		}
		entries = append(entries, e)
	}
	return bundle, entries
}

func TestExportBundlesSessionEvents(t *testing.T) {
	src := filepath.Join(t.TempDir(), "printwatch-debug.ndjson")
	writeSession(t, src, "s1", "s2")

	prev := Version
	Version = "1.2.3"
	defer func() { Version = prev }()

	out, n, err := Export(src, t.TempDir())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 4 {
		t.Errorf("lines = %d, want 4", n)
	}
	if !strings.HasPrefix(filepath.Base(out), "printwatch-diag-") {
		t.Errorf("unexpected export name %s", out)
	}

	bundle, entries := readExport(t, out)
	if bundle.EntryCount != 4 || bundle.Version != "1.2.3" || bundle.GoVersion == "" || bundle.OS == "" {
		t.Errorf("bundle = %+v", bundle)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	if entries[0].SessionID != "s1" || entries[3].SessionID != "s2" || entries[3].Reason != "intent_cleared" {
		t.Errorf("entries out of order: %+v", entries)
	}
}

func TestExportPutsRotatedBackupFirst(t *testing.T) {
	src := filepath.Join(t.TempDir(), "printwatch-debug.ndjson")
	writeSession(t, src+".1", "old")
	writeSession(t, src, "new")

	out, n, err := Export(src, t.TempDir())
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 4 {
		t.Fatalf("lines = %d, want 4", n)
	}
	bundle, entries := readExport(t, out)
	if len(bundle.LogFiles) != 2 || bundle.LogFiles[0] != src+".1" {
		t.Errorf("log_files = %v", bundle.LogFiles)
	}
	if entries[0].SessionID != "old" || entries[len(entries)-1].SessionID != "new" {
		t.Errorf("backup entries should come first: %+v", entries)
	}
}

func TestExportMissingLog(t *testing.T) {
	_, _, err := Export(filepath.Join(t.TempDir(), "absent.ndjson"), t.TempDir())
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist", err)
	}
}

func TestExportUnwritableDestination(t *testing.T) {
	src := filepath.Join(t.TempDir(), "printwatch-debug.ndjson")
	writeSession(t, src, "s1")

	_, _, err := Export(src, filepath.Join(t.TempDir(), "no", "such", "dir"))
	if err == nil || !strings.Contains(err.Error(), "could not be created") {
		t.Fatalf("err = %v", err)
	}
}

package diaglog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is injected at link time from the main package; defaults to "dev".
var Version = "dev"

// DiagBundle is the first line of an export file.
type DiagBundle struct {
	ExportedAt string   `json:"exported_at"`
	Version    string   `json:"printwatch_version"`
	GoVersion  string   `json:"go_version"`
	OS         string   `json:"os"`
	Arch       string   `json:"arch"`
	LogFiles   []string `json:"log_files"`
	EntryCount int      `json:"entry_count"`
}

// Export concatenates the rotated backup (logPath+".1", when present) and
// logPath into dest/printwatch-diag-<ts>.ndjson, oldest entries first, behind
// a DiagBundle header line. It returns the written path and the number of log
// lines copied.
func Export(logPath, dest string) (path string, lines int, err error) {
	if _, err := os.Stat(logPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, fmt.Errorf("log file not found at %s: %w", logPath, os.ErrNotExist)
		}
		return "", 0, fmt.Errorf("log file unreadable: %w", err)
	}

	sources := []string{logPath}
	if _, err := os.Stat(logPath + ".1"); err == nil {
		sources = []string{logPath + ".1", logPath}
	}

	total := 0
	for _, s := range sources {
		n, err := countLines(s)
		if err != nil {
			return "", 0, fmt.Errorf("log file unreadable: %w", err)
		}
		total += n
	}

	outPath := filepath.Join(dest, "printwatch-diag-"+time.Now().UTC().Format("20060102T150405")+".ndjson")
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("output file could not be created: %w", err)
	}
	defer func() { _ = out.Close() }()

	w := bufio.NewWriter(out)
	header, err := json.Marshal(DiagBundle{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    Version,
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		LogFiles:   sources,
		EntryCount: total,
	})
	if err != nil {
		return "", 0, err
	}
	if _, err := w.Write(append(header, '\n')); err != nil {
		return "", 0, err
	}

	for _, s := range sources {
		if err := copyLines(w, s); err != nil {
			return "", 0, err
		}
	}
	if err := w.Flush(); err != nil {
		return "", 0, err
	}
	return outPath, total, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

func copyLines(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		if _, err := w.Write(append(scanner.Bytes(), '\n')); err != nil {
			return err
		}
	}
	return scanner.Err()
}

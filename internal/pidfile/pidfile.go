// Package pidfile keeps two daemons from recording into the same storage
// root.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// RunningError is returned when the PID file belongs to a live process.
type RunningError struct {
	Path string
	PID  int
}

func (e *RunningError) Error() string {
	return fmt.Sprintf("another instance is already running (PID %d, %s)", e.PID, e.Path)
}

// PIDFile is a held PID file.
type PIDFile struct {
	path string
	pid  int
}

// Path returns <stateDir>/<name>.pid.
func Path(stateDir, name string) string {
	return filepath.Join(stateDir, name+".pid")
}

// Acquire creates the PID file exclusively. A file left by a dead process,
// or one that does not hold a PID, is replaced.
func Acquire(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create PID directory: %w", err)
	}

	pid := os.Getpid()
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", pid)
			cerr := f.Close()
			if err := errors.Join(werr, cerr); err != nil {
				os.Remove(path)
				return nil, fmt.Errorf("write PID file: %w", err)
			}
			return &PIDFile{path: path, pid: pid}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create PID file: %w", err)
		}

		existing, rerr := read(path)
		if rerr == nil && existing != pid && isProcessRunning(existing) {
			return nil, &RunningError{Path: path, PID: existing}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale PID file: %w", err)
		}
	}
	return nil, fmt.Errorf("PID file %s keeps reappearing", path)
}

// Release deletes the file if it still holds our PID.
func (p *PIDFile) Release() error {
	if p == nil {
		return nil
	}
	if pid, err := read(p.path); err == nil && pid == p.pid {
		return os.Remove(p.path)
	}
	return nil
}

// PID returns the PID written to the file.
func (p *PIDFile) PID() int { return p.pid }

func read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// isProcessRunning probes pid with signal 0. EPERM means the process exists
// under another user.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

package testutil

import (
	"log"
	"strings"
	"sync"
	"testing"
)

// LogCapture collects standard logger output for the life of a test.
// Daemon components log from their own goroutines, so writes are locked.
type LogCapture struct {
	mu    sync.Mutex
	lines []string
	part  strings.Builder
}

// CaptureLog redirects the standard logger into a LogCapture and restores
// the previous output and flags on cleanup.
func CaptureLog(t *testing.T) *LogCapture {
	t.Helper()
	lc := &LogCapture{}
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(lc)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	})
	return lc
}

func (lc *LogCapture) Write(p []byte) (int, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			lc.lines = append(lc.lines, lc.part.String())
			lc.part.Reset()
			continue
		}
		lc.part.WriteByte(b)
	}
	return len(p), nil
}

// Lines returns the complete lines captured so far.
func (lc *LogCapture) Lines() []string {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return append([]string(nil), lc.lines...)
}

// Tagged returns the lines that carry a bracket tag such as "[CAPTURE]".
func (lc *LogCapture) Tagged(tag string) []string {
	var out []string
	for _, line := range lc.Lines() {
		if strings.Contains(line, tag) {
			out = append(out, line)
		}
	}
	return out
}

func (lc *LogCapture) String() string {
	return strings.Join(lc.Lines(), "\n")
}

// Contains reports whether any captured line contains substr.
func (lc *LogCapture) Contains(substr string) bool {
	return len(lc.Tagged(substr)) > 0
}

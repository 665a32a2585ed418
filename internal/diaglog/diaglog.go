// Package diaglog writes structured NDJSON diagnostics for the printwatch
// daemon. It is switched on with PRINTWATCH_DEBUG=true; otherwise every Log
// call is a no-op and no file is created.
package diaglog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Component names the part of the daemon an entry comes from.
type Component string

const (
	ComponentStatusListener Component = "status-listener"   // printerws.Listener
	ComponentReconnect      Component = "reconnect-handler" // printerws.Listener backoff
	ComponentCapture        Component = "capture"           // capture.Acquire
	ComponentRecorder       Component = "recorder"          // recorder.Controller sessions
	ComponentStateMachine   Component = "state-machine"     // statemachine transitions
	ComponentRetention      Component = "retention"         // retention sweeps
	ComponentSupervisor     Component = "supervisor"        // task restarts
)

// Event names what happened.
type Event string

// Status channel.
const (
	EventWSConnect          Event = "ws_connect"
	EventWSDisconnect       Event = "ws_disconnect"
	EventWSRecv             Event = "ws_recv"
	EventWSReconnectAttempt Event = "ws_reconnect_attempt"
	EventStatusUpdate       Event = "status_update"   // derived intent changed
	EventStatusRejected     Event = "status_rejected" // message failed validation
)

// Capture and sessions. Session events carry the session UUID.
const (
	EventCaptureOpen       Event = "capture_open"
	EventCaptureOpenFailed Event = "capture_open_failed"
	EventCaptureExhausted  Event = "capture_exhausted"
	EventPhaseTransition   Event = "phase_transition"
	EventSessionStart      Event = "session_start"
	EventSessionStop       Event = "session_stop"
	EventSessionFailed     Event = "session_failed"
)

// Retention and supervision.
const (
	EventRetentionFolder Event = "retention_remove_folder"
	EventRetentionFile   Event = "retention_remove_file"
	EventRetentionError  Event = "retention_error"
	EventTaskRestart     Event = "task_restart"
)

// DefaultMaxSize is the size at which the log rolls over to its ".1" backup.
const DefaultMaxSize = 10 * 1024 * 1024

// LogEntry is one line of the diagnostic log.
type LogEntry struct {
	Timestamp string      `json:"ts"` // RFC3339Nano, filled in by Log
	Component Component   `json:"component"`
	Event     Event       `json:"event"`
	SessionID string      `json:"session_id,omitempty"`
	Reason    string      `json:"reason,omitempty"`  // stop or failure reason
	Payload   interface{} `json:"payload,omitempty"` // redacted before write
}

// Logger appends entries to path, keeping a single rotated generation at
// path+".1". A nil or disabled Logger accepts and drops every entry.
type Logger struct {
	path    string
	maxSize int64

	mu   sync.Mutex
	f    *os.File
	size int64
}

// New opens the log at path, creating parent directories. With debug mode off
// path is ignored and a no-op logger is returned.
func New(path string) (*Logger, error) {
	if !IsDebugEnabled() {
		return NewNoOp(), nil
	}
	return open(path, DefaultMaxSize)
}

// NewNoOp returns a logger that drops everything. Use it when New fails so
// callers never need a nil check.
func NewNoOp() *Logger {
	return &Logger{}
}

func open(path string, maxSize int64) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := appendFile(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Logger{path: path, maxSize: maxSize, f: f, size: info.Size()}, nil
}

func appendFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

// Enabled reports whether entries reach a file.
func (l *Logger) Enabled() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f != nil
}

// Log writes entry as one JSON line. Payloads are redacted first. Write
// errors are dropped: diagnostics never fail the caller.
func (l *Logger) Log(entry LogEntry) {
	if !l.Enabled() {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.Payload != nil {
		entry.Payload = Redact(entry.Payload)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	if l.size > 0 && l.size+int64(len(line)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return
		}
	}
	n, _ := l.f.Write(line)
	l.size += int64(n)
}

// rotate moves the current file to path+".1", replacing the old backup.
// Called with mu held.
func (l *Logger) rotate() error {
	if err := l.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(l.path, l.path+".1"); err != nil && !os.IsNotExist(err) {
		return err
	}
	f, err := appendFile(l.path)
	if err != nil {
		l.f = nil
		return err
	}
	l.f, l.size = f, 0
	return nil
}

// Close syncs and closes the file. Later Log calls are dropped.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	_ = l.f.Sync()
	err := l.f.Close()
	l.f = nil
	return err
}

// IsDebugEnabled reports whether PRINTWATCH_DEBUG is "true".
func IsDebugEnabled() bool {
	return os.Getenv("PRINTWATCH_DEBUG") == "true"
}

// DefaultPath returns $PRINTWATCH_LOG_PATH, or printwatch-debug.ndjson in
// stateDir.
func DefaultPath(stateDir string) string {
	if p := os.Getenv("PRINTWATCH_LOG_PATH"); p != "" {
		return p
	}
	return filepath.Join(stateDir, "printwatch-debug.ndjson")
}

package printerws

import (
	"sync"
	"time"

	"github.com/tiroq/printwatch/internal/metrics"
)

// Intent is the recording intent derived from the status channel. The
// Listener that owns it is its only writer; any number of goroutines may read.
type Intent struct {
	mu           sync.RWMutex
	shouldRecord bool
	jobName      string
	state        PrinterState
	hasState     bool
	updated      time.Time
	changed      chan struct{}
}

// IntentSnapshot is a consistent copy of an Intent.
type IntentSnapshot struct {
	ShouldRecord bool         `json:"should_record"`
	JobName      string       `json:"job_name"`
	State        PrinterState `json:"printer_state"`
	HasState     bool         `json:"has_state"`
	Updated      time.Time    `json:"updated"`
}

// NewIntent returns an intent that does not ask for recording and has no job
// name.
func NewIntent() *Intent {
	return &Intent{changed: make(chan struct{})}
}

// ShouldRecord reports whether a recording should be running.
func (i *Intent) ShouldRecord() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.shouldRecord
}

// JobName returns the latest job name, or "" if none was ever received.
func (i *Intent) JobName() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.jobName
}

// Snapshot returns all fields at once.
func (i *Intent) Snapshot() IntentSnapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return IntentSnapshot{
		ShouldRecord: i.shouldRecord,
		JobName:      i.jobName,
		State:        i.state,
		HasState:     i.hasState,
		Updated:      i.updated,
	}
}

// Changed returns a channel that is closed the next time ShouldRecord or
// JobName changes.
func (i *Intent) Changed() <-chan struct{} {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.changed
}

// apply records a validated message and reports whether the intent changed.
// A print file name that yields no job name leaves the previous one in place.
func (i *Intent) apply(msg StatusMessage) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	should := msg.State.ShouldRecord()
	job := i.jobName
	if msg.PrintFileName != "" {
		if name, ok := ExtractJobName(msg.PrintFileName); ok {
			job = name
		}
	}

	changed := should != i.shouldRecord || job != i.jobName
	i.shouldRecord = should
	i.jobName = job
	i.state = msg.State
	i.hasState = true
	i.updated = time.Now()
	metrics.ShouldRecord.Set(metrics.Bool(should))

	if changed {
		close(i.changed)
		i.changed = make(chan struct{})
	}
	return changed
}

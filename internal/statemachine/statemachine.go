// Package statemachine tracks the phase of the recording controller.
package statemachine

import (
	"fmt"
	"sync"
	"time"

	"github.com/tiroq/printwatch/internal/diaglog"
)

// Phase is the controller's lifecycle position.
type Phase string

const (
	PhaseIdle      Phase = "idle"      // Waiting for recording intent
	PhasePreparing Phase = "preparing" // Retention sweep and source acquisition
	PhaseRecording Phase = "recording" // Writing frames
	PhaseDraining  Phase = "draining"  // Releasing session resources
)

// StopReason says why a session left Recording.
type StopReason string

const (
	StopIntentCleared StopReason = "intent_cleared"
	StopSourceLost    StopReason = "source_lost"
	StopWriteFailed   StopReason = "write_failed"
	StopDurationCap   StopReason = "duration_cap"
	StopManualQuit    StopReason = "manual_quit"
	StopShutdown      StopReason = "shutdown"
	StopPrepareFailed StopReason = "prepare_failed"
)

var transitions = map[Phase][]Phase{
	PhaseIdle:      {PhasePreparing},
	PhasePreparing: {PhaseRecording, PhaseDraining, PhaseIdle},
	PhaseRecording: {PhaseDraining},
	PhaseDraining:  {PhaseIdle},
}

// Snapshot is a point-in-time copy of the machine.
type Snapshot struct {
	Phase         Phase      `json:"phase"`
	SessionID     string     `json:"session_id,omitempty"`
	JobName       string     `json:"job_name,omitempty"`
	Backend       string     `json:"capture_backend,omitempty"`
	CurrentFile   string     `json:"current_file,omitempty"`
	SessionStart  time.Time  `json:"session_start,omitempty"`
	FramesWritten int64      `json:"frames_written"`
	FramesDropped int64      `json:"frames_dropped"`
	LastStop      StopReason `json:"last_stop_reason,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Since         time.Time  `json:"phase_since"`
}

// StateMachine is safe for concurrent use: the controller writes, the status
// writer and HTTP handlers read.
type StateMachine struct {
	mu   sync.RWMutex
	snap Snapshot
	diag *diaglog.Logger
	now  func() time.Time

	onChange func(Snapshot)
}

// New returns a machine in PhaseIdle.
func New(diag *diaglog.Logger) *StateMachine {
	sm := &StateMachine{diag: diag, now: time.Now}
	sm.snap.Phase = PhaseIdle
	sm.snap.Since = sm.now()
	return sm
}

// OnChange registers fn to run after every successful transition. fn runs
// without the lock held.
func (sm *StateMachine) OnChange(fn func(Snapshot)) {
	sm.mu.Lock()
	sm.onChange = fn
	sm.mu.Unlock()
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Transition moves to phase to. Illegal transitions return an error and
// leave the phase unchanged.
func (sm *StateMachine) Transition(to Phase, reason string) error {
	sm.mu.Lock()
	from := sm.snap.Phase
	if !CanTransition(from, to) {
		sm.mu.Unlock()
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	sessionID := sm.snap.SessionID
	sm.snap.Phase = to
	sm.snap.Since = sm.now()
	if to == PhaseIdle {
		sm.snap.SessionID = ""
		sm.snap.JobName = ""
		sm.snap.Backend = ""
		sm.snap.CurrentFile = ""
		sm.snap.SessionStart = time.Time{}
	}
	snap := sm.snap
	fn := sm.onChange
	sm.mu.Unlock()

	sm.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentStateMachine,
		Event:     diaglog.EventPhaseTransition,
		SessionID: sessionID,
		Reason:    reason,
		Payload:   map[string]interface{}{"from": string(from), "to": string(to)},
	})
	if fn != nil {
		fn(snap)
	}
	return nil
}

// BeginSession records a new session. Frame counters reset.
func (sm *StateMachine) BeginSession(id string, start time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.snap.SessionID = id
	sm.snap.SessionStart = start
	sm.snap.FramesWritten = 0
	sm.snap.FramesDropped = 0
	sm.snap.JobName = ""
	sm.snap.Backend = ""
	sm.snap.CurrentFile = ""
}

// SetSource records the backend that opened the stream.
func (sm *StateMachine) SetSource(backend string) {
	sm.mu.Lock()
	sm.snap.Backend = backend
	sm.mu.Unlock()
}

// SetOutput records the job name and the file being written.
func (sm *StateMachine) SetOutput(job, path string) {
	sm.mu.Lock()
	sm.snap.JobName = job
	sm.snap.CurrentFile = path
	sm.mu.Unlock()
}

// AddFrames bumps the written and dropped counters.
func (sm *StateMachine) AddFrames(written, dropped int64) {
	sm.mu.Lock()
	sm.snap.FramesWritten += written
	sm.snap.FramesDropped += dropped
	sm.mu.Unlock()
}

// EndSession records why the session stopped. A nil err clears LastError.
func (sm *StateMachine) EndSession(reason StopReason, err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.snap.LastStop = reason
	if err != nil {
		sm.snap.LastError = err.Error()
	} else {
		sm.snap.LastError = ""
	}
}

// SetError records err without ending a session.
func (sm *StateMachine) SetError(err error) {
	if err == nil {
		return
	}
	sm.mu.Lock()
	sm.snap.LastError = err.Error()
	sm.mu.Unlock()
}

// Phase returns the current phase.
func (sm *StateMachine) Phase() Phase {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.snap.Phase
}

// IsRecording reports whether frames are being written.
func (sm *StateMachine) IsRecording() bool {
	return sm.Phase() == PhaseRecording
}

// RecordingDuration returns how long the current session has run.
func (sm *StateMachine) RecordingDuration() time.Duration {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if sm.snap.SessionStart.IsZero() {
		return 0
	}
	return sm.now().Sub(sm.snap.SessionStart)
}

// Snapshot returns a copy of the current state.
func (sm *StateMachine) Snapshot() Snapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.snap
}

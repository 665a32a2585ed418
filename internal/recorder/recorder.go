// Package recorder drives recording sessions from the printer's recording
// intent: acquire a capture source, write frames to a day-folder file, stop
// on intent change or limits, release everything, repeat.
package recorder

import (
	"fmt"
	"time"

	"github.com/tiroq/printwatch/internal/capture"
	"github.com/tiroq/printwatch/internal/diaglog"
	"github.com/tiroq/printwatch/internal/retention"
	"github.com/tiroq/printwatch/internal/statemachine"
)

// IntentSource is the read side of the shared recording intent.
type IntentSource interface {
	ShouldRecord() bool
	JobName() string
	// Changed returns a channel closed on the next intent change.
	Changed() <-chan struct{}
}

// Sweeper runs retention housekeeping before each session.
type Sweeper interface {
	Sweep() retention.Result
}

// Preview receives frames while a session runs. End is called once per
// session during release.
type Preview interface {
	Publish(jpeg []byte) error
	End()
}

// Default tunables.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultNameWait     = 3 * time.Second
	DefaultRetryDelay   = 5 * time.Second
	DefaultBatchSize    = 10
)

// Options configures a Controller. Registry, Backends, Address, StorageRoot,
// Codec, FrameRate and Sinks are required.
type Options struct {
	Registry    *capture.Registry
	Backends    []string
	Address     string
	StorageRoot string
	Codec       string
	FrameRate   int
	MaxDuration time.Duration // <= 0 means unbounded
	Sinks       capture.SinkFactory

	Retention Sweeper                    // optional
	Preview   Preview                    // optional; nil disables preview
	Machine   *statemachine.StateMachine // optional; a private one is created
	Diag      *diaglog.Logger            // optional

	PollInterval time.Duration
	NameWait     time.Duration
	RetryDelay   time.Duration
	BatchSize    int
}

func (o *Options) validate() error {
	switch {
	case o.Registry == nil:
		return fmt.Errorf("recorder: capture registry is required")
	case len(o.Backends) == 0:
		return fmt.Errorf("recorder: at least one capture backend is required")
	case o.Address == "":
		return fmt.Errorf("recorder: capture address is required")
	case o.StorageRoot == "":
		return fmt.Errorf("recorder: storage root is required")
	case o.FrameRate <= 0:
		return fmt.Errorf("recorder: frame rate must be positive")
	case o.Sinks == nil:
		return fmt.Errorf("recorder: sink factory is required")
	}
	if o.PollInterval <= 0 || o.PollInterval > time.Second {
		o.PollInterval = DefaultPollInterval
	}
	if o.NameWait <= 0 {
		o.NameWait = DefaultNameWait
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Codec == "" {
		o.Codec = "MJPG"
	}
	if o.Machine == nil {
		o.Machine = statemachine.New(o.Diag)
	}
	return nil
}

// SessionError reports the phase and step a session failed in.
type SessionError struct {
	Phase statemachine.Phase
	Op    string
	Err   error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Phase, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

func prepareErr(op string, err error) error {
	return &SessionError{Phase: statemachine.PhasePreparing, Op: op, Err: err}
}

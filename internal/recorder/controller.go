package recorder

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tiroq/printwatch/internal/capture"
	"github.com/tiroq/printwatch/internal/diaglog"
	"github.com/tiroq/printwatch/internal/fileutil"
	"github.com/tiroq/printwatch/internal/metrics"
	"github.com/tiroq/printwatch/internal/statemachine"
)

// Controller is the recording state machine. Run it with Run; it only
// returns when its context is cancelled.
type Controller struct {
	opts   Options
	intent IntentSource
	sm     *statemachine.StateMachine
	diag   *diaglog.Logger
	quit   chan struct{}
	now    func() time.Time
}

// New validates opts and returns a controller in PhaseIdle.
func New(intent IntentSource, opts Options) (*Controller, error) {
	if intent == nil {
		return nil, errors.New("recorder: intent source is required")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Controller{
		opts:   opts,
		intent: intent,
		sm:     opts.Machine,
		diag:   opts.Diag,
		quit:   make(chan struct{}, 1),
		now:    time.Now,
	}, nil
}

// Machine exposes the phase tracker for status reporting.
func (c *Controller) Machine() *statemachine.StateMachine { return c.sm }

// RequestStop ends the current session with reason manual_quit. It has no
// effect while no session is recording.
func (c *Controller) RequestStop() {
	if c.sm.Phase() != statemachine.PhaseRecording {
		return
	}
	select {
	case c.quit <- struct{}{}:
	default:
	}
}

// Run loops forever: wait for intent, run one session, pause after a failed
// one. It returns ctx.Err() on cancellation.
func (c *Controller) Run(ctx context.Context) error {
	c.toIdle()
	for {
		if err := c.waitForIntent(ctx); err != nil {
			return err
		}

		err := c.runSession(ctx)
		if err != nil && ctx.Err() == nil {
			log.Printf("[SESSION] Session failed: %v (retrying in %v)", err, c.opts.RetryDelay)
			c.sm.SetError(err)
			if !sleepCtx(ctx, c.opts.RetryDelay) {
				c.toIdle()
				return ctx.Err()
			}
		}
		c.toIdle()
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// toIdle returns to PhaseIdle from wherever an earlier session left off.
func (c *Controller) toIdle() {
	if c.sm.Phase() == statemachine.PhaseIdle {
		return
	}
	if err := c.sm.Transition(statemachine.PhaseIdle, ""); err != nil {
		log.Printf("[SESSION] %v", err)
	}
}

// waitForIntent blocks until ShouldRecord is true. It wakes on intent
// changes and at least every PollInterval.
func (c *Controller) waitForIntent(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		changed := c.intent.Changed()
		if c.intent.ShouldRecord() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-ticker.C:
		}
	}
}

// session owns every resource opened for one recording.
type session struct {
	id      string
	started time.Time
	job     string

	source        capture.Source
	sink          capture.Sink
	width, height int
	previewOn     bool

	recordStart time.Time
	written     int64
	dropped     int64
}

// runSession executes one Preparing → Recording → Draining cycle. Release
// runs from a defer so a panic still frees the source and sink.
func (c *Controller) runSession(ctx context.Context) (err error) {
	s := &session{id: uuid.NewString(), started: c.now()}
	c.sm.BeginSession(s.id, s.started)
	c.transition(statemachine.PhasePreparing, "intent set")

	reason := statemachine.StopPrepareFailed
	defer func() { c.drain(s, reason, err) }()

	if err = c.prepare(ctx, s); err != nil {
		if ctx.Err() != nil {
			reason = statemachine.StopShutdown
		}
		return err
	}

	c.transition(statemachine.PhaseRecording, "")
	reason, err = c.record(ctx, s)
	return err
}

func (c *Controller) transition(to statemachine.Phase, reason string) {
	if err := c.sm.Transition(to, reason); err != nil {
		log.Printf("[SESSION] %v", err)
	}
}

// prepare sweeps storage, opens the source and creates the sink.
func (c *Controller) prepare(ctx context.Context, s *session) error {
	if c.opts.Retention != nil {
		res := c.opts.Retention.Sweep()
		if res.FoldersRemoved > 0 || res.FilesRemoved > 0 || res.Errors > 0 {
			log.Printf("[RETENTION] Removed %d folders and %d files (%d errors) in %v",
				res.FoldersRemoved, res.FilesRemoved, res.Errors, res.Duration)
		}
	}

	plan, err := capture.Plan(c.opts.Registry, c.opts.Backends, c.opts.Address)
	if err != nil {
		return prepareErr("plan capture", err)
	}
	src, err := capture.Acquire(ctx, plan, c.diag)
	if err != nil {
		for _, line := range c.opts.Registry.Describe() {
			log.Printf("[CAPTURE] Backend %s", line)
		}
		return prepareErr("acquire source", err)
	}
	s.source = src
	c.sm.SetSource(src.Backend())

	hints := capture.Hints{BufferSize: 1, FrameRate: c.opts.FrameRate, PixelFormat: "MJPG"}
	if err := src.Configure(hints); err != nil {
		log.Printf("[CAPTURE] %v", err)
	}

	s.width, s.height, err = src.Dimensions()
	if err != nil {
		return prepareErr("frame size", err)
	}

	dir, err := fileutil.EnsureDayFolder(c.opts.StorageRoot, s.started)
	if err != nil {
		return prepareErr("day folder", err)
	}

	s.job = fileutil.SanitizeForFilename(c.waitForJobName(ctx))
	path := fileutil.UniquePath(filepath.Join(dir, fileutil.RecordingFileName(s.job, s.started)))

	if err := fileutil.ProbeWritable(dir); err != nil {
		return prepareErr("probe storage", err)
	}

	sink, err := c.opts.Sinks.Create(path, c.opts.Codec, c.opts.FrameRate, s.width, s.height)
	if err != nil {
		return prepareErr("create sink", err)
	}
	s.sink = sink
	c.sm.SetOutput(s.job, path)

	log.Printf("[SESSION] Recording %q to %s (%s %dx%d @ %d fps)",
		s.job, path, src.Backend(), s.width, s.height, c.opts.FrameRate)
	c.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentRecorder,
		Event:     diaglog.EventSessionStart,
		SessionID: s.id,
		Payload: map[string]interface{}{
			"job":     s.job,
			"file":    path,
			"backend": src.Backend(),
			"address": src.Address(),
			"width":   s.width,
			"height":  s.height,
		},
	})
	return nil
}

// waitForJobName gives the status channel NameWait to deliver a job name.
// It returns "" when none arrives.
func (c *Controller) waitForJobName(ctx context.Context) string {
	deadline := time.NewTimer(c.opts.NameWait)
	defer deadline.Stop()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		changed := c.intent.Changed()
		if name := c.intent.JobName(); name != "" {
			return name
		}
		select {
		case <-ctx.Done():
			return ""
		case <-deadline.C:
			log.Printf("[SESSION] No job name after %v, using %q", c.opts.NameWait, fileutil.PlaceholderName)
			return ""
		case <-changed:
		case <-ticker.C:
		}
	}
}

// record copies frames from source to sink until a stop condition.
func (c *Controller) record(ctx context.Context, s *session) (statemachine.StopReason, error) {
	metrics.Recording.Set(1)
	s.recordStart = c.now()
	s.previewOn = c.opts.Preview != nil

	stop := make(chan statemachine.StopReason, 1)
	done := make(chan struct{})
	defer close(done)
	go c.watch(ctx, s, stop, done)

	pace := newPacer(c.opts.FrameRate)
	var batchWritten, batchDropped int64
	flush := func() {
		c.sm.AddFrames(batchWritten, batchDropped)
		batchWritten, batchDropped = 0, 0
	}
	defer flush()

	for n := 1; ; n++ {
		if !c.intent.ShouldRecord() {
			return statemachine.StopIntentCleared, nil
		}
		select {
		case reason := <-stop:
			return reason, nil
		default:
		}

		frame, err := s.source.ReadFrame()
		if err != nil {
			select {
			case reason := <-stop:
				return reason, nil
			default:
			}
			if errors.Is(err, io.EOF) {
				log.Printf("[CAPTURE] Stream ended after %d frames", s.written)
			} else {
				log.Printf("[CAPTURE] Frame read failed: %v", err)
			}
			return statemachine.StopSourceLost, nil
		}

		if pace.allow(frame, c.now()) {
			if err := s.sink.WriteFrame(frame); err != nil {
				log.Printf("[SESSION] Write to %s failed: %v", s.sink.Path(), err)
				return statemachine.StopWriteFailed, &SessionError{Phase: statemachine.PhaseRecording, Op: "write frame", Err: err}
			}
			s.written++
			batchWritten++
			metrics.FramesWritten.Inc()
		} else {
			s.dropped++
			batchDropped++
			metrics.FramesDropped.Inc()
		}

		if c.opts.MaxDuration > 0 && c.now().Sub(s.recordStart) >= c.opts.MaxDuration {
			log.Printf("[SESSION] Duration cap %v reached", c.opts.MaxDuration)
			return statemachine.StopDurationCap, nil
		}

		if s.previewOn {
			if err := c.opts.Preview.Publish(frame.Data); err != nil {
				log.Printf("[SESSION] Preview disabled: %v", err)
				s.previewOn = false
			}
		}

		if n%c.opts.BatchSize == 0 {
			flush()
		}
	}
}

// watch delivers asynchronous stop conditions and unblocks a pending read by
// closing the source.
func (c *Controller) watch(ctx context.Context, s *session, stop chan<- statemachine.StopReason, done <-chan struct{}) {
	signal := func(r statemachine.StopReason) {
		stop <- r
		_ = s.source.Close()
	}
	for {
		changed := c.intent.Changed()
		if !c.intent.ShouldRecord() {
			signal(statemachine.StopIntentCleared)
			return
		}
		select {
		case <-done:
			return
		case <-ctx.Done():
			signal(statemachine.StopShutdown)
			return
		case <-c.quit:
			log.Printf("[SESSION] Manual stop requested")
			signal(statemachine.StopManualQuit)
			return
		case <-changed:
		}
	}
}

// drain releases the session's resources and records its outcome. It runs
// on every exit path of runSession.
func (c *Controller) drain(s *session, reason statemachine.StopReason, err error) {
	c.transition(statemachine.PhaseDraining, string(reason))

	// A stop request that raced with the end of this session must not carry
	// over to the next one.
	select {
	case <-c.quit:
	default:
	}

	if s.sink != nil && c.opts.Preview != nil {
		c.opts.Preview.End()
	}
	if s.source != nil {
		if cerr := s.source.Close(); cerr != nil {
			log.Printf("[CAPTURE] Close source: %v", cerr)
		}
	}
	var sinkErr error
	if s.sink != nil {
		if sinkErr = s.sink.Close(); sinkErr != nil {
			log.Printf("[SESSION] Close %s: %v", s.sink.Path(), sinkErr)
		}
	}
	metrics.Recording.Set(0)
	metrics.Sessions.WithLabelValues(string(reason)).Inc()

	stopped := c.now()
	if s.sink != nil {
		c.writeMetadata(s, reason, errors.Join(err, sinkErr), stopped)
		log.Printf("[SESSION] Stopped %s after %v: %s (%d frames written, %d dropped)",
			filepath.Base(s.sink.Path()), stopped.Sub(s.started).Round(time.Second), reason, s.written, s.dropped)
	}

	entry := diaglog.LogEntry{
		Component: diaglog.ComponentRecorder,
		Event:     diaglog.EventSessionStop,
		SessionID: s.id,
		Reason:    string(reason),
		Payload: map[string]interface{}{
			"frames_written": s.written,
			"frames_dropped": s.dropped,
		},
	}
	if err != nil {
		entry.Event = diaglog.EventSessionFailed
		entry.Payload = map[string]interface{}{"error": err.Error()}
	}
	c.diag.Log(entry)
	c.sm.EndSession(reason, err)
}

func (c *Controller) writeMetadata(s *session, reason statemachine.StopReason, err error, stopped time.Time) {
	d := stopped.Sub(s.started)
	meta := &fileutil.RecordingMetadata{
		Version:       diaglog.Version,
		SessionID:     s.id,
		JobName:       s.job,
		StartedAt:     s.started,
		StoppedAt:     stopped,
		Duration:      d.Round(time.Millisecond).String(),
		DurationMs:    d.Milliseconds(),
		StopReason:    string(reason),
		Backend:       s.source.Backend(),
		Address:       diaglog.RedactURL(s.source.Address()),
		Codec:         c.opts.Codec,
		FrameRate:     c.opts.FrameRate,
		Width:         s.width,
		Height:        s.height,
		FramesWritten: s.written,
		FramesDropped: s.dropped,
		OutputFile:    filepath.Base(s.sink.Path()),
	}
	if err != nil {
		meta.Error = err.Error()
	}
	if werr := fileutil.WriteMetadata(s.sink.Path(), meta); werr != nil {
		log.Printf("[SESSION] Write metadata for %s: %v", s.sink.Path(), werr)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// pacer caps the write rate at fps on the frames' own timestamps. The bucket
// holds one second of frames, so a camera running at fps with jitter or a
// short stall never loses a frame; only a source faster than fps is thinned.
type pacer struct {
	limiter *rate.Limiter
}

func newPacer(fps int) *pacer {
	return &pacer{limiter: rate.NewLimiter(rate.Limit(fps), fps)}
}

func (p *pacer) allow(f capture.Frame, now time.Time) bool {
	at := f.Timestamp
	if at.IsZero() {
		at = now
	}
	return p.limiter.AllowN(at, 1)
}

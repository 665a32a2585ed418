//go:build gstreamer

package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/tiroq/printwatch/internal/config"
)

var gstInitOnce sync.Once

// GStreamerBackend decodes the stream with uridecodebin and re-encodes each
// frame to JPEG at an appsink.
type GStreamerBackend struct {
	OpenTimeout  time.Duration
	FrameTimeout time.Duration
}

// NewGStreamerBackend returns the GStreamer backend.
func NewGStreamerBackend() *GStreamerBackend {
	return &GStreamerBackend{OpenTimeout: DefaultOpenTimeout, FrameTimeout: DefaultFrameTimeout}
}

func (b *GStreamerBackend) Name() string { return config.BackendGStreamer }

// Available reports whether the elements the pipeline needs are installed.
func (b *GStreamerBackend) Available() error {
	gstInitOnce.Do(func() { gst.Init(nil) })
	for _, factory := range []string{"uridecodebin", "videoconvert", "videorate", "jpegenc", "appsink"} {
		if gst.Find(factory) == nil {
			return fmt.Errorf("%w: gstreamer element %s not installed", ErrUnavailable, factory)
		}
	}
	return nil
}

func gstPipeline(address string) string {
	return fmt.Sprintf(
		"uridecodebin uri=%q ! videoconvert ! videorate drop-only=true ! capsfilter name=rate ! "+
			"jpegenc ! appsink name=sink sync=false max-buffers=2 drop=true", address)
}

func (b *GStreamerBackend) Open(ctx context.Context, address string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	gstInitOnce.Do(func() { gst.Init(nil) })

	pipeline, err := gst.NewPipelineFromString(gstPipeline(address))
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("find appsink: %w", err)
	}
	rate, err := pipeline.GetElementByName("rate")
	if err != nil {
		return nil, fmt.Errorf("find capsfilter: %w", err)
	}

	s := &gstSource{pipeline: pipeline, sink: app.SinkFromElement(sinkElem), rate: rate}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	src, err := newJPEGSource(b.Name(), address, s.pull, s.close, timeouts(b.OpenTimeout, b.FrameTimeout))
	if err != nil {
		return nil, err
	}
	return &gstJPEGSource{jpegSource: src, gst: s}, nil
}

type gstSource struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	rate     *gst.Element

	mu     sync.Mutex
	closed bool
}

// pull blocks until the appsink yields a sample, the stream ends, or the
// pipeline reports an error.
func (s *gstSource) pull() ([]byte, error) {
	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		if sample := s.sink.TryPullSample(200 * time.Millisecond); sample != nil {
			buf := sample.GetBuffer()
			if buf == nil {
				continue
			}
			mapped := buf.Map(gst.MapRead)
			data := append([]byte(nil), mapped.Bytes()...)
			buf.Unmap()
			return data, nil
		}

		if msg := s.pipeline.GetPipelineBus().TimedPopFiltered(0, gst.MessageError); msg != nil {
			gerr := msg.ParseError()
			return nil, fmt.Errorf("gstreamer: %s (%s)", gerr.Error(), gerr.DebugString())
		}
		if s.sink.IsEOS() {
			return nil, io.EOF
		}
	}
}

func (s *gstSource) close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.pipeline.SetState(gst.StateNull)
}

// gstJPEGSource adds the hints GStreamer can honor.
type gstJPEGSource struct {
	*jpegSource
	gst *gstSource
}

func (s *gstJPEGSource) Configure(h Hints) error {
	var errs []error
	if h.BufferSize > 0 {
		s.gst.sink.SetMaxBuffers(uint(h.BufferSize))
	}
	if h.FrameRate > 0 {
		caps := gst.NewCapsFromString(fmt.Sprintf("video/x-raw,framerate=%d/1", h.FrameRate))
		if err := s.gst.rate.SetProperty("caps", caps); err != nil {
			errs = append(errs, fmt.Errorf("set frame rate: %w", err))
		}
	}
	if err := ignoredHints(s.backend, h, "buffer_size", "frame_rate"); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

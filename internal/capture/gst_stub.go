//go:build !gstreamer

package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/tiroq/printwatch/internal/config"
)

// GStreamerBackend is a placeholder in builds without the gstreamer tag. The
// timeouts are kept so callers configure both builds the same way.
type GStreamerBackend struct {
	OpenTimeout  time.Duration
	FrameTimeout time.Duration
}

func NewGStreamerBackend() *GStreamerBackend {
	return &GStreamerBackend{OpenTimeout: DefaultOpenTimeout, FrameTimeout: DefaultFrameTimeout}
}

func (b *GStreamerBackend) Name() string { return config.BackendGStreamer }

func (b *GStreamerBackend) Available() error {
	return fmt.Errorf("%w: built without gstreamer support", ErrUnavailable)
}

func (b *GStreamerBackend) Open(ctx context.Context, address string) (Source, error) {
	return nil, b.Available()
}

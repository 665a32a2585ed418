package capture

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mattn/go-mjpeg"

	"github.com/tiroq/printwatch/internal/config"
)

// ffmpegBoundary is the multipart boundary the mpjpeg muxer writes.
const ffmpegBoundary = "ffmpeg"

// FFmpegBackend runs ffmpeg as a subprocess and reads its mpjpeg output, so
// any input ffmpeg understands (RTSP, HLS, MJPEG, files) can be recorded.
type FFmpegBackend struct {
	Path         string
	OpenTimeout  time.Duration
	FrameTimeout time.Duration
}

// NewFFmpegBackend returns a backend that runs the ffmpeg binary at path.
func NewFFmpegBackend(path string) *FFmpegBackend {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegBackend{Path: path, OpenTimeout: DefaultOpenTimeout, FrameTimeout: DefaultFrameTimeout}
}

func (b *FFmpegBackend) Name() string { return config.BackendFFmpeg }

// Available reports whether the ffmpeg binary can be found.
func (b *FFmpegBackend) Available() error {
	if _, err := exec.LookPath(b.Path); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// captureArgs builds the ffmpeg command line for address.
func captureArgs(address string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if strings.HasPrefix(address, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args, "-i", address, "-an", "-f", "mpjpeg", "-q:v", "3", "pipe:1")
}

func (b *FFmpegBackend) Open(ctx context.Context, address string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(b.Path, captureArgs(address)...)
	startGroup(cmd)
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	dec := mjpeg.NewDecoder(stdout, ffmpegBoundary)
	closeFn := func() error {
		killGroup(cmd)
		_ = cmd.Wait()
		return nil
	}

	src, err := newJPEGSource(b.Name(), address, dec.DecodeRaw, closeFn, timeouts(b.OpenTimeout, b.FrameTimeout))
	if err != nil {
		if tail := stderr.String(); tail != "" {
			return nil, fmt.Errorf("%w (ffmpeg: %s)", err, tail)
		}
		return nil, err
	}
	return src, nil
}

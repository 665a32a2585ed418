package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/icza/mjpeg"
)

// Sink receives frames for one recording file.
type Sink interface {
	WriteFrame(f Frame) error
	Close() error
	Path() string
}

// SinkFactory creates sinks for a codec.
type SinkFactory interface {
	Create(path, codec string, fps, width, height int) (Sink, error)
}

// FileSinkFactory writes MJPG natively to AVI and hands every other codec to
// an ffmpeg encoder subprocess.
type FileSinkFactory struct {
	FFmpegPath string
}

func (f FileSinkFactory) Create(path, codec string, fps, width, height int) (Sink, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid frame rate %d", fps)
	}
	if strings.EqualFold(codec, "MJPG") {
		return NewAVISink(path, fps, width, height)
	}
	enc, err := encoderFor(codec)
	if err != nil {
		return nil, err
	}
	ffmpeg := f.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return newFFmpegSink(ffmpeg, path, enc, fps)
}

// AVISink writes Motion-JPEG AVI files without re-encoding.
type AVISink struct {
	path string
	aw   mjpeg.AviWriter

	mu     sync.Mutex
	closed bool
}

func NewAVISink(path string, fps, width, height int) (*AVISink, error) {
	aw, err := mjpeg.New(path, int32(width), int32(height), int32(fps))
	if err != nil {
		return nil, fmt.Errorf("create avi writer: %w", err)
	}
	return &AVISink{path: path, aw: aw}, nil
}

func (s *AVISink) Path() string { return s.path }

func (s *AVISink) WriteFrame(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.aw.AddFrame(f.Data)
}

// Close finalizes the AVI index. Safe to call more than once.
func (s *AVISink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.aw.Close()
}

type encoder struct {
	codec string // ffmpeg -c:v
	tag   string // container FourCC
}

var encoders = map[string]encoder{
	"MP4V": {"mpeg4", "FMP4"},
	"FMP4": {"mpeg4", "FMP4"},
	"XVID": {"mpeg4", "XVID"},
	"DIVX": {"mpeg4", "DIVX"},
	"H264": {"libx264", "H264"},
	"AVC1": {"libx264", "H264"},
	"X264": {"libx264", "H264"},
}

func encoderFor(codec string) (encoder, error) {
	enc, ok := encoders[strings.ToUpper(codec)]
	if !ok {
		return encoder{}, fmt.Errorf("unsupported video codec %q", codec)
	}
	return enc, nil
}

func encodeArgs(path string, enc encoder, fps int) []string {
	rate := strconv.Itoa(fps)
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "image2pipe", "-framerate", rate, "-c:v", "mjpeg", "-i", "pipe:0",
		"-an", "-c:v", enc.codec, "-vtag", enc.tag, "-pix_fmt", "yuv420p",
		path,
	}
}

// sinkCloseTimeout bounds how long Close waits for ffmpeg to flush.
const sinkCloseTimeout = 10 * time.Second

// FFmpegSink pipes JPEG frames into an ffmpeg encoder.
type FFmpegSink struct {
	path   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	done   chan error

	mu     sync.Mutex
	closed bool
	err    error
}

func newFFmpegSink(ffmpeg, path string, enc encoder, fps int) (*FFmpegSink, error) {
	cmd := exec.Command(ffmpeg, encodeArgs(path, enc, fps)...)
	startGroup(cmd)
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg encoder: %w", err)
	}

	s := &FFmpegSink{path: path, cmd: cmd, stdin: stdin, stderr: stderr, done: make(chan error, 1)}
	go func() { s.done <- cmd.Wait() }()
	return s, nil
}

func (s *FFmpegSink) Path() string { return s.path }

func (s *FFmpegSink) WriteFrame(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.stdin.Write(f.Data); err != nil {
		if tail := s.stderr.String(); tail != "" {
			return fmt.Errorf("ffmpeg encoder: %w (%s)", err, tail)
		}
		return fmt.Errorf("ffmpeg encoder: %w", err)
	}
	return nil
}

// Close ends the input and waits for ffmpeg to finish the file. An encoder
// that does not exit in time is killed.
func (s *FFmpegSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.err
	}
	s.closed = true

	if err := s.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.err = err
	}
	select {
	case err := <-s.done:
		if err != nil && s.err == nil {
			s.err = fmt.Errorf("ffmpeg encoder exited: %w (%s)", err, s.stderr.String())
		}
	case <-time.After(sinkCloseTimeout):
		killGroup(s.cmd)
		<-s.done
		if s.err == nil {
			s.err = fmt.Errorf("ffmpeg encoder did not exit within %v", sinkCloseTimeout)
		}
	}
	return s.err
}

package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// jpegSource adapts a "next JPEG" function to Source. The first frame is read
// during open to prove the stream works and to learn its dimensions.
type jpegSource struct {
	backend      string
	address      string
	next         func() ([]byte, error)
	closeFn      func() error
	frameTimeout time.Duration

	width, height int

	mu     sync.Mutex
	peeked []byte
	seq    uint64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// sourceTimeouts bounds the first frame and every later one.
type sourceTimeouts struct {
	open  time.Duration
	frame time.Duration
}

// timeouts fills unset values with the defaults.
func timeouts(open, frame time.Duration) sourceTimeouts {
	if open <= 0 {
		open = DefaultOpenTimeout
	}
	if frame <= 0 {
		frame = DefaultFrameTimeout
	}
	return sourceTimeouts{open: open, frame: frame}
}

type readResult struct {
	data []byte
	err  error
}

// newJPEGSource waits up to t.open for the first frame. On failure the
// underlying stream is closed.
func newJPEGSource(backend, address string, next func() ([]byte, error), closeFn func() error, t sourceTimeouts) (*jpegSource, error) {
	s := &jpegSource{backend: backend, address: address, next: next, closeFn: closeFn, frameTimeout: t.frame}
	timeout := t.open

	ch := make(chan readResult, 1)
	go func() {
		data, err := next()
		ch <- readResult{data, err}
	}()

	var first readResult
	select {
	case first = <-ch:
	case <-time.After(timeout):
		_ = s.Close()
		return nil, fmt.Errorf("no frame within %v", timeout)
	}
	if first.err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("read first frame: %w", first.err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(first.data))
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("first frame is not a JPEG image: %w", err)
	}
	s.width, s.height = cfg.Width, cfg.Height
	s.peeked = first.data
	return s, nil
}

func (s *jpegSource) Backend() string { return s.backend }
func (s *jpegSource) Address() string { return s.address }

func (s *jpegSource) Configure(h Hints) error {
	return ignoredHints(s.backend, h)
}

func (s *jpegSource) Dimensions() (int, int, error) {
	if s.width <= 0 || s.height <= 0 {
		return 0, 0, errors.New("frame size unknown")
	}
	return s.width, s.height, nil
}

func (s *jpegSource) ReadFrame() (Frame, error) {
	if s.closed.Load() {
		return Frame{}, ErrClosed
	}

	s.mu.Lock()
	data := s.peeked
	s.peeked = nil
	s.mu.Unlock()

	if data == nil {
		var err error
		data, err = s.pull()
		if err != nil {
			if errors.Is(err, ErrStalled) {
				return Frame{}, err
			}
			if s.closed.Load() {
				return Frame{}, ErrClosed
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Frame{}, io.EOF
			}
			return Frame{}, err
		}
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	return Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     s.width,
		Height:    s.height,
		Data:      data,
	}, nil
}

// pull reads the next frame under the stall watchdog. When no frame arrives
// within frameTimeout the source is closed, which unblocks next.
func (s *jpegSource) pull() ([]byte, error) {
	if s.frameTimeout <= 0 {
		return s.next()
	}
	var stalled atomic.Bool
	watchdog := time.AfterFunc(s.frameTimeout, func() {
		stalled.Store(true)
		_ = s.Close()
	})
	data, err := s.next()
	if !watchdog.Stop() && stalled.Load() {
		return nil, fmt.Errorf("%w: nothing for %v", ErrStalled, s.frameTimeout)
	}
	return data, err
}

func (s *jpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}

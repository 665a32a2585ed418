// Package capture opens live camera streams through interchangeable backends
// and writes their frames to video files.
//
// Every backend delivers frames as JPEG images so sources and sinks can be
// combined freely.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frame is one image from a Source.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte // JPEG
}

// Hints are best-effort capture settings. Zero values mean "no preference".
type Hints struct {
	BufferSize  int    // frames buffered by the backend
	FrameRate   int    // requested source frame rate
	PixelFormat string // intermediate FourCC, e.g. "MJPG"
}

// Source is an open capture session.
type Source interface {
	// Backend returns the name of the backend that opened the source.
	Backend() string
	// Address returns the stream address the source was opened with.
	Address() string
	// Configure applies hints. It returns *UnsupportedHintError for hints the
	// backend ignored; the source stays usable either way.
	Configure(h Hints) error
	// Dimensions returns the frame size.
	Dimensions() (width, height int, err error)
	// ReadFrame blocks for the next frame. It returns io.EOF when the stream
	// ends and ErrClosed after Close.
	ReadFrame() (Frame, error)
	// Close releases the source and unblocks a pending ReadFrame. It is safe
	// to call more than once.
	Close() error
}

// Backend opens sources.
type Backend interface {
	Name() string
	Open(ctx context.Context, address string) (Source, error)
}

// Prober is implemented by backends that can report up front whether they
// are usable on this host.
type Prober interface {
	Available() error
}

var (
	// ErrClosed is returned by ReadFrame after Close.
	ErrClosed = errors.New("capture source closed")
	// ErrUnavailable is wrapped by Prober.Available failures.
	ErrUnavailable = errors.New("capture backend unavailable")
	// ErrStalled is returned by ReadFrame when the stream stays open but
	// delivers no frame within the frame timeout. The source is closed.
	ErrStalled = errors.New("capture source stalled")
)

// UnsupportedHintError lists hints a backend ignored.
type UnsupportedHintError struct {
	Backend string
	Hints   []string
}

func (e *UnsupportedHintError) Error() string {
	return fmt.Sprintf("%s: ignored capture hints: %s", e.Backend, strings.Join(e.Hints, ", "))
}

// ignoredHints builds the error for the hints in h that are not in supported.
func ignoredHints(backend string, h Hints, supported ...string) error {
	isSupported := func(name string) bool {
		for _, s := range supported {
			if s == name {
				return true
			}
		}
		return false
	}
	var ignored []string
	if h.BufferSize > 0 && !isSupported("buffer_size") {
		ignored = append(ignored, "buffer_size")
	}
	if h.FrameRate > 0 && !isSupported("frame_rate") {
		ignored = append(ignored, "frame_rate")
	}
	if h.PixelFormat != "" && !strings.EqualFold(h.PixelFormat, "MJPG") && !isSupported("pixel_format") {
		ignored = append(ignored, "pixel_format")
	}
	if len(ignored) == 0 {
		return nil
	}
	return &UnsupportedHintError{Backend: backend, Hints: ignored}
}

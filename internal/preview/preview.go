// Package preview publishes the frames of the running session as a local
// MJPEG stream.
package preview

import (
	"errors"
	"net/http"
	"sync"

	"github.com/mattn/go-mjpeg"
)

// ErrDisabled is returned by Publish on a hub created with enabled=false.
var ErrDisabled = errors.New("preview disabled")

// Hub fans the latest frame out to connected viewers. Each recording
// session gets its own stream; End disconnects the viewers of the current
// one.
type Hub struct {
	mu      sync.Mutex
	enabled bool
	stream  *mjpeg.Stream
	last    []byte
	onQuit  func()
}

// New returns a hub. A disabled hub rejects Publish and serves 404.
func New(enabled bool) *Hub {
	return &Hub{enabled: enabled}
}

// Enabled reports whether the hub accepts frames.
func (h *Hub) Enabled() bool { return h.enabled }

// OnQuit sets the callback run by a manual quit request.
func (h *Hub) OnQuit(fn func()) {
	h.mu.Lock()
	h.onQuit = fn
	h.mu.Unlock()
}

// Publish sends one JPEG frame to every viewer of the current session.
func (h *Hub) Publish(jpeg []byte) error {
	if !h.enabled {
		return ErrDisabled
	}
	h.mu.Lock()
	if h.stream == nil {
		h.stream = mjpeg.NewStream()
	}
	s := h.stream
	h.last = jpeg
	h.mu.Unlock()
	return s.Update(jpeg)
}

// End closes the current session's stream.
func (h *Hub) End() {
	h.mu.Lock()
	s := h.stream
	h.stream = nil
	h.last = nil
	h.mu.Unlock()
	if s != nil {
		_ = s.Close()
	}
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stream == nil {
		return 0
	}
	return h.stream.NWatch()
}

// Latest returns the most recent frame of the current session, or nil.
func (h *Hub) Latest() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// RequestQuit runs the quit callback.
func (h *Hub) RequestQuit() bool {
	h.mu.Lock()
	fn := h.onQuit
	h.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// ServeHTTP streams the current session as multipart/x-mixed-replace.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.enabled {
		http.NotFound(w, r)
		return
	}
	h.mu.Lock()
	s := h.stream
	h.mu.Unlock()
	if s == nil {
		http.Error(w, "no recording in progress", http.StatusServiceUnavailable)
		return
	}
	s.ServeHTTP(w, r)
}

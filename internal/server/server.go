// Package server exposes health, status, metrics and the preview stream on a
// local HTTP listener.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers are the daemon hooks behind the routes. Nil fields disable the
// matching route.
type Handlers struct {
	Status  func() interface{} // GET /status body
	Healthy func() error       // GET /healthz; nil error is healthy
	Preview http.Handler       // GET /preview
	Quit    func() bool        // POST /preview/quit; false when nothing was stopped
}

// Server is the local HTTP surface.
type Server struct {
	httpServer *http.Server
}

// New builds the router. Write timeouts are left unset so the preview
// stream is not cut off.
func New(addr string, h Handlers) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(h),
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// NewRouter returns the chi router serving h.
func NewRouter(h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if h.Healthy != nil {
			if err := h.Healthy(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	if h.Status != nil {
		r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, h.Status())
		})
	}
	if h.Preview != nil {
		r.Method(http.MethodGet, "/preview", h.Preview)
	}
	if h.Quit != nil {
		r.Post("/preview/quit", func(w http.ResponseWriter, req *http.Request) {
			if !h.Quit() {
				writeJSON(w, http.StatusConflict, map[string]string{"status": "not recording"})
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
		})
	}
	return r
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Encode response: %v", err)
	}
}

// Run serves until ctx is cancelled, then shuts down within 5s.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	log.Printf("[HTTP] Listening on %s", ln.Addr())
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		// Preview streams hold connections open; force them closed.
		s.httpServer.Close()
	}
	<-errCh
	return ctx.Err()
}

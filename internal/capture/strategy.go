package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/tiroq/printwatch/internal/diaglog"
	"github.com/tiroq/printwatch/internal/metrics"
)

// Strategy is one way of opening the stream: a backend and an address.
type Strategy struct {
	Backend Backend
	Address string
}

func (s Strategy) String() string {
	return s.Backend.Name() + " " + diaglog.RedactURL(s.Address)
}

// WithScheme prefixes http:// to an address that carries no scheme.
func WithScheme(address string) string {
	if strings.Contains(address, "://") {
		return address
	}
	return "http://" + address
}

// Plan orders the acquisition strategies: the preferred (first) backend on
// the address, the preferred backend on the scheme-prefixed address when that
// differs, then every configured backend on the prefixed address. Pairs
// already planned are skipped. Names missing from the registry are ignored.
func Plan(reg *Registry, backends []string, address string) ([]Strategy, error) {
	var resolved []Backend
	for _, name := range backends {
		if b, ok := reg.Get(name); ok {
			resolved = append(resolved, b)
		}
	}
	if len(resolved) == 0 {
		return nil, fmt.Errorf("none of the capture backends %v is registered", backends)
	}

	seen := make(map[string]bool)
	var plan []Strategy
	add := func(b Backend, addr string) {
		key := b.Name() + "\x00" + addr
		if seen[key] {
			return
		}
		seen[key] = true
		plan = append(plan, Strategy{Backend: b, Address: addr})
	}

	prefixed := WithScheme(address)
	add(resolved[0], address)
	add(resolved[0], prefixed)
	for _, b := range resolved {
		add(b, prefixed)
	}
	return plan, nil
}

// Attempt records one failed strategy.
type Attempt struct {
	Strategy string
	Err      error
}

// AcquireError is returned when every strategy failed.
type AcquireError struct {
	Attempts []Attempt
}

func (e *AcquireError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Strategy, a.Err)
	}
	return fmt.Sprintf("could not open capture source after %d attempts: %s", len(e.Attempts), strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *AcquireError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// Acquire tries the strategies in order and returns the first source that
// opens. Unavailable backends are skipped without an open attempt.
func Acquire(ctx context.Context, plan []Strategy, diag *diaglog.Logger) (Source, error) {
	aerr := &AcquireError{}
	for _, s := range plan {
		if err := ctx.Err(); err != nil {
			aerr.Attempts = append(aerr.Attempts, Attempt{Strategy: s.String(), Err: err})
			return nil, aerr
		}

		name := s.Backend.Name()
		if p, ok := s.Backend.(Prober); ok {
			if err := p.Available(); err != nil {
				aerr.Attempts = append(aerr.Attempts, Attempt{Strategy: s.String(), Err: err})
				metrics.CaptureOpens.WithLabelValues(name, "unavailable").Inc()
				continue
			}
		}

		src, err := s.Backend.Open(ctx, s.Address)
		if err == nil {
			metrics.CaptureOpens.WithLabelValues(name, "ok").Inc()
			log.Printf("[CAPTURE] Opened %s", s)
			diag.Log(diaglog.LogEntry{
				Component: diaglog.ComponentCapture,
				Event:     diaglog.EventCaptureOpen,
				Payload:   map[string]interface{}{"backend": name, "address": s.Address},
			})
			return src, nil
		}

		metrics.CaptureOpens.WithLabelValues(name, "error").Inc()
		log.Printf("[CAPTURE] %s failed: %v", s, err)
		diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentCapture,
			Event:     diaglog.EventCaptureOpenFailed,
			Reason:    err.Error(),
			Payload:   map[string]interface{}{"backend": name, "address": s.Address},
		})
		aerr.Attempts = append(aerr.Attempts, Attempt{Strategy: s.String(), Err: err})
	}

	diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentCapture,
		Event:     diaglog.EventCaptureExhausted,
		Reason:    aerr.Error(),
	})
	return nil, aerr
}

// IsAcquireError reports whether err is an exhausted strategy chain.
func IsAcquireError(err error) bool {
	var aerr *AcquireError
	return errors.As(err, &aerr)
}

// Package printerws subscribes to the printer's websocket status channel and
// turns its messages into a recording intent.
package printerws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tiroq/printwatch/internal/diaglog"
	"github.com/tiroq/printwatch/internal/metrics"
)

// DefaultBackoff is the fixed delay between connection attempts.
const DefaultBackoff = time.Second

// Conn is the part of a websocket connection the Listener uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// DialFunc opens a connection to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

var dialer = &websocket.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: 10 * time.Second,
}

// DialWebsocket is the default DialFunc.
func DialWebsocket(ctx context.Context, url string) (Conn, error) {
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Listener keeps a connection to the status channel open and applies every
// valid message to its Intent. It reconnects after any failure, forever.
type Listener struct {
	url    string
	intent *Intent

	dial    DialFunc
	backoff time.Duration

	logger   *diaglog.Logger
	loggerMu sync.RWMutex

	mu        sync.RWMutex
	connected bool
	attempts  int
}

// NewListener returns a Listener that writes to intent.
func NewListener(url string, intent *Intent) *Listener {
	return &Listener{
		url:     url,
		intent:  intent,
		dial:    DialWebsocket,
		backoff: DefaultBackoff,
	}
}

// SetDialer replaces the connection factory.
func (l *Listener) SetDialer(d DialFunc) {
	l.dial = d
}

// SetBackoff sets the delay between connection attempts.
func (l *Listener) SetBackoff(d time.Duration) {
	l.backoff = d
}

// SetLogger injects a diaglog.Logger. Passing nil disables structured logging.
func (l *Listener) SetLogger(lg *diaglog.Logger) {
	l.loggerMu.Lock()
	l.logger = lg
	l.loggerMu.Unlock()
}

// Intent returns the intent this listener writes.
func (l *Listener) Intent() *Intent {
	return l.intent
}

// IsConnected reports whether a status connection is currently open.
func (l *Listener) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

// Attempts returns the number of connection attempts made so far.
func (l *Listener) Attempts() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.attempts
}

// Run connects and reads until ctx is cancelled. Every disconnect, whatever
// the cause, is followed by the backoff and a new attempt. Run returns only
// ctx.Err().
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			log.Printf("[STATUS] Connection lost: %v", err)
		}

		metrics.StatusReconnects.Inc()
		l.log(diaglog.LogEntry{
			Component: diaglog.ComponentReconnect,
			Event:     diaglog.EventWSReconnectAttempt,
			Payload:   map[string]interface{}{"attempt": l.Attempts() + 1, "delay_ms": l.backoff.Milliseconds()},
		})
		log.Printf("[RECONNECT] Retrying in %v", l.backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.backoff):
		}
	}
}

// session runs one connection from dial to close. A nil return means the
// server closed the connection normally.
func (l *Listener) session(ctx context.Context) error {
	l.mu.Lock()
	l.attempts++
	l.mu.Unlock()

	url := diaglog.RedactURL(l.url)
	conn, err := l.dial(ctx, l.url)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}

	// A blocked read only returns once the connection is closed.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	l.setConnected(true)
	log.Printf("[STATUS] Connected to %s", url)
	l.log(diaglog.LogEntry{Event: diaglog.EventWSConnect, Payload: map[string]interface{}{"url": url}})

	defer func() {
		stop()
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("Warning: failed to close status connection: %v", err)
		}
		l.setConnected(false)
		l.log(diaglog.LogEntry{Event: diaglog.EventWSDisconnect, Payload: map[string]interface{}{"url": url}})
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[STATUS] Connection closed normally: %v", err)
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		msg, err := ParseStatus(data)
		if err != nil {
			metrics.StatusMessages.WithLabelValues("rejected").Inc()
			l.log(diaglog.LogEntry{Event: diaglog.EventStatusRejected, Reason: err.Error(), Payload: map[string]interface{}{"raw": clip(data)}})
			// An invalid payload resets the connection.
			return fmt.Errorf("discarding message %q: %w", clip(data), err)
		}
		metrics.StatusMessages.WithLabelValues("accepted").Inc()
		l.log(diaglog.LogEntry{Event: diaglog.EventWSRecv, Payload: map[string]interface{}{"state": int(msg.State), "printFileName": msg.PrintFileName}})

		if l.intent.apply(msg) {
			snap := l.intent.Snapshot()
			log.Printf("[STATUS] State %s (%d), should_record=%v, job=%q",
				snap.State, int(snap.State), snap.ShouldRecord, snap.JobName)
			l.log(diaglog.LogEntry{
				Event:   diaglog.EventStatusUpdate,
				Payload: map[string]interface{}{"state": int(snap.State), "should_record": snap.ShouldRecord, "job": snap.JobName},
			})
		}
	}
}

func (l *Listener) setConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
	metrics.StatusConnected.Set(metrics.Bool(v))
}

// log emits a LogEntry when a logger is set. Component defaults to
// ComponentStatusListener.
func (l *Listener) log(entry diaglog.LogEntry) {
	l.loggerMu.RLock()
	lg := l.logger
	l.loggerMu.RUnlock()
	if lg == nil {
		return
	}
	if entry.Component == "" {
		entry.Component = diaglog.ComponentStatusListener
	}
	lg.Log(entry)
}

func clip(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

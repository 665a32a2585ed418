package capture

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattn/go-mjpeg"

	"github.com/tiroq/printwatch/internal/config"
)

const (
	// DefaultOpenTimeout bounds the wait for the first frame of a new source.
	DefaultOpenTimeout = 10 * time.Second
	// DefaultFrameTimeout bounds the wait for each later frame. A camera
	// that keeps the connection open but stops sending is closed after it.
	DefaultFrameTimeout = 10 * time.Second
)

// MJPEGBackend reads multipart/x-mixed-replace streams over HTTP, the format
// served by mjpg-streamer and most printer webcams.
type MJPEGBackend struct {
	Client       *http.Client
	OpenTimeout  time.Duration
	FrameTimeout time.Duration
}

// NewMJPEGBackend returns a backend with a streaming-safe HTTP client: no
// overall timeout, bounded dial and response-header waits.
func NewMJPEGBackend() *MJPEGBackend {
	return &MJPEGBackend{
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
				ResponseHeaderTimeout: 10 * time.Second,
			},
		},
		OpenTimeout:  DefaultOpenTimeout,
		FrameTimeout: DefaultFrameTimeout,
	}
}

func (b *MJPEGBackend) Name() string { return config.BackendMJPEG }

// Open issues the GET and waits for the first frame. The request lives as
// long as ctx.
func (b *MJPEGBackend) Open(ctx context.Context, address string) (Source, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("parse address: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, err
	}
	res, err := b.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		res.Body.Close()
		return nil, fmt.Errorf("unexpected HTTP status %s", res.Status)
	}
	mediaType, _, err := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		res.Body.Close()
		return nil, fmt.Errorf("not an MJPEG stream (Content-Type %q)", res.Header.Get("Content-Type"))
	}

	dec, err := mjpeg.NewDecoderFromResponse(res)
	if err != nil {
		res.Body.Close()
		return nil, fmt.Errorf("mjpeg decoder: %w", err)
	}

	return newJPEGSource(b.Name(), address, dec.DecodeRaw, res.Body.Close, timeouts(b.OpenTimeout, b.FrameTimeout))
}

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Backend names accepted in CAPTURE_BACKENDS.
const (
	BackendMJPEG     = "mjpeg"
	BackendFFmpeg    = "ffmpeg"
	BackendGStreamer = "gstreamer"
)

// Config holds the resolved runtime configuration. It is read once at
// startup and treated as read-only afterwards.
type Config struct {
	CameraHost      string   // Camera IP or host, optionally with scheme
	StreamPort      int      // Camera stream port
	StreamPath      string   // Stream path, e.g. "/?action=stream"
	CaptureBackends []string // Preferred backend first, then fallbacks
	FrameTimeout    int      // Seconds without a frame before the source is dropped

	VideoCodec         string // FourCC, e.g. "MJPG" or "mp4v"
	FrameRate          int    // Target frames per second
	ShowPreview        bool   // Publish the local MJPEG preview
	MaxDurationSeconds int    // <= 0 means unbounded
	FFmpegPath         string // ffmpeg binary for the ffmpeg backend and sink

	MaxRetentionDays  int    // Day-folders older than this are removed
	MaxFilesPerFolder int    // <= 0 means unlimited
	StorageRoot       string // Root holding the YYYY-MM-DD folders
	BackupFolder      string // Never auto-managed

	StatusURL string // Printer status websocket

	HTTPAddr string // Local HTTP surface, "" disables
	StateDir string // status.json, cmd.txt, pid file, logs
}

// Default returns the configuration used when neither the environment nor
// the INI file sets a value.
func Default() *Config {
	return &Config{
		CameraHost:         "10.0.0.21",
		StreamPort:         8080,
		StreamPath:         "/?action=stream",
		CaptureBackends:    []string{BackendMJPEG, BackendFFmpeg, BackendGStreamer},
		FrameTimeout:       10,
		VideoCodec:         "MJPG",
		FrameRate:          15,
		ShowPreview:        false,
		MaxDurationSeconds: 3600,
		FFmpegPath:         "ffmpeg",
		MaxRetentionDays:   7,
		MaxFilesPerFolder:  20,
		StorageRoot:        ".",
		BackupFolder:       "backup",
		StatusURL:          "ws://10.0.0.21:9999",
		HTTPAddr:           "127.0.0.1:8090",
		StateDir:           filepath.Join(os.Getenv("HOME"), ".cache", "printwatch"),
	}
}

// Load resolves configuration from the process environment, then applies
// config.ini (or $PRINTWATCH_CONFIG) on top of it.
func Load() (*Config, error) {
	path := os.Getenv("PRINTWATCH_CONFIG")
	if path == "" {
		path = "config.ini"
	}
	return LoadFrom(os.LookupEnv, path)
}

// LoadFrom is Load with an explicit environment lookup and INI path.
// A missing INI file is not an error. A malformed one is logged and the
// environment values are kept.
func LoadFrom(lookupEnv func(string) (string, bool), iniPath string) (*Config, error) {
	cfg := Default()
	applyEnv(cfg, lookupEnv)

	if iniPath != "" {
		if _, err := os.Stat(iniPath); err == nil {
			if err := applyINI(cfg, iniPath); err != nil {
				log.Printf("[CONFIG] Failed to parse %s: %v (using environment values)", iniPath, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookupEnv func(string) (string, bool)) {
	get := func(key string) string {
		v, _ := lookupEnv(key)
		return strings.TrimSpace(v)
	}
	str := func(key string, dst *string) {
		if v := get(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := get(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			} else {
				log.Printf("[CONFIG] Ignoring %s=%q: not an integer", key, v)
			}
		}
	}

	str("CAMERA_IP", &cfg.CameraHost)
	num("STREAM_PORT", &cfg.StreamPort)
	str("STREAM_PATH", &cfg.StreamPath)
	if v := get("CAPTURE_BACKENDS"); v != "" {
		cfg.CaptureBackends = splitList(v)
	}
	num("FRAME_TIMEOUT", &cfg.FrameTimeout)
	str("VIDEO_CODEC", &cfg.VideoCodec)
	num("FPS", &cfg.FrameRate)
	if v := get("SHOW_PREVIEW"); v != "" {
		cfg.ShowPreview = strings.EqualFold(v, "true")
	}
	num("MAX_DURATION", &cfg.MaxDurationSeconds)
	str("FFMPEG_PATH", &cfg.FFmpegPath)
	num("MAX_DAYS", &cfg.MaxRetentionDays)
	num("MAX_FILES", &cfg.MaxFilesPerFolder)
	str("STORAGE_ROOT", &cfg.StorageRoot)
	str("BACKUP_FOLDER", &cfg.BackupFolder)
	str("WS_URL", &cfg.StatusURL)
	str("PRINTWATCH_STATE_DIR", &cfg.StateDir)

	// HTTP_ADDR set to an empty value disables the server.
	if v, ok := lookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = strings.TrimSpace(v)
	}
}

func applyINI(cfg *Config, path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return err
	}

	camera := f.Section("Camera")
	cfg.CameraHost = camera.Key("ip").MustString(cfg.CameraHost)
	cfg.StreamPort = camera.Key("port").MustInt(cfg.StreamPort)
	cfg.StreamPath = camera.Key("path").MustString(cfg.StreamPath)
	if v := camera.Key("backends").String(); strings.TrimSpace(v) != "" {
		cfg.CaptureBackends = splitList(v)
	}

	cfg.FrameTimeout = camera.Key("frame_timeout").MustInt(cfg.FrameTimeout)

	video := f.Section("Video")
	cfg.VideoCodec = video.Key("codec").MustString(cfg.VideoCodec)
	cfg.FrameRate = video.Key("fps").MustInt(cfg.FrameRate)
	cfg.ShowPreview = video.Key("show_preview").MustBool(cfg.ShowPreview)
	cfg.MaxDurationSeconds = video.Key("max_duration").MustInt(cfg.MaxDurationSeconds)
	cfg.FFmpegPath = video.Key("ffmpeg").MustString(cfg.FFmpegPath)

	storage := f.Section("Storage")
	cfg.MaxRetentionDays = storage.Key("max_days").MustInt(cfg.MaxRetentionDays)
	cfg.MaxFilesPerFolder = storage.Key("max_files").MustInt(cfg.MaxFilesPerFolder)
	cfg.StorageRoot = storage.Key("root").MustString(cfg.StorageRoot)
	cfg.BackupFolder = storage.Key("backup_folder").MustString(cfg.BackupFolder)

	cfg.StatusURL = f.Section("WebSocket").Key("url").MustString(cfg.StatusURL)

	server := f.Section("Server")
	if server.HasKey("addr") {
		cfg.HTTPAddr = strings.TrimSpace(server.Key("addr").String())
	}
	cfg.StateDir = server.Key("state_dir").MustString(cfg.StateDir)

	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks Config for validity
func (c *Config) Validate() error {
	if strings.TrimSpace(c.CameraHost) == "" {
		return fmt.Errorf("camera ip must not be empty")
	}
	if c.StreamPort < 1 || c.StreamPort > 65535 {
		return fmt.Errorf("stream port must be between 1 and 65535, got %d", c.StreamPort)
	}
	if c.FrameTimeout < 1 {
		return fmt.Errorf("frame timeout must be at least 1 second, got %d", c.FrameTimeout)
	}
	if c.FrameRate < 1 || c.FrameRate > 120 {
		return fmt.Errorf("fps must be between 1 and 120, got %d", c.FrameRate)
	}
	if len(c.VideoCodec) != 4 {
		return fmt.Errorf("video codec must be a 4 character FourCC, got %q", c.VideoCodec)
	}
	if c.MaxRetentionDays < 0 {
		return fmt.Errorf("max_days must be >= 0, got %d", c.MaxRetentionDays)
	}
	if !strings.HasPrefix(c.StatusURL, "ws://") && !strings.HasPrefix(c.StatusURL, "wss://") {
		return fmt.Errorf("websocket url must start with ws:// or wss://, got %q", c.StatusURL)
	}
	if strings.TrimSpace(c.StorageRoot) == "" {
		return fmt.Errorf("storage root must not be empty")
	}
	if len(c.CaptureBackends) == 0 {
		return fmt.Errorf("at least one capture backend must be configured")
	}
	for _, b := range c.CaptureBackends {
		switch b {
		case BackendMJPEG, BackendFFmpeg, BackendGStreamer:
		default:
			return fmt.Errorf("unknown capture backend %q", b)
		}
	}
	return nil
}

// StreamURL builds the camera address from host, port and path. A host that
// already carries a scheme keeps it; otherwise http:// is assumed.
func (c *Config) StreamURL() string {
	base := c.CameraHost
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	base = fmt.Sprintf("%s:%d", strings.TrimRight(base, "/"), c.StreamPort)
	if strings.HasPrefix(c.StreamPath, "/") {
		return base + c.StreamPath
	}
	return base + "/" + c.StreamPath
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tiroq/printwatch/internal/capture"
	"github.com/tiroq/printwatch/internal/config"
	"github.com/tiroq/printwatch/internal/diaglog"
	"github.com/tiroq/printwatch/internal/ipc"
	"github.com/tiroq/printwatch/internal/pidfile"
	"github.com/tiroq/printwatch/internal/preview"
	"github.com/tiroq/printwatch/internal/printerws"
	"github.com/tiroq/printwatch/internal/recorder"
	"github.com/tiroq/printwatch/internal/retention"
	"github.com/tiroq/printwatch/internal/server"
	"github.com/tiroq/printwatch/internal/statemachine"
	"github.com/tiroq/printwatch/internal/supervisor"
)

const (
	appName    = "printwatch-core"
	logPrefix  = "[printwatch-core]"
	maxLogSize = 10 * 1024 * 1024
)

var (
	// Version is set at build time via -ldflags "-X main.Version=..."
	Version = "dev"

	outLog *log.Logger
	errLog *log.Logger
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--export-diag" {
		os.Exit(exportDiag())
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := initLogging(cfg.StateDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	outLog.Println("===========================================")
	outLog.Println("Starting printwatch core v" + Version + "...")
	outLog.Printf("PID: %d", os.Getpid())
	outLog.Println("===========================================")

	pf, err := pidfile.Acquire(pidfile.Path(cfg.StateDir, appName))
	if err != nil {
		errLog.Printf("[STARTUP] %v", err)
		os.Exit(1)
	}
	defer pf.Release()

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		errLog.Printf("[SHUTDOWN] %v", err)
		pf.Release()
		os.Exit(1)
	}
	outLog.Println("[SHUTDOWN] Stopped")
}

func run(cfg *config.Config) error {
	diaglog.Version = Version
	diag, err := diaglog.New(diaglog.DefaultPath(cfg.StateDir))
	if err != nil {
		errLog.Printf("[STARTUP] Diagnostic log unavailable: %v", err)
		diag = diaglog.NewNoOp()
	}
	defer diag.Close()
	if diaglog.IsDebugEnabled() {
		outLog.Printf("[STARTUP] Diagnostic log: %s", diaglog.DefaultPath(cfg.StateDir))
	}

	outLog.Printf("[CONFIG] Camera %s via %v, codec %s @ %d fps, max duration %ds",
		diaglog.RedactURL(cfg.StreamURL()), cfg.CaptureBackends, cfg.VideoCodec, cfg.FrameRate, cfg.MaxDurationSeconds)
	outLog.Printf("[CONFIG] Storage %s (keep %d days, %d files per folder), status %s",
		cfg.StorageRoot, cfg.MaxRetentionDays, cfg.MaxFilesPerFolder, diaglog.RedactURL(cfg.StatusURL))

	if err := os.MkdirAll(cfg.StorageRoot, 0755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}

	frameTimeout := time.Duration(cfg.FrameTimeout) * time.Second
	mjpegBackend := capture.NewMJPEGBackend()
	mjpegBackend.FrameTimeout = frameTimeout
	ffmpegBackend := capture.NewFFmpegBackend(cfg.FFmpegPath)
	ffmpegBackend.FrameTimeout = frameTimeout
	gstBackend := capture.NewGStreamerBackend()
	gstBackend.FrameTimeout = frameTimeout

	registry := capture.NewRegistry()
	registry.Register(mjpegBackend)
	registry.Register(ffmpegBackend)
	registry.Register(gstBackend)
	for _, line := range registry.Describe() {
		outLog.Printf("[STARTUP] Capture backend %s", line)
	}

	intent := printerws.NewIntent()
	listener := printerws.NewListener(cfg.StatusURL, intent)
	listener.SetLogger(diag)

	hub := preview.New(cfg.ShowPreview)
	var pv recorder.Preview
	if cfg.ShowPreview {
		pv = hub
	}

	machine := statemachine.New(diag)
	ctrl, err := recorder.New(intent, recorder.Options{
		Registry:    registry,
		Backends:    cfg.CaptureBackends,
		Address:     cfg.StreamURL(),
		StorageRoot: cfg.StorageRoot,
		Codec:       cfg.VideoCodec,
		FrameRate:   cfg.FrameRate,
		MaxDuration: time.Duration(cfg.MaxDurationSeconds) * time.Second,
		Sinks:       capture.FileSinkFactory{FFmpegPath: cfg.FFmpegPath},
		Retention: retention.New(retention.Policy{
			Root:         cfg.StorageRoot,
			MaxAgeDays:   cfg.MaxRetentionDays,
			MaxFiles:     cfg.MaxFilesPerFolder,
			BackupFolder: cfg.BackupFolder,
		}, diag),
		Preview: pv,
		Machine: machine,
		Diag:    diag,
	})
	if err != nil {
		return err
	}
	hub.OnQuit(func() { ctrl.RequestStop() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collect := func() *ipc.StatusSnapshot {
		in := intent.Snapshot()
		session := machine.Snapshot()
		snap := &ipc.StatusSnapshot{
			Phase:        session.Phase,
			ShouldRecord: in.ShouldRecord,
			JobName:      in.JobName,
			Connected:    listener.IsConnected(),
			Session:      session,
			LastError:    session.LastError,
		}
		if in.HasState {
			snap.PrinterState = in.State.String()
		}
		return snap
	}
	status := ipc.NewStatusWriter(cfg.StateDir, 5*time.Second, collect)
	machine.OnChange(func(statemachine.Snapshot) { status.Notify() })

	sup := supervisor.New(supervisor.DefaultBackoff, diag)
	sup.Add("status-listener", listener.Run)
	sup.Add("recorder", ctrl.Run)
	sup.Add("status-file", status.Run)
	sup.Add("commands", func(ctx context.Context) error {
		return ipc.WatchCommands(ctx, cfg.StateDir, time.Second, func(cmd ipc.Command) {
			switch cmd {
			case ipc.CmdStop:
				ctrl.RequestStop()
			case ipc.CmdQuit:
				outLog.Println("[SHUTDOWN] Quit command received")
				cancel()
			}
		})
	})
	if cfg.HTTPAddr != "" {
		srv := server.New(cfg.HTTPAddr, server.Handlers{
			Status:  func() interface{} { return collect() },
			Healthy: func() error {
				if !listener.IsConnected() {
					return errors.New("status channel disconnected")
				}
				return nil
			},
			Preview: hub,
			Quit: func() bool {
				if machine.Phase() != statemachine.PhaseRecording {
					return false
				}
				return hub.RequestQuit()
			},
		})
		sup.Add("http", srv.Run)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			outLog.Printf("[SHUTDOWN] Received %s", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	outLog.Println("[STARTUP] Running")
	return sup.Run(ctx)
}

func exportDiag() int {
	stateDir := os.Getenv("PRINTWATCH_STATE_DIR")
	if stateDir == "" {
		stateDir = config.Default().StateDir
	}
	diaglog.Version = Version
	path, n, err := diaglog.Export(diaglog.DefaultPath(stateDir), ".")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintln(os.Stderr, "hint: run with PRINTWATCH_DEBUG=true to enable diagnostic logging")
			return 1
		}
		return 2
	}
	fmt.Printf("Wrote: %s (%d lines)\n", path, n)
	return 0
}

// initLogging sends the standard logger and outLog to stdout plus
// <stateDir>/printwatch-core.out.log, errLog to stderr plus the .err.log.
func initLogging(stateDir string) error {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return err
	}
	outPath := filepath.Join(stateDir, appName+".out.log")
	errPath := filepath.Join(stateDir, appName+".err.log")
	for _, p := range []string{outPath, errPath} {
		if err := rotateLogIfNeeded(p, maxLogSize); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to rotate %s: %v\n", p, err)
		}
	}

	outFile, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	errFile, err := os.OpenFile(errPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	out := io.MultiWriter(os.Stdout, outFile)
	outLog = log.New(out, logPrefix+" ", log.LstdFlags)
	errLog = log.New(io.MultiWriter(os.Stderr, errFile, outFile), logPrefix+" ERROR: ", log.LstdFlags)
	log.SetOutput(out)
	log.SetPrefix(logPrefix + " ")
	return nil
}

// rotateLogIfNeeded renames logPath to logPath.old once it reaches maxSize.
func rotateLogIfNeeded(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxSize {
		return nil
	}
	oldPath := logPath + ".old"
	if err := os.Remove(oldPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove old log: %w", err)
	}
	return os.Rename(logPath, oldPath)
}

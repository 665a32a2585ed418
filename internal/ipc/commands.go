package ipc

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// CommandFileName is the command file inside the state directory.
const CommandFileName = "cmd.txt"

// Command is a request written to cmd.txt by a local tool.
type Command string

const (
	CmdStop Command = "stop" // End the current session; the next starts if the printer is still printing
	CmdQuit Command = "quit" // Shut the daemon down
)

// WriteCommand writes cmd to <dir>/cmd.txt.
func WriteCommand(dir string, cmd Command) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, CommandFileName), []byte(string(cmd)), 0644)
}

// ReadCommand reads and clears <dir>/cmd.txt. It returns "" when there is
// no file, the file is empty, or the command is unknown.
func ReadCommand(dir string) (Command, error) {
	path := filepath.Join(dir, CommandFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if len(data) == 0 {
		return "", nil
	}
	// Clear before acting so a command runs once.
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return "", err
	}

	cmd := Command(strings.ToLower(strings.TrimSpace(string(data))))
	switch cmd {
	case CmdStop, CmdQuit:
		return cmd, nil
	case "":
		return "", nil
	default:
		log.Printf("[IPC] Ignoring unknown command %q", cmd)
		return "", nil
	}
}

// WatchCommands calls handle for each command written to <dir>/cmd.txt
// until ctx is cancelled. fsnotify events trigger immediate reads; a poll
// every pollInterval covers filesystems without notifications.
func WatchCommands(ctx context.Context, dir string, pollInterval time.Duration, handle func(Command)) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	path := filepath.Join(dir, CommandFileName)

	var events <-chan fsnotify.Event
	var errs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[IPC] fsnotify not available, polling every %v: %v", pollInterval, err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(dir); err != nil {
			log.Printf("[IPC] Cannot watch %s, polling every %v: %v", dir, pollInterval, err)
		} else {
			events, errs = watcher.Events, watcher.Errors
		}
	}

	check := func() {
		cmd, err := ReadCommand(dir)
		if err != nil {
			log.Printf("[IPC] Read %s: %v", CommandFileName, err)
			return
		}
		if cmd != "" {
			log.Printf("[IPC] Received command: %s", cmd)
			handle(cmd)
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	check()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Name == path && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				check()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[IPC] fsnotify: %v", err)
		case <-ticker.C:
			check()
		}
	}
}

// Package retention prunes recordings in the storage root: whole day-folders
// past the age window, and the oldest files of folders holding too many.
package retention

import (
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tiroq/printwatch/internal/diaglog"
	"github.com/tiroq/printwatch/internal/fileutil"
	"github.com/tiroq/printwatch/internal/metrics"
)

// Policy configures a Manager.
type Policy struct {
	Root         string
	MaxAgeDays   int
	MaxFiles     int // <= 0 means unlimited
	BackupFolder string
}

// Result summarises one sweep.
type Result struct {
	FoldersRemoved int
	FilesRemoved   int
	Errors         int
	Duration       time.Duration
}

// Manager runs retention sweeps. Sweep is safe for concurrent use; calls are
// serialised.
type Manager struct {
	policy  Policy
	diag    *diaglog.Logger
	now     func() time.Time
	readDir func(string) ([]os.DirEntry, error)

	mu sync.Mutex
}

// New returns a Manager for policy. diag may be nil.
func New(policy Policy, diag *diaglog.Logger) *Manager {
	return &Manager{policy: policy, diag: diag, now: time.Now, readDir: os.ReadDir}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Sweep scans the immediate subfolders of the root once. Errors are logged
// and counted; they never stop the sweep of the remaining folders.
func (m *Manager) Sweep() Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := time.Now()
	var res Result
	defer func() {
		res.Duration = time.Since(start)
		metrics.RetentionDuration.Observe(res.Duration.Seconds())
	}()

	entries, err := m.readDir(m.policy.Root)
	if err != nil {
		log.Printf("[RETENTION] Cannot list %s: %v", m.policy.Root, err)
		m.fail(&res, m.policy.Root, err)
		return res
	}

	now := m.now()
	cutoff := now.Add(-time.Duration(m.policy.MaxAgeDays) * 24 * time.Hour)

	for _, e := range entries {
		if !e.IsDir() || e.Name() == m.policy.BackupFolder {
			continue
		}
		folderDate, err := time.ParseInLocation(fileutil.DayLayout, e.Name(), now.Location())
		if err != nil {
			continue
		}
		dir := filepath.Join(m.policy.Root, e.Name())

		// Strictly older than the cutoff; a folder exactly at the edge is
		// only pruned by count.
		if folderDate.Before(cutoff) {
			m.removeFolder(&res, dir)
			continue
		}
		m.pruneFolder(&res, dir)
	}

	if res.FoldersRemoved > 0 || res.FilesRemoved > 0 || res.Errors > 0 {
		log.Printf("[RETENTION] Sweep done: folders=%d files=%d errors=%d",
			res.FoldersRemoved, res.FilesRemoved, res.Errors)
	}
	return res
}

func (m *Manager) removeFolder(res *Result, dir string) {
	log.Printf("[RETENTION] Removing old folder: %s", filepath.Base(dir))
	files, ok := m.recordings(res, dir)
	if !ok {
		return
	}
	for _, f := range files {
		m.removeRecording(res, f)
	}
	orphans, _ := filepath.Glob(filepath.Join(dir, "*"+fileutil.MetadataSuffix))
	for _, f := range orphans {
		if err := os.Remove(f); err != nil {
			m.fail(res, f, err)
		}
	}
	if err := os.Remove(dir); err != nil {
		log.Printf("[RETENTION] Cannot remove folder %s: %v", dir, err)
		m.fail(res, dir, err)
		return
	}
	res.FoldersRemoved++
	metrics.RetentionRemoved.WithLabelValues("folder").Inc()
	m.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentRetention,
		Event:     diaglog.EventRetentionFolder,
		Payload:   map[string]interface{}{"folder": dir},
	})
}

func (m *Manager) pruneFolder(res *Result, dir string) {
	if m.policy.MaxFiles <= 0 {
		return
	}
	files, ok := m.recordings(res, dir)
	if !ok || len(files) <= m.policy.MaxFiles {
		return
	}

	type aged struct {
		path  string
		mtime time.Time
	}
	list := make([]aged, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			m.fail(res, f, err)
			continue
		}
		list = append(list, aged{f, info.ModTime()})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].mtime.Before(list[j].mtime) })

	for _, f := range list[:max(0, len(list)-m.policy.MaxFiles)] {
		log.Printf("[RETENTION] Removing excess file: %s", f.path)
		m.removeRecording(res, f.path)
	}
}

// removeRecording deletes a recording and its sidecar, if any.
func (m *Manager) removeRecording(res *Result, path string) {
	if err := os.Remove(path); err != nil {
		log.Printf("[RETENTION] Cannot remove %s: %v", path, err)
		m.fail(res, path, err)
		return
	}
	res.FilesRemoved++
	metrics.RetentionRemoved.WithLabelValues("file").Inc()
	m.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentRetention,
		Event:     diaglog.EventRetentionFile,
		Payload:   map[string]interface{}{"file": path},
	})

	if err := os.Remove(fileutil.MetadataPath(path)); err != nil && !os.IsNotExist(err) {
		m.fail(res, path, err)
	}
}

func (m *Manager) fail(res *Result, path string, err error) {
	res.Errors++
	metrics.RetentionErrors.Inc()
	m.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentRetention,
		Event:     diaglog.EventRetentionError,
		Reason:    err.Error(),
		Payload:   map[string]interface{}{"path": path},
	})
}

// recordings lists the recording files directly inside dir. A folder that
// cannot be listed is logged, counted and reported as not ok.
func (m *Manager) recordings(res *Result, dir string) ([]string, bool) {
	entries, err := m.readDir(dir)
	if err != nil {
		log.Printf("[RETENTION] Cannot list %s: %v", dir, err)
		m.fail(res, dir, err)
		return nil, false
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), fileutil.RecordingExt) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, true
}

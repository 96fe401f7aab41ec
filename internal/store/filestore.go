// Package store is the zero-dependency persistence fallback: JSON files on
// local disk, used when no database is configured. It exposes the same method
// set as the database repository so the engine wires either one.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/internal/alerts"
	"signal-engine/internal/decision"
	"signal-engine/internal/detection"
	"signal-engine/internal/logging"
)

const (
	signalsFile    = "signals.json"
	detectionsFile = "detections.json"
	alertsFile     = "alert-history.json"

	// maxSignals caps the signal history; older entries are archived.
	maxSignals = 5000
)

// FileStore persists engine state as JSON files under a data directory.
// Writes go through a temp file and rename so a crash never leaves a
// half-written file behind.
type FileStore struct {
	dir string
	log zerolog.Logger

	mu         sync.Mutex
	signals    []decision.Decision
	detections map[string]detection.Detection
	alerts     []alerts.Alert
}

// NewFileStore loads existing state from dir, creating it when absent.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dir, err)
	}
	fs := &FileStore{
		dir:        dir,
		log:        logging.Component("filestore"),
		detections: make(map[string]detection.Detection),
	}

	if err := fs.loadJSON(signalsFile, &fs.signals); err != nil {
		return nil, err
	}
	var dets []detection.Detection
	if err := fs.loadJSON(detectionsFile, &dets); err != nil {
		return nil, err
	}
	for _, d := range dets {
		fs.detections[d.ID] = d
	}
	if err := fs.loadJSON(alertsFile, &fs.alerts); err != nil {
		return nil, err
	}

	fs.log.Info().
		Str("dir", dir).
		Int("signals", len(fs.signals)).
		Int("detections", len(fs.detections)).
		Msg("file store loaded")
	return fs, nil
}

func (fs *FileStore) loadJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(fs.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}
	return nil
}

// writeJSON writes via temp file and rename. Caller holds fs.mu.
func (fs *FileStore) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	path := filepath.Join(fs.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// SaveSignal appends a decision to the signal history, archiving the oldest
// half when the cap is reached.
func (fs *FileStore) SaveSignal(_ context.Context, d *decision.Decision) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.signals = append(fs.signals, *d)
	if len(fs.signals) > maxSignals {
		if err := fs.archiveLocked(); err != nil {
			fs.log.Warn().Err(err).Msg("signal archive failed, trimming in place")
			fs.signals = fs.signals[len(fs.signals)-maxSignals:]
		}
	}
	return fs.writeJSON(signalsFile, fs.signals)
}

// archiveLocked moves the oldest half of the signal history to a timestamped
// archive file. Caller holds fs.mu.
func (fs *FileStore) archiveLocked() error {
	half := len(fs.signals) / 2
	archived := fs.signals[:half]

	archiveDir := filepath.Join(fs.dir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}
	name := fmt.Sprintf("signals-archive-%s.json", time.Now().UTC().Format("2006-01-02T15-04-05"))
	data, err := json.MarshalIndent(archived, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding archive: %w", err)
	}
	if err := os.WriteFile(filepath.Join(archiveDir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}

	fs.signals = append([]decision.Decision(nil), fs.signals[half:]...)
	fs.log.Info().Int("archived", half).Str("file", name).Msg("signal history archived")
	return nil
}

// RecentSignals returns the latest stored decisions, newest first.
func (fs *FileStore) RecentSignals(_ context.Context, limit int) ([]decision.Decision, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	n := len(fs.signals)
	if limit > n {
		limit = n
	}
	out := make([]decision.Decision, limit)
	for i := 0; i < limit; i++ {
		out[i] = fs.signals[n-1-i]
	}
	return out, nil
}

// SaveDetection upserts a detection by ID.
func (fs *FileStore) SaveDetection(_ context.Context, d *detection.Detection) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.detections[d.ID] = *d
	all := make([]detection.Detection, 0, len(fs.detections))
	for _, v := range fs.detections {
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].LastDetectedAt.Before(all[j].LastDetectedAt) })
	return fs.writeJSON(detectionsFile, all)
}

// LoadActiveDetections returns non-terminal detections for store seeding.
func (fs *FileStore) LoadActiveDetections(_ context.Context) ([]detection.Detection, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var out []detection.Detection
	for _, d := range fs.detections {
		if !d.Status.Terminal() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastDetectedAt.Before(out[j].LastDetectedAt) })
	return out, nil
}

// SaveAlert appends one sent alert to the history file.
func (fs *FileStore) SaveAlert(_ context.Context, a alerts.Alert) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.alerts = append(fs.alerts, a)
	if len(fs.alerts) > maxSignals {
		fs.alerts = fs.alerts[len(fs.alerts)-maxSignals:]
	}
	return fs.writeJSON(alertsFile, fs.alerts)
}

// RecentAlerts returns the latest sent alerts, newest first.
func (fs *FileStore) RecentAlerts(_ context.Context, limit int) ([]alerts.Alert, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	n := len(fs.alerts)
	if limit > n {
		limit = n
	}
	out := make([]alerts.Alert, limit)
	for i := 0; i < limit; i++ {
		out[i] = fs.alerts[n-1-i]
	}
	return out, nil
}

// PruneSignals drops signal history older than the retention window.
func (fs *FileStore) PruneSignals(_ context.Context, retention time.Duration) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cutoff := time.Now().Add(-retention)
	kept := fs.signals[:0]
	var dropped int64
	for _, s := range fs.signals {
		if s.Timestamp.After(cutoff) {
			kept = append(kept, s)
		} else {
			dropped++
		}
	}
	fs.signals = kept
	if dropped > 0 {
		if err := fs.writeJSON(signalsFile, fs.signals); err != nil {
			return dropped, err
		}
	}
	return dropped, nil
}

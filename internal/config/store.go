package config

import (
	"os"
	"sync"
	"time"
)

// Store owns the live Config and polls the backing file's mtime so
// operator edits take effect without a restart, mirroring the teacher's
// ticker-driven main loop (cmd/bot/main.go's time.NewTicker check) rather
// than adding a filesystem-watcher dependency.
type Store struct {
	path string

	mu      sync.RWMutex
	cfg     Config
	modTime time.Time

	onReload func(Config, error)

	forceDryRun bool
}

// NewStore loads path (writing the default if absent) and returns a Store
// ready to be polled via Poll, driven by the dispatcher's own ticker.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		// Load already fell back to Default(); keep serving it.
		s := &Store{path: path, cfg: cfg}
		return s, err
	}
	mt := statModTime(path)
	return &Store{path: path, cfg: cfg, modTime: mt}, nil
}

// OnReload registers a callback invoked every time Poll picks up a
// changed file, successfully or not (err is non-nil on a parse failure,
// in which case the store keeps serving its last-good config).
func (s *Store) OnReload(fn func(Config, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = fn
}

// ForceDryRun pins the live config's DryRun to true regardless of what
// the backing file says, surviving future Poll reloads. Used by riskd's
// "dry-run" CLI subcommand (spec §4.9) to guarantee no enforcement call
// reaches the broker even if the operator's config document disagrees.
func (s *Store) ForceDryRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceDryRun = true
	s.cfg.DryRun = true
}

// Current returns a snapshot copy of the live config so a caller's view
// is consistent for the duration of one operation even if a reload races
// it (spec §4.1: "the dispatcher reads a config version consistent for
// one event's processing").
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Poll checks the backing file's mtime and reloads if it changed. It is
// safe to call from a ticker in the dispatcher's own loop — no
// background goroutine is started here (no parallelism introduced into
// the dispatcher, per spec §9).
func (s *Store) Poll() {
	mt := statModTime(s.path)
	s.mu.RLock()
	unchanged := mt.Equal(s.modTime)
	s.mu.RUnlock()
	if unchanged {
		return
	}

	cfg, err := Load(s.path)

	s.mu.Lock()
	if err == nil {
		if s.forceDryRun {
			cfg.DryRun = true
		}
		s.cfg = cfg
	}
	s.modTime = mt
	cb := s.onReload
	s.mu.Unlock()

	if cb != nil {
		cb(cfg, err)
	}
}

func statModTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

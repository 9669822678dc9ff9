// Package session implements the persisted, session-scoped P&L counter
// and its source-of-truth restoration algorithm (spec §3, §4.3).
package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/eddiefleurent/riskd/internal/atomicfile"
	"github.com/eddiefleurent/riskd/internal/broker"
	"github.com/eddiefleurent/riskd/internal/riskmodel"
)

// chicago is the fixed location every session-boundary computation uses.
// Loaded once via time.LoadLocation so DST transitions are honored
// (spec §9), backed by the embedded tzdata the teacher's cmd/bot/main.go
// already imports for its own NY timezone cache.
var chicago = mustLoadChicago()

func mustLoadChicago() *time.Location {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		// Embedded tzdata (blank-imported in cmd/riskd) makes this
		// unreachable in practice; a fixed -6 offset keeps the daemon
		// running rather than panicking on a broken installation.
		return time.FixedZone("CST", -6*60*60)
	}
	return loc
}

// Chicago returns the America/Chicago location used for all session
// boundary arithmetic.
func Chicago() *time.Location { return chicago }

// Store owns the persisted SessionState and implements the three-step
// restoration algorithm from spec §4.3. Every method holds an internal
// mutex, so other goroutines (the status server) may read State while
// the dispatcher, the sole writer, mutates it (spec §5).
type Store struct {
	path  string
	mu    sync.Mutex
	state riskmodel.SessionState
}

// NewStore constructs an empty, unrestored Store. Call Restore before
// using State/Checkpoint in anger.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// State returns a copy of the current session state.
func (s *Store) State() riskmodel.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetDailyRealizedPnL overwrites the accumulator, used by the reset path
// and by the P&L engine after each attribution.
func (s *Store) SetDailyRealizedPnL(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.DailyRealizedPnL = v
}

// AddDailyRealizedPnL adds delta to the accumulator and returns the new
// total.
func (s *Store) AddDailyRealizedPnL(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.DailyRealizedPnL += delta
	return s.state.DailyRealizedPnL
}

// SetTradingLocked sets the lock flag.
func (s *Store) SetTradingLocked(locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.TradingLocked = locked
}

// SetLastResetDate records the calendar date (America/Chicago) of the
// most recent 17:00 CT rollover.
func (s *Store) SetLastResetDate(d time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := d.In(chicago)
	s.state.LastResetDate = &day
}

// Checkpoint persists the current state atomically, bumping
// CheckpointTS. CheckpointTS is strictly increasing within a session
// (spec §8 property 4): if the wall clock has not advanced past the
// previous value, the new value is the previous one plus one nanosecond.
func (s *Store) Checkpoint() error {
	s.mu.Lock()
	now := time.Now().UTC()
	if !now.After(s.state.CheckpointTS) {
		now = s.state.CheckpointTS.Add(time.Nanosecond)
	}
	s.state.CheckpointTS = now
	snapshot := s.state
	s.mu.Unlock()

	return atomicfile.WriteJSON(s.path, snapshot)
}

// loadCheckpoint reads the persisted state from disk, if present.
func (s *Store) loadCheckpoint() (riskmodel.SessionState, bool, error) {
	var st riskmodel.SessionState
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return st, false, nil
	}
	if err := atomicfile.ReadJSON(s.path, &st); err != nil {
		return st, false, err
	}
	return st, true, nil
}

// Restore implements the §4.3 three-step source-of-truth restoration
// algorithm:
//  1. If a checkpoint exists and its LastResetDate equals the current
//     session's America/Chicago calendar date — computed relative to the
//     17:00 CT boundary, so a restart before today's boundary still
//     belongs to yesterday's session — load it verbatim.
//  2. Otherwise, query the broker's portfolio P&L for day_pnl, falling
//     back to realized_pnl when day_pnl is zero.
//  3. Cross-check that value against a performance-metrics query over
//     the last 24h; on a >$0.01 disagreement, keep the primary and warn.
//
// now is injected for testability; callers pass time.Now().
func (s *Store) Restore(ctx context.Context, brk broker.Broker, now time.Time) (warnings []string, err error) {
	todayDate := sessionDate(now)

	checkpoint, exists, loadErr := s.loadCheckpoint()
	if loadErr != nil {
		warnings = append(warnings, fmt.Sprintf("checkpoint read failed: %v — falling through to broker query", loadErr))
	} else if exists && checkpoint.LastResetDate != nil && truncateToDate(*checkpoint.LastResetDate).Equal(todayDate) {
		s.mu.Lock()
		s.state = checkpoint
		s.mu.Unlock()
		return warnings, nil
	}

	// Step 2: query the broker's portfolio P&L, even though a checkpoint
	// may be present — a stale checkpoint must never be trusted (spec
	// §4.3: "an implementer must not skip step 2 ... if the checkpoint
	// is stale").
	var dailyPnL float64
	portfolio, pErr := brk.GetPortfolioPnL(ctx)
	if pErr != nil {
		warnings = append(warnings, fmt.Sprintf("portfolio P&L query failed: %v — defaulting to 0.00", pErr))
	} else {
		dailyPnL = portfolio.DayPnL
		if dailyPnL == 0 {
			dailyPnL = portfolio.RealizedPnL
		}
	}

	// Step 3: secondary confirmation via performance metrics.
	if pErr == nil {
		perf, perfErr := brk.GetPerformanceMetrics(ctx, now.Add(-24*time.Hour), now)
		if perfErr != nil {
			warnings = append(warnings, fmt.Sprintf("performance metrics confirmation failed: %v", perfErr))
		} else if diff := perf.DailyPnL - dailyPnL; diff > 0.01 || diff < -0.01 {
			warnings = append(warnings, fmt.Sprintf(
				"P&L mismatch: portfolio %.2f vs performance metrics %.2f — using portfolio", dailyPnL, perf.DailyPnL))
		}
	}

	s.mu.Lock()
	s.state = riskmodel.SessionState{
		DailyRealizedPnL: dailyPnL,
		LastResetDate:    &todayDate,
		TradingLocked:    false,
	}
	s.mu.Unlock()

	return warnings, nil
}

func truncateToDate(t time.Time) time.Time {
	t = t.In(chicago)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, chicago)
}

// sessionDate returns the calendar date (America/Chicago) of the 17:00 CT
// boundary that opened the session now falls in. If now is before today's
// 17:00, that boundary hasn't occurred yet today, so the current session
// still belongs to yesterday's date — matching the date checkReset
// (internal/pnl/pnl.go) stamps onto LastResetDate when it crosses that
// same boundary.
func sessionDate(now time.Time) time.Time {
	ct := now.In(chicago)
	if ct.Before(Boundary(ct)) {
		ct = ct.AddDate(0, 0, -1)
	}
	return truncateToDate(ct)
}

// Boundary returns 17:00 America/Chicago on the calendar date of t (in
// America/Chicago).
func Boundary(t time.Time) time.Time {
	ct := t.In(chicago)
	return time.Date(ct.Year(), ct.Month(), ct.Day(), 17, 0, 0, 0, chicago)
}

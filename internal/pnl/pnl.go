// Package pnl implements the daily realized-P&L accumulator, its 17:00
// America/Chicago reset boundary, and the multi-source attribution
// fallback chain (spec §4.5).
package pnl

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/riskd/internal/retryquery"
	"github.com/eddiefleurent/riskd/internal/riskmodel"
	"github.com/eddiefleurent/riskd/internal/session"
	"github.com/eddiefleurent/riskd/internal/tracker"
)

// AuditSink receives one plain-English record per meaningful P&L event,
// kept as a narrow interface so this package never imports internal/audit
// directly (spec §4.2: audit messages are composed here, written there).
type AuditSink interface {
	Record(level, message string)
}

// Engine maintains daily_realized_pnl and the session-reset boundary.
// Owned exclusively by the dispatcher's single-consumer loop.
type Engine struct {
	sess   *session.Store
	track  *tracker.Tracker
	reader *retryquery.Client
	audit  AuditSink
}

// New constructs a P&L engine over the given session store, position
// tracker, and read-only broker query client.
func New(sess *session.Store, track *tracker.Tracker, reader *retryquery.Client, audit AuditSink) *Engine {
	return &Engine{sess: sess, track: track, reader: reader, audit: audit}
}

// Result is the outcome of processing one event through the engine.
type Result struct {
	Delta         float64 // change to daily_realized_pnl, 0 if this event didn't attribute P&L
	DailyRealized float64 // the accumulator's value after this event
}

// OnEvent evaluates the reset boundary and, for P&L-bearing event kinds,
// attributes realized P&L to the daily accumulator (spec §4.5). Every
// mutation is checkpointed before returning.
func (e *Engine) OnEvent(ctx context.Context, ev riskmodel.Event) (Result, error) {
	if err := e.checkReset(ev.Timestamp); err != nil {
		return Result{DailyRealized: e.sess.State().DailyRealizedPnL}, err
	}

	var delta float64
	var attributed bool

	switch p := ev.Payload.(type) {
	case riskmodel.PositionClosedPayload:
		delta = e.attributeClose(ctx, p.ContractID, p.PnL, p.ExitPrice)
		attributed = true
	case riskmodel.PositionPnlUpdatePayload:
		delta = p.RealizedPnL
		attributed = true
	case riskmodel.PositionUpdatedPayload:
		if p.Size == 0 {
			delta = e.attributeClose(ctx, p.ContractID, 0, p.AveragePrice)
			attributed = true
		}
	}

	if !attributed {
		return Result{DailyRealized: e.sess.State().DailyRealizedPnL}, nil
	}

	total := e.sess.AddDailyRealizedPnL(delta)
	if err := e.sess.Checkpoint(); err != nil {
		return Result{Delta: delta, DailyRealized: total}, fmt.Errorf("checkpointing after P&L mutation: %w", err)
	}
	return Result{Delta: delta, DailyRealized: total}, nil
}

// attributeClose implements the §4.5 priority-1 fallback chain, shared by
// PositionClosed and the PositionUpdated(size==0) "silent close" path:
//  1. explicitPnL if non-zero.
//  2. the broker's own position object's unrealized_pnl (final realized
//     figure on an already-closed position).
//  3. reconstruction from the removed TrackedLot at closePrice, falling
//     back to the last traded price if closePrice is unknown.
func (e *Engine) attributeClose(ctx context.Context, contract riskmodel.ContractID, explicitPnL, closePrice float64) float64 {
	if explicitPnL != 0 {
		e.track.CloseSilently(contract) // keep the tracker consistent even though we trust the broker's figure
		return explicitPnL
	}

	if pos, err := e.reader.GetPosition(ctx, contract); err == nil && pos != nil {
		e.track.CloseSilently(contract)
		return pos.UnrealizedPnL
	}

	price := closePrice
	if price == 0 {
		if p, err := e.reader.GetCurrentPrice(ctx, contract); err == nil {
			price = p
		}
	}

	if price != 0 {
		if pnl, ok := e.track.CloseAt(contract, price); ok {
			return pnl
		}
	}

	e.track.CloseSilently(contract)
	e.audit.Record("WARN", fmt.Sprintf(
		"Unable to attribute realized P&L for %s: no broker figure, and no tracked lot or no close price", contract.Symbol()))
	return 0
}

// checkReset applies the 17:00 America/Chicago daily rollover (spec
// §4.5): if eventTime has crossed today's boundary and the session
// hasn't already rolled for this calendar date, zero the accumulator,
// clear the lock, clear the tracker, and checkpoint.
func (e *Engine) checkReset(eventTime time.Time) error {
	boundary := session.Boundary(eventTime)
	eventCT := eventTime.In(session.Chicago())
	if eventCT.Before(boundary) {
		return nil
	}

	state := e.sess.State()
	eventDate := time.Date(eventCT.Year(), eventCT.Month(), eventCT.Day(), 0, 0, 0, 0, session.Chicago())
	if state.LastResetDate != nil {
		last := state.LastResetDate.In(session.Chicago())
		lastDate := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, session.Chicago())
		if lastDate.Equal(eventDate) {
			return nil
		}
	}

	e.sess.SetDailyRealizedPnL(0)
	e.sess.SetTradingLocked(false)
	e.sess.SetLastResetDate(eventCT)
	e.track.Reset()
	if err := e.sess.Checkpoint(); err != nil {
		return fmt.Errorf("checkpointing daily reset: %w", err)
	}
	e.audit.Record("INFO", "Daily session reset")
	return nil
}

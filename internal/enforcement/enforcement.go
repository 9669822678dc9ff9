// Package enforcement implements the two enforcement actions a breaching
// rule may request: flatten a single contract, or trip the account-wide
// kill switch (spec §4.8).
package enforcement

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/riskd/internal/broker"
	"github.com/eddiefleurent/riskd/internal/riskmodel"
	"github.com/eddiefleurent/riskd/internal/session"
)

// AuditSink is the narrow audit dependency this package needs, matching
// pnl.AuditSink so both can share one internal/audit.Log without either
// package importing the other.
type AuditSink interface {
	Record(level, message string)
}

// TechnicalLogger receives the per-attempt latency measurement spec §4.8
// calls for, independent of the plain-English audit trail.
type TechnicalLogger interface {
	Printf(format string, args ...any)
}

// Engine executes enforcement actions against a Broker. It never retries
// on failure — spec §7 requires operator intervention, not automatic
// retry, for BreachEnforcementError.
type Engine struct {
	brk       broker.Broker
	accountID int64
	sess      *session.Store
	audit     AuditSink
	tech      TechnicalLogger
}

// New constructs an enforcement Engine.
func New(brk broker.Broker, accountID int64, sess *session.Store, audit AuditSink, tech TechnicalLogger) *Engine {
	return &Engine{brk: brk, accountID: accountID, sess: sess, audit: audit, tech: tech}
}

// Flatten closes one contract's position. Success and failure are both
// logged with the measured wall-clock latency of the close call (spec
// §4.8: "measured wall-clock latency").
func (e *Engine) Flatten(ctx context.Context, contract riskmodel.ContractID, dryRun bool) error {
	if dryRun {
		e.audit.Record("WARN", fmt.Sprintf("Would flatten %s (dry-run: no order sent)", contract.Symbol()))
		return nil
	}

	start := time.Now()
	result, err := e.brk.ClosePositionDirect(ctx, contract, e.accountID)
	latency := time.Since(start)
	e.tech.Printf("flatten(%s) latency=%s", contract, latency)

	if err != nil {
		e.audit.Record("ERROR", fmt.Sprintf("Flatten failed for %s: %v", contract.Symbol(), err))
		return fmt.Errorf("flattening %s: %w", contract, err)
	}
	if result != nil && !result.Success {
		e.audit.Record("ERROR", fmt.Sprintf("Flatten failed for %s: %s", contract.Symbol(), result.ErrorMessage))
		return fmt.Errorf("flattening %s: %s", contract, result.ErrorMessage)
	}

	e.audit.Record("INFO", fmt.Sprintf("Flattened %s in %s", contract.Symbol(), latency))
	return nil
}

// KillSwitch enumerates every non-zero position on the account, closes
// each one, locks trading, and checkpoints. One summary audit record is
// emitted containing the count closed out of the total attempted (spec
// §4.8).
func (e *Engine) KillSwitch(ctx context.Context, dryRun bool) error {
	positions, err := e.brk.GetAllPositions(ctx, e.accountID)
	if err != nil {
		e.audit.Record("ERROR", fmt.Sprintf("Kill switch: failed to enumerate positions: %v", err))
		return fmt.Errorf("enumerating positions for kill switch: %w", err)
	}

	total := 0
	closed := 0
	for _, pos := range positions {
		if pos.Size == 0 {
			continue
		}
		total++
		if dryRun {
			continue
		}
		start := time.Now()
		result, cerr := e.brk.ClosePositionDirect(ctx, pos.ContractID, e.accountID)
		e.tech.Printf("kill_switch close(%s) latency=%s", pos.ContractID, time.Since(start))
		if cerr != nil || (result != nil && !result.Success) {
			e.audit.Record("ERROR", fmt.Sprintf("Kill switch: failed to close %s", pos.ContractID.Symbol()))
			continue
		}
		closed++
	}

	e.sess.SetTradingLocked(true)
	if err := e.sess.Checkpoint(); err != nil {
		e.audit.Record("WARN", fmt.Sprintf("Kill switch: checkpoint failed: %v", err))
	}

	if dryRun {
		e.audit.Record("WARN", fmt.Sprintf("Kill switch (dry-run): would close %d of %d positions", total, total))
		return nil
	}
	e.audit.Record("ERROR", fmt.Sprintf("Kill switch engaged: closed %d of %d positions", closed, total))
	return nil
}

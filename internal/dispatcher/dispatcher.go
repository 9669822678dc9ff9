// Package dispatcher implements the single-consumer event loop that ties
// every other component together (spec §4.7). There are no package-level
// globals; every piece of mutable state lives on Daemon, owned
// exclusively by the goroutine running Run.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/eddiefleurent/riskd/internal/audit"
	"github.com/eddiefleurent/riskd/internal/broker"
	"github.com/eddiefleurent/riskd/internal/config"
	"github.com/eddiefleurent/riskd/internal/enforcement"
	"github.com/eddiefleurent/riskd/internal/pnl"
	"github.com/eddiefleurent/riskd/internal/riskmodel"
	"github.com/eddiefleurent/riskd/internal/rules"
	"github.com/eddiefleurent/riskd/internal/session"
	"github.com/eddiefleurent/riskd/internal/tracker"
)

// queueCapacity bounds the FIFO. A risk daemon is not a high-throughput
// system (spec §1: "correctness ... dominate over raw event rate"), so a
// generous but finite buffer is enough to absorb bursts without unbounded
// memory growth.
const queueCapacity = 256

// closeConfirmationDelay is the "~1s" of spec §4.7 step 7.
const closeConfirmationDelay = time.Second

// configPollInterval drives C1's hot-reload from inside the dispatcher's
// own loop (spec §9: no parallelism beyond the single consumer), the same
// ticker-driven polling shape as the teacher's cmd/bot/main.go main loop.
const configPollInterval = 5 * time.Second

// Daemon is the event dispatcher. Construct with New and drive with Run.
type Daemon struct {
	cfg   *config.Store
	track *tracker.Tracker
	pnl   *pnl.Engine
	rules *rules.Registry
	enf   *enforcement.Engine
	brk   broker.Broker
	audit *audit.Log
	sess  *session.Store

	queue        chan riskmodel.Event
	pollInterval time.Duration
}

// New constructs a Daemon wired to its dependencies. All of them are
// required; the caller (cmd/riskd) is responsible for assembling them.
func New(
	cfg *config.Store,
	track *tracker.Tracker,
	pnlEngine *pnl.Engine,
	registry *rules.Registry,
	enf *enforcement.Engine,
	brk broker.Broker,
	auditLog *audit.Log,
	sess *session.Store,
) *Daemon {
	return &Daemon{
		cfg:          cfg,
		track:        track,
		pnl:          pnlEngine,
		rules:        registry,
		enf:          enf,
		brk:          brk,
		audit:        auditLog,
		sess:         sess,
		queue:        make(chan riskmodel.Event, queueCapacity),
		pollInterval: configPollInterval,
	}
}

// Enqueue hands a broker-delivered event to the dispatcher. It is safe to
// call from the transport's own goroutine (spec §5: "broker subscription
// delivery runs on a transport-owned task"). QuoteUpdate events may be
// coalesced or dropped under load without altering semantics (spec §5);
// every other event kind back-pressures the caller by blocking.
func (d *Daemon) Enqueue(ev riskmodel.Event) {
	if ev.Kind == riskmodel.QuoteUpdate {
		select {
		case d.queue <- ev:
		default:
			// Queue is full: drop the incoming tick. Already-queued
			// events are left in place; the non-blocking drop keeps the
			// transport responsive.
		}
		return
	}
	d.queue <- ev
}

// Run drains the queue until ctx is canceled. On cancellation it
// checkpoints session state and returns, completing the currently
// in-flight event first (spec §5: "a forced interrupt still writes a
// checkpoint ... on every exit path").
func (d *Daemon) Run(ctx context.Context) error {
	defer func() {
		if err := d.sess.Checkpoint(); err != nil {
			d.audit.Record("WARN", fmt.Sprintf("Shutdown checkpoint failed: %v", err))
		}
	}()

	pollTicker := time.NewTicker(d.pollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pollTicker.C:
			d.cfg.Poll()
		case ev := <-d.queue:
			if err := d.process(ctx, ev); err != nil {
				d.audit.Record("ERROR", fmt.Sprintf("Event processing error: %v", err))
			}
		}
	}
}

// process implements spec §4.7's seven-step pipeline for one event.
func (d *Daemon) process(ctx context.Context, ev riskmodel.Event) error {
	d.audit.Tech.Printf("event kind=%s contract=%s", ev.Kind, ev.ContractIDOf())
	if ev.Kind == riskmodel.QuoteUpdate {
		return nil
	}

	d.applyTrackerUpdate(ev)

	pnlResult, err := d.pnl.OnEvent(ctx, ev)
	if err != nil {
		d.audit.Record(riskmodel.ErrPersistence.AuditSeverity(), fmt.Sprintf("P&L checkpoint error: %v", err))
	}

	d.recordPlainEnglish(ev)

	cfg := d.cfg.Current()
	descs := cfg.Descriptors()
	var unknown []string
	result, ruleName, err := d.rules.EvaluateAll(ctx, ev, descs, d.brk, cfg.DryRun, pnlResult.DailyRealized,
		func(name string) { unknown = append(unknown, name) })
	if err != nil {
		d.audit.Record(riskmodel.ErrPluginLoad.AuditSeverity(), fmt.Sprintf("Rule evaluation error: %v", err))
	}
	for _, name := range unknown {
		d.audit.Record(riskmodel.ErrPluginLoad.AuditSeverity(), fmt.Sprintf("Unregistered rule %q skipped", name))
	}

	if result.Status == riskmodel.StatusBreach {
		d.audit.Breach(ruleName, result.Reason, cfg.DryRun)
		if !cfg.DryRun {
			if enfErr := d.enforce(ctx, result); enfErr != nil {
				d.audit.Record(riskmodel.ErrBreachEnforcement.AuditSeverity(), fmt.Sprintf("Enforcement error: %v", enfErr))
			}
		}
	}

	if d.sess.State().TradingLocked {
		d.forceFlattenIfOpeningFill(ctx, ev, cfg.DryRun)
	}

	if ev.Kind == riskmodel.OrderFilled {
		if fill, ok := ev.Payload.(riskmodel.OrderFilledPayload); ok && fill.Side == riskmodel.Sell {
			d.scheduleCloseConfirmation(fill.ContractID)
		}
	}

	return nil
}

// applyTrackerUpdate feeds fills to the tracker. A PositionUpdated with
// size==0 (silent close) is left to the P&L engine, which removes the lot
// itself after using it for the §4.5 reconstruction fallback.
func (d *Daemon) applyTrackerUpdate(ev riskmodel.Event) {
	switch p := ev.Payload.(type) {
	case riskmodel.OrderFilledPayload:
		d.track.ApplyFill(p.ContractID, p.Side, p.Size, p.FilledPrice)
	}
}

func (d *Daemon) recordPlainEnglish(ev riskmodel.Event) {
	switch p := ev.Payload.(type) {
	case riskmodel.OrderFilledPayload:
		d.audit.OrderFilled(p.ContractID.Symbol(), p.Side.String(), p.Size, p.FilledPrice)
	case riskmodel.PositionClosedPayload:
		d.audit.Record("INFO", fmt.Sprintf("Position closed for %s.", p.ContractID.Symbol()))
	case riskmodel.PositionPnlUpdatePayload:
		d.audit.Record("INFO", fmt.Sprintf("P&L update for %s: realized %.2f.", p.ContractID.Symbol(), p.RealizedPnL))
	case riskmodel.PositionUpdatedPayload:
		d.audit.Record("INFO", fmt.Sprintf("Position update for %s: size %d.", p.ContractID.Symbol(), p.Size))
	}
}

func (d *Daemon) enforce(ctx context.Context, result riskmodel.BreachResult) error {
	switch result.Action {
	case riskmodel.ActionFlatten:
		return d.enf.Flatten(ctx, result.TargetContract, false)
	case riskmodel.ActionKillSwitch:
		return d.enf.KillSwitch(ctx, false)
	default:
		return nil
	}
}

// forceFlattenIfOpeningFill implements spec §4.7 step 6: once trading is
// locked, any OrderFilled that opened a new position is force-flattened
// immediately regardless of what rule evaluation concluded this round.
func (d *Daemon) forceFlattenIfOpeningFill(ctx context.Context, ev riskmodel.Event, dryRun bool) {
	fill, ok := ev.Payload.(riskmodel.OrderFilledPayload)
	if !ok {
		return
	}
	if size, hasLot := d.track.NetSize(fill.ContractID); !hasLot || size == 0 {
		return
	}
	if err := d.enf.Flatten(ctx, fill.ContractID, dryRun); err != nil {
		d.audit.Record(riskmodel.ErrBreachEnforcement.AuditSeverity(),
			fmt.Sprintf("Forced flatten while locked failed for %s: %v", fill.ContractID.Symbol(), err))
	}
}

// scheduleCloseConfirmation implements the §4.8 close-confirmation poll:
// after a SELL fill, check back in ~1s and synthesize a PositionUpdated
// event if the broker reports the contract flat, recovering from streams
// that silently drop PositionClosed.
func (d *Daemon) scheduleCloseConfirmation(contract riskmodel.ContractID) {
	go func() {
		time.Sleep(closeConfirmationDelay)
		pos, err := d.brk.GetPosition(context.Background(), contract)
		if err != nil || pos == nil || pos.Size != 0 {
			return
		}
		d.Enqueue(riskmodel.Event{
			Kind:      riskmodel.PositionUpdated,
			Timestamp: time.Now(),
			Payload:   riskmodel.PositionUpdatedPayload{ContractID: contract, Size: 0},
		})
	}()
}

// Package main provides the entry point for riskd, the autonomous
// futures-trading risk-management daemon (spec §1).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/riskd/internal/audit"
	"github.com/eddiefleurent/riskd/internal/broker"
	"github.com/eddiefleurent/riskd/internal/config"
	"github.com/eddiefleurent/riskd/internal/dispatcher"
	"github.com/eddiefleurent/riskd/internal/enforcement"
	"github.com/eddiefleurent/riskd/internal/lifecycle"
	"github.com/eddiefleurent/riskd/internal/pnl"
	"github.com/eddiefleurent/riskd/internal/retryquery"
	"github.com/eddiefleurent/riskd/internal/riskmodel"
	"github.com/eddiefleurent/riskd/internal/rules"
	"github.com/eddiefleurent/riskd/internal/session"
	"github.com/eddiefleurent/riskd/internal/statusweb"
	"github.com/eddiefleurent/riskd/internal/tracker"
)

// defaultAccountID is used when PROJECT_X_ACCOUNT_ID is unset, matching
// the account this daemon was originally paired with.
const defaultAccountID = 12089421

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "start":
		return runStart(args[1:], false)
	case "dry-run":
		return runStart(args[1:], true)
	case "validate":
		return runValidate(args[1:])
	case "status":
		return runStatus(args[1:])
	case "stop":
		fmt.Println("riskd has no separate control process; send SIGTERM to the running daemon to stop it.")
		return 0
	case "tail":
		return runTail(args[1:])
	default:
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Println("usage: riskd <start|dry-run|validate|status|tail> [flags]")
}

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := fs.String("config", "config/risk_manager_config.json", "path to the JSON config document")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("config did not parse cleanly, served defaults instead: %v\n", err)
		return 1
	}
	for _, desc := range cfg.Descriptors() {
		fmt.Printf("rule %-16s enabled=%-5v severity=%-6s\n", desc.Name, desc.Enabled, desc.Severity)
	}
	fmt.Println("config is valid")
	return 0
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	port := fs.Int("port", 8765, "status server port")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	fmt.Printf("query http://localhost:%d/api/status against a running daemon\n", *port)
	return 0
}

func runTail(args []string) int {
	fs := flag.NewFlagSet("tail", flag.ContinueOnError)
	auditPath := fs.String("audit-log", "logs/audit.ndjson", "path to the audit NDJSON log")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	f, err := os.Open(*auditPath) // #nosec G304 -- operator-provided path
	if err != nil {
		fmt.Printf("cannot open audit log: %v\n", err)
		return 1
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
	return 0
}

func runStart(args []string, forceDryRun bool) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "config/risk_manager_config.json", "path to the JSON config document")
	sessionPath := fs.String("session-state", "logs/daily_pnl.json", "path to the persisted session-state checkpoint")
	auditPath := fs.String("audit-log", "logs/audit.ndjson", "path to the append-only audit NDJSON log")
	techLogPath := fs.String("tech-log", "logs/live.log", "path to the rotated technical log")
	statusPort := fs.Int("status-port", 8765, "status API port, 0 disables it")
	skipPasscode := fs.Bool("skip-passcode", false, "skip the interactive start passcode gate (for supervised/non-interactive launch)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if !forceDryRun && !*skipPasscode {
		if !confirmLivePasscode() {
			fmt.Println("Passcode mismatch; refusing to start against a live account.")
			return 1
		}
	}

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfgStore, err := config.NewStore(*configPath)
	if err != nil {
		logger.WithError(err).Warn("config did not parse cleanly; serving safe defaults")
	}
	if forceDryRun {
		cfgStore.ForceDryRun()
		logger.Info("dry-run flag forces dry_run=true regardless of the config document")
	}

	accountID := int64(defaultAccountID)
	if v := os.Getenv("PROJECT_X_ACCOUNT_ID"); v != "" {
		if parsed, perr := strconv.ParseInt(v, 10, 64); perr == nil {
			accountID = parsed
		} else {
			logger.WithError(perr).Warn("invalid PROJECT_X_ACCOUNT_ID; using default account id")
		}
	}

	auditLog, err := audit.Open(*auditPath, *techLogPath)
	if err != nil {
		logger.WithError(err).Error("failed to open audit log")
		return 1
	}
	defer auditLog.Close()

	// The real broker SDK is out of scope (spec's non-goal on live
	// brokerage integration); a risk daemon's logic is exercised here
	// against the same in-memory Broker test double the unit suites use,
	// wrapped in the circuit breaker a production wiring would also use.
	mock := broker.NewMockBroker()
	brk := broker.NewCircuitBreakerBroker(mock)

	sess := session.NewStore(*sessionPath)
	registry := riskmodel.NewInstrumentRegistry()
	track := tracker.New(registry)

	logEntry := logger.WithField("component", "retryquery")
	reader := retryquery.New(brk, logEntry)
	pnlEngine := pnl.New(sess, track, reader, auditLog)
	ruleRegistry := rules.NewRegistry()
	enf := enforcement.New(brk, accountID, sess, auditLog, auditLog.Tech)

	lc := lifecycle.New()
	if err := lc.Transition(lifecycle.StateStarting); err != nil {
		logger.WithError(err).Error("failed to enter starting state")
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restoreCtx, restoreCancel := context.WithTimeout(ctx, 30*time.Second)
	warnings, restoreErr := sess.Restore(restoreCtx, brk, time.Now())
	restoreCancel()
	if restoreErr != nil {
		auditLog.Record(riskmodel.ErrPersistence.AuditSeverity(), fmt.Sprintf("Session restore error: %v", restoreErr))
	}
	for _, w := range warnings {
		auditLog.Record("WARN", w)
	}

	d := dispatcher.New(cfgStore, track, pnlEngine, ruleRegistry, enf, brk, auditLog, sess)

	var statusServer *statusweb.Server
	if *statusPort > 0 {
		statusServer = statusweb.New(statusweb.Config{
			Port:      *statusPort,
			AuthToken: os.Getenv("RISKD_STATUS_TOKEN"),
		}, lc, sess, cfgStore, logger)
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.WithError(err).Error("status server error")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		if err := lc.Transition(lifecycle.StateStopping); err != nil {
			logger.WithError(err).Warn("lifecycle transition on shutdown rejected")
		}
		cancel()
	}()

	if err := brk.SubscribeUserUpdates(ctx); err != nil {
		logger.WithError(err).Error("failed to subscribe to broker user updates")
		_ = lc.Transition(lifecycle.StateStopped)
		return 1
	}
	registerHandlers(brk, d)

	if err := lc.Transition(lifecycle.StateRunning); err != nil {
		logger.WithError(err).Error("failed to enter running state")
		return 1
	}
	logger.Info("riskd running")

	runErr := d.Run(ctx)

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = statusServer.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	_ = brk.UnsubscribeUserUpdates(context.Background())
	_ = lc.Transition(lifecycle.StateStopped)

	if runErr != nil {
		logger.WithError(runErr).Error("dispatcher exited with error")
		return 1
	}
	logger.Info("riskd stopped")
	return 0
}

// registerHandlers wires every broker event kind to the dispatcher's
// bounded queue (spec §4.7 step 0: ingestion).
func registerHandlers(brk broker.Broker, d *dispatcher.Daemon) {
	for _, kind := range []riskmodel.EventKind{
		riskmodel.OrderFilled,
		riskmodel.PositionUpdated,
		riskmodel.PositionClosed,
		riskmodel.PositionPnlUpdate,
		riskmodel.QuoteUpdate,
	} {
		brk.On(kind, func(ev riskmodel.Event) { d.Enqueue(ev) })
	}
}

// confirmLivePasscode gates a start against a live (non-dry-run) account
// behind an interactive confirmation, matching the teacher's
// BOT_SKIP_LIVE_WAIT live-trading guard in spirit. The passcode is read
// from RISKD_START_PASSCODE; when that variable is unset, no prompt is
// shown and the start is allowed.
func confirmLivePasscode() bool {
	expected := os.Getenv("RISKD_START_PASSCODE")
	if expected == "" {
		return true
	}
	fmt.Print("Enter start passcode to confirm live trading mode: ")
	reader := bufio.NewReader(os.Stdin)
	entered, _ := reader.ReadString('\n')
	return trimNewline(entered) == expected
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// Package audit implements the two log sinks spec §4.2 requires: an
// append-only NDJSON audit trail of plain-English records, and a rotated
// technical log for raw event dumps and latency measurements. Grounded
// on the teacher's logrus setup (cmd/bot/main.go's dashboard logger) for
// the technical log, with rotation delegated to lumberjack the way a
// production Go daemon commonly wires logrus (no pack example wires
// rotation directly; see DESIGN.md).
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Record is one line of the NDJSON audit trail (spec §4.2).
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Log is the append-only audit sink plus the rotating technical logger.
// Writes are mutex-serialized because the realtime transport's own
// connection-lifecycle messages may write to the technical log from a
// task other than the dispatcher (spec §5: "use an append-only sink that
// serializes writes").
type Log struct {
	mu   sync.Mutex
	file *os.File
	Tech *logrus.Logger
}

// Open creates (or appends to) the NDJSON audit file at auditPath and
// configures a rotating technical logger writing to techPath (10 MiB,
// 5 backups, per spec §6).
func Open(auditPath, techPath string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(auditPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(auditPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- operator-configured path
	if err != nil {
		return nil, fmt.Errorf("opening audit log %q: %w", auditPath, err)
	}

	tech := logrus.New()
	tech.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	tech.SetOutput(&lumberjack.Logger{
		Filename:   techPath,
		MaxSize:    10, // MiB
		MaxBackups: 5,
		Compress:   false,
	})
	tech.SetLevel(logrus.InfoLevel)

	return &Log{file: f, Tech: tech}, nil
}

// Record writes one plain-English audit line (spec §4.2). It implements
// pnl.AuditSink and rules-adjacent callers' narrower needs.
func (l *Log) Record(level, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := Record{Timestamp: time.Now().UTC(), Level: level, Message: message}
	data, err := json.Marshal(rec)
	if err != nil {
		l.Tech.WithError(err).Error("failed to marshal audit record")
		return
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		l.Tech.WithError(err).Error("failed to write audit record")
	}
}

// OrderFilled emits the plain-English record spec §4.2 gives as its
// canonical example.
func (l *Log) OrderFilled(symbol string, side string, size int, price float64) {
	l.Record("INFO", fmt.Sprintf("Order filled for %s: %s %d contracts at %.2f.", symbol, side, size, price))
}

// Breach emits a breach record including the rule name, the numeric
// breach condition, and whether enforcement was suppressed by dry-run
// (spec §4.2).
func (l *Log) Breach(ruleName, reason string, dryRun bool) {
	suffix := ""
	if dryRun {
		suffix = " (enforcement suppressed: dry-run)"
	}
	l.Record("WARN", fmt.Sprintf("Rule %q breached: %s%s", ruleName, reason, suffix))
}

// Close flushes and closes the NDJSON file. The technical logger's
// lumberjack writer closes its own file handles on process exit.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

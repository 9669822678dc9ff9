package enforcement

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/riskd/internal/broker"
	"github.com/eddiefleurent/riskd/internal/riskmodel"
	"github.com/eddiefleurent/riskd/internal/session"
)

const mnq riskmodel.ContractID = "CON.F.US.MNQ.Z25"

type recordingAudit struct{ records []string }

func (r *recordingAudit) Record(level, message string) { r.records = append(r.records, level+": "+message) }

type noopTech struct{}

func (noopTech) Printf(string, ...any) {}

func newEngine(t *testing.T, brk broker.Broker) (*Engine, *session.Store, *recordingAudit) {
	t.Helper()
	sess := session.NewStore(filepath.Join(t.TempDir(), "session_state.json"))
	audit := &recordingAudit{}
	return New(brk, 12089421, sess, audit, noopTech{}), sess, audit
}

func TestFlattenDryRunDoesNotCallBroker(t *testing.T) {
	brk := broker.NewMockBroker()
	engine, _, audit := newEngine(t, brk)

	err := engine.Flatten(context.Background(), mnq, true)
	require.NoError(t, err)
	assert.Empty(t, brk.CloseCalls)
	assert.Contains(t, audit.records[0], "Would flatten")
}

func TestFlattenCallsBrokerAndLogsLatencyOnSuccess(t *testing.T) {
	brk := broker.NewMockBroker()
	engine, _, audit := newEngine(t, brk)

	err := engine.Flatten(context.Background(), mnq, false)
	require.NoError(t, err)
	assert.Equal(t, []riskmodel.ContractID{mnq}, brk.CloseCalls)
	assert.Contains(t, audit.records[len(audit.records)-1], "Flattened")
}

func TestFlattenReportsBrokerFailure(t *testing.T) {
	brk := broker.NewMockBroker()
	brk.CloseErr[mnq] = assert.AnError
	engine, _, audit := newEngine(t, brk)

	err := engine.Flatten(context.Background(), mnq, false)
	assert.Error(t, err)
	assert.Contains(t, audit.records[len(audit.records)-1], "Flatten failed")
}

func TestFlattenDoesNotRetryOnFailure(t *testing.T) {
	brk := broker.NewMockBroker()
	brk.CloseErr[mnq] = assert.AnError
	engine, _, _ := newEngine(t, brk)

	_ = engine.Flatten(context.Background(), mnq, false)
	assert.Len(t, brk.CloseCalls, 1, "enforcement must not retry automatically per spec")
}

func TestKillSwitchClosesAllNonZeroPositionsAndLocks(t *testing.T) {
	brk := broker.NewMockBroker()
	brk.AllPositions = []broker.AccountPosition{
		{ContractID: mnq, Size: 2},
		{ContractID: "CON.F.US.MES.Z25", Size: 0},
		{ContractID: "CON.F.US.MGC.Z25", Size: -1},
	}
	engine, sess, audit := newEngine(t, brk)

	err := engine.KillSwitch(context.Background(), false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []riskmodel.ContractID{mnq, "CON.F.US.MGC.Z25"}, brk.CloseCalls)
	assert.True(t, sess.State().TradingLocked)
	assert.Contains(t, audit.records[len(audit.records)-1], "closed 2 of 2")
}

func TestKillSwitchDryRunDoesNotCloseButStillLocks(t *testing.T) {
	brk := broker.NewMockBroker()
	brk.AllPositions = []broker.AccountPosition{{ContractID: mnq, Size: 2}}
	engine, sess, audit := newEngine(t, brk)

	err := engine.KillSwitch(context.Background(), true)
	require.NoError(t, err)
	assert.Empty(t, brk.CloseCalls)
	assert.True(t, sess.State().TradingLocked)
	assert.Contains(t, audit.records[len(audit.records)-1], "dry-run")
}

func TestKillSwitchReportsPartialFailures(t *testing.T) {
	brk := broker.NewMockBroker()
	brk.AllPositions = []broker.AccountPosition{
		{ContractID: mnq, Size: 2},
		{ContractID: "CON.F.US.MGC.Z25", Size: 1},
	}
	brk.CloseErr[mnq] = assert.AnError
	engine, _, audit := newEngine(t, brk)

	err := engine.KillSwitch(context.Background(), false)
	require.NoError(t, err)
	assert.Contains(t, audit.records[len(audit.records)-1], "closed 1 of 2")
}

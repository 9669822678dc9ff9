package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/riskd/internal/riskmodel"
)

const mnq riskmodel.ContractID = "CON.F.US.MNQ.Z25"

func newTracker() *Tracker {
	return New(riskmodel.NewInstrumentRegistry())
}

func TestApplyFillOpensNewLot(t *testing.T) {
	tr := newTracker()
	closed := tr.ApplyFill(mnq, riskmodel.Buy, 2, 21000.0)
	assert.Equal(t, ClosedLot{}, closed)

	lot, ok := tr.Lot(mnq)
	require.True(t, ok)
	assert.Equal(t, 2, lot.Size)
	assert.Equal(t, riskmodel.Long, lot.Side)
	assert.Equal(t, 21000.0, lot.AvgEntryPrice)
}

func TestApplyFillSameSideWeightedAverage(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill(mnq, riskmodel.Buy, 2, 21000.0)
	tr.ApplyFill(mnq, riskmodel.Buy, 2, 21010.0)

	lot, ok := tr.Lot(mnq)
	require.True(t, ok)
	assert.Equal(t, 4, lot.Size)
	assert.InDelta(t, 21005.0, lot.AvgEntryPrice, 0.001)
}

func TestWeightedAverageInvariantUnderReordering(t *testing.T) {
	a := newTracker()
	a.ApplyFill(mnq, riskmodel.Buy, 1, 21000.0)
	a.ApplyFill(mnq, riskmodel.Buy, 3, 21020.0)

	b := newTracker()
	b.ApplyFill(mnq, riskmodel.Buy, 3, 21020.0)
	b.ApplyFill(mnq, riskmodel.Buy, 1, 21000.0)

	lotA, _ := a.Lot(mnq)
	lotB, _ := b.Lot(mnq)
	assert.InDelta(t, lotA.AvgEntryPrice, lotB.AvgEntryPrice, 0.0001)
	assert.Equal(t, lotA.Size, lotB.Size)
}

func TestApplyFillOppositeSideReducesWithoutClosing(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill(mnq, riskmodel.Buy, 4, 21000.0)
	closed := tr.ApplyFill(mnq, riskmodel.Sell, 1, 21020.0)

	assert.Equal(t, 1, closed.ClosedSize)
	assert.Equal(t, riskmodel.Long, closed.ClosedSide)
	assert.InDelta(t, (21020.0-21000.0)*1*5.0, closed.RealizedPnL, 0.001)

	lot, ok := tr.Lot(mnq)
	require.True(t, ok)
	assert.Equal(t, 3, lot.Size)
	assert.Equal(t, 21000.0, lot.AvgEntryPrice, "remaining lot keeps the original entry price")
}

func TestApplyFillOppositeSideClosesExactly(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill(mnq, riskmodel.Buy, 2, 21000.0)
	closed := tr.ApplyFill(mnq, riskmodel.Sell, 2, 20990.0)

	assert.Equal(t, 2, closed.ClosedSize)
	assert.InDelta(t, (20990.0-21000.0)*2*5.0, closed.RealizedPnL, 0.001)

	_, ok := tr.Lot(mnq)
	assert.False(t, ok, "lot must be removed once size reaches zero")
}

func TestApplyFillFlipsSide(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill(mnq, riskmodel.Buy, 2, 21000.0)
	closed := tr.ApplyFill(mnq, riskmodel.Sell, 3, 21010.0)

	assert.Equal(t, 2, closed.ClosedSize)
	assert.Equal(t, riskmodel.Long, closed.ClosedSide)
	assert.InDelta(t, (21010.0-21000.0)*2*5.0, closed.RealizedPnL, 0.001)

	lot, ok := tr.Lot(mnq)
	require.True(t, ok)
	assert.Equal(t, 1, lot.Size)
	assert.Equal(t, riskmodel.Short, lot.Side)
	assert.Equal(t, 21010.0, lot.AvgEntryPrice, "flip opens the remainder at the fill price")
}

func TestApplyFillShortSideRealizedPnLSign(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill(mnq, riskmodel.Sell, 2, 21000.0)
	closed := tr.ApplyFill(mnq, riskmodel.Buy, 2, 20980.0)

	assert.InDelta(t, (21000.0-20980.0)*2*5.0, closed.RealizedPnL, 0.001)
}

func TestApplyFillIgnoresZeroSize(t *testing.T) {
	tr := newTracker()
	closed := tr.ApplyFill(mnq, riskmodel.Buy, 0, 21000.0)
	assert.Equal(t, ClosedLot{}, closed)
	_, ok := tr.Lot(mnq)
	assert.False(t, ok)
}

func TestNetSizeSignsByDirection(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill(mnq, riskmodel.Sell, 3, 21000.0)
	size, ok := tr.NetSize(mnq)
	require.True(t, ok)
	assert.Equal(t, -3, size)
}

func TestCloseSilentlyRemovesLot(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill(mnq, riskmodel.Buy, 2, 21000.0)

	removed, ok := tr.CloseSilently(mnq)
	require.True(t, ok)
	assert.Equal(t, 2, removed.Size)

	_, stillThere := tr.Lot(mnq)
	assert.False(t, stillThere)
}

func TestResetClearsAllLots(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill(mnq, riskmodel.Buy, 2, 21000.0)
	tr.Reset()
	_, ok := tr.Lot(mnq)
	assert.False(t, ok)
}

func TestSeedInstallsOrRemovesLot(t *testing.T) {
	tr := newTracker()
	tr.Seed(mnq, riskmodel.TrackedLot{AvgEntryPrice: 21000.0, Size: 2, Side: riskmodel.Long})
	lot, ok := tr.Lot(mnq)
	require.True(t, ok)
	assert.Equal(t, 2, lot.Size)

	tr.Seed(mnq, riskmodel.TrackedLot{Size: 0})
	_, ok = tr.Lot(mnq)
	assert.False(t, ok)
}

func TestCloseAtComputesRealizedPnLAndRemovesLot(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill(mnq, riskmodel.Buy, 3, 21000.0)

	pnl, ok := tr.CloseAt(mnq, 21020.0)
	require.True(t, ok)
	assert.InDelta(t, (21020.0-21000.0)*3*5.0, pnl, 0.001)

	_, stillOpen := tr.Lot(mnq)
	assert.False(t, stillOpen)
}

func TestCloseAtReportsNoLot(t *testing.T) {
	tr := newTracker()
	_, ok := tr.CloseAt(mnq, 21000.0)
	assert.False(t, ok)
}

func TestSizeNeverGoesNegative(t *testing.T) {
	tr := newTracker()
	tr.ApplyFill(mnq, riskmodel.Buy, 5, 21000.0)
	for i := 0; i < 5; i++ {
		tr.ApplyFill(mnq, riskmodel.Sell, 1, 21000.0)
		if lot, ok := tr.Lot(mnq); ok {
			assert.GreaterOrEqual(t, lot.Size, 0)
		}
	}
	_, ok := tr.Lot(mnq)
	assert.False(t, ok)
}

// Package tracker maintains the single open TrackedLot per contract
// (spec §4.4). It is not persisted: cmd/riskd starts with an empty
// tracker and does not rebuild lots from the broker on startup, so a
// position opened before a restart is not tracked until new fills arrive.
package tracker

import (
	"github.com/eddiefleurent/riskd/internal/riskmodel"
	"github.com/eddiefleurent/riskd/internal/util"
)

// ClosedLot describes a lot that was fully or partially closed by a fill,
// including the realized P&L of the closed portion. The dispatcher does
// not feed it into the daily accumulator; internal/pnl attributes realized
// P&L from PositionClosed, PositionPnlUpdate and silent-close events.
type ClosedLot struct {
	Contract    riskmodel.ContractID
	ClosedSize  int
	ClosedSide  riskmodel.PositionSide
	ClosePrice  float64
	RealizedPnL float64
}

// Tracker maintains one TrackedLot per contract (spec §4.4). Not safe for
// concurrent use — owned exclusively by the dispatcher's single-consumer
// loop (spec §5).
type Tracker struct {
	registry *riskmodel.InstrumentRegistry
	lots     map[riskmodel.ContractID]riskmodel.TrackedLot
}

// New constructs an empty Tracker using reg to resolve per-instrument
// point value.
func New(reg *riskmodel.InstrumentRegistry) *Tracker {
	return &Tracker{
		registry: reg,
		lots:     make(map[riskmodel.ContractID]riskmodel.TrackedLot),
	}
}

// Lot returns the current lot for contract, if any.
func (t *Tracker) Lot(contract riskmodel.ContractID) (riskmodel.TrackedLot, bool) {
	lot, ok := t.lots[contract]
	return lot, ok
}

// NetSize returns the signed net position size for contract — positive
// for long, negative for short — without a broker round-trip (supplemental
// feature grounded on project-x-py's max_contracts fast path).
func (t *Tracker) NetSize(contract riskmodel.ContractID) (int, bool) {
	lot, ok := t.lots[contract]
	if !ok {
		return 0, false
	}
	if lot.Side == riskmodel.Short {
		return -lot.Size, true
	}
	return lot.Size, true
}

// Reset clears every tracked lot, used on the 17:00 CT daily reset.
func (t *Tracker) Reset() {
	t.lots = make(map[riskmodel.ContractID]riskmodel.TrackedLot)
}

// Seed installs lot as the tracked position for contract, or removes the
// contract's lot when lot.Size is not positive. Nothing in cmd/riskd calls
// it on startup.
func (t *Tracker) Seed(contract riskmodel.ContractID, lot riskmodel.TrackedLot) {
	if lot.Size <= 0 {
		delete(t.lots, contract)
		return
	}
	t.lots[contract] = lot
}

// ApplyFill applies one OrderFilled event's fill to the tracked lot for
// contract, implementing the same-side/opposite-side/flip transitions of
// spec §4.4. It returns the closed portion, if any (zero value if the
// fill only opened or added to a lot).
func (t *Tracker) ApplyFill(contract riskmodel.ContractID, side riskmodel.Side, size int, price float64) ClosedLot {
	if size <= 0 {
		return ClosedLot{}
	}
	fillSide := riskmodel.SideToPositionSide(side)
	meta := t.registry.Lookup(contract)
	pointValue := meta.PointValue
	price = util.RoundToTick(price, meta.Tick)

	old, exists := t.lots[contract]
	if !exists {
		t.lots[contract] = riskmodel.TrackedLot{AvgEntryPrice: price, Size: size, Side: fillSide}
		return ClosedLot{}
	}

	if old.Side == fillSide {
		totalSize := old.Size + size
		weightedAvg := (old.AvgEntryPrice*float64(old.Size) + price*float64(size)) / float64(totalSize)
		t.lots[contract] = riskmodel.TrackedLot{AvgEntryPrice: weightedAvg, Size: totalSize, Side: old.Side}
		return ClosedLot{}
	}

	// Opposite side: this fill reduces, closes, or flips the existing lot.
	closeSize := size
	if old.Size < size {
		closeSize = old.Size
	}
	realized := realizedPnL(old.Side, old.AvgEntryPrice, price, closeSize, pointValue)

	closed := ClosedLot{
		Contract:    contract,
		ClosedSize:  closeSize,
		ClosedSide:  old.Side,
		ClosePrice:  price,
		RealizedPnL: realized,
	}

	switch {
	case old.Size > size:
		t.lots[contract] = riskmodel.TrackedLot{AvgEntryPrice: old.AvgEntryPrice, Size: old.Size - size, Side: old.Side}
	case old.Size == size:
		delete(t.lots, contract)
	default: // old.Size < size: flip — close the old lot, open the remainder on the filling side.
		remainder := size - old.Size
		t.lots[contract] = riskmodel.TrackedLot{AvgEntryPrice: price, Size: remainder, Side: fillSide}
	}

	return closed
}

// CloseSilently removes the lot for contract without a matching
// OrderFilled, used for the "silent close" path (spec §4.4: a
// PositionUpdated with size==0 closes the lot even if no closing fill was
// observed). The caller is responsible for sourcing the realized P&L via
// the §4.5 fallback chain; CloseSilently only removes the lot and reports
// what was removed.
func (t *Tracker) CloseSilently(contract riskmodel.ContractID) (riskmodel.TrackedLot, bool) {
	old, ok := t.lots[contract]
	if !ok {
		return riskmodel.TrackedLot{}, false
	}
	delete(t.lots, contract)
	return old, true
}

// CloseAt removes the lot for contract (if any) and returns the realized
// P&L of closing its full remaining size at closePrice, used by the P&L
// engine's §4.5 reconstruction fallback when the broker's own event
// carries no P&L figure.
func (t *Tracker) CloseAt(contract riskmodel.ContractID, closePrice float64) (float64, bool) {
	old, ok := t.lots[contract]
	if !ok {
		return 0, false
	}
	delete(t.lots, contract)
	meta := t.registry.Lookup(contract)
	closePrice = util.RoundToTick(closePrice, meta.Tick)
	return realizedPnL(old.Side, old.AvgEntryPrice, closePrice, old.Size, meta.PointValue), true
}

func realizedPnL(closingSide riskmodel.PositionSide, avgEntry, closePrice float64, size int, pointValue float64) float64 {
	if closingSide == riskmodel.Long {
		return (closePrice - avgEntry) * float64(size) * pointValue
	}
	return (avgEntry - closePrice) * float64(size) * pointValue
}

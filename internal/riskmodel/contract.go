// Package riskmodel defines the domain types shared by every component of
// the risk-management daemon: contract identifiers, tracked lots, the
// normalized event envelope, and breach results.
package riskmodel

import "strings"

// ContractID is an opaque broker-assigned instrument identifier, e.g.
// "CON.F.US.MNQ.Z25". It is treated as a bag of characters everywhere
// except Symbol, which derives a short display symbol.
type ContractID string

// Symbol returns the short display symbol for a contract id by splitting
// on '.' and taking the second-to-last segment. It is for display only —
// never used as a lookup key for position identity.
func (c ContractID) Symbol() string {
	parts := strings.Split(string(c), ".")
	if len(parts) < 2 {
		return string(c)
	}
	return parts[len(parts)-2]
}

// Side is the fill direction reported by the broker.
type Side int

const (
	// Buy is a buy-side fill.
	Buy Side = 0
	// Sell is a sell-side fill.
	Sell Side = 1
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// PositionSide is the direction of an open lot.
type PositionSide int

const (
	// Long is a long position.
	Long PositionSide = 1
	// Short is a short position.
	Short PositionSide = 2
)

func (p PositionSide) String() string {
	if p == Short {
		return "short"
	}
	return "long"
}

// SideToPositionSide maps a fill side to the resulting position side for a
// fill that opens a brand-new lot.
func SideToPositionSide(s Side) PositionSide {
	if s == Buy {
		return Long
	}
	return Short
}

// InstrumentMeta carries the per-contract constants the position tracker
// and P&L engine need but must never hard-code (spec §4.4: "an implementer
// must source it from an instrument-metadata lookup, not hard-code it
// globally").
type InstrumentMeta struct {
	Symbol     string
	PointValue float64 // USD per 1.00 move, per contract
	Tick       float64 // minimum price increment
}

// defaultInstruments seeds the CME Micro contracts a risk desk commonly
// configures for this daemon, supplementing the MNQ-only original.
var defaultInstruments = map[string]InstrumentMeta{
	"MNQ": {Symbol: "MNQ", PointValue: 5.0, Tick: 0.25},
	"MES": {Symbol: "MES", PointValue: 5.0, Tick: 0.25},
	"MGC": {Symbol: "MGC", PointValue: 10.0, Tick: 0.10},
	"M2K": {Symbol: "M2K", PointValue: 5.0, Tick: 0.10},
}

// InstrumentRegistry resolves point values for contracts by symbol. It is
// a small mutable lookup (not a package-level constant map): Register adds
// or overrides entries at runtime. The config document has no instrument
// section, so the daemon runs with the seeded defaults.
type InstrumentRegistry struct {
	meta map[string]InstrumentMeta
}

// NewInstrumentRegistry returns a registry seeded with the default Micro
// contract metadata.
func NewInstrumentRegistry() *InstrumentRegistry {
	reg := &InstrumentRegistry{meta: make(map[string]InstrumentMeta, len(defaultInstruments))}
	for k, v := range defaultInstruments {
		reg.meta[k] = v
	}
	return reg
}

// Register adds or overrides metadata for a symbol.
func (r *InstrumentRegistry) Register(m InstrumentMeta) {
	r.meta[m.Symbol] = m
}

// Lookup returns the metadata for a contract, falling back to a
// conservative default (point value 1.0) if the symbol is unknown so the
// engine still produces a number rather than panicking — the daemon must
// not silently disable risk tracking over a missing metadata entry.
func (r *InstrumentRegistry) Lookup(contract ContractID) InstrumentMeta {
	symbol := contract.Symbol()
	if m, ok := r.meta[symbol]; ok {
		return m
	}
	return InstrumentMeta{Symbol: symbol, PointValue: 1.0, Tick: 0.01}
}

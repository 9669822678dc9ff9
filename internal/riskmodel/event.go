package riskmodel

import "time"

// EventKind discriminates the normalized internal event envelope.
type EventKind string

// Event kinds the dispatcher classifies incoming broker telemetry into.
const (
	OrderFilled       EventKind = "OrderFilled"
	PositionUpdated   EventKind = "PositionUpdated"
	PositionClosed    EventKind = "PositionClosed"
	PositionPnlUpdate EventKind = "PositionPnlUpdate"
	QuoteUpdate       EventKind = "QuoteUpdate"
)

// OrderFilledPayload is the normalized payload for an OrderFilled event.
type OrderFilledPayload struct {
	ContractID  ContractID
	Size        int
	Side        Side
	FilledPrice float64
	RawExtra    map[string]any
}

// PositionUpdatedPayload is the normalized payload for a PositionUpdated
// event. Size is the signed or absolute size as reported by the broker;
// the tracker treats size==0 as a silent close.
type PositionUpdatedPayload struct {
	ContractID   ContractID
	Size         int
	AveragePrice float64
	RawExtra     map[string]any
}

// PositionClosedPayload is the normalized payload for a PositionClosed
// event. PnL is often zero/omitted by the broker (§4.5 fallback chain).
type PositionClosedPayload struct {
	ContractID ContractID
	PnL        float64
	ExitPrice  float64
	RawExtra   map[string]any
}

// PositionPnlUpdatePayload is the normalized payload for a
// PositionPnlUpdate event.
type PositionPnlUpdatePayload struct {
	ContractID  ContractID
	RealizedPnL float64
	RawExtra    map[string]any
}

// QuoteUpdatePayload is the normalized payload for a QuoteUpdate event.
// Ingested but filtered out before audit and rule evaluation (spec §3).
type QuoteUpdatePayload struct {
	ContractID ContractID
	LastPrice  float64
	RawExtra   map[string]any
}

// Event is the normalized internal event form every component downstream
// of the dispatcher operates on.
type Event struct {
	Kind      EventKind
	Timestamp time.Time
	Payload   any
}

// ContractIDOf extracts the contract id from whichever payload is present,
// or "" if the event carries none (e.g. a malformed QuoteUpdate).
func (e Event) ContractIDOf() ContractID {
	switch p := e.Payload.(type) {
	case OrderFilledPayload:
		return p.ContractID
	case PositionUpdatedPayload:
		return p.ContractID
	case PositionClosedPayload:
		return p.ContractID
	case PositionPnlUpdatePayload:
		return p.ContractID
	case QuoteUpdatePayload:
		return p.ContractID
	default:
		return ""
	}
}

// BreachAction is the enforcement action a rule requests on breach.
type BreachAction string

// Enforcement actions a breaching rule may request.
const (
	ActionNone       BreachAction = "none"
	ActionFlatten    BreachAction = "flatten"
	ActionKillSwitch BreachAction = "kill_switch"
)

// BreachStatus is the outcome of a single rule evaluation.
type BreachStatus string

// Rule evaluation outcomes.
const (
	StatusValid  BreachStatus = "VALID"
	StatusBreach BreachStatus = "BREACH"
)

// BreachResult is the result of evaluating one rule against one event.
type BreachResult struct {
	Status         BreachStatus
	Reason         string
	Action         BreachAction
	TargetContract ContractID
}

// RuleDescriptor is a single rule's configuration, keyed by name in
// config.Config.Rules.
type RuleDescriptor struct {
	Name        string
	Enabled     bool
	Severity    string // low|medium|high
	Description string
	Parameters  map[string]any
}

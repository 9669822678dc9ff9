// Package broker defines the contract the risk daemon expects from a
// futures broker SDK, plus a resilience wrapper around it. The concrete
// HTTP/websocket transport is an external collaborator (spec §1) and is
// deliberately not implemented here — only the stable surface the core
// depends on.
package broker

import (
	"context"
	"time"

	"github.com/eddiefleurent/riskd/internal/riskmodel"
)

// Position is the broker's view of an open or just-closed position.
type Position struct {
	ContractID    riskmodel.ContractID
	Size          int
	UnrealizedPnL float64
}

// AccountPosition is one row of GetAllPositions, used by the kill-switch
// enumeration and by max_contracts' broker-assisted path.
type AccountPosition struct {
	ContractID riskmodel.ContractID
	SymbolID   string
	Size       int
}

// PortfolioPnL is the broker's aggregate P&L summary.
type PortfolioPnL struct {
	DayPnL      float64
	RealizedPnL float64
}

// PerformanceMetrics is the secondary P&L confirmation source (spec §4.3
// step 3).
type PerformanceMetrics struct {
	DailyPnL float64
}

// CloseResult is the outcome of a close-position request.
type CloseResult struct {
	Success      bool
	ErrorMessage string
}

// EventHandler is invoked by the transport for each realtime event it
// delivers. The daemon registers one handler per EventKind via On.
type EventHandler func(riskmodel.Event)

// Broker is the stable surface the risk daemon depends on (spec §6). A
// concrete implementation wraps the broker SDK's HTTP/websocket transport;
// that transport itself is out of scope for this core.
type Broker interface {
	// SubscribeUserUpdates begins realtime delivery of account-scoped
	// events to handlers registered via On.
	SubscribeUserUpdates(ctx context.Context) error
	// UnsubscribeUserUpdates stops realtime delivery.
	UnsubscribeUserUpdates(ctx context.Context) error
	// On registers a handler for one event kind. Multiple calls for the
	// same kind replace the previous handler.
	On(kind riskmodel.EventKind, handler EventHandler)

	// GetPosition queries the current position for one contract.
	GetPosition(ctx context.Context, contract riskmodel.ContractID) (*Position, error)
	// GetAllPositions lists every open position on the account.
	GetAllPositions(ctx context.Context, accountID int64) ([]AccountPosition, error)
	// GetPortfolioPnL queries the account-level P&L summary.
	GetPortfolioPnL(ctx context.Context) (*PortfolioPnL, error)
	// GetPerformanceMetrics queries aggregate P&L over a window, used as
	// the §4.3 secondary confirmation source.
	GetPerformanceMetrics(ctx context.Context, from, to time.Time) (*PerformanceMetrics, error)
	// ClosePositionDirect closes a position outright.
	ClosePositionDirect(ctx context.Context, contract riskmodel.ContractID, accountID int64) (*CloseResult, error)

	// StartRealtimeFeed begins streaming quote data (needed only for the
	// last-market-price fallback in §4.5).
	StartRealtimeFeed(ctx context.Context) error
	// StopRealtimeFeed stops the quote feed.
	StopRealtimeFeed(ctx context.Context) error
	// GetCurrentPrice returns the last traded price for a contract.
	GetCurrentPrice(ctx context.Context, contract riskmodel.ContractID) (float64, error)
}

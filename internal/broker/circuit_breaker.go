package broker

import (
	"context"
	"time"

	"github.com/eddiefleurent/riskd/internal/riskmodel"
	"github.com/sony/gobreaker"
)

// CircuitBreakerSettings configures CircuitBreakerBroker's trip/recovery
// thresholds.
type CircuitBreakerSettings struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// ConsecutiveFailures trips the breaker open after this many
	// consecutive failed calls.
	ConsecutiveFailures uint32
}

// DefaultCircuitBreakerSettings trips after 5 consecutive failures and
// allows one probe request after a 30s cooldown.
var DefaultCircuitBreakerSettings = CircuitBreakerSettings{
	Name:                "broker",
	MaxRequests:         1,
	Interval:            0,
	Timeout:             30 * time.Second,
	ConsecutiveFailures: 5,
}

// CircuitBreakerBroker wraps a Broker with github.com/sony/gobreaker so a
// systemically failing venue sheds load (fails fast) instead of stacking
// timeouts against every query and close call the dispatcher issues.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerBroker wraps broker with DefaultCircuitBreakerSettings.
func NewCircuitBreakerBroker(b Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(b, DefaultCircuitBreakerSettings)
}

// NewCircuitBreakerBrokerWithSettings wraps broker with custom settings.
func NewCircuitBreakerBrokerWithSettings(b Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	st := gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
	}
	return &CircuitBreakerBroker{
		broker:  b,
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// State exposes the underlying breaker state for status reporting.
func (c *CircuitBreakerBroker) State() gobreaker.State {
	return c.breaker.State()
}

func runThrough[T any](c *CircuitBreakerBroker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := c.breaker.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		return zero, err
	}
	out, _ := res.(T)
	return out, nil
}

// SubscribeUserUpdates implements Broker.
func (c *CircuitBreakerBroker) SubscribeUserUpdates(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.broker.SubscribeUserUpdates(ctx)
	})
	return err
}

// UnsubscribeUserUpdates implements Broker.
func (c *CircuitBreakerBroker) UnsubscribeUserUpdates(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.broker.UnsubscribeUserUpdates(ctx)
	})
	return err
}

// On implements Broker.
func (c *CircuitBreakerBroker) On(kind riskmodel.EventKind, handler EventHandler) {
	c.broker.On(kind, handler)
}

// GetPosition implements Broker.
func (c *CircuitBreakerBroker) GetPosition(ctx context.Context, contract riskmodel.ContractID) (*Position, error) {
	return runThrough(c, func() (*Position, error) { return c.broker.GetPosition(ctx, contract) })
}

// GetAllPositions implements Broker.
func (c *CircuitBreakerBroker) GetAllPositions(ctx context.Context, accountID int64) ([]AccountPosition, error) {
	return runThrough(c, func() ([]AccountPosition, error) { return c.broker.GetAllPositions(ctx, accountID) })
}

// GetPortfolioPnL implements Broker.
func (c *CircuitBreakerBroker) GetPortfolioPnL(ctx context.Context) (*PortfolioPnL, error) {
	return runThrough(c, func() (*PortfolioPnL, error) { return c.broker.GetPortfolioPnL(ctx) })
}

// GetPerformanceMetrics implements Broker.
func (c *CircuitBreakerBroker) GetPerformanceMetrics(ctx context.Context, from, to time.Time) (*PerformanceMetrics, error) {
	return runThrough(c, func() (*PerformanceMetrics, error) { return c.broker.GetPerformanceMetrics(ctx, from, to) })
}

// ClosePositionDirect implements Broker. Enforcement calls intentionally
// go through the breaker but never through internal/retryquery — spec §7
// forbids the core from retrying a failed close automatically.
func (c *CircuitBreakerBroker) ClosePositionDirect(ctx context.Context, contract riskmodel.ContractID, accountID int64) (*CloseResult, error) {
	return runThrough(c, func() (*CloseResult, error) { return c.broker.ClosePositionDirect(ctx, contract, accountID) })
}

// StartRealtimeFeed implements Broker.
func (c *CircuitBreakerBroker) StartRealtimeFeed(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.broker.StartRealtimeFeed(ctx)
	})
	return err
}

// StopRealtimeFeed implements Broker.
func (c *CircuitBreakerBroker) StopRealtimeFeed(ctx context.Context) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.broker.StopRealtimeFeed(ctx)
	})
	return err
}

// GetCurrentPrice implements Broker.
func (c *CircuitBreakerBroker) GetCurrentPrice(ctx context.Context, contract riskmodel.ContractID) (float64, error) {
	return runThrough(c, func() (float64, error) { return c.broker.GetCurrentPrice(ctx, contract) })
}

var _ Broker = (*CircuitBreakerBroker)(nil)

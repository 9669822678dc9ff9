package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eddiefleurent/riskd/internal/riskmodel"
)

// MockBroker is an in-memory Broker test double, adapted from the
// teacher's table of canned responses (internal/broker/interface_test.go's
// MockBroker / internal/mock) to this daemon's narrower surface.
type MockBroker struct {
	mu sync.Mutex

	Positions     map[riskmodel.ContractID]*Position
	AllPositions  []AccountPosition
	PortfolioPnL  PortfolioPnL
	PerfMetrics   PerformanceMetrics
	CurrentPrices map[riskmodel.ContractID]float64

	CloseResults map[riskmodel.ContractID]*CloseResult
	CloseErr     map[riskmodel.ContractID]error

	// Errs lets tests force a specific method to fail by name.
	Errs map[string]error

	handlers map[riskmodel.EventKind]EventHandler

	CloseCalls []riskmodel.ContractID
}

// NewMockBroker returns an empty mock ready for test setup.
func NewMockBroker() *MockBroker {
	return &MockBroker{
		Positions:     make(map[riskmodel.ContractID]*Position),
		CurrentPrices: make(map[riskmodel.ContractID]float64),
		CloseResults:  make(map[riskmodel.ContractID]*CloseResult),
		CloseErr:      make(map[riskmodel.ContractID]error),
		Errs:          make(map[string]error),
		handlers:      make(map[riskmodel.EventKind]EventHandler),
	}
}

func (m *MockBroker) err(name string) error {
	if e, ok := m.Errs[name]; ok {
		return e
	}
	return nil
}

// SubscribeUserUpdates implements Broker.
func (m *MockBroker) SubscribeUserUpdates(_ context.Context) error {
	return m.err("SubscribeUserUpdates")
}

// UnsubscribeUserUpdates implements Broker.
func (m *MockBroker) UnsubscribeUserUpdates(_ context.Context) error {
	return m.err("UnsubscribeUserUpdates")
}

// On implements Broker.
func (m *MockBroker) On(kind riskmodel.EventKind, handler EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = handler
}

// Emit delivers an event to the registered handler for its kind, for test
// use simulating the transport.
func (m *MockBroker) Emit(ev riskmodel.Event) {
	m.mu.Lock()
	h := m.handlers[ev.Kind]
	m.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// GetPosition implements Broker.
func (m *MockBroker) GetPosition(_ context.Context, contract riskmodel.ContractID) (*Position, error) {
	if err := m.err("GetPosition"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.Positions[contract]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("no position for %s", contract)
}

// GetAllPositions implements Broker.
func (m *MockBroker) GetAllPositions(_ context.Context, _ int64) ([]AccountPosition, error) {
	if err := m.err("GetAllPositions"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AccountPosition, len(m.AllPositions))
	copy(out, m.AllPositions)
	return out, nil
}

// GetPortfolioPnL implements Broker.
func (m *MockBroker) GetPortfolioPnL(_ context.Context) (*PortfolioPnL, error) {
	if err := m.err("GetPortfolioPnL"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.PortfolioPnL
	return &v, nil
}

// GetPerformanceMetrics implements Broker.
func (m *MockBroker) GetPerformanceMetrics(_ context.Context, _, _ time.Time) (*PerformanceMetrics, error) {
	if err := m.err("GetPerformanceMetrics"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.PerfMetrics
	return &v, nil
}

// ClosePositionDirect implements Broker.
func (m *MockBroker) ClosePositionDirect(_ context.Context, contract riskmodel.ContractID, _ int64) (*CloseResult, error) {
	m.mu.Lock()
	m.CloseCalls = append(m.CloseCalls, contract)
	err := m.CloseErr[contract]
	res := m.CloseResults[contract]
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}
	return &CloseResult{Success: true}, nil
}

// StartRealtimeFeed implements Broker.
func (m *MockBroker) StartRealtimeFeed(_ context.Context) error {
	return m.err("StartRealtimeFeed")
}

// StopRealtimeFeed implements Broker.
func (m *MockBroker) StopRealtimeFeed(_ context.Context) error {
	return m.err("StopRealtimeFeed")
}

// GetCurrentPrice implements Broker.
func (m *MockBroker) GetCurrentPrice(_ context.Context, contract riskmodel.ContractID) (float64, error) {
	if err := m.err("GetCurrentPrice"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CurrentPrices[contract], nil
}

var _ Broker = (*MockBroker)(nil)

package retryquery

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/riskd/internal/broker"
	"github.com/eddiefleurent/riskd/internal/riskmodel"
)

// countingBroker fails the first N calls to GetPosition with a transient
// error, then succeeds.
type countingBroker struct {
	*broker.MockBroker
	failuresLeft int32
}

func (c *countingBroker) GetPosition(ctx context.Context, contract riskmodel.ContractID) (*broker.Position, error) {
	if atomic.AddInt32(&c.failuresLeft, -1) >= 0 {
		return nil, errors.New("connection reset by peer")
	}
	return c.MockBroker.GetPosition(ctx, contract)
}

func fastConfig() Config {
	return Config{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Timeout: time.Second}
}

func TestGetPositionRetriesThenSucceeds(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.Positions["MNQ"] = &broker.Position{ContractID: "MNQ", Size: 2}
	cb := &countingBroker{MockBroker: mock, failuresLeft: 2}

	client := New(cb, nil, fastConfig())
	pos, err := client.GetPosition(context.Background(), "MNQ")
	require.NoError(t, err)
	assert.Equal(t, 2, pos.Size)
}

func TestGetPositionGivesUpAfterMaxRetries(t *testing.T) {
	mock := broker.NewMockBroker()
	cb := &countingBroker{MockBroker: mock, failuresLeft: 100}

	client := New(cb, nil, fastConfig())
	_, err := client.GetPosition(context.Background(), "MNQ")
	assert.Error(t, err)
}

func TestGetPortfolioPnLDoesNotRetryNonTransientError(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.Errs["GetPortfolioPnL"] = errors.New("invalid account id")

	client := New(mock, nil, fastConfig())
	_, err := client.GetPortfolioPnL(context.Background())
	assert.Error(t, err)
}

func TestGetCurrentPriceSucceeds(t *testing.T) {
	mock := broker.NewMockBroker()
	mock.CurrentPrices["MNQ"] = 21000.25

	client := New(mock, nil, fastConfig())
	price, err := client.GetCurrentPrice(context.Background(), "MNQ")
	require.NoError(t, err)
	assert.Equal(t, 21000.25, price)
}

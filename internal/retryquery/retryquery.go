// Package retryquery wraps read-only broker queries with exponential
// backoff, adapted from the teacher's internal/retry.Client. Unlike the
// teacher, this wrapper is deliberately restricted to queries — position
// lookups, P&L summaries, performance metrics, last price — and must
// never wrap ClosePositionDirect or any other enforcement call: spec §7
// forbids automatic retry on BreachEnforcementError/BrokerTransientError
// for enforcement, requiring operator intervention instead.
package retryquery

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/riskd/internal/broker"
	"github.com/eddiefleurent/riskd/internal/riskmodel"
)

// Config controls backoff timing, mirroring the teacher's retry.Config.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig gives read-only queries up to four attempts (one call plus
// three retries) within an overall 30s timeout.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	Timeout:        30 * time.Second,
}

// Client wraps a broker.Broker's read-only methods with retry.
type Client struct {
	broker broker.Broker
	log    *logrus.Entry
	cfg    Config
}

// New constructs a Client. log may be nil, in which case a standard
// logrus logger is used.
func New(brk broker.Broker, log *logrus.Entry, cfg ...Config) *Client {
	c := DefaultConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultConfig.MaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultConfig.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultConfig.Timeout
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{broker: brk, log: log, cfg: c}
}

// GetPosition retries broker.GetPosition on transient failure.
func (c *Client) GetPosition(ctx context.Context, contract riskmodel.ContractID) (*broker.Position, error) {
	return withRetry(ctx, c, "GetPosition", func(ctx context.Context) (*broker.Position, error) {
		return c.broker.GetPosition(ctx, contract)
	})
}

// GetPortfolioPnL retries broker.GetPortfolioPnL on transient failure.
func (c *Client) GetPortfolioPnL(ctx context.Context) (*broker.PortfolioPnL, error) {
	return withRetry(ctx, c, "GetPortfolioPnL", func(ctx context.Context) (*broker.PortfolioPnL, error) {
		return c.broker.GetPortfolioPnL(ctx)
	})
}

// GetPerformanceMetrics retries broker.GetPerformanceMetrics on transient
// failure.
func (c *Client) GetPerformanceMetrics(ctx context.Context, from, to time.Time) (*broker.PerformanceMetrics, error) {
	return withRetry(ctx, c, "GetPerformanceMetrics", func(ctx context.Context) (*broker.PerformanceMetrics, error) {
		return c.broker.GetPerformanceMetrics(ctx, from, to)
	})
}

// GetCurrentPrice retries broker.GetCurrentPrice on transient failure,
// used by the §4.5 final-fallback price lookup.
func (c *Client) GetCurrentPrice(ctx context.Context, contract riskmodel.ContractID) (float64, error) {
	type result struct{ price float64 }
	r, err := withRetry(ctx, c, "GetCurrentPrice", func(ctx context.Context) (*result, error) {
		p, err := c.broker.GetCurrentPrice(ctx, contract)
		if err != nil {
			return nil, err
		}
		return &result{price: p}, nil
	})
	if err != nil {
		return 0, err
	}
	return r.price, nil
}

func withRetry[T any](ctx context.Context, c *Client, op string, fn func(context.Context) (*T, error)) (*T, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	backoff := c.cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if callCtx.Err() != nil {
			return nil, fmt.Errorf("%s timed out after %v: %w", op, c.cfg.Timeout, callCtx.Err())
		}

		v, err := fn(callCtx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		c.log.WithField("attempt", attempt+1).WithError(err).Warnf("%s failed", op)

		if !isTransient(err) || attempt >= c.cfg.MaxRetries {
			break
		}

		select {
		case <-time.After(jitter(backoff)):
			backoff = nextBackoff(backoff, c.cfg.MaxBackoff)
		case <-callCtx.Done():
			return nil, fmt.Errorf("%s timed out during backoff: %w", op, callCtx.Err())
		}
	}

	return nil, fmt.Errorf("%s failed after %d attempts: %w", op, c.cfg.MaxRetries+1, lastErr)
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * 1.5)
	if next > max {
		next = max
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	maxJitter := int64(d / 4)
	if maxJitter <= 0 {
		return d
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
	if err != nil {
		return d
	}
	return d + time.Duration(n.Int64())
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	patterns := []string{
		"timeout", "i/o timeout", "connection refused", "connection reset",
		"temporary failure", "temporarily unavailable", "server error",
		"rate limit", "429", "502", "503", "504", "network", "dns", "tcp",
		"no such host", "deadline exceeded", "tls handshake", "broken pipe", "eof",
	}
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

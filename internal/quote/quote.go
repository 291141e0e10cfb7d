// Package quote supplies prices for symbols. The engine never talks to
// a price feed directly; it depends on the Source interface so pricing
// is deterministic and mockable in tests.
package quote

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/virtualtrader/ledger-engine/internal/model"
)

var (
	// ErrUnknownSymbol is returned when the source has no price for a symbol.
	ErrUnknownSymbol = errors.New("quote: unknown symbol")

	// ErrUnavailable is returned when the source cannot produce a price
	// right now. Transient; safe to retry.
	ErrUnavailable = errors.New("quote: price unavailable")
)

// Source produces a current price for a normalized (upper-case) symbol.
// Successive calls for the same symbol may return different prices.
type Source interface {
	Quote(ctx context.Context, symbol string) (model.Quote, error)
}

// DefaultBasePrices is the built-in price table for the mock source.
func DefaultBasePrices() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"EURUSD": decimal.NewFromFloat(1.0850),
		"GBPUSD": decimal.NewFromFloat(1.2650),
		"BTCUSD": decimal.NewFromFloat(43250.00),
	}
}

// MockSource serves prices from a base table with a small random walk
// around each base price (±0.5%). The random source is injected so runs
// are reproducible under a fixed seed.
type MockSource struct {
	mu    sync.Mutex
	base  map[string]decimal.Decimal
	rng   *rand.Rand
	now   func() time.Time
	scale int32
}

// NewMockSource creates a mock source over the given base price table.
// A nil table uses DefaultBasePrices.
func NewMockSource(base map[string]decimal.Decimal, seed int64) *MockSource {
	if base == nil {
		base = DefaultBasePrices()
	}
	return &MockSource{
		base:  base,
		rng:   rand.New(rand.NewSource(seed)),
		now:   time.Now,
		scale: 8,
	}
}

// Quote returns the base price perturbed by a uniform fluctuation in
// [-0.5%, +0.5%], rounded to 8 decimal places.
func (s *MockSource) Quote(_ context.Context, symbol string) (model.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, ok := s.base[symbol]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	// fluctuation = (rand - 0.5) * 1%, i.e. ±0.5% of base.
	fluctuation := decimal.NewFromFloat((s.rng.Float64() - 0.5) * 0.01)
	price := base.Mul(decimal.NewFromInt(1).Add(fluctuation)).Round(s.scale)

	return model.Quote{
		Symbol:    symbol,
		Price:     price,
		Timestamp: s.now().UTC(),
	}, nil
}

// StaticSource serves fixed prices. Used in tests where the execution
// price must be known exactly.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	err    error
}

// NewStaticSource creates a static source with the given fixed prices.
func NewStaticSource(prices map[string]decimal.Decimal) *StaticSource {
	cp := make(map[string]decimal.Decimal, len(prices))
	for sym, p := range prices {
		cp[sym] = p
	}
	return &StaticSource{prices: cp}
}

// Set replaces the price for a symbol.
func (s *StaticSource) Set(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

// Fail makes every subsequent Quote call return err. Pass nil to clear.
func (s *StaticSource) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *StaticSource) Quote(_ context.Context, symbol string) (model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return model.Quote{}, s.err
	}
	price, ok := s.prices[symbol]
	if !ok {
		return model.Quote{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return model.Quote{Symbol: symbol, Price: price, Timestamp: time.Now().UTC()}, nil
}

// Package risk enforces per-user position limits on order execution.
//
// Paper trading still needs guard rails: an unbounded number of open
// positions bloats the ledger, and unbounded short notional (shorts are
// not funds-checked) lets a single user accumulate arbitrary exposure.
// The limiter caps both the count of open positions per user and the
// aggregate open notional per symbol per user.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrMaxOpenPositions is returned when an order would push a user's
	// open position count beyond the maximum.
	ErrMaxOpenPositions = errors.New("risk: max open positions exceeded")

	// ErrSymbolNotionalExceeded is returned when an order would push a
	// user's aggregate open notional in one symbol beyond the maximum.
	ErrSymbolNotionalExceeded = errors.New("risk: per-symbol notional limit exceeded")
)

// Limiter enforces per-user exposure limits.
type Limiter struct {
	// MaxOpenPositions is the maximum number of simultaneously open
	// positions a user may hold. Zero disables the check.
	MaxOpenPositions int

	// MaxSymbolNotional is the maximum aggregate entry notional across
	// a user's open positions in a single symbol. Zero disables the check.
	MaxSymbolNotional decimal.Decimal
}

// NewLimiter creates a limiter with the given caps.
func NewLimiter(maxOpen int, maxSymbolNotional decimal.Decimal) *Limiter {
	return &Limiter{
		MaxOpenPositions:  maxOpen,
		MaxSymbolNotional: maxSymbolNotional,
	}
}

// CheckOpen validates whether one more position may be opened.
//
// Parameters:
//   - openCount: the user's current number of open positions
//   - symbolNotional: the user's current aggregate entry notional in the
//     order's symbol
//   - orderNotional: entry price × quantity of the proposed order
func (l *Limiter) CheckOpen(openCount int, symbolNotional, orderNotional decimal.Decimal) error {
	if l.MaxOpenPositions > 0 && openCount+1 > l.MaxOpenPositions {
		return ErrMaxOpenPositions
	}
	if l.MaxSymbolNotional.IsPositive() &&
		symbolNotional.Add(orderNotional).GreaterThan(l.MaxSymbolNotional) {
		return ErrSymbolNotionalExceeded
	}
	return nil
}

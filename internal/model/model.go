// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position sides.
const (
	SideLong  = "long"
	SideShort = "short"
)

// Position lifecycle states. The transition is one-way: open → closed.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Position is a simulated trade record. It is created in status "open"
// by order execution and mutated exactly once when closed: ExitPrice,
// PnL, and ClosedAt are set together with the status change. A closed
// position is immutable.
type Position struct {
	ID         string           `json:"id" db:"id"`
	UserID     string           `json:"user_id" db:"user_id"`
	Symbol     string           `json:"symbol" db:"symbol"` // always stored upper-case
	Side       string           `json:"side" db:"side"`     // "long" or "short"
	Quantity   int64            `json:"quantity" db:"quantity"`
	EntryPrice decimal.Decimal  `json:"entry_price" db:"entry_price"`
	ExitPrice  *decimal.Decimal `json:"exit_price,omitempty" db:"exit_price"`
	Status     string           `json:"status" db:"status"`
	PnL        *decimal.Decimal `json:"pnl,omitempty" db:"pnl"`
	OpenedAt   time.Time        `json:"opened_at" db:"opened_at"`
	ClosedAt   *time.Time       `json:"closed_at,omitempty" db:"closed_at"`
}

// Notional returns price × quantity for this position's size.
func (p *Position) Notional(price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(p.Quantity))
}

// Account holds one cash balance per user. The balance is mutated only
// through the store's atomic delta operation, never read-modify-written
// outside a transaction boundary.
type Account struct {
	UserID  string          `json:"user_id" db:"user_id"`
	Balance decimal.Decimal `json:"balance" db:"balance"`
}

// Quote is a price for a symbol at a point in time, supplied by the
// quote source. Successive quotes for the same symbol may differ.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

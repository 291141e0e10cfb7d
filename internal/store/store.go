// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/virtualtrader/ledger-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist, is not owned
	// by the requesting user, or is not in the required status.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateOp is returned when an operation token has already been
	// applied. The original operation's result is authoritative.
	ErrDuplicateOp = errors.New("store: duplicate operation token")
)

// Exposure summarizes a user's open positions for risk checks.
type Exposure struct {
	OpenCount      int
	SymbolNotional decimal.Decimal // aggregate entry notional in one symbol
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// OpenPosition and ClosePosition are compound operations: the position
// write and the account balance delta commit together or not at all.
// Implementations back this with a transaction (PostgreSQL) or a single
// critical section (memory).
type Store interface {
	// --- Accounts ---

	// EnsureAccount returns the user's account, creating it with the
	// given starting balance on first sight.
	EnsureAccount(ctx context.Context, userID string, startingBalance decimal.Decimal) (*model.Account, error)

	// GetAccount retrieves an account by user ID.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// --- Positions ---

	// GetOpenPosition retrieves a position by ID, scoped to its owner and
	// to status "open". Missing, foreign-owned, and already-closed all
	// return ErrNotFound.
	GetOpenPosition(ctx context.Context, userID, positionID string) (*model.Position, error)

	// ListPositions returns a user's positions ordered by recency
	// (most recently opened first). statusFilter of "" returns all.
	ListPositions(ctx context.Context, userID, statusFilter string) ([]model.Position, error)

	// OpenExposure reports the user's open position count and aggregate
	// entry notional in the given symbol.
	OpenExposure(ctx context.Context, userID, symbol string) (Exposure, error)

	// --- Idempotency ---

	// LookupOperation resolves a previously applied operation token to
	// the position it created or closed. ErrNotFound for unseen tokens.
	LookupOperation(ctx context.Context, token string) (positionID string, err error)

	// --- Compound atomic operations ---

	// OpenPosition creates the position and applies balanceDelta to the
	// owner's account as one atomic unit. A non-empty opToken is recorded
	// in the same unit; a replayed token fails with ErrDuplicateOp and
	// leaves no new writes.
	OpenPosition(ctx context.Context, pos *model.Position, balanceDelta decimal.Decimal, opToken string) error

	// ClosePosition transitions the position to "closed" (guarded on
	// status "open") setting exitPrice/pnl/closedAt, and applies
	// balanceDelta to the owner's account, as one atomic unit. Returns
	// ErrNotFound if no open position matched, ErrDuplicateOp on a
	// replayed token. On success returns the updated position.
	ClosePosition(ctx context.Context, userID, positionID string, exitPrice, pnl decimal.Decimal, closedAt time.Time, balanceDelta decimal.Decimal, opToken string) (*model.Position, error)
}

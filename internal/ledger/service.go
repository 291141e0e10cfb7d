// Package ledger implements the order execution and position ledger:
// the logic that turns a buy/sell request plus a price quote into a
// consistent state change across a position record and a cash balance.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/virtualtrader/ledger-engine/internal/model"
	"github.com/virtualtrader/ledger-engine/internal/quote"
	"github.com/virtualtrader/ledger-engine/internal/risk"
	"github.com/virtualtrader/ledger-engine/internal/store"
	"github.com/virtualtrader/ledger-engine/internal/symbol"
)

// Quantity bounds for a single order.
const (
	MinQuantity = 1
	MaxQuantity = 1000
)

// Service is the ledger facade: it exposes open/close/list/account over
// the stores and the quote source, and owns the per-user serialization
// discipline. Operations for one user never interleave; operations for
// different users run concurrently.
//
// The two writes of an operation (position mutation + balance delta) are
// delegated to the store's compound operations, which commit atomically.
// The per-user lock closes the read-check-write gap above them: two
// concurrent opens cannot both pass the funds check on a stale balance,
// and concurrent closes of one position serialize so exactly one finds
// it open.
type Service struct {
	store           store.Store
	quotes          quote.Source
	limiter         *risk.Limiter
	startingBalance decimal.Decimal
	opTimeout       time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex // userID → that user's operation lock

	now   func() time.Time
	newID func() string
}

// Option configures a Service.
type Option func(*Service)

// WithRiskLimiter installs per-user position limits checked before any
// write. Nil (the default) disables limit checks.
func WithRiskLimiter(l *risk.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithOperationTimeout bounds quote retrieval and store I/O per
// operation. Default 5s.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *Service) { s.opTimeout = d }
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a ledger facade. startingBalance is credited to an
// account the first time its user trades or is queried.
func NewService(st store.Store, quotes quote.Source, startingBalance decimal.Decimal, opts ...Option) *Service {
	s := &Service{
		store:           st,
		quotes:          quotes,
		startingBalance: startingBalance,
		opTimeout:       5 * time.Second,
		locks:           make(map[string]*sync.Mutex),
		now:             time.Now,
		newID:           func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// userLock returns the mutex serializing one user's operations.
func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// OpenRequest is a validated open-order request.
type OpenRequest struct {
	UserID   string
	Symbol   string
	Side     string // "long" or "short"
	Quantity int64

	// ClientOrderID is an optional idempotency token. Replaying a token
	// returns the originally created position instead of re-executing.
	ClientOrderID string
}

func (r *OpenRequest) validate() (string, error) {
	if r.UserID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	sym, err := symbol.Normalize(r.Symbol)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.Side != model.SideLong && r.Side != model.SideShort {
		return "", fmt.Errorf("%w: side must be %q or %q", ErrInvalidRequest, model.SideLong, model.SideShort)
	}
	if r.Quantity < MinQuantity || r.Quantity > MaxQuantity {
		return "", fmt.Errorf("%w: quantity must be between %d and %d", ErrInvalidRequest, MinQuantity, MaxQuantity)
	}
	return sym, nil
}

// Open validates an order, prices it, and atomically creates the
// position while applying the balance delta: −cost for long, +cost for
// short. Long orders require balance ≥ cost; shorts are not
// funds-checked but still require a valid quote. Preconditions are
// checked before any write, so a failed open leaves no state change.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*model.Position, decimal.Decimal, error) {
	sym, err := req.validate()
	if err != nil {
		return nil, decimal.Zero, err
	}

	lock := s.userLock(req.UserID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	q, err := s.quotes.Quote(ctx, sym)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("%w: %s: %v", ErrQuoteUnavailable, sym, err)
	}

	account, err := s.store.EnsureAccount(ctx, req.UserID, s.startingBalance)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	qty := decimal.NewFromInt(req.Quantity)
	cost := q.Price.Mul(qty)

	if req.Side == model.SideLong && account.Balance.LessThan(cost) {
		return nil, decimal.Zero, fmt.Errorf("%w: need %s, have %s",
			ErrInsufficientFunds, cost, account.Balance)
	}

	if s.limiter != nil {
		exp, err := s.store.OpenExposure(ctx, req.UserID, sym)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if err := s.limiter.CheckOpen(exp.OpenCount, exp.SymbolNotional, cost); err != nil {
			return nil, decimal.Zero, fmt.Errorf("%w: %v", ErrRiskLimit, err)
		}
	}

	// Opening a long debits the notional; opening a short credits it.
	// The close applies the mirror-image delta at the exit price, so the
	// net balance effect of an open/close pair is exactly the pnl.
	delta := cost.Neg()
	if req.Side == model.SideShort {
		delta = cost
	}

	pos := &model.Position{
		ID:         s.newID(),
		UserID:     req.UserID,
		Symbol:     sym,
		Side:       req.Side,
		Quantity:   req.Quantity,
		EntryPrice: q.Price,
		Status:     model.StatusOpen,
		OpenedAt:   s.now().UTC(),
	}

	if err := s.store.OpenPosition(ctx, pos, delta, req.ClientOrderID); err != nil {
		if errors.Is(err, store.ErrDuplicateOp) {
			return s.replayOpen(ctx, req.UserID, req.ClientOrderID)
		}
		return nil, decimal.Zero, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	slog.Info("order executed",
		"position_id", pos.ID,
		"user", req.UserID,
		"symbol", sym,
		"side", req.Side,
		"qty", req.Quantity,
		"price", q.Price.String(),
		"balance_delta", delta.String(),
	)

	return pos, q.Price, nil
}

// replayOpen resolves an already-applied open token to its position.
func (s *Service) replayOpen(ctx context.Context, userID, token string) (*model.Position, decimal.Decimal, error) {
	id, err := s.store.LookupOperation(ctx, token)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("%w: resolve op token: %v", ErrPersistence, err)
	}
	pos, err := s.store.GetOpenPosition(ctx, userID, id)
	if err != nil {
		// The position may have been closed since the original open.
		return nil, decimal.Zero, fmt.Errorf("%w: replayed open %s", ErrPositionNotFound, id)
	}
	slog.Info("open replayed from op token", "position_id", pos.ID, "user", userID)
	return pos, pos.EntryPrice, nil
}

// CloseRequest is a validated close request.
type CloseRequest struct {
	UserID     string
	PositionID string

	// ClientOrderID is an optional idempotency token, as on open.
	ClientOrderID string
}

func (r *CloseRequest) validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if r.PositionID == "" {
		return fmt.Errorf("%w: position id is required", ErrInvalidRequest)
	}
	return nil
}

// Close prices the position's symbol afresh, computes realized pnl, and
// atomically transitions the position to closed while settling the
// account. The lookup is scoped to the owner and to open positions, so
// foreign-owned and already-closed ids are indistinguishable from
// missing ones.
//
// Settlement unwinds the position at the exit price: a long credits
// exitPrice×quantity (the open debited the entry notional), a short
// debits exitPrice×quantity (the open credited the entry notional).
// Either way the account ends exactly pnl away from its pre-open value.
func (s *Service) Close(ctx context.Context, req CloseRequest) (*model.Position, decimal.Decimal, error) {
	if err := req.validate(); err != nil {
		return nil, decimal.Zero, err
	}

	lock := s.userLock(req.UserID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	pos, err := s.store.GetOpenPosition(ctx, req.UserID, req.PositionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// A retried close finds the position already closed. If the
			// token was recorded, return the original result instead of
			// failing the retry.
			if req.ClientOrderID != "" {
				if id, lerr := s.store.LookupOperation(ctx, req.ClientOrderID); lerr == nil {
					return s.replayClosed(ctx, req.UserID, id)
				}
			}
			return nil, decimal.Zero, fmt.Errorf("%w: %s", ErrPositionNotFound, req.PositionID)
		}
		return nil, decimal.Zero, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	q, err := s.quotes.Quote(ctx, pos.Symbol)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("%w: %s: %v", ErrQuoteUnavailable, pos.Symbol, err)
	}

	qty := decimal.NewFromInt(pos.Quantity)
	var pnl, delta decimal.Decimal
	if pos.Side == model.SideLong {
		pnl = q.Price.Sub(pos.EntryPrice).Mul(qty)
		delta = q.Price.Mul(qty)
	} else {
		pnl = pos.EntryPrice.Sub(q.Price).Mul(qty)
		delta = q.Price.Mul(qty).Neg()
	}

	closed, err := s.store.ClosePosition(ctx, req.UserID, req.PositionID,
		q.Price, pnl, s.now().UTC(), delta, req.ClientOrderID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrDuplicateOp):
			id, lerr := s.store.LookupOperation(ctx, req.ClientOrderID)
			if lerr != nil {
				return nil, decimal.Zero, fmt.Errorf("%w: resolve op token: %v", ErrPersistence, lerr)
			}
			return s.replayClosed(ctx, req.UserID, id)
		case errors.Is(err, store.ErrNotFound):
			// The guarded write found no open row even though the lookup
			// just did: an external writer got there first.
			return nil, decimal.Zero, fmt.Errorf("%w: %s", ErrConcurrencyConflict, req.PositionID)
		default:
			return nil, decimal.Zero, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	slog.Info("position closed",
		"position_id", closed.ID,
		"user", req.UserID,
		"symbol", closed.Symbol,
		"side", closed.Side,
		"exit_price", q.Price.String(),
		"pnl", pnl.String(),
		"balance_delta", delta.String(),
	)

	return closed, pnl, nil
}

// replayClosed returns the closed position an already-applied close
// operation produced, with its stored pnl.
func (s *Service) replayClosed(ctx context.Context, userID, positionID string) (*model.Position, decimal.Decimal, error) {
	positions, err := s.store.ListPositions(ctx, userID, model.StatusClosed)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	for i := range positions {
		if positions[i].ID == positionID && positions[i].PnL != nil {
			slog.Info("close replayed from op token", "position_id", positionID, "user", userID)
			return &positions[i], *positions[i].PnL, nil
		}
	}
	return nil, decimal.Zero, fmt.Errorf("%w: replayed close %s", ErrPositionNotFound, positionID)
}

// ListPositions returns the user's positions, most recently opened
// first. statusFilter of "" returns all; otherwise "open" or "closed".
func (s *Service) ListPositions(ctx context.Context, userID, statusFilter string) ([]model.Position, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if statusFilter != "" && statusFilter != model.StatusOpen && statusFilter != model.StatusClosed {
		return nil, fmt.Errorf("%w: status must be %q or %q", ErrInvalidRequest, model.StatusOpen, model.StatusClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	positions, err := s.store.ListPositions(ctx, userID, statusFilter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if positions == nil {
		positions = []model.Position{}
	}
	return positions, nil
}

// GetAccount returns the user's account, provisioning it with the
// starting balance on first sight.
func (s *Service) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	account, err := s.store.EnsureAccount(ctx, userID, s.startingBalance)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return account, nil
}

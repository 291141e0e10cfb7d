package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/virtualtrader/ledger-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// A single mutex guards all state, so the compound operations are
// trivially atomic.
type MemoryStore struct {
	mu        sync.Mutex
	accounts  map[string]*model.Account
	positions map[string]*model.Position
	ops       map[string]string // op token → position ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*model.Account),
		positions: make(map[string]*model.Position),
		ops:       make(map[string]string),
	}
}

func (s *MemoryStore) EnsureAccount(_ context.Context, userID string, startingBalance decimal.Decimal) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		a = &model.Account{UserID: userID, Balance: startingBalance}
		s.accounts[userID] = a
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetOpenPosition(_ context.Context, userID, positionID string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[positionID]
	if !ok || p.UserID != userID || p.Status != model.StatusOpen {
		return nil, ErrNotFound
	}
	cp := clonePosition(p)
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID, statusFilter string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.UserID != userID {
			continue
		}
		if statusFilter != "" && p.Status != statusFilter {
			continue
		}
		result = append(result, clonePosition(p))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.After(result[j].OpenedAt)
	})
	return result, nil
}

func (s *MemoryStore) OpenExposure(_ context.Context, userID, symbol string) (Exposure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exp := Exposure{SymbolNotional: decimal.Zero}
	for _, p := range s.positions {
		if p.UserID != userID || p.Status != model.StatusOpen {
			continue
		}
		exp.OpenCount++
		if p.Symbol == symbol {
			exp.SymbolNotional = exp.SymbolNotional.Add(p.Notional(p.EntryPrice))
		}
	}
	return exp, nil
}

func (s *MemoryStore) LookupOperation(_ context.Context, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.ops[token]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *MemoryStore) OpenPosition(_ context.Context, pos *model.Position, balanceDelta decimal.Decimal, opToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opToken != "" {
		if _, seen := s.ops[opToken]; seen {
			return ErrDuplicateOp
		}
	}
	a, ok := s.accounts[pos.UserID]
	if !ok {
		return ErrNotFound
	}

	cp := clonePosition(pos)
	s.positions[pos.ID] = &cp
	a.Balance = a.Balance.Add(balanceDelta)
	if opToken != "" {
		s.ops[opToken] = pos.ID
	}
	return nil
}

func (s *MemoryStore) ClosePosition(_ context.Context, userID, positionID string, exitPrice, pnl decimal.Decimal, closedAt time.Time, balanceDelta decimal.Decimal, opToken string) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opToken != "" {
		if _, seen := s.ops[opToken]; seen {
			return nil, ErrDuplicateOp
		}
	}

	p, ok := s.positions[positionID]
	if !ok || p.UserID != userID || p.Status != model.StatusOpen {
		return nil, ErrNotFound
	}
	a, ok := s.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}

	p.Status = model.StatusClosed
	p.ExitPrice = &exitPrice
	p.PnL = &pnl
	p.ClosedAt = &closedAt
	a.Balance = a.Balance.Add(balanceDelta)
	if opToken != "" {
		s.ops[opToken] = positionID
	}

	cp := clonePosition(p)
	return &cp, nil
}

// clonePosition copies a position including its pointer fields, so
// callers can never mutate stored state.
func clonePosition(p *model.Position) model.Position {
	cp := *p
	if p.ExitPrice != nil {
		v := *p.ExitPrice
		cp.ExitPrice = &v
	}
	if p.PnL != nil {
		v := *p.PnL
		cp.PnL = &v
	}
	if p.ClosedAt != nil {
		v := *p.ClosedAt
		cp.ClosedAt = &v
	}
	return cp
}

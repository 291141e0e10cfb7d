package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/virtualtrader/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot read paths (account balances and position lists).
// Writes go to the primary store and invalidate the cache.
//
// The compound open/close operations and the open-position lookup always
// hit the primary: they are inside the ledger's consistency boundary and
// must never observe stale state.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, userID, statusFilter string) ([]model.Position, error) {
	key := positionsKey(userID, statusFilter)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.ListPositions(ctx, userID, statusFilter)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return positions, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) EnsureAccount(ctx context.Context, userID string, startingBalance decimal.Decimal) (*model.Account, error) {
	a, err := s.primary.EnsureAccount(ctx, userID, startingBalance)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) OpenPosition(ctx context.Context, pos *model.Position, balanceDelta decimal.Decimal, opToken string) error {
	if err := s.primary.OpenPosition(ctx, pos, balanceDelta, opToken); err != nil {
		return err
	}
	s.invalidateUser(ctx, pos.UserID)
	return nil
}

func (s *CachedStore) ClosePosition(ctx context.Context, userID, positionID string, exitPrice, pnl decimal.Decimal, closedAt time.Time, balanceDelta decimal.Decimal, opToken string) (*model.Position, error) {
	p, err := s.primary.ClosePosition(ctx, userID, positionID, exitPrice, pnl, closedAt, balanceDelta, opToken)
	if err != nil {
		return nil, err
	}
	s.invalidateUser(ctx, userID)
	return p, nil
}

// --- Passthrough (consistency boundary, never cached) ---

func (s *CachedStore) GetOpenPosition(ctx context.Context, userID, positionID string) (*model.Position, error) {
	return s.primary.GetOpenPosition(ctx, userID, positionID)
}

func (s *CachedStore) OpenExposure(ctx context.Context, userID, symbol string) (Exposure, error) {
	return s.primary.OpenExposure(ctx, userID, symbol)
}

func (s *CachedStore) LookupOperation(ctx context.Context, token string) (string, error) {
	return s.primary.LookupOperation(ctx, token)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.UserID), data, s.ttl)
	}
}

func (s *CachedStore) invalidateUser(ctx context.Context, userID string) {
	s.rdb.Del(ctx,
		accountKey(userID),
		positionsKey(userID, ""),
		positionsKey(userID, model.StatusOpen),
		positionsKey(userID, model.StatusClosed),
	)
}

func accountKey(uid string) string { return fmt.Sprintf("account:%s", uid) }

func positionsKey(uid, status string) string {
	if status == "" {
		return fmt.Sprintf("positions:%s:all", uid)
	}
	return fmt.Sprintf("positions:%s:%s", uid, status)
}

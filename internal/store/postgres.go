package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/virtualtrader/ledger-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// The compound open/close operations run inside a single transaction so
// the position write and the balance delta commit together.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const uniqueViolation = "23505"

// Migrate creates the schema if it does not exist. Monetary columns are
// NUMERIC; TIMESTAMPTZ for instants.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			balance NUMERIC NOT NULL
		);
		CREATE TABLE IF NOT EXISTS positions (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			side        TEXT NOT NULL,
			quantity    BIGINT NOT NULL,
			entry_price NUMERIC NOT NULL,
			exit_price  NUMERIC,
			status      TEXT NOT NULL,
			pnl         NUMERIC,
			opened_at   TIMESTAMPTZ NOT NULL,
			closed_at   TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_positions_user_status ON positions (user_id, status);
		CREATE INDEX IF NOT EXISTS idx_positions_user_opened ON positions (user_id, opened_at DESC);
		CREATE TABLE IF NOT EXISTS ledger_ops (
			token       TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, userID string, startingBalance decimal.Decimal) (*model.Account, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (user_id, balance)
		 VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING balance::TEXT`,
		userID, startingBalance.String(),
	).Scan(&balance)
	if err != nil {
		return nil, fmt.Errorf("ensure account %s: %w", userID, err)
	}

	a := &model.Account{UserID: userID}
	a.Balance, _ = decimal.NewFromString(balance)
	return a, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM accounts WHERE user_id = $1`, userID).
		Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}

	a := &model.Account{UserID: userID}
	a.Balance, _ = decimal.NewFromString(balance)
	return a, nil
}

const positionColumns = `id, user_id, symbol, side, quantity,
	        entry_price::TEXT, exit_price::TEXT, status, pnl::TEXT,
	        opened_at, closed_at`

func (s *PostgresStore) GetOpenPosition(ctx context.Context, userID, positionID string) (*model.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+`
		 FROM positions
		 WHERE id = $1 AND user_id = $2 AND status = 'open'`,
		positionID, userID)

	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get open position %s: %w", positionID, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID, statusFilter string) ([]model.Position, error) {
	query := `SELECT ` + positionColumns + `
		 FROM positions WHERE user_id = $1`
	args := []any{userID}
	if statusFilter != "" {
		query += ` AND status = $2`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY opened_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) OpenExposure(ctx context.Context, userID, symbol string) (Exposure, error) {
	var count int
	var notional string
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN symbol = $2 THEN entry_price * quantity ELSE 0 END), 0)::TEXT
		 FROM positions
		 WHERE user_id = $1 AND status = 'open'`,
		userID, symbol).
		Scan(&count, &notional)
	if err != nil {
		return Exposure{}, fmt.Errorf("open exposure %s: %w", userID, err)
	}

	exp := Exposure{OpenCount: count}
	exp.SymbolNotional, _ = decimal.NewFromString(notional)
	return exp, nil
}

func (s *PostgresStore) LookupOperation(ctx context.Context, token string) (string, error) {
	var positionID string
	err := s.pool.QueryRow(ctx,
		`SELECT position_id FROM ledger_ops WHERE token = $1`, token).
		Scan(&positionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup operation: %w", err)
	}
	return positionID, nil
}

func (s *PostgresStore) OpenPosition(ctx context.Context, pos *model.Position, balanceDelta decimal.Decimal, opToken string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin open: %w", err)
	}
	defer tx.Rollback(ctx)

	if opToken != "" {
		if err := insertOp(ctx, tx, opToken, pos.ID); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO positions (id, user_id, symbol, side, quantity, entry_price, status, opened_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8)`,
		pos.ID, pos.UserID, pos.Symbol, pos.Side, pos.Quantity,
		pos.EntryPrice.String(), pos.Status, pos.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}

	if err := applyDelta(ctx, tx, pos.UserID, balanceDelta); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ClosePosition(ctx context.Context, userID, positionID string, exitPrice, pnl decimal.Decimal, closedAt time.Time, balanceDelta decimal.Decimal, opToken string) (*model.Position, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin close: %w", err)
	}
	defer tx.Rollback(ctx)

	if opToken != "" {
		if err := insertOp(ctx, tx, opToken, positionID); err != nil {
			return nil, err
		}
	}

	// Guarded transition: only an open position owned by this user moves
	// to closed. Zero rows means missing, foreign, or already closed.
	row := tx.QueryRow(ctx,
		`UPDATE positions
		 SET status = 'closed', exit_price = $3::NUMERIC, pnl = $4::NUMERIC, closed_at = $5
		 WHERE id = $1 AND user_id = $2 AND status = 'open'
		 RETURNING `+positionColumns,
		positionID, userID, exitPrice.String(), pnl.String(), closedAt)

	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("close position %s: %w", positionID, err)
	}

	if err := applyDelta(ctx, tx, userID, balanceDelta); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit close: %w", err)
	}
	return p, nil
}

func insertOp(ctx context.Context, tx pgx.Tx, token, positionID string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO ledger_ops (token, position_id, applied_at)
		 VALUES ($1, $2, NOW())`,
		token, positionID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateOp
	}
	if err != nil {
		return fmt.Errorf("record operation: %w", err)
	}
	return nil
}

func applyDelta(ctx context.Context, tx pgx.Tx, userID string, delta decimal.Decimal) error {
	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $2::NUMERIC WHERE user_id = $1`,
		userID, delta.String())
	if err != nil {
		return fmt.Errorf("apply balance delta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanPosition reads one positions row (in positionColumns order) with
// NUMERIC columns cast to TEXT for exact decimal round-tripping.
func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var entry string
	var exit, pnl *string
	var closedAt *time.Time

	if err := row.Scan(&p.ID, &p.UserID, &p.Symbol, &p.Side, &p.Quantity,
		&entry, &exit, &p.Status, &pnl,
		&p.OpenedAt, &closedAt); err != nil {
		return nil, err
	}

	p.EntryPrice, _ = decimal.NewFromString(entry)
	if exit != nil {
		v, _ := decimal.NewFromString(*exit)
		p.ExitPrice = &v
	}
	if pnl != nil {
		v, _ := decimal.NewFromString(*pnl)
		p.PnL = &v
	}
	p.ClosedAt = closedAt

	return &p, nil
}

package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/virtualtrader/ledger-engine/internal/ledger"
	"github.com/virtualtrader/ledger-engine/internal/model"
	"github.com/virtualtrader/ledger-engine/internal/quote"
	"github.com/virtualtrader/ledger-engine/internal/risk"
	"github.com/virtualtrader/ledger-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a ledger over an in-memory store and a static
// quote source with EURUSD pinned at 1.0850. Starting balance 10000.
func newTestEnv(t *testing.T, opts ...ledger.Option) (*ledger.Service, *store.MemoryStore, *quote.StaticSource) {
	t.Helper()
	ms := store.NewMemoryStore()
	src := quote.NewStaticSource(map[string]decimal.Decimal{
		"EURUSD": d(1.0850),
		"GBPUSD": d(1.2650),
	})
	svc := ledger.NewService(ms, src, d(10000), opts...)
	return svc, ms, src
}

func mustOpen(t *testing.T, svc *ledger.Service, req ledger.OpenRequest) *model.Position {
	t.Helper()
	pos, _, err := svc.Open(context.Background(), req)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	return pos
}

func balance(t *testing.T, svc *ledger.Service, userID string) decimal.Decimal {
	t.Helper()
	a, err := svc.GetAccount(context.Background(), userID)
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}
	return a.Balance
}

// --- Open ---

func TestOpen_LongDebitsNotional(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	pos, price, err := svc.Open(context.Background(), ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !price.Equal(d(1.0850)) {
		t.Errorf("execution price: expected 1.085, got %s", price)
	}
	if pos.Status != model.StatusOpen {
		t.Errorf("expected status open, got %s", pos.Status)
	}
	if !pos.EntryPrice.Equal(d(1.0850)) {
		t.Errorf("entry price: expected 1.085, got %s", pos.EntryPrice)
	}
	if pos.Symbol != "EURUSD" {
		t.Errorf("expected symbol EURUSD, got %s", pos.Symbol)
	}
	if pos.OpenedAt.IsZero() {
		t.Error("expected non-zero opened_at")
	}

	// 10000 − 1.0850×100 = 9891.50
	if got := balance(t, svc, "user1"); !got.Equal(d(9891.50)) {
		t.Errorf("balance: expected 9891.50, got %s", got)
	}
}

func TestOpen_ShortCreditsNotional(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	mustOpen(t, svc, ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideShort, Quantity: 100,
	})

	// 10000 + 1.0850×100 = 10108.50
	if got := balance(t, svc, "user1"); !got.Equal(d(10108.50)) {
		t.Errorf("balance: expected 10108.50, got %s", got)
	}
}

func TestOpen_NormalizesSymbol(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	pos := mustOpen(t, svc, ledger.OpenRequest{
		UserID: "user1", Symbol: " eurusd ", Side: model.SideLong, Quantity: 1,
	})
	if pos.Symbol != "EURUSD" {
		t.Errorf("expected normalized EURUSD, got %s", pos.Symbol)
	}
}

func TestOpen_InsufficientFunds(t *testing.T) {
	ms := store.NewMemoryStore()
	src := quote.NewStaticSource(map[string]decimal.Decimal{"BTCUSD": d(43250)})
	svc := ledger.NewService(ms, src, d(10000))

	_, _, err := svc.Open(context.Background(), ledger.OpenRequest{
		UserID: "user1", Symbol: "BTCUSD", Side: model.SideLong, Quantity: 1,
	})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	// No partial effect: balance untouched, no position created.
	if got := balance(t, svc, "user1"); !got.Equal(d(10000)) {
		t.Errorf("balance should be unchanged, got %s", got)
	}
	positions, _ := svc.ListPositions(context.Background(), "user1", "")
	if len(positions) != 0 {
		t.Errorf("expected 0 positions, got %d", len(positions))
	}
}

func TestOpen_ShortNotFundsChecked(t *testing.T) {
	ms := store.NewMemoryStore()
	src := quote.NewStaticSource(map[string]decimal.Decimal{"BTCUSD": d(43250)})
	svc := ledger.NewService(ms, src, d(10000))

	// Cost 43250 > balance 10000, but shorts are margin-free here.
	pos := mustOpen(t, svc, ledger.OpenRequest{
		UserID: "user1", Symbol: "BTCUSD", Side: model.SideShort, Quantity: 1,
	})
	if pos.Side != model.SideShort {
		t.Errorf("expected short position, got %s", pos.Side)
	}
	if got := balance(t, svc, "user1"); !got.Equal(d(53250)) {
		t.Errorf("balance: expected 53250, got %s", got)
	}
}

func TestOpen_InvalidRequests(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	tests := []struct {
		name string
		req  ledger.OpenRequest
	}{
		{"empty symbol", ledger.OpenRequest{UserID: "u", Symbol: "", Side: model.SideLong, Quantity: 1}},
		{"bad side", ledger.OpenRequest{UserID: "u", Symbol: "EURUSD", Side: "buy", Quantity: 1}},
		{"zero quantity", ledger.OpenRequest{UserID: "u", Symbol: "EURUSD", Side: model.SideLong, Quantity: 0}},
		{"negative quantity", ledger.OpenRequest{UserID: "u", Symbol: "EURUSD", Side: model.SideLong, Quantity: -5}},
		{"quantity over max", ledger.OpenRequest{UserID: "u", Symbol: "EURUSD", Side: model.SideLong, Quantity: 1001}},
		{"missing user", ledger.OpenRequest{Symbol: "EURUSD", Side: model.SideLong, Quantity: 1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Open(context.Background(), tc.req)
			if !errors.Is(err, ledger.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}

	// No state change from any rejected request.
	positions, _ := svc.ListPositions(context.Background(), "u", "")
	if len(positions) != 0 {
		t.Errorf("expected 0 positions after rejections, got %d", len(positions))
	}
}

func TestOpen_QuoteUnavailable(t *testing.T) {
	svc, _, src := newTestEnv(t)

	_, _, err := svc.Open(context.Background(), ledger.OpenRequest{
		UserID: "user1", Symbol: "XAUUSD", Side: model.SideLong, Quantity: 1,
	})
	if !errors.Is(err, ledger.ErrQuoteUnavailable) {
		t.Fatalf("unknown symbol: expected ErrQuoteUnavailable, got %v", err)
	}

	src.Fail(quote.ErrUnavailable)
	_, _, err = svc.Open(context.Background(), ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 1,
	})
	if !errors.Is(err, ledger.ErrQuoteUnavailable) {
		t.Fatalf("source down: expected ErrQuoteUnavailable, got %v", err)
	}
}

// --- Close ---

// The canonical scenario: balance 10000, open long EURUSD qty 100 at
// 1.0850 (balance 9891.50), close at 1.1000. pnl = 0.015×100 = 1.50 and
// the account ends exactly pnl above where it started: 10001.50.
func TestClose_LongNetsExactlyPnL(t *testing.T) {
	svc, _, src := newTestEnv(t)

	pos := mustOpen(t, svc, ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 100,
	})
	if got := balance(t, svc, "user1"); !got.Equal(d(9891.50)) {
		t.Fatalf("post-open balance: expected 9891.50, got %s", got)
	}

	src.Set("EURUSD", d(1.1000))

	closed, pnl, err := svc.Close(context.Background(), ledger.CloseRequest{
		UserID: "user1", PositionID: pos.ID,
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if !pnl.Equal(d(1.50)) {
		t.Errorf("pnl: expected 1.50, got %s", pnl)
	}
	if closed.Status != model.StatusClosed {
		t.Errorf("expected status closed, got %s", closed.Status)
	}
	if closed.ExitPrice == nil || !closed.ExitPrice.Equal(d(1.1000)) {
		t.Errorf("exit price: expected 1.10, got %v", closed.ExitPrice)
	}
	if closed.PnL == nil || !closed.PnL.Equal(d(1.50)) {
		t.Errorf("stored pnl: expected 1.50, got %v", closed.PnL)
	}
	if closed.ClosedAt == nil {
		t.Error("expected closed_at to be set")
	}

	if got := balance(t, svc, "user1"); !got.Equal(d(10001.50)) {
		t.Errorf("final balance: expected 10001.50 (net +pnl), got %s", got)
	}
}

func TestClose_ShortNetsExactlyPnL(t *testing.T) {
	svc, _, src := newTestEnv(t)

	pos := mustOpen(t, svc, ledger.OpenRequest{
		UserID: "user1", Symbol: "GBPUSD", Side: model.SideShort, Quantity: 50,
	})

	src.Set("GBPUSD", d(1.2500)) // price falls; short profits

	_, pnl, err := svc.Close(context.Background(), ledger.CloseRequest{
		UserID: "user1", PositionID: pos.ID,
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// (1.2650 − 1.2500) × 50 = 0.75
	if !pnl.Equal(d(0.75)) {
		t.Errorf("pnl: expected 0.75, got %s", pnl)
	}
	if got := balance(t, svc, "user1"); !got.Equal(d(10000.75)) {
		t.Errorf("final balance: expected 10000.75 (net +pnl), got %s", got)
	}
}

func TestClose_LosingLong(t *testing.T) {
	svc, _, src := newTestEnv(t)

	pos := mustOpen(t, svc, ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 200,
	})

	src.Set("EURUSD", d(1.0700))

	_, pnl, err := svc.Close(context.Background(), ledger.CloseRequest{
		UserID: "user1", PositionID: pos.ID,
	})
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// (1.0700 − 1.0850) × 200 = −3.00
	if !pnl.Equal(d(-3.00)) {
		t.Errorf("pnl: expected -3.00, got %s", pnl)
	}
	if got := balance(t, svc, "user1"); !got.Equal(d(9997.00)) {
		t.Errorf("final balance: expected 9997.00, got %s", got)
	}
}

func TestClose_Twice(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	pos := mustOpen(t, svc, ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 10,
	})

	if _, _, err := svc.Close(context.Background(), ledger.CloseRequest{
		UserID: "user1", PositionID: pos.ID,
	}); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	after := balance(t, svc, "user1")

	_, _, err := svc.Close(context.Background(), ledger.CloseRequest{
		UserID: "user1", PositionID: pos.ID,
	})
	if !errors.Is(err, ledger.ErrPositionNotFound) {
		t.Fatalf("second close: expected ErrPositionNotFound, got %v", err)
	}

	// Balance changed exactly once in total.
	if got := balance(t, svc, "user1"); !got.Equal(after) {
		t.Errorf("balance moved on failed close: %s vs %s", got, after)
	}
}

func TestClose_ForeignPositionIndistinguishable(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	pos := mustOpen(t, svc, ledger.OpenRequest{
		UserID: "owner", Symbol: "EURUSD", Side: model.SideLong, Quantity: 10,
	})

	// Another user closing it gets the same error as a bogus id.
	_, _, errForeign := svc.Close(context.Background(), ledger.CloseRequest{
		UserID: "intruder", PositionID: pos.ID,
	})
	_, _, errMissing := svc.Close(context.Background(), ledger.CloseRequest{
		UserID: "intruder", PositionID: "no-such-position",
	})

	if !errors.Is(errForeign, ledger.ErrPositionNotFound) {
		t.Errorf("foreign close: expected ErrPositionNotFound, got %v", errForeign)
	}
	if !errors.Is(errMissing, ledger.ErrPositionNotFound) {
		t.Errorf("missing close: expected ErrPositionNotFound, got %v", errMissing)
	}
}

func TestClose_QuoteUnavailableNoSideEffect(t *testing.T) {
	svc, _, src := newTestEnv(t)

	pos := mustOpen(t, svc, ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 10,
	})
	before := balance(t, svc, "user1")

	src.Fail(quote.ErrUnavailable)
	_, _, err := svc.Close(context.Background(), ledger.CloseRequest{
		UserID: "user1", PositionID: pos.ID,
	})
	if !errors.Is(err, ledger.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}

	// Position still open, balance untouched.
	src.Fail(nil)
	positions, _ := svc.ListPositions(context.Background(), "user1", model.StatusOpen)
	if len(positions) != 1 {
		t.Errorf("position should still be open, got %d open", len(positions))
	}
	if got := balance(t, svc, "user1"); !got.Equal(before) {
		t.Errorf("balance should be unchanged, got %s", got)
	}
}

// --- Concurrency ---

func TestConcurrentClose_ExactlyOneWins(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	pos := mustOpen(t, svc, ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 100,
	})
	preClose := balance(t, svc, "user1")

	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Close(context.Background(), ledger.CloseRequest{
				UserID: "user1", PositionID: pos.ID,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, notFound int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ledger.ErrPositionNotFound):
			notFound++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if successes != 1 {
		t.Errorf("expected exactly 1 successful close, got %d", successes)
	}
	if notFound != n-1 {
		t.Errorf("expected %d ErrPositionNotFound, got %d", n-1, notFound)
	}

	// Settlement applied exactly once: price unchanged so delta is the
	// entry notional, returning the balance to its pre-open value.
	expected := preClose.Add(d(1.0850).Mul(d(100)))
	if got := balance(t, svc, "user1"); !got.Equal(expected) {
		t.Errorf("balance: expected %s, got %s", expected, got)
	}
}

func TestConcurrentOpen_FundsCheckedSerially(t *testing.T) {
	// Balance covers exactly one of the two orders. Without per-user
	// serialization both could read the pre-open balance and pass.
	ms := store.NewMemoryStore()
	src := quote.NewStaticSource(map[string]decimal.Decimal{"EURUSD": d(100)})
	svc := ledger.NewService(ms, src, d(15000)) // each order costs 10000

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Open(context.Background(), ledger.OpenRequest{
				UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 100,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, rejected int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ledger.ErrInsufficientFunds):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if successes != 1 || rejected != 1 {
		t.Errorf("expected 1 success + 1 insufficient-funds, got %d/%d", successes, rejected)
	}
	if got := balance(t, svc, "user1"); !got.Equal(d(5000)) {
		t.Errorf("balance: expected 5000, got %s", got)
	}
}

// --- Idempotency ---

func TestOpen_IdempotentToken(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	req := ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 100,
		ClientOrderID: "op-123",
	}

	first, _, err := svc.Open(context.Background(), req)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	replay, price, err := svc.Open(context.Background(), req)
	if err != nil {
		t.Fatalf("replayed open failed: %v", err)
	}

	if replay.ID != first.ID {
		t.Errorf("replay returned a different position: %s vs %s", replay.ID, first.ID)
	}
	if !price.Equal(first.EntryPrice) {
		t.Errorf("replay price: expected %s, got %s", first.EntryPrice, price)
	}

	// Debited once, not twice.
	if got := balance(t, svc, "user1"); !got.Equal(d(9891.50)) {
		t.Errorf("balance: expected 9891.50, got %s", got)
	}
	positions, _ := svc.ListPositions(context.Background(), "user1", "")
	if len(positions) != 1 {
		t.Errorf("expected 1 position, got %d", len(positions))
	}
}

func TestClose_IdempotentToken(t *testing.T) {
	svc, _, src := newTestEnv(t)

	pos := mustOpen(t, svc, ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 100,
	})
	src.Set("EURUSD", d(1.1000))

	req := ledger.CloseRequest{UserID: "user1", PositionID: pos.ID, ClientOrderID: "close-op-1"}

	first, firstPnL, err := svc.Close(context.Background(), req)
	if err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	replay, replayPnL, err := svc.Close(context.Background(), req)
	if err != nil {
		t.Fatalf("replayed close failed: %v", err)
	}

	if replay.ID != first.ID {
		t.Errorf("replay returned a different position: %s vs %s", replay.ID, first.ID)
	}
	if !replayPnL.Equal(firstPnL) {
		t.Errorf("replay pnl: expected %s, got %s", firstPnL, replayPnL)
	}
	if got := balance(t, svc, "user1"); !got.Equal(d(10001.50)) {
		t.Errorf("balance settled more than once: got %s", got)
	}
}

func TestClose_UnseenTokenIsNotFound(t *testing.T) {
	svc, _, src := newTestEnv(t)

	pos := mustOpen(t, svc, ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 100,
	})
	src.Set("EURUSD", d(1.1000))

	if _, _, err := svc.Close(context.Background(), ledger.CloseRequest{
		UserID: "user1", PositionID: pos.ID, ClientOrderID: "close-op-1",
	}); err != nil {
		t.Fatalf("first close failed: %v", err)
	}

	// A fresh token on an already-closed position is not a retry; it
	// must fail like any other close of a missing position.
	_, _, err := svc.Close(context.Background(), ledger.CloseRequest{
		UserID: "user1", PositionID: pos.ID, ClientOrderID: "close-op-2",
	})
	if !errors.Is(err, ledger.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

// --- Timeouts ---

// stuckSource blocks until the caller's context expires.
type stuckSource struct{}

func (stuckSource) Quote(ctx context.Context, _ string) (model.Quote, error) {
	<-ctx.Done()
	return model.Quote{}, ctx.Err()
}

func TestOpen_QuoteTimeoutNoSideEffect(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := ledger.NewService(ms, stuckSource{}, d(10000),
		ledger.WithOperationTimeout(10*time.Millisecond))

	_, _, err := svc.Open(context.Background(), ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 100,
	})
	if !errors.Is(err, ledger.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}

	// Timed-out open leaves no state behind.
	if got := balance(t, svc, "user1"); !got.Equal(d(10000)) {
		t.Errorf("balance: expected 10000, got %s", got)
	}
	positions, _ := svc.ListPositions(context.Background(), "user1", "")
	if len(positions) != 0 {
		t.Errorf("expected no positions, got %d", len(positions))
	}
}

func TestClose_QuoteTimeoutLeavesPositionOpen(t *testing.T) {
	svc, ms, src := newTestEnv(t, ledger.WithOperationTimeout(10*time.Millisecond))

	pos := mustOpen(t, svc, ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 100,
	})
	src.Fail(context.DeadlineExceeded)

	_, _, err := svc.Close(context.Background(), ledger.CloseRequest{
		UserID: "user1", PositionID: pos.ID,
	})
	if !errors.Is(err, ledger.ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}

	if _, err := ms.GetOpenPosition(context.Background(), "user1", pos.ID); err != nil {
		t.Errorf("position should still be open: %v", err)
	}
	if got := balance(t, svc, "user1"); !got.Equal(d(9891.50)) {
		t.Errorf("balance: expected 9891.50, got %s", got)
	}
}

// --- Queries ---

func TestListPositions_FilterAndOrder(t *testing.T) {
	base := int64(0)
	clock := func() time.Time { base++; return time.Unix(1700000000+base, 0) }
	svc, _, _ := newTestEnv(t, ledger.WithClock(clock))

	p1 := mustOpen(t, svc, ledger.OpenRequest{UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 1})
	p2 := mustOpen(t, svc, ledger.OpenRequest{UserID: "user1", Symbol: "GBPUSD", Side: model.SideShort, Quantity: 2})
	p3 := mustOpen(t, svc, ledger.OpenRequest{UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 3})

	if _, _, err := svc.Close(context.Background(), ledger.CloseRequest{UserID: "user1", PositionID: p2.ID}); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	all, err := svc.ListPositions(context.Background(), "user1", "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 positions, got %d", len(all))
	}
	// Most recently opened first.
	if all[0].ID != p3.ID || all[2].ID != p1.ID {
		t.Errorf("expected recency order [%s %s %s], got [%s %s %s]",
			p3.ID, p2.ID, p1.ID, all[0].ID, all[1].ID, all[2].ID)
	}

	open, _ := svc.ListPositions(context.Background(), "user1", model.StatusOpen)
	if len(open) != 2 {
		t.Errorf("expected 2 open, got %d", len(open))
	}
	closed, _ := svc.ListPositions(context.Background(), "user1", model.StatusClosed)
	if len(closed) != 1 || closed[0].ID != p2.ID {
		t.Errorf("expected closed=[%s], got %d entries", p2.ID, len(closed))
	}

	if _, err := svc.ListPositions(context.Background(), "user1", "pending"); !errors.Is(err, ledger.ErrInvalidRequest) {
		t.Errorf("bad filter: expected ErrInvalidRequest, got %v", err)
	}
}

func TestGetAccount_ProvisionsStartingBalance(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	a, err := svc.GetAccount(context.Background(), "fresh-user")
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}
	if !a.Balance.Equal(d(10000)) {
		t.Errorf("expected starting balance 10000, got %s", a.Balance)
	}
}

// --- Risk limits ---

func TestOpen_RiskLimiterRejects(t *testing.T) {
	svc, _, _ := newTestEnv(t, ledger.WithRiskLimiter(risk.NewLimiter(1, decimal.Zero)))

	mustOpen(t, svc, ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 1,
	})

	_, _, err := svc.Open(context.Background(), ledger.OpenRequest{
		UserID: "user1", Symbol: "EURUSD", Side: model.SideLong, Quantity: 1,
	})
	if !errors.Is(err, ledger.ErrRiskLimit) {
		t.Fatalf("expected ErrRiskLimit, got %v", err)
	}
	positions, _ := svc.ListPositions(context.Background(), "user1", "")
	if len(positions) != 1 {
		t.Errorf("expected 1 position after rejection, got %d", len(positions))
	}
}

// Package trade provides the HTTP surface over the ledger facade:
// order placement, position close, position/account queries, and
// quote lookup, plus the WebSocket execution feed.
package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/virtualtrader/ledger-engine/internal/ledger"
	"github.com/virtualtrader/ledger-engine/internal/metrics"
	"github.com/virtualtrader/ledger-engine/internal/model"
	"github.com/virtualtrader/ledger-engine/internal/quote"
	"github.com/virtualtrader/ledger-engine/internal/symbol"
)

// Handler serves the trading API over a ledger service.
type Handler struct {
	ledger *ledger.Service
	quotes quote.Source
	wsHub  *WSHub // optional; nil disables broadcasting
}

// NewHandler creates the HTTP handler set. Pass nil for hub if
// WebSocket broadcasting is not needed.
func NewHandler(l *ledger.Service, quotes quote.Source, hub *WSHub) *Handler {
	return &Handler{ledger: l, quotes: quotes, wsHub: hub}
}

// --- Request/Response types ---

// OrderRequest is the JSON body for POST /orders.
type OrderRequest struct {
	UserID        string `json:"user_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"` // "long" or "short"
	Quantity      int64  `json:"quantity"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// OrderResponse is returned from POST /orders.
type OrderResponse struct {
	Position       *model.Position `json:"position"`
	ExecutionPrice decimal.Decimal `json:"execution_price"`
}

// CloseOrderRequest is the JSON body for POST /orders/{positionID}/close.
type CloseOrderRequest struct {
	UserID        string `json:"user_id"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// CloseResponse is returned from POST /orders/{positionID}/close.
type CloseResponse struct {
	Position *model.Position `json:"position"`
	PnL      decimal.Decimal `json:"pnl"`
}

// --- HTTP Handlers ---

// PlaceOrder handles POST /api/v1/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	pos, price, err := h.ledger.Open(r.Context(), ledger.OpenRequest{
		UserID:        req.UserID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Quantity:      req.Quantity,
		ClientOrderID: req.ClientOrderID,
	})
	metrics.OperationLatency.WithLabelValues("open").Observe(time.Since(start).Seconds())
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	metrics.OrdersTotal.WithLabelValues(pos.Side).Inc()
	metrics.OpenPositions.Inc()

	if h.wsHub != nil {
		h.wsHub.Broadcast(WSMessage{
			Type:     "order_executed",
			Symbol:   pos.Symbol,
			Side:     pos.Side,
			Quantity: pos.Quantity,
			Price:    price.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(OrderResponse{Position: pos, ExecutionPrice: price})
}

// ClosePosition handles POST /api/v1/orders/{positionID}/close.
func (h *Handler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")

	var req CloseOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	pos, pnl, err := h.ledger.Close(r.Context(), ledger.CloseRequest{
		UserID:        req.UserID,
		PositionID:    positionID,
		ClientOrderID: req.ClientOrderID,
	})
	metrics.OperationLatency.WithLabelValues("close").Observe(time.Since(start).Seconds())
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	metrics.ClosesTotal.WithLabelValues(pos.Side).Inc()
	metrics.OpenPositions.Dec()

	if h.wsHub != nil {
		h.wsHub.Broadcast(WSMessage{
			Type:     "position_closed",
			Symbol:   pos.Symbol,
			Side:     pos.Side,
			Quantity: pos.Quantity,
			Price:    pos.ExitPrice.String(),
			PnL:      pnl.String(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CloseResponse{Position: pos, PnL: pnl})
}

// ListPositions handles GET /api/v1/positions/{userID}?status=open|closed.
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	status := r.URL.Query().Get("status")

	positions, err := h.ledger.ListPositions(r.Context(), userID, status)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// GetAccount handles GET /api/v1/accounts/{userID}.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	account, err := h.ledger.GetAccount(r.Context(), userID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// GetQuote handles GET /api/v1/quotes?symbol=EURUSD.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	sym, err := symbol.Normalize(r.URL.Query().Get("symbol"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	q, err := h.quotes.Quote(r.Context(), sym)
	if err != nil {
		if errors.Is(err, quote.ErrUnknownSymbol) {
			writeError(w, "symbol not found", http.StatusNotFound)
			return
		}
		writeError(w, "failed to fetch price", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(q)
}

// --- Error mapping ---

// writeLedgerError maps ledger sentinel errors to HTTP statuses and
// records a rejection metric.
func writeLedgerError(w http.ResponseWriter, err error) {
	var status int
	var reason string

	switch {
	case errors.Is(err, ledger.ErrInvalidRequest):
		status, reason = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, ledger.ErrQuoteUnavailable):
		status, reason = http.StatusBadGateway, "quote_unavailable"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status, reason = http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, ledger.ErrPositionNotFound):
		status, reason = http.StatusNotFound, "position_not_found"
	case errors.Is(err, ledger.ErrRiskLimit):
		status, reason = http.StatusConflict, "risk_limit"
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		status, reason = http.StatusConflict, "conflict"
	default:
		status, reason = http.StatusInternalServerError, "persistence"
		slog.Error("ledger operation failed", "err", err)
	}

	metrics.OrderRejections.WithLabelValues(reason).Inc()
	writeError(w, err.Error(), status)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

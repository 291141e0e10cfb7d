package ledger

import "errors"

// Sentinel errors for ledger operations. The transport layer maps these
// to caller-visible statuses; retry policy lives with the caller.
var (
	// ErrInvalidRequest: malformed side/quantity/symbol. Caller error,
	// no side effect.
	ErrInvalidRequest = errors.New("ledger: invalid request")

	// ErrQuoteUnavailable: the pricing dependency could not produce a
	// price. Transient, safe to retry, no side effect.
	ErrQuoteUnavailable = errors.New("ledger: quote unavailable")

	// ErrInsufficientFunds: business-rule rejection, no side effect.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrPositionNotFound covers missing, foreign-owned, and already
	// closed positions. Deliberately indistinguishable so existence of
	// other users' positions never leaks.
	ErrPositionNotFound = errors.New("ledger: position not found")

	// ErrPersistence: durable-store failure. Retryable with backoff;
	// retries are safe when the request carries an operation token.
	ErrPersistence = errors.New("ledger: persistence failure")

	// ErrConcurrencyConflict: a lost update was detected by the guarded
	// write. The caller should retry the whole operation.
	ErrConcurrencyConflict = errors.New("ledger: concurrency conflict")

	// ErrRiskLimit: the order was rejected by a position limit.
	ErrRiskLimit = errors.New("ledger: risk limit exceeded")
)

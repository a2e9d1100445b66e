package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"perp_go/internal/domain"
)

// Client is the REST surface of an exchange. Implementations speak the
// venue's wire protocol; the engine only depends on these semantics.
type Client interface {
	// PlaceOrder submits an order under the caller's idempotency token.
	// Submitting the same ClientOrderID twice must not create a second
	// order on a conforming venue.
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// CancelOrder cancels by the caller's token.
	CancelOrder(ctx context.Context, clientOrderID, symbol string) error

	// QueryOrder reports whether the venue knows an order for the token,
	// and if so how it executed. Used to resolve ambiguous submissions.
	QueryOrder(ctx context.Context, clientOrderID, symbol string) (OrderAck, error)
}

// OrderRequest is an outbound order.
type OrderRequest struct {
	ClientOrderID string // idempotency token, supplied by the caller
	Symbol        string
	Side          domain.Side
	Qty           decimal.Decimal
	Price         decimal.Decimal
	ReduceOnly    bool
}

// OrderAck is the venue's answer to a placement or status query.
type OrderAck struct {
	ClientOrderID string
	ExchangeID    string
	Symbol        string
	Qty           decimal.Decimal
	Price         decimal.Decimal
	Fee           decimal.Decimal
	At            time.Time
	Found         bool // query only: the venue knows this token
}

// Error classes. Transport failures where the request certainly never
// applied are transient; failures where it may have applied (timeout
// after send, connection reset mid-response) are ambiguous and must not
// be blind-retried.

type transientError struct{ err error }

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

type ambiguousError struct{ err error }

func (e *ambiguousError) Error() string { return "ambiguous: " + e.err.Error() }
func (e *ambiguousError) Unwrap() error { return e.err }

// Transient wraps err as a retryable failure.
func Transient(err error) error { return &transientError{err: err} }

// Ambiguous wraps err as a possibly-applied failure.
func Ambiguous(err error) error { return &ambiguousError{err: err} }

// IsTransient reports whether err is safe to retry directly.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// IsAmbiguous reports whether err requires a status query before retry.
func IsAmbiguous(err error) bool {
	var a *ambiguousError
	return errors.As(err, &a)
}

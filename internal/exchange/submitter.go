package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"perp_go/internal/infra"
)

// Submitter wraps a Client with the retry discipline for order
// placement: bounded exponential backoff on transient failures, a
// mandatory status query after an ambiguous failure, and the caller's
// idempotency token reused verbatim across every attempt. A circuit
// breaker and rate limiter guard the venue.
type Submitter struct {
	client  Client
	breaker *infra.CircuitBreaker
	limiter *infra.RateLimiter

	maxAttempts int
	sleep       func(time.Duration) // injectable for tests
}

// NewSubmitter builds a submitter. breaker and limiter may be nil.
func NewSubmitter(client Client, breaker *infra.CircuitBreaker, limiter *infra.RateLimiter) *Submitter {
	return &Submitter{
		client:      client,
		breaker:     breaker,
		limiter:     limiter,
		maxAttempts: 4,
		sleep:       time.Sleep,
	}
}

// Submit places the order, retrying per the discipline above. The
// returned ack may come from a status query rather than the placement
// call when the venue applied an ambiguous submission.
func (s *Submitter) Submit(ctx context.Context, req OrderRequest) (OrderAck, error) {
	var lastErr error

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return OrderAck{}, err
		}
		if s.breaker != nil && !s.breaker.Allow() {
			return OrderAck{}, Transient(fmt.Errorf("submit %s: circuit open", req.ClientOrderID))
		}
		if s.limiter != nil {
			s.limiter.Wait()
		}

		ack, err := s.client.PlaceOrder(ctx, req)
		if err == nil {
			if s.breaker != nil {
				s.breaker.RecordSuccess()
			}
			return ack, nil
		}
		if s.breaker != nil {
			s.breaker.RecordFailure()
		}
		lastErr = err

		switch {
		case IsAmbiguous(err):
			// The order may exist. Never re-send before asking.
			qack, qerr := s.client.QueryOrder(ctx, req.ClientOrderID, req.Symbol)
			if qerr == nil && qack.Found {
				slog.Info("ambiguous submit resolved as applied",
					slog.String("client_order_id", req.ClientOrderID))
				if s.breaker != nil {
					s.breaker.RecordSuccess()
				}
				return qack, nil
			}
			if qerr != nil {
				// Status unknown: give up rather than risk a duplicate.
				return OrderAck{}, fmt.Errorf("submit %s: ambiguous failure and status query failed: %w",
					req.ClientOrderID, qerr)
			}
			// Confirmed not applied; retrying is safe.
		case IsTransient(err):
			// Fall through to backoff.
		default:
			return OrderAck{}, fmt.Errorf("submit %s: %w", req.ClientOrderID, err)
		}

		if attempt < s.maxAttempts-1 {
			s.sleep(infra.SubmitBackoff(attempt))
		}
	}
	return OrderAck{}, fmt.Errorf("submit %s: retries exhausted: %w", req.ClientOrderID, lastErr)
}

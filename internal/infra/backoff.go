package infra

import (
	"time"
)

// Retry delays for the venue edge. The two paths want very different
// shapes: an order submit happens inside a tick and must give up fast,
// while a stream reconnect can afford to wait out a long venue outage.

const (
	submitBase = 250 * time.Millisecond
	submitMax  = 5 * time.Second

	reconnectBase = 1 * time.Second
	reconnectMax  = 60 * time.Second
)

// SubmitBackoff returns the delay before order-submission attempt
// attempt+1: submitBase doubled per attempt, capped at submitMax.
func SubmitBackoff(attempt int) time.Duration {
	return expBackoff(attempt, submitBase, submitMax)
}

// ReconnectBackoff returns the delay before stream reconnect attempt
// attempt+1: reconnectBase doubled per attempt, capped at reconnectMax.
func ReconnectBackoff(attempt int) time.Duration {
	return expBackoff(attempt, reconnectBase, reconnectMax)
}

func expBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		return base
	}
	// 1<<attempt overflows long before this; past 30 doublings every
	// base is beyond any cap we use.
	if attempt > 30 {
		return max
	}
	d := base * time.Duration(1<<attempt)
	if d > max {
		return max
	}
	return d
}

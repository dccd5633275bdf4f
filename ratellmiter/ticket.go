// Package ratellmiter implements the per-provider admission-control
// subsystem: a token bucket sliding over a minute/second grid, with
// adaptive ramp-up and integrated 429 recovery.
package ratellmiter

import "github.com/google/uuid"

// RateLimitEvent records one 429 episode a ticket lived through: the second
// it was issued, the second it got rate-limited, and (once reissued) the
// second it was handed back out.
type RateLimitEvent struct {
	IssuedSec   int64
	LimitedSec  int64
	ReissuedSec *int64
}

// Ticket is a one-shot permit to call a provider. It survives 429 events —
// the limiter reissues the same ticket rather than minting a new one, so
// callers can correlate retries with the original request.
type Ticket struct {
	RequestID             string
	InitialSecondBucketID int64

	// IssuedTicket is the index this ticket occupies within its issuing
	// second bucket, nil until assigned.
	IssuedTicket         *int
	IssuedSecondBucketID *int64

	RateLimitEvents []RateLimitEvent
}

func newTicket(initialBucketID int64) *Ticket {
	return &Ticket{
		RequestID:             uuid.NewString(),
		InitialSecondBucketID: initialBucketID,
	}
}

// waiter pairs a ticket with the channel its owner blocks on until the
// limiter reissues it a slot.
type waiter struct {
	ticket *Ticket
	ch     chan struct{}
}

func newWaiter(t *Ticket) *waiter {
	return &waiter{ticket: t, ch: make(chan struct{})}
}

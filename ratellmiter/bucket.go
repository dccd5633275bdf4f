package ratellmiter

// secondTicketBucket is one second's worth of admission capacity for a
// single provider limiter.
type secondTicketBucket struct {
	id int64 // monotonic global second index, used as a stable identifier

	ticketCount int // capacity for this second

	issuedTickets       []*Ticket
	overflowRequests    []*waiter
	rateLimitedRequests []*waiter
	finishedTickets     []*Ticket
}

func newSecondTicketBucket(id int64, ticketCount int) *secondTicketBucket {
	return &secondTicketBucket{id: id, ticketCount: ticketCount}
}

func (b *secondTicketBucket) hasCapacity() bool {
	return len(b.issuedTickets) < b.ticketCount
}

// issue assigns the ticket the next free slot in this bucket.
func (b *secondTicketBucket) issue(t *Ticket) {
	idx := len(b.issuedTickets)
	t.IssuedTicket = &idx
	t.IssuedSecondBucketID = &b.id
	b.issuedTickets = append(b.issuedTickets, t)
}

// minuteTicketBucket holds the 60 second buckets for one minute's sliding
// window. Only currentMinute is ever live; prior minutes are dropped once
// rolled past, matching the engine's non-persistence of trace history.
type minuteTicketBucket struct {
	epoch   int64
	seconds [60]*secondTicketBucket
}

func newMinuteTicketBucket(epoch int64) *minuteTicketBucket {
	return &minuteTicketBucket{epoch: epoch}
}

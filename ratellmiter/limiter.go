package ratellmiter

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/teburns/llmonpy/core"
)

const (
	// MinTestInterval is the first service-resumed probe delay after a 429.
	MinTestInterval = 10 * time.Second
	// MaxTestInterval is the probe delay ceiling.
	MaxTestInterval = 65 * time.Second
	// probeBackoffFactor grows the probe interval between failed probes.
	probeBackoffFactor = 1.5
)

// LivenessProber is the narrow interface the limiter needs from an LLM
// client to probe whether a paused provider has resumed service. It is
// satisfied by llmclient.Client without creating an import cycle.
type LivenessProber interface {
	IsBlocked(ctx context.Context) bool
}

// TicketObserver records ticket issuance/rejection telemetry. Satisfied by
// *telemetryx.Provider without an import cycle (ratellmiter never imports
// telemetryx directly).
type TicketObserver interface {
	RecordTicketIssued(ctx context.Context, provider string)
	RecordTicketRejected(ctx context.Context, provider, reason string)
}

// BucketRateLimiter is a per-provider token bucket: a sliding grid of
// minute buckets, each holding 60 second buckets, with adaptive ramp-up
// and 429 pause/probe recovery.
type BucketRateLimiter struct {
	name string

	rpm                 int
	maxTicketsPerSecond int
	startRampCount      int
	rampDelta           int

	prober   LivenessProber
	logger   core.Logger
	observer TicketObserver
	activity ActivityLogger

	mu            sync.Mutex
	currentMinute *minuteTicketBucket
	currentSecond int // index 0..59 within currentMinute
	globalSecond  int64
	paused        bool
	probeRunning  bool
}

// New builds a BucketRateLimiter for a provider with the given requests-
// per-minute budget. prober may be nil; in that case a 429 pause is cleared
// by the next successful probe interval unconditionally (treated as
// immediately unblocked), which is only appropriate for tests.
func New(name string, rpm int, prober LivenessProber, logger core.Logger) *BucketRateLimiter {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if aware, ok := logger.(core.ComponentAwareLogger); ok {
		logger = aware.WithComponent("ratellmiter/" + name)
	}
	l := &BucketRateLimiter{
		name:                name,
		rpm:                 rpm,
		maxTicketsPerSecond: rpm / 60,
		startRampCount:      maxInt(ceilDiv(rpm, 240), 1),
		rampDelta:           maxInt(ceilDiv(rpm, 600), 1),
		prober:              prober,
		logger:              logger,
	}
	l.currentMinute = newMinuteTicketBucket(time.Now().Unix() / 60)
	l.currentMinute.seconds[0] = newSecondTicketBucket(0, l.startRampCount)
	return l
}

// SetObserver attaches a telemetry sink (typically telemetryx.Provider) that
// records ticket issuance/rejection counters. Safe to leave unset.
func (l *BucketRateLimiter) SetObserver(o TicketObserver) {
	l.observer = o
}

// SetActivityLogger attaches a per-minute traffic audit sink (typically a
// FileActivityLogger). Safe to leave unset.
func (l *BucketRateLimiter) SetActivityLogger(a ActivityLogger) {
	l.activity = a
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return int(math.Ceil(float64(a) / float64(b)))
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (l *BucketRateLimiter) currentBucket() *secondTicketBucket {
	return l.currentMinute.seconds[l.currentSecond]
}

// GetTicket draws a ticket from the current second bucket, blocking on
// overflow until a future second advance grants it capacity.
func (l *BucketRateLimiter) GetTicket(ctx context.Context) (*Ticket, error) {
	l.mu.Lock()
	bucket := l.currentBucket()
	t := newTicket(bucket.id)

	if bucket.hasCapacity() {
		bucket.issue(t)
		l.mu.Unlock()
		if l.observer != nil {
			l.observer.RecordTicketIssued(ctx, l.name)
		}
		return t, nil
	}

	w := newWaiter(t)
	bucket.overflowRequests = append(bucket.overflowRequests, w)
	l.mu.Unlock()
	if l.observer != nil {
		l.observer.RecordTicketRejected(ctx, l.name, "overflow")
	}

	select {
	case <-w.ch:
		if l.observer != nil {
			l.observer.RecordTicketIssued(ctx, l.name)
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitForTicketAfterRateLimitExceeded reports a 429 for t and blocks until
// the limiter reissues it a fresh slot once service resumes.
func (l *BucketRateLimiter) WaitForTicketAfterRateLimitExceeded(ctx context.Context, t *Ticket) error {
	l.mu.Lock()
	bucket := l.currentBucket()
	bucket.finishedTickets = append(bucket.finishedTickets, t)
	bucket.ticketCount = 0

	issuedSec := bucket.id
	if t.IssuedSecondBucketID != nil {
		issuedSec = *t.IssuedSecondBucketID
	}
	t.RateLimitEvents = append(t.RateLimitEvents, RateLimitEvent{
		IssuedSec:  issuedSec,
		LimitedSec: bucket.id,
	})

	w := newWaiter(t)
	bucket.rateLimitedRequests = append(bucket.rateLimitedRequests, w)

	shouldStartProbe := !l.paused
	if shouldStartProbe {
		l.paused = true
		l.probeRunning = true
	}
	l.mu.Unlock()
	if l.observer != nil {
		l.observer.RecordTicketRejected(ctx, l.name, "rate_limited")
	}

	if shouldStartProbe {
		go l.runProbe()
	}

	select {
	case <-w.ch:
		if l.observer != nil {
			l.observer.RecordTicketIssued(ctx, l.name)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tick is invoked once per wall second by the Monitor. It advances this
// limiter's second (and, on minute boundaries, minute) bucket, computes the
// new bucket's capacity via the ramp rule, and releases waiters from the
// bucket that just closed.
func (l *BucketRateLimiter) tick() {
	l.mu.Lock()

	prev := l.currentBucket()
	l.globalSecond++
	newID := l.globalSecond

	var ticketCount int
	if l.paused {
		ticketCount = 0
	} else {
		ticketCount = clamp(len(prev.issuedTickets)+l.rampDelta, l.startRampCount, l.maxTicketsPerSecond)
	}

	next := newSecondTicketBucket(newID, ticketCount)

	nextSecondIdx := l.currentSecond + 1
	var finishedMinute *minuteTicketBucket
	if nextSecondIdx >= 60 {
		finishedMinute = l.currentMinute
		l.currentMinute = newMinuteTicketBucket(finishedMinute.epoch + 1)
		l.currentSecond = 0
	} else {
		l.currentSecond = nextSecondIdx
	}
	l.currentMinute.seconds[l.currentSecond] = next

	var toResume []*waiter
	if l.paused {
		// Capacity stays at zero; everything outstanding rolls forward
		// untouched until the probe clears the pause.
		next.rateLimitedRequests = prev.rateLimitedRequests
		next.overflowRequests = prev.overflowRequests
	} else {
		toResume = transferTickets(prev, next)
	}

	activity := l.activity
	l.mu.Unlock()

	for _, w := range toResume {
		close(w.ch)
	}

	if finishedMinute != nil && activity != nil {
		activity.LogMinute(l.name, summarizeMinute(finishedMinute))
	}
}

// summarizeMinute totals ticket traffic across a completed minute's 60
// second buckets for the activity log.
func summarizeMinute(m *minuteTicketBucket) MinuteSummary {
	s := MinuteSummary{Epoch: m.epoch}
	for _, sec := range m.seconds {
		if sec == nil {
			continue
		}
		s.TicketsIssued += len(sec.issuedTickets)
		s.RateLimitedCount += len(sec.rateLimitedRequests)
		s.OverflowCount += len(sec.overflowRequests)
	}
	return s
}

// transferTickets reissues waiters from the bucket that just closed into
// the newly opened bucket, up to its capacity. Rate-limited requests are
// drained before plain overflow since they have already waited through a
// 429 and carry higher retry urgency.
func transferTickets(prev, next *secondTicketBucket) []*waiter {
	var resumed []*waiter

	for _, w := range prev.rateLimitedRequests {
		if !next.hasCapacity() {
			next.rateLimitedRequests = append(next.rateLimitedRequests, w)
			continue
		}
		next.issue(w.ticket)
		if n := len(w.ticket.RateLimitEvents); n > 0 {
			reissued := next.id
			w.ticket.RateLimitEvents[n-1].ReissuedSec = &reissued
		}
		resumed = append(resumed, w)
	}

	for _, w := range prev.overflowRequests {
		if !next.hasCapacity() {
			next.overflowRequests = append(next.overflowRequests, w)
			continue
		}
		next.issue(w.ticket)
		resumed = append(resumed, w)
	}

	return resumed
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// runProbe polls the client's liveness check with exponential backoff
// (factor 1.5, MinTestInterval..MaxTestInterval) until the provider reports
// it is no longer blocked, then unpauses the limiter.
func (l *BucketRateLimiter) runProbe() {
	interval := MinTestInterval
	for {
		time.Sleep(interval)

		blocked := false
		if l.prober != nil {
			blocked = l.prober.IsBlocked(context.Background())
		}
		if !blocked {
			l.mu.Lock()
			l.paused = false
			l.probeRunning = false
			l.mu.Unlock()
			l.logger.Info("rate limiter service resumed", map[string]interface{}{"provider": l.name})
			return
		}

		next := time.Duration(float64(interval) * probeBackoffFactor)
		if next > MaxTestInterval {
			next = MaxTestInterval
		}
		interval = next
	}
}

// Name returns the provider name this limiter was constructed for.
func (l *BucketRateLimiter) Name() string { return l.name }

// IsPaused reports whether the limiter is currently in a 429-induced pause.
func (l *BucketRateLimiter) IsPaused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

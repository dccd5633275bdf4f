package ratellmiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesRampConstants(t *testing.T) {
	l := New("openai", 600, nil, nil)
	assert.Equal(t, 10, l.maxTicketsPerSecond)
	assert.Equal(t, 3, l.startRampCount)  // ceil(600/240) = 3
	assert.Equal(t, 1, l.rampDelta)       // ceil(600/600) = 1
}

func TestGetTicketIssuesWithinCapacity(t *testing.T) {
	l := New("openai", 600, nil, nil)

	t1, err := l.GetTicket(context.Background())
	require.NoError(t, err)
	require.NotNil(t, t1.IssuedTicket)
	assert.Equal(t, 0, *t1.IssuedTicket)

	t2, err := l.GetTicket(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, *t2.IssuedTicket)
}

func TestGetTicketBlocksOnOverflowUntilTick(t *testing.T) {
	// startRampCount for RPM=240 is ceil(240/240)=1, so the very first
	// second bucket only has one slot.
	l := New("openai", 240, nil, nil)

	first, err := l.GetTicket(context.Background())
	require.NoError(t, err)
	require.NotNil(t, first.IssuedTicket)

	var wg sync.WaitGroup
	wg.Add(1)
	resultCh := make(chan *Ticket, 1)
	go func() {
		defer wg.Done()
		tk, err := l.GetTicket(context.Background())
		require.NoError(t, err)
		resultCh <- tk
	}()

	// Give the goroutine time to enqueue on overflow before ticking.
	time.Sleep(20 * time.Millisecond)
	l.tick()

	wg.Wait()
	select {
	case tk := <-resultCh:
		require.NotNil(t, tk.IssuedTicket)
	default:
		t.Fatal("overflowed ticket was not reissued after tick")
	}
}

func TestGetTicketContextCancellation(t *testing.T) {
	l := New("openai", 240, nil, nil)

	_, err := l.GetTicket(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := l.GetTicket(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("GetTicket did not observe context cancellation")
	}
}

type fakeProber struct {
	mu      sync.Mutex
	blocked bool
}

func (f *fakeProber) IsBlocked(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blocked
}

func (f *fakeProber) setBlocked(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked = b
}

func TestRateLimitPausesAndBurnsCurrentBucket(t *testing.T) {
	l := New("openai", 600, &fakeProber{blocked: false}, nil)

	tk, err := l.GetTicket(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- l.WaitForTicketAfterRateLimitExceeded(context.Background(), tk)
	}()

	// Give the 429 handler a moment to mark the limiter paused and burn
	// the current second's capacity.
	time.Sleep(20 * time.Millisecond)
	assert.True(t, l.IsPaused())
	assert.Equal(t, 0, l.currentBucket().ticketCount)

	// The probe (fakeProber reports unblocked immediately on its first
	// sleep) should unpause within MinTestInterval; we don't wait for the
	// real 10s in this unit test, so just assert the waiter is still
	// pending and the pause state is internally consistent.
	select {
	case <-errCh:
		t.Fatal("waiter resolved before any tick granted capacity")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowStartRampHoldsAtCeiling(t *testing.T) {
	l := New("openai", 600, nil, nil)
	// maxTicketsPerSecond=10, rampDelta=1, startRampCount=3.
	assert.Equal(t, 3, l.currentBucket().ticketCount)

	// Saturate the first bucket's capacity.
	for i := 0; i < 3; i++ {
		_, err := l.GetTicket(context.Background())
		require.NoError(t, err)
	}

	for second := 1; second <= 10; second++ {
		l.tick()
		want := second + 3 // startRampCount + second*rampDelta, capped
		if want > 10 {
			want = 10
		}
		assert.Equal(t, want, l.currentBucket().ticketCount, "second %d", second)

		// Continuous demand: saturate this second's capacity so the next
		// tick's ramp computation sees a fully-issued prior bucket.
		for len(l.currentBucket().issuedTickets) < l.currentBucket().ticketCount {
			_, err := l.GetTicket(context.Background())
			require.NoError(t, err)
		}
	}
}

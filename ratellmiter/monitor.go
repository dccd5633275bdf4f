package ratellmiter

import (
	"sync"
	"time"

	"github.com/teburns/llmonpy/core"
)

// Monitor is the single once-per-second ticker that drives every registered
// limiter's tick(). Exactly one Monitor should run per process; limiters
// only ever touch their own lock, so ticking them from one goroutine keeps
// the concurrency contract simple: one monitor goroutine, arbitrary request
// goroutines elsewhere.
type Monitor struct {
	mu       sync.Mutex
	limiters []*BucketRateLimiter
	logger   core.Logger

	ticker *time.Ticker
	stopCh chan struct{}
	done   chan struct{}
}

// NewMonitor builds a Monitor. Call Register for each provider limiter,
// then Start.
func NewMonitor(logger core.Logger) *Monitor {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if aware, ok := logger.(core.ComponentAwareLogger); ok {
		logger = aware.WithComponent("ratellmiter/monitor")
	}
	return &Monitor{logger: logger}
}

// Register adds a limiter to the set ticked every second. Safe to call
// before or after Start.
func (m *Monitor) Register(l *BucketRateLimiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters = append(m.limiters, l)
}

// Start launches the ticker goroutine. Calling Start twice is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.ticker != nil {
		m.mu.Unlock()
		return
	}
	m.ticker = time.NewTicker(time.Second)
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run()
}

func (m *Monitor) run() {
	defer close(m.done)
	for {
		select {
		case <-m.ticker.C:
			m.mu.Lock()
			snapshot := make([]*BucketRateLimiter, len(m.limiters))
			copy(snapshot, m.limiters)
			m.mu.Unlock()

			for _, l := range snapshot {
				l.tick()
			}
		case <-m.stopCh:
			return
		}
	}
}

// Stop halts the ticker and waits for the run loop to exit, draining any
// in-flight tick before returning.
func (m *Monitor) Stop() {
	m.mu.Lock()
	ticker := m.ticker
	stopCh := m.stopCh
	done := m.done
	m.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stopCh)
	<-done
}

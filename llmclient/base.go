package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/teburns/llmonpy/core"
	"github.com/teburns/llmonpy/ratellmiter"
)

// BaseProvider holds the scaffolding every HTTP-backed provider shares: an
// HTTP client, a logger, a rate limiter ticket gate, and a retry loop for
// transient transport errors. Providers embed it and supply their own
// request/response shapes.
type BaseProvider struct {
	HTTPClient *http.Client
	Logger     core.Logger
	Limiter    *ratellmiter.BucketRateLimiter

	MaxRetries int
	RetryDelay time.Duration
}

// NewBaseProvider builds a BaseProvider with a bounded-timeout HTTP client
// and the given rate limiter. limiter may be nil for providers under test.
func NewBaseProvider(timeout time.Duration, limiter *ratellmiter.BucketRateLimiter, logger core.Logger) *BaseProvider {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &BaseProvider{
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
		Limiter:    limiter,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// AcquireTicket blocks until the rate limiter admits this request. When no
// limiter is configured it returns immediately with a nil ticket.
func (b *BaseProvider) AcquireTicket(ctx context.Context) (*ratellmiter.Ticket, error) {
	if b.Limiter == nil {
		return nil, nil
	}
	return b.Limiter.GetTicket(ctx)
}

// ReportRateLimited translates a provider 429/empty-body response into the
// limiter's rate-limit-exceeded path, blocking until the limiter reissues
// the same ticket.
func (b *BaseProvider) ReportRateLimited(ctx context.Context, ticket *ratellmiter.Ticket) error {
	if b.Limiter == nil || ticket == nil {
		return nil
	}
	return b.Limiter.WaitForTicketAfterRateLimitExceeded(ctx, ticket)
}

// ExecuteWithRetry performs req with exponential backoff on transport
// errors and 5xx responses.
// 429s are the rate limiter's job, not this loop's — callers detect them
// via response status before calling this, or (more commonly) route the
// whole attempt through the limiter first.
func (b *BaseProvider) ExecuteWithRetry(ctx context.Context, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		req, err := newReq()
		if err != nil {
			return nil, err
		}

		resp, err := b.HTTPClient.Do(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("server error: status %d", resp.StatusCode)
			resp.Body.Close()
		}

		if attempt < b.MaxRetries {
			delay := b.RetryDelay * (1 << uint(attempt))
			b.Logger.Debug("retrying provider request", map[string]interface{}{
				"attempt": attempt + 1,
				"delay":   delay,
				"error":   lastErr.Error(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, core.NewFrameworkError("llmclient.ExecuteWithRetry", "Provider", lastErr)
}

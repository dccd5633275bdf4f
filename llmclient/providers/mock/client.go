// Package mock provides a scripted llmclient.Client for tests, driving
// tournaments and cycles through canned responses rather than live
// providers.
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/teburns/llmonpy/core"
	"github.com/teburns/llmonpy/llmclient"
)

// Script is one scripted reply. If Err is set, Prompt returns it. Scripts
// are only consumed once the client's rejectN leading rate-limit errors
// (see NewFlaky) have been returned.
type Script struct {
	Text string
	Err  error
}

// Client replays a fixed sequence of responses, optionally 429ing on the
// first N calls before returning OK — the shape scenario 4 (rate-limit
// recovery) needs.
type Client struct {
	name string

	mu       sync.Mutex
	scripts  []Script
	callIdx  int
	rejectN  int32
	rejected int32

	blocked atomic.Bool
}

// New builds a mock client that returns responses in scripts, in order.
// Calling Prompt more times than len(scripts) repeats the last entry.
func New(name string, scripts ...Script) *Client {
	return &Client{name: name, scripts: scripts}
}

// NewFlaky builds a mock client that returns core.ErrRateLimited for the
// first rejectCount calls, then succeeds with text on every call after.
func NewFlaky(name string, rejectCount int, text string) *Client {
	return &Client{name: name, rejectN: int32(rejectCount), scripts: []Script{{Text: text}}}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Prompt(ctx context.Context, id, text, system string, jsonMode bool, temperature float64, maxOutputTokens int) (*llmclient.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rejected < c.rejectN {
		c.rejected++
		return nil, core.ErrRateLimited
	}

	idx := c.callIdx
	if idx >= len(c.scripts) {
		idx = len(c.scripts) - 1
	}
	if idx < 0 {
		return nil, core.NewFrameworkError("mock.Prompt", "Provider", core.ErrProvider)
	}
	c.callIdx++

	s := c.scripts[idx]
	if s.Err != nil {
		return nil, s.Err
	}

	resp := &llmclient.Response{Text: s.Text, InputCost: 0.0001, OutputCost: 0.0002}
	if jsonMode {
		dict, err := llmclient.ParseJSONWithRepair(s.Text)
		if err != nil {
			return nil, err
		}
		resp.Dict = dict
	}
	return resp, nil
}

// SetBlocked controls what IsBlocked reports, for driving the rate
// limiter's service-resumed probe in tests.
func (c *Client) SetBlocked(b bool) { c.blocked.Store(b) }

func (c *Client) IsBlocked(ctx context.Context) bool { return c.blocked.Load() }

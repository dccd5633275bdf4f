// Package llmclient provides a uniform prompt/response contract over a
// heterogeneous provider pool, with rate-limiter admission control and
// JSON-repair retry built in.
package llmclient

import (
	"context"
)

// Response is what every provider's Prompt call returns: the raw text, a
// parsed object when jsonMode was requested, and cost in currency, already
// computed from the provider's token usage and price table.
type Response struct {
	Text       string
	Dict       map[string]interface{}
	InputCost  float64
	OutputCost float64
}

// TotalCost is the sum of input and output cost for this response.
func (r *Response) TotalCost() float64 {
	return r.InputCost + r.OutputCost
}

// Client is the uniform contract every provider implements. id is an
// opaque request identifier threaded through for tracing/logging; it is
// not interpreted by the client itself.
type Client interface {
	// Prompt sends text (and optional system prompt) to the provider and
	// returns its response. When jsonMode is set, the response text is
	// parsed as JSON, with up to three parse attempts (as received, then
	// after each of two repair passes) before ErrJSONFormat is returned.
	Prompt(ctx context.Context, id, text, system string, jsonMode bool, temperature float64, maxOutputTokens int) (*Response, error)

	// IsBlocked issues a minimal request and reports whether the provider
	// still refuses service. The rate limiter calls this during a 429
	// pause to decide when to resume issuing tickets.
	IsBlocked(ctx context.Context) bool

	// Name identifies the provider for cost/log attribution.
	Name() string
}

// PriceTable holds a model's per-million-token pricing. Cost is
// tokens × price / 1e6.
type PriceTable struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// ComputeCost converts a token count to currency using price-per-million.
func ComputeCost(tokens int, pricePerMillion float64) float64 {
	return float64(tokens) * pricePerMillion / 1e6
}

// Package anthropic implements llmclient.Client over the official
// anthropic-sdk-go, preserving the `"{ "` assistant-prefill quirk: in
// jsonMode the provider is prompted to continue after an opening brace
// rather than asked to emit one from scratch.
package anthropic

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/teburns/llmonpy/core"
	"github.com/teburns/llmonpy/llmclient"
	"github.com/teburns/llmonpy/ratellmiter"
)

// jsonPrefill is prepended to the assistant turn, and to the response text
// before parsing, when jsonMode is requested. This is the quirk the
// original implementation relied on to steer the model away from prose
// preambles; it is preserved verbatim rather than "fixed".
const jsonPrefill = "{ "

// Client implements llmclient.Client for Anthropic's Messages API.
type Client struct {
	sdk     anthropic.Client
	model   anthropic.Model
	limiter *ratellmiter.BucketRateLimiter
	logger  core.Logger
	prices  llmclient.PriceTable
	hasKey  bool
}

// New builds an Anthropic client. apiKey may be empty; in that case every
// Prompt call returns core.ErrNoAPIKey.
func New(apiKey, model string, prices llmclient.PriceTable, limiter *ratellmiter.BucketRateLimiter, logger core.Logger) *Client {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	opts := []option.RequestOption{option.WithRequestTimeout(90 * time.Second)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &Client{
		sdk:     anthropic.NewClient(opts...),
		model:   anthropic.Model(model),
		limiter: limiter,
		logger:  logger,
		prices:  prices,
		hasKey:  apiKey != "",
	}
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) acquireTicket(ctx context.Context) (*ratellmiter.Ticket, error) {
	if c.limiter == nil {
		return nil, nil
	}
	return c.limiter.GetTicket(ctx)
}

func (c *Client) Prompt(ctx context.Context, id, text, system string, jsonMode bool, temperature float64, maxOutputTokens int) (*llmclient.Response, error) {
	if !c.hasKey {
		return nil, core.NewFrameworkError("anthropic.Prompt", "NoApiKey", core.ErrNoAPIKey).WithID(id)
	}

	ticket, err := c.acquireTicket(ctx)
	if err != nil {
		return nil, err
	}

	rawText, inTok, outTok, err := c.send(ctx, text, system, jsonMode, temperature, maxOutputTokens)
	if err != nil {
		for core.IsRateLimited(err) && c.limiter != nil {
			if waitErr := c.limiter.WaitForTicketAfterRateLimitExceeded(ctx, ticket); waitErr != nil {
				return nil, waitErr
			}
			rawText, inTok, outTok, err = c.send(ctx, text, system, jsonMode, temperature, maxOutputTokens)
		}
		if err != nil {
			return nil, err
		}
	}

	resp := &llmclient.Response{
		Text:       rawText,
		InputCost:  llmclient.ComputeCost(inTok, c.prices.InputPerMillion),
		OutputCost: llmclient.ComputeCost(outTok, c.prices.OutputPerMillion),
	}
	if jsonMode {
		dict, err := llmclient.ParseJSONWithRepair(rawText)
		if err != nil {
			return nil, err
		}
		resp.Dict = dict
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, text, system string, jsonMode bool, temperature float64, maxOutputTokens int) (string, int, int, error) {
	messages := []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(text))}
	if jsonMode {
		messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(jsonPrefill)))
	}

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxOutputTokens),
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		if isRateLimitErr(err) {
			return "", 0, 0, core.ErrRateLimited
		}
		return "", 0, 0, core.NewFrameworkError("anthropic.send", "Provider", err)
	}

	var b strings.Builder
	if jsonMode {
		b.WriteString(jsonPrefill)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	return b.String(), int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens), nil
}

// isRateLimitErr recognizes a 429 from the SDK's error message. The SDK
// wraps HTTP errors with the status code in their Error() text; matching
// on that avoids depending on an internal error type across SDK versions.
func isRateLimitErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "429")
}

// IsBlocked issues a one-token probe request and reports whether the
// provider still refuses service.
func (c *Client) IsBlocked(ctx context.Context) bool {
	_, _, _, err := c.send(ctx, "ping", "", false, 0, 1)
	return core.IsRateLimited(err)
}

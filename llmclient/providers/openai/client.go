// Package openai implements llmclient.Client against OpenAI's chat
// completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/teburns/llmonpy/core"
	"github.com/teburns/llmonpy/llmclient"
	"github.com/teburns/llmonpy/ratellmiter"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client implements llmclient.Client for OpenAI's chat completions API.
type Client struct {
	*llmclient.BaseProvider
	apiKey  string
	baseURL string
	model   string
	prices  llmclient.PriceTable
}

// New builds an OpenAI client. apiKey may be empty, in which case every
// Prompt call fails with core.ErrNoAPIKey and the client should be excluded
// from the active-client set at startup.
func New(apiKey, model string, prices llmclient.PriceTable, limiter *ratellmiter.BucketRateLimiter, logger core.Logger) *Client {
	return &Client{
		BaseProvider: llmclient.NewBaseProvider(60*time.Second, limiter, logger),
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        model,
		prices:       prices,
	}
}

func (c *Client) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
}

func (c *Client) Prompt(ctx context.Context, id, text, system string, jsonMode bool, temperature float64, maxOutputTokens int) (*llmclient.Response, error) {
	if c.apiKey == "" {
		return nil, core.NewFrameworkError("openai.Prompt", "NoApiKey", core.ErrNoAPIKey).WithID(id)
	}

	ticket, err := c.AcquireTicket(ctx)
	if err != nil {
		return nil, err
	}

	messages := []chatMessage{}
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: text})

	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxOutputTokens,
	}
	if jsonMode {
		reqBody.ResponseFormat = map[string]any{"type": "json_object"}
	}

	parsed, rawText, usage, err := c.send(ctx, reqBody)
	if err != nil {
		for core.IsRateLimited(err) && c.Limiter != nil {
			if waitErr := c.ReportRateLimited(ctx, ticket); waitErr != nil {
				return nil, waitErr
			}
			parsed, rawText, usage, err = c.send(ctx, reqBody)
		}
		if err != nil {
			return nil, err
		}
	}

	resp := &llmclient.Response{
		Text:       rawText,
		InputCost:  llmclient.ComputeCost(usage.PromptTokens, c.prices.InputPerMillion),
		OutputCost: llmclient.ComputeCost(usage.CompletionTokens, c.prices.OutputPerMillion),
	}
	if jsonMode {
		resp.Dict = parsed
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, reqBody chatRequest) (map[string]interface{}, string, struct {
	PromptTokens     int
	CompletionTokens int
}, error) {
	var usage struct {
		PromptTokens     int
		CompletionTokens int
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, "", usage, core.NewFrameworkError("openai.send", "Provider", err)
	}

	resp, err := c.ExecuteWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	})
	if err != nil {
		return nil, "", usage, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", usage, core.NewFrameworkError("openai.send", "Provider", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || len(body) == 0 {
		return nil, "", usage, core.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", usage, core.NewFrameworkError("openai.send", "Provider",
			fmt.Errorf("openai API error (status %d): %s", resp.StatusCode, string(body)))
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, "", usage, core.NewFrameworkError("openai.send", "Provider", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, "", usage, core.NewFrameworkError("openai.send", "Provider", fmt.Errorf("no choices in response"))
	}

	usage.PromptTokens = decoded.Usage.PromptTokens
	usage.CompletionTokens = decoded.Usage.CompletionTokens

	content := decoded.Choices[0].Message.Content

	var dict map[string]interface{}
	if reqBody.ResponseFormat != nil {
		dict, err = llmclient.ParseJSONWithRepair(content)
		if err != nil {
			return nil, "", usage, err
		}
	}

	return dict, content, usage, nil
}

// IsBlocked issues a minimal completion and reports whether OpenAI still
// refuses service.
func (c *Client) IsBlocked(ctx context.Context) bool {
	_, _, _, err := c.send(ctx, chatRequest{Model: c.model, Messages: []chatMessage{{Role: "user", Content: "ping"}}, MaxTokens: 1})
	return core.IsRateLimited(err)
}

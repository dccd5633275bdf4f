// Package bedrock implements llmclient.Client against Anthropic models
// served through AWS Bedrock, using the Anthropic SDK's Bedrock transport
// so request signing and the Messages API shape are handled for us.
package bedrock

import (
	"context"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/teburns/llmonpy/core"
	"github.com/teburns/llmonpy/llmclient"
	"github.com/teburns/llmonpy/ratellmiter"
)

const jsonPrefill = "{ "

// Config configures a Bedrock-backed client.
type Config struct {
	Region          string
	ModelID         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Prices          llmclient.PriceTable
}

// Client implements llmclient.Client for Anthropic-on-Bedrock.
type Client struct {
	sdk     anthropicsdk.Client
	model   anthropicsdk.Model
	limiter *ratellmiter.BucketRateLimiter
	logger  core.Logger
	prices  llmclient.PriceTable
}

// New builds a Bedrock client from explicit credentials, falling back to
// the default AWS credential chain (IAM role, env vars, profile) when
// AccessKeyID is empty.
func New(ctx context.Context, cfg Config, limiter *ratellmiter.BucketRateLimiter, logger core.Logger) (*Client, error) {
	if logger == nil {
		logger = core.NoOpLogger{}
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, core.NewFrameworkError("bedrock.New", "Provider", err)
	}

	return &Client{
		sdk:     anthropicsdk.NewClient(bedrock.WithConfig(awsCfg), option.WithRequestTimeout(90*time.Second)),
		model:   anthropicsdk.Model(cfg.ModelID),
		limiter: limiter,
		logger:  logger,
		prices:  cfg.Prices,
	}, nil
}

func (c *Client) Name() string { return "bedrock" }

func (c *Client) Prompt(ctx context.Context, id, text, system string, jsonMode bool, temperature float64, maxOutputTokens int) (*llmclient.Response, error) {
	var ticket *ratellmiter.Ticket
	var err error
	if c.limiter != nil {
		ticket, err = c.limiter.GetTicket(ctx)
		if err != nil {
			return nil, err
		}
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
	messages := []anthropicsdk.MessageParam{anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(text))}
	if jsonMode {
		messages = append(messages, anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(jsonPrefill)))
	}

	params := anthropicsdk.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxOutputTokens),
		Temperature: anthropicsdk.Float(temperature),
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		if strings.Contains(err.Error(), "429") || strings.Contains(err.Error(), "ThrottlingException") {
			return "", 0, 0, core.ErrRateLimited
		}
		return "", 0, 0, core.NewFrameworkError("bedrock.send", "Provider", err)
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

// IsBlocked issues a one-token probe and reports whether Bedrock still
// throttles this model.
func (c *Client) IsBlocked(ctx context.Context) bool {
	_, _, _, err := c.send(ctx, "ping", "", false, 0, 1)
	return core.IsRateLimited(err)
}

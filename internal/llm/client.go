package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/prsentry/prsentry/internal/config"
	"github.com/prsentry/prsentry/internal/errors"
)

// Provider represents the LLM provider
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// Client provides a multi-provider LLM interface. Supports OpenAI-compatible
// endpoints (via base URL override) and Gemini.
type Client struct {
	provider     Provider
	openaiClient *openai.Client
	geminiClient *GeminiClient
	// local paces this process; limiter coordinates a fleet through Redis.
	local    *rate.Limiter
	limiter  *RateLimiter
	logger   *slog.Logger
	model    string
	fixModel string
}

// NewClient creates an LLM client from configuration. A shared Redis rate
// limiter is attached when limiter.redis_addr is set; without it each process
// only has its own in-flight pacing.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	logger := slog.Default().With("component", "llm")

	if cfg.LLM.APIKey == "" {
		return nil, errors.InvalidConfigurationf("no LLM API key configured; set LLM_API_KEY or run 'prsentry configure'")
	}

	c := &Client{
		provider: Provider(cfg.LLM.Provider),
		local:    rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		logger:   logger,
		model:    cfg.LLM.Model,
		fixModel: cfg.LLM.FixModel,
	}
	if c.fixModel == "" {
		c.fixModel = c.model
	}

	switch c.provider {
	case ProviderGemini:
		gc, err := NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		c.geminiClient = gc
	case ProviderOpenAI:
		clientCfg := openai.DefaultConfig(cfg.LLM.APIKey)
		if cfg.LLM.BaseURL != "" {
			clientCfg.BaseURL = cfg.LLM.BaseURL
		}
		c.openaiClient = openai.NewClientWithConfig(clientCfg)
	default:
		return nil, errors.InvalidConfigurationf("unknown llm provider %q", cfg.LLM.Provider)
	}

	if cfg.Limiter.RedisAddr != "" {
		limiter, err := NewRateLimiter(cfg.Limiter.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("connect shared rate limiter: %w", err)
		}
		c.limiter = limiter
		logger.Info("shared rate limiter attached", "redis", cfg.Limiter.RedisAddr)
	}

	logger.Info("llm client initialized", "provider", c.provider, "model", c.model)
	return c, nil
}

// Provider returns the active provider.
func (c *Client) Provider() Provider {
	return c.provider
}

func (c *Client) throttle(ctx context.Context, prompt string) error {
	if err := c.local.Wait(ctx); err != nil {
		return err
	}
	if c.limiter == nil {
		return nil
	}
	// Rough token estimate; close enough for proactive throttling.
	estimated := int64(len(prompt)/4 + 2000)
	return c.limiter.CheckAndIncrementWithRetry(ctx, estimated)
}

// CompleteJSON sends a prompt and returns a JSON response, using the
// provider's native structured output mode.
func (c *Client) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.throttle(ctx, userPrompt); err != nil {
		return "", errors.Collaborator(err)
	}

	switch c.provider {
	case ProviderGemini:
		return c.geminiClient.CompleteJSON(ctx, systemPrompt, userPrompt)
	case ProviderOpenAI:
		return c.completeOpenAI(ctx, systemPrompt, userPrompt, c.model, true)
	default:
		return "", errors.InvalidConfigurationf("no provider configured")
	}
}

// CompleteFix sends a fix prompt using the fix model and returns free text.
func (c *Client) CompleteFix(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.throttle(ctx, userPrompt); err != nil {
		return "", errors.Collaborator(err)
	}

	switch c.provider {
	case ProviderGemini:
		return c.geminiClient.Complete(ctx, systemPrompt, userPrompt)
	case ProviderOpenAI:
		return c.completeOpenAI(ctx, systemPrompt, userPrompt, c.fixModel, false)
	default:
		return "", errors.InvalidConfigurationf("no provider configured")
	}
}

func (c *Client) completeOpenAI(ctx context.Context, systemPrompt, userPrompt, model string, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.1,
		MaxTokens:   4000,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.openaiClient.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Collaborator(fmt.Errorf("openai completion: %w", err))
	}

	if len(resp.Choices) == 0 {
		return "", errors.Collaborator(fmt.Errorf("openai returned no choices"))
	}

	response := resp.Choices[0].Message.Content
	c.logger.Debug("openai completion",
		"model", model,
		"prompt_length", len(userPrompt),
		"response_length", len(response),
		"tokens_used", resp.Usage.TotalTokens,
	)

	return response, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	if c.limiter != nil {
		return c.limiter.Close()
	}
	return nil
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/sony/gobreaker"

	"maildossier/config"
	"maildossier/utils"
)

// ErrNotConfigured is returned when a backend has no credentials
var ErrNotConfigured = errors.New("llm backend not configured")

// ErrEmptyResponse is returned when the model sends back no choices
var ErrEmptyResponse = errors.New("llm returned no choices")

// Completer answers a single prompt
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Request is one chat completion. Zero numeric fields are left to the
// backend's defaults.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int64
	Temperature float64
	TopP        float64
}

// Client is an OpenAI-compatible chat backend guarded by a circuit breaker
type Client struct {
	name     string
	client   openai.Client
	model    string
	defaults Request
	cb       *gobreaker.CircuitBreaker
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 3 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		IsSuccessful: func(err error) bool {
			// cancelled requests say nothing about the backend
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			utils.Log.Warn("Circuit breaker %s: %s -> %s", name, from.String(), to.String())
		},
	})
}

// NewAzureClient builds a client for an Azure OpenAI deployment. The
// deployment name doubles as the model.
func NewAzureClient(cfg config.AzureConfig, opts ...option.RequestOption) (*Client, error) {
	if cfg.Endpoint == "" || cfg.APIKey == "" || cfg.Deployment == "" {
		return nil, fmt.Errorf("azure openai: %w", ErrNotConfigured)
	}

	reqOpts := []option.RequestOption{
		azure.WithEndpoint(cfg.Endpoint, cfg.APIVersion),
		azure.WithAPIKey(cfg.APIKey),
	}
	reqOpts = append(reqOpts, opts...)

	return &Client{
		name:   "azure-openai",
		client: openai.NewClient(reqOpts...),
		model:  cfg.Deployment,
		cb:     newBreaker("azure-openai"),
	}, nil
}

// NewPerplexityClient builds a client for the Perplexity research API
func NewPerplexityClient(cfg config.PerplexityConfig, opts ...option.RequestOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("perplexity: %w", ErrNotConfigured)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.perplexity.ai"
	}
	reqOpts := []option.RequestOption{
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.Timeout))
	}
	reqOpts = append(reqOpts, opts...)

	model := cfg.Model
	if model == "" {
		model = "sonar-reasoning"
	}

	return &Client{
		name:   "perplexity",
		client: openai.NewClient(reqOpts...),
		model:  model,
		defaults: Request{
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			TopP:        cfg.TopP,
		},
		cb: newBreaker("perplexity"),
	}, nil
}

// Name identifies the backend in logs
func (c *Client) Name() string {
	return c.name
}

// Complete sends prompt as a single user message
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.Chat(ctx, Request{Prompt: prompt})
}

// Chat sends req, filling unset sampling parameters from the client defaults
func (c *Client) Chat(ctx context.Context, req Request) (string, error) {
	if req.MaxTokens == 0 {
		req.MaxTokens = c.defaults.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = c.defaults.Temperature
	}
	if req.TopP == 0 {
		req.TopP = c.defaults.TopP
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}

	start := time.Now()
	out, err := c.cb.Execute(func() (interface{}, error) {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, ErrEmptyResponse
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		utils.Log.WithField("backend", c.name).Error("Completion failed after %s: %v", time.Since(start), err)
		return "", fmt.Errorf("%s completion: %w", c.name, err)
	}

	content := strings.TrimSpace(out.(string))
	utils.Log.WithField("backend", c.name).Debug("Completion of %d chars in %s", len(content), time.Since(start))
	return content, nil
}

// CompleterFunc adapts a function to Completer
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Unavailable is a Completer for a backend that has not been configured
type Unavailable struct {
	Backend string
}

func (u Unavailable) Complete(context.Context, string) (string, error) {
	return "", fmt.Errorf("%s: %w", u.Backend, ErrNotConfigured)
}

// AzureFromConfig returns the Azure client or an Unavailable placeholder
func AzureFromConfig(cfg *config.Config) Completer {
	c, err := NewAzureClient(cfg.Azure)
	if err != nil {
		utils.Log.Warn("Azure OpenAI disabled: %v", err)
		return Unavailable{Backend: "azure openai"}
	}
	utils.Log.Info("Completion backend %s ready, model %s", c.Name(), c.model)
	return c
}

// PerplexityFromConfig returns the Perplexity client or an Unavailable placeholder
func PerplexityFromConfig(cfg *config.Config) Completer {
	c, err := NewPerplexityClient(cfg.Perplexity)
	if err != nil {
		utils.Log.Warn("Perplexity disabled: %v", err)
		return Unavailable{Backend: "perplexity"}
	}
	utils.Log.Info("Research backend %s ready, model %s", c.Name(), c.model)
	return c
}

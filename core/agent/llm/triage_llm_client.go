package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"triage_server/pkg/apperr"
	"triage_server/pkg/httputil"
)

const serviceName = "llm"

// Completer produces a completion for prompt with the named model.
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}

type ClientConfig struct {
	APIKey      string
	BaseURL     string // OpenAI-compatible endpoint; empty uses api.openai.com
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
}

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	client      *openai.Client
	maxTokens   int
	temperature float32
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, apperr.MissingConfig("OPENAI_API_KEY")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = cfg.HTTPClient
	if oc.HTTPClient == nil {
		oc.HTTPClient = httputil.LLMClient()
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	return &Client{
		client:      openai.NewClientWithConfig(oc),
		maxTokens:   maxTokens,
		temperature: float32(cfg.Temperature),
	}, nil
}

// Complete sends prompt as a single user message. Provider policy refusals
// come back as SAFETY_BLOCK, HTTP failures as classified AppErrors.
func (c *Client) Complete(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	})
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", apperr.MalformedOutput("completion", errors.New("no choices returned"))
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", apperr.SafetyBlock(string(choice.FinishReason))
	}

	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return "", apperr.MalformedOutput("completion", errors.New("empty completion"))
	}
	return text, nil
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && isContentFilterCode(code) {
			return apperr.SafetyBlock(code).WithError(err)
		}
		if apiErr.HTTPStatusCode > 0 {
			return apperr.FromHTTPStatus(serviceName, apiErr.HTTPStatusCode, err)
		}
		return apperr.Transient(serviceName, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apperr.FromHTTPStatus(serviceName, reqErr.HTTPStatusCode, err)
	}

	return apperr.Transient(serviceName, fmt.Errorf("completion request: %w", err))
}

func isContentFilterCode(code string) bool {
	switch code {
	case "content_filter", "content_policy_violation":
		return true
	}
	return false
}

package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm/httpjson"
)

// Messager is the slice of the SDK messages service this client uses.
type Messager interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// Client implements llm.Completer over the Anthropic Messages API.
type Client struct {
	messages Messager
	settings llm.Settings
}

// New builds an SDK-backed client. SDK-level retries are disabled; retry
// policy belongs to the caller.
func New(apiKey, baseURL string, timeout time.Duration, settings llm.Settings) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	c := anthropicsdk.NewClient(opts...)
	return NewWithMessager(&c.Messages, settings)
}

func NewWithMessager(messages Messager, settings llm.Settings) *Client {
	return &Client{messages: messages, settings: settings}
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	req = c.settings.Apply(req)
	params := anthropicsdk.MessageNewParams{
		Model:       anthropicsdk.Model(c.settings.Model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    []anthropicsdk.MessageParam{anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.Prompt))},
		Temperature: anthropicsdk.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}

	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return "", classify("anthropic "+req.Operation, err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", domain.WrapError(domain.ErrUnexpectedResponse, "anthropic "+req.Operation, errors.New("empty response"))
	}
	return text, nil
}

func classify(operation string, err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) && httpjson.IsRetryableStatus(apiErr.StatusCode) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return httpjson.WrapTemporary(operation, err)
}

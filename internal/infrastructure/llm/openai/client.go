package openai

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm/httpjson"
)

// Options configure an OpenAI-compatible or Azure OpenAI chat endpoint.
// For Azure, BaseURL is the resource endpoint and Model the deployment name.
type Options struct {
	BaseURL    string
	APIKey     string
	Azure      bool
	APIVersion string
	Timeout    time.Duration
	Settings   llm.Settings
}

// Client implements llm.Completer over the chat completions API.
type Client struct {
	http     *httpjson.Client
	path     string
	settings llm.Settings
}

func New(opts Options) *Client {
	headers := map[string]string{}
	provider := "openai"
	path := "/chat/completions"
	if opts.Azure {
		provider = "azure_openai"
		headers["api-key"] = opts.APIKey
		path = "/openai/deployments/" + url.PathEscape(opts.Settings.Model) + "/chat/completions?api-version=" + url.QueryEscape(opts.APIVersion)
	} else if opts.APIKey != "" {
		headers["Authorization"] = "Bearer " + opts.APIKey
	}
	return &Client{
		http:     httpjson.New(provider, opts.BaseURL, opts.Timeout, headers),
		path:     path,
		settings: opts.Settings,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model,omitempty"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	req = c.settings.Apply(req)
	payload := chatRequest{
		Model: c.settings.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSON {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	var resp chatResponse
	if err := c.http.PostJSON(ctx, c.path, payload, &resp, req.Operation); err != nil {
		return "", httpjson.WrapTemporary(c.http.Provider()+" "+req.Operation, err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.WrapError(domain.ErrUnexpectedResponse, c.http.Provider()+" "+req.Operation, errors.New("no choices in response"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

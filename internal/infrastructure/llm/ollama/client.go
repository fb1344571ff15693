package ollama

import (
	"context"
	"strings"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm/httpjson"
)

// Client implements llm.Completer over a local Ollama /api/generate endpoint.
type Client struct {
	http     *httpjson.Client
	settings llm.Settings
}

func New(baseURL string, timeout time.Duration, settings llm.Settings) *Client {
	return &Client{
		http:     httpjson.New("ollama", baseURL, timeout, nil),
		settings: settings,
	}
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	System  string          `json:"system,omitempty"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	req = c.settings.Apply(req)
	payload := generateRequest{
		Model:  c.settings.Model,
		System: req.System,
		Prompt: req.Prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	if req.JSON {
		payload.Format = "json"
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := c.http.PostJSON(ctx, "/api/generate", payload, &response, req.Operation); err != nil {
		return "", httpjson.WrapTemporary("ollama "+req.Operation, err)
	}
	return strings.TrimSpace(response.Response), nil
}

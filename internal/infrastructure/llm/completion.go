// Package llm holds the provider-neutral completion contract shared by the
// chat-model clients and the clinical analyzer.
package llm

import "context"

// Request is one system+user exchange. JSON asks the provider for a single
// JSON object when it supports a structured-output switch.
type Request struct {
	Operation   string
	System      string
	Prompt      string
	JSON        bool
	MaxTokens   int
	Temperature float64
}

// Completer returns the model's text answer for one request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Settings are the per-provider defaults applied when a request leaves
// MaxTokens or Temperature unset.
type Settings struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

func (s Settings) Apply(req Request) Request {
	if req.MaxTokens <= 0 {
		req.MaxTokens = s.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = s.Temperature
	}
	return req
}

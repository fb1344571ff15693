package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/infrastructure/llm"
)

func TestCompleteRequestsJSONFormat(t *testing.T) {
	var captured generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":" {\"matches\":[]} "}`))
	}))
	defer server.Close()

	client := New(server.URL, 0, llm.Settings{Model: "llama3.1", MaxTokens: 4000, Temperature: 0.2})
	out, err := client.Complete(context.Background(), llm.Request{Operation: "compare", System: "coder", Prompt: "diagnoses", JSON: true})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out != `{"matches":[]}` {
		t.Fatalf("unexpected output %q", out)
	}
	if captured.Format != "json" || captured.Stream || captured.System != "coder" || captured.Options.NumPredict != 4000 {
		t.Fatalf("unexpected request: %+v", captured)
	}
}

func TestCompleteIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, 0, llm.Settings{Model: "llama3.1"}).Complete(context.Background(), llm.Request{Operation: "analyze_note"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected 503 to be temporary, got %v", err)
	}
}

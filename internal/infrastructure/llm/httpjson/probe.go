package httpjson

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Probe reports whether a provider endpoint answers at all. Auth and routing
// errors still prove reachability, so only transport failures and 5xx fail.
type Probe struct {
	name       string
	url        string
	httpClient *http.Client
}

func NewProbe(name, url string, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Probe{
		name:       name,
		url:        strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *Probe) Name() string { return p.name }

func (p *Probe) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("create %s probe: %w", p.name, err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return WrapTemporary(p.name+" probe", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s probe: %s", p.name, resp.Status)
	}
	return nil
}

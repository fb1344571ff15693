package domain

type CheckResult struct {
	Healthy   bool    `json:"healthy"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

type Diagnostics struct {
	Status    string                 `json:"status"`
	SessionID string                 `json:"session_id"`
	Checks    map[string]CheckResult `json:"checks"`
	Details   map[string]any         `json:"details,omitempty"`
}

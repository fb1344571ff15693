package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

const probeTimeout = 5 * time.Second

// DiagnosticsService pings every registered dependency concurrently.
type DiagnosticsService struct {
	probes    []ports.HealthProbe
	sessionID string
	details   map[string]any
}

func NewDiagnosticsService(sessionID string, details map[string]any, probes ...ports.HealthProbe) *DiagnosticsService {
	return &DiagnosticsService{probes: probes, sessionID: sessionID, details: details}
}

func (s *DiagnosticsService) Diagnostics(ctx context.Context) domain.Diagnostics {
	out := domain.Diagnostics{
		Status:    "healthy",
		SessionID: s.sessionID,
		Checks:    make(map[string]domain.CheckResult, len(s.probes)),
		Details:   s.details,
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, probe := range s.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			started := time.Now()
			err := probe.Ping(probeCtx)
			result := domain.CheckResult{
				Healthy:   err == nil,
				LatencyMS: float64(time.Since(started).Microseconds()) / 1000,
			}
			if err != nil {
				result.Error = err.Error()
			}

			mu.Lock()
			out.Checks[probe.Name()] = result
			if err != nil {
				out.Status = "degraded"
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

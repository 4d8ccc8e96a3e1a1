package repositories

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// HealthRepository reports the state of backing dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

// Probe pings a single backend (database, cache, broker).
type Probe struct {
	Name    string
	Timeout time.Duration
	Ping    func(context.Context) error
}

type probeHealth struct {
	probes []Probe
	now    func() time.Time
}

// NewProbeHealth builds a HealthRepository that runs every probe concurrently.
func NewProbeHealth(probes []Probe, clock func() time.Time) (HealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health: at least one probe is required")
	}
	for _, probe := range probes {
		if strings.TrimSpace(probe.Name) == "" || probe.Ping == nil {
			return nil, errors.New("health: probe requires a name and ping function")
		}
	}
	if clock == nil {
		clock = time.Now
	}
	return &probeHealth{probes: append([]Probe(nil), probes...), now: clock}, nil
}

func (h *probeHealth) Collect(ctx context.Context) (domain.HealthReport, error) {
	if ctx == nil {
		return domain.HealthReport{}, errors.New("health: context is required")
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]domain.HealthCheck, len(h.probes))
	)
	for _, probe := range h.probes {
		wg.Add(1)
		go func(probe Probe) {
			defer wg.Done()
			check := h.run(ctx, probe)
			mu.Lock()
			results[probe.Name] = check
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, check := range results {
		switch check.Status {
		case domain.HealthStatusError:
			status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		}
	}

	return domain.HealthReport{Status: status, Checks: results, GeneratedAt: h.now()}, nil
}

func (h *probeHealth) run(ctx context.Context, probe Probe) domain.HealthCheck {
	timeout := probe.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := h.now()
	err := probe.Ping(probeCtx)
	end := h.now()

	check := domain.HealthCheck{Status: domain.HealthStatusOK, Detail: "ok", Latency: end.Sub(start), CheckedAt: end}
	switch {
	case err == nil && probeCtx.Err() == nil:
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(probeCtx.Err(), context.DeadlineExceeded):
		check.Status, check.Detail = domain.HealthStatusError, "timeout"
	case errors.Is(err, context.Canceled):
		check.Status, check.Detail = domain.HealthStatusError, "cancelled"
	default:
		check.Status, check.Detail = domain.HealthStatusDegraded, err.Error()
	}
	return check
}

package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Check probes one dependency and reports whether it is up.
type Check func(ctx context.Context) bool

// Report is the aggregated health snapshot served to clients.
type Report struct {
	Status    string          `json:"status"`
	Services  map[string]bool `json:"services"`
	CheckedAt time.Time       `json:"checked_at"`
}

// Monitor runs named health checks concurrently and caches the result
// for a short window so a busy health endpoint does not hammer the
// backends. Services marked critical pull the overall status to "down"
// when they fail; anything else failing means "degraded".
type Monitor struct {
	mu       sync.Mutex
	checks   map[string]Check
	critical map[string]bool
	ttl      time.Duration
	cached   *Report
	logger   *zap.Logger
}

// NewMonitor creates a monitor. A non-positive ttl disables caching.
func NewMonitor(ttl time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		checks:   make(map[string]Check),
		critical: make(map[string]bool),
		ttl:      ttl,
		logger:   logger,
	}
}

// Register adds a named check. Critical services force the overall
// status to "down" when unhealthy.
func (m *Monitor) Register(name string, critical bool, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
	m.critical[name] = critical
}

// RegisterExecutor wires an agent executor's health probe as a check.
func (m *Monitor) RegisterExecutor(exec Executor, critical bool) {
	m.Register(exec.Name(), critical, exec.HealthCheck)
}

// Report returns the current health snapshot, probing the backends only
// when the cached one has expired.
func (m *Monitor) Report(ctx context.Context) *Report {
	m.mu.Lock()
	if m.cached != nil && m.ttl > 0 && time.Since(m.cached.CheckedAt) < m.ttl {
		cached := m.cached
		m.mu.Unlock()
		return cached
	}
	checks := make(map[string]Check, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var resultMu sync.Mutex
	services := make(map[string]bool, len(checks))
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			up := m.probe(ctx, name, check)
			resultMu.Lock()
			services[name] = up
			resultMu.Unlock()
		}(name, check)
	}
	wg.Wait()

	report := &Report{
		Services:  services,
		CheckedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	report.Status = "healthy"
	for name, up := range services {
		if up {
			continue
		}
		if m.critical[name] {
			report.Status = "down"
			break
		}
		report.Status = "degraded"
	}
	m.cached = report
	return report
}

// probe shields the monitor from a misbehaving check.
func (m *Monitor) probe(ctx context.Context, name string, check Check) (up bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("health check panicked",
				zap.String("service", name),
				zap.Any("panic", r))
			up = false
		}
	}()
	return check(ctx)
}

package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Health is the tri-state result of a single probe, per spec §4.1.
type Health int

const (
	Healthy Health = iota
	Degraded
	Unhealthy
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// CheckResult is one probe's outcome.
type CheckResult struct {
	Name     string
	Status   Health
	Latency  time.Duration
	Message  string
	Critical bool
	CheckedAt time.Time
}

// Check is a named probe. Critical checks dominate the aggregate status:
// any critical Unhealthy makes the whole registry Unhealthy (spec §4.1).
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) (Health, string)
}

// Registry runs and aggregates named health checks, mirroring the way the
// teacher wires named circuit breakers per resource
// (internal/circuitbreaker/breaker.go's AOCSCircuitBreakers convenience
// group) but for health probes instead of breakers.
type Registry struct {
	mu     sync.RWMutex
	checks map[string]Check
	last   map[string]CheckResult

	gauge *prometheus.GaugeVec
}

// NewRegistry creates an empty registry. If reg is non-nil, a
// aegisrt_health_status gauge (0=healthy,1=degraded,2=unhealthy) labeled by
// check name is registered against it.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		checks: make(map[string]Check),
		last:   make(map[string]CheckResult),
	}
	if reg != nil {
		r.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "aegisrt",
			Name:      "health_status",
			Help:      "0=healthy 1=degraded 2=unhealthy, per named health check",
		}, []string{"check"})
		reg.MustRegister(r.gauge)
	}
	return r
}

// Register adds or replaces a named check.
func (r *Registry) Register(c Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[c.Name] = c
}

// RunOne executes a single named check on demand and records its result.
func (r *Registry) RunOne(ctx context.Context, name string) (CheckResult, bool) {
	r.mu.RLock()
	c, ok := r.checks[name]
	r.mu.RUnlock()
	if !ok {
		return CheckResult{}, false
	}
	return r.run(ctx, c), true
}

func (r *Registry) run(ctx context.Context, c Check) CheckResult {
	start := time.Now()
	status, msg := c.Probe(ctx)
	res := CheckResult{
		Name:      c.Name,
		Status:    status,
		Latency:   time.Since(start),
		Message:   msg,
		Critical:  c.Critical,
		CheckedAt: start,
	}
	r.mu.Lock()
	r.last[c.Name] = res
	r.mu.Unlock()
	if r.gauge != nil {
		r.gauge.WithLabelValues(c.Name).Set(float64(status))
	}
	return res
}

// RunAll executes every registered check concurrently and returns the
// aggregate status alongside each individual result.
func (r *Registry) RunAll(ctx context.Context) (Health, []CheckResult) {
	r.mu.RLock()
	checks := make([]Check, 0, len(r.checks))
	for _, c := range r.checks {
		checks = append(checks, c)
	}
	r.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			results[i] = r.run(ctx, c)
		}(i, c)
	}
	wg.Wait()

	return aggregate(results), results
}

// aggregate combines individual check results per spec §4.1: any critical
// check Unhealthy makes the whole system Unhealthy; any check (critical or
// not) Degraded, or any non-critical check Unhealthy, makes it Degraded;
// otherwise Healthy.
func aggregate(results []CheckResult) Health {
	degraded := false
	for _, r := range results {
		if r.Critical && r.Status == Unhealthy {
			return Unhealthy
		}
		if r.Status == Degraded || (!r.Critical && r.Status == Unhealthy) {
			degraded = true
		}
	}
	if degraded {
		return Degraded
	}
	return Healthy
}

// Snapshot returns the most recently recorded result for every check
// without re-running probes.
func (r *Registry) Snapshot() []CheckResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CheckResult, 0, len(r.last))
	for _, res := range r.last {
		out = append(out, res)
	}
	return out
}

// StartScheduled runs RunAll on a fixed interval until ctx is cancelled,
// invoking onResult (if non-nil) after each round — used to feed alerting
// or logging without coupling the registry to a specific sink.
func (r *Registry) StartScheduled(ctx context.Context, interval time.Duration, onResult func(Health, []CheckResult)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status, results := r.RunAll(ctx)
				if onResult != nil {
					onResult(status, results)
				}
			}
		}
	}()
}

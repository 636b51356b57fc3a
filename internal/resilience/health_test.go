package resilience

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthyProbe(context.Context) (Health, string)   { return Healthy, "ok" }
func degradedProbe(context.Context) (Health, string)  { return Degraded, "slow" }
func unhealthyProbe(context.Context) (Health, string) { return Unhealthy, "down" }

func TestRegistry_AggregateAllHealthy(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Check{Name: "a", Critical: true, Probe: healthyProbe})
	r.Register(Check{Name: "b", Critical: false, Probe: healthyProbe})

	status, results := r.RunAll(context.Background())
	assert.Equal(t, Healthy, status)
	assert.Len(t, results, 2)
}

func TestRegistry_CriticalUnhealthyDominates(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Check{Name: "critical", Critical: true, Probe: unhealthyProbe})
	r.Register(Check{Name: "side", Critical: false, Probe: healthyProbe})

	status, _ := r.RunAll(context.Background())
	assert.Equal(t, Unhealthy, status)
}

func TestRegistry_NonCriticalUnhealthyOnlyDegrades(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Check{Name: "critical", Critical: true, Probe: healthyProbe})
	r.Register(Check{Name: "side", Critical: false, Probe: unhealthyProbe})

	status, _ := r.RunAll(context.Background())
	assert.Equal(t, Degraded, status, "a non-critical unhealthy check must degrade, not fail, the aggregate")
}

func TestRegistry_DegradedCheckDegradesAggregate(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Check{Name: "a", Critical: true, Probe: degradedProbe})

	status, _ := r.RunAll(context.Background())
	assert.Equal(t, Degraded, status)
}

func TestRegistry_RunOneAndSnapshot(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(Check{Name: "cache", Critical: false, Probe: healthyProbe})

	res, ok := r.RunOne(context.Background(), "cache")
	require.True(t, ok)
	assert.Equal(t, Healthy, res.Status)

	_, ok = r.RunOne(context.Background(), "missing")
	assert.False(t, ok)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "cache", snap[0].Name)
}

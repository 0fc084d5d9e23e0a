package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitx/transitx/internal/provider/resilience"
)

func newTracked(t *testing.T, registry *resilience.Registry, name string) *resilience.Client {
	t.Helper()
	cfg := resilience.DefaultClientConfig(name)
	cfg.Registry = registry
	return resilience.NewClient(cfg)
}

func TestRegistry_RegisterAndHealth(t *testing.T) {
	registry := resilience.NewRegistry()
	client := newTracked(t, registry, "open-meteo-archive")

	assert.Equal(t, 1, registry.Len())
	assert.Equal(t, "open-meteo-archive", client.Name())

	health := registry.Health("open-meteo-archive")
	require.NotNil(t, health)
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
	assert.True(t, health.IsHealthy())
	assert.False(t, health.IsDegraded())
	assert.False(t, health.IsUnhealthy())
}

func TestRegistry_Unregister(t *testing.T) {
	registry := resilience.NewRegistry()
	_ = newTracked(t, registry, "ckan")

	registry.Unregister("ckan")

	assert.Equal(t, 0, registry.Len())
	assert.Nil(t, registry.Health("ckan"))
}

func TestRegistry_RecordOutcomes(t *testing.T) {
	registry := resilience.NewRegistry()
	_ = newTracked(t, registry, "ckan")

	health := registry.Health("ckan")
	require.NotNil(t, health)
	assert.Nil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)

	registry.RecordSuccess("ckan")
	registry.RecordFailure("ckan", errors.New("connection refused"))

	health = registry.Health("ckan")
	require.NotNil(t, health.LastSuccessAt)
	require.NotNil(t, health.LastFailureAt)
	assert.WithinDuration(t, time.Now(), *health.LastSuccessAt, time.Second)
	assert.Equal(t, "connection refused", health.LastError)
}

func TestRegistry_RecordUnknownIsNoop(t *testing.T) {
	registry := resilience.NewRegistry()

	registry.RecordSuccess("missing")
	registry.RecordFailure("missing", errors.New("boom"))

	assert.Equal(t, 0, registry.Len())
}

func TestRegistry_SnapshotSorted(t *testing.T) {
	registry := resilience.NewRegistry()
	_ = newTracked(t, registry, "open-meteo-forecast")
	_ = newTracked(t, registry, "ckan")
	_ = newTracked(t, registry, "open-meteo-archive")

	snap := registry.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "ckan", snap[0].Name)
	assert.Equal(t, "open-meteo-archive", snap[1].Name)
	assert.Equal(t, "open-meteo-forecast", snap[2].Name)
}

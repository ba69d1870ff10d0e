package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()
	require.NotNil(t, registry.Core())
	require.NotNil(t, registry.PrometheusRegistry())

	// Core metrics gather cleanly
	registry.Core().ActiveSessions.Inc()
	registry.Core().LocksAcquired.Inc()
	registry.Core().EventsBroadcast.WithLabelValues("node_updated").Inc()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Equal(t, 1.0, testutil.ToFloat64(registry.Core().ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(registry.Core().LocksAcquired))
}

func TestRegistryRegister(t *testing.T) {
	registry := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_custom_total",
		Help: "test counter",
	})
	require.NoError(t, registry.Register("gateway.custom", counter))

	// Duplicate name rejected
	other := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_other_total",
		Help: "test counter",
	})
	err := registry.Register("gateway.custom", other)
	assert.Error(t, err)

	assert.True(t, registry.Unregister("gateway.custom"))
	assert.False(t, registry.Unregister("gateway.custom"))
}

func TestIndependentRegistries(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.Core().LockConflicts.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Core().LockConflicts))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Core().LockConflicts))
}

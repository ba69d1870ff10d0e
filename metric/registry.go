package metric

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360/fabula/errors"
)

// Registry manages the core metrics and any extra collectors components
// register, backed by a private Prometheus registry
type Registry struct {
	prometheusRegistry *prometheus.Registry
	metrics            *Metrics
	registered         map[string]prometheus.Collector
	mu                 sync.Mutex
}

// NewRegistry creates a registry with the core metrics and Go runtime
// collectors pre-registered
func NewRegistry() *Registry {
	registry := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		metrics:            NewMetrics(),
		registered:         make(map[string]prometheus.Collector),
	}

	for _, c := range registry.metrics.collectors() {
		registry.prometheusRegistry.MustRegister(c)
	}
	registry.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// PrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// Core returns the core service metrics
func (r *Registry) Core() *Metrics {
	return r.metrics
}

// Register adds a component-specific collector under a name; registering
// the same name twice is an error
func (r *Registry) Register(name string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registered[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("collector %s already registered", name),
			"Registry", "Register", "duplicate collector registration")
	}
	if err := r.prometheusRegistry.Register(collector); err != nil {
		return errors.WrapFatal(err, "Registry", "Register",
			fmt.Sprintf("register collector %s with prometheus", name))
	}
	r.registered[name] = collector
	return nil
}

// Unregister removes a previously registered collector, reporting whether
// it was present
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	collector, exists := r.registered[name]
	if !exists {
		return false
	}
	delete(r.registered, name)
	return r.prometheusRegistry.Unregister(collector)
}

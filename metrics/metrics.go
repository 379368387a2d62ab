// Package metrics provides named counters/gauges/timers per component,
// wrapping rcrowley/go-metrics the way the teacher's own metrics package
// wraps it, but without the teacher's reporter/exporter machinery (out of
// scope per spec.md — CLI, metrics export, and logging are external
// collaborators; only the instrumentation points inside the consensus
// core are in scope here).
package metrics

import (
	gometrics "github.com/rcrowley/go-metrics"
)

// Registry namespaces every metric under a component prefix, mirroring
// the teacher's "module/submodule/name" metric naming convention (e.g.
// "primary/proposer/headers_proposed").
type Registry struct {
	prefix string
	reg    gometrics.Registry
}

// DefaultRegistry is the process-wide registry components register into
// at construction, matching the teacher's reliance on one shared registry
// rather than per-instance ones.
var DefaultRegistry = gometrics.NewRegistry()

func New(prefix string) *Registry {
	return &Registry{prefix: prefix, reg: DefaultRegistry}
}

func (r *Registry) name(metric string) string {
	if r.prefix == "" {
		return metric
	}
	return r.prefix + "/" + metric
}

func (r *Registry) Counter(name string) gometrics.Counter {
	return gometrics.GetOrRegisterCounter(r.name(name), r.reg)
}

func (r *Registry) Gauge(name string) gometrics.Gauge {
	return gometrics.GetOrRegisterGauge(r.name(name), r.reg)
}

func (r *Registry) Timer(name string) gometrics.Timer {
	return gometrics.GetOrRegisterTimer(r.name(name), r.reg)
}

func (r *Registry) Meter(name string) gometrics.Meter {
	return gometrics.GetOrRegisterMeter(r.name(name), r.reg)
}

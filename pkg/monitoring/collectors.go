// Package monitoring exposes the boost coordinator's state as prometheus
// collectors.
package monitoring

import (
	"strconv"

	"golang.org/x/exp/constraints"

	"github.com/AMDEPYC/cpu-boost-coordinator/pkg/boost"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Helper constants for prom Collectors
const (
	promNamespace string = "cpuboost"

	LogTopName string = "monitoring"
)

type collectorImpl struct {
	collectFunc  func(ch chan<- prom.Metric)
	describeFunc func(ch chan<- *prom.Desc)
}

func (c collectorImpl) Collect(ch chan<- prom.Metric) {
	c.collectFunc(ch)
}

func (c collectorImpl) Describe(ch chan<- *prom.Desc) {
	c.describeFunc(ch)
}

type number interface {
	constraints.Integer | constraints.Float
}

func constMetric[T number](desc *prom.Desc, metricType prom.ValueType, value T, labels ...string) prom.Metric {
	return prom.MustNewConstMetric(desc, metricType, float64(value), labels...)
}

// NewFloorCollector reports the currently requested boost floor per CPU in
// kHz. The unbounded sentinel is reported as-is; dashboards treat any
// non-zero value as "boosted".
func NewFloorCollector(coordinator boost.Coordinator, log logr.Logger) prom.Collector {
	desc := prom.NewDesc(
		prom.BuildFQName(promNamespace, "", "floor_khz"),
		"Requested minimum-frequency floor per CPU in kHz",
		[]string{"cpu"},
		nil,
	)

	cpus := coordinator.CPUs()
	log.V(4).Info("New boost floor prometheus Collector created", "cpus", len(cpus))

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			for _, cpu := range cpus {
				ch <- constMetric(desc, prom.GaugeValue,
					coordinator.Floor(cpu), strconv.Itoa(int(cpu)))
			}
		},
	}
}

// NewTriggerCollector reports the coordinator's trigger counters and the
// max-boost-active flag.
func NewTriggerCollector(coordinator boost.Coordinator, log logr.Logger) prom.Collector {
	activationsDesc := prom.NewDesc(
		prom.BuildFQName(promNamespace, "", "activations_total"),
		"Accepted boost activations by kind",
		[]string{"kind"},
		nil,
	)
	droppedDesc := prom.NewDesc(
		prom.BuildFQName(promNamespace, "", "dropped_triggers_total"),
		"Suppressed boost triggers by reason",
		[]string{"reason"},
		nil,
	)
	expiriesDesc := prom.NewDesc(
		prom.BuildFQName(promNamespace, "", "expiries_total"),
		"Boost expiries that ran to completion",
		nil,
		nil,
	)
	maxActiveDesc := prom.NewDesc(
		prom.BuildFQName(promNamespace, "", "max_boost_active"),
		"Whether a max boost currently holds every floor at the unbounded tier",
		nil,
		nil,
	)

	log.V(4).Info("New boost trigger prometheus Collector created")

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- activationsDesc
			ch <- droppedDesc
			ch <- expiriesDesc
			ch <- maxActiveDesc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			stats := coordinator.Stats()
			ch <- constMetric(activationsDesc, prom.CounterValue, stats.WeakActivations, "weak")
			ch <- constMetric(activationsDesc, prom.CounterValue, stats.StrongActivations, "strong")
			ch <- constMetric(droppedDesc, prom.CounterValue, stats.DroppedPending, "pending")
			ch <- constMetric(droppedDesc, prom.CounterValue, stats.DroppedStale, "stale")
			ch <- constMetric(droppedDesc, prom.CounterValue, stats.DroppedMaxActive, "max_active")
			ch <- constMetric(expiriesDesc, prom.CounterValue, stats.Expiries)

			active := 0
			if coordinator.MaxBoostActive() {
				active = 1
			}
			ch <- constMetric(maxActiveDesc, prom.GaugeValue, active)
		},
	}
}

// RegisterCollectors registers all boost collectors with the given registry.
func RegisterCollectors(registry prom.Registerer, coordinator boost.Coordinator, log logr.Logger) error {
	for _, collector := range []prom.Collector{
		NewFloorCollector(coordinator, log),
		NewTriggerCollector(coordinator, log),
	} {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

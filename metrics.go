package upkg

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "upkg"
	metricsSubsystem = "registry"
)

// metrics holds the registry collectors. They are always created so call
// sites need no nil checks; registration only happens with WithMetrics.
type metrics struct {
	opened            prometheus.Counter
	closed            prometheus.Counter
	loaded            prometheus.Gauge
	unresolved        prometheus.Counter
	decompressedBytes prometheus.Counter
	loadCancelled     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, logger *slog.Logger) *metrics {
	m := &metrics{
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "packages_opened_total",
			Help:      "Packages read from disk, including decompressed and composite packages.",
		}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "packages_closed_total",
			Help:      "Packages torn down after their last reference was released.",
		}),
		loaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "packages_loaded",
			Help:      "Packages currently held by the registry.",
		}),
		unresolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "unresolved_imports_total",
			Help:      "Foreign imports that could not be satisfied.",
		}),
		decompressedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "decompressed_bytes_total",
			Help:      "Bytes produced by chunk decompression.",
		}),
		loadCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "loads_cancelled_total",
			Help:      "Header parses aborted by a cancel request.",
		}),
	}
	if reg == nil {
		return m
	}
	register(reg, &m.opened, logger)
	register(reg, &m.closed, logger)
	register(reg, &m.loaded, logger)
	register(reg, &m.unresolved, logger)
	register(reg, &m.decompressedBytes, logger)
	register(reg, &m.loadCancelled, logger)
	return m
}

// register adds c to reg. A collector registered by an earlier registry
// replaces c so both registries report into the same series.
func register[C prometheus.Collector](reg prometheus.Registerer, c *C, logger *slog.Logger) {
	err := reg.Register(*c)
	if err == nil {
		return
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			*c = existing
			return
		}
	}
	logger.Warn("failed to register metric", "error", err)
}

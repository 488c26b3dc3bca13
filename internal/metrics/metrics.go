package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"codeberg.org/mutker/edgegov/internal/errors"
	"codeberg.org/mutker/edgegov/internal/logger"
	"codeberg.org/mutker/edgegov/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

type service struct {
	cfg Config

	memoryUsed  prometheus.Gauge
	memoryTotal prometheus.Gauge
	cpuBusy     prometheus.Gauge
	gpuLoad     prometheus.Gauge
	gpuFreq     prometheus.Gauge
	gpuTemp     prometheus.Gauge
	cpuTemp     prometheus.Gauge

	throttled   *prometheus.GaugeVec
	mitigations *prometheus.CounterVec
	inventories prometheus.Counter

	server   *http.Server
	listener net.Listener
}

// No-op implementation
type noopMetricsCollector struct{}

func NewService(cfg Config) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If metrics is disabled, return a no-op collector
	if !cfg.Enabled {
		logger.Debug().Msg("Metrics collection disabled, using no-op collector")
		return &noopMetricsCollector{}, nil
	}

	if cfg.Namespace == "" {
		cfg.Namespace = defaultNamespace
	}
	if cfg.Registerer == nil {
		reg := prometheus.NewRegistry()
		cfg.Registerer, cfg.Gatherer = reg, reg
	}

	s := newService(cfg)
	if err := s.register(); err != nil {
		return nil, errFactory.Wrap(ErrRegisterFailed, err)
	}

	if cfg.Addr != "" {
		if err := s.serve(); err != nil {
			return nil, errFactory.Wrap(ErrListenFailed, err)
		}
	}

	logger.Debug().
		Str("addr", cfg.Addr).
		Bool("enabled", cfg.Enabled).
		Msg("Metrics service initialized successfully")

	return s, nil
}

func newService(cfg Config) *service {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: cfg.Namespace, Name: name, Help: help})
	}

	return &service{
		cfg:         cfg,
		memoryUsed:  gauge("memory_used_megabytes", "Used memory (MemTotal - MemAvailable)."),
		memoryTotal: gauge("memory_total_megabytes", "Total memory."),
		cpuBusy:     gauge("cpu_busy_percent", "CPU busy share over the last sampling window."),
		gpuLoad:     gauge("gpu_load_percent", "GPU load."),
		gpuFreq:     gauge("gpu_frequency_megahertz", "Current GPU clock."),
		gpuTemp:     gauge("gpu_temperature_celsius", "GPU thermal zone temperature."),
		cpuTemp:     gauge("cpu_temperature_celsius", "CPU thermal zone temperature."),
		throttled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "throttled",
			Help:      "1 while a thermal dimension is throttled.",
		}, []string{"dimension"}),
		mitigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "mitigations_total",
			Help:      "Mitigation actions taken, by dimension and action.",
		}, []string{"dimension", "action"}),
		inventories: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "inventory_snapshots_total",
			Help:      "Inventory snapshots written.",
		}),
	}
}

func (s *service) register() error {
	for _, c := range []prometheus.Collector{
		s.memoryUsed, s.memoryTotal, s.cpuBusy, s.gpuLoad, s.gpuFreq,
		s.gpuTemp, s.cpuTemp, s.throttled, s.mitigations, s.inventories,
	} {
		if err := s.cfg.Registerer.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) serve() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.listener = ln
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics endpoint stopped")
		}
	}()

	logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")

	return nil
}

func setIfAvailable(g prometheus.Gauge, v int) {
	if telemetry.Available(v) {
		g.Set(float64(v))
	}
}

func (s *service) ObserveSample(sample telemetry.Sample) {
	setIfAvailable(s.memoryUsed, sample.MemoryUsedMB)
	setIfAvailable(s.memoryTotal, sample.MemoryTotalMB)
	setIfAvailable(s.cpuBusy, sample.CPUBusyPct)
	setIfAvailable(s.gpuLoad, sample.GPULoadPct)
	setIfAvailable(s.gpuFreq, sample.GPUFreqMHz)
	setIfAvailable(s.gpuTemp, sample.GPUTempC)
	setIfAvailable(s.cpuTemp, sample.CPUTempC)
}

func (s *service) SetThrottled(dimension string, throttled bool) {
	s.throttled.WithLabelValues(dimension).Set(boolToFloat(throttled))
}

func (s *service) IncMitigation(dimension, action string) {
	s.mitigations.WithLabelValues(dimension, action).Inc()
}

func (s *service) IncInventory() {
	s.inventories.Inc()
}

func (s *service) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}

// No-op implementation
func (*noopMetricsCollector) ObserveSample(telemetry.Sample) {}

func (*noopMetricsCollector) SetThrottled(string, bool) {}

func (*noopMetricsCollector) IncMitigation(string, string) {}

func (*noopMetricsCollector) IncInventory() {}

func (*noopMetricsCollector) Close() error {
	return nil
}

// Noop returns a collector that discards everything.
func Noop() Collector {
	return &noopMetricsCollector{}
}

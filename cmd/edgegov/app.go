package main

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/edgegov/internal/actuator"
	"codeberg.org/mutker/edgegov/internal/clock"
	"codeberg.org/mutker/edgegov/internal/config"
	"codeberg.org/mutker/edgegov/internal/gpu"
	"codeberg.org/mutker/edgegov/internal/inventory"
	"codeberg.org/mutker/edgegov/internal/logger"
	"codeberg.org/mutker/edgegov/internal/logsink"
	"codeberg.org/mutker/edgegov/internal/metrics"
	"codeberg.org/mutker/edgegov/internal/mitigation"
	"codeberg.org/mutker/edgegov/internal/monitor"
	"codeberg.org/mutker/edgegov/internal/procs"
	"codeberg.org/mutker/edgegov/internal/telemetry"
)

type monitorSet int

const (
	monitorResources monitorSet = 1 << iota
	monitorGPU
	monitorStats

	monitorAll = monitorResources | monitorGPU | monitorStats
)

// app owns the long-lived collaborators shared by the monitors.
type app struct {
	cfg     *config.Config
	clock   clock.Clock
	backend *gpu.Backend
	source  *telemetry.Source
	table   *procs.Table
	metrics metrics.Collector

	sinks   []*logsink.Sink
	thermal []*mitigation.ThermalController
}

func newApp(cfg *config.Config, clk clock.Clock) (*app, error) {
	collector, err := metrics.NewService(metrics.Config{
		Addr:      cfg.MetricsAddr,
		Namespace: "edgegov",
		Enabled:   cfg.MetricsAddr != "",
	})
	if err != nil {
		return nil, err
	}

	backend := gpu.Detect(cfg.GPUBackend, cfg.SysRoot, cfg.GPUDevfreqPath, logger.Default())

	return &app{
		cfg:     cfg,
		clock:   clk,
		backend: backend,
		source: telemetry.New(telemetry.Options{
			ProcRoot:  cfg.ProcRoot,
			SysRoot:   cfg.SysRoot,
			GPU:       backend.Reader,
			Clock:     clk,
			CPUWindow: time.Duration(cfg.CPUWindowMS) * time.Millisecond,
		}),
		table:   procs.NewTable(cfg.ProcRoot),
		metrics: collector,
	}, nil
}

func (a *app) openSink(name string) (*logsink.Sink, error) {
	sink, err := logsink.Open(filepath.Join(a.cfg.LogDir, name), a.clock)
	if err != nil {
		return nil, err
	}

	a.sinks = append(a.sinks, sink)

	return sink, nil
}

// loops builds the monitors in set. A single monitor samples at the
// configured interval; when all run together the GPU and stats monitors
// use their own intervals.
func (a *app) loops(set monitorSet) ([]*monitor.Loop, error) {
	gpuInterval, statsInterval := a.cfg.Interval, a.cfg.Interval
	if set == monitorAll {
		gpuInterval, statsInterval = a.cfg.GPUInterval, a.cfg.StatsInterval
	}

	var loops []*monitor.Loop

	if set&monitorResources != 0 {
		task, err := a.resourceMonitor()
		if err != nil {
			return nil, err
		}
		loops = append(loops, monitor.NewLoop("resources", task, seconds(a.cfg.Interval), a.clock))
	}

	if set&monitorGPU != 0 {
		task, err := a.gpuMonitor()
		if err != nil {
			return nil, err
		}
		loops = append(loops, monitor.NewLoop("gpu", task, seconds(gpuInterval), a.clock))
	}

	if set&monitorStats != 0 {
		sink, err := a.openSink(logsink.StatsLog)
		if err != nil {
			return nil, err
		}
		task := &monitor.StatsMonitor{Source: a.source, Sink: sink, DiskPath: a.cfg.DiskPath}
		loops = append(loops, monitor.NewLoop("stats", task, seconds(statsInterval), a.clock))
	}

	return loops, nil
}

func (a *app) resourceMonitor() (*monitor.ResourceMonitor, error) {
	sink, err := a.openSink(logsink.ResourceLog)
	if err != nil {
		return nil, err
	}

	th := a.cfg.Thresholds()

	var gov mitigation.Governor
	if g := actuator.CPUGovernor(a.cfg.SysRoot); g != nil {
		logger.Debug().Strs("paths", g.Paths()).Msg("CPU frequency governor found")
		gov = g
	} else {
		logger.Info().Msg("No CPU frequency governor found, CPU throttling will only be logged")
	}

	cpuThermal := mitigation.NewThermalController(mitigation.ThermalConfig{
		Dimension:     mitigation.DimensionCPU,
		ThrottleTempC: th.CPUThrottleTempC,
		PowerSave:     a.cfg.PowerSaveGovernor,
		Restore:       a.cfg.CPUDefaultGovernor,
	}, gov, sink, a.metrics)
	a.thermal = append(a.thermal, cpuThermal)

	return &monitor.ResourceMonitor{
		Source:  a.source,
		Sink:    sink,
		Metrics: a.metrics,
		Memory: mitigation.NewMemoryMitigator(mitigation.MemoryConfig{
			HighMB:           th.MemoryHighMB,
			LowMB:            th.MemoryLowMB,
			Trigger:          a.cfg.Trigger(),
			HeavyProcesses:   a.cfg.HeavyProcesses,
			HeavyThresholdMB: a.cfg.HeavyProcessMB,
			TopN:             a.cfg.TopProcesses,
			HeavyNice:        a.cfg.HeavyNice,
		}, actuator.NewCacheDropper(a.cfg.ProcRoot), a.table, sink, a.metrics),
		CPUUsage: mitigation.NewUtilizationCheck(mitigation.DimensionCPU, th.CPUHighPct,
			mitigation.TopCPUProcesses(a.table, a.cfg.TopProcesses), sink, a.metrics),
		CPUThermal: cpuThermal,
		Inventory: inventory.NewCollector(th.InventoryInterval, a.clock, inventory.Options{
			ProcRoot: a.cfg.ProcRoot,
			DiskPath: a.cfg.DiskPath,
			Versions: a.backend.Versions,
		}, sink, a.metrics),
	}, nil
}

func (a *app) gpuMonitor() (*monitor.GPUMonitor, error) {
	sink, err := a.openSink(logsink.GPULog)
	if err != nil {
		return nil, err
	}

	th := a.cfg.Thresholds()

	gpuThermal := mitigation.NewThermalController(mitigation.ThermalConfig{
		Dimension:     mitigation.DimensionGPU,
		ThrottleTempC: th.GPUThrottleTempC,
		PowerSave:     a.cfg.PowerSaveGovernor,
		Restore:       a.cfg.GPUDefaultGovernor,
		Zones:         a.source.ThermalZones,
	}, a.gpuGovernor(), sink, a.metrics)
	a.thermal = append(a.thermal, gpuThermal)

	return &monitor.GPUMonitor{
		Source:  a.source,
		Sink:    sink,
		Metrics: a.metrics,
		GPUUsage: mitigation.NewUtilizationCheck(mitigation.DimensionGPU, th.GPUHighPct,
			mitigation.TopGPUProcesses(a.backend.Reader, a.table, a.cfg.TopProcesses), sink, a.metrics),
		GPUThermal: gpuThermal,
	}, nil
}

// gpuGovernor picks the devfreq governor of an integrated GPU, or the
// power-limit governor of an NVML device.
func (a *app) gpuGovernor() mitigation.Governor {
	switch a.backend.Kind {
	case gpu.KindSysfs:
		if g := actuator.NewFileGovernor(a.backend.GovernorPath()); g != nil {
			return g
		}
	case gpu.KindNVML:
		g, err := a.backend.PowerGovernor(a.cfg.PowerSaveGovernor)
		if err == nil {
			return g
		}
		logger.Warn().Err(err).Msg("NVML power limits unavailable")
	}

	logger.Info().Msg("No GPU frequency governor found, GPU throttling will only be logged")

	return nil
}

// close restores throttled governors and releases every resource. It is
// best effort.
func (a *app) close() {
	for _, c := range a.thermal {
		c.Restore()
	}

	for _, s := range a.sinks {
		if err := s.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close log file")
		}
	}

	if err := a.metrics.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop metrics endpoint")
	}

	if err := a.backend.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to release GPU")
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

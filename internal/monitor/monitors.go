package monitor

import (
	"context"
	"time"

	"codeberg.org/mutker/edgegov/internal/inventory"
	"codeberg.org/mutker/edgegov/internal/logsink"
	"codeberg.org/mutker/edgegov/internal/metrics"
	"codeberg.org/mutker/edgegov/internal/mitigation"
	"codeberg.org/mutker/edgegov/internal/telemetry"
)

// Source is the telemetry the monitors read.
type Source interface {
	Now() time.Time
	Memory() (usedMB, totalMB int)
	CPUBusyPercent(ctx context.Context) int
	GPULoad() int
	GPUFrequency() int
	ThermalZone(kind string) int
	DiskUsedPercent(path string) int
}

// ResourceMonitor samples memory and CPU, and drives the memory, CPU
// and inventory controllers.
type ResourceMonitor struct {
	Source     Source
	Sink       *logsink.Sink
	Metrics    metrics.Collector
	Memory     *mitigation.MemoryMitigator
	CPUUsage   *mitigation.UtilizationCheck
	CPUThermal *mitigation.ThermalController
	Inventory  *inventory.Collector
}

func (m *ResourceMonitor) Tick(ctx context.Context) {
	s := unavailableSample(m.Source.Now())
	s.MemoryUsedMB, s.MemoryTotalMB = m.Source.Memory()
	s.CPUBusyPct = m.Source.CPUBusyPercent(ctx)
	s.CPUTempC = m.Source.ThermalZone(telemetry.KindCPU)

	m.Sink.Info().Msgf("Memory: %s | CPU: %s | CPU temp: %s",
		formatMemory(s.MemoryUsedMB, s.MemoryTotalMB), formatPercent(s.CPUBusyPct), formatTemp(s.CPUTempC))
	if m.Metrics != nil {
		m.Metrics.ObserveSample(s)
	}

	if m.Memory != nil {
		m.Memory.Evaluate(s.MemoryUsedMB)
	}
	if m.CPUUsage != nil {
		m.CPUUsage.Evaluate(s.CPUBusyPct)
	}
	if m.CPUThermal != nil {
		m.CPUThermal.Evaluate(s.CPUTempC)
	}
	if m.Inventory != nil {
		m.Inventory.MaybeCollect()
	}
}

// GPUMonitor samples the GPU and drives its usage and thermal controllers.
type GPUMonitor struct {
	Source     Source
	Sink       *logsink.Sink
	Metrics    metrics.Collector
	GPUUsage   *mitigation.UtilizationCheck
	GPUThermal *mitigation.ThermalController
}

func (m *GPUMonitor) Tick(_ context.Context) {
	s := unavailableSample(m.Source.Now())
	s.GPULoadPct = m.Source.GPULoad()
	s.GPUFreqMHz = m.Source.GPUFrequency()
	s.GPUTempC = m.Source.ThermalZone(telemetry.KindGPU)

	m.Sink.Info().Msgf("GPU: %s | Freq: %s | GPU temp: %s",
		formatPercent(s.GPULoadPct), formatMHz(s.GPUFreqMHz), formatTemp(s.GPUTempC))
	if m.Metrics != nil {
		m.Metrics.ObserveSample(s)
	}

	if m.GPUUsage != nil {
		m.GPUUsage.Evaluate(s.GPULoadPct)
	}
	if m.GPUThermal != nil {
		m.GPUThermal.Evaluate(s.GPUTempC)
	}
}

// StatsMonitor writes the combined stats stream. It takes no action.
type StatsMonitor struct {
	Source   Source
	Sink     *logsink.Sink
	DiskPath string
}

func (m *StatsMonitor) Tick(ctx context.Context) {
	used, total := m.Source.Memory()

	m.Sink.Info().Msgf("Memory: %s | CPU: %s | GPU: %s | Disk: %s",
		formatMemory(used, total),
		formatPercent(m.Source.CPUBusyPercent(ctx)),
		formatPercent(m.Source.GPULoad()),
		formatPercent(m.Source.DiskUsedPercent(m.DiskPath)))
}

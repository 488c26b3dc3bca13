// Package telemetry reads raw counters from procfs, sysfs and the GPU
// backend. Every accessor is read-only and reports Unavailable instead of
// failing when its source is missing.
package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/edgegov/internal/clock"
	"codeberg.org/mutker/edgegov/internal/gpu"
	"golang.org/x/sys/unix"
)

type Source struct {
	procRoot  string
	sysRoot   string
	gpu       gpu.Reader
	clock     clock.Clock
	cpuWindow time.Duration
}

func New(opts Options) *Source {
	opts = opts.withDefaults()

	return &Source{
		procRoot:  opts.ProcRoot,
		sysRoot:   opts.SysRoot,
		gpu:       opts.GPU,
		clock:     opts.Clock,
		cpuWindow: opts.CPUWindow,
	}
}

// Memory returns used and total memory in MB. Used memory is MemTotal
// minus MemAvailable.
func (s *Source) Memory() (usedMB, totalMB int) {
	info, ok := ReadMemInfo(s.procRoot)
	if !ok {
		return Unavailable, Unavailable
	}

	total, okTotal := info["MemTotal"]
	available, okAvail := info["MemAvailable"]
	if !okTotal {
		return Unavailable, Unavailable
	}
	if !okAvail {
		available = info["MemFree"] + info["Buffers"] + info["Cached"]
	}
	if available > total {
		available = total
	}

	return int((total - available) / 1024), int(total / 1024)
}

// CPUBusyPercent returns the aggregate CPU busy share over the sampling
// window, truncated to an integer.
func (s *Source) CPUBusyPercent(ctx context.Context) int {
	first, ok := readCPUStat(s.procRoot)
	if !ok {
		return Unavailable
	}

	if s.cpuWindow < 0 {
		return busyPercent(cpuStat{}, first)
	}

	select {
	case <-ctx.Done():
		return Unavailable
	case <-s.clock.After(s.cpuWindow):
	}

	second, ok := readCPUStat(s.procRoot)
	if !ok {
		return Unavailable
	}

	return busyPercent(first, second)
}

func (s *Source) GPULoad() int {
	if s.gpu == nil {
		return Unavailable
	}

	v, ok := s.gpu.Load()
	if !ok {
		return Unavailable
	}

	return clampPercent(v)
}

func (s *Source) GPUFrequency() int {
	if s.gpu == nil {
		return Unavailable
	}

	v, ok := s.gpu.FrequencyMHz()
	if !ok {
		return Unavailable
	}

	return v
}

// ThermalZone returns the temperature of the first zone whose type
// contains kind. A GPU without a thermal zone falls back to the GPU
// backend's own sensor.
func (s *Source) ThermalZone(kind string) int {
	for _, z := range s.ThermalZones() {
		if matchesKind(z.Type, kind) && Available(z.TempC) {
			return z.TempC
		}
	}

	if kind == KindGPU && s.gpu != nil {
		if v, ok := s.gpu.TemperatureC(); ok {
			return v
		}
	}

	return Unavailable
}

// DiskUsedPercent returns the used share of the filesystem holding path,
// computed against the space available to unprivileged users as df does.
func (s *Source) DiskUsedPercent(path string) int {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Unavailable
	}

	bsize := uint64(st.Bsize)
	used := (st.Blocks - st.Bfree) * bsize
	avail := st.Bavail * bsize
	if used+avail == 0 {
		return Unavailable
	}

	return int(used * 100 / (used + avail))
}

// Now returns the time on the source's clock, which stamps every Sample.
func (s *Source) Now() time.Time {
	return s.clock.Now()
}

// Sample reads every source once.
func (s *Source) Sample(ctx context.Context) Sample {
	used, total := s.Memory()

	return Sample{
		Timestamp:     s.Now(),
		MemoryUsedMB:  used,
		MemoryTotalMB: total,
		CPUBusyPct:    s.CPUBusyPercent(ctx),
		GPULoadPct:    s.GPULoad(),
		GPUFreqMHz:    s.GPUFrequency(),
		GPUTempC:      s.ThermalZone(KindGPU),
		CPUTempC:      s.ThermalZone(KindCPU),
	}
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

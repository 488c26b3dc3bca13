package gpu

import "github.com/NVIDIA/go-nvml/pkg/nvml"

// Reader reports GPU telemetry. Every accessor returns ok=false when the
// value cannot be read on this host.
type Reader interface {
	Name() string
	Load() (int, bool)
	FrequencyMHz() (int, bool)
	TemperatureC() (int, bool)
	Processes() []Process
	Close() error
}

// Process is a process holding a GPU context.
type Process struct {
	PID             int
	UsedMemoryBytes uint64
}

// Backend kinds
const (
	KindAuto  = "auto"
	KindSysfs = "sysfs"
	KindNVML  = "nvml"
	KindNone  = "none"
)

// nvmlDevice is the subset of nvml.Device used here, so tests can
// substitute a fake device.
type nvmlDevice interface {
	GetName() (string, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetClockInfo(nvml.ClockType) (uint32, nvml.Return)
	GetTemperature(nvml.TemperatureSensors) (uint32, nvml.Return)
	GetComputeRunningProcesses() ([]nvml.ProcessInfo, nvml.Return)
	GetPowerManagementLimit() (uint32, nvml.Return)
	GetPowerManagementLimitConstraints() (uint32, uint32, nvml.Return)
	GetPowerManagementDefaultLimit() (uint32, nvml.Return)
	SetPowerManagementLimit(uint32) nvml.Return
}

// Domain types for type safety and validation
type (
	// PowerLimit is a board power limit in milliwatts, the unit NVML
	// reports and accepts.
	PowerLimit uint32

	PowerLimits struct {
		Min, Max, Default PowerLimit
	}
)

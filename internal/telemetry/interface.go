package telemetry

import (
	"math"
	"time"
)

// Unavailable marks a reading whose source is absent on this host.
// Callers treat it as a valid state and skip checks that depend on it.
// Temperatures can be negative, so the sentinel sits outside any
// plausible reading.
const Unavailable = math.MinInt32

// Available reports whether v holds a real reading.
func Available(v int) bool {
	return v != Unavailable
}

// Sample is a point-in-time reading. It is never mutated after creation.
type Sample struct {
	Timestamp     time.Time
	MemoryUsedMB  int
	MemoryTotalMB int
	CPUBusyPct    int
	GPULoadPct    int
	GPUFreqMHz    int
	GPUTempC      int
	CPUTempC      int
}

// Zone is one thermal zone reading.
type Zone struct {
	Name  string
	Type  string
	TempC int
}

// Thermal zone kinds matched against a zone's declared type.
const (
	KindGPU = "GPU"
	KindCPU = "CPU"
)

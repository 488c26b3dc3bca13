package telemetry

import (
	"time"

	"codeberg.org/mutker/edgegov/internal/clock"
	"codeberg.org/mutker/edgegov/internal/gpu"
)

const (
	defaultProcRoot  = "/proc"
	defaultSysRoot   = "/sys"
	defaultCPUWindow = 250 * time.Millisecond
)

// Options configures a Source. Zero values select the host defaults.
type Options struct {
	ProcRoot string
	SysRoot  string
	GPU      gpu.Reader
	Clock    clock.Clock

	// CPUWindow is the span over which CPU busy time is measured. A
	// negative window reports the average since boot.
	CPUWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.ProcRoot == "" {
		o.ProcRoot = defaultProcRoot
	}
	if o.SysRoot == "" {
		o.SysRoot = defaultSysRoot
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.CPUWindow == 0 {
		o.CPUWindow = defaultCPUWindow
	}
	return o
}

// Package mitigation holds the per-dimension controllers that turn samples
// into actions: thermal hysteresis, memory relief and usage diagnostics.
package mitigation

import (
	"codeberg.org/mutker/edgegov/internal/config"
	"codeberg.org/mutker/edgegov/internal/procs"
)

// State is the mitigation state of a thermal dimension.
type State int

const (
	Normal State = iota
	Throttled
)

func (s State) String() string {
	if s == Throttled {
		return "Throttled"
	}
	return "Normal"
}

// Dimension names, as used for metrics labels.
const (
	DimensionMemory = "memory"
	DimensionGPU    = "gpu"
	DimensionCPU    = "cpu"
)

// HysteresisBand is the distance between the throttle-enter and
// throttle-exit temperatures.
const HysteresisBand = config.ThrottleBand

// Governor is a frequency-governor control the thermal controller drives.
type Governor interface {
	// Mode returns the observed governor, false if it cannot be read.
	Mode() (string, bool)
	SetMode(mode string) error
}

// CacheDropper evicts reclaimable kernel caches.
type CacheDropper interface {
	DropCaches() error
}

// ProcessLister snapshots the process table.
type ProcessLister interface {
	Snapshot() ([]procs.Process, error)
}

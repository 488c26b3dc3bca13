package metrics

import "codeberg.org/mutker/edgegov/internal/telemetry"

// Collector receives the governor's observations and actions.
type Collector interface {
	// ObserveSample publishes every available field of s.
	ObserveSample(s telemetry.Sample)
	// SetThrottled records the mitigation state of a thermal dimension.
	SetThrottled(dimension string, throttled bool)
	// IncMitigation counts one mitigation action on a dimension.
	IncMitigation(dimension, action string)
	// IncInventory counts one inventory snapshot.
	IncInventory()
	Close() error
}

// Mitigation actions.
const (
	ActionDropCaches = "drop_caches"
	ActionPowerSave  = "powersave"
	ActionRestore    = "restore"
	ActionHighUsage  = "high_usage"
	ActionRenice     = "renice"
)

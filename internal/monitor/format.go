package monitor

import (
	"fmt"
	"time"

	"codeberg.org/mutker/edgegov/internal/telemetry"
)

const notAvailable = "N/A"

func formatPercent(v int) string {
	if !telemetry.Available(v) {
		return notAvailable
	}
	return fmt.Sprintf("%d%%", v)
}

func formatTemp(v int) string {
	if !telemetry.Available(v) {
		return notAvailable
	}
	return fmt.Sprintf("%d°C", v)
}

func formatMHz(v int) string {
	if !telemetry.Available(v) {
		return notAvailable
	}
	return fmt.Sprintf("%dMHz", v)
}

func formatMemory(used, total int) string {
	if !telemetry.Available(used) || !telemetry.Available(total) {
		return notAvailable
	}
	if total <= 0 {
		return fmt.Sprintf("%dMB", used)
	}
	return fmt.Sprintf("%d/%dMB (%d%%)", used, total, used*100/total)
}

// unavailableSample returns a Sample taken at now with every reading
// unavailable, for monitors that read only part of it.
func unavailableSample(now time.Time) telemetry.Sample {
	return telemetry.Sample{
		Timestamp:     now,
		MemoryUsedMB:  telemetry.Unavailable,
		MemoryTotalMB: telemetry.Unavailable,
		CPUBusyPct:    telemetry.Unavailable,
		GPULoadPct:    telemetry.Unavailable,
		GPUFreqMHz:    telemetry.Unavailable,
		GPUTempC:      telemetry.Unavailable,
		CPUTempC:      telemetry.Unavailable,
	}
}

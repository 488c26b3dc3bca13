package mitigation

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/edgegov/internal/gpu"
	"codeberg.org/mutker/edgegov/internal/logsink"
	"codeberg.org/mutker/edgegov/internal/metrics"
	"codeberg.org/mutker/edgegov/internal/procs"
	"codeberg.org/mutker/edgegov/internal/telemetry"
)

// UtilizationCheck logs a diagnostic when usage exceeds its threshold. It
// never acts on the hardware.
type UtilizationCheck struct {
	dimension string
	highPct   int
	top       func() []string
	sink      *logsink.Sink
	metrics   metrics.Collector
}

// NewUtilizationCheck reports the names returned by top alongside each
// warning; top may be nil.
func NewUtilizationCheck(dimension string, highPct int, top func() []string, sink *logsink.Sink, m metrics.Collector) *UtilizationCheck {
	if m == nil {
		m = metrics.Noop()
	}

	return &UtilizationCheck{dimension: dimension, highPct: highPct, top: top, sink: sink, metrics: m}
}

// Evaluate reports whether pct exceeded the threshold.
func (u *UtilizationCheck) Evaluate(pct int) bool {
	if !telemetry.Available(pct) || pct <= u.highPct {
		return false
	}

	u.sink.Warn().Msgf("High %s usage: %d%% exceeds %d%%", strings.ToUpper(u.dimension), pct, u.highPct)
	u.metrics.IncMitigation(u.dimension, metrics.ActionHighUsage)

	if u.top != nil {
		if names := u.top(); len(names) > 0 {
			u.sink.Block("Top processes:", names)
		}
	}

	return true
}

// TopCPUProcesses lists the n processes with the highest CPU share.
func TopCPUProcesses(lister ProcessLister, n int) func() []string {
	return func() []string {
		ps, err := lister.Snapshot()
		if err != nil {
			return nil
		}

		top := procs.TopByCPU(ps, n)
		lines := make([]string, 0, len(top))
		for _, p := range top {
			lines = append(lines, fmt.Sprintf("%d %s %.1f%%", p.PID, p.Name, p.CPUPercent))
		}
		return lines
	}
}

// TopGPUProcesses lists the GPU's compute processes by device memory when
// the backend reports them, and the top CPU consumers otherwise.
func TopGPUProcesses(reader gpu.Reader, table *procs.Table, n int) func() []string {
	fallback := TopCPUProcesses(table, n)

	return func() []string {
		gps := reader.Processes()
		if len(gps) == 0 {
			return fallback()
		}

		top := make([]procs.Process, 0, len(gps))
		for _, gp := range gps {
			top = append(top, procs.Process{PID: gp.PID, Name: table.Lookup(gp.PID), RSSBytes: gp.UsedMemoryBytes})
		}
		top = procs.TopByMemory(top, n)

		lines := make([]string, 0, len(top))
		for _, p := range top {
			name := p.Name
			if name == "" {
				name = "?"
			}
			lines = append(lines, fmt.Sprintf("%d %s %dMB", p.PID, name, p.RSSMB()))
		}
		return lines
	}
}

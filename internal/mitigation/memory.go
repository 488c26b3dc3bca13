package mitigation

import (
	"fmt"

	"codeberg.org/mutker/edgegov/internal/actuator"
	"codeberg.org/mutker/edgegov/internal/config"
	"codeberg.org/mutker/edgegov/internal/logsink"
	"codeberg.org/mutker/edgegov/internal/metrics"
	"codeberg.org/mutker/edgegov/internal/procs"
	"codeberg.org/mutker/edgegov/internal/telemetry"
	"github.com/dustin/go-humanize"
)

type MemoryConfig struct {
	HighMB int
	LowMB  int
	// Trigger selects level (every cycle above HighMB) or edge (once per
	// crossing, re-armed below LowMB) firing.
	Trigger          config.TriggerMode
	HeavyProcesses   []string
	HeavyThresholdMB int
	TopN             int
	// HeavyNice, when positive, is applied to every process of a flagged
	// heavy group.
	HeavyNice int
}

// MemoryMitigator relieves memory pressure. It has no throttled state: each
// firing is a one-shot action.
type MemoryMitigator struct {
	cfg     MemoryConfig
	dropper CacheDropper
	procs   ProcessLister
	sink    *logsink.Sink
	metrics metrics.Collector
	renice  func(pid, nice int) error
	armed   bool
}

func NewMemoryMitigator(cfg MemoryConfig, dropper CacheDropper, lister ProcessLister, sink *logsink.Sink, m metrics.Collector) *MemoryMitigator {
	if m == nil {
		m = metrics.Noop()
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}

	return &MemoryMitigator{cfg: cfg, dropper: dropper, procs: lister, sink: sink, metrics: m, renice: actuator.Renice, armed: true}
}

// Evaluate checks one memory reading and reports whether mitigation fired.
func (m *MemoryMitigator) Evaluate(usedMB int) bool {
	if !telemetry.Available(usedMB) {
		return false
	}

	if usedMB <= m.cfg.HighMB {
		if usedMB < m.cfg.LowMB {
			m.armed = true
		}
		return false
	}

	if m.cfg.Trigger == config.TriggerEdge {
		if !m.armed {
			return false
		}
		m.armed = false
	}

	m.fire(usedMB)

	return true
}

func (m *MemoryMitigator) fire(usedMB int) {
	m.sink.Warn().Msgf("High memory usage: %dMB exceeds %dMB, dropping caches", usedMB, m.cfg.HighMB)
	m.metrics.IncMitigation(DimensionMemory, metrics.ActionDropCaches)

	if m.dropper != nil {
		if err := m.dropper.DropCaches(); err != nil {
			m.sink.Error().Msgf("Failed to drop caches: %v", err)
		}
	}

	if m.procs == nil {
		return
	}

	ps, err := m.procs.Snapshot()
	if err != nil {
		m.sink.Error().Msgf("Failed to list processes: %v", err)
		return
	}

	top := procs.TopByMemory(ps, m.cfg.TopN)
	lines := make([]string, 0, len(top))
	for _, p := range top {
		lines = append(lines, fmt.Sprintf("%d %s %s", p.PID, p.Name, humanize.IBytes(p.RSSBytes)))
	}
	m.sink.Block(fmt.Sprintf("Top %d processes by memory:", len(top)), lines)

	for _, g := range procs.GroupByName(ps, m.cfg.HeavyProcesses) {
		if g.RSSMB() <= m.cfg.HeavyThresholdMB {
			continue
		}

		m.sink.Warn().Msgf("Heavy %s processes using %dMB", g.Name, g.RSSMB())

		lines := make([]string, 0, len(g.Processes))
		for _, p := range g.Processes {
			lines = append(lines, fmt.Sprintf("PID %d (%s): %dMB", p.PID, p.Name, p.RSSMB()))
		}
		m.sink.Block(g.Name+" processes:", lines)

		if m.cfg.HeavyNice > 0 {
			m.lowerPriority(g)
		}
	}
}

func (m *MemoryMitigator) lowerPriority(g procs.Group) {
	for _, p := range g.Processes {
		if err := m.renice(p.PID, m.cfg.HeavyNice); err != nil {
			m.sink.Error().Msgf("Failed to renice PID %d: %v", p.PID, err)
			continue
		}
		m.metrics.IncMitigation(DimensionMemory, metrics.ActionRenice)
	}
	m.sink.Info().Msgf("Lowered %s processes to nice %d", g.Name, m.cfg.HeavyNice)
}

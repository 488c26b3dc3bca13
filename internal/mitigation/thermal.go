package mitigation

import (
	"fmt"
	"strings"

	"codeberg.org/mutker/edgegov/internal/errors"
	"codeberg.org/mutker/edgegov/internal/logger"
	"codeberg.org/mutker/edgegov/internal/logsink"
	"codeberg.org/mutker/edgegov/internal/metrics"
	"codeberg.org/mutker/edgegov/internal/telemetry"
)

// ThermalConfig parameterises one thermal dimension.
type ThermalConfig struct {
	Dimension     string
	ThrottleTempC int
	PowerSave     string
	Restore       string
	// Zones, when set, is dumped alongside the throttle event.
	Zones func() []telemetry.Zone
}

// ThermalController is the latched hysteresis state machine of one thermal
// dimension. It is the only writer of that dimension's governor.
type ThermalController struct {
	cfg     ThermalConfig
	gov     Governor
	sink    *logsink.Sink
	metrics metrics.Collector
	state   State
}

// NewThermalController starts in Normal. gov may be nil when the host
// exposes no governor control; the state machine then runs on temperature
// alone.
func NewThermalController(cfg ThermalConfig, gov Governor, sink *logsink.Sink, m metrics.Collector) *ThermalController {
	if m == nil {
		m = metrics.Noop()
	}

	c := &ThermalController{cfg: cfg, gov: gov, sink: sink, metrics: m}
	m.SetThrottled(cfg.Dimension, false)

	return c
}

func (c *ThermalController) State() State {
	return c.state
}

func (c *ThermalController) label() string {
	return strings.ToUpper(c.cfg.Dimension)
}

// Evaluate feeds one temperature reading and returns the resulting state.
// An unavailable reading leaves the state untouched.
func (c *ThermalController) Evaluate(tempC int) State {
	if !telemetry.Available(tempC) {
		return c.state
	}

	switch c.state {
	case Normal:
		if tempC > c.cfg.ThrottleTempC {
			c.throttle(tempC)
		}
	case Throttled:
		if tempC < c.cfg.ThrottleTempC-HysteresisBand && c.powerSaving() {
			c.release(tempC)
		}
	}

	return c.state
}

func (c *ThermalController) throttle(tempC int) {
	c.sink.Warn().Msgf("%s temperature %d°C exceeds %d°C, switching governor to %s",
		c.label(), tempC, c.cfg.ThrottleTempC, c.cfg.PowerSave)

	c.setMode(c.cfg.PowerSave)
	c.state = Throttled
	c.metrics.SetThrottled(c.cfg.Dimension, true)
	c.metrics.IncMitigation(c.cfg.Dimension, metrics.ActionPowerSave)

	if c.cfg.Zones != nil {
		zones := c.cfg.Zones()
		lines := make([]string, 0, len(zones))
		for _, z := range zones {
			lines = append(lines, fmt.Sprintf("%s (%s): %d°C", z.Name, z.Type, z.TempC))
		}
		c.sink.Block("Thermal zones:", lines)
	}
}

func (c *ThermalController) release(tempC int) {
	c.sink.Info().Msgf("%s temperature %d°C below %d°C, restoring governor %s",
		c.label(), tempC, c.cfg.ThrottleTempC-HysteresisBand, c.cfg.Restore)

	c.setMode(c.cfg.Restore)
	c.state = Normal
	c.metrics.SetThrottled(c.cfg.Dimension, false)
	c.metrics.IncMitigation(c.cfg.Dimension, metrics.ActionRestore)
}

// powerSaving reports whether the exit condition on the governor holds.
// Without a governor only temperature is considered.
func (c *ThermalController) powerSaving() bool {
	if c.gov == nil {
		return true
	}

	mode, ok := c.gov.Mode()

	return ok && mode == c.cfg.PowerSave
}

// setMode is best effort: failures are recorded and dropped, never retried.
func (c *ThermalController) setMode(mode string) {
	if c.gov == nil {
		return
	}

	if err := c.gov.SetMode(mode); err != nil {
		c.sink.Error().Msgf("Failed to set %s governor to %s: %v", c.label(), mode, err)
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.ErrorWithCode(coded).Str("dimension", c.cfg.Dimension).Msg("Governor switch failed")
		}
	}
}

// Restore puts a throttled dimension back on its default governor, for
// use at shutdown.
func (c *ThermalController) Restore() {
	if c.state != Throttled {
		return
	}

	c.setMode(c.cfg.Restore)
	c.state = Normal
	c.metrics.SetThrottled(c.cfg.Dimension, false)
}

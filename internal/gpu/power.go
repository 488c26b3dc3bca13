package gpu

import (
	"sync"

	"codeberg.org/mutker/edgegov/internal/errors"
	"codeberg.org/mutker/edgegov/internal/logger"
)

const (
	milliWattsToWatts = 1000

	// ModeDefault is reported while the board runs at its default power limit.
	ModeDefault = "default"
)

// PowerGovernor is the frequency-governor equivalent for discrete NVIDIA
// GPUs, which expose no devfreq governor. The power-saving mode pins the
// power limit to its minimum; any other mode restores the default limit.
type PowerGovernor struct {
	device    nvmlDevice
	limits    PowerLimits
	powersave string
	mu        sync.Mutex
	logger    logger.Logger
}

func newPowerGovernor(device nvmlDevice, powersave string, log logger.Logger) (*PowerGovernor, error) {
	errFactory := errors.New()

	minLimit, maxLimit, ret := device.GetPowerManagementLimitConstraints()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrPowerLimitsFailed, newNVMLError(ret))
	}

	defaultLimit, ret := device.GetPowerManagementDefaultLimit()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrPowerLimitsFailed, newNVMLError(ret))
	}

	return &PowerGovernor{
		device: device,
		limits: PowerLimits{
			Min:     PowerLimit(minLimit),
			Max:     PowerLimit(maxLimit),
			Default: PowerLimit(defaultLimit),
		},
		powersave: powersave,
		logger:    log,
	}, nil
}

// Mode reports the power-saving mode name while the limit sits at its
// minimum, ModeDefault otherwise.
func (g *PowerGovernor) Mode() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit, ret := g.device.GetPowerManagementLimit()
	if !IsNVMLSuccess(ret) {
		return "", false
	}

	if PowerLimit(limit) <= g.limits.Min {
		return g.powersave, true
	}

	return ModeDefault, true
}

func (g *PowerGovernor) SetMode(mode string) error {
	target := g.limits.Default
	if mode == g.powersave {
		target = g.limits.Min
	}

	return g.setLimit(target)
}

func (g *PowerGovernor) setLimit(limit PowerLimit) error {
	errFactory := errors.New()
	g.mu.Lock()
	defer g.mu.Unlock()

	if limit < g.limits.Min || limit > g.limits.Max {
		return errFactory.WithData(errors.ErrInvalidArgument, "power limit out of range")
	}

	if ret := g.device.SetPowerManagementLimit(uint32(limit)); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrSetPowerLimit, newNVMLError(ret))
	}

	g.logger.Debug().Float64("power_limit_w", limit.Watts()).Msg("GPU power limit set")

	return nil
}

// Watts returns the limit in watts.
func (l PowerLimit) Watts() float64 {
	return float64(l) / milliWattsToWatts
}

package gpu

import (
	"codeberg.org/mutker/edgegov/internal/errors"
	"codeberg.org/mutker/edgegov/internal/logger"
)

// Backend is the GPU telemetry source chosen for this host.
type Backend struct {
	Reader Reader
	Kind   string

	sysfs *sysfsReader
	nvml  *nvmlReader
	log   logger.Logger
}

type noneReader struct{}

func (noneReader) Name() string              { return "none" }
func (noneReader) Load() (int, bool)         { return 0, false }
func (noneReader) FrequencyMHz() (int, bool) { return 0, false }
func (noneReader) TemperatureC() (int, bool) { return 0, false }
func (noneReader) Processes() []Process      { return nil }
func (noneReader) Close() error              { return nil }

// Detect selects the GPU backend. In auto mode the integrated-GPU sysfs
// interface wins, then NVML; a host with neither gets a reader that
// reports every value as unavailable.
func Detect(kind, sysRoot, devfreqOverride string, log logger.Logger) *Backend {
	return detect(kind, sysRoot, devfreqOverride, &nvmlWrapper{}, log)
}

func detect(kind, sysRoot, devfreqOverride string, lib nvmlController, log logger.Logger) *Backend {
	b := &Backend{Reader: noneReader{}, Kind: KindNone, log: log}

	if kind == KindAuto || kind == KindSysfs {
		if r, ok := newSysfsReader(sysRoot, devfreqOverride); ok {
			b.Reader, b.Kind, b.sysfs = r, KindSysfs, r
			log.Info().Str("gpu", r.Name()).Str("devfreq", r.devfreqPath).Msg("Using sysfs GPU telemetry")
			return b
		}
		log.Debug().Msg("No sysfs GPU load interface found")
	}

	if kind == KindAuto || kind == KindNVML {
		r, err := newNVMLReader(lib)
		if err == nil {
			b.Reader, b.Kind, b.nvml = r, KindNVML, r
			log.Info().Str("gpu", r.Name()).Msg("Using NVML GPU telemetry")
			return b
		}
		log.Debug().Err(err).Msg("NVML unavailable")
	}

	log.Info().Msg("No GPU telemetry available")

	return b
}

// GovernorPath returns the devfreq governor control file of a sysfs GPU.
func (b *Backend) GovernorPath() string {
	if b.sysfs == nil {
		return ""
	}

	return b.sysfs.GovernorPath()
}

// PowerGovernor returns the power-limit governor of an NVML GPU.
func (b *Backend) PowerGovernor(powersave string) (*PowerGovernor, error) {
	if b.nvml == nil {
		return nil, errors.New().New(ErrNotInitialized)
	}

	return newPowerGovernor(b.nvml.device, powersave, b.log)
}

// Versions returns NVML driver and CUDA driver versions, if NVML is in use.
func (b *Backend) Versions() (driver, cuda string) {
	if b.nvml == nil {
		return "", ""
	}

	return b.nvml.lib.Versions()
}

func (b *Backend) Close() error {
	return b.Reader.Close()
}

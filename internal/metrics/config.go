package metrics

import (
	"codeberg.org/mutker/edgegov/internal/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultNamespace = "edgegov"

type Config struct {
	// Addr is the listen address of the scrape endpoint. Empty disables
	// the endpoint but not collection into Registerer.
	Addr      string
	Namespace string
	Enabled   bool

	// Registerer and Gatherer default to a private registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

func DefaultConfig() Config {
	return Config{
		Namespace: defaultNamespace,
		Enabled:   false, // Disabled by default
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate the endpoint if metrics is enabled
	if c.Enabled && c.Addr == "" && c.Registerer == nil {
		return errFactory.New(ErrInvalidAddr)
	}
	if (c.Registerer == nil) != (c.Gatherer == nil) {
		return errFactory.WithMessage(ErrInvalidConfig, "registerer and gatherer must be set together")
	}
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

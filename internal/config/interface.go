package config

import "github.com/spf13/pflag"

// Option defines a configuration option that can be passed to Load
type Option func(*options) error

// options holds internal configuration options
type options struct {
	configPath      string
	envPrefix       string
	flags           *pflag.FlagSet
	defaultInterval int
}

// WithConfigFile specifies an explicit configuration file path
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "EDGEGOV"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}

// WithFlags binds a parsed flag set. Only flags the user changed
// override other sources.
func WithFlags(fs *pflag.FlagSet) Option {
	return func(o *options) error {
		o.flags = fs
		return nil
	}
}

// WithDefaultInterval sets the INTERVAL default for the invoking monitor.
// The resource monitor samples every 5s, the GPU monitor every 2s.
func WithDefaultInterval(seconds int) Option {
	return func(o *options) error {
		o.defaultInterval = seconds
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}

// TriggerMode selects how memory mitigation fires.
type TriggerMode string

const (
	// TriggerLevel fires on every sample above memory_high.
	TriggerLevel TriggerMode = "level"
	// TriggerEdge fires once per crossing and re-arms below memory_low.
	TriggerEdge TriggerMode = "edge"
)

func (m TriggerMode) IsValid() bool {
	return m == TriggerLevel || m == TriggerEdge
}

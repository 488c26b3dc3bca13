package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/edgegov/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultInterval          = 5
	DefaultGPUInterval       = 2
	DefaultStatsInterval     = 5
	DefaultInventoryInterval = 3600
	DefaultMemoryHigh        = 6000
	DefaultMemoryLow         = 3000
	DefaultUtilizationHigh   = 85
	DefaultThrottleTemp      = 80
	DefaultLogLevel          = "info"
	DefaultLogDir            = "/var/log/edgegov"
	DefaultEnvPrefix         = "EDGEGOV"

	// ThrottleBand is the fixed distance between the throttle-enter and
	// throttle-exit temperatures.
	ThrottleBand = 10

	configEnv = "EDGEGOV_CONFIG"
)

// Config is the immutable daemon configuration.
type Config struct {
	Interval          int      `mapstructure:"interval"`
	GPUInterval       int      `mapstructure:"gpu_interval"`
	StatsInterval     int      `mapstructure:"stats_interval"`
	InventoryInterval int      `mapstructure:"inventory_interval"`
	MemoryHigh        int      `mapstructure:"memory_high"`
	MemoryLow         int      `mapstructure:"memory_low"`
	GPUHigh           int      `mapstructure:"gpu_high"`
	CPUHigh           int      `mapstructure:"cpu_high"`
	GPUThrottleTemp   int      `mapstructure:"gpu_throttle_temp"`
	CPUThrottleTemp   int      `mapstructure:"cpu_throttle_temp"`
	MemoryTrigger     string   `mapstructure:"memory_trigger"`
	HeavyProcesses    []string `mapstructure:"heavy_processes"`
	HeavyProcessMB    int      `mapstructure:"heavy_process_mb"`
	TopProcesses      int      `mapstructure:"top_processes"`
	// HeavyNice is the niceness applied to flagged heavy processes; 0
	// leaves their priority alone.
	HeavyNice int `mapstructure:"heavy_nice"`

	PowerSaveGovernor  string `mapstructure:"powersave_governor"`
	GPUDefaultGovernor string `mapstructure:"gpu_default_governor"`
	CPUDefaultGovernor string `mapstructure:"cpu_default_governor"`
	GPUBackend         string `mapstructure:"gpu_backend"`
	GPUDevfreqPath     string `mapstructure:"gpu_devfreq_path"`
	CPUWindowMS        int    `mapstructure:"cpu_window_ms"`
	DiskPath           string `mapstructure:"disk_path"`
	ProcRoot           string `mapstructure:"proc_root"`
	SysRoot            string `mapstructure:"sys_root"`

	LogDir      string `mapstructure:"log_dir"`
	LogLevel    string `mapstructure:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	PIDFile     string `mapstructure:"pid_file"`
}

// Thresholds is the threshold configuration consumed by the mitigation
// controllers.
type Thresholds struct {
	MemoryHighMB      int
	MemoryLowMB       int
	GPUHighPct        int
	CPUHighPct        int
	GPUThrottleTempC  int
	CPUThrottleTempC  int
	SampleInterval    time.Duration
	InventoryInterval time.Duration
}

func (c *Config) Thresholds() Thresholds {
	return Thresholds{
		MemoryHighMB:      c.MemoryHigh,
		MemoryLowMB:       c.MemoryLow,
		GPUHighPct:        c.GPUHigh,
		CPUHighPct:        c.CPUHigh,
		GPUThrottleTempC:  c.GPUThrottleTemp,
		CPUThrottleTempC:  c.CPUThrottleTemp,
		SampleInterval:    seconds(c.Interval),
		InventoryInterval: seconds(c.InventoryInterval),
	}
}

// Trigger returns the memory mitigation trigger mode.
func (c *Config) Trigger() TriggerMode {
	return TriggerMode(strings.ToLower(c.MemoryTrigger))
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// envNames maps keys to the bare environment variables the container
// lifecycle manager sets. Prefixed names are accepted as well.
var envNames = map[string]string{
	"interval":           "INTERVAL",
	"gpu_interval":       "GPU_INTERVAL",
	"stats_interval":     "STATS_INTERVAL",
	"inventory_interval": "INVENTORY_INTERVAL",
	"memory_high":        "MEMORY_HIGH",
	"memory_low":         "MEMORY_LOW",
	"gpu_high":           "GPU_HIGH",
	"cpu_high":           "CPU_HIGH",
	"gpu_throttle_temp":  "GPU_THROTTLE_TEMP",
	"cpu_throttle_temp":  "CPU_THROTTLE_TEMP",
	"memory_trigger":     "MEMORY_TRIGGER",
	"heavy_processes":    "HEAVY_PROCESSES",
	"log_dir":            "LOG_DIR",
	"log_level":          "LOG_LEVEL",
	"metrics_addr":       "METRICS_ADDR",
}

func setDefaults(v *viper.Viper, interval int) {
	v.SetDefault("interval", interval)
	v.SetDefault("gpu_interval", DefaultGPUInterval)
	v.SetDefault("stats_interval", DefaultStatsInterval)
	v.SetDefault("inventory_interval", DefaultInventoryInterval)
	v.SetDefault("memory_high", DefaultMemoryHigh)
	v.SetDefault("memory_low", DefaultMemoryLow)
	v.SetDefault("gpu_high", DefaultUtilizationHigh)
	v.SetDefault("cpu_high", DefaultUtilizationHigh)
	v.SetDefault("gpu_throttle_temp", DefaultThrottleTemp)
	v.SetDefault("cpu_throttle_temp", DefaultThrottleTemp)
	v.SetDefault("memory_trigger", string(TriggerLevel))
	v.SetDefault("heavy_processes", []string{"python"})
	v.SetDefault("heavy_process_mb", 1000)
	v.SetDefault("top_processes", 5)
	v.SetDefault("heavy_nice", 0)
	v.SetDefault("powersave_governor", "powersave")
	v.SetDefault("gpu_default_governor", "simple_ondemand")
	v.SetDefault("cpu_default_governor", "ondemand")
	v.SetDefault("gpu_backend", "auto")
	v.SetDefault("gpu_devfreq_path", "")
	v.SetDefault("cpu_window_ms", 250)
	v.SetDefault("disk_path", "/")
	v.SetDefault("proc_root", "/proc")
	v.SetDefault("sys_root", "/sys")
	v.SetDefault("log_dir", DefaultLogDir)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("pid_file", "")
}

// Load reads configuration from defaults, the TOML config file,
// environment variables and changed flags, in increasing precedence,
// and validates the result.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{
		envPrefix:       DefaultEnvPrefix,
		defaultInterval: DefaultInterval,
		configPath:      os.Getenv(configEnv),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v, o.defaultInterval)

	if o.configPath != "" {
		v.SetConfigFile(o.configPath)
		v.SetConfigType("toml")
	} else {
		v.SetConfigName("edgegov")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, name := range envNames {
		if err := v.BindEnv(key, name, o.envPrefix+"_"+name); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	if o.flags != nil {
		var bindErr error
		o.flags.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
		if bindErr != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the configuration and returns the first violation.
func (c *Config) Validate() error {
	errFactory := errors.New()

	intervals := map[string]int{
		"interval":           c.Interval,
		"gpu_interval":       c.GPUInterval,
		"stats_interval":     c.StatsInterval,
		"inventory_interval": c.InventoryInterval,
	}
	for name, value := range intervals {
		if value <= 0 {
			return errFactory.WithData(errors.ErrInvalidInterval, name+" must be positive")
		}
	}

	if c.MemoryLow < 0 || c.MemoryHigh <= 0 {
		return errFactory.WithData(errors.ErrInvalidThreshold, "memory thresholds must be positive")
	}
	if c.MemoryLow >= c.MemoryHigh {
		return errFactory.WithData(errors.ErrInvalidMemoryBand, struct {
			MemoryLow  int
			MemoryHigh int
		}{c.MemoryLow, c.MemoryHigh})
	}

	for name, value := range map[string]int{"gpu_high": c.GPUHigh, "cpu_high": c.CPUHigh} {
		if value < 0 || value > 100 {
			return errFactory.WithData(errors.ErrInvalidThreshold, name+" must be within 0-100")
		}
	}

	for name, value := range map[string]int{"gpu_throttle_temp": c.GPUThrottleTemp, "cpu_throttle_temp": c.CPUThrottleTemp} {
		if value <= ThrottleBand {
			return errFactory.WithData(errors.ErrInvalidThreshold, name+" must exceed the hysteresis band")
		}
	}

	if !LogLevel(strings.ToLower(c.LogLevel)).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if !c.Trigger().IsValid() {
		return errFactory.WithData(errors.ErrInvalidConfig, "memory_trigger must be level or edge")
	}

	switch c.GPUBackend {
	case "auto", "sysfs", "nvml", "none":
	default:
		return errFactory.WithData(errors.ErrInvalidConfig, "gpu_backend must be auto, sysfs, nvml or none")
	}

	if c.HeavyNice < 0 || c.HeavyNice > 19 {
		return errFactory.WithData(errors.ErrInvalidConfig, "heavy_nice must be within 0-19")
	}

	if c.TopProcesses <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "top_processes must be positive")
	}

	return nil
}

// RegisterFlags defines the command-line flags understood by Load.
func RegisterFlags(fs *pflag.FlagSet, defaultInterval int) {
	fs.String("config", "", "Path to a TOML configuration file")
	fs.Int("interval", defaultInterval, "Sampling interval in seconds")
	fs.Int("gpu-interval", DefaultGPUInterval, "GPU monitor interval in seconds when running all monitors")
	fs.Int("stats-interval", DefaultStatsInterval, "Resource stats interval in seconds")
	fs.Int("inventory-interval", DefaultInventoryInterval, "System inventory interval in seconds")
	fs.Int("memory-high", DefaultMemoryHigh, "Memory usage (MB) that triggers mitigation")
	fs.Int("memory-low", DefaultMemoryLow, "Memory usage (MB) that re-arms edge-triggered mitigation")
	fs.Int("gpu-high", DefaultUtilizationHigh, "GPU load (%) that triggers a warning")
	fs.Int("cpu-high", DefaultUtilizationHigh, "CPU load (%) that triggers a warning")
	fs.Int("gpu-throttle-temp", DefaultThrottleTemp, "GPU temperature (°C) that triggers throttling")
	fs.Int("cpu-throttle-temp", DefaultThrottleTemp, "CPU temperature (°C) that triggers throttling")
	fs.String("memory-trigger", string(TriggerLevel), "Memory mitigation trigger: level or edge")
	fs.String("gpu-backend", "auto", "GPU telemetry backend: auto, sysfs, nvml or none")
	fs.String("log-dir", DefaultLogDir, "Directory for monitor log files")
	fs.String("log-level", DefaultLogLevel, "Log level: debug, info, warning or error")
	fs.String("metrics-addr", "", "Listen address for the Prometheus endpoint (disabled when empty)")
}

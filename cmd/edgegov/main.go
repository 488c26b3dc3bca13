package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"codeberg.org/mutker/edgegov/internal/clock"
	"codeberg.org/mutker/edgegov/internal/config"
	"codeberg.org/mutker/edgegov/internal/errors"
	"codeberg.org/mutker/edgegov/internal/gpu"
	"codeberg.org/mutker/edgegov/internal/inventory"
	"codeberg.org/mutker/edgegov/internal/logger"
	"codeberg.org/mutker/edgegov/internal/monitor"
	"codeberg.org/mutker/edgegov/internal/pid"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.ErrorWithCode(coded).Msg("edgegov failed")
		} else {
			logger.Error().Err(err).Msg("edgegov failed")
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "edgegov",
		Short: "Adaptive resource and thermal governor for edge devices",
		Long: `edgegov samples memory, CPU and GPU utilization and temperature,
records them to append-only log files and mitigates pressure: it drops
caches under memory pressure and switches frequency governors to
power-saving mode when a thermal zone runs hot.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		monitorCommand("run", "Run the resource, GPU and stats monitors", config.DefaultInterval, monitorAll),
		monitorCommand("resources", "Monitor memory and CPU", config.DefaultInterval, monitorResources),
		monitorCommand("gpu", "Monitor GPU load and temperature", config.DefaultGPUInterval, monitorGPU),
		monitorCommand("stats", "Log combined resource stats", config.DefaultStatsInterval, monitorStats),
		inventoryCommand(),
		versionCommand(),
	)

	return root
}

func monitorCommand(use, short string, defaultInterval int, set monitorSet) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, defaultInterval)
			if err != nil {
				return err
			}
			return runMonitors(cmd.Context(), cfg, set)
		},
	}
	config.RegisterFlags(cmd.Flags(), defaultInterval)

	return cmd
}

func inventoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Print a system inventory snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, config.DefaultInterval)
			if err != nil {
				return err
			}

			backend := gpu.Detect(cfg.GPUBackend, cfg.SysRoot, cfg.GPUDevfreqPath, logger.Default())
			defer backend.Close()

			snapshot := inventory.Gather(inventory.Options{
				ProcRoot: cfg.ProcRoot,
				DiskPath: cfg.DiskPath,
				Versions: backend.Versions,
			})
			for _, line := range snapshot.Lines() {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
	config.RegisterFlags(cmd.Flags(), config.DefaultInterval)

	return cmd
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "edgegov", version)
		},
	}
}

func loadConfig(cmd *cobra.Command, defaultInterval int) (*config.Config, error) {
	opts := []config.Option{
		config.WithFlags(cmd.Flags()),
		config.WithDefaultInterval(defaultInterval),
	}
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		opts = append(opts, config.WithConfigFile(path))
	}

	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		return nil, err
	}
	logger.Debug().Interface("config", cfg).Msg("Config loaded")

	return cfg, nil
}

func runMonitors(ctx context.Context, cfg *config.Config, set monitorSet) error {
	errFactory := errors.New()

	pidPath := pid.Path(cfg.PIDFile)
	if err := pid.Write(pidPath); err != nil {
		if errors.HasCode(err, errors.ErrAlreadyRunning) {
			logger.Warn().Err(err).Msg("Another edgegov instance is running; governor writes may conflict")
		} else {
			logger.Warn().Err(err).Msg("Failed to write PID file")
		}
	}
	defer func() {
		if err := pid.Remove(pidPath); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	a, err := newApp(cfg, clock.Real())
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}
	defer a.close()

	loops, err := a.loops(set)
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	var wg sync.WaitGroup
	for _, l := range loops {
		wg.Add(1)
		go func(l *monitor.Loop) {
			defer wg.Done()
			l.Run(ctx)
		}(l)
	}
	wg.Wait()

	logger.Info().Msg("Exiting...")

	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

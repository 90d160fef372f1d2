package main

import (
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // intentional profiling endpoint
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/meigma/pack/internal/config"
)

// app holds what the root command resolves before any subcommand runs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

var (
	cfgFile    string
	logLevel   string
	workers    int
	iterations int
	duration   time.Duration
	profiles   profileFlags

	state app

	rootCmd = &cobra.Command{
		Use:   "profiler",
		Short: "Profile archive, dependency cache and diagnostics workloads",
		Long: `profiler runs one pack workload repeatedly and reports its throughput.

Settings come from pack.toml in the user config directory (or --config),
overridden by PACK_* environment variables and then by flags.

Examples:
  profiler open data.pack --iterations 20 --cpuprofile cpu.out
  profiler deps --duration 30s --fgprof wall.out
  profiler diagnostics mymod.pack --format yaml`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/pack/pack.toml)")
	pf.StringVar(&logLevel, "log-level", "", "log level: "+strings.Join(config.LogLevels, ", ")+" (default from config)")
	pf.IntVar(&workers, "workers", 0, "parallelism: < 0 serial, 0 auto (default from config)")
	pf.IntVar(&iterations, "iterations", 1, "number of runs; 0 runs for --duration instead")
	pf.DurationVar(&duration, "duration", 10*time.Second, "how long to run when --iterations is 0")
	pf.StringVar(&profiles.cpu, "cpuprofile", "", "write a CPU profile to file")
	pf.StringVar(&profiles.mem, "memprofile", "", "write a heap profile to file")
	pf.StringVar(&profiles.trace, "trace", "", "write an execution trace to file")
	pf.StringVar(&profiles.fg, "fgprof", "", "write a wall-clock profile to file")
	pf.StringVar(&profiles.pprofAddr, "pprof-addr", "", "serve net/http/pprof on this address")

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(diagnosticsCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, path, err := config.Load(cmd.Context(), config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = workers
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "profiler",
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	state = app{cfg: cfg, logger: slog.New(handler)}
	if path != "" {
		state.logger.Debug("loaded config", "path", path)
	}

	if profiles.pprofAddr != "" {
		go func() {
			state.logger.Info("pprof listening", "addr", profiles.pprofAddr)
			//nolint:gosec // intentional pprof server without timeouts for profiling
			if err := http.ListenAndServe(profiles.pprofAddr, nil); err != nil {
				state.logger.Error("pprof server error", "err", err)
			}
		}()
	}
	return nil
}

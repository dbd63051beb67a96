package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/kvblast/kvblast/internal/app"
	"github.com/kvblast/kvblast/internal/config"
	"github.com/kvblast/kvblast/internal/logger"
	"github.com/kvblast/kvblast/internal/util"
	"github.com/kvblast/kvblast/internal/version"
	"github.com/kvblast/kvblast/pkg/format"
	"github.com/kvblast/kvblast/pkg/nerdstats"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	}

	fs := pflag.NewFlagSet(version.Name, pflag.ContinueOnError)
	opts, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := config.Finalize(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if !opts.Quiet {
		version.PrintVersionInfo(false, vlog)
	}

	lcfg := buildLoggerConfig(opts)
	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	application := app.New(opts, styledLogger, startTime)
	if err := application.Run(ctx); err != nil {
		logger.FatalWithLogger(logInstance, "Run failed", "error", err)
	}

	if opts.Verbose > 0 {
		reportProcessStats(styledLogger, startTime)
	}
}

func buildLoggerConfig(opts *config.Options) *logger.Config {
	level := "info"
	switch {
	case opts.Quiet:
		level = "error"
	case opts.Verbose > 0:
		level = "debug"
	}
	return &logger.Config{
		Level:      util.GetEnvOrDefault("KVBLAST_LOG_LEVEL", level),
		FileOutput: util.GetEnvBoolOrDefault("KVBLAST_FILE_OUTPUT", false),
		LogDir:     util.GetEnvOrDefault("KVBLAST_LOG_DIR", "./logs"),
		MaxSize:    util.GetEnvIntOrDefault("KVBLAST_MAX_SIZE", 100),
		MaxBackups: util.GetEnvIntOrDefault("KVBLAST_MAX_BACKUPS", 5),
		MaxAge:     util.GetEnvIntOrDefault("KVBLAST_MAX_AGE", 30),
		Theme:      util.GetEnvOrDefault("KVBLAST_THEME", "default"),
		PrettyLogs: util.ShouldUseColors(),
	}
}

func reportProcessStats(logger logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	logger.Info("Process Memory Stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	if stats.NumGC > 0 {
		logger.Info("Garbage Collection Stats",
			"num_gc_cycles", stats.NumGC,
			"total_gc_time", format.Duration(stats.TotalGCTime),
			"gc_cpu_fraction", fmt.Sprintf("%.4f%%", stats.GCCPUFraction*100),
			"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
		)
	}

	logger.Info("Runtime Stats",
		"uptime", format.Duration(stats.Uptime),
		"goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
		"go_version", stats.GoVersion,
		"gomaxprocs", stats.GOMAXPROCS,
	)
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/x/term"

	"hostwatch/internal/config"
	"hostwatch/internal/dashboard"
	"hostwatch/internal/logger"
	"hostwatch/internal/processor"
	"hostwatch/internal/sampler"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hostwatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "hostwatch.yaml", "path to YAML config file")
		logLevel    = flag.String("log-level", "", "log level override (debug, info, warn, error)")
		interval    = flag.String("interval", "", "sampling interval override, e.g. 2s")
		addr        = flag.String("addr", "", "HTTP listen address override")
		headless    = flag.Bool("headless", false, "run without the terminal dashboard")
		once        = flag.Bool("once", false, "print a single report and exit")
		writeConfig = flag.Bool("write-config", false, "write the effective config to -config and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	config.ApplyEnvOverrides(cfg)

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *interval != "" {
		cfg.Sampler.Interval = *interval
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *headless {
		cfg.Dashboard.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if *writeConfig {
		if err := config.Save(cfg, *configPath); err != nil {
			return err
		}
		fmt.Printf("wrote config to %s\n", *configPath)
		return nil
	}

	interactive := term.IsTerminal(os.Stdout.Fd())
	showDashboard := cfg.Dashboard.Enabled && !*once && interactive

	closer := logger.Init(logOptions(cfg, showDashboard))
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		return report(ctx, cfg)
	}

	p, err := processor.New(cfg)
	if err != nil {
		return err
	}

	if !showDashboard {
		if cfg.Dashboard.Enabled && !interactive {
			logger.Logger.Info().Msg("stdout is not a terminal, running headless")
		}
		return p.Run(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	refresh, _ := cfg.RefreshRate()
	dashErr := dashboard.Run(ctx, p.Store(), dashboardOptions(cfg, refresh))

	cancel()
	return errors.Join(dashErr, <-errCh)
}

// report collects one sample and prints it.
func report(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s := sampler.New(sampler.NewGopsutilProvider(sampler.GopsutilOptions{
		Temperatures: cfg.Sampler.Temperatures,
		Connections:  cfg.Sampler.Connections,
	}), sampler.Options{MaxProcesses: cfg.Sampler.MaxProcesses})

	sample, err := s.Collect(ctx)
	if err != nil {
		var cerr *sampler.CollectionError
		if !errors.As(err, &cerr) || cerr.Total {
			return fmt.Errorf("collecting metrics: %w", err)
		}
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	return dashboard.Report(os.Stdout, sample, dashboardOptions(cfg, 0))
}

func dashboardOptions(cfg *config.Config, refresh time.Duration) dashboard.Options {
	return dashboard.Options{
		RefreshRate:    refresh,
		BarWidth:       cfg.Dashboard.BarWidth,
		ShowDiskInfo:   cfg.Dashboard.ShowDiskInfo,
		ShowSystemLoad: cfg.Dashboard.ShowSystemLoad,
		ProcessRows:    cfg.Dashboard.ProcessRows,
		Warning:        cfg.Alerts.MemoryWarning,
		Critical:       cfg.Alerts.MemoryCritical,
	}
}

// logOptions sends logs to the rotated file when logging.file is set. The
// dashboard owns the terminal, so it always gets a file.
func logOptions(cfg *config.Config, dashboard bool) logger.Options {
	opts := logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	}
	if dashboard && opts.File == "" {
		opts.File = config.Default().Logging.File
	}
	return opts
}

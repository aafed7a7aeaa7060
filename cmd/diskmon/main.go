package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/darshan-rambhia/diskmon/internal/alerter"
	"github.com/darshan-rambhia/diskmon/internal/api"
	"github.com/darshan-rambhia/diskmon/internal/collector"
	"github.com/darshan-rambhia/diskmon/internal/config"
	"github.com/darshan-rambhia/diskmon/internal/inbox"
	"github.com/darshan-rambhia/diskmon/internal/inventory"
	"github.com/darshan-rambhia/diskmon/internal/journal"
	"github.com/darshan-rambhia/diskmon/internal/metrics"
	"github.com/darshan-rambhia/diskmon/internal/notify"
	"github.com/darshan-rambhia/diskmon/internal/persist"
	"golang.org/x/sync/errgroup"
)

// @title diskmon API
// @version 1.0
// @description Disk health report ingestion and query API
// @host localhost:8080
// @BasePath /

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// buildInfo returns version, commit, build time, and VCS details from the
// embedded Go build info. ldflags-injected values take priority; VCS info
// from debug.ReadBuildInfo fills in anything left as default.
func buildInfo() (ver, sha, built, dirty string) {
	ver = version
	sha = commit
	built = buildTime
	dirty = "clean"

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if sha == "none" {
				sha = s.Value
			}
		case "vcs.time":
			if built == "unknown" {
				built = s.Value
			}
		case "vcs.modified":
			if s.Value == "true" {
				dirty = "dirty"
			}
		}
	}

	return
}

// openJournal returns nil when path is empty or the journal cannot be opened.
// A broken journal must not keep ingestion from starting.
func openJournal(path string) *journal.Journal {
	if path == "" {
		return nil
	}
	j, err := journal.New(path)
	if err != nil {
		slog.Error("opening journal, continuing without it", "path", path, "error", err)
		return nil
	}
	return j
}

func main() {
	configPath := flag.String("config", "", "path to diskmon.yml config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	ver, sha, built, dirty := buildInfo()

	if *showVersion {
		fmt.Printf("diskmon %s\n  commit:    %s (%s)\n  built:     %s\n  go:        %s\n  platform:  %s/%s\n",
			ver, sha, dirty, built, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, config.ErrConfigFileNotFound) {
			fmt.Fprintf(os.Stderr, "error: %s\n\n", err)
			fmt.Fprintf(os.Stderr, "Run without -config to use defaults and DISKMON_* environment variables,\n")
			fmt.Fprintf(os.Stderr, "or create %s first.\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "error: loading config (%s): %s\n", *configPath, err)
		}
		os.Exit(1)
	}

	slog.SetDefault(slog.New(logHandler(cfg.LogLevel, cfg.LogFormat)))

	slog.Info("starting diskmon",
		"version", ver,
		"commit", sha,
		"built", built,
		"dirty", dirty,
		"go", runtime.Version(),
		"listen", cfg.Listen,
		"data_path", cfg.DataPath,
		"inbox", cfg.Inbox.Dir,
	)

	// Load the consolidated store. A missing or unreadable file starts empty.
	state := persist.NewFile(cfg.DataPath, cfg.CompressState)
	inv := inventory.New(state.Load())

	m := metrics.New()
	m.SetMachines(inv.Len())

	// The journal is optional; without it ingestion still works but rejected
	// reports are only logged.
	var (
		jrnl         *journal.Journal
		recorder     inbox.Recorder
		alertJournal alerter.Journal
		apiJournal   api.Journal
	)
	if jrnl = openJournal(cfg.Journal.Path); jrnl != nil {
		defer jrnl.Close()
		recorder, alertJournal, apiJournal = jrnl, jrnl, jrnl
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	poller := inbox.New(inbox.Config{
		Dir:            cfg.Inbox.Dir,
		Pattern:        cfg.Inbox.Pattern,
		PollInterval:   cfg.Inbox.PollInterval.Duration,
		ErrorCooldown:  cfg.Inbox.ErrorCooldown.Duration,
		Watch:          cfg.Inbox.Watch,
		MaxReportBytes: cfg.Inbox.MaxReportBytes,
	}, inv, state, recorder, m)
	g.Go(func() error { return poller.Run(ctx) })

	if jrnl != nil {
		pruner := journal.NewPruner(jrnl, journal.RetentionConfig{
			IngestLog: cfg.Journal.Retention.Duration,
			AlertLog:  cfg.Journal.AlertRetention.Duration,
		})
		g.Go(func() error { return pruner.Run(ctx) })
	}

	// Pull collectors drop reports into the same inbox.
	pool := collector.NewWorkerPool(cfg.WorkerPoolSize)
	for _, pc := range cfg.Pull {
		interval := pc.Interval.Duration
		if interval == 0 {
			interval = 15 * time.Minute
		}
		pull, err := collector.NewPullCollector(collector.PullConfig{
			Name:           pc.Name,
			Host:           pc.Host,
			Port:           pc.Port,
			User:           pc.User,
			KeyPath:        pc.KeyPath,
			KnownHostsPath: pc.KnownHosts,
			Command:        pc.Command,
			Interval:       interval,
		}, cfg.Inbox.Dir, pool)
		if err != nil {
			slog.Error("failed to create pull collector", "name", pc.Name, "error", err)
			continue
		}
		g.Go(func() error { return collector.Run(ctx, pull) })
	}

	providers := buildProviders(cfg.Notifications)
	a := alerter.NewAlerter(inv, alertJournal, providers, alertConfig(cfg.Alerts))
	g.Go(func() error { return a.Run(ctx) })

	server := api.NewServer(cfg.Listen, inv, api.Options{
		Journal:        apiJournal,
		Metrics:        m.Handler(),
		UploadDir:      cfg.Inbox.Dir,
		APIKey:         cfg.Upload.APIKey,
		MaxUploadBytes: cfg.Upload.MaxBytes,
		StaleAfter:     cfg.Alerts.StaleAfter.Duration,
	})
	g.Go(func() error { return server.Run(ctx) })

	slog.Info("all components started",
		"machines", inv.Len(),
		"pull_sources", len(cfg.Pull),
		"notifications", len(providers),
		"upload_enabled", cfg.Upload.APIKey != "",
		"journal", cfg.Journal.Path != "",
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "error", err)
	}

	slog.Info("diskmon stopped gracefully")
}

func logHandler(level, format string) slog.Handler {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

func buildProviders(cfgs []config.NotificationConfig) []notify.Provider {
	var providers []notify.Provider
	for _, ncfg := range cfgs {
		switch ncfg.Type {
		case "ntfy":
			providers = append(providers, notify.NewNtfy(ncfg.URL, ncfg.Topic, ncfg.Token))
		case "webhook":
			method := ncfg.Method
			if method == "" {
				method = "POST"
			}
			providers = append(providers, notify.NewWebhook(ncfg.URL, method, ncfg.Headers))
		}
	}
	return providers
}

// alertConfig overlays the configured rules on the alerter defaults. A
// disabled rule becomes nil; empty fields keep their default.
func alertConfig(c config.AlertsConfig) alerter.AlertConfig {
	out := alerter.DefaultAlertConfig()
	if c.StaleAfter.Duration > 0 {
		out.StaleAfter = c.StaleAfter.Duration
	}
	out.DiskFailed = overlayRule(out.DiskFailed, c.DiskFailed)
	out.DiskWarning = overlayRule(out.DiskWarning, c.DiskWarning)
	out.MachineStale = overlayRule(out.MachineStale, c.MachineStale)
	out.ReportRejected = overlayRule(out.ReportRejected, c.ReportRejected)
	return out
}

func overlayRule(def *alerter.Rule, r *config.AlertRule) *alerter.Rule {
	if r == nil {
		return def
	}
	if r.Disabled {
		return nil
	}
	out := *def
	if r.Severity != "" {
		out.Severity = r.Severity
	}
	if r.Cooldown.Duration > 0 {
		out.Cooldown = r.Cooldown.Duration
	}
	return &out
}

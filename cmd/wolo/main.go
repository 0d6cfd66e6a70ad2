// Command wolo serves a merged host registry over HTTP, tracks host
// reachability and sends Wake-on-LAN packets on request.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/wolo/internal/config"
	"github.com/HerbHall/wolo/internal/event"
	"github.com/HerbHall/wolo/internal/merge"
	"github.com/HerbHall/wolo/internal/metrics"
	"github.com/HerbHall/wolo/internal/mqtt"
	"github.com/HerbHall/wolo/internal/plugin"
	"github.com/HerbHall/wolo/internal/pulse"
	"github.com/HerbHall/wolo/internal/registry"
	"github.com/HerbHall/wolo/internal/server"
	"github.com/HerbHall/wolo/internal/sources"
	"github.com/HerbHall/wolo/internal/version"
	"github.com/HerbHall/wolo/internal/wol"
	"github.com/HerbHall/wolo/pkg/models"
)

const shutdownTimeout = 10 * time.Second

// errNoHosts is returned when --require-hosts is set and nothing was loaded.
var errNoHosts = errors.New("no hosts configured")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "wolo:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := config.NewFlagSet("wolo")
	fs.SetOutput(stdout)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showVersion, _ := fs.GetBool("version"); showVersion {
		fmt.Fprintln(stdout, version.Info())
		return nil
	}

	v, err := config.Load(fs)
	if err != nil {
		return err
	}
	cfg := config.New(v)

	// Overlays may change log settings, so sources are read with a logger
	// built from flags and environment only.
	bootLogger, err := newLogger(v)
	if err != nil {
		return err
	}
	collected := sources.NewLoader(nil, bootLogger).Load(sources.Files{
		Hosts:       cfg.GetStringSlice("sources.hosts"),
		Ethers:      cfg.GetStringSlice("sources.ethers"),
		Config:      cfg.GetStringSlice("sources.config"),
		IgnoreHosts: cfg.GetStringSlice("sources.ignore_hosts"),
	})
	for _, settings := range collected.Settings() {
		if err := config.MergeOverlay(v, settings); err != nil {
			return err
		}
	}
	_ = bootLogger.Sync()

	logger, err := newLogger(v)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("wolo starting", version.Fields()...)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)

	hosts, err := buildRegistry(cfg, collected, m, logger)
	if err != nil {
		return err
	}

	bus := event.NewBus(logger.Named("bus"))
	unsubscribe := bus.SubscribeAll(logEvents(logger.Named("events")))
	defer unsubscribe()

	plugins := plugin.NewRegistry(logger)
	wake := wol.New(hosts, bus, m, nil, nil)
	for _, p := range []plugin.Plugin{
		pulse.New(hosts, bus, m, nil),
		wake,
		mqtt.New(hosts, bus, wake),
	} {
		if err := plugins.Register(p); err != nil {
			return err
		}
	}
	if err := plugins.InitAll(cfg); err != nil {
		return err
	}
	if err := plugins.StartAll(ctx); err != nil {
		plugins.StopAll()
		return err
	}

	srv := server.New(cfg.GetString("bind"), plugins, hosts, logger,
		server.WithBus(bus),
		server.WithGatherer(promReg),
		server.WithMaxConnections(cfg.GetInt("http.max_connections")),
		server.WithTokenAuth(cfg.GetString("http.jwt_secret"), cfg.GetString("http.jwt_issuer")),
	)
	if err := srv.Start(); err != nil {
		plugins.StopAll()
		return err
	}
	logger.Info("wolo ready",
		zap.String("addr", srv.Addr().String()),
		zap.Int("hosts", hosts.Len()),
	)

	<-ctx.Done()
	logger.Info("shutting down", zap.NamedError("cause", context.Cause(ctx)))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	plugins.StopAll()

	logger.Info("wolo stopped")
	return nil
}

// buildRegistry merges the collected sources into the host registry,
// reporting every skipped entry.
func buildRegistry(cfg *config.Config, collected sources.Collected, m *metrics.Metrics, logger *zap.Logger) (*registry.Registry, error) {
	for _, d := range collected.Diagnostics {
		logger.Warn("configuration entry skipped",
			zap.String("source", d.Source),
			zap.Int("line", d.Line),
			zap.String("path", d.Path),
			zap.String("reason", d.Message),
		)
		m.RecordSourceWarning(d.Kind())
	}

	res := merge.Merge(collected.Batches)
	for _, w := range res.Warnings {
		logger.Warn("source record ignored",
			zap.String("source", w.Source),
			zap.String("reason", w.Message),
		)
		m.RecordSourceWarning("merge")
	}

	if len(res.Hosts) == 0 {
		if cfg.GetBool("require_hosts") {
			return nil, errNoHosts
		}
		logger.Warn("no hosts configured")
	}

	hosts := registry.New(res.Hosts)
	m.UpdateHostCounts(map[models.HostStatus]int{models.HostStatusUnknown: hosts.Len()})
	logger.Info("host registry loaded",
		zap.Int("hosts", hosts.Len()),
		zap.Int("sources", len(collected.Batches)),
	)
	return hosts, nil
}

func logEvents(logger *zap.Logger) event.Handler {
	return func(_ context.Context, e event.Event) {
		logger.Debug("event",
			zap.String("topic", e.Topic),
			zap.String("source", e.Source),
			zap.Any("payload", e.Payload),
		)
	}
}

// newLogger builds the process logger from log.level and log.format.
func newLogger(v *viper.Viper) (*zap.Logger, error) {
	var zc zap.Config
	switch format := v.GetString("log.format"); format {
	case "json", "":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	level, err := zap.ParseAtomicLevel(v.GetString("log.level"))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc.Level = level
	return zc.Build()
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/parkgate/config"
	"github.com/timzifer/parkgate/console"
	"github.com/timzifer/parkgate/history"
	"github.com/timzifer/parkgate/internal/devicesim"
	"github.com/timzifer/parkgate/internal/liveview"
	"github.com/timzifer/parkgate/internal/logging"
	"github.com/timzifer/parkgate/internal/reload"
	"github.com/timzifer/parkgate/params"
	"github.com/timzifer/parkgate/presenter"
	"github.com/timzifer/parkgate/remote"
	"github.com/timzifer/parkgate/session"
	"github.com/timzifer/parkgate/telemetry"
)

func main() {
	cfgPath := flag.String("config", "parkgate.yaml", "Path to configuration file")
	healthcheck := flag.Bool("healthcheck", false, "Query the device status once and exit")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	headless := flag.Bool("headless", false, "Poll and log without the terminal console")
	simulate := flag.Bool("simulate", false, "Serve a simulated device and connect to it")
	liveView := flag.Bool("live-view", false, "Enable live view web interface")
	liveViewListen := flag.String("live-view-listen", "", "Live view listen address")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *configCheck {
		os.Exit(executeConfigCheck(cfg))
	}

	if *healthcheck {
		if err := executeHealthCheck(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("device reachable")
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, cleanup, err := logging.Setup(cfg.Logging, !*headless)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	opts := runOptions{
		cfgPath:  *cfgPath,
		headless: *headless,
		simulate: *simulate,
		liveView: *liveView || cfg.LiveView.Enabled,
		listen:   cfg.LiveView.ListenAddress(),
	}
	if *liveViewListen != "" {
		opts.listen = *liveViewListen
	}
	if err := run(ctx, cfg, opts, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("client stopped with error")
		cleanup()
		os.Exit(1)
	}
}

type runOptions struct {
	cfgPath  string
	headless bool
	simulate bool
	liveView bool
	listen   string
}

func run(ctx context.Context, cfg *config.Config, opts runOptions, logger zerolog.Logger) error {
	if opts.simulate {
		sim, err := devicesim.Serve("127.0.0.1:0", devicesim.New(devicesim.Options{Echo: true}), time.Second, logger)
		if err != nil {
			return fmt.Errorf("start simulated device: %w", err)
		}
		defer sim.Close()
		cfg.Device.Host = "http://" + sim.Addr()
		logger.Info().Str("device", cfg.Device.Host).Msg("using simulated device")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	collector, gatherer, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
		collector, gatherer = telemetry.Noop(), nil
	}

	client, err := remote.New(cfg.Device, logger)
	if err != nil {
		return err
	}
	rules, err := presenter.NewRules(cfg.Alerts, logger)
	if err != nil {
		return err
	}
	schema, err := loadSchema(cfg.Parameters)
	if err != nil {
		return err
	}

	var recorder session.Recorder
	if cfg.History.Enabled {
		rec, err := history.Open(ctx, cfg.History, collector, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error().Err(err).Msg("close history")
			}
		}()
		recorder = rec
	}

	sess, err := session.New(session.Options{
		Device:    client,
		DeviceURL: client.BaseURL(),
		Interval:  cfg.PollInterval(),
		Precision: cfg.Display.Precision(),
		NoticeTTL: cfg.Display.NoticeTTL(),
		Rules:     rules,
		Schema:    schema,
		Labels:    cfg.Parameters.Labels,
		Telemetry: collector,
		Recorder:  recorder,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if opts.liveView {
		srv, err := liveview.Start(opts.listen, sess, gatherer, logger)
		if err != nil {
			return fmt.Errorf("start live view: %w", err)
		}
		defer srv.Close()
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	if cfg.HotReload {
		go watchConfig(runCtx, opts.cfgPath, cfg, sess, collector, logger)
	}

	if opts.headless {
		return sess.Run(runCtx)
	}

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(runCtx)
	}()
	consoleErr := console.Run(runCtx, sess)
	stop()
	if err := <-done; err != nil {
		return err
	}
	return consoleErr
}

// watchConfig applies the poll interval from a changed configuration. Other
// settings take effect on the next start.
func watchConfig(ctx context.Context, cfgPath string, cfg *config.Config, sess *session.Session, collector telemetry.Collector, logger zerolog.Logger) {
	logger = logger.With().Str("component", "config_reload").Logger()
	watcher := reload.NewWatcher(cfg)
	watcher.Run(ctx, time.Second, func(changed []string) {
		newCfg, err := config.Load(cfgPath)
		if err != nil {
			logger.Error().Err(err).Msg("failed to reload configuration")
			return
		}
		if err := newCfg.Validate(); err != nil {
			logger.Error().Err(err).Msg("reloaded configuration invalid")
			return
		}
		watcher.Update(newCfg)
		sess.SetInterval(newCfg.PollInterval())
		for _, file := range changed {
			collector.IncHotReload(file)
		}
		logger.Info().Strs("files", changed).Dur("interval", newCfg.PollInterval()).Msg("configuration reloaded")
	})
}

func loadSchema(cfg config.ParametersConfig) (*params.Schema, error) {
	src, err := cfg.SchemaSource()
	if err != nil {
		return nil, err
	}
	return params.NewSchema(src)
}

func executeHealthCheck(cfg *config.Config) error {
	client, err := remote.New(cfg.Device, zerolog.Nop())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Device.RequestTimeout())
	defer cancel()
	_, err = client.GetStatus(ctx)
	return err
}

func executeConfigCheck(cfg *config.Config) int {
	exitCode := 0
	report := func(label string, err error) {
		if err != nil {
			exitCode = 1
			fmt.Printf("  %s: %v\n", label, err)
			return
		}
		fmt.Printf("  %s: OK\n", label)
	}

	fmt.Printf("Configuration %q\n", cfg.Source)
	report("Structure", cfg.Validate())
	if base, err := cfg.Device.BaseURL(); err == nil {
		fmt.Printf("  Device: %s (timeout %s, poll every %s)\n", base, cfg.Device.RequestTimeout(), cfg.PollInterval())
	}
	_, err := presenter.NewRules(cfg.Alerts, zerolog.Nop())
	report(fmt.Sprintf("Alert rules (%d)", len(cfg.Alerts)), err)
	_, err = loadSchema(cfg.Parameters)
	report("Parameter schema", err)
	if cfg.History.Enabled {
		fmt.Printf("  History: table %s, buffer %d\n", cfg.History.TableName(), cfg.History.BufferSize())
	}

	if exitCode == 0 {
		fmt.Println("Configuration check completed successfully.")
	} else {
		fmt.Println("Configuration check completed with errors.")
	}
	return exitCode
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, prometheus.Gatherer, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil, nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			return nil, nil, err
		}
		return collector, prometheus.DefaultGatherer, nil
	default:
		return nil, nil, fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}

package commands

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spherical/render-driver/cmd/render-driver/ui"
	"github.com/spherical/render-driver/internal/collector"
	"github.com/spherical/render-driver/internal/config"
	"github.com/spherical/render-driver/internal/domain"
	"github.com/spherical/render-driver/internal/driver"
	"github.com/spherical/render-driver/internal/manifest"
	"github.com/spherical/render-driver/internal/observability"
	"github.com/spherical/render-driver/internal/pdf"
	"github.com/spherical/render-driver/internal/report"
	"github.com/spherical/render-driver/internal/surface"
)

// loadConfig loads the config file named by --config plus env overrides
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Observability.LogLevel = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		Output:      os.Stderr,
		ServiceName: cfg.Observability.ServiceName,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n\nReceived interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// driverParams are the values a hosting page passes to the driver in its
// query string
type driverParams struct {
	Server   string
	Browser  string
	Manifest string
	AppPath  string
}

// parseDriverURL reads a driver page URL such as
// http://host:8080/driver.html?browser=firefox&manifestFile=test_manifest.json&path=/usr/bin/firefox.
// The URL's origin is the collection server and manifestFile is resolved
// against the page URL.
func parseDriverURL(raw string) (driverParams, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return driverParams{}, fmt.Errorf("parse driver URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return driverParams{}, fmt.Errorf("driver URL must be an absolute http(s) URL: %q", raw)
	}

	q := u.Query()
	p := driverParams{
		Server:  u.Scheme + "://" + u.Host,
		Browser: q.Get("browser"),
		AppPath: q.Get("path"),
	}
	if mf := q.Get("manifestFile"); mf != "" {
		ref, err := url.Parse(mf)
		if err != nil {
			return driverParams{}, fmt.Errorf("parse manifestFile: %w", err)
		}
		p.Manifest = u.ResolveReference(ref).String()
	}
	return p, nil
}

// apply copies the non-empty params onto cfg
func (p driverParams) apply(cfg *config.DriverConfig) {
	if p.Server != "" {
		cfg.Server = p.Server
	}
	if p.Browser != "" {
		cfg.Browser = p.Browser
	}
	if p.Manifest != "" {
		cfg.Manifest = p.Manifest
	}
	if p.AppPath != "" {
		cfg.AppPath = p.AppPath
	}
}

// runDriver loads the manifest and drives it against cfg.Driver.Server. A
// nil host makes the driver fall back to the quit request.
func runDriver(ctx context.Context, cfg *config.Config, logger *observability.Logger, host driver.Host, quiet bool) error {
	fetcher := manifest.NewFetcher(&http.Client{Timeout: cfg.Report.RequestTimeout})

	m, err := manifest.Load(ctx, fetcher, cfg.Driver.Manifest)
	if err != nil {
		return err
	}

	client := report.NewClient(cfg.Driver.Server, report.Options{
		SubmitPath:     cfg.Report.SubmitPath,
		QuitPath:       cfg.Report.QuitPath,
		RequestTimeout: cfg.Report.RequestTimeout,
		Retry: report.RetryConfig{
			MaxAttempts:    cfg.Report.MaxAttempts,
			InitialBackoff: cfg.Report.InitialBackoff,
			MaxBackoff:     cfg.Report.MaxBackoff,
		},
	}, logger)

	d, err := driver.New(driver.Config{
		Browser:           cfg.Driver.Browser,
		AppPath:           cfg.Driver.AppPath,
		BackoffStep:       cfg.Driver.BackoffStep,
		DrainPollInterval: cfg.Driver.DrainPollInterval,
		QuitDelay:         cfg.Driver.QuitDelay,
		Scale:             domain.PDFToCSSUnits,
	}, driver.Deps{
		Renderer: pdf.NewRenderer(),
		Source:   fetcher,
		Reporter: client,
		Quitter:  client,
		Host:     host,
		Surface:  surface.New(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	events := make(chan domain.StreamEvent, cfg.Driver.EventBuffer)
	transcript := ui.NewTranscript(os.Stdout, quiet, len(m))
	consumed := make(chan struct{})
	go func() {
		transcript.Consume(events)
		close(consumed)
	}()

	stats, runErr := d.Run(ctx, m, events)
	close(events)
	<-consumed

	printRunSummary(m, stats, client.Stats())
	return runErr
}

func printRunSummary(m manifest.Manifest, stats domain.RunStats, delivery report.Stats) {
	expected := m.ExpectedOutcomes(stats.NumPages)

	ui.Section("Run Summary")
	ui.Table([]string{"Metric", "Value"}, [][]string{
		{"Run ID", stats.RunID},
		{"Tasks", strconv.Itoa(stats.Tasks)},
		{"Outcomes", fmt.Sprintf("%d / %d expected", stats.Outcomes, expected)},
		{"Failures", strconv.Itoa(stats.Failures)},
		{"Load failures", strconv.Itoa(stats.LoadFailures)},
		{"Skipped pages", strconv.Itoa(stats.Skipped)},
		{"Acknowledged", strconv.Itoa(delivery.Acked)},
		{"Dropped", strconv.Itoa(delivery.Dropped)},
		{"POST attempts", strconv.Itoa(delivery.Attempts)},
		{"Duration", ui.FormatDuration(stats.Duration)},
	})
	ui.Newline()

	switch {
	case stats.Outcomes != expected:
		ui.Warning("Run reported %d outcomes, expected %d", stats.Outcomes, expected)
	case delivery.Dropped > 0:
		ui.Warning("%d outcomes were never acknowledged", delivery.Dropped)
	case stats.Failures > 0:
		ui.Warning("%d pages failed", stats.Failures)
	default:
		ui.Success("All %d outcomes delivered", stats.Outcomes)
	}
}

// openStore opens the result store named by the collector config
func openStore(ctx context.Context, cfg *config.Config) (*collector.Store, error) {
	store, err := collector.OpenStore(ctx, cfg.Collector.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	return store, nil
}

// openPublisher connects to Redis when an address is configured. A Redis
// outage only disables live updates.
func openPublisher(cfg *config.Config, logger *observability.Logger) *collector.RedisPublisher {
	if cfg.Collector.Redis.Addr == "" {
		return nil
	}
	pub, err := collector.NewRedisPublisher(collector.RedisConfig{
		Addr:     cfg.Collector.Redis.Addr,
		Password: cfg.Collector.Redis.Password,
		DB:       cfg.Collector.Redis.DB,
		Channel:  cfg.Collector.Redis.Channel,
	})
	if err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Collector.Redis.Addr).Msg("Redis unavailable, live updates disabled")
		return nil
	}
	return pub
}

// newCollector builds a collection server from cfg. The returned cleanup
// closes the store and publisher.
func newCollector(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*collector.Server, *collector.Store, func(), error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	var pub collector.Publisher
	redisPub := openPublisher(cfg, logger)
	if redisPub != nil {
		pub = redisPub
	}

	srv := collector.NewServer(collector.OptionsFromConfig(cfg.Collector), store, pub, logger)
	cleanup := func() {
		if redisPub != nil {
			_ = redisPub.Close()
		}
		_ = store.Close()
	}
	return srv, store, cleanup, nil
}

// Package driver walks a manifest, renders every page of every task through a
// Renderer, and hands each snapshot to a Reporter.
//
// A run is strictly serial: one task is active at a time and one page is
// being rendered at a time, because the surface is a single resource that is
// resized and cleared in place. Only result delivery runs concurrently.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/render-driver/internal/domain"
	"github.com/spherical/render-driver/internal/manifest"
	"github.com/spherical/render-driver/internal/observability"
)

// Reporter delivers outcomes and exposes how many are still in flight
type Reporter interface {
	Submit(ctx context.Context, outcome domain.RenderOutcome) error
	InFlight() int
}

// DocumentSource fetches the bytes behind a task's file locator
type DocumentSource interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Quitter sends the out-of-band quit request
type Quitter interface {
	Quit(ctx context.Context, appPath string) error
}

// Host is a control API offered by whatever hosts the run. When present it is
// used instead of the quit request.
type Host interface {
	QuitApplication(ctx context.Context) error
}

// Config holds the run parameters
type Config struct {
	Browser string
	AppPath string

	// BackoffStep is multiplied by the in-flight count to delay the next page
	BackoffStep       time.Duration
	DrainPollInterval time.Duration
	QuitDelay         time.Duration
	Scale             float64
}

// Deps are the collaborators a Driver needs. Host is optional.
type Deps struct {
	Renderer domain.Renderer
	Source   DocumentSource
	Reporter Reporter
	Quitter  Quitter
	Host     Host
	Surface  domain.Surface
	Logger   *observability.Logger
}

// Driver runs manifests. A Driver is not safe for concurrent runs since they
// would share the surface.
type Driver struct {
	cfg  Config
	deps Deps
}

// New creates a driver
func New(cfg Config, deps Deps) (*Driver, error) {
	if deps.Renderer == nil || deps.Source == nil || deps.Reporter == nil || deps.Surface == nil {
		return nil, domain.ConfigError("renderer, source, reporter and surface are required", nil)
	}
	if deps.Host == nil && deps.Quitter == nil {
		return nil, domain.ConfigError("either a host or a quitter is required", nil)
	}
	if cfg.Scale == 0 {
		cfg.Scale = domain.PDFToCSSUnits
	}
	if cfg.DrainPollInterval <= 0 {
		cfg.DrainPollInterval = 100 * time.Millisecond
	}
	if deps.Logger == nil {
		deps.Logger = observability.Nop()
	}
	return &Driver{cfg: cfg, deps: deps}, nil
}

// run is the mutable state of one Run call. It is created once per run and
// owned by the goroutine executing it.
type run struct {
	id       string
	manifest manifest.Manifest
	taskIdx  int
	events   chan<- domain.StreamEvent
	logger   *observability.Logger
	stats    domain.RunStats
}

// Run drives every task of m in order, waits for all submissions to drain,
// then signals completion to the host. Per-task failures are reported, not
// returned; an error means the run itself was interrupted.
func (d *Driver) Run(ctx context.Context, m manifest.Manifest, eventCh chan<- domain.StreamEvent) (domain.RunStats, error) {
	startTime := time.Now()
	r := &run{
		id:       uuid.NewString(),
		manifest: m,
		events:   eventCh,
		stats:    domain.RunStats{NumPages: make(map[string]int)},
	}
	r.logger = d.deps.Logger.WithRun(r.id, d.cfg.Browser)
	r.stats.RunID = r.id
	defer d.cleanup(r)

	r.logger.Info().Int("tasks", len(m)).Str("app_path", d.cfg.AppPath).Msg("Starting run")
	d.emit(r, domain.StreamEvent{
		Type:    domain.EventStart,
		Payload: fmt.Sprintf("Harness thinks this browser is %q with path %q", d.cfg.Browser, d.cfg.AppPath),
	})

	for {
		tr, ok := d.advance(ctx, r)
		if !ok {
			break
		}
		if err := d.drive(ctx, r, tr); err != nil {
			r.stats.Duration = time.Since(startTime)
			return r.stats, err
		}
		r.taskIdx++
	}

	d.cleanup(r)
	err := d.finish(ctx, r)
	r.stats.Duration = time.Since(startTime)
	return r.stats, err
}

// emit safely emits an event to the channel
func (d *Driver) emit(r *run, event domain.StreamEvent) {
	if r.events == nil {
		return
	}
	event.Timestamp = time.Now()
	select {
	case r.events <- event:
	default:
		r.logger.Warn().Str("event", string(event.Type)).Msg("Event channel full, dropping event")
	}
}

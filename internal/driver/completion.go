package driver

import (
	"context"
	"fmt"

	"github.com/spherical/render-driver/internal/domain"
)

// finish waits for every submission to be acknowledged and then asks the
// host to quit. Quit failures are logged; the run is already complete.
func (d *Driver) finish(ctx context.Context, r *run) error {
	for {
		inFlight := d.deps.Reporter.InFlight()
		if inFlight == 0 {
			break
		}
		d.emit(r, domain.StreamEvent{Type: domain.EventDraining, InFlight: inFlight})
		r.logger.Debug().Int("in_flight", inFlight).Msg("Waiting for submissions to drain")
		if err := sleep(ctx, d.cfg.DrainPollInterval); err != nil {
			return fmt.Errorf("run interrupted while draining: %w", err)
		}
	}

	if err := sleep(ctx, d.cfg.QuitDelay); err != nil {
		return fmt.Errorf("run interrupted before quit: %w", err)
	}

	var err error
	if d.deps.Host != nil {
		err = d.deps.Host.QuitApplication(ctx)
	} else {
		err = d.deps.Quitter.Quit(ctx, d.cfg.AppPath)
	}
	if err != nil {
		r.logger.Warn().Err(err).Msg("Quit signal failed")
	}

	r.logger.Info().
		Int("tasks", r.stats.Tasks).
		Int("outcomes", r.stats.Outcomes).
		Int("failures", r.stats.Failures).
		Msg("Run complete")
	d.emit(r, domain.StreamEvent{Type: domain.EventComplete, Payload: r.stats.Outcomes})
	return nil
}

// QuitFunc adapts a function to the Host interface
type QuitFunc func(ctx context.Context) error

// QuitApplication calls f
func (f QuitFunc) QuitApplication(ctx context.Context) error { return f(ctx) }

var _ Host = QuitFunc(nil)

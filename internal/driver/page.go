package driver

import (
	"context"
	"fmt"
	"image/color"
	"time"

	"github.com/spherical/render-driver/internal/domain"
)

// drivePage performs one step of the active task: it renders, skips or
// reports the load failure for the current page, submits the outcome and
// then waits out the backoff before moving to the next page.
func (d *Driver) drivePage(ctx context.Context, r *run, tr *taskRun) error {
	task := tr.task

	action, rolled, err := tr.nextStep()
	if err != nil {
		return err
	}
	if rolled {
		d.emit(r, domain.StreamEvent{Type: domain.EventRoundStart, TaskID: task.ID, Round: task.Round})
	}

	switch action {
	case stepDone:
		return tr.transition(stateComplete)

	case stepLoadFailure:
		// the surface is sent as-is; no page was drawn for this task
		d.submit(ctx, r, task, tr.failure)
		return tr.transition(stateComplete)

	case stepSkip:
		d.emit(r, domain.StreamEvent{Type: domain.EventPageSkipped, TaskID: task.ID, Round: task.Round, Page: task.PageNum, NumPages: task.ReportedPages()})
		d.deps.Surface.Resize(1, 1)
		d.deps.Surface.Clear(color.White)
		r.stats.Skipped++
		d.submit(ctx, r, task, "")

	case stepRender:
		d.emit(r, domain.StreamEvent{Type: domain.EventPageStart, TaskID: task.ID, Round: task.Round, Page: task.PageNum, NumPages: task.ReportedPages()})
		failure := d.renderPage(ctx, task)
		d.submit(ctx, r, task, failure)
	}

	if err := d.backoff(ctx, r); err != nil {
		return fmt.Errorf("run interrupted in task %q: %w", task.ID, err)
	}
	task.PageNum++
	return nil
}

// renderPage draws the current page onto the surface and returns the failure
// message, or "" on success.
func (d *Driver) renderPage(ctx context.Context, task *domain.TaskSpec) (failure string) {
	stage := "page setup : "
	defer func() {
		if rec := recover(); rec != nil {
			failure = fmt.Sprintf("%s%v", stage, rec)
		}
	}()

	page, err := task.Doc.Page(ctx, task.PageNum)
	if err != nil {
		return "render : " + err.Error()
	}
	defer page.Destroy()

	vp, err := page.Viewport(d.cfg.Scale)
	if err != nil {
		return stage + err.Error()
	}

	bounds := vp.Bounds()
	d.deps.Surface.Resize(bounds.Dx(), bounds.Dy())
	d.deps.Surface.Clear(color.White)

	stage = "render : "
	err = page.Render(ctx, domain.RenderContext{
		Surface:   d.deps.Surface,
		Viewport:  vp,
		TextLayer: domain.NullTextLayer{},
	})
	if err != nil {
		return stage + err.Error()
	}
	return ""
}

// submit snapshots the surface and hands the outcome to the reporter
func (d *Driver) submit(ctx context.Context, r *run, task *domain.TaskSpec, failure string) {
	logger := r.logger.WithTask(task.ID)

	snapshot, err := d.deps.Surface.Snapshot()
	if err != nil {
		logger.Warn().Err(err).Int("page", task.PageNum).Msg("Snapshot failed")
		if failure == "" {
			failure = "render : " + err.Error()
		}
	}

	outcome := domain.RenderOutcome{
		TaskID:   task.ID,
		Browser:  d.cfg.Browser,
		File:     task.File,
		Round:    task.Round,
		Page:     task.PageNum,
		NumPages: task.ReportedPages(),
		Failure:  failure,
		Snapshot: snapshot,
	}

	if err := d.deps.Reporter.Submit(ctx, outcome); err != nil {
		logger.Error().Err(err).Int("page", task.PageNum).Msg("Submit failed")
	}

	r.stats.Outcomes++
	if failure != "" {
		r.stats.Failures++
		logger.Warn().Int("round", task.Round).Int("page", task.PageNum).Str("failure", failure).Msg("Page failed")
	}

	d.emit(r, domain.StreamEvent{
		Type:     domain.EventPageComplete,
		TaskID:   task.ID,
		File:     task.File,
		Round:    task.Round,
		Page:     task.PageNum,
		NumPages: outcome.NumPages,
		InFlight: d.deps.Reporter.InFlight(),
		Failure:  failure,
	})
}

// backoff waits in proportion to the number of unacknowledged submissions
func (d *Driver) backoff(ctx context.Context, r *run) error {
	delay := time.Duration(d.deps.Reporter.InFlight()) * d.cfg.BackoffStep
	if delay <= 0 {
		return nil
	}
	r.logger.Debug().Dur("delay", delay).Msg("Backing off")
	return sleep(ctx, delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

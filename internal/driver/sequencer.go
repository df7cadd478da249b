package driver

import (
	"context"
	"fmt"

	"github.com/spherical/render-driver/internal/domain"
)

// advance releases every document handle still held and makes the next
// manifest entry the active task. It returns false when the manifest is done.
func (d *Driver) advance(ctx context.Context, r *run) (*taskRun, bool) {
	d.cleanup(r)
	if r.taskIdx >= len(r.manifest) {
		return nil, false
	}

	task := r.manifest[r.taskIdx]
	task.Round = 0
	task.PageNum = 0
	r.stats.Tasks++

	tr := newTaskRun(task)
	d.load(ctx, r, tr)
	return tr, true
}

// load fetches and opens the task's document. A failure is recorded on the
// task run and reported later as a single outcome.
func (d *Driver) load(ctx context.Context, r *run, tr *taskRun) {
	task := tr.task
	logger := r.logger.WithTask(task.ID)

	doc, err := d.openDocument(ctx, task.File)
	if err != nil {
		tr.failure = "load PDF doc : " + err.Error()
		r.stats.LoadFailures++
		logger.Warn().Err(err).Str("file", task.File).Msg("Document failed to load")
		_ = tr.transition(stateLoadFailed)
		return
	}

	task.Doc = doc
	task.PageNum = task.FirstPage
	if task.PageNum < 1 {
		task.PageNum = 1
	}
	r.stats.NumPages[task.ID] = doc.NumPages()
	logger.Debug().Int("num_pages", doc.NumPages()).Msg("Document loaded")
	_ = tr.transition(stateActive)
}

func (d *Driver) openDocument(ctx context.Context, locator string) (doc domain.Document, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			doc, err = nil, fmt.Errorf("%v", rec)
		}
	}()

	data, err := d.deps.Source.Fetch(ctx, locator)
	if err != nil {
		return nil, err
	}
	return d.deps.Renderer.Open(ctx, data)
}

// drive runs the page loop of one task until it completes
func (d *Driver) drive(ctx context.Context, r *run, tr *taskRun) error {
	task := tr.task
	d.emit(r, domain.StreamEvent{
		Type:     domain.EventTaskStart,
		TaskID:   task.ID,
		File:     task.File,
		NumPages: task.ReportedPages(),
		Failure:  tr.failure,
	})

	for tr.state != stateComplete {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run interrupted in task %q: %w", task.ID, err)
		}
		if err := d.drivePage(ctx, r, tr); err != nil {
			return err
		}
	}

	d.emit(r, domain.StreamEvent{
		Type:     domain.EventTaskComplete,
		TaskID:   task.ID,
		File:     task.File,
		NumPages: task.ReportedPages(),
	})
	return nil
}

// cleanup destroys the document of every manifest entry
func (d *Driver) cleanup(r *run) {
	for _, task := range r.manifest {
		if task.Doc != nil {
			task.Doc.Destroy()
			task.Doc = nil
		}
	}
}

package ui

import (
	"fmt"
	"io"

	"github.com/spherical/render-driver/internal/domain"
)

// Transcript renders driver events as the append-only run log. In quiet mode
// only failures are printed and a progress bar tracks finished tasks.
type Transcript struct {
	w        io.Writer
	quiet    bool
	bar      *ProgressBar
	spinner  *Spinner
	pageOpen bool
}

// NewTranscript creates a transcript writing to w. totalTasks sizes the
// progress bar in quiet mode.
func NewTranscript(w io.Writer, quiet bool, totalTasks int) *Transcript {
	t := &Transcript{w: w, quiet: quiet}
	if quiet {
		t.bar = NewProgressBar(int64(totalTasks), "Rendering")
	}
	return t
}

// Consume handles events until ch is closed
func (t *Transcript) Consume(ch <-chan domain.StreamEvent) {
	for event := range ch {
		t.Handle(event)
	}
	t.stopSpinner()
}

// Handle renders one event
func (t *Transcript) Handle(event domain.StreamEvent) {
	switch event.Type {
	case domain.EventStart:
		t.line("%v", event.Payload)

	case domain.EventTaskStart:
		t.closePage()
		t.line("Loading file %q", event.File)
		if t.bar != nil {
			t.bar.Describe(event.TaskID)
		}

	case domain.EventRoundStart:
		t.closePage()
		t.line(" Round %d", event.Round+1)

	case domain.EventPageStart:
		t.closePage()
		t.partial(" loading page %d/%d... ", event.Page, event.NumPages)
		t.pageOpen = true

	case domain.EventPageSkipped:
		t.closePage()
		t.partial(" skipping page %d/%d... ", event.Page, event.NumPages)
		t.pageOpen = true

	case domain.EventPageComplete:
		t.pageComplete(event)

	case domain.EventTaskComplete:
		t.closePage()
		if t.bar != nil {
			t.bar.Add(1)
		}

	case domain.EventDraining:
		t.closePage()
		msg := fmt.Sprintf("Waiting for %d submissions...", event.InFlight)
		if t.spinner == nil {
			t.spinner = NewSpinner(msg)
			t.spinner.Start()
		} else {
			t.spinner.UpdateMessage(msg)
		}

	case domain.EventComplete:
		t.closePage()
		t.stopSpinner()
		if t.bar != nil {
			t.bar.Finish()
		}
		okColor.Fprintln(t.w, "Done !")
	}
}

func (t *Transcript) pageComplete(event domain.StreamEvent) {
	if event.Failure == "" {
		if !t.quiet && t.pageOpen {
			fmt.Fprintln(t.w, "done, snapshotting... done")
		}
		t.pageOpen = false
		return
	}

	if t.pageOpen && !t.quiet {
		failColor.Fprintf(t.w, "done (failed !: %s)\n", event.Failure)
	} else {
		failColor.Fprintf(t.w, "%s round %d page %d failed !: %s\n", event.TaskID, event.Round, event.Page, event.Failure)
	}
	t.pageOpen = false
}

func (t *Transcript) line(format string, args ...interface{}) {
	if t.quiet {
		return
	}
	fmt.Fprintf(t.w, format+"\n", args...)
}

func (t *Transcript) partial(format string, args ...interface{}) {
	if t.quiet {
		return
	}
	fmt.Fprintf(t.w, format, args...)
}

// closePage terminates a page line whose completion event was dropped
func (t *Transcript) closePage() {
	if t.pageOpen && !t.quiet {
		dimColor.Fprintln(t.w, "...")
	}
	t.pageOpen = false
}

func (t *Transcript) stopSpinner() {
	if t.spinner != nil && t.spinner.Active() {
		t.spinner.Stop()
	}
}

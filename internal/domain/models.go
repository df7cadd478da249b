package domain

import (
	"image"
	"time"
)

// PDFToCSSUnits is the physical-to-logical scale every page is rendered at
const PDFToCSSUnits = 96.0 / 72.0

// TaskSpec is one manifest entry plus the run state of its active interval
type TaskSpec struct {
	ID        string `json:"id"`
	File      string `json:"file"`
	FirstPage int    `json:"firstPage,omitempty"`
	PageLimit int    `json:"pageLimit,omitempty"`
	Rounds    int    `json:"rounds,omitempty"`
	SkipPages []int  `json:"skipPages,omitempty"`

	// Carried for the collection side, not interpreted by the driver
	MD5  string `json:"md5,omitempty"`
	Link bool   `json:"link,omitempty"`
	Type string `json:"type,omitempty"`

	Round   int      `json:"-"`
	PageNum int      `json:"-"`
	Doc     Document `json:"-"`
}

// Skips reports whether page n is in the skip set
func (t *TaskSpec) Skips(n int) bool {
	for _, p := range t.SkipPages {
		if p == n {
			return true
		}
	}
	return false
}

// Limit is the last page rendered per round. Requires a loaded document.
func (t *TaskSpec) Limit() int {
	numPages := t.Doc.NumPages()
	if t.PageLimit <= 0 || t.PageLimit > numPages {
		return numPages
	}
	return t.PageLimit
}

// ReportedPages is the page count sent with each outcome
func (t *TaskSpec) ReportedPages() int {
	if t.Doc == nil {
		return 0
	}
	if t.PageLimit > 0 {
		return t.PageLimit
	}
	return t.Doc.NumPages()
}

// RenderOutcome is the result of one page (or one failed load)
type RenderOutcome struct {
	TaskID   string
	Browser  string
	File     string
	Round    int
	Page     int
	NumPages int
	Failure  string
	Snapshot string
}

// Viewport is a page's size at a given scale
type Viewport struct {
	Width  float64
	Height float64
	Scale  float64
}

// Bounds returns the surface rectangle covering the viewport
func (v Viewport) Bounds() image.Rectangle {
	return image.Rect(0, 0, int(v.Width), int(v.Height))
}

// EventType represents the type of stream event
type EventType string

const (
	EventStart        EventType = "start"
	EventTaskStart    EventType = "task_start"
	EventRoundStart   EventType = "round_start"
	EventPageStart    EventType = "page_start"
	EventPageSkipped  EventType = "page_skipped"
	EventPageComplete EventType = "page_complete"
	EventTaskComplete EventType = "task_complete"
	EventDraining     EventType = "draining"
	EventComplete     EventType = "complete"
)

// StreamEvent represents an event emitted during a run
type StreamEvent struct {
	Type      EventType   `json:"type"`
	TaskID    string      `json:"task_id,omitempty"`
	File      string      `json:"file,omitempty"`
	Round     int         `json:"round,omitempty"`
	Page      int         `json:"page,omitempty"`
	NumPages  int         `json:"num_pages,omitempty"`
	InFlight  int         `json:"in_flight,omitempty"`
	Failure   string      `json:"failure,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunStats summarises a finished run
type RunStats struct {
	RunID        string
	Tasks        int
	Outcomes     int
	Failures     int
	LoadFailures int
	Skipped      int
	// NumPages holds the page count of every document that loaded
	NumPages map[string]int
	Duration time.Duration
}

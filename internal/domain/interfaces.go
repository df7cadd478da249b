package domain

import (
	"context"
	"image/color"
	"image/draw"
)

// Renderer opens documents from raw bytes
type Renderer interface {
	// Open decodes data and returns a handle owned by the caller until Destroy
	Open(ctx context.Context, data []byte) (Document, error)
}

// Document is an opened document handle
type Document interface {
	NumPages() int

	// Page returns the 1-based page n
	Page(ctx context.Context, n int) (Page, error)

	// Destroy releases the document; calling it twice is a no-op
	Destroy()
}

// Page is a single page of an opened document
type Page interface {
	// Viewport returns the page size at the given scale
	Viewport(scale float64) (Viewport, error)

	// Render draws the page into rc.Surface
	Render(ctx context.Context, rc RenderContext) error

	Destroy()
}

// Surface is the raster target pages are rendered into.
// It is reused across pages and tasks, so access must be serial.
type Surface interface {
	Resize(width, height int)
	Clear(c color.Color)
	Canvas() draw.Image

	// Snapshot encodes the current contents as an image data URL
	Snapshot() (string, error)
}

// TextLayer receives text runs while a page renders
type TextLayer interface {
	BeginLayout()
	EndLayout()
	AppendText(text, fontName string, fontSize float64)
}

// NullTextLayer discards all text; only pixel output is checked
type NullTextLayer struct{}

func (NullTextLayer) BeginLayout()                       {}
func (NullTextLayer) EndLayout()                         {}
func (NullTextLayer) AppendText(string, string, float64) {}

// RenderContext carries everything a page needs to draw itself
type RenderContext struct {
	Surface   Surface
	Viewport  Viewport
	TextLayer TextLayer
}

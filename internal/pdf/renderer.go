package pdf

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/spherical/render-driver/internal/domain"
	"github.com/spherical/render-driver/internal/surface"
)

// Renderer implements domain.Renderer on top of MuPDF via go-fitz
type Renderer struct {
	validator *Validator
}

// NewRenderer creates a new MuPDF backed renderer
func NewRenderer() *Renderer {
	return &Renderer{validator: NewValidator()}
}

// Open decodes a document held in memory
func (r *Renderer) Open(ctx context.Context, data []byte) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.validator.ValidateDocument(data); err != nil {
		return nil, err
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.LoadError("Failed to open PDF", err)
	}

	return &Document{doc: doc, numPages: doc.NumPage(), validator: r.validator}, nil
}

// Document is an open MuPDF document
type Document struct {
	doc       *fitz.Document
	numPages  int
	validator *Validator
	mu        sync.Mutex
	closed    bool
}

// NumPages returns the page count read at open time
func (d *Document) NumPages() int {
	return d.numPages
}

// Page returns the 1-based page n
func (d *Document) Page(ctx context.Context, n int) (domain.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, domain.RenderError("document already destroyed", nil)
	}
	if n < 1 || n > d.numPages {
		return nil, domain.RenderError(fmt.Sprintf("page %d out of range 1..%d", n, d.numPages), nil)
	}

	bounds, err := d.doc.Bound(n - 1)
	if err != nil {
		return nil, domain.RenderError(fmt.Sprintf("Failed to read page %d", n), err)
	}

	return &Page{owner: d, index: n - 1, widthPt: float64(bounds.Dx()), heightPt: float64(bounds.Dy())}, nil
}

// Destroy closes the underlying MuPDF document
func (d *Document) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	_ = d.doc.Close()
}

// Page is a page of an open Document
type Page struct {
	owner     *Document
	index     int
	widthPt   float64
	heightPt  float64
	destroyed bool
}

// Viewport returns the page size in pixels at scale
func (p *Page) Viewport(scale float64) (domain.Viewport, error) {
	if err := p.owner.validator.ValidateScale(scale); err != nil {
		return domain.Viewport{}, err
	}
	return domain.Viewport{
		Width:  p.widthPt * scale,
		Height: p.heightPt * scale,
		Scale:  scale,
	}, nil
}

// Render rasterises the page at the viewport scale and draws it onto the surface
func (p *Page) Render(ctx context.Context, rc domain.RenderContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.destroyed {
		return domain.RenderError("page already destroyed", nil)
	}
	if rc.Surface == nil {
		return domain.RenderError("no surface to render into", nil)
	}

	tl := rc.TextLayer
	if tl == nil {
		tl = domain.NullTextLayer{}
	}
	tl.BeginLayout()
	defer tl.EndLayout()

	p.owner.mu.Lock()
	if p.owner.closed {
		p.owner.mu.Unlock()
		return domain.RenderError("document already destroyed", nil)
	}
	img, err := p.owner.doc.ImageDPI(p.index, 72*rc.Viewport.Scale)
	p.owner.mu.Unlock()
	if err != nil {
		return domain.RenderError(fmt.Sprintf("Failed to rasterise page %d", p.index+1), err)
	}

	surface.Blit(rc.Surface.Canvas(), img)
	return nil
}

// Destroy releases the page. Pages hold no MuPDF resources of their own.
func (p *Page) Destroy() {
	p.destroyed = true
}

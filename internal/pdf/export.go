package pdf

import (
	"context"
	"fmt"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/spherical/render-driver/internal/domain"
	"github.com/spherical/render-driver/internal/surface"
)

// ExportedPage describes one page written by Export
type ExportedPage struct {
	PageNumber int
	ImagePath  string
	Width      int
	Height     int
}

// Export renders every page of a local PDF into outDir as page_NNN.png, at
// the same scale the driver uses. It is the offline counterpart of a driver
// run and is handy for producing reference snapshots.
func Export(ctx context.Context, r domain.Renderer, pdfPath, outDir string) ([]ExportedPage, error) {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return nil, domain.IOError(fmt.Sprintf("cannot read %s", pdfPath), err)
	}

	doc, err := r.Open(ctx, data)
	if err != nil {
		return nil, err
	}
	defer doc.Destroy()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, domain.IOError("Failed to create output directory", err)
	}

	canvas := surface.New()
	pages := make([]ExportedPage, 0, doc.NumPages())

	for n := 1; n <= doc.NumPages(); n++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		w, h, err := renderInto(ctx, doc, n, canvas)
		if err != nil {
			return nil, err
		}

		outputPath := filepath.Join(outDir, fmt.Sprintf("page_%03d.png", n))
		if err := writePNG(outputPath, canvas); err != nil {
			return nil, domain.IOError(fmt.Sprintf("Failed to write page %d", n), err)
		}

		pages = append(pages, ExportedPage{PageNumber: n, ImagePath: outputPath, Width: w, Height: h})
	}

	return pages, nil
}

func renderInto(ctx context.Context, doc domain.Document, n int, canvas *surface.Canvas) (int, int, error) {
	page, err := doc.Page(ctx, n)
	if err != nil {
		return 0, 0, err
	}
	defer page.Destroy()

	vp, err := page.Viewport(domain.PDFToCSSUnits)
	if err != nil {
		return 0, 0, err
	}

	b := vp.Bounds()
	canvas.Resize(b.Dx(), b.Dy())
	canvas.Clear(color.White)

	if err := page.Render(ctx, domain.RenderContext{Surface: canvas, Viewport: vp, TextLayer: domain.NullTextLayer{}}); err != nil {
		return 0, 0, err
	}

	w, h := canvas.Size()
	return w, h, nil
}

func writePNG(path string, canvas *surface.Canvas) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, canvas.Canvas()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

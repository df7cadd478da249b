// Package surface implements the raster target pages are rendered into and
// snapshotted from.
package surface

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

const dataURLPrefix = "data:image/png;base64,"

// Canvas is an in-memory RGBA surface. It is not safe for concurrent use.
type Canvas struct {
	img *image.RGBA
}

// New creates a 1x1 canvas, the same size a freshly created canvas has.
func New() *Canvas {
	return &Canvas{img: image.NewRGBA(image.Rect(0, 0, 1, 1))}
}

// Resize replaces the backing image. Contents are reset to transparent.
func (c *Canvas) Resize(width, height int) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	c.img = image.NewRGBA(image.Rect(0, 0, width, height))
}

// Clear fills the whole canvas with col.
func (c *Canvas) Clear(col color.Color) {
	draw.Draw(c.img, c.img.Bounds(), image.NewUniform(col), image.Point{}, draw.Src)
}

// Canvas returns the drawable backing image.
func (c *Canvas) Canvas() draw.Image {
	return c.img
}

// Size returns the current width and height.
func (c *Canvas) Size() (int, int) {
	b := c.img.Bounds()
	return b.Dx(), b.Dy()
}

// Snapshot encodes the canvas as a PNG data URL.
func (c *Canvas) Snapshot() (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, c.img); err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Blit draws src onto dst, scaling it to cover dst when the sizes differ.
// Renderers produce whole-pixel images whose size can be off by one from the
// truncated viewport size.
func Blit(dst draw.Image, src image.Image) {
	if src.Bounds().Size() == dst.Bounds().Size() {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Over)
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
}

// DecodeDataURL returns the PNG bytes of a snapshot data URL.
func DecodeDataURL(dataURL string) ([]byte, error) {
	if len(dataURL) < len(dataURLPrefix) || dataURL[:len(dataURLPrefix)] != dataURLPrefix {
		return nil, fmt.Errorf("not a PNG data URL")
	}
	raw, err := base64.StdEncoding.DecodeString(dataURL[len(dataURLPrefix):])
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return raw, nil
}

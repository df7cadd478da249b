package pdf

import (
	"bytes"
	"fmt"
	"math"

	"github.com/spherical/render-driver/internal/domain"
)

const (
	// MuPDF accepts a header anywhere in the first KiB
	headerWindow = 1024

	maxDocumentSize = 512 * 1024 * 1024
)

var pdfHeader = []byte("%PDF-")

// Validator provides input validation for documents and render parameters
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateDocument checks that data looks like a PDF before handing it to MuPDF
func (v *Validator) ValidateDocument(data []byte) error {
	if len(data) == 0 {
		return domain.ValidationError("document is empty", nil)
	}

	if len(data) > maxDocumentSize {
		return domain.ValidationError(fmt.Sprintf("document is too large (%d MB)", len(data)/(1024*1024)), nil)
	}

	window := data
	if len(window) > headerWindow {
		window = window[:headerWindow]
	}
	if !bytes.Contains(window, pdfHeader) {
		return domain.ValidationError("missing %PDF- header", nil)
	}

	return nil
}

// ValidateScale validates the viewport scale factor
func (v *Validator) ValidateScale(scale float64) error {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return domain.ValidationError(fmt.Sprintf("scale must be a positive finite number, got %v", scale), nil)
	}
	return nil
}

package pdf

import (
	"math"
	"strings"
	"testing"
)

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{name: "empty", data: nil, wantErr: true},
		{name: "no header", data: []byte("hello world"), wantErr: true},
		{name: "header at start", data: []byte("%PDF-1.7\n..."), wantErr: false},
		{name: "header after junk", data: []byte("junk\n%PDF-1.4\n"), wantErr: false},
		{name: "header too late", data: []byte(strings.Repeat("x", headerWindow) + "%PDF-1.4"), wantErr: true},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDocument(tt.data)
			if tt.wantErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestValidateScale(t *testing.T) {
	v := NewValidator()
	for _, scale := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := v.ValidateScale(scale); err == nil {
			t.Errorf("Expected error for scale %v", scale)
		}
	}
	if err := v.ValidateScale(96.0 / 72.0); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

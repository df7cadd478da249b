package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/render-driver/internal/config"
)

func TestParseDriverURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    driverParams
		wantErr bool
	}{
		{
			name: "hosting page query",
			raw:  "http://localhost:8080/test/driver.html?browser=firefox&manifestFile=test_manifest.json&path=%2Fusr%2Fbin%2Ffirefox",
			want: driverParams{
				Server:   "http://localhost:8080",
				Browser:  "firefox",
				Manifest: "http://localhost:8080/test/test_manifest.json",
				AppPath:  "/usr/bin/firefox",
			},
		},
		{
			name: "absolute manifest",
			raw:  "https://ci.example.com/driver?browser=chrome&manifestFile=/manifests/all.json",
			want: driverParams{
				Server:   "https://ci.example.com",
				Browser:  "chrome",
				Manifest: "https://ci.example.com/manifests/all.json",
			},
		},
		{
			name: "no query",
			raw:  "http://127.0.0.1:9000/",
			want: driverParams{Server: "http://127.0.0.1:9000"},
		},
		{name: "relative", raw: "/driver.html?browser=x", wantErr: true},
		{name: "wrong scheme", raw: "file:///tmp/driver.html", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDriverURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDriverParams_ApplyKeepsUnsetValues(t *testing.T) {
	cfg := config.DefaultConfig().Driver
	cfg.Browser = "firefox"

	driverParams{Manifest: "m.json"}.apply(&cfg)

	assert.Equal(t, "firefox", cfg.Browser)
	assert.Equal(t, "m.json", cfg.Manifest)
	assert.Equal(t, "http://localhost:8080", cfg.Server)
}

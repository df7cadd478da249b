package manifest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spherical/render-driver/internal/domain"
)

// Fetcher reads manifests and documents from disk or over HTTP
type Fetcher struct {
	httpClient *http.Client
}

// NewFetcher creates a Fetcher. A nil client uses a client with a 60s timeout.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{httpClient: client}
}

// Fetch returns the bytes behind locator
func (f *Fetcher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if !isURL(locator) {
		data, err := os.ReadFile(locator)
		if err != nil {
			return nil, domain.IOError(fmt.Sprintf("read %s", locator), err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, domain.IOError("build request", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, domain.IOError(fmt.Sprintf("GET %s", locator), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.IOError(fmt.Sprintf("GET %s: HTTP %d", locator, resp.StatusCode), nil)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.IOError(fmt.Sprintf("read body of %s", locator), err)
	}
	return data, nil
}

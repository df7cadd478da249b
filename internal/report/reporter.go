// Package report delivers render outcomes to the collection endpoint and
// tracks how many deliveries are still outstanding.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spherical/render-driver/internal/domain"
	"github.com/spherical/render-driver/internal/observability"
)

const (
	defaultSubmitPath = "/submit_task_results"
	defaultQuitPath   = "/tellMeToQuit"
)

// Payload is the wire form of a RenderOutcome. Field order is the order the
// collector has always received them in.
type Payload struct {
	Browser  string `json:"browser"`
	ID       string `json:"id"`
	NumPages int    `json:"numPages"`
	Failure  string `json:"failure"`
	File     string `json:"file"`
	Round    int    `json:"round"`
	Page     int    `json:"page"`
	Snapshot string `json:"snapshot"`
}

// NewPayload converts an outcome to its wire form
func NewPayload(o domain.RenderOutcome) Payload {
	return Payload{
		Browser:  o.Browser,
		ID:       o.TaskID,
		NumPages: o.NumPages,
		Failure:  o.Failure,
		File:     o.File,
		Round:    o.Round,
		Page:     o.Page,
		Snapshot: o.Snapshot,
	}
}

// Options configures a Client
type Options struct {
	SubmitPath     string
	QuitPath       string
	RequestTimeout time.Duration
	Retry          RetryConfig
	HTTPClient     *http.Client
}

// Client posts outcomes to the collection server. Submissions run
// concurrently, each with its own resend loop, so the server may see them out
// of order.
type Client struct {
	serverURL  string
	opts       Options
	httpClient *http.Client
	logger     *observability.Logger

	inFlight atomic.Int64
	acked    atomic.Int64
	dropped  atomic.Int64
	attempts atomic.Int64
	wg       sync.WaitGroup
}

// NewClient creates a reporter for the collection server at serverURL
func NewClient(serverURL string, opts Options, logger *observability.Logger) *Client {
	if opts.SubmitPath == "" {
		opts.SubmitPath = defaultSubmitPath
	}
	if opts.QuitPath == "" {
		opts.QuitPath = defaultQuitPath
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.RequestTimeout}
	}
	if logger == nil {
		logger = observability.Nop()
	}

	return &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		opts:       opts,
		httpClient: httpClient,
		logger:     logger.WithOperation("report"),
	}
}

// Submit serialises outcome once and starts delivering it in the background.
// The in-flight count is raised before Submit returns.
func (c *Client) Submit(ctx context.Context, outcome domain.RenderOutcome) error {
	body, err := json.Marshal(NewPayload(outcome))
	if err != nil {
		return domain.TransportError("Failed to marshal outcome", err)
	}

	c.inFlight.Add(1)
	c.wg.Add(1)
	go c.deliver(ctx, body, outcome)
	return nil
}

// deliver sends body until it is acknowledged. The same bytes go out on
// every attempt.
func (c *Client) deliver(ctx context.Context, body []byte, o domain.RenderOutcome) {
	defer c.wg.Done()

	for attempt := 1; ; attempt++ {
		status, err := c.send(ctx, body)
		if err == nil && isAcknowledged(status) {
			c.acked.Add(1)
			c.inFlight.Add(-1)
			return
		}

		lastErr := err
		if lastErr == nil {
			lastErr = fmt.Errorf("HTTP %d", status)
		}

		if c.opts.Retry.exhausted(attempt) || ctx.Err() != nil {
			c.dropped.Add(1)
			c.inFlight.Add(-1)
			c.logger.Error().
				Err(lastErr).
				Str("task_id", o.TaskID).
				Int("round", o.Round).
				Int("page", o.Page).
				Int("attempts", attempt).
				Msg("Giving up on submission")
			return
		}

		// This response is balanced by the resend scheduled below, so the
		// count does not move and never reads zero while a resend is pending.
		backoff := calculateBackoff(attempt, c.opts.Retry)
		c.logger.Warn().
			Err(lastErr).
			Str("task_id", o.TaskID).
			Int("round", o.Round).
			Int("page", o.Page).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Submission not acknowledged, resending")

		if err := sleep(ctx, backoff); err != nil {
			continue
		}
	}
}

// send performs one POST and returns the status code
func (c *Client) send(ctx context.Context, body []byte) (int, error) {
	c.attempts.Add(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+c.opts.SubmitPath, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// InFlight returns the number of submissions not yet acknowledged or dropped
func (c *Client) InFlight() int {
	return int(c.inFlight.Load())
}

// Wait blocks until every submission has been acknowledged or dropped
func (c *Client) Wait() {
	c.wg.Wait()
}

// Stats is a snapshot of delivery counters
type Stats struct {
	InFlight int
	Acked    int
	Dropped  int
	Attempts int
}

// Stats returns the current delivery counters
func (c *Client) Stats() Stats {
	return Stats{
		InFlight: c.InFlight(),
		Acked:    int(c.acked.Load()),
		Dropped:  int(c.dropped.Load()),
		Attempts: int(c.attempts.Load()),
	}
}

// Quit asks the collection server to shut down the application at appPath.
// This is the fallback used when no host control API is available.
func (c *Client) Quit(ctx context.Context, appPath string) error {
	endpoint := c.serverURL + c.opts.QuitPath + "?path=" + url.QueryEscape(appPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return domain.TransportError("Failed to build quit request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TransportError("Failed to send quit request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.TransportError(fmt.Sprintf("quit request returned HTTP %d", resp.StatusCode), nil)
	}
	return nil
}

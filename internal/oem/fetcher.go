package oem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultFeedURL = "https://nasa-public-data.s3.amazonaws.com/iss-coords/current/ISS_OEM/ISS.OEM_J2K_EPH.xml"

// maxBodyBytes caps the feed response size. The current ISS OEM file is a few
// MB; anything past this limit is a broken or hostile upstream.
const maxBodyBytes = 50 * 1024 * 1024

// FetchError indicates the upstream ephemeris feed could not be retrieved.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching ephemeris from %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves raw OEM XML from the upstream feed.
type Fetcher struct {
	feedURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewFetcher creates a Fetcher for the given feed URL.
func NewFetcher(feedURL string, timeout time.Duration, logger *slog.Logger) *Fetcher {
	if feedURL == "" {
		feedURL = defaultFeedURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		feedURL: feedURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// FeedURL returns the configured feed URL.
func (f *Fetcher) FeedURL() string {
	return f.feedURL
}

// Fetch performs an HTTP GET to retrieve the raw OEM feed. A transient
// failure (network error or 5xx) is retried once before giving up.
// Failures are reported as *FetchError.
func (f *Fetcher) Fetch(ctx context.Context) ([]byte, error) {
	data, err := f.fetchOnce(ctx)
	if err == nil {
		return data, nil
	}
	if ctx.Err() != nil {
		return nil, &FetchError{URL: f.feedURL, Err: err}
	}

	f.logger.Warn("feed fetch failed, retrying once", "url", f.feedURL, "error", err)
	data, err = f.fetchOnce(ctx)
	if err != nil {
		return nil, &FetchError{URL: f.feedURL, Err: err}
	}
	return data, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	// Read one byte past the cap so an exactly-at-limit body still passes.
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response exceeds %d byte limit", maxBodyBytes)
	}

	return body, nil
}

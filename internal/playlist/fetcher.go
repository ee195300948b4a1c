package playlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nybots/iptv-hub/internal/constants"
)

// ErrUpstream is returned when the playlist could not be retrieved from the
// upstream provider, either due to a network error or a non-200 status code.
var ErrUpstream = errors.New("upstream playlist fetch failed")

// maxPlaylistBytes caps the size of a downloaded playlist (64 MiB).
const maxPlaylistBytes = 64 << 20

// browserHeaders are sent with every upstream request. Some providers block
// requests without them.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36",
	"Accept":          "*/*",
	"Accept-Language": "en-US,en;q=0.9",
	"Connection":      "keep-alive",
	"Cache-Control":   "no-cache",
}

// Fetcher downloads and parses M3U playlists.
//
// Transient upstream failures (429, 5xx, network errors) are retried with a
// doubling backoff. A circuit breaker trips after 3 consecutive failed fetch
// attempts and resets after 30 seconds, so a dead provider is not hammered.
type Fetcher struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker

	maxRetries     int
	initialBackoff time.Duration
}

type fetcherOptions struct {
	client         *http.Client
	maxRetries     int
	initialBackoff time.Duration
}

// FetcherOptions represents an optional function to override Fetcher default values.
type FetcherOptions func(*fetcherOptions)

// WithHTTPClient overrides the HTTP client used for upstream requests.
func WithHTTPClient(client *http.Client) FetcherOptions {
	return func(o *fetcherOptions) {
		o.client = client
	}
}

// WithRetries overrides the retry count and initial backoff period.
func WithRetries(maxRetries int, initialBackoff time.Duration) FetcherOptions {
	return func(o *fetcherOptions) {
		o.maxRetries = maxRetries
		o.initialBackoff = initialBackoff
	}
}

// NewFetcher creates a playlist fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration, args ...FetcherOptions) *Fetcher {
	if timeout <= 0 {
		timeout = constants.DefaultFetchTimeout
	}
	opts := fetcherOptions{
		client:         &http.Client{Timeout: timeout},
		maxRetries:     5,
		initialBackoff: 2 * time.Second,
	}
	for _, opt := range args {
		opt(&opts)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "m3u-upstream",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &Fetcher{
		client:         opts.client,
		breaker:        breaker,
		maxRetries:     opts.maxRetries,
		initialBackoff: opts.initialBackoff,
	}
}

// Fetch downloads the playlist at url and parses it into a snapshot.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Snapshot, error) {
	if url == "" {
		return nil, errors.New("no playlist URL configured")
	}

	v, err := f.breaker.Execute(func() (any, error) {
		return f.fetchWithRetry(ctx, url)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker open: %v", ErrUpstream, err)
		}
		return nil, err
	}

	content := v.(string)
	snapshot, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse playlist from %s: %v", url, err)
	}

	slog.Info("Playlist fetched", "url", url, "channels", snapshot.Count())
	return snapshot, nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, url string) (string, error) {
	wait := f.initialBackoff
	var err error
	for attempt := 0; ; attempt++ {
		var content string
		var retryable bool
		content, retryable, err = f.fetchOnce(ctx, url)
		if err == nil {
			return content, nil
		}
		if !retryable || attempt >= f.maxRetries {
			break
		}

		slog.Warn("Retrying playlist fetch after backoff period", "url", url, "attempt", attempt+1, "wait", wait)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return "", err
}

// fetchOnce performs a single HTTP GET. retryable reports whether the failure
// is worth another attempt.
func (f *Fetcher) fetchOnce(ctx context.Context, url string) (content string, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %v", err)
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", ctx.Err() == nil, errors.Join(ErrUpstream, fmt.Errorf("failed to send HTTP request: %v", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", true, errors.Join(ErrUpstream, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	default:
		return "", false, errors.Join(ErrUpstream, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return "", true, errors.Join(ErrUpstream, fmt.Errorf("failed to read response body: %v", err))
	}
	return string(data), false, nil
}

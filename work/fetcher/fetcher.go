package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/avast/retry-go/v4"

	"iptv-catalog/work/client"
	"iptv-catalog/work/config"
	"iptv-catalog/work/logger"
	"iptv-catalog/work/metrics"
	"iptv-catalog/work/utils"
)

// ErrNotFound marks a local source path that does not exist. Not
// retried, and handlers map it to 404.
var ErrNotFound = errors.New("source not found")

// FetchError wraps a source fetch failure so handlers can surface the
// source kind without parsing error text.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s source: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves playlist and guide documents from local paths or
// remote URLs with retry on transient failure.
type Fetcher struct {
	config *config.Config
	client *client.HeaderSettingClient
}

func New(cfg *config.Config, httpClient *client.HeaderSettingClient) *Fetcher {
	return &Fetcher{
		config: cfg,
		client: httpClient,
	}
}

// FetchM3U retrieves a playlist source as text. An empty source falls
// back to the configured default.
func (f *Fetcher) FetchM3U(ctx context.Context, source string) (string, error) {
	if source == "" {
		source = f.config.M3USource
	}
	ctx, cancel := context.WithTimeout(ctx, f.config.M3UFetchTimeout)
	defer cancel()
	return f.fetch(ctx, "m3u", source)
}

// FetchEPG retrieves a guide source as text. An empty source falls back
// to the configured default.
func (f *Fetcher) FetchEPG(ctx context.Context, source string) (string, error) {
	if source == "" {
		source = f.config.EPGSource
	}
	ctx, cancel := context.WithTimeout(ctx, f.config.EPGFetchTimeout)
	defer cancel()
	return f.fetch(ctx, "epg", source)
}

func (f *Fetcher) fetch(ctx context.Context, source, location string) (string, error) {
	if location == "" {
		return "", &FetchError{Source: source, Err: fmt.Errorf("no source configured")}
	}

	if !utils.IsRemoteSource(location) {
		data, err := os.ReadFile(location)
		if err != nil {
			metrics.FetchAttempts.WithLabelValues(source, "error").Inc()
			if os.IsNotExist(err) {
				return "", fmt.Errorf("%w: %s", ErrNotFound, location)
			}
			return "", &FetchError{Source: source, Err: err}
		}
		metrics.FetchAttempts.WithLabelValues(source, "success").Inc()
		return string(data), nil
	}

	body, err := retry.DoWithData(
		func() (string, error) {
			return f.fetchRemote(ctx, location)
		},
		retry.Context(ctx),
		retry.Attempts(uint(f.config.FetchRetries)),
		retry.Delay(f.config.FetchBackoffBase),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			metrics.FetchAttempts.WithLabelValues(source, "retry").Inc()
			logger.Warn("Fetch attempt %d for %s source failed: %v", attempt+1, source, err)
		}),
	)
	if err != nil {
		metrics.FetchAttempts.WithLabelValues(source, "error").Inc()
		logger.Error("Giving up on %s source %s: %v", source, utils.LogURL(f.config, location), err)
		return "", &FetchError{Source: source, Err: err}
	}

	metrics.FetchAttempts.WithLabelValues(source, "success").Inc()
	return body, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, location string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

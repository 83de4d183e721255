package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"iptv-catalog/work/logger"
	"iptv-catalog/work/metrics"
	"iptv-catalog/work/utils"
)

// UpstreamError carries the status and a truncated body preview from an
// upstream response of 400 or higher.
type UpstreamError struct {
	StatusCode int
	Preview    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Preview)
}

const bodyPreviewLimit = 300

// HandleProxy serves one proxied media request: normalize the target
// URL, assemble upstream headers, fetch with retry and DNS fallback,
// then either rewrite an HLS manifest or stream the body through.
func (sp *StreamProxy) HandleProxy(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	target := query.Get("url")
	if target == "" {
		writeProxyError(w, http.StatusBadRequest, "missing url parameter")
		return
	}

	target = NormalizeTargetURL(target)
	target = AppendToken(target, query.Get("token"))

	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" {
		writeProxyError(w, http.StatusBadRequest, "invalid target url")
		return
	}

	logger.Debug("{proxy/stream - HandleProxy} proxying %s", utils.LogURL(sp.Config, target))

	headers := sp.assembleHeaders(query, r.Header.Get("Range"), parsed.Host)

	sp.limiterForHost(parsed.Host).Take()

	resp, err := sp.fetchUpstream(r.Context(), target, headers)
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			metrics.ProxyRequests.WithLabelValues("upstream_error").Inc()
			writeProxyError(w, upstream.StatusCode, upstream.Error())
			return
		}
		if errors.Is(err, context.Canceled) {
			metrics.ProxyRequests.WithLabelValues("client_gone").Inc()
			return
		}
		metrics.ProxyRequests.WithLabelValues("transport_error").Inc()
		logger.Error("Proxy fetch failed for %s: %v", utils.LogURL(sp.Config, target), err)
		writeProxyError(w, http.StatusInternalServerError, "failed to fetch upstream resource")
		return
	}
	defer resp.Body.Close()

	if IsManifest(resp.Header.Get("Content-Type"), target) {
		sp.serveManifest(w, resp)
		return
	}

	sp.servePassthrough(w, r, resp)
}

// assembleHeaders builds the upstream request headers. Query overrides
// win over configured defaults; Referer and Origin fall through to the
// provider rule table when neither is set.
func (sp *StreamProxy) assembleHeaders(query url.Values, rangeHeader, host string) http.Header {
	headers := make(http.Header)

	ua := query.Get("ua")
	if ua == "" {
		ua = sp.Config.ProxyUserAgent
	}
	headers.Set("User-Agent", ua)
	headers.Set("Accept", "*/*")
	if sp.Config.ProxyAcceptLanguage != "" {
		headers.Set("Accept-Language", sp.Config.ProxyAcceptLanguage)
	}
	if rangeHeader != "" {
		headers.Set("Range", rangeHeader)
	}

	referer := query.Get("referer")
	origin := ""
	if referer == "" {
		referer = sp.Config.ProxyReferer
		origin = sp.Config.ProxyOrigin
	}
	if referer == "" {
		referer, origin = sp.Config.RefererForHost(host)
	}
	if referer != "" {
		headers.Set("Referer", referer)
	}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	return headers
}

// fetchUpstream GETs the target with bounded retries on the primary
// client, falling back to the public-DNS client only when no attempt
// ever produced a response. Statuses of 400 and higher are converted to
// UpstreamError.
func (sp *StreamProxy) fetchUpstream(ctx context.Context, target string, headers http.Header) (*http.Response, error) {
	resp, err := sp.fetchWithRetry(ctx, sp.Client, target, headers)
	if err != nil {
		var upstream *UpstreamError
		if errors.As(err, &upstream) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		logger.Warn("Primary fetch exhausted for %s, trying DNS fallback: %v", utils.LogURL(sp.Config, target), err)
		resp, err = sp.fetchWithRetry(ctx, sp.FallbackClient, target, headers)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// fetchWithRetry attempts the fetch up to the configured count with a
// fixed backoff of the retry delay times the attempt number. This is a
// deliberately simpler policy than the source fetcher's exponential
// one.
func (sp *StreamProxy) fetchWithRetry(ctx context.Context, client *http.Client, target string, headers http.Header) (*http.Response, error) {
	var lastErr error

	for attempt := 1; attempt <= sp.Config.ProxyRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header = headers.Clone()

		resp, err := client.Do(req)
		if err == nil {
			if resp.StatusCode >= 400 {
				preview := readPreview(resp.Body)
				resp.Body.Close()
				return nil, &UpstreamError{StatusCode: resp.StatusCode, Preview: preview}
			}
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < sp.Config.ProxyRetries {
			select {
			case <-time.After(sp.Config.ProxyRetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, lastErr
}

func readPreview(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, bodyPreviewLimit))
	return strings.TrimSpace(string(data))
}

// serveManifest buffers and rewrites an HLS manifest so every reference
// re-enters the proxy, then returns it whole.
func (sp *StreamProxy) serveManifest(w http.ResponseWriter, resp *http.Response) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ProxyRequests.WithLabelValues("transport_error").Inc()
		writeProxyError(w, http.StatusInternalServerError, "failed to read upstream manifest")
		return
	}

	// resp.Request.URL is the final URL after redirects, so relative
	// references resolve against the real base directory.
	rewritten := RewriteManifest(string(body), resp.Request.URL, sp.Config.ProxyPrefix())

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.WriteHeader(resp.StatusCode)
	w.Write([]byte(rewritten))

	metrics.ProxyRequests.WithLabelValues("manifest").Inc()
	metrics.ProxyBytes.Add(float64(len(rewritten)))
}

// servePassthrough streams the upstream body without buffering it,
// propagating the headers range requests depend on. The copy loop stops
// as soon as the client disconnects.
func (sp *StreamProxy) servePassthrough(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	if ar := resp.Header.Get("Accept-Ranges"); ar != "" {
		w.Header().Set("Accept-Ranges", ar)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		w.Header().Set("Content-Range", cr)
	}
	w.WriteHeader(resp.StatusCode)

	metrics.ActiveProxyStreams.Inc()
	defer metrics.ActiveProxyStreams.Dec()

	written, err := sp.copyStream(r.Context(), w, resp.Body)
	metrics.ProxyBytes.Add(float64(written))

	if err != nil && !errors.Is(err, context.Canceled) {
		metrics.ProxyRequests.WithLabelValues("stream_error").Inc()
		logger.Debug("{proxy/stream - servePassthrough} copy ended after %d bytes: %v", written, err)
		return
	}
	metrics.ProxyRequests.WithLabelValues("stream").Inc()
}

// copyStream copies in pooled chunks, flushing as it goes and checking
// for client cancellation between chunks.
func (sp *StreamProxy) copyStream(ctx context.Context, w http.ResponseWriter, body io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)

	pooled := sp.BufferPool.Get()
	defer sp.BufferPool.Put(pooled)
	buf := pooled.B

	var written int64

	for {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			wn, writeErr := w.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return written, nil
			}
			return written, readErr
		}
	}
}

func writeProxyError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"detail": %q}`, detail)
}

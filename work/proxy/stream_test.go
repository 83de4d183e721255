package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-catalog/work/config"
)

func testProxy() *StreamProxy {
	cfg := &config.Config{
		BaseURL:             "http://localhost:8080",
		ProxyTimeout:        5 * time.Second,
		ProxyRetries:        2,
		ProxyRetryDelay:     5 * time.Millisecond,
		ProxyUserAgent:      "test-agent",
		ProxyAcceptLanguage: "en-US,en;q=0.9",
		UpstreamRateLimit:   100,
		RefererRules: []config.RefererRule{
			{HostContains: "special.example", Referer: "https://portal.example/", Origin: "https://portal.example"},
		},
	}
	return New(cfg, nil, nil)
}

func proxyRequest(t *testing.T, sp *StreamProxy, target string, extra url.Values, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	q := url.Values{}
	q.Set("url", target)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	req := httptest.NewRequest(http.MethodGet, config.ProxyPath+"?"+q.Encode(), nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	rec := httptest.NewRecorder()
	sp.HandleProxy(rec, req)
	return rec
}

func TestHandleProxyRewritesManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte("#EXTM3U\n#EXTINF:6.0,\nsegment1.ts\n"))
	}))
	defer srv.Close()

	sp := testProxy()
	rec := proxyRequest(t, sp, srv.URL+"/path/index.m3u8", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))

	expected := sp.Config.ProxyPrefix() + "?url=" + url.QueryEscape(srv.URL+"/path/segment1.ts")
	assert.Contains(t, rec.Body.String(), expected)
	assert.NotContains(t, strings.ReplaceAll(rec.Body.String(), expected, ""), "segment1.ts",
		"no unrewritten segment reference remains")
}

func TestHandleProxyPassthroughHeaders(t *testing.T) {
	body := strings.Repeat("x", 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Accept-Ranges", "bytes")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	rec := proxyRequest(t, testProxy(), srv.URL+"/segment.ts", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rec.Header().Get("Accept-Ranges"))
	assert.Equal(t, body, rec.Body.String())
}

func TestHandleProxyForwardsUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("denied by origin"))
	}))
	defer srv.Close()

	rec := proxyRequest(t, testProxy(), srv.URL+"/stream.ts", nil, nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "denied by origin")
}

func TestHandleProxyUpstreamBodyPreviewTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("e", 2000)))
	}))
	defer srv.Close()

	rec := proxyRequest(t, testProxy(), srv.URL+"/stream.ts", nil, nil)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Less(t, rec.Body.Len(), 500)
}

func TestHandleProxyMissingURL(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, config.ProxyPath, nil)
	rec := httptest.NewRecorder()
	testProxy().HandleProxy(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleProxyHeaderAssembly(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	extra := url.Values{}
	extra.Set("ua", "override-agent")
	extra.Set("referer", "https://override.example/")
	header := http.Header{}
	header.Set("Range", "bytes=0-99")

	proxyRequest(t, testProxy(), srv.URL+"/seg.ts", extra, header)

	require.NotNil(t, got)
	assert.Equal(t, "override-agent", got.Get("User-Agent"))
	assert.Equal(t, "https://override.example/", got.Get("Referer"))
	assert.Equal(t, "bytes=0-99", got.Get("Range"))
	assert.Equal(t, "en-US,en;q=0.9", got.Get("Accept-Language"))
}

func TestHandleProxyTokenAppendedToInitialURL(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/x-mpegURL")
		w.Write([]byte("#EXTM3U\nseg.ts\n"))
	}))
	defer srv.Close()

	extra := url.Values{}
	extra.Set("token", "secret")
	rec := proxyRequest(t, testProxy(), srv.URL+"/index.m3u8", extra, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, gotQuery)
	assert.Equal(t, "secret", gotQuery.Get("token"))
	assert.NotContains(t, rec.Body.String(), "token=secret",
		"rewritten references never carry the caller token")
}

func TestAssembleHeadersRefererRuleTable(t *testing.T) {
	sp := testProxy()

	headers := sp.assembleHeaders(url.Values{}, "", "cdn.special.example")
	assert.Equal(t, "https://portal.example/", headers.Get("Referer"))
	assert.Equal(t, "https://portal.example", headers.Get("Origin"))

	plain := sp.assembleHeaders(url.Values{}, "", "other.example")
	assert.Empty(t, plain.Get("Referer"))
}

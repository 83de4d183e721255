package client

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"iptv-catalog/work/config"
)

// HeaderSettingClient wraps http.Client to automatically apply the
// configured default headers on every outbound request.
type HeaderSettingClient struct {
	Client *http.Client
	config *config.Config
}

// NewHeaderSettingClient builds the client used for catalog source
// fetches (M3U/EPG). Timeouts are applied per request via context, so
// the client itself carries none.
func NewHeaderSettingClient(cfg *config.Config) *HeaderSettingClient {
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}

	return &HeaderSettingClient{
		Client: client,
		config: cfg,
	}
}

func (hsc *HeaderSettingClient) Do(req *http.Request) (*http.Response, error) {
	hsc.setHeaders(req)
	return hsc.Client.Do(req)
}

func (hsc *HeaderSettingClient) setHeaders(req *http.Request) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", hsc.config.ProxyUserAgent)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")
}

// NewStreamClient builds the primary client used by the stream proxy:
// redirects followed, outbound proxy chosen per target scheme, and TLS
// verification controlled by configuration.
func NewStreamClient(cfg *config.Config) *http.Client {
	return &http.Client{
		Timeout:   cfg.ProxyTimeout,
		Transport: newStreamTransport(cfg, nil),
	}
}

// NewFallbackClient builds the secondary stream client used when the
// primary fetch never produced a response, typically on persistent DNS
// failure. It resolves names through public resolvers instead of the
// system one, keeping the same proxy and TLS policy.
func NewFallbackClient(cfg *config.Config) *http.Client {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Resolver: &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{Timeout: 5 * time.Second}
				conn, err := d.DialContext(ctx, "udp", "1.1.1.1:53")
				if err == nil {
					return conn, nil
				}
				return d.DialContext(ctx, "udp", "8.8.8.8:53")
			},
		},
	}

	return &http.Client{
		Timeout:   cfg.ProxyTimeout,
		Transport: newStreamTransport(cfg, dialer),
	}
}

func newStreamTransport(cfg *config.Config, dialer *net.Dialer) *http.Transport {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: 10 * time.Second}
	}

	return &http.Transport{
		Proxy:                 proxySelector(cfg),
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: cfg.InsecureSkipTLS},
		MaxIdleConns:          50,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.ProxyTimeout,
	}
}

// proxySelector picks the outbound proxy URL by target scheme. Explicit
// configuration wins over the process environment; the environment is
// only consulted when TrustEnvProxy is set.
func proxySelector(cfg *config.Config) func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		raw := cfg.HTTPProxy
		if req.URL.Scheme == "https" {
			raw = cfg.HTTPSProxy
		}
		if raw != "" {
			return url.Parse(raw)
		}
		if cfg.TrustEnvProxy {
			return http.ProxyFromEnvironment(req)
		}
		return nil, nil
	}
}

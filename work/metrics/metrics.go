package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FetchAttempts counts outbound catalog source fetches. The "source"
// label distinguishes m3u from epg fetches; "result" is success, retry
// or error.
var FetchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_catalog_fetch_attempts",
	Help: "Number of catalog source fetch attempts",
}, []string{"source", "result"})

// CacheRequests counts TTL cache lookups per cache instance. The "cache"
// label is m3u, epg or epg_query; "result" is hit or miss.
var CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_catalog_cache_requests",
	Help: "Number of cache lookups",
}, []string{"cache", "result"})

// ProxyRequests counts stream proxy requests by outcome: manifest,
// stream, stream_error, upstream_error, transport_error or client_gone.
var ProxyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_catalog_proxy_requests",
	Help: "Number of stream proxy requests",
}, []string{"outcome"})

// ProxyBytes tracks the total number of bytes streamed through the
// proxy pass-through path. This metric is a counter and only increases.
var ProxyBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "iptv_catalog_proxy_bytes",
	Help: "Total bytes streamed through the proxy",
})

// ActiveProxyStreams tracks the number of pass-through copies currently
// in flight. Gauge; goes up when a stream starts and down on disconnect.
var ActiveProxyStreams = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "iptv_catalog_active_proxy_streams",
	Help: "Number of active proxied streams",
})

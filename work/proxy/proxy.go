package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/ratelimit"

	"iptv-catalog/work/buffer"
	"iptv-catalog/work/catalog"
	"iptv-catalog/work/client"
	"iptv-catalog/work/config"
	"iptv-catalog/work/logger"
)

// copyChunkSize is the unit the pass-through loop reads and flushes in.
const copyChunkSize = 32 * 1024

// StreamProxy is the application orchestrator: it owns the outbound
// stream clients, paces requests per upstream host, and keeps the
// catalog caches warm in the background through the worker pool.
type StreamProxy struct {
	Config         *config.Config
	Catalog        *catalog.Service
	Client         *http.Client
	FallbackClient *http.Client
	WorkerPool     *ants.Pool
	HostLimiters   *xsync.MapOf[string, ratelimit.Limiter]
	BufferPool     *buffer.Pool
	refreshStop    chan bool
}

// New wires the proxy together. The fallback client resolves through
// public DNS and is only used when the primary client never produced a
// response.
func New(cfg *config.Config, catalogSvc *catalog.Service, workerPool *ants.Pool) *StreamProxy {
	return &StreamProxy{
		Config:         cfg,
		Catalog:        catalogSvc,
		Client:         client.NewStreamClient(cfg),
		FallbackClient: client.NewFallbackClient(cfg),
		WorkerPool:     workerPool,
		HostLimiters:   xsync.NewMapOf[string, ratelimit.Limiter](),
		BufferPool:     buffer.NewPool(copyChunkSize),
		refreshStop:    make(chan bool, 1),
	}
}

// limiterForHost returns the rate limiter pacing requests to one
// upstream host, creating it on first use.
func (sp *StreamProxy) limiterForHost(host string) ratelimit.Limiter {
	if limiter, ok := sp.HostLimiters.Load(host); ok {
		return limiter
	}
	limiter, _ := sp.HostLimiters.LoadOrStore(host, ratelimit.New(sp.Config.UpstreamRateLimit))
	return limiter
}

// StartWarmup prefetches the default playlist and guide sources through
// the worker pool, then keeps them refreshed on the configured
// interval until Stop is called.
func (sp *StreamProxy) StartWarmup() {
	sp.submitWarmJobs()

	if sp.Config.RefreshInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(sp.Config.RefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				sp.submitWarmJobs()
			case <-sp.refreshStop:
				logger.Info("Background refresh stopped")
				return
			}
		}
	}()
}

func (sp *StreamProxy) submitWarmJobs() {
	if err := sp.WorkerPool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sp.Config.M3UFetchTimeout)
		defer cancel()
		if _, err := sp.Catalog.M3U(ctx, "", false); err != nil {
			logger.Warn("Playlist warmup failed: %v", err)
		}
	}); err != nil {
		logger.Warn("Failed to submit playlist warmup job: %v", err)
	}

	if err := sp.WorkerPool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sp.Config.EPGFetchTimeout)
		defer cancel()
		if _, err := sp.Catalog.EPG(ctx, "", false); err != nil {
			logger.Warn("Guide warmup failed: %v", err)
		}
	}); err != nil {
		logger.Warn("Failed to submit guide warmup job: %v", err)
	}
}

// Stop terminates the background refresh loop.
func (sp *StreamProxy) Stop() {
	select {
	case sp.refreshStop <- true:
	default:
	}
}

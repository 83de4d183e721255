package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"iptv-catalog/work/catalog"
	"iptv-catalog/work/client"
	"iptv-catalog/work/config"
	"iptv-catalog/work/database"
	"iptv-catalog/work/fetcher"
	"iptv-catalog/work/handlers"
	"iptv-catalog/work/logger"
	"iptv-catalog/work/middleware"
	"iptv-catalog/work/proxy"
	"iptv-catalog/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)
	if cfg.Debug {
		logger.SetLogLevel("debug")
	}

	// outbound client for source fetches
	httpClient := client.NewHeaderSettingClient(cfg)

	// worker pool for warmup and background refresh
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// ingestion pipeline: fetcher behind TTL caches plus the query cache
	catalogSvc, err := catalog.NewService(cfg, fetcher.New(cfg, httpClient))
	if err != nil {
		log.Fatalf("Failed to create catalog service: %v", err)
	}

	// per-user playlist store for the /me routes
	store, err := database.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open playlist database: %v", err)
	}
	defer store.Close()

	// stream proxy instance
	proxyInstance := proxy.New(cfg, catalogSvc, workerPool)

	// prefetch sources and keep them refreshed
	proxyInstance.StartWarmup()
	defer proxyInstance.Stop()

	// Setup HTTP routes
	router := mux.NewRouter()
	router.Use(middleware.Gzip)

	handlers.New(cfg, catalogSvc, proxyInstance, store).Register(router)

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("Starting IPTV Catalog %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - M3U Source: %s", utils.LogURL(cfg, cfg.M3USource))
	logger.Info("  - EPG Source: %s", utils.LogURL(cfg, cfg.EPGSource))
	logger.Info("  - M3U TTL: %s", cfg.M3UTTL)
	logger.Info("  - EPG TTL: %s", cfg.EPGTTL)
	logger.Info("  - Query Cache TTL: %s", cfg.QueryCacheTTL)
	logger.Info("  - Refresh Interval: %s", cfg.RefreshInterval)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - TLS Verify Skipped: %v", cfg.InsecureSkipTLS)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// fire us up
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}

package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Config holds all application configuration for the catalog and stream
// proxy core: source locations, cache TTLs, fetch retry policy, and the
// outbound transport settings used by the stream proxy.
type Config struct {
	BaseURL    string // Base URL of this server, used when rewriting manifest URIs
	ListenPort int    // HTTP listen port

	M3USource    string // Default M3U playlist source (URL or local path)
	EPGSource    string // Default XMLTV EPG source (URL or local path)
	DatabasePath string // SQLite database holding per-user active playlists

	M3UTTL        time.Duration // Freshness window for the cached M3U text
	EPGTTL        time.Duration // Freshness window for the cached EPG snapshot
	QueryCacheTTL time.Duration // Freshness window for filtered EPG responses

	FetchRetries     int           // Attempts per remote catalog fetch
	FetchBackoffBase time.Duration // Base delay for exponential backoff between attempts
	M3UFetchTimeout  time.Duration // Per-request timeout for M3U fetches
	EPGFetchTimeout  time.Duration // Per-request timeout for EPG fetches

	ProxyTimeout        time.Duration // Per-request timeout for proxied stream fetches
	ProxyRetries        int           // Attempts per proxied fetch (fixed backoff)
	ProxyRetryDelay     time.Duration // Backoff unit between proxy attempts (delay * attempt)
	ProxyUserAgent      string        // Default User-Agent for proxied fetches
	ProxyReferer        string        // Default Referer for proxied fetches
	ProxyOrigin         string        // Default Origin for proxied fetches
	ProxyAcceptLanguage string        // Default Accept-Language for proxied fetches

	InsecureSkipTLS bool   // Disable TLS certificate verification on proxied fetches
	HTTPProxy       string // Outbound proxy for plain-HTTP targets
	HTTPSProxy      string // Outbound proxy for HTTPS targets
	TrustEnvProxy   bool   // Fall back to HTTP_PROXY/HTTPS_PROXY environment settings

	RefererRules []RefererRule // Provider-specific referer inference table

	UpstreamRateLimit int           // Requests per second allowed per upstream host
	RefreshInterval   time.Duration // Background catalog warmup interval (0 disables)
	WorkerThreads     int           // Worker pool size for background refresh jobs

	Debug         bool
	ObfuscateUrls bool
	LogLevel      string
}

// RefererRule maps a substring of an upstream host to the Referer/Origin
// pair that provider is known to require. Rules are checked in order and
// the first match wins.
type RefererRule struct {
	HostContains string `json:"hostContains"`
	Referer      string `json:"referer"`
	Origin       string `json:"origin,omitempty"`
}

// ConfigFile is the JSON on-disk form of Config. Duration fields are
// strings (e.g. "300s", "500ms") parsed into time.Duration on load.
type ConfigFile struct {
	BaseURL    string `json:"baseURL"`
	ListenPort int    `json:"listenPort"`

	M3USource    string `json:"m3uSource"`
	EPGSource    string `json:"epgSource"`
	DatabasePath string `json:"databasePath"`

	M3UTTL        string `json:"m3uTTL"`
	EPGTTL        string `json:"epgTTL"`
	QueryCacheTTL string `json:"queryCacheTTL"`

	FetchRetries     int    `json:"fetchRetries"`
	FetchBackoffBase string `json:"fetchBackoffBase"`
	M3UFetchTimeout  string `json:"m3uFetchTimeout"`
	EPGFetchTimeout  string `json:"epgFetchTimeout"`

	ProxyTimeout        string `json:"proxyTimeout"`
	ProxyRetries        int    `json:"proxyRetries"`
	ProxyRetryDelay     string `json:"proxyRetryDelay"`
	ProxyUserAgent      string `json:"proxyUserAgent"`
	ProxyReferer        string `json:"proxyReferer"`
	ProxyOrigin         string `json:"proxyOrigin"`
	ProxyAcceptLanguage string `json:"proxyAcceptLanguage"`

	InsecureSkipTLS bool   `json:"insecureSkipTLS"`
	HTTPProxy       string `json:"httpProxy"`
	HTTPSProxy      string `json:"httpsProxy"`
	TrustEnvProxy   bool   `json:"trustEnvProxy"`

	RefererRules []RefererRule `json:"refererRules"`

	UpstreamRateLimit int    `json:"upstreamRateLimit"`
	RefreshInterval   string `json:"refreshInterval"`
	WorkerThreads     int    `json:"workerThreads"`

	Debug         bool   `json:"debug"`
	ObfuscateUrls bool   `json:"obfuscateUrls"`
	LogLevel      string `json:"logLevel"`
}

var (
	configCache *Config
	configMutex sync.RWMutex
)

// LoadConfig loads the configuration from file or returns the cached
// instance. Falls back to defaults when the file is missing or invalid,
// then validates every field so the caller never sees a zero value where
// the pipeline expects a working default.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("CATALOG_CONFIG")
	if configPath == "" {
		configPath = "/settings/config.json"
	}

	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = &Config{}
	}

	applyEnvOverrides(config)
	validateAndSetDefaults(config)

	configCache = config
	return config
}

// ClearConfigCache resets the cached config, forcing a reload on the
// next LoadConfig call.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration
// strings. Empty duration strings are left zero and filled in later by
// validateAndSetDefaults.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:             cf.BaseURL,
		ListenPort:          cf.ListenPort,
		M3USource:           cf.M3USource,
		EPGSource:           cf.EPGSource,
		DatabasePath:        cf.DatabasePath,
		FetchRetries:        cf.FetchRetries,
		ProxyRetries:        cf.ProxyRetries,
		ProxyUserAgent:      cf.ProxyUserAgent,
		ProxyReferer:        cf.ProxyReferer,
		ProxyOrigin:         cf.ProxyOrigin,
		ProxyAcceptLanguage: cf.ProxyAcceptLanguage,
		InsecureSkipTLS:     cf.InsecureSkipTLS,
		HTTPProxy:           cf.HTTPProxy,
		HTTPSProxy:          cf.HTTPSProxy,
		TrustEnvProxy:       cf.TrustEnvProxy,
		RefererRules:        cf.RefererRules,
		UpstreamRateLimit:   cf.UpstreamRateLimit,
		WorkerThreads:       cf.WorkerThreads,
		Debug:               cf.Debug,
		ObfuscateUrls:       cf.ObfuscateUrls,
		LogLevel:            cf.LogLevel,
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"m3uTTL", cf.M3UTTL, &config.M3UTTL},
		{"epgTTL", cf.EPGTTL, &config.EPGTTL},
		{"queryCacheTTL", cf.QueryCacheTTL, &config.QueryCacheTTL},
		{"fetchBackoffBase", cf.FetchBackoffBase, &config.FetchBackoffBase},
		{"m3uFetchTimeout", cf.M3UFetchTimeout, &config.M3UFetchTimeout},
		{"epgFetchTimeout", cf.EPGFetchTimeout, &config.EPGFetchTimeout},
		{"proxyTimeout", cf.ProxyTimeout, &config.ProxyTimeout},
		{"proxyRetryDelay", cf.ProxyRetryDelay, &config.ProxyRetryDelay},
		{"refreshInterval", cf.RefreshInterval, &config.RefreshInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return config, nil
}

// applyEnvOverrides lets deploy environments point at their own sources
// without rewriting the config file.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("M3U_SOURCE"); v != "" {
		config.M3USource = v
	}
	if v := os.Getenv("EPG_SOURCE"); v != "" {
		config.EPGSource = v
	}
}

// validateAndSetDefaults ensures all config values are usable, filling
// in defaults for missing or invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.ListenPort <= 0 {
		config.ListenPort = 8080
	}
	if config.M3USource == "" {
		config.M3USource = "sample.m3u"
	}
	if config.EPGSource == "" {
		config.EPGSource = "sample.xml"
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "/settings/catalog.db"
	}
	if config.M3UTTL <= 0 {
		config.M3UTTL = 300 * time.Second
	}
	if config.EPGTTL <= 0 {
		config.EPGTTL = 300 * time.Second
	}
	if config.QueryCacheTTL <= 0 {
		config.QueryCacheTTL = 60 * time.Second
	}
	if config.FetchRetries <= 0 {
		config.FetchRetries = 3
	}
	if config.FetchBackoffBase <= 0 {
		config.FetchBackoffBase = 500 * time.Millisecond
	}
	if config.M3UFetchTimeout <= 0 {
		config.M3UFetchTimeout = 20 * time.Second
	}
	if config.EPGFetchTimeout <= 0 {
		config.EPGFetchTimeout = 30 * time.Second
	}
	if config.ProxyTimeout <= 0 {
		config.ProxyTimeout = 20 * time.Second
	}
	if config.ProxyRetries <= 0 {
		config.ProxyRetries = 3
	}
	if config.ProxyRetryDelay <= 0 {
		config.ProxyRetryDelay = 500 * time.Millisecond
	}
	if config.ProxyUserAgent == "" {
		config.ProxyUserAgent = "VLC/3.0.18 LibVLC/3.0.18"
	}
	if config.ProxyAcceptLanguage == "" {
		config.ProxyAcceptLanguage = "en-US,en;q=0.9"
	}
	if config.UpstreamRateLimit <= 0 {
		config.UpstreamRateLimit = 10
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 4
	}
	if config.LogLevel == "" {
		config.LogLevel = "INFO"
	}
	// ProxyReferer, ProxyOrigin, HTTPProxy, HTTPSProxy may remain empty
}

// ProxyPath is the route rewritten manifest URIs are pointed at.
const ProxyPath = "/catalog/proxy"

// ProxyPrefix returns the absolute proxy endpoint used when rewriting
// manifest lines.
func (c *Config) ProxyPrefix() string {
	return strings.TrimRight(c.BaseURL, "/") + ProxyPath
}

// RefererForHost walks the provider rule table and returns the first
// matching Referer/Origin pair. Empty strings when no rule matches.
func (c *Config) RefererForHost(host string) (referer, origin string) {
	lowered := strings.ToLower(host)
	for _, rule := range c.RefererRules {
		if rule.HostContains != "" && strings.Contains(lowered, strings.ToLower(rule.HostContains)) {
			return rule.Referer, rule.Origin
		}
	}
	return "", ""
}

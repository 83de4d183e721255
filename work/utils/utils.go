package utils

import (
	"net/url"
	"strings"

	"iptv-catalog/work/config"
)

// LogURL returns either the original URL or an obfuscated version for
// logging, depending on configuration. Playlist and stream URLs often
// embed access tokens, so logs default to the obfuscated form when the
// operator asks for it.
func LogURL(cfg *config.Config, url string) string {
	if cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// ObfuscateURL masks the path, query and fragment of a URL, keeping only
// scheme and host.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

// NormalizeKey lowercases and trims an identifier for case-insensitive
// catalog lookups. Raw keys are never used for map access directly.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsRemoteSource reports whether a configured source is a URL rather
// than a local file path.
func IsRemoteSource(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

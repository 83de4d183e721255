package proxy

import (
	"net/url"
	"strings"
)

// IsManifest reports whether a response should be rewritten as an HLS
// manifest, by content type or target extension.
func IsManifest(contentType, targetURL string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "application/vnd.apple.mpegurl") || strings.Contains(ct, "application/x-mpegurl") {
		return true
	}
	if idx := strings.IndexAny(targetURL, "?#"); idx != -1 {
		targetURL = targetURL[:idx]
	}
	return strings.HasSuffix(strings.ToLower(targetURL), ".m3u8")
}

// RewriteManifest rewrites an HLS manifest line by line so every
// referenced resource re-enters the proxy. Segment and nested-playlist
// lines are resolved against base (the final URL after redirects) and
// replaced with proxyPrefix?url=<escaped>; EXT-X-KEY directives get the
// same treatment applied to their URI attribute only. Comments and
// blank lines pass through unchanged.
func RewriteManifest(body string, base *url.URL, proxyPrefix string) string {
	lines := strings.Split(body, "\n")
	out := make([]string, 0, len(lines))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			out = append(out, line)
		case strings.HasPrefix(trimmed, "#EXT-X-KEY") || strings.HasPrefix(trimmed, "#EXT-X-SESSION-KEY"):
			out = append(out, rewriteKeyLine(line, base, proxyPrefix))
		case strings.HasPrefix(trimmed, "#"):
			out = append(out, line)
		default:
			out = append(out, proxyReference(trimmed, base, proxyPrefix))
		}
	}

	return strings.Join(out, "\n")
}

// rewriteKeyLine replaces the URI="..." value inside an encryption key
// directive, leaving the rest of the line untouched.
func rewriteKeyLine(line string, base *url.URL, proxyPrefix string) string {
	const marker = `URI="`
	start := strings.Index(line, marker)
	if start == -1 {
		return line
	}
	start += len(marker)
	end := strings.Index(line[start:], `"`)
	if end == -1 {
		return line
	}
	end += start

	rewritten := proxyReference(line[start:end], base, proxyPrefix)
	return line[:start] + rewritten + line[end:]
}

// proxyReference resolves ref to an absolute URL against base and
// points it back at the proxy endpoint.
func proxyReference(ref string, base *url.URL, proxyPrefix string) string {
	return proxyPrefix + "?url=" + url.QueryEscape(resolveReference(ref, base))
}

func resolveReference(ref string, base *url.URL) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if parsed.IsAbs() || base == nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

// NormalizeTargetURL undoes one layer of accidental double percent
// encoding. The heuristic looks for an encoded scheme separator or
// encoded slashes, decodes once, and keeps the result only if it looks
// like a URL.
func NormalizeTargetURL(raw string) string {
	lower := strings.ToLower(raw)
	if !strings.Contains(lower, "%3a%2f%2f") && !strings.Contains(lower, "%2f") {
		return raw
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	if !strings.Contains(decoded, "://") {
		return raw
	}
	return decoded
}

// AppendToken appends a token query parameter to the initial target
// URL. Rewritten nested references never carry it.
func AppendToken(target, token string) string {
	if token == "" {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + "token=" + url.QueryEscape(token)
}

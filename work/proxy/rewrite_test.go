package proxy

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const proxyPrefix = "http://localhost:8080/catalog/proxy"

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestRewriteManifestSegments(t *testing.T) {
	base := mustParse(t, "https://cdn.example/path/index.m3u8")
	manifest := "#EXTM3U\n#EXT-X-TARGETDURATION:6\n#EXTINF:6.0,\nsegment1.ts\n"

	rewritten := RewriteManifest(manifest, base, proxyPrefix)
	lines := strings.Split(rewritten, "\n")
	assert.Equal(t, proxyPrefix+"?url=https%3A%2F%2Fcdn.example%2Fpath%2Fsegment1.ts", lines[3])
	assert.Equal(t, "#EXTM3U", lines[0], "comments unchanged")
	assert.Equal(t, "#EXTINF:6.0,", lines[2])
}

func TestRewriteManifestKeyURI(t *testing.T) {
	base := mustParse(t, "https://cdn.example/path/index.m3u8")
	line := `#EXT-X-KEY:METHOD=AES-128,URI="key.bin",IV=0x1234`

	rewritten := RewriteManifest(line, base, proxyPrefix)
	assert.Equal(t,
		`#EXT-X-KEY:METHOD=AES-128,URI="`+proxyPrefix+`?url=https%3A%2F%2Fcdn.example%2Fpath%2Fkey.bin",IV=0x1234`,
		rewritten)
}

func TestRewriteManifestAbsoluteReference(t *testing.T) {
	base := mustParse(t, "https://cdn.example/path/index.m3u8")
	rewritten := RewriteManifest("https://other.example/live/seg.ts", base, proxyPrefix)
	assert.Equal(t, proxyPrefix+"?url="+url.QueryEscape("https://other.example/live/seg.ts"), rewritten)
}

func TestRewriteManifestBlankLines(t *testing.T) {
	base := mustParse(t, "https://cdn.example/index.m3u8")
	assert.Equal(t, "#EXTM3U\n\n", RewriteManifest("#EXTM3U\n\n", base, proxyPrefix))
}

func TestNormalizeTargetURL(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "https://cdn.example/stream.m3u8", "https://cdn.example/stream.m3u8"},
		{"double encoded", "https%3A%2F%2Fcdn.example%2Fstream.m3u8", "https://cdn.example/stream.m3u8"},
		{"lowercase encoded", "https%3a%2f%2fcdn.example%2fstream.m3u8", "https://cdn.example/stream.m3u8"},
		{"encoded slash only", "https://cdn.example/a%2Fb/stream.m3u8", "https://cdn.example/a/b/stream.m3u8"},
		{"not a url after decode", "100%2f100", "100%2f100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTargetURL(tt.input))
		})
	}
}

func TestAppendToken(t *testing.T) {
	assert.Equal(t, "http://u/x?token=abc", AppendToken("http://u/x", "abc"))
	assert.Equal(t, "http://u/x?a=1&token=abc", AppendToken("http://u/x?a=1", "abc"))
	assert.Equal(t, "http://u/x", AppendToken("http://u/x", ""))
	assert.Equal(t, "http://u/x?token=a%2Fb", AppendToken("http://u/x", "a/b"))
}

func TestIsManifest(t *testing.T) {
	assert.True(t, IsManifest("application/vnd.apple.mpegurl", "http://u/stream"))
	assert.True(t, IsManifest("application/x-mpegURL", "http://u/stream"))
	assert.True(t, IsManifest("video/mp2t", "http://u/index.m3u8"))
	assert.True(t, IsManifest("", "http://u/index.M3U8?token=1"))
	assert.False(t, IsManifest("video/mp2t", "http://u/segment.ts"))
	assert.False(t, IsManifest("application/octet-stream", "http://u/key.bin"))
}

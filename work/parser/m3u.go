package parser

import (
	"bufio"
	"path"
	"strings"

	"github.com/grafana/regexp"
	"github.com/grafov/m3u8"

	"iptv-catalog/work/logger"
)

// Channel is one playlist entry in source order.
type Channel struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	TvgID string `json:"tvg_id,omitempty"`
	Group string `json:"group,omitempty"`
	Logo  string `json:"logo,omitempty"`
}

var extinfAttrRegex = regexp.MustCompile(`([\w-]+)="(.*?)"`)

// ParseM3U converts playlist text into channel records. It never fails:
// malformed lines are skipped and an EXTINF entry with no following URL
// line yields an empty URL. Master playlists without EXTINF metadata
// fall back to a structured decode of their variant streams.
func ParseM3U(content string) []Channel {
	if !strings.Contains(content, "#EXTINF") {
		if variants := parseMasterPlaylist(content); len(variants) > 0 {
			return variants
		}
	}

	var channels []Channel
	var pending *Channel

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#EXTINF") {
			if pending != nil {
				channels = append(channels, *pending)
			}
			pending = parseEXTINF(line)
			continue
		}

		if strings.HasPrefix(line, "#") {
			continue
		}

		if pending != nil {
			pending.URL = line
			channels = append(channels, *pending)
			pending = nil
		}
	}

	if pending != nil {
		channels = append(channels, *pending)
	}

	logger.Debug("{parser/m3u - ParseM3U} parsed %d channels", len(channels))
	return channels
}

// parseEXTINF extracts the attribute pairs and display name from one
// EXTINF header line. The display name is everything after the final
// comma.
func parseEXTINF(line string) *Channel {
	ch := &Channel{}

	for _, match := range extinfAttrRegex.FindAllStringSubmatch(line, -1) {
		switch match[1] {
		case "tvg-id":
			ch.TvgID = match[2]
		case "group-title":
			ch.Group = match[2]
		case "tvg-logo":
			ch.Logo = match[2]
		}
	}

	if idx := strings.LastIndex(line, ","); idx != -1 && idx+1 < len(line) {
		ch.Name = strings.TrimSpace(line[idx+1:])
	}

	return ch
}

// parseMasterPlaylist decodes HLS master playlists, which carry their
// stream list as EXT-X-STREAM-INF variants rather than EXTINF entries.
func parseMasterPlaylist(content string) []Channel {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(content), false)
	if err != nil || listType != m3u8.MASTER {
		return nil
	}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return nil
	}

	var channels []Channel
	for _, variant := range master.Variants {
		if variant == nil || variant.URI == "" {
			continue
		}
		name := variant.Name
		if name == "" {
			name = strings.TrimSuffix(path.Base(variant.URI), path.Ext(variant.URI))
		}
		channels = append(channels, Channel{
			Name: name,
			URL:  variant.URI,
		})
	}
	return channels
}

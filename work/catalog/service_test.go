package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-catalog/work/client"
	"iptv-catalog/work/config"
	"iptv-catalog/work/fetcher"
	"iptv-catalog/work/parser"
)

func TestFilterProgrammesOverlap(t *testing.T) {
	progs := []parser.Programme{
		{Title: "Show", Start: "2025-01-01T08:00:00Z", Stop: "2025-01-01T09:00:00Z"},
	}

	kept := filterProgrammes(progs, EPGQuery{Start: "2025-01-01T08:30:00Z"})
	require.Len(t, kept, 1, "stop after window start keeps the programme")

	dropped := filterProgrammes(progs, EPGQuery{Start: "2025-01-01T09:00:00Z"})
	assert.Empty(t, dropped, "stop equal to window start drops it")

	droppedEnd := filterProgrammes(progs, EPGQuery{End: "2025-01-01T08:00:00Z"})
	assert.Empty(t, droppedEnd, "start equal to window end drops it")

	keptEnd := filterProgrammes(progs, EPGQuery{End: "2025-01-01T08:00:01Z"})
	assert.Len(t, keptEnd, 1)
}

func TestFilterProgrammesDropsUntimedWhenWindowed(t *testing.T) {
	progs := []parser.Programme{
		{Title: "NoStart", Start: "", Stop: "2025-01-01T09:00:00Z"},
		{Title: "NoStop", Start: "2025-01-01T08:00:00Z", Stop: ""},
		{Title: "Timed", Start: "2025-01-01T08:00:00Z", Stop: "2025-01-01T09:00:00Z"},
	}

	endOnly := filterProgrammes(progs, EPGQuery{End: "2025-01-01T10:00:00Z"})
	require.Len(t, endOnly, 1, "entries missing a timestamp are dropped once a boundary applies")
	assert.Equal(t, "Timed", endOnly[0].Title)

	startOnly := filterProgrammes(progs, EPGQuery{Start: "2025-01-01T07:00:00Z"})
	require.Len(t, startOnly, 1)
	assert.Equal(t, "Timed", startOnly[0].Title)

	unwindowed := filterProgrammes(progs, EPGQuery{})
	assert.Len(t, unwindowed, 3, "no window keeps everything")
}

func TestFilterProgrammesPagination(t *testing.T) {
	progs := []parser.Programme{
		{Title: "A", Start: "2025-01-01T08:00:00Z", Stop: "2025-01-01T09:00:00Z"},
		{Title: "B", Start: "2025-01-01T09:00:00Z", Stop: "2025-01-01T10:00:00Z"},
		{Title: "C", Start: "2025-01-01T10:00:00Z", Stop: "2025-01-01T11:00:00Z"},
	}

	page := filterProgrammes(progs, EPGQuery{Offset: 1, Limit: 1})
	require.Len(t, page, 1)
	assert.Equal(t, "B", page[0].Title)

	past := filterProgrammes(progs, EPGQuery{Offset: 5})
	assert.Empty(t, past)

	all := filterProgrammes(progs, EPGQuery{})
	assert.Len(t, all, 3)
}

const testXMLTV = `<tv>
  <channel id="c1"><display-name>One</display-name></channel>
  <channel id="c2"><display-name>Two</display-name></channel>
  <programme channel="c1" start="20250101080000 +0000" stop="20250101090000 +0000"><title>Morning</title></programme>
  <programme channel="c2" start="20250101120000 +0000" stop="20250101130000 +0000"><title>Noon</title></programme>
</tv>`

const testM3U = `#EXTM3U
#EXTINF:-1 tvg-id="c1",One
http://stream.example/one
`

func newTestService(t *testing.T) *Service {
	t.Helper()

	dir := t.TempDir()
	m3uPath := filepath.Join(dir, "playlist.m3u")
	epgPath := filepath.Join(dir, "guide.xml")
	require.NoError(t, os.WriteFile(m3uPath, []byte(testM3U), 0o644))
	require.NoError(t, os.WriteFile(epgPath, []byte(testXMLTV), 0o644))

	cfg := &config.Config{
		M3USource:       m3uPath,
		EPGSource:       epgPath,
		M3UTTL:          time.Minute,
		EPGTTL:          time.Minute,
		QueryCacheTTL:   time.Minute,
		FetchRetries:    1,
		M3UFetchTimeout: 5 * time.Second,
		EPGFetchTimeout: 5 * time.Second,
	}

	svc, err := NewService(cfg, fetcher.New(cfg, client.NewHeaderSettingClient(cfg)))
	require.NoError(t, err)
	return svc
}

func TestQueryEPGETagStability(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	q := EPGQuery{Start: "2025-01-01T08:30:00Z"}

	first, err := svc.QueryEPG(ctx, "", false, q)
	require.NoError(t, err)
	second, err := svc.QueryEPG(ctx, "", false, q)
	require.NoError(t, err)
	assert.Equal(t, first.ETag, second.ETag)
	assert.Equal(t, first.Body, second.Body)

	other, err := svc.QueryEPG(ctx, "", false, EPGQuery{Start: "2025-01-01T12:30:00Z"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ETag, other.ETag)
}

func TestQueryEPGUnknownChannel(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.QueryEPG(context.Background(), "", false, EPGQuery{Channel: "missing"})
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestFindChannelProgrammeKeyCaseMismatch(t *testing.T) {
	data := &parser.EPGData{
		Channels: map[string]parser.EPGChannel{"BBC1": {ID: "BBC1", Name: "BBC One"}},
		Programmes: map[string][]parser.Programme{
			"bbc1": {{Title: "News", Start: "2025-01-01T07:00:00Z", Stop: "2025-01-01T08:00:00Z"}},
		},
	}

	ch, progs, ok := findChannel(data, "BBC1")
	require.True(t, ok)
	assert.Equal(t, "BBC1", ch.ID)
	require.Len(t, progs, 1, "programme list keyed in a different case must still resolve")
	assert.Equal(t, "News", progs[0].Title)
}

func TestQueryEPGChannelCaseInsensitive(t *testing.T) {
	svc := newTestService(t)

	entry, err := svc.QueryEPG(context.Background(), "", false, EPGQuery{Channel: "C1"})
	require.NoError(t, err)
	assert.Contains(t, string(entry.Body), "Morning")
}

func TestChannelsParsesPlaylist(t *testing.T) {
	svc := newTestService(t)

	channels, err := svc.Channels(context.Background(), "", false)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "c1", channels[0].TvgID)
}

func TestM3UETagStable(t *testing.T) {
	assert.Equal(t, M3UETag("abc"), M3UETag("abc"))
	assert.NotEqual(t, M3UETag("abc"), M3UETag("abd"))
}

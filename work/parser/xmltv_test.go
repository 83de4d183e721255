package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseXMLTVTime(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"with zone", "20250101080000 +0000", "2025-01-01T08:00:00Z", true},
		{"bare assumes utc", "20250101080000", "2025-01-01T08:00:00Z", true},
		{"offset normalized", "20250101090000 +0100", "2025-01-01T08:00:00Z", true},
		{"empty", "", "", false},
		{"garbage", "not-a-time", "", false},
		{"truncated", "202501", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseXMLTVTime(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

const sampleXMLTV = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="BBC1">
    <display-name>BBC One HD</display-name>
    <display-name>BBC1</display-name>
    <icon src="http://logo.example/bbc1.png"/>
  </channel>
  <channel id="no-name"/>
  <channel>
    <display-name>Missing ID</display-name>
  </channel>
  <programme channel="BBC1" start="20250101080000 +0000" stop="20250101100000 +0000">
    <title>Film</title>
    <desc>A film.</desc>
  </programme>
  <programme channel="BBC1" start="20250101070000 +0000" stop="20250101080000 +0000">
    <title>News</title>
  </programme>
  <programme start="20250101070000 +0000" stop="20250101080000 +0000">
    <title>Orphan</title>
  </programme>
</tv>`

func TestParseXMLTVNormalizes(t *testing.T) {
	data, err := ParseXMLTV(sampleXMLTV)
	require.NoError(t, err)

	require.Contains(t, data.Channels, "BBC1")
	bbc := data.Channels["BBC1"]
	assert.Equal(t, "BBC One HD", bbc.Name, "first display-name wins")
	assert.Equal(t, "http://logo.example/bbc1.png", bbc.Icon)

	assert.Contains(t, data.Channels, "no-name")
	assert.Len(t, data.Channels, 2, "channel without id is skipped")

	require.Len(t, data.Programmes["BBC1"], 2, "programme without channel ref is skipped")
}

func TestParseXMLTVSortsProgrammesAscending(t *testing.T) {
	data, err := ParseXMLTV(sampleXMLTV)
	require.NoError(t, err)

	progs := data.Programmes["BBC1"]
	require.Len(t, progs, 2)
	assert.Equal(t, "News", progs[0].Title)
	assert.Equal(t, "Film", progs[1].Title)
	for i := 1; i < len(progs); i++ {
		assert.LessOrEqual(t, progs[i-1].Start, progs[i].Start)
	}
}

func TestParseXMLTVUnparseableTimestampKeptEmpty(t *testing.T) {
	data, err := ParseXMLTV(`<tv>
  <channel id="c1"><display-name>C1</display-name></channel>
  <programme channel="c1" start="bogus" stop="20250101080000">
    <title>Odd</title>
  </programme>
</tv>`)
	require.NoError(t, err)

	progs := data.Programmes["c1"]
	require.Len(t, progs, 1)
	assert.Equal(t, "", progs[0].Start)
	assert.Equal(t, "2025-01-01T08:00:00Z", progs[0].Stop)
}

func TestParseXMLTVDuplicateChannelLastWins(t *testing.T) {
	data, err := ParseXMLTV(`<tv>
  <channel id="c1"><display-name>Old</display-name></channel>
  <channel id="c1"><display-name>New</display-name></channel>
</tv>`)
	require.NoError(t, err)
	assert.Equal(t, "New", data.Channels["c1"].Name)
}

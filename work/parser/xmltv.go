package parser

import (
	"encoding/xml"
	"sort"
	"strings"
	"time"

	"iptv-catalog/work/logger"
)

// EPGChannel is one guide channel keyed by its source identifier.
type EPGChannel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// Programme is one guide entry. Start and Stop are ISO-8601 UTC
// strings; either may be empty when the source timestamp was
// unparseable.
type Programme struct {
	Title string `json:"title"`
	Desc  string `json:"desc,omitempty"`
	Start string `json:"start"`
	Stop  string `json:"stop"`
}

// EPGData is the normalized guide: channels keyed by identifier and
// programme lists keyed by channel identifier, each list sorted
// ascending by start.
type EPGData struct {
	Channels   map[string]EPGChannel  `json:"channels"`
	Programmes map[string][]Programme `json:"programs"`
}

type xmltvDoc struct {
	XMLName    xml.Name         `xml:"tv"`
	Channels   []xmltvChannel   `xml:"channel"`
	Programmes []xmltvProgramme `xml:"programme"`
}

type xmltvChannel struct {
	ID           string      `xml:"id,attr"`
	DisplayNames []string    `xml:"display-name"`
	Icons        []xmltvIcon `xml:"icon"`
}

type xmltvIcon struct {
	Src string `xml:"src,attr"`
}

type xmltvProgramme struct {
	Channel string   `xml:"channel,attr"`
	Start   string   `xml:"start,attr"`
	Stop    string   `xml:"stop,attr"`
	Titles  []string `xml:"title"`
	Descs   []string `xml:"desc"`
}

// ParseXMLTVTime converts a guide timestamp to an ISO-8601 UTC string.
// Accepted forms are "20060102150405 -0700" and the bare variant, which
// is treated as UTC. Returns false when the value fits neither form.
func ParseXMLTVTime(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	for _, layout := range []string{"20060102150405 -0700", "20060102150405"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format(time.RFC3339), true
		}
	}
	return "", false
}

// ParseXMLTV normalizes guide XML into canonical channel and programme
// maps. Entries missing their identifying attribute are skipped;
// malformed fields within an entry are omitted rather than failing the
// parse. A duplicated channel identifier keeps the last occurrence.
func ParseXMLTV(content string) (*EPGData, error) {
	decoder := xml.NewDecoder(strings.NewReader(content))
	decoder.Strict = false

	var doc xmltvDoc
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}

	data := &EPGData{
		Channels:   make(map[string]EPGChannel, len(doc.Channels)),
		Programmes: make(map[string][]Programme),
	}

	for _, ch := range doc.Channels {
		if ch.ID == "" {
			continue
		}
		entry := EPGChannel{ID: ch.ID}
		if len(ch.DisplayNames) > 0 {
			entry.Name = strings.TrimSpace(ch.DisplayNames[0])
		}
		if len(ch.Icons) > 0 {
			entry.Icon = ch.Icons[0].Src
		}
		data.Channels[ch.ID] = entry
	}

	skipped := 0
	for _, prog := range doc.Programmes {
		if prog.Channel == "" {
			skipped++
			continue
		}
		entry := Programme{}
		if len(prog.Titles) > 0 {
			entry.Title = strings.TrimSpace(prog.Titles[0])
		}
		if len(prog.Descs) > 0 {
			entry.Desc = strings.TrimSpace(prog.Descs[0])
		}
		entry.Start, _ = ParseXMLTVTime(prog.Start)
		entry.Stop, _ = ParseXMLTVTime(prog.Stop)
		data.Programmes[prog.Channel] = append(data.Programmes[prog.Channel], entry)
	}

	for id := range data.Programmes {
		progs := data.Programmes[id]
		sort.SliceStable(progs, func(i, j int) bool {
			return progs[i].Start < progs[j].Start
		})
	}

	if skipped > 0 {
		logger.Debug("{parser/xmltv - ParseXMLTV} skipped %d programmes without channel ref", skipped)
	}
	logger.Debug("{parser/xmltv - ParseXMLTV} normalized %d channels, %d programme lists", len(data.Channels), len(data.Programmes))
	return data, nil
}

package catalog

import (
	"strings"
	"time"

	"iptv-catalog/work/parser"
	"iptv-catalog/work/utils"
)

// EnrichedChannel is a playlist channel with its matched guide channel
// attached. EPG is null when no match was found by id or name.
type EnrichedChannel struct {
	parser.Channel
	EPG     *parser.EPGChannel `json:"epg"`
	Current *parser.Programme  `json:"current,omitempty"`
	Next    *parser.Programme  `json:"next,omitempty"`
}

// NowNextEntry is the schedule view for one channel at a reference
// instant. Either programme may be null.
type NowNextEntry struct {
	TvgID   string            `json:"tvg_id"`
	Name    string            `json:"name"`
	Logo    string            `json:"logo,omitempty"`
	Current *parser.Programme `json:"current"`
	Next    *parser.Programme `json:"next"`
}

// Enrich joins playlist channels with guide channels. Matching is by
// lowercased tvg-id first, then by trimmed lowercased display name.
// Output preserves playlist order.
func Enrich(channels []parser.Channel, epg *parser.EPGData) []EnrichedChannel {
	idIndex := make(map[string]parser.EPGChannel, len(epg.Channels))
	nameIndex := make(map[string]parser.EPGChannel, len(epg.Channels))
	for _, ch := range epg.Channels {
		idIndex[strings.ToLower(ch.ID)] = ch
		if key := utils.NormalizeKey(ch.Name); key != "" {
			nameIndex[key] = ch
		}
	}

	enriched := make([]EnrichedChannel, 0, len(channels))
	for _, ch := range channels {
		entry := EnrichedChannel{Channel: ch}

		if ch.TvgID != "" {
			if match, ok := idIndex[strings.ToLower(ch.TvgID)]; ok {
				entry.EPG = &match
			}
		}
		if entry.EPG == nil {
			if match, ok := nameIndex[utils.NormalizeKey(ch.Name)]; ok {
				entry.EPG = &match
			}
		}

		enriched = append(enriched, entry)
	}
	return enriched
}

// NowNext computes the current and next programme per channel at ref.
// Channels without a guide entry for their tvg-id are dropped from this
// view. Output preserves playlist order.
func NowNext(channels []parser.Channel, epg *parser.EPGData, ref time.Time) []NowNextEntry {
	refStr := ref.UTC().Format(time.RFC3339)

	idIndex := make(map[string]parser.EPGChannel, len(epg.Channels))
	for _, ch := range epg.Channels {
		idIndex[strings.ToLower(ch.ID)] = ch
	}
	progIndex := programmeIndex(epg)

	var entries []NowNextEntry
	for _, ch := range channels {
		if ch.TvgID == "" {
			continue
		}
		guide, ok := idIndex[strings.ToLower(ch.TvgID)]
		if !ok {
			continue
		}

		entry := NowNextEntry{
			TvgID: ch.TvgID,
			Name:  ch.Name,
			Logo:  ch.Logo,
		}
		if entry.Logo == "" {
			entry.Logo = guide.Icon
		}
		entry.Current, entry.Next = scanSchedule(progIndex[strings.ToLower(guide.ID)], refStr)

		entries = append(entries, entry)
	}
	return entries
}

// AttachNowNext fills Current and Next on enriched channels that
// matched a guide entry, for the combined channel listing.
func AttachNowNext(enriched []EnrichedChannel, epg *parser.EPGData, ref time.Time) {
	refStr := ref.UTC().Format(time.RFC3339)
	progIndex := programmeIndex(epg)
	for i := range enriched {
		if enriched[i].EPG == nil {
			continue
		}
		enriched[i].Current, enriched[i].Next = scanSchedule(progIndex[strings.ToLower(enriched[i].EPG.ID)], refStr)
	}
}

// programmeIndex rekeys the programme map by lowercased channel id so
// schedule lookups match guide ids regardless of how the source cased
// the programme channel attribute.
func programmeIndex(epg *parser.EPGData) map[string][]parser.Programme {
	index := make(map[string][]parser.Programme, len(epg.Programmes))
	for id, progs := range epg.Programmes {
		index[strings.ToLower(id)] = progs
	}
	return index
}

// scanSchedule walks a time-sorted programme list once. Current is the
// first programme whose [start, stop) interval contains ref; next is
// the first programme starting after ref. Sortedness guarantees the
// first candidate for each is the correct one, so the scan stops as
// soon as both are known. Entries with a missing start are skipped.
func scanSchedule(progs []parser.Programme, refStr string) (current, next *parser.Programme) {
	for i := range progs {
		p := &progs[i]
		if p.Start == "" {
			continue
		}
		if current == nil && p.Stop != "" && p.Start <= refStr && refStr < p.Stop {
			current = p
		}
		if next == nil && p.Start > refStr {
			next = p
		}
		if current != nil && next != nil {
			break
		}
	}
	return current, next
}

package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"iptv-catalog/work/cache"
	"iptv-catalog/work/config"
	"iptv-catalog/work/fetcher"
	"iptv-catalog/work/logger"
	"iptv-catalog/work/parser"
)

// EPGSnapshot is one normalized guide build: the raw document, the
// parsed data, and a content fingerprint used for query cache keying
// and ETags. Snapshots are immutable once built and swapped whole on
// refresh.
type EPGSnapshot struct {
	Raw  string
	Data *parser.EPGData
	Hash uint64
}

// Service owns the catalog ingestion pipeline: source fetchers behind
// TTL caches, and the query-parameterized guide response cache layered
// above them.
type Service struct {
	config  *config.Config
	fetcher *fetcher.Fetcher
	m3u     *cache.Cache[string]
	epg     *cache.Cache[*EPGSnapshot]
	queries *cache.QueryCache
}

func NewService(cfg *config.Config, f *fetcher.Fetcher) (*Service, error) {
	queries, err := cache.NewQueryCache(cfg.QueryCacheTTL)
	if err != nil {
		return nil, err
	}

	s := &Service{
		config:  cfg,
		fetcher: f,
		queries: queries,
	}

	s.m3u = cache.New("m3u", cfg.M3UTTL, func(ctx context.Context, source string) (string, error) {
		return f.FetchM3U(ctx, source)
	})

	s.epg = cache.New("epg", cfg.EPGTTL, func(ctx context.Context, source string) (*EPGSnapshot, error) {
		raw, err := f.FetchEPG(ctx, source)
		if err != nil {
			return nil, err
		}
		data, err := parser.ParseXMLTV(raw)
		if err != nil {
			return nil, err
		}
		logger.Info("Guide snapshot rebuilt: %d channels", len(data.Channels))
		return &EPGSnapshot{
			Raw:  raw,
			Data: data,
			Hash: cache.ContentHash(raw),
		}, nil
	})

	return s, nil
}

// M3U returns the raw playlist text for source ("" = configured
// default), served from the TTL cache.
func (s *Service) M3U(ctx context.Context, source string, force bool) (string, error) {
	return s.m3u.Get(ctx, source, force)
}

// M3UETag fingerprints playlist text for conditional responses.
func M3UETag(content string) string {
	return fmt.Sprintf("%q", fmt.Sprintf("%016x", xxhash.Sum64String(content)))
}

// Channels returns the parsed playlist channels for source.
func (s *Service) Channels(ctx context.Context, source string, force bool) ([]parser.Channel, error) {
	content, err := s.m3u.Get(ctx, source, force)
	if err != nil {
		return nil, err
	}
	return parser.ParseM3U(content), nil
}

// EPG returns the normalized guide snapshot for source.
func (s *Service) EPG(ctx context.Context, source string, force bool) (*EPGSnapshot, error) {
	return s.epg.Get(ctx, source, force)
}

// EPGQuery is a normalized guide query: Start and End are ISO-8601 UTC
// strings ("" = unbounded), Limit and Offset apply per channel (0 limit
// = unlimited), Channel restricts output to one guide channel.
type EPGQuery struct {
	Start   string
	End     string
	Limit   int
	Offset  int
	Channel string
}

// QueryEPG returns the rendered guide payload and ETag for a query,
// served from the query cache when the underlying snapshot and
// parameters both match a previous call.
func (s *Service) QueryEPG(ctx context.Context, source string, force bool, q EPGQuery) (cache.QueryEntry, error) {
	snap, err := s.epg.Get(ctx, source, force)
	if err != nil {
		return cache.QueryEntry{}, err
	}

	key := cache.QueryKey{
		ContentHash: snap.Hash,
		Start:       q.Start,
		End:         q.End,
		Limit:       q.Limit,
		Offset:      q.Offset,
		Channel:     q.Channel,
	}
	if entry, ok := s.queries.Get(key); ok {
		return entry, nil
	}

	payload, err := renderEPG(snap.Data, q)
	if err != nil {
		return cache.QueryEntry{}, err
	}
	return s.queries.Set(key, payload), nil
}

// ErrChannelNotFound reports a guide query for an unknown channel id.
var ErrChannelNotFound = fmt.Errorf("epg channel not found")

func renderEPG(data *parser.EPGData, q EPGQuery) ([]byte, error) {
	if q.Channel != "" {
		channel, progs, ok := findChannel(data, q.Channel)
		if !ok {
			return nil, ErrChannelNotFound
		}
		return json.Marshal(map[string]any{
			"channel":  channel,
			"programs": filterProgrammes(progs, q),
		})
	}

	programmes := make(map[string][]parser.Programme, len(data.Programmes))
	for id, progs := range data.Programmes {
		programmes[id] = filterProgrammes(progs, q)
	}
	return json.Marshal(map[string]any{
		"channels": data.Channels,
		"programs": programmes,
	})
}

func findChannel(data *parser.EPGData, id string) (parser.EPGChannel, []parser.Programme, bool) {
	if ch, ok := data.Channels[id]; ok {
		return ch, programmesFor(data, ch.ID), true
	}
	key := strings.ToLower(id)
	for _, ch := range data.Channels {
		if strings.ToLower(ch.ID) == key {
			return ch, programmesFor(data, ch.ID), true
		}
	}
	return parser.EPGChannel{}, nil, false
}

// programmesFor resolves a guide channel's programme list, matching
// the map key case-insensitively when the exact key is absent.
func programmesFor(data *parser.EPGData, id string) []parser.Programme {
	if progs, ok := data.Programmes[id]; ok {
		return progs
	}
	key := strings.ToLower(id)
	for k, progs := range data.Programmes {
		if strings.ToLower(k) == key {
			return progs
		}
	}
	return nil
}

// filterProgrammes keeps programmes overlapping the half-open window
// [start, end), then applies per-channel offset and limit slicing.
// Programmes missing either timestamp are dropped whenever a window
// boundary is set, since their overlap is undecidable.
func filterProgrammes(progs []parser.Programme, q EPGQuery) []parser.Programme {
	windowed := q.Start != "" || q.End != ""
	filtered := make([]parser.Programme, 0, len(progs))
	for _, p := range progs {
		if windowed && (p.Start == "" || p.Stop == "") {
			continue
		}
		if q.Start != "" && !(p.Stop > q.Start) {
			continue
		}
		if q.End != "" && !(p.Start < q.End) {
			continue
		}
		filtered = append(filtered, p)
	}

	if q.Offset > 0 {
		if q.Offset >= len(filtered) {
			return []parser.Programme{}
		}
		filtered = filtered[q.Offset:]
	}
	if q.Limit > 0 && q.Limit < len(filtered) {
		filtered = filtered[:q.Limit]
	}
	return filtered
}

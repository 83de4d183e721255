package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"iptv-catalog/work/catalog"
	"iptv-catalog/work/config"
	"iptv-catalog/work/database"
	"iptv-catalog/work/fetcher"
	"iptv-catalog/work/logger"
	"iptv-catalog/work/parser"
	"iptv-catalog/work/proxy"
)

// Handlers binds the catalog service, stream proxy, and playlist store
// to the HTTP surface.
type Handlers struct {
	Config  *config.Config
	Catalog *catalog.Service
	Proxy   *proxy.StreamProxy
	Store   *database.Store
}

func New(cfg *config.Config, catalogSvc *catalog.Service, streamProxy *proxy.StreamProxy, store *database.Store) *Handlers {
	return &Handlers{
		Config:  cfg,
		Catalog: catalogSvc,
		Proxy:   streamProxy,
		Store:   store,
	}
}

// Register mounts every catalog route on the router.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/catalog/m3u", h.HandleM3U).Methods("GET")
	r.HandleFunc("/catalog/channels", h.HandleChannels).Methods("GET")
	r.HandleFunc("/catalog/channels/me", h.HandleChannels).Methods("GET")
	r.HandleFunc("/catalog/channels/enriched", h.HandleEnriched).Methods("GET")
	r.HandleFunc("/catalog/channels/enriched/me", h.HandleEnriched).Methods("GET")
	r.HandleFunc("/catalog/now", h.HandleNow).Methods("GET")
	r.HandleFunc("/catalog/next", h.HandleNext).Methods("GET")
	r.HandleFunc("/catalog/epg", h.HandleEPG).Methods("GET")
	r.HandleFunc("/catalog/epg/{channel_id}", h.HandleEPGChannel).Methods("GET")
	r.HandleFunc(config.ProxyPath, h.Proxy.HandleProxy).Methods("GET")
}

// HandleM3U serves the raw playlist text with an ETag for conditional
// requests.
func (h *Handlers) HandleM3U(w http.ResponseWriter, r *http.Request) {
	force := queryBool(r, "force")

	content, err := h.Catalog.M3U(r.Context(), "", force)
	if err != nil {
		h.writeError(w, err)
		return
	}

	etag := catalog.M3UETag(content)
	if r.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("ETag", etag)
	w.Write([]byte(content))
}

// HandleChannels serves the parsed playlist as JSON. The /me variant
// reads from the caller's active playlist instead of the configured
// default source.
func (h *Handlers) HandleChannels(w http.ResponseWriter, r *http.Request) {
	source, _, err := h.resolveSources(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	channels, err := h.Catalog.Channels(r.Context(), source, queryBool(r, "force"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, channels)
}

// HandleEnriched serves playlist channels joined with their guide
// entries, optionally merged with the current and next programmes.
func (h *Handlers) HandleEnriched(w http.ResponseWriter, r *http.Request) {
	m3uSource, epgSource, err := h.resolveSources(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	force := queryBool(r, "force")

	channels, err := h.Catalog.Channels(r.Context(), m3uSource, force)
	if err != nil {
		h.writeError(w, err)
		return
	}
	snap, err := h.Catalog.EPG(r.Context(), epgSource, force)
	if err != nil {
		h.writeError(w, err)
		return
	}

	enriched := catalog.Enrich(channels, snap.Data)
	if queryBool(r, "include_now") {
		ref, err := queryTime(r, "time")
		if err != nil {
			h.writeError(w, err)
			return
		}
		catalog.AttachNowNext(enriched, snap.Data, ref)
	}
	h.writeJSON(w, enriched)
}

// HandleNow serves the current and next programme per channel at the
// reference time.
func (h *Handlers) HandleNow(w http.ResponseWriter, r *http.Request) {
	entries, err := h.nowNext(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, entries)
}

// HandleNext serves only the upcoming programme per channel.
func (h *Handlers) HandleNext(w http.ResponseWriter, r *http.Request) {
	entries, err := h.nowNext(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	type nextEntry struct {
		TvgID string            `json:"tvg_id"`
		Name  string            `json:"name"`
		Logo  string            `json:"logo,omitempty"`
		Next  *parser.Programme `json:"next"`
	}
	out := make([]nextEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, nextEntry{
			TvgID: e.TvgID,
			Name:  e.Name,
			Logo:  e.Logo,
			Next:  e.Next,
		})
	}
	h.writeJSON(w, out)
}

func (h *Handlers) nowNext(r *http.Request) ([]catalog.NowNextEntry, error) {
	ref, err := queryTime(r, "time")
	if err != nil {
		return nil, err
	}
	channels, err := h.Catalog.Channels(r.Context(), "", false)
	if err != nil {
		return nil, err
	}
	snap, err := h.Catalog.EPG(r.Context(), "", false)
	if err != nil {
		return nil, err
	}
	return catalog.NowNext(channels, snap.Data, ref), nil
}

// HandleEPG serves the filtered, paginated guide with ETag support.
func (h *Handlers) HandleEPG(w http.ResponseWriter, r *http.Request) {
	q := catalog.EPGQuery{
		Start:  queryTimeString(r, "start"),
		End:    queryTimeString(r, "end"),
		Limit:  queryInt(r, "limit_per_channel"),
		Offset: queryInt(r, "offset_per_channel"),
	}
	h.serveEPGQuery(w, r, q)
}

// HandleEPGChannel serves one guide channel's filtered programmes.
func (h *Handlers) HandleEPGChannel(w http.ResponseWriter, r *http.Request) {
	q := catalog.EPGQuery{
		Start:   queryTimeString(r, "start"),
		End:     queryTimeString(r, "end"),
		Limit:   queryInt(r, "limit"),
		Offset:  queryInt(r, "offset"),
		Channel: mux.Vars(r)["channel_id"],
	}
	h.serveEPGQuery(w, r, q)
}

func (h *Handlers) serveEPGQuery(w http.ResponseWriter, r *http.Request, q catalog.EPGQuery) {
	entry, err := h.Catalog.QueryEPG(r.Context(), "", queryBool(r, "force"), q)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if r.Header.Get("If-None-Match") == entry.ETag {
		w.Header().Set("ETag", entry.ETag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", entry.ETag)
	w.Write(entry.Body)
}

// resolveSources picks the playlist and guide sources for a request.
// The /me route variants use the caller's active playlist, identified
// by the X-User header the auth layer sets.
func (h *Handlers) resolveSources(r *http.Request) (m3uSource, epgSource string, err error) {
	if !isMeRoute(r) {
		return "", "", nil
	}

	username := r.Header.Get("X-User")
	if username == "" {
		return "", "", errUnauthorized
	}

	playlist, err := h.Store.ActivePlaylist(username)
	if err != nil {
		return "", "", err
	}
	return playlist.URL, playlist.EPGURL, nil
}

func isMeRoute(r *http.Request) bool {
	path := r.URL.Path
	return len(path) >= 3 && path[len(path)-3:] == "/me"
}

var (
	errUnauthorized = errors.New("missing user identity")
	errBadTimeParam = errors.New("invalid time parameter")
)

func (h *Handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fetcher.ErrNotFound),
		errors.Is(err, catalog.ErrChannelNotFound),
		errors.Is(err, database.ErrNoActivePlaylist):
		status = http.StatusNotFound
	case errors.Is(err, errUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, errBadTimeParam):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		logger.Error("Request failed: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"detail": err.Error()})
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v < 0 {
		return 0
	}
	return v
}

// queryTime parses a reference time parameter, defaulting to the
// current UTC instant when absent. Values without a zone are assumed
// UTC; a value that matches neither layout is rejected.
func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Now().UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q is not an ISO-8601 timestamp", errBadTimeParam, raw)
}

// queryTimeString normalizes an optional window boundary to an
// ISO-8601 UTC string, or "" when absent or unparseable.
func queryTimeString(r *http.Request, name string) string {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	return ""
}

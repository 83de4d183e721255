package cache

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto/v2"

	"iptv-catalog/work/metrics"
)

// QueryKey identifies one guide query result. ContentHash ties the
// entry to the guide snapshot it was computed from, so a source refresh
// naturally misses every stale entry.
type QueryKey struct {
	ContentHash uint64
	Start       string
	End         string
	Limit       int
	Offset      int
	Channel     string
}

// QueryEntry is a cached, rendered guide response body plus its ETag.
type QueryEntry struct {
	Body []byte
	ETag string
}

// QueryCache caches rendered guide query responses keyed by the full
// query shape.
type QueryCache struct {
	cache *ristretto.Cache[string, QueryEntry]
	ttl   time.Duration
}

func NewQueryCache(ttl time.Duration) (*QueryCache, error) {
	rc, err := ristretto.NewCache(&ristretto.Config[string, QueryEntry]{
		NumCounters: 10_000,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &QueryCache{cache: rc, ttl: ttl}, nil
}

func (qc *QueryCache) Get(key QueryKey) (QueryEntry, bool) {
	entry, found := qc.cache.Get(key.hash())
	if found {
		metrics.CacheRequests.WithLabelValues("epg_query", "hit").Inc()
	} else {
		metrics.CacheRequests.WithLabelValues("epg_query", "miss").Inc()
	}
	return entry, found
}

func (qc *QueryCache) Set(key QueryKey, body []byte) QueryEntry {
	entry := QueryEntry{
		Body: body,
		ETag: fmt.Sprintf("%q", fmt.Sprintf("%016x", xxhash.Sum64(body))),
	}
	qc.cache.SetWithTTL(key.hash(), entry, int64(len(body)), qc.ttl)
	return entry
}

// Clear drops every cached query result.
func (qc *QueryCache) Clear() {
	qc.cache.Clear()
}

func (k QueryKey) hash() string {
	d := xxhash.New()
	fmt.Fprintf(d, "%d|%s|%s|%d|%d|%s", k.ContentHash, k.Start, k.End, k.Limit, k.Offset, k.Channel)
	return fmt.Sprintf("%016x", d.Sum64())
}

// ContentHash fingerprints a guide document for query cache keying.
func ContentHash(doc string) uint64 {
	return xxhash.Sum64String(doc)
}

package store

import (
	"expvar"
	"fmt"
)

// Metrics holds the expvar counters of one Store.
type Metrics struct {
	PublishedGlobally bool

	InsertTotal        *expvar.Int
	InsertErrorsTotal  *expvar.Int
	QueryTotal         *expvar.Int
	QueryErrorsTotal   *expvar.Int
	FilesScannedTotal  *expvar.Int
	FilesCreatedTotal  *expvar.Int
	EvictTotal         *expvar.Int
	FilesEvictedTotal  *expvar.Int
	BytesEvictedTotal  *expvar.Int
	EvictFailuresTotal *expvar.Int
	ClearTotal         *expvar.Int

	CacheHits   *expvar.Int
	CacheMisses *expvar.Int
	// OpenHandles is the number of stream handles in the cache.
	OpenHandles *expvar.Int
}

// NewMetrics creates the counters. When publishGlobally is set they are
// registered in the expvar namespace under prefix.
func NewMetrics(publishGlobally bool, prefix string) *Metrics {
	newInt := func(_ string) *expvar.Int { return new(expvar.Int) }
	if publishGlobally {
		newInt = publishExpvarInt
	}
	return &Metrics{
		PublishedGlobally:  publishGlobally,
		InsertTotal:        newInt(prefix + "insert_total"),
		InsertErrorsTotal:  newInt(prefix + "insert_errors_total"),
		QueryTotal:         newInt(prefix + "query_total"),
		QueryErrorsTotal:   newInt(prefix + "query_errors_total"),
		FilesScannedTotal:  newInt(prefix + "files_scanned_total"),
		FilesCreatedTotal:  newInt(prefix + "files_created_total"),
		EvictTotal:         newInt(prefix + "evict_total"),
		FilesEvictedTotal:  newInt(prefix + "files_evicted_total"),
		BytesEvictedTotal:  newInt(prefix + "bytes_evicted_total"),
		EvictFailuresTotal: newInt(prefix + "evict_failures_total"),
		ClearTotal:         newInt(prefix + "clear_total"),
		CacheHits:          newInt(prefix + "cache_hits"),
		CacheMisses:        newInt(prefix + "cache_misses"),
		OpenHandles:        newInt(prefix + "open_handles"),
	}
}

// publishExpvarInt returns the published Int called name, creating it when
// missing. An existing variable is reset.
func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}

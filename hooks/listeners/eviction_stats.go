package listeners

import (
	"context"
	"expvar"
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/nexusevent/hooks"
)

var (
	// Registered once so NewEvictionStatsListener stays idempotent.
	evictMetricsOnce  sync.Once
	evictedFilesTotal *expvar.Int
	evictedBytesTotal *expvar.Int
	evictPassesTotal  *expvar.Int
)

func initEvictMetrics() {
	evictMetricsOnce.Do(func() {
		evictedFilesTotal = expvar.NewInt("eventstore_evicted_files_total")
		evictedBytesTotal = expvar.NewInt("eventstore_evicted_bytes_total")
		evictPassesTotal = expvar.NewInt("eventstore_evict_passes_total")
		expvar.Publish("eventstore_evicted_bytes_per_pass", expvar.Func(func() interface{} {
			passes := evictPassesTotal.Value()
			if passes == 0 {
				return 0.0
			}
			return float64(evictedBytesTotal.Value()) / float64(passes)
		}))
	})
}

// EvictionStatsListener accumulates eviction totals into process-wide expvars.
type EvictionStatsListener struct {
	logger *slog.Logger

	evictedFiles *expvar.Int
	evictedBytes *expvar.Int
	passes       *expvar.Int
}

// NewEvictionStatsListener creates a new listener. Register it for both
// PostEvictFile and PostEvict.
func NewEvictionStatsListener(logger *slog.Logger) *EvictionStatsListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	initEvictMetrics()
	return &EvictionStatsListener{
		logger:       logger.With("component", "EvictionStatsListener"),
		evictedFiles: evictedFilesTotal,
		evictedBytes: evictedBytesTotal,
		passes:       evictPassesTotal,
	}
}

func (l *EvictionStatsListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch payload := event.Payload().(type) {
	case hooks.FilePayload:
		if event.Type() != hooks.EventPostEvictFile {
			return nil
		}
		l.evictedFiles.Add(1)
		l.evictedBytes.Add(payload.Size)
		l.logger.Debug("Event file evicted", "path", payload.Path, "size", payload.Size)
	case hooks.EvictPayload:
		if event.Type() != hooks.EventPostEvict {
			return nil
		}
		l.passes.Add(1)
		l.logger.Info("Eviction pass processed", "deleted_files", payload.DeletedFiles, "freed_bytes", payload.FreedBytes)
	}
	return nil
}

func (l *EvictionStatsListener) Priority() int { return 100 }

// IsAsync is false so the counters are current when Evict returns.
func (l *EvictionStatsListener) IsAsync() bool { return false }

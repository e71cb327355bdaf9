package store

import (
	"context"
	"sort"

	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/hooks"
	"github.com/INLOpen/nexusevent/sys"
	"github.com/shirou/gopsutil/v3/disk"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Eviction starts once a category exceeds its max size by this factor and
// then deletes files until the category is below the max size.
const (
	evictTriggerNum = 11
	evictTriggerDen = 10
)

// EvictResult summarises an eviction pass.
type EvictResult struct {
	// ExpiredFiles counts files deleted for exceeding the store duration.
	ExpiredFiles int
	// DeletedFiles counts every deleted file, expired ones included.
	DeletedFiles int
	FreedBytes   int64
	// FailedFiles counts deletions that failed and were skipped.
	FailedFiles int
	// Remaining is the size of every category after the pass.
	Remaining map[core.Category]int64
}

// categoryUsage is the clear map entry of one category.
type categoryUsage struct {
	total     int64
	overLimit []*eventFile
	normal    []*eventFile
}

// Evict deletes expired files, then, for every category over its quota,
// deletes files of streams holding more than the allowed file count before
// any other file, oldest first.
func (s *Store) Evict(ctx context.Context) (res EvictResult, err error) {
	ctx, span := s.tracer.Start(ctx, "Store.Evict")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "evict_failed")
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return res, ErrClosed
	}
	s.metrics.EvictTotal.Add(1)

	files, err := s.listFiles(ctx, "")
	if err != nil {
		return res, err
	}
	totals := make(map[core.Category]int64)
	for _, f := range files {
		totals[f.meta.Category] += f.size
	}
	if err := s.hooks.Trigger(ctx, hooks.NewPreEvictEvent(hooks.EvictPayload{TotalBytes: totals})); err != nil {
		return res, err
	}

	// No open handle may keep a file alive.
	s.handles.Clear()

	now := s.clock.Now()
	var live []*eventFile
	for _, f := range files {
		q := s.opts.Quotas.Get(f.meta.Category)
		if q.StoreDuration > 0 && now.Sub(f.modTime) > q.StoreDuration {
			if s.deleteFile(ctx, f, &res) {
				res.ExpiredFiles++
				continue
			}
		}
		live = append(live, f)
	}

	usage := s.buildClearMap(live)
	res.Remaining = make(map[core.Category]int64, len(usage))
	for _, c := range core.Categories {
		u, ok := usage[c]
		if !ok {
			continue
		}
		maxSize := s.opts.Quotas.Get(c).MaxSize
		if maxSize > 0 && u.total*evictTriggerDen > maxSize*evictTriggerNum {
			s.logger.Info("Category over quota, evicting.", "category", c.String(), "total_bytes", u.total, "max_bytes", maxSize)
			for _, queue := range [][]*eventFile{u.overLimit, u.normal} {
				for _, f := range queue {
					if u.total < maxSize {
						break
					}
					if s.deleteFile(ctx, f, &res) {
						u.total -= f.size
					}
				}
			}
		}
		res.Remaining[c] = u.total
	}

	span.SetAttributes(
		attribute.Int("evict.deleted_files", res.DeletedFiles),
		attribute.Int64("evict.freed_bytes", res.FreedBytes),
	)
	s.logger.Info("Eviction finished.", "deleted_files", res.DeletedFiles, "expired_files", res.ExpiredFiles,
		"freed_bytes", res.FreedBytes, "failed_files", res.FailedFiles)
	s.hooks.Trigger(ctx, hooks.NewPostEvictEvent(hooks.EvictPayload{
		TotalBytes:   res.Remaining,
		DeletedFiles: res.DeletedFiles,
		FreedBytes:   res.FreedBytes,
	}))
	return res, nil
}

// buildClearMap groups files per category. Within a stream holding more
// files than its quota allows, the oldest surplus files go to the over-limit
// queue. Both queues are ordered oldest first.
func (s *Store) buildClearMap(files []*eventFile) map[core.Category]*categoryUsage {
	byStream := make(map[string][]*eventFile)
	for _, f := range files {
		byStream[f.streamKey()] = append(byStream[f.streamKey()], f)
	}
	usage := make(map[core.Category]*categoryUsage)
	for _, group := range byStream {
		sort.Slice(group, func(i, j int) bool { return group[i].meta.Seq < group[j].meta.Seq })
		for i, f := range group {
			u, ok := usage[f.meta.Category]
			if !ok {
				u = &categoryUsage{}
				usage[f.meta.Category] = u
			}
			u.total += f.size
			limit := s.opts.Quotas.Get(f.meta.Category).MaxFileCount
			if limit > 0 && i < len(group)-limit {
				u.overLimit = append(u.overLimit, f)
			} else {
				u.normal = append(u.normal, f)
			}
		}
	}
	for _, u := range usage {
		sortOldestFirst(u.overLimit)
		sortOldestFirst(u.normal)
	}
	return usage
}

func sortOldestFirst(files []*eventFile) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].meta.Seq != files[j].meta.Seq {
			return files[i].meta.Seq < files[j].meta.Seq
		}
		return files[i].modTime.Before(files[j].modTime)
	})
}

// deleteFile removes f, logging and skipping failures.
func (s *Store) deleteFile(ctx context.Context, f *eventFile, res *EvictResult) bool {
	if err := sys.Remove(f.path); err != nil {
		s.logger.Warn("Failed to delete event file, skipping.", "path", f.path, "error", err)
		s.metrics.EvictFailuresTotal.Add(1)
		res.FailedFiles++
		return false
	}
	res.DeletedFiles++
	res.FreedBytes += f.size
	s.metrics.FilesEvictedTotal.Add(1)
	s.metrics.BytesEvictedTotal.Add(f.size)
	s.hooks.Trigger(ctx, hooks.NewPostEvictFileEvent(hooks.FilePayload{Path: f.path, Category: f.meta.Category, Size: f.size}))
	return true
}

// Clear deletes every event file of the store and returns how many were
// removed.
func (s *Store) Clear(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "Store.Clear")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.metrics.ClearTotal.Add(1)
	s.handles.Clear()

	files, err := s.listFiles(ctx, "")
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	deleted := 0
	for _, f := range files {
		if err := sys.Remove(f.path); err != nil {
			s.logger.Warn("Failed to delete event file during clear.", "path", f.path, "error", err)
			continue
		}
		deleted++
	}
	s.logger.Info("Store cleared.", "deleted_files", deleted)
	s.hooks.Trigger(ctx, hooks.NewPostClearEvent(hooks.PostClearPayload{DeletedFiles: deleted}))
	return deleted, nil
}

// CategoryStats is the on-disk footprint of one category.
type CategoryStats struct {
	Files   int
	Streams int
	Bytes   int64
	// MaxBytes is the configured quota, 0 when unlimited.
	MaxBytes int64
}

// Stats describes the store and the disk it lives on.
type Stats struct {
	Categories  map[core.Category]CategoryStats
	TotalFiles  int
	TotalBytes  int64
	OpenHandles int

	DiskTotalBytes  uint64
	DiskFreeBytes   uint64
	DiskUsedPercent float64
}

// Stats walks the store directory.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx, span := s.tracer.Start(ctx, "Store.Stats")
	defer span.End()

	s.mu.RLock()
	files, err := s.listFiles(ctx, "")
	open := s.handles.Len()
	s.mu.RUnlock()
	if err != nil {
		return Stats{}, err
	}

	st := Stats{Categories: make(map[core.Category]CategoryStats), OpenHandles: open}
	streams := make(map[core.Category]map[string]struct{})
	for _, f := range files {
		c := f.meta.Category
		cs := st.Categories[c]
		cs.Files++
		cs.Bytes += f.size
		cs.MaxBytes = s.opts.Quotas.Get(c).MaxSize
		st.Categories[c] = cs
		if streams[c] == nil {
			streams[c] = make(map[string]struct{})
		}
		streams[c][f.streamKey()] = struct{}{}
		st.TotalFiles++
		st.TotalBytes += f.size
	}
	for c, set := range streams {
		cs := st.Categories[c]
		cs.Streams = len(set)
		st.Categories[c] = cs
	}

	if usage, err := disk.UsageWithContext(ctx, s.opts.Dir); err != nil {
		s.logger.Warn("Failed to read disk usage.", "dir", s.opts.Dir, "error", err)
	} else {
		st.DiskTotalBytes = usage.Total
		st.DiskFreeBytes = usage.Free
		st.DiskUsedPercent = usage.UsedPercent
	}
	return st, nil
}

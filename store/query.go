package store

import (
	"context"
	"math"
	"sort"

	"github.com/INLOpen/nexusevent/cond"
	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/doc"
	"github.com/INLOpen/nexusevent/hooks"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// QueryOptions controls ordering and size of a query result.
type QueryOptions struct {
	// Limit bounds the result; <= 0 returns every match.
	Limit   int
	OrderBy core.OrderColumn
	Order   core.SortOrder
}

// better returns the ranking of entries for the options.
func (o QueryOptions) better() func(a, b core.Entry) bool {
	asc := o.Order == core.Ascending
	if o.OrderBy == core.OrderByTime {
		return func(a, b core.Entry) bool {
			if a.Timestamp != b.Timestamp {
				return (a.Timestamp < b.Timestamp) == asc
			}
			return (a.Seq < b.Seq) == asc
		}
	}
	return func(a, b core.Entry) bool {
		return (a.Seq < b.Seq) == asc
	}
}

// Query returns the entries of the files selected by arg that match q.
// Files are pruned by name first; with sequence ordering, scanning stops as
// soon as the remaining files cannot hold a better entry.
func (s *Store) Query(ctx context.Context, arg core.QueryArgument, q *cond.DocQuery, opts QueryOptions) (rs *core.ResultSet, err error) {
	ctx, span := s.tracer.Start(ctx, "Store.Query")
	defer span.End()
	start := s.clock.Now()
	defer func() {
		s.metrics.QueryTotal.Add(1)
		if err != nil {
			s.metrics.QueryErrorsTotal.Add(1)
			span.RecordError(err)
			span.SetStatus(codes.Error, "query_failed")
		}
		payload := hooks.PostQueryPayload{Argument: arg, Duration: s.clock.Since(start), Error: err}
		if rs != nil {
			payload.Rows = rs.Len()
			payload.FilesScanned = rs.FilesScanned
		}
		s.hooks.Trigger(ctx, hooks.NewPostQueryEvent(payload))
	}()
	span.SetAttributes(
		attribute.String("query.domain", arg.Domain),
		attribute.Int("query.limit", opts.Limit),
		attribute.Int64("query.begin_seq", arg.BeginSeq),
		attribute.Int64("query.end_seq", arg.EndSeq),
	)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	files, err := s.listFiles(ctx, arg.Domain)
	if err != nil {
		return nil, err
	}
	candidates := selectCandidates(files, &arg)
	span.SetAttributes(attribute.Int("query.candidate_files", len(candidates)))
	if len(candidates) == 0 {
		return core.NewResultSet(nil), nil
	}
	orderCandidates(candidates, opts)

	better := opts.better()
	top := NewBoundedHeap(opts.Limit, better)
	var (
		scanned   int
		truncated bool
	)
	for _, f := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if top.Full() && !canImprove(top, f, opts, &arg) {
			truncated = true
			break
		}
		scanned++
		stopped, err := s.scanFile(f, q, &arg, opts, top)
		if err != nil {
			s.logger.Warn("Skipping unreadable event file.", "path", f.path, "error", err)
			continue
		}
		truncated = truncated || stopped
	}
	s.metrics.FilesScannedTotal.Add(int64(scanned))

	entries := top.Sorted()
	rs = core.NewResultSet(entries)
	rs.FilesScanned = scanned
	rs.HasMore = truncated || top.Dropped > 0
	if n := len(entries); n > 0 {
		last := entries[n-1]
		rs.Boundary = last.Seq
		if opts.Order == core.Ascending {
			rs.Boundary = last.Seq + 1
		}
	}
	span.SetAttributes(attribute.Int("query.rows", len(entries)), attribute.Int("query.files_scanned", scanned))
	s.logger.Debug("Query finished.", "domain", arg.Domain, "rows", len(entries), "files_scanned", scanned,
		"candidates", len(candidates), "duration", s.clock.Since(start))
	return rs, nil
}

// scanFile pushes the matches of one file into top. It reports whether it
// left matches unread.
func (s *Store) scanFile(f *eventFile, q *cond.DocQuery, arg *core.QueryArgument, opts QueryOptions, top *BoundedHeap[core.Entry]) (stopped bool, err error) {
	// Records of a file are in ascending sequence order, so an ascending
	// scan can leave the file once the heap only keeps smaller sequences.
	ascSeq := opts.OrderBy == core.OrderBySeq && opts.Order == core.Ascending
	r := doc.NewReader(f.path, doc.ReaderOptions{Registry: s.opts.Registry, Logger: s.opts.Logger})
	err = r.Scan(q, func(e core.Entry) bool {
		if e.Seq < arg.BeginSeq || (arg.EndSeq > 0 && e.Seq >= arg.EndSeq) {
			return true
		}
		if ascSeq && top.Full() {
			if worst, _ := top.Worst(); e.Seq > worst.Seq {
				stopped = true
				return false
			}
		}
		top.Push(e)
		return true
	})
	return stopped, err
}

// selectCandidates applies the name, category and sequence filters to the
// file names.
func selectCandidates(files []*eventFile, arg *core.QueryArgument) []*eventFile {
	names := make(map[string]struct{}, len(arg.Names))
	for _, n := range arg.Names {
		names[core.NormalizeName(n)] = struct{}{}
	}
	var out []*eventFile
	for _, f := range files {
		if len(names) > 0 {
			if _, ok := names[f.meta.Name]; !ok {
				continue
			}
		}
		if arg.Category != core.CategoryUnknown && f.meta.Category != arg.Category {
			continue
		}
		if arg.EndSeq > 0 && f.meta.Seq >= arg.EndSeq {
			continue
		}
		if hi := f.maxSeq(); hi >= 0 && hi < arg.BeginSeq {
			continue
		}
		out = append(out, f)
	}
	return out
}

// upperSeq is the largest sequence a file can hold, or MaxInt64.
func upperSeq(f *eventFile) int64 {
	if hi := f.maxSeq(); hi >= 0 {
		return hi
	}
	return math.MaxInt64
}

// orderCandidates sorts files so the most promising one comes first.
func orderCandidates(files []*eventFile, opts QueryOptions) {
	switch {
	case opts.OrderBy == core.OrderByTime:
		sort.SliceStable(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
	case opts.Order == core.Ascending:
		sort.SliceStable(files, func(i, j int) bool { return files[i].meta.Seq < files[j].meta.Seq })
	default:
		sort.SliceStable(files, func(i, j int) bool {
			ui, uj := upperSeq(files[i]), upperSeq(files[j])
			if ui != uj {
				return ui > uj
			}
			return files[i].meta.Seq > files[j].meta.Seq
		})
	}
}

// canImprove reports whether f can hold an entry ranking above the worst
// kept one. Files are visited in the order set by orderCandidates, so a file
// that cannot improve the result ends the scan.
func canImprove(top *BoundedHeap[core.Entry], f *eventFile, opts QueryOptions, arg *core.QueryArgument) bool {
	if opts.OrderBy == core.OrderByTime {
		return true
	}
	worst, ok := top.Worst()
	if !ok {
		return true
	}
	if opts.Order == core.Ascending {
		return max(f.meta.Seq, arg.BeginSeq) < worst.Seq
	}
	upper := upperSeq(f)
	if arg.EndSeq > 0 {
		upper = min(upper, arg.EndSeq-1)
	}
	return upper > worst.Seq
}

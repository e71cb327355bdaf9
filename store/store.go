package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/INLOpen/nexusevent/cache"
	"github.com/INLOpen/nexusevent/clock"
	"github.com/INLOpen/nexusevent/codec"
	"github.com/INLOpen/nexusevent/config"
	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/doc"
	"github.com/INLOpen/nexusevent/hooks"
	"github.com/INLOpen/nexusevent/stream"
	"github.com/INLOpen/nexusevent/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var ErrClosed = errors.New("store is closed")

// DefaultCacheCapacity bounds the stream handles kept open for writing.
const DefaultCacheCapacity = 30

// Options configures a Store.
type Options struct {
	// Dir is the store root; every domain is a subdirectory.
	Dir string
	// Quotas holds the per-category page size, file size and eviction limits.
	Quotas        config.Quotas
	CacheCapacity int
	SysVersion    string
	PatchVersion  string
	SyncWrites    bool
	// LockTimeout bounds the wait for the directory lock. Zero fails at once
	// when another process holds it.
	LockTimeout time.Duration

	Registry *codec.Registry
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Clock    clock.Clock
	Hooks    hooks.HookManager
	Metrics  *Metrics
}

// Store owns the handle cache and quota map of one store directory.
// Insert, Evict and Clear are exclusive; queries run concurrently with
// each other.
type Store struct {
	opts    Options
	mu      sync.RWMutex
	handles *cache.LRU[stream.Key, *stream.Handle]
	unlock  func() error
	closed  bool

	logger  *slog.Logger
	tracer  trace.Tracer
	clock   clock.Clock
	hooks   hooks.HookManager
	metrics *Metrics
}

// Open prepares dir and takes its lock.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, &core.ValidationError{Field: "dir", Message: "store directory is required"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = codec.NewRegistry()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("store")
	}
	if opts.Clock == nil {
		opts.Clock = clock.SystemClockDefault
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.Nop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(false, "")
	}
	if opts.Quotas == nil {
		opts.Quotas = config.DefaultQuotas()
	}
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = DefaultCacheCapacity
	}

	if err := os.MkdirAll(opts.Dir, stream.DirPerm); err != nil {
		return nil, fmt.Errorf("%w: creating store dir %s: %v", core.ErrIO, opts.Dir, err)
	}
	unlock, err := sys.AcquireDirLock(opts.Dir, opts.LockTimeout)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.With("component", "Store")
	s := &Store{
		opts:    opts,
		unlock:  unlock,
		logger:  logger,
		tracer:  opts.Tracer,
		clock:   opts.Clock,
		hooks:   opts.Hooks,
		metrics: opts.Metrics,
	}
	s.handles = cache.NewLRU(opts.CacheCapacity, func(key stream.Key, h *stream.Handle) {
		if err := h.Close(); err != nil {
			logger.Warn("Failed to close evicted stream handle.", "stream", key.String(), "error", err)
		}
		s.metrics.OpenHandles.Add(-1)
	})
	s.handles.SetMetrics(s.metrics.CacheHits, s.metrics.CacheMisses)
	logger.Info("Event store opened.", "dir", opts.Dir, "cache_capacity", opts.CacheCapacity)
	return s, nil
}

// Dir returns the store root.
func (s *Store) Dir() string { return s.opts.Dir }

// Metrics returns the store counters.
func (s *Store) Metrics() *Metrics { return s.metrics }

// Quota returns the limits configured for c.
func (s *Store) Quota(c core.Category) config.Quota { return s.opts.Quotas.Get(c) }

// Lock and Unlock give callers that copy the store directory, such as
// backup, exclusive access.
func (s *Store) Lock()   { s.mu.Lock() }
func (s *Store) Unlock() { s.mu.Unlock() }

// CloseHandles closes every cached stream handle. The caller must hold the
// store lock.
func (s *Store) CloseHandles() {
	s.handles.Clear()
}

// Close releases every handle and the directory lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.handles.Clear()
	s.hooks.Stop()
	if err := s.unlock(); err != nil {
		return fmt.Errorf("releasing store lock: %w", err)
	}
	s.logger.Info("Event store closed.")
	return nil
}

// SequenceFunc stamps a record about to be appended. It runs under the
// exclusive lock, so every stream receives sequences in ascending order.
type SequenceFunc func(rec *core.Record)

// Insert appends rec to its stream.
func (s *Store) Insert(ctx context.Context, rec *core.Record) error {
	return s.InsertSequenced(ctx, rec, nil)
}

// InsertSequenced appends rec after assign has set its sequence. Records
// rejected by validation or a PreInsert listener never reach assign.
func (s *Store) InsertSequenced(ctx context.Context, rec *core.Record, assign SequenceFunc) (err error) {
	ctx, span := s.tracer.Start(ctx, "Store.Insert")
	defer span.End()
	defer func() {
		s.metrics.InsertTotal.Add(1)
		if err != nil {
			s.metrics.InsertErrorsTotal.Add(1)
			span.RecordError(err)
			span.SetStatus(codes.Error, "insert_failed")
		}
	}()

	if err := rec.Validate(); err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("event.domain", rec.Domain),
		attribute.String("event.name", rec.Name),
	)
	if err := s.hooks.Trigger(ctx, hooks.NewPreInsertEvent(hooks.PreInsertPayload{Record: rec})); err != nil {
		return err
	}
	// A listener may have rewritten the record.
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if assign != nil {
		assign(rec)
	}
	span.SetAttributes(attribute.Int64("event.seq", rec.Seq))
	h := s.handle(rec)
	err = h.Insert(rec)
	file := h.CurrentFile()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Failed to insert event.", "domain", rec.Domain, "name", rec.Name, "seq", rec.Seq, "error", err)
	}
	s.hooks.Trigger(ctx, hooks.NewPostInsertEvent(hooks.PostInsertPayload{Record: rec, File: file, Error: err}))
	return err
}

// handle returns the cached handle of rec's stream, creating it when absent.
// The caller must hold the exclusive lock.
func (s *Store) handle(rec *core.Record) *stream.Handle {
	key := stream.Key{Domain: core.NormalizeName(rec.Domain), Name: core.NormalizeName(rec.Name)}
	if h, ok := s.handles.Get(key); ok {
		return h
	}
	h := stream.New(key, stream.Options{
		Root:      s.opts.Dir,
		Writer:    s.writerOptions(rec.Category),
		Logger:    s.opts.Logger,
		OnNewFile: s.onNewFile(rec.Category),
	})
	s.handles.Put(key, h)
	s.metrics.OpenHandles.Add(1)
	return h
}

func (s *Store) writerOptions(c core.Category) doc.WriterOptions {
	q := s.opts.Quotas.Get(c)
	return doc.WriterOptions{
		Registry:     s.opts.Registry,
		PageSize:     q.PageSize,
		MaxFileSize:  q.MaxFileSize,
		SysVersion:   s.opts.SysVersion,
		PatchVersion: s.opts.PatchVersion,
		SyncWrites:   s.opts.SyncWrites,
		Logger:       s.opts.Logger,
	}
}

func (s *Store) onNewFile(c core.Category) func(string) {
	return func(path string) {
		s.metrics.FilesCreatedTotal.Add(1)
		s.hooks.Trigger(context.Background(), hooks.NewPostCreateFileEvent(hooks.FilePayload{Path: path, Category: c}))
	}
}

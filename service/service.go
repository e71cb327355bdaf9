// Package service wires the event store, query admission, sequence marker,
// backups and repeat detection into the facade used by the binary.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/INLOpen/nexusevent/backup"
	"github.com/INLOpen/nexusevent/clock"
	"github.com/INLOpen/nexusevent/config"
	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/export"
	"github.com/INLOpen/nexusevent/hooks"
	"github.com/INLOpen/nexusevent/query"
	"github.com/INLOpen/nexusevent/repeat"
	"github.com/INLOpen/nexusevent/sequence"
	"github.com/INLOpen/nexusevent/store"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"
)

var ErrClosed = errors.New("service is closed")

// Options carries the collaborators that do not come from the config file.
type Options struct {
	Quotas config.Quotas
	Logger *slog.Logger
	Tracer trace.Tracer
	Clock  clock.Clock
	// Hooks receives store and backup events. When nil the service owns a
	// private manager and stops it on Close.
	Hooks hooks.HookManager
	// PublishMetrics publishes the expvar counters under global names.
	PublishMetrics bool
}

// Service is the facade over one store directory.
type Service struct {
	cfg       *config.Config
	store     *store.Store
	seq       *sequence.Manager
	admission *query.Admission
	backups   *backup.Manager
	repeat    *repeat.Guard
	statusLog *query.StatusLog
	hooks     hooks.HookManager
	ownHooks  bool

	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock

	evictGroup    singleflight.Group
	evictChan     chan struct{}
	evictInterval time.Duration
	shutdownChan  chan struct{}
	wg            sync.WaitGroup

	closeOnce sync.Once
}

// LimitsFromConfig converts the query section of the config.
func LimitsFromConfig(qc config.QueryConfig, logger *slog.Logger) query.Limits {
	def := query.DefaultLimits()
	l := query.Limits{
		MaxInnerConditions: qc.MaxInnerConditions,
		InnerRowLimit:      qc.InnerRowLimit,
		ExternalRowLimit:   qc.ExternalRowLimit,
		MaxConcurrent:      qc.MaxConcurrent,
		FrequencyInterval:  config.ParseDuration(qc.FrequencyInterval, def.FrequencyInterval, logger),
		OverTime:           config.ParseDuration(qc.OverTime, def.OverTime, logger),
	}
	if l.MaxInnerConditions <= 0 {
		l.MaxInnerConditions = def.MaxInnerConditions
	}
	if l.InnerRowLimit <= 0 {
		l.InnerRowLimit = def.InnerRowLimit
	}
	if l.ExternalRowLimit <= 0 {
		l.ExternalRowLimit = def.ExternalRowLimit
	}
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = def.MaxConcurrent
	}
	return l
}

// New opens the store described by cfg. When the store has no sequence
// marker it is first restored from the backup archive, if one exists.
func New(cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		return nil, core.ErrNullInput
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("service")
	}
	if opts.Clock == nil {
		opts.Clock = clock.SystemClockDefault
	}
	ownHooks := false
	if opts.Hooks == nil {
		opts.Hooks = hooks.NewHookManager(opts.Logger)
		ownHooks = true
	}
	if opts.Quotas == nil {
		q, err := config.LoadQuotaFile(cfg.Store.QuotaFile)
		if err != nil {
			return nil, err
		}
		opts.Quotas = q
	}
	logger := opts.Logger.With("component", "Service")
	dir := cfg.Store.DataDir

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating store dir %s: %v", core.ErrIO, dir, err)
	}

	backups := backup.New(backup.Options{
		StoreDir:    dir,
		BackupDir:   cfg.Store.BackupDir,
		Compression: core.ParseCompressionType(cfg.Backup.Compression),
		Logger:      opts.Logger,
		Tracer:      opts.Tracer,
		Clock:       opts.Clock,
		Hooks:       opts.Hooks,
	})
	if !sequence.Exists(dir) && cfg.Store.BackupDir != "" {
		err := backups.Restore(context.Background())
		switch {
		case err == nil:
			logger.Info("Store restored from backup.", "archive", backups.ArchivePath())
		case errors.Is(err, backup.ErrSkipped):
		default:
			// Start empty rather than refusing to record new events.
			logger.Error("Failed to restore store from backup.", "error", err)
		}
	}

	st, err := store.Open(store.Options{
		Dir:           dir,
		Quotas:        opts.Quotas,
		CacheCapacity: cfg.Store.CacheCapacity,
		SysVersion:    cfg.Store.SysVersion,
		PatchVersion:  cfg.Store.PatchVersion,
		SyncWrites:    cfg.Store.SyncWrites,
		Logger:        opts.Logger,
		Tracer:        opts.Tracer,
		Clock:         opts.Clock,
		Hooks:         opts.Hooks,
		Metrics:       store.NewMetrics(opts.PublishMetrics, "nexusevent_store_"),
	})
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:           cfg,
		store:         st,
		seq:           sequence.NewManager(dir, opts.Logger),
		backups:       backups,
		hooks:         opts.Hooks,
		ownHooks:      ownHooks,
		logger:        logger,
		tracer:        opts.Tracer,
		clock:         opts.Clock,
		evictChan:     make(chan struct{}, 1),
		evictInterval: config.ParseDuration(cfg.Store.EvictInterval, 0, logger),
		shutdownChan:  make(chan struct{}),
	}

	statusLog, err := query.OpenStatusLog(dir)
	if err != nil {
		// Admission still works without its running-status log.
		logger.Warn("Failed to open running status log.", "error", err)
	}
	s.statusLog = statusLog
	s.admission = query.NewAdmission(query.AdmissionOptions{
		Limits:    LimitsFromConfig(cfg.Query, logger),
		Clock:     opts.Clock,
		Logger:    opts.Logger,
		Tracer:    opts.Tracer,
		StatusLog: statusLog,
		Metrics:   query.NewMetrics(opts.PublishMetrics, "nexusevent_query_"),
	})

	if cfg.Repeat.Enabled {
		g, err := repeat.Open(repeat.Options{
			Dir:     dir,
			Window:  config.ParseDuration(cfg.Repeat.Window, repeat.DefaultWindow, logger),
			MaxRows: cfg.Repeat.MaxRows,
			Clock:   opts.Clock,
			Logger:  opts.Logger,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.repeat = g
	}

	logger.Info("Event service started.", "dir", dir, "seq", s.seq.Current(), "repeat_guard", cfg.Repeat.Enabled)
	return s, nil
}

// Start runs the eviction loop. Without an evict interval eviction only
// runs when triggered.
func (s *Service) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var tick <-chan time.Time
		if s.evictInterval > 0 {
			ticker := time.NewTicker(s.evictInterval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case <-tick:
				s.runEvict()
			case <-s.evictChan:
				s.runEvict()
			case <-s.shutdownChan:
				s.logger.Info("Shutting down eviction loop.")
				return
			}
		}
	}()
	s.logger.Info("Started background eviction loop.", "interval", s.evictInterval)
}

func (s *Service) runEvict() {
	if _, err := s.Evict(context.Background()); err != nil {
		s.logger.Error("Background eviction failed.", "error", err)
	}
}

// TriggerEvict asks the eviction loop for a quota check.
func (s *Service) TriggerEvict() {
	select {
	case s.evictChan <- struct{}{}:
	default:
		s.logger.Debug("Eviction already pending, skipping trigger.")
	}
}

// Store exposes the underlying store.
func (s *Service) Store() *store.Store { return s.store }

// Admission exposes the query gate.
func (s *Service) Admission() *query.Admission { return s.admission }

// Insert assigns the next sequence to rec and writes it. A zero timestamp
// is replaced by the current time.
func (s *Service) Insert(ctx context.Context, rec *core.Record) error {
	if rec == nil {
		return core.ErrNullInput
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.store.InsertSequenced(ctx, rec, func(rec *core.Record) {
		seq, err := s.seq.Next()
		if err != nil {
			// The in-memory sequence advanced; the marker catches up on the
			// next successful write.
			s.logger.Warn("Inserting with unpersisted sequence.", "seq", seq, "error", err)
		}
		rec.Seq = seq
		if rec.Timestamp == 0 {
			rec.Timestamp = s.clock.Now().UnixMilli()
		}
	})
}

// CheckRepeat reports whether rec is a fault already seen within the repeat
// window and updates its log flag. It always reports false when the guard
// is disabled.
func (s *Service) CheckRepeat(ctx context.Context, rec *core.Record) (bool, error) {
	if s.repeat == nil {
		return false, nil
	}
	return s.repeat.Check(ctx, rec)
}

// Query runs q through admission control. cb receives the status code of
// the query; it may be nil.
func (s *Service) Query(ctx context.Context, q *query.Query, cb query.Callback) (*core.ResultSet, error) {
	if q == nil {
		return nil, core.ErrNullInput
	}
	return s.admission.Execute(ctx, s.store, q, cb)
}

// Export runs q and writes its results to a parquet file at path.
func (s *Service) Export(ctx context.Context, q *query.Query, path string, compression core.CompressionType) (int64, error) {
	rs, err := s.Query(ctx, q, nil)
	if err != nil {
		return 0, err
	}
	if rs == nil {
		return 0, nil
	}
	n, err := export.WriteResultSet(path, rs, compression)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Exported query results.", "path", path, "rows", n, "query", q.String())
	return n, nil
}

// Backup archives the store. Writers are held off and every open handle is
// closed so that the archive sees complete files.
func (s *Service) Backup(ctx context.Context) error {
	s.store.Lock()
	defer s.store.Unlock()
	s.store.CloseHandles()
	return s.backups.Backup(ctx)
}

// Restore replaces an empty store with the backup archive. It returns
// backup.ErrSkipped when the store already has a sequence marker or no
// archive exists.
func (s *Service) Restore(ctx context.Context) error {
	s.store.Lock()
	defer s.store.Unlock()
	s.store.CloseHandles()
	if err := s.backups.Restore(ctx); err != nil {
		return err
	}
	return s.seq.Reload()
}

// Evict applies the quotas. Concurrent callers share a single run.
func (s *Service) Evict(ctx context.Context) (store.EvictResult, error) {
	v, err, shared := s.evictGroup.Do("evict", func() (interface{}, error) {
		return s.store.Evict(ctx)
	})
	if shared {
		s.logger.Debug("Joined running eviction.")
	}
	res, _ := v.(store.EvictResult)
	return res, err
}

// Clear deletes every event file.
func (s *Service) Clear(ctx context.Context) (int, error) {
	return s.store.Clear(ctx)
}

// Stats summarises the store and the service counters.
type Stats struct {
	Store           store.Stats
	Sequence        int64
	RunningInner    int
	RunningExternal int
	InnerLatency    query.LatencySnapshot
	ExternalLatency query.LatencySnapshot
	RepeatHistory   int
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{
		Store:           st,
		Sequence:        s.seq.Current(),
		RunningInner:    s.admission.Running(query.Inner),
		RunningExternal: s.admission.Running(query.External),
		InnerLatency:    s.admission.Latency(query.Inner),
		ExternalLatency: s.admission.Latency(query.External),
	}
	if s.repeat != nil {
		out.RepeatHistory = s.repeat.Len()
	}
	return out, nil
}

// Close stops the eviction loop and releases the store.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		close(s.shutdownChan)
		s.wg.Wait()
		if s.repeat != nil {
			if err := s.repeat.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.store.Close(); err != nil {
			errs = append(errs, err)
		}
		if s.statusLog != nil {
			if err := s.statusLog.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.ownHooks {
			s.hooks.Stop()
		}
		s.logger.Info("Event service stopped.")
	})
	return errors.Join(errs...)
}

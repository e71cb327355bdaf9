package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/INLOpen/nexusevent/backup"
	"github.com/INLOpen/nexusevent/clock"
	"github.com/INLOpen/nexusevent/config"
	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/export"
	"github.com/INLOpen/nexusevent/query"
	"github.com/INLOpen/nexusevent/sequence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, dataDir, backupDir string) *config.Config {
	t.Helper()
	cfg, err := config.Load(nil)
	require.NoError(t, err)
	cfg.Store.DataDir = dataDir
	cfg.Store.BackupDir = backupDir
	cfg.Store.EvictInterval = ""
	return cfg
}

func newService(t *testing.T, cfg *config.Config, mc *clock.MockClock) *Service {
	t.Helper()
	opts := Options{}
	if mc != nil {
		opts.Clock = mc
	}
	s, err := New(cfg, opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func panicRecord(code int64) *core.Record {
	return &core.Record{
		Domain:   "KERNEL",
		Name:     "PANIC",
		Category: core.CategoryFault,
		Level:    "CRITICAL",
		Params:   core.Params{{Key: "CODE", Value: core.IntValue(code)}},
	}
}

func seqs(rs *core.ResultSet) []int64 {
	var out []int64
	for rs.HasNext() {
		out = append(out, rs.Next().Seq)
	}
	return out
}

func TestService_InsertAssignsSequence(t *testing.T) {
	dir := t.TempDir()
	mc := clock.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newService(t, testConfig(t, dir, ""), mc)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		rec := panicRecord(i)
		require.NoError(t, s.Insert(ctx, rec))
		assert.Equal(t, i, rec.Seq)
		assert.Equal(t, mc.Now().UnixMilli(), rec.Timestamp)
	}

	seq, found, err := sequence.Read(dir)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(3), seq)

	rs, err := s.Query(ctx, query.New("KERNEL", "PANIC"), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, seqs(rs))

	assert.ErrorIs(t, s.Insert(ctx, nil), core.ErrNullInput)
	bad := panicRecord(0)
	bad.Domain = ""
	assert.Error(t, s.Insert(ctx, bad))
	assert.Equal(t, int64(3), s.seq.Current(), "rejected records take no sequence")
}

func TestService_ConcurrentInsertsKeepStreamOrder(t *testing.T) {
	small := config.Quota{PageSize: 1, MaxFileSize: 300}
	s, err := New(testConfig(t, t.TempDir(), ""), Options{Quotas: config.Quotas{core.CategoryFault: small}})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	const workers, perWorker = 8, 40
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				assert.NoError(t, s.Insert(ctx, panicRecord(int64(w*perWorker+i))))
			}
		}(w)
	}
	wg.Wait()
	require.Equal(t, int64(workers*perWorker), s.seq.Current())

	// Every sequence is found by a query for exactly that sequence.
	for seq := int64(1); seq <= workers*perWorker; seq++ {
		rs, err := s.Query(ctx, query.New("KERNEL", "PANIC").Range(seq, seq+1), nil)
		require.NoError(t, err)
		require.Equal(t, []int64{seq}, seqs(rs), "seq %d", seq)
	}
}

func TestService_QueryAdmission(t *testing.T) {
	s := newService(t, testConfig(t, t.TempDir(), ""), nil)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, panicRecord(1)))

	q := query.New("KERNEL")
	q.Kind = query.External
	q.Limit = 5000
	var got []query.Status
	rs, err := s.Query(ctx, q, func(st query.Status) { got = append(got, st) })
	assert.Nil(t, rs)
	assert.True(t, query.IsRejected(err, query.StatusOverLimit))
	assert.Equal(t, []query.Status{query.StatusOverLimit}, got)

	_, err = s.Query(ctx, nil, nil)
	assert.ErrorIs(t, err, core.ErrNullInput)
}

func TestService_RestoreOnStartup(t *testing.T) {
	backupDir := t.TempDir()
	ctx := context.Background()

	first, err := New(testConfig(t, t.TempDir(), backupDir), Options{})
	require.NoError(t, err)
	for i := int64(1); i <= 3; i++ {
		require.NoError(t, first.Insert(ctx, panicRecord(i)))
	}
	require.NoError(t, first.Backup(ctx))
	require.NoError(t, first.Close())

	// A fresh data directory has no sequence marker, so it is restored.
	second := newService(t, testConfig(t, t.TempDir(), backupDir), nil)
	assert.Equal(t, int64(3), second.seq.Current())
	rs, err := second.Query(ctx, query.New("KERNEL"), nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, seqs(rs))

	rec := panicRecord(4)
	require.NoError(t, second.Insert(ctx, rec))
	assert.Equal(t, int64(4), rec.Seq)

	// The running store has a marker, so an explicit restore is skipped.
	assert.ErrorIs(t, second.Restore(ctx), backup.ErrSkipped)
}

func TestService_CheckRepeat(t *testing.T) {
	mc := clock.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	t.Run("enabled", func(t *testing.T) {
		s := newService(t, testConfig(t, t.TempDir(), ""), mc)
		repeated, err := s.CheckRepeat(ctx, panicRecord(1))
		require.NoError(t, err)
		assert.False(t, repeated)

		rec := panicRecord(1)
		repeated, err = s.CheckRepeat(ctx, rec)
		require.NoError(t, err)
		assert.True(t, repeated)
		assert.Equal(t, core.LogNotAllowPack|core.LogRepeat, rec.LogFlag)

		st, err := s.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, st.RepeatHistory)
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := testConfig(t, t.TempDir(), "")
		cfg.Repeat.Enabled = false
		s := newService(t, cfg, mc)
		for i := 0; i < 2; i++ {
			repeated, err := s.CheckRepeat(ctx, panicRecord(1))
			require.NoError(t, err)
			assert.False(t, repeated)
		}
	})
}

func TestService_ConcurrentEvictShareRun(t *testing.T) {
	s := newService(t, testConfig(t, t.TempDir(), ""), nil)
	ctx := context.Background()
	require.NoError(t, s.Insert(ctx, panicRecord(1)))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Evict(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	// Nothing is over quota.
	rs, err := s.Query(ctx, query.New("KERNEL"), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())
}

func TestService_BackgroundEvictLoop(t *testing.T) {
	s := newService(t, testConfig(t, t.TempDir(), ""), nil)
	s.Start()
	s.TriggerEvict()
	s.TriggerEvict()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestService_ExportClearStats(t *testing.T) {
	dir := t.TempDir()
	s := newService(t, testConfig(t, dir, ""), nil)
	ctx := context.Background()
	for i := int64(1); i <= 4; i++ {
		require.NoError(t, s.Insert(ctx, panicRecord(i)))
	}

	path := filepath.Join(t.TempDir(), "panic.parquet")
	n, err := s.Export(ctx, query.New("KERNEL", "PANIC"), path, core.CompressionZSTD)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	rows, err := export.ReadRows(path)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, int64(4), rows[0].Seq)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Sequence)
	assert.Equal(t, 1, st.Store.TotalFiles)
	assert.Equal(t, 1, st.Store.Categories[core.CategoryFault].Files)

	deleted, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	rs, err := s.Query(ctx, query.New("KERNEL"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rs.Len())
}

func TestLimitsFromConfig(t *testing.T) {
	l := LimitsFromConfig(config.QueryConfig{InnerRowLimit: 10, FrequencyInterval: "bogus", OverTime: "5s"}, nil)
	def := query.DefaultLimits()
	assert.Equal(t, 10, l.InnerRowLimit)
	assert.Equal(t, def.ExternalRowLimit, l.ExternalRowLimit)
	assert.Equal(t, def.FrequencyInterval, l.FrequencyInterval)
	assert.Equal(t, 5*time.Second, l.OverTime)
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(nil, Options{})
	assert.True(t, errors.Is(err, core.ErrNullInput))
}

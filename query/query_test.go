package query

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/INLOpen/nexusevent/clock"
	"github.com/INLOpen/nexusevent/cond"
	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	calls      atomic.Int32
	blockFirst int32
	entered    chan struct{}
	block      chan struct{}
	onQuery    func()

	mu       sync.Mutex
	lastOpts store.QueryOptions
	lastDQ   *cond.DocQuery
}

func newBlockingExecutor(n int32) *fakeExecutor {
	return &fakeExecutor{blockFirst: n, entered: make(chan struct{}, n), block: make(chan struct{})}
}

func (f *fakeExecutor) Query(_ context.Context, _ core.QueryArgument, dq *cond.DocQuery, opts store.QueryOptions) (*core.ResultSet, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.lastOpts = opts
	f.lastDQ = dq
	f.mu.Unlock()
	if n <= f.blockFirst {
		f.entered <- struct{}{}
		<-f.block
	}
	if f.onQuery != nil {
		f.onQuery()
	}
	return core.NewResultSet([]core.Entry{{Seq: int64(n)}}), nil
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) callback() Callback {
	return func(s Status) {
		r.mu.Lock()
		r.statuses = append(r.statuses, s)
		r.mu.Unlock()
	}
}

func (r *statusRecorder) get() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}

func newTestAdmission(t *testing.T, clk clock.Clock) (*Admission, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	a := NewAdmission(AdmissionOptions{Clock: clk, StatusLog: NewStatusLog(&buf)})
	return a, &buf
}

// fillSlots starts n blocked queries of kind k and waits until all of them
// are executing.
func fillSlots(t *testing.T, a *Admission, ex *fakeExecutor, k Kind, n int) *sync.WaitGroup {
	t.Helper()
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Execute(context.Background(), ex, &Query{Kind: k}, nil)
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < n; i++ {
		select {
		case <-ex.entered:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for running queries")
		}
	}
	return &wg
}

func TestAdmission_ConcurrentInnerQueriesOnlyWarn(t *testing.T) {
	a, log := newTestAdmission(t, nil)
	ex := newBlockingExecutor(4)
	wg := fillSlots(t, a, ex, Inner, 4)
	assert.Equal(t, 4, a.Running(Inner))

	var rec statusRecorder
	rs, err := a.Execute(context.Background(), ex, &Query{Kind: Inner}, rec.callback())
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())
	assert.Equal(t, []Status{StatusConcurrent, StatusSucceed}, rec.get())
	assert.Contains(t, log.String(), logTooManyConcurrent)

	close(ex.block)
	wg.Wait()
	assert.Zero(t, a.Running(Inner))
	assert.Equal(t, int64(1), a.metrics.WarningsTotal.Value())
}

func TestAdmission_ConcurrentExternalQueryRejected(t *testing.T) {
	a, _ := newTestAdmission(t, nil)
	ex := newBlockingExecutor(4)
	wg := fillSlots(t, a, ex, External, 4)

	var rec statusRecorder
	rs, err := a.Execute(context.Background(), ex, &Query{Kind: External}, rec.callback())
	assert.Nil(t, rs)
	assert.True(t, IsRejected(err, StatusConcurrent))
	assert.Equal(t, []Status{StatusConcurrent}, rec.get())
	assert.Equal(t, int32(4), ex.calls.Load())

	// Inner queries have their own counter.
	_, err = a.Execute(context.Background(), ex, &Query{Kind: Inner}, nil)
	require.NoError(t, err)

	close(ex.block)
	wg.Wait()
	assert.Zero(t, a.Running(External))
	_, err = a.Execute(context.Background(), ex, &Query{Kind: External}, nil)
	assert.NoError(t, err)
}

func TestAdmission_Frequency(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	a, log := newTestAdmission(t, clk)
	ex := &fakeExecutor{}
	q := func(pid uint32, k Kind) *Query {
		return &Query{Kind: k, Caller: Caller{PID: pid, Process: "collector"}, FrequencyCheck: true}
	}

	_, err := a.Execute(context.Background(), ex, q(7, External), nil)
	require.NoError(t, err)

	var rec statusRecorder
	_, err = a.Execute(context.Background(), ex, q(7, External), rec.callback())
	assert.True(t, IsRejected(err, StatusTooFrequent))
	assert.Equal(t, []Status{StatusTooFrequent}, rec.get())
	assert.Contains(t, log.String(), logTooFrequent)
	assert.Contains(t, log.String(), "process=collector")

	_, err = a.Execute(context.Background(), ex, q(8, External), nil)
	assert.NoError(t, err, "other processes are not affected")

	unchecked := q(7, External)
	unchecked.FrequencyCheck = false
	_, err = a.Execute(context.Background(), ex, unchecked, nil)
	assert.NoError(t, err)

	clk.Advance(time.Second)
	_, err = a.Execute(context.Background(), ex, q(7, External), nil)
	assert.True(t, IsRejected(err, StatusTooFrequent))

	clk.Advance(time.Millisecond)
	_, err = a.Execute(context.Background(), ex, q(7, External), nil)
	assert.NoError(t, err)

	t.Run("inner queries only warn", func(t *testing.T) {
		_, err := a.Execute(context.Background(), ex, q(9, Inner), nil)
		require.NoError(t, err)
		var rec statusRecorder
		rs, err := a.Execute(context.Background(), ex, q(9, Inner), rec.callback())
		require.NoError(t, err)
		assert.NotNil(t, rs)
		assert.Equal(t, []Status{StatusTooFrequent, StatusSucceed}, rec.get())
	})
}

func TestAdmission_RowLimit(t *testing.T) {
	a, log := newTestAdmission(t, nil)
	ex := &fakeExecutor{}

	var rec statusRecorder
	_, err := a.Execute(context.Background(), ex, &Query{Kind: External, Limit: 1001}, rec.callback())
	assert.True(t, IsRejected(err, StatusOverLimit))
	assert.Equal(t, []Status{StatusOverLimit}, rec.get())
	assert.Zero(t, ex.calls.Load())
	assert.Contains(t, log.String(), logCountOverLimit)

	rec = statusRecorder{}
	_, err = a.Execute(context.Background(), ex, &Query{Kind: Inner, Limit: 51}, rec.callback())
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusOverLimit, StatusSucceed}, rec.get())
	assert.Equal(t, 51, ex.lastOpts.Limit)

	q := &Query{Kind: External}
	_, err = a.Execute(context.Background(), ex, q, nil)
	require.NoError(t, err)
	assert.Equal(t, 1000, ex.lastOpts.Limit, "an unset limit takes the class limit")
	assert.Zero(t, q.Limit, "the caller's query is not modified")
}

func TestAdmission_ConditionCount(t *testing.T) {
	a, log := newTestAdmission(t, nil)
	ex := &fakeExecutor{}

	q := New("KERNEL")
	for i := 0; i < 9; i++ {
		q.Where(cond.New(cond.ColPID, cond.OpNE, core.IntValue(int64(i))))
	}
	q.Kind = Inner
	_, err := a.Execute(context.Background(), ex, q, nil)
	assert.True(t, IsRejected(err, StatusOverLimit))
	assert.Contains(t, log.String(), logTooManyConditions)
	assert.Zero(t, ex.calls.Load())

	q.Kind = External
	_, err = a.Execute(context.Background(), ex, q, nil)
	require.NoError(t, err)
	require.NotNil(t, ex.lastDQ)
	assert.Len(t, ex.lastDQ.Inner, 9)
}

func TestAdmission_OverTime(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	a, log := newTestAdmission(t, clk)
	ex := &fakeExecutor{onQuery: func() { clk.Advance(20 * time.Second) }}

	var rec statusRecorder
	rs, err := a.Execute(context.Background(), ex, &Query{Kind: External}, rec.callback())
	assert.Nil(t, rs)
	assert.True(t, IsRejected(err, StatusOverTime))
	assert.Equal(t, []Status{StatusOverTime}, rec.get())
	assert.Contains(t, log.String(), logOverTime)

	rec = statusRecorder{}
	rs, err = a.Execute(context.Background(), ex, &Query{Kind: Inner}, rec.callback())
	require.NoError(t, err)
	assert.Equal(t, 1, rs.Len())
	assert.Equal(t, []Status{StatusOverTime, StatusSucceed}, rec.get())

	ex.onQuery = func() { clk.Advance(19 * time.Second) }
	rec = statusRecorder{}
	_, err = a.Execute(context.Background(), ex, &Query{Kind: External}, rec.callback())
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusSucceed}, rec.get())

	lat := a.Latency(External)
	assert.Equal(t, int64(2), lat.Count)
	assert.InDelta(t, 20000, lat.Max, 1)
	assert.Zero(t, a.Running(External))
}

func TestAdmission_AgainstStore(t *testing.T) {
	s, err := store.Open(store.Options{Dir: t.TempDir(), SysVersion: "1.0"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	for seq := int64(1); seq <= 6; seq++ {
		require.NoError(t, s.Insert(context.Background(), &core.Record{
			Domain: "KERNEL", Name: "PANIC", Category: core.CategoryFault, Level: "CRITICAL",
			Seq: seq, Timestamp: 1700000000000 + seq, PID: uint32(seq),
		}))
	}

	a := NewAdmission(AdmissionOptions{})
	q := New("KERNEL", "PANIC").Where(cond.New(cond.ColPID, cond.OpGT, core.IntValue(2))).Range(1, 6)
	q.Kind = External
	q.Limit = 2
	rs, err := a.Execute(context.Background(), s, q, nil)
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())
	assert.Equal(t, int64(5), rs.Entries()[0].Seq)
	assert.Equal(t, int64(4), rs.Entries()[1].Seq)
	assert.True(t, rs.HasMore)
}

func TestQuery_String(t *testing.T) {
	q := New("KERNEL", "PANIC", "HANG").
		Where(cond.New("MSG", cond.OpSW, core.StringValue("boot"))).
		Range(10, 20)
	q.Limit = 50
	assert.Equal(t, `domain_ = "KERNEL" AND name_ IN (PANIC,HANG) AND seq_ >= 10 AND seq_ < 20 AND MSG SW "boot" ORDER BY seq_ DESC LIMIT 50`, q.String())

	empty := &Query{Order: core.Ascending, OrderBy: core.OrderByTime}
	assert.Equal(t, "* ORDER BY time_ ASC LIMIT 0", empty.String())
}

func TestStatusLog_File(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenStatusLog(dir)
	require.NoError(t, err)
	a := NewAdmission(AdmissionOptions{StatusLog: l})
	_, err = a.Execute(context.Background(), &fakeExecutor{}, &Query{Kind: External, Limit: 5000}, nil)
	require.Error(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

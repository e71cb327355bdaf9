package listeners

import (
	"bytes"
	"context"
	"expvar"
	"log/slog"
	"testing"

	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutlierDetectionListener_OnEvent(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	listener := NewOutlierDetectionListener(logger, []OutlierRule{
		{Domain: "POWER", Name: "BATTERY", Param: "TEMP", Thresholds: Thresholds{Min: -10, Max: 60}},
	})

	newEvent := func(name string, temp core.Value) hooks.HookEvent {
		rec := &core.Record{Domain: "POWER", Name: name, Params: core.Params{{Key: "TEMP", Value: temp}}}
		return hooks.NewPreInsertEvent(hooks.PreInsertPayload{Record: rec})
	}

	t.Run("DetectsOutlier", func(t *testing.T) {
		logBuf.Reset()
		require.NoError(t, listener.OnEvent(context.Background(), newEvent("BATTERY", core.FloatValue(72.5))))
		out := logBuf.String()
		assert.Contains(t, out, "Outlier detected")
		assert.Contains(t, out, `"param":"TEMP"`)
		assert.Contains(t, out, `"value":72.5`)
	})

	t.Run("NegativeIntOutlier", func(t *testing.T) {
		logBuf.Reset()
		require.NoError(t, listener.OnEvent(context.Background(), newEvent("BATTERY", core.IntValue(-20))))
		assert.Contains(t, logBuf.String(), "Outlier detected")
	})

	t.Run("InRangeAndUnmatched", func(t *testing.T) {
		logBuf.Reset()
		require.NoError(t, listener.OnEvent(context.Background(), newEvent("BATTERY", core.UintValue(30))))
		require.NoError(t, listener.OnEvent(context.Background(), newEvent("CHARGER", core.FloatValue(99))))
		require.NoError(t, listener.OnEvent(context.Background(), newEvent("BATTERY", core.StringValue("hot"))))
		assert.Empty(t, logBuf.String())
	})

	t.Run("IgnoresOtherEvents", func(t *testing.T) {
		logBuf.Reset()
		require.NoError(t, listener.OnEvent(context.Background(), hooks.NewPostClearEvent(hooks.PostClearPayload{})))
		assert.Empty(t, logBuf.String())
	})
}

func TestFileAlerterListener_OnEvent(t *testing.T) {
	var logBuf bytes.Buffer
	listener := NewFileAlerterListener(slog.New(slog.NewJSONHandler(&logBuf, nil)))
	assert.True(t, listener.IsAsync())

	event := hooks.NewPostCreateFileEvent(hooks.FilePayload{Path: "/data/KERNEL/PANIC-1-CRITICAL-9.db", Category: core.CategoryFault})
	require.NoError(t, listener.OnEvent(context.Background(), event))
	assert.Contains(t, logBuf.String(), "New event file created")
	assert.Contains(t, logBuf.String(), `"category":"FAULT"`)
}

func TestEvictionStatsListener_OnEvent(t *testing.T) {
	initEvictMetrics()
	evictedFilesTotal.Set(0)
	evictedBytesTotal.Set(0)
	evictPassesTotal.Set(0)

	listener := NewEvictionStatsListener(nil)
	ctx := context.Background()
	require.NoError(t, listener.OnEvent(ctx, hooks.NewPostEvictFileEvent(hooks.FilePayload{Path: "a.db", Size: 1000})))
	require.NoError(t, listener.OnEvent(ctx, hooks.NewPostEvictFileEvent(hooks.FilePayload{Path: "b.db", Size: 3000})))
	require.NoError(t, listener.OnEvent(ctx, hooks.NewPostEvictEvent(hooks.EvictPayload{DeletedFiles: 2, FreedBytes: 4000})))
	// Same payload type under another event is ignored.
	require.NoError(t, listener.OnEvent(ctx, hooks.NewPostCreateFileEvent(hooks.FilePayload{Path: "c.db", Size: 50})))

	assert.Equal(t, int64(2), evictedFilesTotal.Value())
	assert.Equal(t, int64(4000), evictedBytesTotal.Value())
	assert.Equal(t, int64(1), evictPassesTotal.Value())

	perPass := expvar.Get("eventstore_evicted_bytes_per_pass")
	require.NotNil(t, perPass)
	assert.Equal(t, "4000", perPass.String())
}

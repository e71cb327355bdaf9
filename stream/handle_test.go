package stream

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/INLOpen/nexusevent/codec"
	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/doc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(seq int64, msgLen int) *core.Record {
	return &core.Record{
		Domain:    "D",
		Name:      "N",
		Category:  core.CategoryStatistic,
		Level:     "MINOR",
		Seq:       seq,
		Timestamp: 1000 + seq,
		Params:    core.Params{{Key: "MSG", Value: core.StringValue(strings.Repeat("m", msgLen))}},
	}
}

func recordSize(t *testing.T, r *core.Record) int64 {
	buf := core.AcquireBuffer()
	defer buf.Release()
	require.NoError(t, codec.EncodeRecord(codec.NewRegistry().Current(), buf, r))
	return int64(buf.Len())
}

func listFiles(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func onePageOptions(root string) Options {
	const sysVersion = "1.0"
	hdr := codec.NewRegistry().Current().FileHeaderSize(core.FileHeader{SysVersion: sysVersion})
	return Options{
		Root: root,
		Writer: doc.WriterOptions{
			PageSize:    1,
			MaxFileSize: int64(hdr) + core.KiB,
			SysVersion:  sysVersion,
		},
	}
}

func TestHandle_RollsToFileNamedAfterSequence(t *testing.T) {
	root := t.TempDir()
	var created []string
	opts := onePageOptions(root)
	opts.OnNewFile = func(path string) { created = append(created, filepath.Base(path)) }
	h := New(Key{Domain: "D", Name: "N"}, opts)
	defer h.Close()

	first, big, small := record(5, 300), record(6, 800), record(7, 10)
	firstSize, bigSize, smallSize := recordSize(t, first), recordSize(t, big), recordSize(t, small)
	require.Greater(t, firstSize+bigSize, int64(core.KiB), "second record must not fit the first page")
	require.LessOrEqual(t, bigSize+smallSize, int64(core.KiB), "third record must fit behind the second")

	require.NoError(t, h.Insert(first))
	assert.Equal(t, []string{"N-2-MINOR-5.db"}, listFiles(t, filepath.Join(root, "D")))

	require.NoError(t, h.Insert(big))
	require.NoError(t, h.Insert(small))
	assert.ElementsMatch(t, []string{"N-2-MINOR-5.db", "N-2-MINOR-6.db"}, listFiles(t, filepath.Join(root, "D")))
	assert.Equal(t, []string{"N-2-MINOR-5.db", "N-2-MINOR-6.db"}, created)
	assert.Equal(t, filepath.Join(root, "D", "N-2-MINOR-6.db"), h.CurrentFile())

	entries, err := h.Query(nil, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(6), entries[0].Seq)
	assert.Equal(t, int64(7), entries[1].Seq)
}

func TestHandle_ReopenContinuesLatestFile(t *testing.T) {
	root := t.TempDir()
	opts := onePageOptions(root)
	opts.Writer.MaxFileSize = 0

	h := New(Key{Domain: "D", Name: "N"}, opts)
	require.NoError(t, h.Insert(record(1, 10)))
	require.NoError(t, h.Close())

	reopened := New(Key{Domain: "D", Name: "N"}, opts)
	defer reopened.Close()

	entries, err := reopened.Query(nil, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1, "query binds to the latest file before any insert")

	require.NoError(t, reopened.Insert(record(2, 10)))
	assert.Equal(t, []string{"N-2-MINOR-1.db"}, listFiles(t, filepath.Join(root, "D")))

	entries, err = reopened.Query(nil, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestHandle_QueryEmptyStream(t *testing.T) {
	h := New(Key{Domain: "D", Name: "N"}, Options{Root: t.TempDir()})
	entries, err := h.Query(nil, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.ErrorIs(t, h.Insert(nil), core.ErrNullInput)
}

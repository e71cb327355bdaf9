package export

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/INLOpen/nexusevent/codec"
	"github.com/INLOpen/nexusevent/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(seq int64, msg string) core.Entry {
	params := core.Params{
		{Key: "MSG", Value: core.StringValue(msg)},
		{Key: "CODE", Value: core.IntValue(seq * 10)},
	}
	return core.Entry{
		Seq:       seq,
		Timestamp: 1700000000000 + seq,
		Value:     codec.AppendParams(nil, params),
		Header: core.RecordHeader{
			Seq:       seq,
			Timestamp: 1700000000000 + seq,
			PID:       uint32(100 + seq),
			Type:      core.CategoryFault.TypeBits(),
			LogFlag:   core.LogPacked,
		},
		Stream: core.StreamInfo{Domain: "KERNEL", Name: "PANIC", Category: core.CategoryFault, Level: "CRITICAL"},
	}
}

func TestWriteResultSet(t *testing.T) {
	for _, ct := range []core.CompressionType{core.CompressionZSTD, core.CompressionSnappy, core.CompressionNone} {
		t.Run(ct.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "out", "events.parquet")
			rs := core.NewResultSet([]core.Entry{entry(3, "boot"), entry(2, "oops"), entry(1, "init")})

			n, err := WriteResultSet(path, rs, ct)
			require.NoError(t, err)
			assert.Equal(t, int64(3), n)
			assert.False(t, rs.HasNext())

			rows, err := ReadRows(path)
			require.NoError(t, err)
			require.Len(t, rows, 3)
			assert.Equal(t, []int64{3, 2, 1}, []int64{rows[0].Seq, rows[1].Seq, rows[2].Seq})

			first := rows[0]
			assert.Equal(t, "KERNEL", first.Domain)
			assert.Equal(t, "PANIC", first.Name)
			assert.Equal(t, "FAULT", first.Category)
			assert.Equal(t, "CRITICAL", first.Level)
			assert.Equal(t, int64(103), first.PID)
			assert.Equal(t, int64(1700000000003), first.TimestampMs)
			assert.Equal(t, int32(core.LogPacked), first.LogFlag)

			var params map[string]any
			require.NoError(t, json.Unmarshal([]byte(first.Params), &params))
			assert.Equal(t, "boot", params["MSG"])
			assert.EqualValues(t, 30, params["CODE"])
		})
	}
}

func TestWriter_Closed(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "events.parquet"), core.CompressionZSTD)
	require.NoError(t, err)
	require.NoError(t, w.Write([]core.Entry{entry(1, "a")}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.Write([]core.Entry{entry(2, "b")}), ErrWriterClosed)
	assert.Equal(t, int64(1), w.RowCount())
}

func TestEntryToRow_BadPayload(t *testing.T) {
	e := entry(1, "a")
	e.Value = []byte{0xff}
	_, err := EntryToRow(e)
	assert.Error(t, err)
}

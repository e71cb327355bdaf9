// Package export writes query results to columnar files for offline analysis.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/INLOpen/nexusevent/codec"
	"github.com/INLOpen/nexusevent/core"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = errors.New("parquet writer is closed")

// Row is one exported event. Payload parameters are kept as a JSON object.
type Row struct {
	Domain      string `parquet:"domain,dict"`
	Name        string `parquet:"name,dict"`
	Category    string `parquet:"category,dict"`
	Level       string `parquet:"level,dict"`
	Tag         string `parquet:"tag,optional"`
	Seq         int64  `parquet:"seq"`
	TimestampMs int64  `parquet:"timestamp_ms"`
	TZ          int32  `parquet:"tz"`
	UID         int64  `parquet:"uid"`
	PID         int64  `parquet:"pid"`
	TID         int64  `parquet:"tid"`
	HashID      int64  `parquet:"hash_id"`
	TraceOpened bool   `parquet:"trace_opened"`
	LogFlag     int32  `parquet:"log_flag"`
	Params      string `parquet:"params,zstd"`
}

// EntryToRow converts a query result.
func EntryToRow(e core.Entry) (Row, error) {
	params, err := paramsJSON(e.Value)
	if err != nil {
		return Row{}, fmt.Errorf("seq %d: %w", e.Seq, err)
	}
	return Row{
		Domain:      e.Stream.Domain,
		Name:        e.Stream.Name,
		Category:    core.CategoryFromTypeBits(e.Header.Type).String(),
		Level:       e.Stream.Level,
		Tag:         e.Stream.Tag,
		Seq:         e.Seq,
		TimestampMs: e.Timestamp,
		TZ:          int32(e.Header.TZ),
		UID:         int64(e.Header.UID),
		PID:         int64(e.Header.PID),
		TID:         int64(e.Header.TID),
		HashID:      int64(e.Header.HashID),
		TraceOpened: e.Header.TraceOpened,
		LogFlag:     int32(e.Header.LogFlag),
		Params:      params,
	}, nil
}

func paramsJSON(payload []byte) (string, error) {
	params, err := codec.DecodeParams(payload)
	if err != nil {
		return "", err
	}
	fields := make(map[string]any, len(params))
	for _, p := range params {
		fields[p.Key] = p.Value.Interface()
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return "", fmt.Errorf("building params struct: %w", err)
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parquetCodec(ct core.CompressionType) compress.Codec {
	switch ct {
	case core.CompressionSnappy:
		return &parquet.Snappy
	case core.CompressionLZ4:
		return &parquet.Lz4Raw
	case core.CompressionZSTD:
		return &parquet.Zstd
	default:
		return &parquet.Uncompressed
	}
}

// Writer appends event rows to a parquet file.
type Writer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[Row]
	rowCount int64
	closed   bool
}

// NewWriter creates path, and its directory when needed.
func NewWriter(path string, compression core.CompressionType) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", core.ErrIO, path, err)
	}
	return &Writer{
		path:   path,
		file:   f,
		writer: parquet.NewGenericWriter[Row](f, parquet.Compression(parquetCodec(compression))),
	}, nil
}

// Write converts and writes entries.
func (w *Writer) Write(entries []core.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]Row, len(entries))
	for i := range entries {
		row, err := EntryToRow(entries[i])
		if err != nil {
			return err
		}
		rows[i] = row
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	w.rowCount += int64(n)
	return nil
}

// Close flushes the footer and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *Writer) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

func (w *Writer) Path() string { return w.path }

// WriteResultSet exports the remaining entries of rs to path and returns the
// number of rows written.
func WriteResultSet(path string, rs *core.ResultSet, compression core.CompressionType) (int64, error) {
	w, err := NewWriter(path, compression)
	if err != nil {
		return 0, err
	}
	var batch []core.Entry
	for rs.HasNext() {
		batch = append(batch, rs.Next())
	}
	if err := w.Write(batch); err != nil {
		w.Close()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.RowCount(), nil
}

// ReadRows loads every row of an exported file.
func ReadRows(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[Row](f)
	defer reader.Close()
	rows := make([]Row, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}

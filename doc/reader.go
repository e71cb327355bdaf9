package doc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/INLOpen/nexusevent/codec"
	"github.com/INLOpen/nexusevent/cond"
	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/sys"
)

// maxRegionSize bounds the bytes read at once from a file without pages.
const maxRegionSize = 64 * core.MiB

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	Registry *codec.Registry
	Logger   *slog.Logger
}

// Reader scans the records of one event file.
type Reader struct {
	path   string
	stream core.StreamInfo
	reg    *codec.Registry
	logger *slog.Logger
}

// NewReader returns a reader for path. The stream context (domain, name,
// category, level) is recovered from the path.
func NewReader(path string, opts ReaderOptions) *Reader {
	if opts.Registry == nil {
		opts.Registry = codec.NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	info := core.StreamInfo{Domain: filepath.Base(filepath.Dir(path))}
	if fn, err := core.ParseEventFileName(filepath.Base(path)); err == nil {
		info.Name = fn.Name
		info.Category = fn.Category
		info.Level = fn.Level
	}
	return &Reader{
		path:   path,
		stream: info,
		reg:    opts.Registry,
		logger: logger.With("component", "Reader", "path", path),
	}
}

// Path returns the file being read.
func (r *Reader) Path() string { return r.path }

// Read returns up to limit matching entries in file order. limit <= 0 reads
// every match.
func (r *Reader) Read(q *cond.DocQuery, limit int) ([]core.Entry, error) {
	var out []core.Entry
	err := r.Scan(q, func(e core.Entry) bool {
		out = append(out, e)
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// Scan calls fn for every record matching q, in file order, until fn returns
// false. Inner conditions are checked on the record header before the
// payload is decoded; extra conditions only run for records that pass.
func (r *Reader) Scan(q *cond.DocQuery, fn func(core.Entry) bool) error {
	return r.walk(func(c *codec.Codec, h *core.RecordHeader, rec []byte, stream *core.StreamInfo) bool {
		if !q.MatchInner(h) {
			return true
		}
		payload, err := c.Payload(rec, *h)
		if err != nil {
			r.logger.Debug("Skipping record with inconsistent size.", "seq", h.Seq, "error", err)
			return true
		}
		if q.HasExtra() {
			params, err := codec.DecodeParams(payload)
			if err != nil {
				r.logger.Debug("Skipping record with undecodable payload.", "seq", h.Seq, "error", err)
				return true
			}
			if !q.MatchExtra(params) {
				return true
			}
		}
		return fn(core.Entry{
			Seq:       h.Seq,
			Timestamp: h.Timestamp,
			Value:     bytes.Clone(payload),
			Header:    *h,
			Stream:    *stream,
		})
	})
}

// ReadRaw calls fn with the header and the raw encoded bytes of every record.
// raw is only valid during the call.
func (r *Reader) ReadRaw(fn func(h core.RecordHeader, raw []byte) bool) error {
	return r.walk(func(_ *codec.Codec, h *core.RecordHeader, rec []byte, _ *core.StreamInfo) bool {
		return fn(*h, rec)
	})
}

type recordVisitor func(c *codec.Codec, h *core.RecordHeader, rec []byte, stream *core.StreamInfo) bool

// walk visits every readable record. A size prefix outside the valid range
// ends the current page, and the walk resumes at the next one.
func (r *Reader) walk(visit recordVisitor) error {
	f, err := sys.Open(r.path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", core.ErrIO, r.path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", core.ErrIO, r.path, err)
	}
	fileSize := st.Size()

	c, hdr, err := r.reg.ReadFileHeader(f)
	if err != nil {
		return fmt.Errorf("reading header of %s: %w", r.path, err)
	}
	stream := r.stream
	stream.Tag = hdr.Tag

	start := hdr.Size()
	pageBytes := hdr.PageBytes()
	if pageBytes == 0 {
		pageBytes = fileSize - start
		if pageBytes > maxRegionSize {
			return fmt.Errorf("%w: %s: unpaged region of %d bytes", core.ErrTooLarge, r.path, pageBytes)
		}
	}

	buf := core.AcquireBuffer()
	defer buf.Release()

	minSize := c.MinRecordSize()
	for off := start; off < fileSize; off += pageBytes {
		n := min(pageBytes, fileSize-off)
		page := buf.Resize(int(n))
		if _, err := f.ReadAt(page, off); err != nil && err != io.EOF {
			return fmt.Errorf("%w: reading page at %d of %s: %v", core.ErrIO, off, r.path, err)
		}
		for pos := 0; pos+core.SizePrefixSize <= len(page); {
			size := int(binary.LittleEndian.Uint32(page[pos:]))
			if size < minSize || size > core.MaxRecordSize || pos+size > len(page) {
				if size != 0 {
					r.logger.Warn("Invalid record size, skipping rest of page.", "page_offset", off, "record_offset", pos, "size", size)
				}
				break
			}
			rec := page[pos : pos+size]
			h, err := c.ReadRecordHeader(rec)
			if err != nil {
				r.logger.Warn("Corrupt record header, skipping rest of page.", "page_offset", off, "record_offset", pos, "error", err)
				break
			}
			if !visit(c, &h, rec, &stream) {
				return nil
			}
			pos += size
		}
	}
	return nil
}

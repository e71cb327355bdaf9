package doc

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/nexusevent/codec"
	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/sys"
)

// WriterOptions configures a Writer.
type WriterOptions struct {
	Registry *codec.Registry
	// PageSize is the page size in KiB written into new file headers.
	PageSize uint8
	// MaxFileSize bounds the file in bytes; 0 disables the bound.
	MaxFileSize int64
	// SysVersion and PatchVersion identify the running system. A file written
	// under another version is never appended to.
	SysVersion   string
	PatchVersion string
	// SyncWrites fsyncs the file after every record.
	SyncWrites bool
	Logger     *slog.Logger
}

// Writer appends records to one event file. Records never cross a page
// boundary: when the current page is too short the remainder is zero padded.
type Writer struct {
	opts   WriterOptions
	codec  *codec.Codec
	file   sys.FileHandle
	path   string
	size   int64
	header *core.FileHeader
	logger *slog.Logger
}

// OpenWriter opens path for appending, creating it when missing.
func OpenWriter(path string, opts WriterOptions) (w *Writer, err error) {
	if opts.Registry == nil {
		opts.Registry = codec.NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f, err := sys.OpenAppend(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s for append: %v", core.ErrIO, path, err)
	}
	defer func() {
		if err != nil {
			f.Close()
		}
	}()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", core.ErrIO, path, err)
	}
	return &Writer{
		opts:   opts,
		codec:  opts.Registry.Current(),
		file:   f,
		path:   path,
		size:   st.Size(),
		logger: logger.With("component", "Writer", "path", path),
	}, nil
}

// Path returns the file the writer appends to.
func (w *Writer) Path() string { return w.path }

// Size returns the current file size in bytes.
func (w *Writer) Size() int64 { return w.size }

// Write appends rec. WriteNeedsNewFile is returned, without writing, when the
// record cannot be placed in this file.
func (w *Writer) Write(rec *core.Record) (core.WriteStatus, error) {
	if rec == nil {
		return core.WriteError, core.ErrNullInput
	}
	payload := core.AcquireBuffer()
	defer payload.Release()
	payload.B = codec.AppendParams(payload.B, rec.Params)

	n := int64(w.codec.RecordHeaderSize() + len(payload.B) + core.ChecksumSize)
	if n > core.MaxRecordSize {
		return core.WriteError, fmt.Errorf("%w: record seq %d is %d bytes", core.ErrTooLarge, rec.Seq, n)
	}

	out := core.AcquireBuffer()
	defer out.Release()

	if w.size == 0 {
		return w.writeFirst(out, rec, payload.B, n)
	}

	hdr, status := w.checkHeader()
	if status != core.WriteSuccess {
		return status, nil
	}
	pageBytes := hdr.PageBytes()
	if pageBytes == 0 || n > pageBytes {
		return core.WriteNeedsNewFile, nil
	}
	if w.opts.MaxFileSize > 0 && w.size >= w.opts.MaxFileSize {
		return core.WriteNeedsNewFile, nil
	}

	used := (w.size - hdr.Size()) % pageBytes
	var pad int64
	if remain := pageBytes - used; n > remain {
		pad = remain
	}
	if w.opts.MaxFileSize > 0 && w.size+pad+n > w.opts.MaxFileSize {
		return core.WriteNeedsNewFile, nil
	}

	clear(out.Resize(int(pad)))
	b, err := w.codec.AppendRecord(out.B, core.HeaderOf(rec), payload.B)
	if err != nil {
		return core.WriteError, err
	}
	out.B = b
	if err := w.append(out.B); err != nil {
		return core.WriteError, err
	}
	return core.WriteSuccess, nil
}

func (w *Writer) writeFirst(out *core.Buffer, rec *core.Record, payload []byte, n int64) (core.WriteStatus, error) {
	pageSize := w.opts.PageSize
	if pageSize == 0 {
		return core.WriteError, fmt.Errorf("%w: no page size configured for %s", core.ErrIO, w.path)
	}
	if n > int64(pageSize)*core.KiB {
		// The record alone exceeds a page: the file becomes one unbounded region
		// holding just this record.
		pageSize = 0
	}
	hdr := core.FileHeader{
		PageSize:     pageSize,
		Tag:          rec.Tag,
		SysVersion:   w.opts.SysVersion,
		PatchVersion: w.opts.PatchVersion,
	}
	b, err := w.codec.AppendFileHeader(out.B[:0], hdr)
	if err != nil {
		return core.WriteError, err
	}
	b, err = w.codec.AppendRecord(b, core.HeaderOf(rec), payload)
	if err != nil {
		return core.WriteError, err
	}
	out.B = b
	if err := w.append(out.B); err != nil {
		return core.WriteError, err
	}
	hdr.Magic = w.codec.Magic()
	hdr.Version = uint8(w.codec.Version())
	hdr.BlockSize = uint32(w.codec.FileHeaderSize(hdr) - core.MagicSize)
	w.header = &hdr
	return core.WriteSuccess, nil
}

// checkHeader loads the header of a non-empty file once and compares it with
// the running system.
func (w *Writer) checkHeader() (*core.FileHeader, core.WriteStatus) {
	if w.header == nil {
		_, hdr, err := w.opts.Registry.ReadFileHeader(w.file)
		if err != nil {
			w.logger.Warn("Unreadable file header, starting a new file.", "error", err)
			return nil, core.WriteNeedsNewFile
		}
		w.header = &hdr
	}
	h := w.header
	if codec.Version(h.Version) != w.codec.Version() ||
		h.SysVersion != w.opts.SysVersion ||
		h.PatchVersion != w.opts.PatchVersion {
		w.logger.Info("File written by another version, starting a new file.",
			"file_version", h.Version, "file_sys_version", h.SysVersion)
		return nil, core.WriteNeedsNewFile
	}
	return h, core.WriteSuccess
}

func (w *Writer) append(b []byte) error {
	written, err := w.file.Write(b)
	w.size += int64(written)
	if err != nil {
		w.logger.Error("Failed to append record.", "error", err)
		return fmt.Errorf("%w: writing %s: %v", core.ErrIO, w.path, err)
	}
	if written != len(b) {
		return fmt.Errorf("%w: short write to %s: %v", core.ErrIO, w.path, io.ErrShortWrite)
	}
	if w.opts.SyncWrites {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("%w: sync %s: %v", core.ErrIO, w.path, err)
		}
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

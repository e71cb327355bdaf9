package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/INLOpen/nexusevent/cond"
	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/doc"
)

// DirPerm is the mode of domain directories.
const DirPerm os.FileMode = 0o770

// Key identifies a stream.
type Key struct {
	Domain string
	Name   string
}

func (k Key) String() string { return k.Domain + "/" + k.Name }

// Options configures a Handle.
type Options struct {
	// Root is the store directory; the stream lives in Root/<domain>.
	Root   string
	Writer doc.WriterOptions
	Logger *slog.Logger
	// OnNewFile is called after a new event file has been created.
	OnNewFile func(path string)
}

// Handle owns the active file of one (domain, name) stream.
type Handle struct {
	key    Key
	dir    string
	opts   Options
	writer *doc.Writer
	logger *slog.Logger
}

// New returns a handle for key. No file is opened until the first insert or query.
func New(key Key, opts Options) *Handle {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Writer.Logger = logger
	return &Handle{
		key:    key,
		dir:    core.DomainDir(opts.Root, key.Domain),
		opts:   opts,
		logger: logger.With("component", "StreamHandle", "stream", key.String()),
	}
}

func (h *Handle) Key() Key { return h.key }

// CurrentFile returns the file the handle appends to, or "" before the first insert.
func (h *Handle) CurrentFile() string {
	if h.writer == nil {
		return ""
	}
	return h.writer.Path()
}

// Insert appends rec to the stream, starting a new file when the active one
// cannot take it.
func (h *Handle) Insert(rec *core.Record) error {
	if rec == nil {
		return core.ErrNullInput
	}
	if h.writer == nil {
		if err := h.bindLatest(rec); err != nil {
			return err
		}
	}
	status, err := h.writer.Write(rec)
	switch status {
	case core.WriteSuccess:
		return nil
	case core.WriteNeedsNewFile:
	default:
		return err
	}

	if err := h.rebind(rec); err != nil {
		return err
	}
	status, err = h.writer.Write(rec)
	if status != core.WriteSuccess {
		if err == nil {
			err = fmt.Errorf("%w: record seq %d does not fit a fresh file %s", core.ErrIO, rec.Seq, h.writer.Path())
		}
		return err
	}
	return nil
}

// Query reads the handle's current file.
func (h *Handle) Query(q *cond.DocQuery, limit int) ([]core.Entry, error) {
	path := h.CurrentFile()
	if path == "" {
		latest, err := h.latestFile()
		if err != nil || latest == "" {
			return nil, err
		}
		path = latest
	}
	return doc.NewReader(path, doc.ReaderOptions{Registry: h.opts.Writer.Registry, Logger: h.logger}).Read(q, limit)
}

// Close releases the active file.
func (h *Handle) Close() error {
	if h.writer == nil {
		return nil
	}
	err := h.writer.Close()
	h.writer = nil
	return err
}

// bindLatest attaches the writer to the newest existing file of the stream,
// or to a new file named after rec when the stream has none.
func (h *Handle) bindLatest(rec *core.Record) error {
	latest, err := h.latestFile()
	if err != nil {
		return err
	}
	if latest == "" {
		return h.rebind(rec)
	}
	w, err := doc.OpenWriter(latest, h.opts.Writer)
	if err != nil {
		return err
	}
	h.writer = w
	return nil
}

// rebind closes the active file and creates the file named after rec.
func (h *Handle) rebind(rec *core.Record) error {
	if err := h.Close(); err != nil {
		h.logger.Warn("Failed to close previous event file.", "error", err)
	}
	if err := os.MkdirAll(h.dir, DirPerm); err != nil {
		return fmt.Errorf("%w: creating %s: %v", core.ErrIO, h.dir, err)
	}
	path := filepath.Join(h.dir, core.FileNameFor(rec).String())
	w, err := doc.OpenWriter(path, h.opts.Writer)
	if err != nil {
		return err
	}
	h.writer = w
	h.logger.Debug("Started new event file.", "path", path)
	if h.opts.OnNewFile != nil {
		h.opts.OnNewFile(path)
	}
	return nil
}

// latestFile returns the stream's file with the highest sequence.
func (h *Handle) latestFile() (string, error) {
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("%w: listing %s: %v", core.ErrIO, h.dir, err)
	}
	var (
		best    string
		bestSeq int64 = -1
	)
	name := core.NormalizeName(h.key.Name)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fn, err := core.ParseEventFileName(e.Name())
		if err != nil || fn.Name != name {
			continue
		}
		if fn.Seq > bestSeq {
			best, bestSeq = e.Name(), fn.Seq
		}
	}
	if best == "" {
		return "", nil
	}
	return filepath.Join(h.dir, best), nil
}

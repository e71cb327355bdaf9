// Package backup archives a store directory and restores it into an empty
// store.
package backup

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/INLOpen/nexusevent/clock"
	"github.com/INLOpen/nexusevent/compressors"
	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/hooks"
	"github.com/INLOpen/nexusevent/sequence"
	"github.com/INLOpen/nexusevent/sys"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Archive file names inside the backup directory.
const (
	ArchiveName     = "eventstore.tar"
	TempArchiveName = "eventstore_tmp.tar"
	BakArchiveName  = "eventstore.tar.bak"
)

// stagingPrefix names the directories a restore extracts into. The store
// ignores directories starting with a dot.
const stagingPrefix = ".restore-"

// ErrSkipped is returned by Restore when there is nothing to restore.
var ErrSkipped = errors.New("restore skipped")

// Options configures a Manager.
type Options struct {
	StoreDir    string
	BackupDir   string
	Compression core.CompressionType

	Logger *slog.Logger
	Tracer trace.Tracer
	Clock  clock.Clock
	Hooks  hooks.HookManager
}

// Manager runs backups and restores of one store directory. Callers must
// keep writers away from the store while either runs.
type Manager struct {
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
	clock  clock.Clock
	hooks  hooks.HookManager
}

func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("backup")
	}
	if opts.Clock == nil {
		opts.Clock = clock.SystemClockDefault
	}
	if opts.Hooks == nil {
		opts.Hooks = hooks.Nop()
	}
	return &Manager{
		opts:   opts,
		logger: opts.Logger.With("component", "Backup"),
		tracer: opts.Tracer,
		clock:  opts.Clock,
		hooks:  opts.Hooks,
	}
}

func (m *Manager) path(name string) string { return filepath.Join(m.opts.BackupDir, name) }

// ArchivePath returns the final archive path.
func (m *Manager) ArchivePath() string { return m.path(ArchiveName) }

// Backup snapshots the store into a temporary archive and promotes it to
// the final archive. The previous archive is kept as .bak until the new one
// is in place and is put back when the promotion fails.
func (m *Manager) Backup(ctx context.Context) (err error) {
	ctx, span := m.tracer.Start(ctx, "Backup.Backup")
	defer span.End()
	start := m.clock.Now()
	tmp, final, bak := m.path(TempArchiveName), m.path(ArchiveName), m.path(BakArchiveName)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "backup_failed")
			m.logger.Warn("Backup failed.", "error", err)
		}
		m.hooks.Trigger(ctx, hooks.NewPostBackupEvent(hooks.BackupPayload{
			Archive:  final,
			Duration: m.clock.Since(start),
			Error:    err,
		}))
	}()

	if err := os.MkdirAll(m.opts.BackupDir, 0o755); err != nil {
		return fmt.Errorf("%w: creating backup dir %s: %v", core.ErrIO, m.opts.BackupDir, err)
	}
	if sys.FileExists(tmp) {
		if err := sys.Remove(tmp); err != nil {
			return fmt.Errorf("%w: removing stale temp archive: %v", core.ErrIO, err)
		}
	}

	files, err := m.writeArchive(ctx, tmp)
	if err != nil {
		_ = sys.Remove(tmp)
		return err
	}
	span.SetAttributes(attribute.Int("backup.files", files))

	// Without a final archive, a leftover .bak is the last good archive.
	if sys.FileExists(final) {
		// A leftover .bak would make the rename below fail on some platforms.
		_ = sys.Remove(bak)
		if err := sys.Rename(final, bak); err != nil {
			_ = sys.Remove(tmp)
			return fmt.Errorf("%w: moving previous archive to %s: %v", core.ErrIO, bak, err)
		}
	}
	if err := sys.Rename(tmp, final); err != nil {
		_ = sys.Remove(tmp)
		if rbErr := sys.Rename(bak, final); rbErr != nil && !errors.Is(rbErr, fs.ErrNotExist) {
			m.logger.Error("Failed to put previous archive back.", "bak", bak, "error", rbErr)
		}
		return fmt.Errorf("%w: promoting temp archive: %v", core.ErrIO, err)
	}
	_ = sys.Remove(bak)

	m.logger.Info("Backup finished.", "archive", final, "files", files, "compression", m.opts.Compression.String(),
		"duration", m.clock.Since(start))
	return nil
}

// writeArchive tars the event files and the sequence marker of the store
// into path and returns the number of archived files.
func (m *Manager) writeArchive(ctx context.Context, path string) (files int, err error) {
	comp, err := compressors.ForType(m.opts.Compression)
	if err != nil {
		return 0, err
	}
	f, err := sys.Create(path)
	if err != nil {
		return 0, fmt.Errorf("%w: creating temp archive: %v", core.ErrIO, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: closing temp archive: %v", core.ErrIO, cerr)
		}
	}()

	bw := bufio.NewWriter(f)
	cw, err := comp.NewWriter(bw)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(cw)

	err = filepath.WalkDir(m.opts.StoreDir, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		rel, rerr := filepath.Rel(m.opts.StoreDir, p)
		if rerr != nil || rel == "." {
			return rerr
		}
		if !archived(rel, d) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if aerr := addFile(tw, p, rel); aerr != nil {
			return aerr
		}
		files++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("archiving %s: %w", m.opts.StoreDir, err)
	}
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("%w: finishing tar stream: %v", core.ErrIO, err)
	}
	if err := cw.Close(); err != nil {
		return 0, fmt.Errorf("%w: finishing compressed stream: %v", core.ErrIO, err)
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("%w: flushing temp archive: %v", core.ErrIO, err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("%w: syncing temp archive: %v", core.ErrIO, err)
	}
	return files, nil
}

// archived selects the entries a backup carries: domain directories, the
// event files inside them and the sequence marker at the root.
func archived(rel string, d fs.DirEntry) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	switch {
	case strings.HasPrefix(parts[0], "."):
		return false
	case len(parts) == 1 && d.IsDir():
		return true
	case len(parts) == 1:
		return parts[0] == core.SequenceFileName
	case len(parts) == 2 && d.Type().IsRegular():
		_, err := core.ParseEventFileName(parts[1])
		return err == nil
	default:
		return false
	}
}

func addFile(tw *tar.Writer, path, rel string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Evicted while walking.
			return nil
		}
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	// Copy exactly the size announced in the header; the file cannot shrink
	// because writers are suspended.
	if _, err := io.CopyN(tw, src, hdr.Size); err != nil {
		return fmt.Errorf("copying %s: %w", rel, err)
	}
	return nil
}

// Restore extracts the archive into the store directory. It returns
// ErrSkipped when there is no archive or the store already holds a
// sequence marker.
func (m *Manager) Restore(ctx context.Context) (err error) {
	ctx, span := m.tracer.Start(ctx, "Backup.Restore")
	defer span.End()
	start := m.clock.Now()
	r := &restorer{m: m, ctx: ctx, logger: m.logger.With("op", "restore")}
	defer func() {
		skipped := errors.Is(err, ErrSkipped)
		if err != nil && !skipped {
			span.RecordError(err)
			span.SetStatus(codes.Error, "restore_failed")
		}
		span.SetAttributes(attribute.Bool("restore.skipped", skipped), attribute.Int("restore.files", r.files))
		m.hooks.Trigger(ctx, hooks.NewPostRestoreEvent(hooks.BackupPayload{
			Archive:  m.ArchivePath(),
			Skipped:  skipped,
			Duration: m.clock.Since(start),
			Error:    err,
		}))
	}()
	return r.run()
}

type restorer struct {
	m       *Manager
	ctx     context.Context
	logger  *slog.Logger
	staging string
	files   int
}

func (r *restorer) run() error {
	if err := r.checkArchive(); err != nil {
		return err
	}
	if err := os.MkdirAll(r.m.opts.StoreDir, 0o755); err != nil {
		return fmt.Errorf("%w: creating store dir: %v", core.ErrIO, err)
	}
	if err := r.setupStaging(); err != nil {
		return err
	}
	defer r.cleanupStaging()

	if err := r.extract(); err != nil {
		return err
	}
	if err := r.moveIntoStore(); err != nil {
		return err
	}
	r.logger.Info("Restore finished.", "archive", r.m.ArchivePath(), "files", r.files)
	return nil
}

// checkArchive promotes a lone .bak archive, cleans leftovers of an
// interrupted backup and decides whether a restore is needed.
func (r *restorer) checkArchive() error {
	final, bak := r.m.path(ArchiveName), r.m.path(BakArchiveName)
	if sys.FileExists(bak) && !sys.FileExists(final) {
		if err := sys.Rename(bak, final); err != nil {
			return fmt.Errorf("%w: promoting %s: %v", core.ErrIO, bak, err)
		}
	}
	if !sys.FileExists(final) {
		r.logger.Info("No backup archive exists.")
		return fmt.Errorf("%w: no archive in %s", ErrSkipped, r.m.opts.BackupDir)
	}
	_ = sys.Remove(r.m.path(TempArchiveName))
	_ = sys.Remove(bak)

	if sequence.Exists(r.m.opts.StoreDir) {
		r.logger.Info("Sequence marker exists, no need to restore.")
		return fmt.Errorf("%w: store already populated", ErrSkipped)
	}
	return nil
}

func (r *restorer) setupStaging() error {
	r.staging = filepath.Join(r.m.opts.StoreDir, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(r.staging, 0o755); err != nil {
		return fmt.Errorf("%w: creating staging dir: %v", core.ErrIO, err)
	}
	return nil
}

func (r *restorer) cleanupStaging() {
	if err := os.RemoveAll(r.staging); err != nil {
		r.logger.Warn("Failed to remove staging dir.", "dir", r.staging, "error", err)
	}
}

func (r *restorer) extract() error {
	f, err := sys.Open(r.m.path(ArchiveName))
	if err != nil {
		return fmt.Errorf("%w: opening archive: %v", core.ErrIO, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	head, _ := br.Peek(compressors.DetectSize)
	comp, err := compressors.ForType(compressors.Detect(head))
	if err != nil {
		return err
	}
	cr, err := comp.NewReader(br)
	if err != nil {
		return err
	}
	defer cr.Close()

	tr := tar.NewReader(cr)
	for {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: reading archive: %v", core.ErrInvalidFormat, err)
		}
		if !filepath.IsLocal(hdr.Name) {
			return fmt.Errorf("%w: archive entry %q escapes the store", core.ErrInvalidFormat, hdr.Name)
		}
		dst := filepath.Join(r.staging, filepath.FromSlash(hdr.Name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return fmt.Errorf("%w: %v", core.ErrIO, err)
			}
		case tar.TypeReg:
			if err := writeEntry(dst, tr, hdr); err != nil {
				return err
			}
			r.files++
		default:
			r.logger.Warn("Skipping unsupported archive entry.", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
}

func writeEntry(dst string, src io.Reader, hdr *tar.Header) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	out, err := sys.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", core.ErrIO, dst, err)
	}
	if _, err := io.CopyN(out, src, hdr.Size); err != nil {
		out.Close()
		return fmt.Errorf("%w: extracting %s: %v", core.ErrIO, hdr.Name, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrIO, err)
	}
	// Expiry is driven by modification times.
	return os.Chtimes(dst, time.Now(), hdr.ModTime)
}

// moveIntoStore renames the extracted files into the store. The sequence
// marker goes last so that an interrupted restore is retried.
func (r *restorer) moveIntoStore() error {
	var marker string
	err := filepath.WalkDir(r.staging, func(p string, d fs.DirEntry, werr error) error {
		if werr != nil || d.IsDir() {
			return werr
		}
		rel, err := filepath.Rel(r.staging, p)
		if err != nil {
			return err
		}
		if rel == core.SequenceFileName {
			marker = p
			return nil
		}
		dst := filepath.Join(r.m.opts.StoreDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return sys.Rename(p, dst)
	})
	if err != nil {
		return fmt.Errorf("%w: moving restored files: %v", core.ErrIO, err)
	}
	if marker != "" {
		if err := sys.Rename(marker, sequence.Path(r.m.opts.StoreDir)); err != nil {
			return fmt.Errorf("%w: moving sequence marker: %v", core.ErrIO, err)
		}
	}
	return nil
}

// Package repeat detects fault events that were already reported recently,
// so that their logs are not packed and uploaded twice.
package repeat

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/INLOpen/nexusevent/clock"
	"github.com/INLOpen/nexusevent/codec"
	"github.com/INLOpen/nexusevent/core"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// FingerprintParam is the payload parameter that, when set, identifies a
// fault instead of the payload digest.
const FingerprintParam = "FINGERPRINT"

const (
	DefaultWindow  = 24 * time.Hour
	BetaWindow     = time.Hour
	DefaultMaxRows = 10000
)

// Options configures a Guard.
type Options struct {
	// Dir holds the history database, normally the store directory.
	Dir     string
	Window  time.Duration
	MaxRows int
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Guard remembers the fingerprints of recent fault events in a sqlite table.
type Guard struct {
	db     *sql.DB
	window time.Duration
	max    int
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	count int
}

// Open creates or opens the history database under opts.Dir.
func Open(opts Options) (*Guard, error) {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	if opts.Clock == nil {
		opts.Clock = clock.SystemClockDefault
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	path := filepath.Join(opts.Dir, core.RepeatDBName)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open repeat database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: connecting to %s: %v", core.ErrIO, path, err)
	}
	// One writer; sqlite serialises writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply repeat schema: %w", err)
	}

	g := &Guard{
		db:     db,
		window: opts.Window,
		max:    opts.MaxRows,
		clock:  opts.Clock,
		logger: opts.Logger.With("component", "RepeatGuard"),
	}
	if err := g.refreshCount(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

// Close closes the database.
func (g *Guard) Close() error {
	if g == nil || g.db == nil {
		return nil
	}
	return g.db.Close()
}

// Fingerprint identifies a record for repeat detection: the FINGERPRINT
// parameter when present, otherwise the hex sha256 of the encoded payload.
func Fingerprint(rec *core.Record) string {
	if v, ok := rec.Params.Get(FingerprintParam); ok && v.String() != "" {
		return v.String()
	}
	sum := sha256.Sum256(codec.AppendParams(nil, rec.Params))
	return hex.EncodeToString(sum[:])
}

// Check reports whether rec repeats a fault seen within the window and sets
// its log flag accordingly. Records of other categories are left untouched.
// A fault seen for the first time, or last seen before the window, is
// recorded with the current time.
func (g *Guard) Check(ctx context.Context, rec *core.Record) (bool, error) {
	if rec == nil {
		return false, core.ErrNullInput
	}
	if rec.Category != core.CategoryFault {
		return false, nil
	}
	repeated, err := g.seen(ctx, rec.Domain, rec.Name, Fingerprint(rec))
	if err != nil {
		return false, err
	}
	if repeated {
		rec.LogFlag = core.LogNotAllowPack | core.LogRepeat
		return true, nil
	}
	rec.LogFlag = core.LogAllowPack | core.LogPacked
	return false, nil
}

func (g *Guard) seen(ctx context.Context, domain, name, hash string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now().Unix()
	minValid := g.minValidTime()

	var happen int64
	err := g.db.QueryRowContext(ctx,
		`SELECT happen_time FROM event_history WHERE domain = ? AND name = ? AND hash = ?`,
		domain, name, hash).Scan(&happen)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := g.db.ExecContext(ctx,
			`INSERT INTO event_history (domain, name, hash, happen_time) VALUES (?, ?, ?, ?)`,
			domain, name, hash, now); err != nil {
			return false, fmt.Errorf("%w: recording fault history: %v", core.ErrIO, err)
		}
		g.count++
		g.pruneLocked(ctx, minValid)
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%w: querying fault history: %v", core.ErrIO, err)
	}

	if happen > minValid {
		return true, nil
	}
	if _, err := g.db.ExecContext(ctx,
		`UPDATE event_history SET happen_time = ? WHERE domain = ? AND name = ? AND hash = ?`,
		now, domain, name, hash); err != nil {
		return false, fmt.Errorf("%w: updating fault history: %v", core.ErrIO, err)
	}
	return false, nil
}

func (g *Guard) minValidTime() int64 {
	now := g.clock.Now().Unix()
	w := int64(g.window / time.Second)
	if now > w {
		return now - w
	}
	return 0
}

// pruneLocked drops rows older than the window once the table grew past the
// row limit.
func (g *Guard) pruneLocked(ctx context.Context, minValid int64) {
	if g.count <= g.max {
		return
	}
	res, err := g.db.ExecContext(ctx, `DELETE FROM event_history WHERE happen_time < ?`, minValid)
	if err != nil {
		g.logger.Error("Failed to prune fault history.", "error", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil {
		g.logger.Info("Pruned fault history.", "rows", n)
	}
	if err := g.refreshCount(ctx); err != nil {
		g.logger.Error("Failed to count fault history.", "error", err)
	}
}

func (g *Guard) refreshCount(ctx context.Context) error {
	var n int
	if err := g.db.QueryRowContext(ctx, `SELECT count(*) FROM event_history`).Scan(&n); err != nil {
		return fmt.Errorf("%w: counting fault history: %v", core.ErrIO, err)
	}
	g.count = n
	return nil
}

// Len returns the number of remembered fingerprints.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Reset forgets every fingerprint recorded up to now, so that the next
// occurrence of each fault is packed again.
func (g *Guard) Reset(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.db.ExecContext(ctx, `DELETE FROM event_history WHERE happen_time <= ?`, g.clock.Now().Unix()); err != nil {
		return fmt.Errorf("%w: clearing fault history: %v", core.ErrIO, err)
	}
	return g.refreshCount(ctx)
}

// LastSeen returns the recorded time of a fingerprint, or the zero time.
func (g *Guard) LastSeen(ctx context.Context, domain, name, hash string) (time.Time, error) {
	var happen int64
	err := g.db.QueryRowContext(ctx,
		`SELECT happen_time FROM event_history WHERE domain = ? AND name = ? AND hash = ?`,
		domain, name, hash).Scan(&happen)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: querying fault history: %v", core.ErrIO, err)
	}
	return time.Unix(happen, 0), nil
}

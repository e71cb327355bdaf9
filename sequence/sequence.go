// Package sequence persists the last event sequence assigned by the store.
// The marker file doubles as the sign that a store is populated, so restore
// is skipped when it exists.
package sequence

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/sys"
)

// TempFileName is the file written before it is renamed over the marker.
const TempFileName = core.SequenceFileName + ".tmp"

// Path returns the marker path of a store directory.
func Path(dir string) string {
	return filepath.Join(dir, core.SequenceFileName)
}

// Exists reports whether dir holds a sequence marker.
func Exists(dir string) bool {
	return sys.FileExists(Path(dir))
}

// Write atomically replaces the marker of dir with seq.
func Write(dir string, seq int64) error {
	tempPath := filepath.Join(dir, TempFileName)
	file, err := sys.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp sequence file: %w", err)
	}

	if err := binary.Write(file, binary.LittleEndian, core.SequenceMagicNumber); err != nil {
		file.Close()
		return fmt.Errorf("failed to write sequence magic number: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, seq); err != nil {
		file.Close()
		return fmt.Errorf("failed to write sequence: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync temp sequence file: %w", err)
	}
	// Close before renaming for Windows.
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp sequence file before rename: %w", err)
	}

	if err := sys.Rename(tempPath, Path(dir)); err != nil {
		_ = sys.Remove(tempPath)
		return fmt.Errorf("failed to rename temp sequence file to final name: %w", err)
	}
	return nil
}

// Read returns the sequence stored in dir and whether the marker exists.
// A missing marker is not an error.
func Read(dir string) (int64, bool, error) {
	file, err := sys.Open(Path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to open sequence file: %w", err)
	}
	defer file.Close()

	var magic uint32
	if err := binary.Read(file, binary.LittleEndian, &magic); err != nil {
		return 0, true, fmt.Errorf("failed to read sequence magic number: %w", err)
	}
	if magic != core.SequenceMagicNumber {
		return 0, true, fmt.Errorf("%w: invalid sequence magic number: got %x, want %x", core.ErrInvalidFormat, magic, core.SequenceMagicNumber)
	}
	var seq int64
	if err := binary.Read(file, binary.LittleEndian, &seq); err != nil {
		return 0, true, fmt.Errorf("failed to read sequence: %w", err)
	}
	return seq, true, nil
}

// Manager hands out increasing sequences and persists every one of them.
type Manager struct {
	dir    string
	mu     sync.Mutex
	cur    int64
	logger *slog.Logger
}

// NewManager loads the marker of dir. A missing or unreadable marker starts
// the sequence at zero.
func NewManager(dir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{dir: dir, logger: logger.With("component", "SequenceManager")}
	seq, found, err := Read(dir)
	switch {
	case err != nil:
		m.logger.Error("Failed to read sequence, starting from zero.", "dir", dir, "error", err)
	case found:
		m.logger.Info("Sequence loaded.", "seq", seq)
		m.cur = seq
	}
	return m
}

// Current returns the last assigned sequence.
func (m *Manager) Current() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// Next assigns the following sequence. The sequence advances even when it
// cannot be persisted; the failure is logged and returned.
func (m *Manager) Next() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur++
	if err := Write(m.dir, m.cur); err != nil {
		m.logger.Error("Failed to persist sequence.", "seq", m.cur, "error", err)
		return m.cur, err
	}
	return m.cur, nil
}

// Set replaces the current sequence, for example after a restore.
func (m *Manager) Set(seq int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur = seq
	return Write(m.dir, seq)
}

// Reload rereads the marker, keeping the current value when it is missing.
func (m *Manager) Reload() error {
	seq, found, err := Read(m.dir)
	if err != nil || !found {
		return err
	}
	m.mu.Lock()
	m.cur = seq
	m.mu.Unlock()
	return nil
}

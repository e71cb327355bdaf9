package sequence

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, Exists(dir))

	require.NoError(t, Write(dir, 123))
	assert.True(t, Exists(dir))
	_, err := os.Stat(filepath.Join(dir, TempFileName))
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	seq, found, err := Read(dir)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(123), seq)

	require.NoError(t, Write(dir, 124))
	seq, _, err = Read(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(124), seq)
}

func TestSequence_ReadMissing(t *testing.T) {
	seq, found, err := Read(t.TempDir())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Zero(t, seq)
}

func TestSequence_ReadCorrupted(t *testing.T) {
	dir := t.TempDir()

	t.Run("bad magic number", func(t *testing.T) {
		bad := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0, 0, 0, 0, 0, 0, 0}
		require.NoError(t, os.WriteFile(Path(dir), bad, 0o644))
		_, found, err := Read(dir)
		assert.True(t, found)
		assert.ErrorIs(t, err, core.ErrInvalidFormat)
	})

	t.Run("truncated", func(t *testing.T) {
		data := binary.LittleEndian.AppendUint32(nil, core.SequenceMagicNumber)
		require.NoError(t, os.WriteFile(Path(dir), append(data, 0x01, 0x00), 0o644))
		_, found, err := Read(dir)
		assert.True(t, found)
		assert.Error(t, err)
	})
}

func TestSequence_FailedRenameKeepsOldMarker(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Write(dir, 99))

	orig := sys.Rename
	sys.Rename = func(_, _ string) error { return errors.New("disk gone") }
	t.Cleanup(func() { sys.Rename = orig })

	err := Write(dir, 199)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")

	seq, found, err := Read(dir)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(99), seq)
	assert.False(t, sys.FileExists(filepath.Join(dir, TempFileName)))
}

func TestManager_Next(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil)
	assert.Zero(t, m.Current())

	for want := int64(1); want <= 3; want++ {
		got, err := m.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// A new manager resumes from the marker.
	m2 := NewManager(dir, nil)
	assert.Equal(t, int64(3), m2.Current())

	require.NoError(t, m2.Set(40))
	require.NoError(t, m.Reload())
	assert.Equal(t, int64(40), m.Current())
}

//go:build unix

package sys

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireDirLock(t *testing.T) {
	dir := t.TempDir()

	release, err := AcquireDirLock(dir, 0)
	require.NoError(t, err)
	assert.True(t, FileExists(filepath.Join(dir, LockFileName)))

	_, err = AcquireDirLock(dir, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, release())
	assert.False(t, FileExists(filepath.Join(dir, LockFileName)))

	release, err = AcquireDirLock(dir, 0)
	require.NoError(t, err)
	require.NoError(t, release())
}

package sys

import (
	"errors"
	"fmt"
	"time"
)

// LockFileName is the advisory lock taken on a store directory.
const LockFileName = "LOCK"

var ErrLocked = errors.New("directory is locked by another process")

// AcquireDirLock takes the advisory lock of dir, waiting at most timeout.
// The returned function releases it.
func AcquireDirLock(dir string, timeout time.Duration) (func() error, error) {
	release, err := AcquireOSFileLock(dir+"/"+LockFileName, timeout)
	if err != nil {
		if errors.Is(err, ErrOSFileLockNotSupported) {
			return func() error { return nil }, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLocked, dir, err)
	}
	return release, nil
}

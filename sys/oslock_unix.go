//go:build unix

package sys

import (
	"errors"
	"os"
	"syscall"
	"time"
)

var ErrOSFileLockNotSupported = errors.New("OS file locking not supported on this platform")

// AcquireOSFileLock takes an exclusive flock on lockPath, retrying until
// timeout elapses. The release function unlocks, closes and removes the file.
func AcquireOSFileLock(lockPath string, timeout time.Duration) (func() error, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	fd := int(f.Fd())
	deadline := time.Now().Add(timeout)
	for {
		err = syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return func() error {
				_ = syscall.Flock(fd, syscall.LOCK_UN)
				_ = os.Remove(lockPath)
				return f.Close()
			}, nil
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, err
		}
		time.Sleep(25 * time.Millisecond)
	}
}

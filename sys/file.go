package sys

import (
	"io"
	"os"
)

// FileHandle is the subset of *os.File used by the event writer and reader.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Name() string
}

var _ FileHandle = (*os.File)(nil)

type CreateHandler func(name string) (FileHandle, error)
type OpenHandler func(name string) (FileHandle, error)
type OpenFileHandler func(name string, flag int, perm os.FileMode) (FileHandle, error)
type RemoveHandler func(name string) error
type RenameHandler func(oldpath, newpath string) error

// The handlers below are package variables so tests can inject failures
// into specific file operations.

// EventFilePerm is the mode of every file created by the store.
const EventFilePerm os.FileMode = 0o660

var Create CreateHandler = func(name string) (FileHandle, error) {
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, EventFilePerm)
}

var Open OpenHandler = func(name string) (FileHandle, error) {
	return os.Open(name)
}

var OpenFile OpenFileHandler = func(name string, flag int, perm os.FileMode) (FileHandle, error) {
	return os.OpenFile(name, flag, perm)
}

var Remove RemoveHandler = func(name string) error {
	return os.Remove(name)
}

var Rename RenameHandler = func(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// OpenAppend opens (creating if needed) a file for appending records.
func OpenAppend(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_APPEND, EventFilePerm)
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

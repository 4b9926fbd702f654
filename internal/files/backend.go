// Package files serves boot artifacts (kernels, initrds, images) from
// pluggable storage backends.
package files

import (
	"errors"
	"io"
	"time"
)

// ErrNotSupported is returned by backends that decline an operation.
var ErrNotSupported = errors.New("operation not supported by backend")

// ErrFileNotFound is returned when a path does not exist on a backend.
var ErrFileNotFound = errors.New("file not found")

// FileInfo describes one entry on a backend.
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"isDir"`
	ModTime time.Time `json:"modTime"`
}

// Backend is the capability interface over a storage backend. Backends that
// cannot perform an operation return ErrNotSupported; an iSCSI backend, for
// example, declines all file operations.
type Backend interface {
	ID() string
	List(path string) ([]FileInfo, error)
	Open(path string) (io.ReadCloser, FileInfo, error)
	Write(path string, r io.Reader) error
	Delete(path string) error
	Move(oldPath, newPath string) error
}

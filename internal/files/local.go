package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalBackend serves files from a directory on the controller host.
type LocalBackend struct {
	id   string
	root string
}

// NewLocalBackend creates a backend rooted at dir.
func NewLocalBackend(id, dir string) *LocalBackend {
	return &LocalBackend{id: id, root: dir}
}

// ID returns the backend identifier.
func (b *LocalBackend) ID() string { return b.id }

// resolve maps a request path into the root, rejecting traversal attempts.
func (b *LocalBackend) resolve(path string) (string, error) {
	cleaned := filepath.Clean("/" + path)
	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("invalid path %q", path)
	}
	return filepath.Join(b.root, cleaned), nil
}

// List enumerates a directory.
func (b *LocalBackend) List(path string) ([]FileInfo, error) {
	full, err := b.resolve(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, FileInfo{
			Path:    filepath.Join(path, entry.Name()),
			Size:    fi.Size(),
			IsDir:   entry.IsDir(),
			ModTime: fi.ModTime(),
		})
	}
	return infos, nil
}

// Open returns a reader over the file at path.
func (b *LocalBackend) Open(path string) (io.ReadCloser, FileInfo, error) {
	full, err := b.resolve(path)
	if err != nil {
		return nil, FileInfo{}, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, FileInfo{}, ErrFileNotFound
		}
		return nil, FileInfo{}, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, FileInfo{}, err
	}
	if stat.IsDir() {
		f.Close()
		return nil, FileInfo{}, ErrFileNotFound
	}
	return f, FileInfo{Path: path, Size: stat.Size(), ModTime: stat.ModTime()}, nil
}

// Write stores a file at path, creating parent directories.
func (b *LocalBackend) Write(path string, r io.Reader) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	f, err := os.Create(full)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}

// Delete removes the file at path.
func (b *LocalBackend) Delete(path string) error {
	full, err := b.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return ErrFileNotFound
		}
		return err
	}
	return nil
}

// Move renames a file within the backend.
func (b *LocalBackend) Move(oldPath, newPath string) error {
	from, err := b.resolve(oldPath)
	if err != nil {
		return err
	}
	to, err := b.resolve(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return err
	}
	return os.Rename(from, to)
}

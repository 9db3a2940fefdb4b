package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/spf13/afero"

	"github.com/objectfs/gvfs/pkg/types"
)

// ErrNotEmpty is returned when a non-recursive delete meets a directory with
// children.
var ErrNotEmpty = errors.New("directory not empty")

// FileSystem serves hierarchical URIs such as file:///data/a.txt from an
// afero filesystem.
type FileSystem struct {
	fs          afero.Fs
	blockSize   int64
	replication int
	logger      log.Interface
	closed      atomic.Bool
}

// NewFileSystem wraps fsys. Zero blockSize or replication leave the values
// to the driver capability.
func NewFileSystem(fsys afero.Fs, blockSize int64, replication int, logger log.Interface) *FileSystem {
	if logger == nil {
		logger = log.Log
	}
	return &FileSystem{fs: fsys, blockSize: blockSize, replication: replication, logger: logger}
}

// splitPath returns the "scheme://authority" head of uri and its path.
// A bare path has an empty head.
func splitPath(uri string) (head, p string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		if strings.HasPrefix(uri, "/") {
			return "", path.Clean(uri), nil
		}
		return "", "", fmt.Errorf("%s: not an absolute path: %w", uri, fs.ErrInvalid)
	}
	authority, p, _ := strings.Cut(rest, "/")
	return scheme + "://" + authority, path.Clean("/" + p), nil
}

func (f *FileSystem) resolve(uri string) (head, p string, err error) {
	if f.closed.Load() {
		return "", "", fmt.Errorf("%s: %w", uri, fs.ErrClosed)
	}
	return splitPath(uri)
}

// Open opens a file for reading.
func (f *FileSystem) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	_, p, err := f.resolve(uri)
	if err != nil {
		return nil, err
	}
	file, err := f.fs.Open(p)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("open %s: is a directory: %w", uri, fs.ErrInvalid)
	}
	return file, nil
}

// Create opens a file for writing, creating missing parent directories.
func (f *FileSystem) Create(_ context.Context, uri string, overwrite bool) (io.WriteCloser, error) {
	_, p, err := f.resolve(uri)
	if err != nil {
		return nil, err
	}

	info, err := f.fs.Stat(p)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("create %s: is a directory: %w", uri, fs.ErrExist)
	case err == nil && !overwrite:
		return nil, fmt.Errorf("create %s: %w", uri, fs.ErrExist)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	if err := f.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return nil, err
	}
	flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flag |= os.O_EXCL
	}
	return f.fs.OpenFile(p, flag, 0o644)
}

// Append opens an existing file for appending.
func (f *FileSystem) Append(_ context.Context, uri string) (io.WriteCloser, error) {
	_, p, err := f.resolve(uri)
	if err != nil {
		return nil, err
	}
	info, err := f.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("append %s: is a directory: %w", uri, fs.ErrInvalid)
	}
	return f.fs.OpenFile(p, os.O_WRONLY|os.O_APPEND, 0o644)
}

// Delete removes a file or directory.
func (f *FileSystem) Delete(_ context.Context, uri string, recursive bool) (bool, error) {
	_, p, err := f.resolve(uri)
	if err != nil {
		return false, err
	}
	info, err := f.fs.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !info.IsDir() {
		return true, f.fs.Remove(p)
	}
	if !recursive {
		empty, err := afero.IsEmpty(f.fs, p)
		if err != nil {
			return false, err
		}
		if !empty {
			return false, fmt.Errorf("delete %s: %w", uri, ErrNotEmpty)
		}
		return true, f.fs.Remove(p)
	}
	return true, f.fs.RemoveAll(p)
}

// Rename moves src to dst. It reports false without changes when dst exists.
func (f *FileSystem) Rename(_ context.Context, src, dst string) (bool, error) {
	_, from, err := f.resolve(src)
	if err != nil {
		return false, err
	}
	_, to, err := f.resolve(dst)
	if err != nil {
		return false, err
	}
	if from == "/" || to == "/" {
		return false, fmt.Errorf("rename %s: root: %w", src, fs.ErrInvalid)
	}
	if to == from || strings.HasPrefix(to, from+"/") {
		return false, fmt.Errorf("rename %s to %s: destination inside source: %w", src, dst, fs.ErrInvalid)
	}

	if _, err := f.fs.Stat(from); err != nil {
		return false, err
	}
	if exists, err := afero.Exists(f.fs, to); err != nil {
		return false, err
	} else if exists {
		return false, nil
	}

	if err := f.fs.MkdirAll(path.Dir(to), 0o755); err != nil {
		return false, err
	}
	if err := f.fs.Rename(from, to); err != nil {
		return false, err
	}
	return true, nil
}

// List returns the children of a directory sorted by name, or the status of
// uri itself when it names a file.
func (f *FileSystem) List(_ context.Context, uri string) ([]types.FileStatus, error) {
	head, p, err := f.resolve(uri)
	if err != nil {
		return nil, err
	}
	info, err := f.fs.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []types.FileStatus{f.status(head, p, info)}, nil
	}

	infos, err := afero.ReadDir(f.fs, p)
	if err != nil {
		return nil, err
	}
	entries := make([]types.FileStatus, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, f.status(head, path.Join(p, fi.Name()), fi))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Stat describes a file or directory.
func (f *FileSystem) Stat(_ context.Context, uri string) (types.FileStatus, error) {
	head, p, err := f.resolve(uri)
	if err != nil {
		return types.FileStatus{}, err
	}
	info, err := f.fs.Stat(p)
	if err != nil {
		return types.FileStatus{}, err
	}
	return f.status(head, p, info), nil
}

// Mkdir creates a directory. Without recursive the parent must exist.
// An existing directory counts as success.
func (f *FileSystem) Mkdir(_ context.Context, uri string, recursive bool) (bool, error) {
	_, p, err := f.resolve(uri)
	if err != nil {
		return false, err
	}

	info, err := f.fs.Stat(p)
	switch {
	case err == nil && info.IsDir():
		return true, nil
	case err == nil:
		return false, fmt.Errorf("mkdir %s: file exists: %w", uri, fs.ErrExist)
	case !errors.Is(err, fs.ErrNotExist):
		return false, err
	}

	if recursive {
		return true, f.fs.MkdirAll(p, 0o755)
	}
	if _, err := f.fs.Stat(path.Dir(p)); err != nil {
		return false, err
	}
	return true, f.fs.Mkdir(p, 0o755)
}

// DefaultReplication returns the configured replication, or 0 to defer to
// the driver capability.
func (f *FileSystem) DefaultReplication(context.Context, string) (int, error) {
	return f.replication, nil
}

// DefaultBlockSize returns the configured block size, or 0 to defer to the
// driver capability.
func (f *FileSystem) DefaultBlockSize(context.Context, string) (int64, error) {
	return f.blockSize, nil
}

// Close marks the client closed. Streams opened earlier stay usable.
func (f *FileSystem) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	f.logger.WithField("fs", f.fs.Name()).Debug("local client closed")
	return nil
}

// Closed reports whether Close has been called.
func (f *FileSystem) Closed() bool {
	return f.closed.Load()
}

func (f *FileSystem) status(head, p string, info os.FileInfo) types.FileStatus {
	st := types.FileStatus{
		Path:    head + p,
		Name:    path.Base(p),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
	}
	if !st.IsDir {
		st.Size = info.Size()
		st.BlockSize = f.blockSize
		st.Replication = f.replication
	}
	return st
}

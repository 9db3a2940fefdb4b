package hdfs

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
	"sync"

	"github.com/apex/log"
	"github.com/colinmarc/hdfs/v2"
	"github.com/colinmarc/hdfs/v2/hadoopconf"

	"github.com/objectfs/gvfs/pkg/types"
)

// ErrNotEmpty is returned when a non-recursive delete meets a directory with
// children.
var ErrNotEmpty = errors.New("directory not empty")

const defaultPort = "8020"

// FileSystem serves hdfs://namenode/path URIs. It keeps one namenode client
// per authority and dials on first use.
type FileSystem struct {
	conf   hadoopconf.HadoopConf
	base   hdfs.ClientOptions
	logger log.Interface

	mu      sync.Mutex
	clients map[string]*hdfs.Client
	closed  bool
}

// NewFileSystem returns a filesystem whose default namenode and options come
// from conf. user is the HDFS user name operations run as.
func NewFileSystem(conf hadoopconf.HadoopConf, user string, logger log.Interface) *FileSystem {
	if logger == nil {
		logger = log.Log
	}
	base := hdfs.ClientOptionsFromConf(conf)
	base.User = user
	return &FileSystem{
		conf:    conf,
		base:    base,
		logger:  logger,
		clients: make(map[string]*hdfs.Client),
	}
}

// splitPath returns the authority and path of an hdfs URI.
func splitPath(uri string) (authority, p string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		if strings.HasPrefix(uri, "/") {
			return "", path.Clean(uri), nil
		}
		return "", "", fmt.Errorf("%s: not an absolute path: %w", uri, fs.ErrInvalid)
	}
	if !strings.EqualFold(scheme, "hdfs") {
		return "", "", fmt.Errorf("%s: unsupported scheme %q: %w", uri, scheme, fs.ErrInvalid)
	}
	authority, p, _ = strings.Cut(rest, "/")
	return authority, path.Clean("/" + p), nil
}

// defaultAuthority is the authority of fs.defaultFS, if set.
func (f *FileSystem) defaultAuthority() string {
	_, rest, ok := strings.Cut(f.conf["fs.defaultFS"], "://")
	if !ok {
		return ""
	}
	authority, _, _ := strings.Cut(rest, "/")
	return authority
}

// optionsFor returns client options for authority. The default authority, a
// bare path and configured HA nameservices use the addresses from conf;
// anything else is dialed directly.
func (f *FileSystem) optionsFor(authority string) (hdfs.ClientOptions, error) {
	opts := f.base
	switch {
	case authority == "" || authority == f.defaultAuthority():
	case f.conf["dfs.ha.namenodes."+authority] != "":
		var addrs []string
		for _, nn := range strings.Split(f.conf["dfs.ha.namenodes."+authority], ",") {
			if addr := f.conf["dfs.namenode.rpc-address."+authority+"."+strings.TrimSpace(nn)]; addr != "" {
				addrs = append(addrs, addr)
			}
		}
		opts.Addresses = addrs
	default:
		if !strings.Contains(authority, ":") {
			authority += ":" + defaultPort
		}
		opts.Addresses = []string{authority}
	}
	if len(opts.Addresses) == 0 {
		return opts, fmt.Errorf("no namenode address for %q; set fs.defaultFS: %w", authority, fs.ErrInvalid)
	}
	return opts, nil
}

// resolve returns the namenode client for uri. The native client takes no
// context, so ctx is only checked before the call goes out.
func (f *FileSystem) resolve(ctx context.Context, uri string) (*hdfs.Client, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	authority, p, err := splitPath(uri)
	if err != nil {
		return nil, "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, "", fmt.Errorf("%s: %w", uri, fs.ErrClosed)
	}
	if c, ok := f.clients[authority]; ok {
		return c, p, nil
	}

	opts, err := f.optionsFor(authority)
	if err != nil {
		return nil, "", err
	}
	c, err := hdfs.NewClient(opts)
	if err != nil {
		return nil, "", fmt.Errorf("connect to namenode %v: %w", opts.Addresses, err)
	}
	f.clients[authority] = c
	f.logger.WithFields(log.Fields{
		"namenodes": strings.Join(opts.Addresses, ","),
		"user":      opts.User,
	}).Debug("namenode client created")
	return c, p, nil
}

// Open opens a file for reading.
func (f *FileSystem) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	c, p, err := f.resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	r, err := c.Open(p)
	if err != nil {
		return nil, err
	}
	if r.Stat().IsDir() {
		r.Close()
		return nil, fmt.Errorf("open %s: is a directory: %w", uri, fs.ErrInvalid)
	}
	return r, nil
}

// Create opens a file for writing, creating missing parent directories.
func (f *FileSystem) Create(ctx context.Context, uri string, overwrite bool) (io.WriteCloser, error) {
	c, p, err := f.resolve(ctx, uri)
	if err != nil {
		return nil, err
	}

	info, err := c.Stat(p)
	switch {
	case err == nil && info.IsDir():
		return nil, fmt.Errorf("create %s: is a directory: %w", uri, fs.ErrExist)
	case err == nil && !overwrite:
		return nil, fmt.Errorf("create %s: %w", uri, fs.ErrExist)
	case err == nil:
		if err := c.Remove(p); err != nil {
			return nil, err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}

	if err := c.MkdirAll(path.Dir(p), 0o755); err != nil {
		return nil, err
	}
	return c.Create(p)
}

// Append opens an existing file for appending.
func (f *FileSystem) Append(ctx context.Context, uri string) (io.WriteCloser, error) {
	c, p, err := f.resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	return c.Append(p)
}

// Delete removes a file or directory.
func (f *FileSystem) Delete(ctx context.Context, uri string, recursive bool) (bool, error) {
	c, p, err := f.resolve(ctx, uri)
	if err != nil {
		return false, err
	}
	info, err := c.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if info.IsDir() && !recursive {
		children, err := c.ReadDir(p)
		if err != nil {
			return false, err
		}
		if len(children) > 0 {
			return false, fmt.Errorf("delete %s: %w", uri, ErrNotEmpty)
		}
	}
	if info.IsDir() {
		err = c.RemoveAll(p)
	} else {
		err = c.Remove(p)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Rename moves src to dst on the same namenode. It reports false without
// changes when dst exists.
func (f *FileSystem) Rename(ctx context.Context, src, dst string) (bool, error) {
	srcAuthority, _, err := splitPath(src)
	if err != nil {
		return false, err
	}
	dstAuthority, to, err := splitPath(dst)
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(srcAuthority, dstAuthority) {
		return false, fmt.Errorf("rename %s to %s: different namenodes: %w", src, dst, fs.ErrInvalid)
	}
	c, from, err := f.resolve(ctx, src)
	if err != nil {
		return false, err
	}

	if _, err := c.Stat(from); err != nil {
		return false, err
	}
	if _, err := c.Stat(to); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := c.MkdirAll(path.Dir(to), 0o755); err != nil {
		return false, err
	}
	if err := c.Rename(from, to); err != nil {
		return false, err
	}
	return true, nil
}

// List returns the children of a directory sorted by name, or the status of
// uri itself when it names a file.
func (f *FileSystem) List(ctx context.Context, uri string) ([]types.FileStatus, error) {
	c, p, err := f.resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	head := uriHead(uri)

	info, err := c.Stat(p)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []types.FileStatus{status(head, p, info)}, nil
	}

	infos, err := c.ReadDir(p)
	if err != nil {
		return nil, err
	}
	entries := make([]types.FileStatus, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, status(head, path.Join(p, fi.Name()), fi))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Stat describes a file or directory, including its replication and block
// size.
func (f *FileSystem) Stat(ctx context.Context, uri string) (types.FileStatus, error) {
	c, p, err := f.resolve(ctx, uri)
	if err != nil {
		return types.FileStatus{}, err
	}
	info, err := c.Stat(p)
	if err != nil {
		return types.FileStatus{}, err
	}
	return status(uriHead(uri), p, info), nil
}

// Mkdir creates a directory. Without recursive the parent must exist.
func (f *FileSystem) Mkdir(ctx context.Context, uri string, recursive bool) (bool, error) {
	c, p, err := f.resolve(ctx, uri)
	if err != nil {
		return false, err
	}
	info, err := c.Stat(p)
	switch {
	case err == nil && info.IsDir():
		return true, nil
	case err == nil:
		return false, fmt.Errorf("mkdir %s: file exists: %w", uri, fs.ErrExist)
	case !errors.Is(err, fs.ErrNotExist):
		return false, err
	}

	if recursive {
		err = c.MkdirAll(p, 0o755)
	} else {
		err = c.Mkdir(p, 0o755)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DefaultReplication asks the namenode for its default replication.
func (f *FileSystem) DefaultReplication(ctx context.Context, uri string) (int, error) {
	c, _, err := f.resolve(ctx, uri)
	if err != nil {
		return 0, err
	}
	d, err := c.ServerDefaults()
	if err != nil {
		return 0, err
	}
	return d.Replication, nil
}

// DefaultBlockSize asks the namenode for its default block size.
func (f *FileSystem) DefaultBlockSize(ctx context.Context, uri string) (int64, error) {
	c, _, err := f.resolve(ctx, uri)
	if err != nil {
		return 0, err
	}
	d, err := c.ServerDefaults()
	if err != nil {
		return 0, err
	}
	return d.BlockSize, nil
}

// IsTransient reports whether err is worth retrying.
func (f *FileSystem) IsTransient(err error) bool {
	return IsTransient(err)
}

// Close closes every namenode client.
func (f *FileSystem) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	var errs []error
	for authority, c := range f.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", authority, err))
		}
	}
	f.clients = nil
	return errors.Join(errs...)
}

func uriHead(uri string) string {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return ""
	}
	authority, _, _ := strings.Cut(rest, "/")
	return scheme + "://" + authority
}

// blockInfo is the part of the namenode file status that carries block
// layout.
type blockInfo interface {
	GetBlocksize() uint64
	GetBlockReplication() uint32
}

func status(head, p string, info os.FileInfo) types.FileStatus {
	st := types.FileStatus{
		Path:    head + p,
		Name:    path.Base(p),
		IsDir:   info.IsDir(),
		ModTime: info.ModTime(),
	}
	if st.IsDir {
		return st
	}
	st.Size = info.Size()
	if b, ok := info.Sys().(blockInfo); ok {
		st.BlockSize = int64(b.GetBlocksize())
		st.Replication = int(b.GetBlockReplication())
	}
	return st
}

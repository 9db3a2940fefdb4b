package types

import (
	"context"
	"io"
)

// FileSystem is a physical backend client. Paths are full physical URIs
// (e.g. oss://bucket/fileset/a.txt). Implementations must be safe for
// concurrent use by multiple operations.
type FileSystem interface {
	// Open opens a file for reading.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Create opens a file for writing. If overwrite is false and the file
	// exists, Create fails.
	Create(ctx context.Context, path string, overwrite bool) (io.WriteCloser, error)
	// Append opens an existing file for appending.
	Append(ctx context.Context, path string) (io.WriteCloser, error)
	// Delete removes a path. It reports false when nothing was deleted.
	Delete(ctx context.Context, path string, recursive bool) (bool, error)
	Rename(ctx context.Context, src, dst string) (bool, error)
	List(ctx context.Context, path string) ([]FileStatus, error)
	Stat(ctx context.Context, path string) (FileStatus, error)
	Mkdir(ctx context.Context, path string, recursive bool) (bool, error)

	// Close releases backend connections.
	Close() error
}

// DefaultsReporter is implemented by backends that know their own
// replication and block size for a path (e.g. HDFS server defaults).
type DefaultsReporter interface {
	DefaultReplication(ctx context.Context, path string) (int, error)
	DefaultBlockSize(ctx context.Context, path string) (int64, error)
}

// ErrorClassifier is implemented by backends that can tell whether one of
// their own errors is worth retrying.
type ErrorClassifier interface {
	IsTransient(err error) bool
}

// Driver constructs clients for one backend family.
type Driver interface {
	// Name is the provider name the driver is registered under.
	Name() string
	// Schemes lists the URI schemes of storage locations the driver serves.
	Schemes() []string
	Capability() Capability
	NewClient(ctx context.Context, cfg BackendConfig) (FileSystem, error)
}

// DriverFunc adapts a constructor function into a Driver.
type DriverFunc struct {
	Provider   string
	URISchemes []string
	Caps       Capability
	New        func(ctx context.Context, cfg BackendConfig) (FileSystem, error)
}

func (d DriverFunc) Name() string           { return d.Provider }
func (d DriverFunc) Schemes() []string      { return d.URISchemes }
func (d DriverFunc) Capability() Capability { return d.Caps }

func (d DriverFunc) NewClient(ctx context.Context, cfg BackendConfig) (FileSystem, error) {
	return d.New(ctx, cfg)
}

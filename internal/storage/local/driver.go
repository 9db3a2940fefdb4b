package local

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/apex/log"
	"github.com/spf13/afero"

	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
	"github.com/objectfs/gvfs/pkg/utils"
)

// Config keys read by the local and memory drivers.
const (
	KeyRoot      = "fs.local.root"
	KeyReadOnly  = "fs.local.readonly"
	KeyBlockSize = "fs.local.block.size"
	KeyNamespace = "fs.mem.namespace"
)

// DefaultBlockSize is the block size local filesystems report.
const DefaultBlockSize = 32 << 20

// Capability of the local and memory drivers.
var Capability = types.Capability{
	SupportsAppend:     true,
	DefaultReplication: 1,
	DefaultBlockSize:   DefaultBlockSize,
}

// NewLocalDriver returns the "local" driver for file:// locations on the host
// filesystem. fs.local.root confines every path below a directory and
// fs.local.readonly rejects writes.
func NewLocalDriver(logger log.Interface) types.Driver {
	if logger == nil {
		logger = log.Log
	}
	return types.DriverFunc{
		Provider:   "local",
		URISchemes: []string{"file"},
		Caps:       Capability,
		New: func(_ context.Context, cfg types.BackendConfig) (types.FileSystem, error) {
			var fsys afero.Fs = afero.NewOsFs()
			if root := cfg.Get(KeyRoot, ""); root != "" {
				fsys = afero.NewBasePathFs(fsys, root)
			}
			readOnly, err := parseBool(cfg, KeyReadOnly)
			if err != nil {
				return nil, invalidConfig("local", err)
			}
			if readOnly {
				fsys = afero.NewReadOnlyFs(fsys)
			}
			blockSize, err := parseBlockSize(cfg)
			if err != nil {
				return nil, invalidConfig("local", err)
			}
			return NewFileSystem(fsys, blockSize, 0, logger.WithField("provider", "local")), nil
		},
	}
}

// MemoryDriver serves locations from in-memory filesystems. Clients built
// with the same fs.mem.namespace share one filesystem, so data outlives any
// single client.
type MemoryDriver struct {
	name    string
	schemes []string
	caps    types.Capability
	logger  log.Interface

	mu         sync.Mutex
	namespaces map[string]afero.Fs
	built      int
}

// NewMemoryDriver returns the "memory" driver for mem:// locations.
func NewMemoryDriver(logger log.Interface) *MemoryDriver {
	return NewMemoryDriverAs("memory", []string{"mem"}, Capability, logger)
}

// NewMemoryDriverAs returns an in-memory driver registered under another
// provider name, schemes and capability, for standing in for a remote
// backend.
func NewMemoryDriverAs(name string, schemes []string, caps types.Capability, logger log.Interface) *MemoryDriver {
	if logger == nil {
		logger = log.Log
	}
	return &MemoryDriver{
		name:       name,
		schemes:    schemes,
		caps:       caps,
		logger:     logger.WithField("provider", name),
		namespaces: make(map[string]afero.Fs),
	}
}

func (d *MemoryDriver) Name() string                 { return d.name }
func (d *MemoryDriver) Schemes() []string            { return d.schemes }
func (d *MemoryDriver) Capability() types.Capability { return d.caps }

// NewClient returns a client over the namespace named in cfg.
func (d *MemoryDriver) NewClient(_ context.Context, cfg types.BackendConfig) (types.FileSystem, error) {
	blockSize, err := parseBlockSize(cfg)
	if err != nil {
		return nil, invalidConfig(d.name, err)
	}

	d.mu.Lock()
	d.built++
	d.mu.Unlock()
	return NewFileSystem(d.Fs(cfg.Get(KeyNamespace, "")), blockSize, 0, d.logger), nil
}

// Fs returns the filesystem of a namespace, creating it on first use.
func (d *MemoryDriver) Fs(namespace string) afero.Fs {
	d.mu.Lock()
	defer d.mu.Unlock()
	fsys, ok := d.namespaces[namespace]
	if !ok {
		fsys = afero.NewMemMapFs()
		d.namespaces[namespace] = fsys
	}
	return fsys
}

// Built returns how many clients the driver has constructed.
func (d *MemoryDriver) Built() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.built
}

func invalidConfig(provider string, err error) error {
	return vfserrors.NewError(vfserrors.ErrCodeInvalidConfig, "invalid filesystem config").
		WithComponent("driver").
		WithProvider(provider).
		WithCause(err)
}

func parseBool(cfg types.BackendConfig, key string) (bool, error) {
	v := cfg.Get(key, "")
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid value %q for %s: %w", v, key, err)
	}
	return b, nil
}

func parseBlockSize(cfg types.BackendConfig) (int64, error) {
	v := cfg.Get(KeyBlockSize, "")
	if v == "" {
		return 0, nil
	}
	n, err := utils.ParseBytes(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid value %q for %s", v, KeyBlockSize)
	}
	return n, nil
}

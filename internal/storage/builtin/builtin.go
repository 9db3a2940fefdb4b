// Package builtin registers the backend drivers shipped with gvfs.
package builtin

import (
	"github.com/apex/log"

	"github.com/objectfs/gvfs/internal/registry"
	"github.com/objectfs/gvfs/internal/storage/hdfs"
	"github.com/objectfs/gvfs/internal/storage/local"
	"github.com/objectfs/gvfs/internal/storage/s3"
	"github.com/objectfs/gvfs/pkg/types"
)

// Drivers returns every built-in driver: hdfs, local, memory and the object
// stores s3, oss and gcs.
func Drivers(logger log.Interface) []types.Driver {
	drivers := []types.Driver{
		hdfs.NewDriver(logger),
		local.NewLocalDriver(logger),
		local.NewMemoryDriver(logger),
	}
	return append(drivers, s3.Drivers(logger)...)
}

// Register adds the built-in drivers to reg.
func Register(reg *registry.Registry, logger log.Interface) error {
	for _, d := range Drivers(logger) {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

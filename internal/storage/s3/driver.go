package s3

import (
	"context"

	"github.com/apex/log"

	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
)

// Provider describes one object store family reachable over the S3 protocol.
type Provider struct {
	Name    string
	Schemes []string
	Keys    Keys
	// Base supplies defaults the family differs on, such as the endpoint.
	Base Config
}

// Object store families.
var (
	S3 = Provider{
		Name:    "s3",
		Schemes: []string{"s3a", "s3", "s3n"},
		Keys: Keys{
			Endpoint:     "fs.s3a.endpoint",
			Region:       "fs.s3a.endpoint.region",
			AccessKey:    "fs.s3a.access.key",
			SecretKey:    "fs.s3a.secret.key",
			SessionToken: "fs.s3a.session.token",
			PathStyle:    "fs.s3a.path.style.access",
			MaxRetries:   "fs.s3a.retry.limit",
			BlockSize:    "fs.s3a.block.size",
			PartSize:     "fs.s3a.multipart.size",
			StorageClass: "fs.s3a.create.storage.class",
			CargoShip:    "fs.s3a.cargoship.enabled",
		},
		Base: *NewDefaultConfig(),
	}

	OSS = Provider{
		Name:    "oss",
		Schemes: []string{"oss"},
		Keys: Keys{
			Endpoint:     "fs.oss.endpoint",
			Region:       "fs.oss.region",
			AccessKey:    "fs.oss.accessKeyId",
			SecretKey:    "fs.oss.accessKeySecret",
			SessionToken: "fs.oss.securityToken",
			MaxRetries:   "fs.oss.attempts.maximum",
			BlockSize:    "fs.oss.block.size",
			PartSize:     "fs.oss.multipart.upload.size",
		},
		Base: withDefaults(func(c *Config) {
			c.Region = "oss-cn-hangzhou"
			c.Endpoint = "https://oss-cn-hangzhou.aliyuncs.com"
		}),
	}

	GCS = Provider{
		Name:    "gcs",
		Schemes: []string{"gs", "gcs"},
		Keys: Keys{
			Endpoint:   "fs.gs.storage.root.url",
			AccessKey:  "fs.gs.hmac.access.key",
			SecretKey:  "fs.gs.hmac.secret",
			MaxRetries: "fs.gs.http.max.retry",
			BlockSize:  "fs.gs.block.size",
			PartSize:   "fs.gs.outputstream.upload.chunk.size",
		},
		Base: withDefaults(func(c *Config) {
			c.Region = "auto"
			c.Endpoint = "https://storage.googleapis.com"
			c.ForcePathStyle = true
		}),
	}
)

func withDefaults(fn func(*Config)) Config {
	c := NewDefaultConfig()
	fn(c)
	return *c
}

// Capability is shared by all object store families: no append, a single
// replica as far as callers can tell, 64 MiB blocks.
var Capability = types.Capability{
	SupportsAppend:     false,
	DefaultReplication: 1,
	DefaultBlockSize:   DefaultBlockSize,
}

// NewDriver returns a driver that builds object store clients for p.
func NewDriver(p Provider, logger log.Interface) types.Driver {
	if logger == nil {
		logger = log.Log
	}
	return types.DriverFunc{
		Provider:   p.Name,
		URISchemes: p.Schemes,
		Caps:       Capability,
		New: func(ctx context.Context, cfg types.BackendConfig) (types.FileSystem, error) {
			c, err := ParseConfig(cfg, p.Keys, p.Base)
			if err != nil {
				return nil, vfserrors.NewError(vfserrors.ErrCodeInvalidConfig, "invalid object store config").
					WithComponent("driver").
					WithProvider(p.Name).
					WithCause(err)
			}
			l := logger.WithField("provider", p.Name)
			l.WithFields(log.Fields{
				"endpoint":  c.Endpoint,
				"region":    c.Region,
				"cargoship": c.EnableCargoShipOptimization,
			}).Debug("creating object store client")
			return NewFileSystem(ctx, c, l)
		},
	}
}

// Drivers returns the drivers of every object store family.
func Drivers(logger log.Interface) []types.Driver {
	return []types.Driver{
		NewDriver(S3, logger),
		NewDriver(OSS, logger),
		NewDriver(GCS, logger),
	}
}

package s3

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
)

func TestParseConfig_OSS(t *testing.T) {
	cfg, err := ParseConfig(types.BackendConfig{
		"fs.oss.endpoint":        "https://oss-cn-beijing.aliyuncs.com",
		"fs.oss.accessKeyId":     "ak",
		"fs.oss.accessKeySecret": "sk",
		"fs.oss.block.size":      "128MB",
	}, OSS.Keys, OSS.Base)
	require.NoError(t, err)

	assert.Equal(t, "https://oss-cn-beijing.aliyuncs.com", cfg.Endpoint)
	assert.Equal(t, "oss-cn-hangzhou", cfg.Region)
	assert.Equal(t, "ak", cfg.AccessKeyID)
	assert.Equal(t, "sk", cfg.SecretAccessKey)
	assert.Equal(t, int64(128<<20), cfg.BlockSize)
	assert.False(t, cfg.EnableCargoShipOptimization)
}

func TestParseConfig_S3(t *testing.T) {
	cfg, err := ParseConfig(types.BackendConfig{
		"fs.s3a.endpoint.region":      "eu-west-1",
		"fs.s3a.path.style.access":    "true",
		"fs.s3a.retry.limit":          "7",
		"fs.s3a.create.storage.class": "standard_ia",
		"fs.s3a.cargoship.enabled":    "true",
	}, S3.Keys, S3.Base)
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.True(t, cfg.ForcePathStyle)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, TierStandardIA, cfg.StorageClass)
	assert.True(t, cfg.EnableCargoShipOptimization)
	assert.Equal(t, int64(DefaultBlockSize), cfg.BlockSize)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  types.BackendConfig
		want string
	}{
		{"bad bool", types.BackendConfig{"fs.s3a.path.style.access": "maybe"}, "fs.s3a.path.style.access"},
		{"bad size", types.BackendConfig{"fs.s3a.block.size": "lots"}, "fs.s3a.block.size"},
		{"small part", types.BackendConfig{"fs.s3a.multipart.size": "1MB"}, "part size"},
		{"half credentials", types.BackendConfig{"fs.s3a.access.key": "ak"}, "set together"},
		{"storage class", types.BackendConfig{"fs.s3a.create.storage.class": "COLD"}, "storage class"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.cfg, S3.Keys, S3.Base)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseConfig_DoesNotShareBase(t *testing.T) {
	_, err := ParseConfig(types.BackendConfig{"fs.gs.storage.root.url": "http://localhost:4443"}, GCS.Keys, GCS.Base)
	require.NoError(t, err)
	assert.Equal(t, "https://storage.googleapis.com", GCS.Base.Endpoint)
}

func TestDrivers(t *testing.T) {
	drivers := Drivers(nil)
	require.Len(t, drivers, 3)

	byName := map[string]types.Driver{}
	for _, d := range drivers {
		byName[d.Name()] = d
		caps := d.Capability()
		assert.False(t, caps.SupportsAppend, d.Name())
		assert.Equal(t, 1, caps.DefaultReplication, d.Name())
		assert.Equal(t, int64(64<<20), caps.DefaultBlockSize, d.Name())
	}
	assert.Contains(t, byName["s3"].Schemes(), "s3a")
	assert.Equal(t, []string{"oss"}, byName["oss"].Schemes())
	assert.Contains(t, byName["gcs"].Schemes(), "gs")
}

func TestDriverRejectsBadConfig(t *testing.T) {
	_, err := NewDriver(OSS, nil).NewClient(context.Background(), types.BackendConfig{
		"fs.oss.accessKeyId": "only-half",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oss")
	assert.Equal(t, vfserrors.ErrCodeInvalidConfig, vfserrors.CodeOf(err))
	assert.False(t, vfserrors.IsRetryable(err))
}

func TestStorageClassConversion(t *testing.T) {
	assert.Equal(t, "", string(ConvertTierToStorageClass("")))
	assert.Equal(t, "STANDARD_IA", string(ConvertTierToStorageClass(TierStandardIA)))
	assert.Equal(t, "INTELLIGENT_TIERING", string(ConvertTierToStorageClass(TierIntelligent)))
}

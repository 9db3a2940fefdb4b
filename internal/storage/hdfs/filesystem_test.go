package hdfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"testing"

	"github.com/colinmarc/hdfs/v2/hadoopconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/gvfs/pkg/types"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		uri, authority, path string
	}{
		{"hdfs://nn:8020/warehouse/a.txt", "nn:8020", "/warehouse/a.txt"},
		{"hdfs://cluster/", "cluster", "/"},
		{"HDFS://nn/x//y/", "nn", "/x/y"},
		{"/bare/path", "", "/bare/path"},
	}
	for _, tt := range tests {
		authority, p, err := splitPath(tt.uri)
		require.NoError(t, err, tt.uri)
		assert.Equal(t, tt.authority, authority, tt.uri)
		assert.Equal(t, tt.path, p, tt.uri)
	}

	for _, bad := range []string{"s3a://bucket/key", "relative"} {
		_, _, err := splitPath(bad)
		assert.ErrorIs(t, err, fs.ErrInvalid, bad)
	}
}

func TestOptionsFor(t *testing.T) {
	f := NewFileSystem(hadoopconf.HadoopConf{
		"fs.defaultFS":                     "hdfs://nn1:9000",
		"dfs.ha.namenodes.prod":            "a, b",
		"dfs.namenode.rpc-address.prod.a":  "prod-a:8020",
		"dfs.namenode.rpc-address.prod.b":  "prod-b:8020",
		"dfs.client.use.datanode.hostname": "true",
	}, "alice", nil)

	opts, err := f.optionsFor("nn1:9000")
	require.NoError(t, err)
	assert.Contains(t, opts.Addresses, "nn1:9000")
	assert.Equal(t, "alice", opts.User)

	opts, err = f.optionsFor("prod")
	require.NoError(t, err)
	assert.Equal(t, []string{"prod-a:8020", "prod-b:8020"}, opts.Addresses)

	opts, err = f.optionsFor("other")
	require.NoError(t, err)
	assert.Equal(t, []string{"other:8020"}, opts.Addresses)

	opts, err = f.optionsFor("other:9001")
	require.NoError(t, err)
	assert.Equal(t, []string{"other:9001"}, opts.Addresses)
}

func TestResolveWithoutNamenode(t *testing.T) {
	f := NewFileSystem(hadoopconf.HadoopConf{}, "bob", nil)

	_, err := f.Stat(context.Background(), "/no/authority")
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrInvalid)
	assert.Contains(t, err.Error(), "fs.defaultFS")
}

func TestClose(t *testing.T) {
	f := NewFileSystem(hadoopconf.HadoopConf{}, "bob", nil)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, err := f.Open(context.Background(), "hdfs://nn/a")
	assert.ErrorIs(t, err, fs.ErrClosed)
}

func TestRenameAcrossNamenodes(t *testing.T) {
	f := NewFileSystem(hadoopconf.HadoopConf{}, "bob", nil)

	_, err := f.Rename(context.Background(), "hdfs://a/x", "hdfs://b/x")
	assert.ErrorIs(t, err, fs.ErrInvalid)
	assert.Contains(t, err.Error(), "different namenodes")
}

type fakeRemoteError struct{ exception string }

func (e fakeRemoteError) Error() string     { return e.exception + ": remote failure" }
func (e fakeRemoteError) Exception() string { return e.exception }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", &os.PathError{Op: "stat", Path: "/a", Err: os.ErrNotExist}, false},
		{"permission", &os.PathError{Op: "create", Path: "/a", Err: os.ErrPermission}, false},
		{"standby", fakeRemoteError{"org.apache.hadoop.ipc.StandbyException"}, true},
		{"safe mode", fmt.Errorf("mkdir: %w", fakeRemoteError{"org.apache.hadoop.hdfs.server.namenode.SafeModeException"}), true},
		{"quota", fakeRemoteError{"org.apache.hadoop.hdfs.protocol.DSQuotaExceededException"}, false},
		{"dial", &net.OpError{Op: "dial", Err: errors.New("no route to host")}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestUser(t *testing.T) {
	t.Setenv("HADOOP_USER_NAME", "env-user")

	assert.Equal(t, "cfg-user", User(types.BackendConfig{KeyUser: "cfg-user", KeyHadoopUser: "other"}))
	assert.Equal(t, "hadoop-user", User(types.BackendConfig{KeyHadoopUser: "hadoop-user"}))
	assert.Equal(t, "env-user", User(types.BackendConfig{}))
}

func TestDriver(t *testing.T) {
	d := NewDriver(nil)
	assert.Equal(t, "hdfs", d.Name())
	assert.Equal(t, []string{"hdfs"}, d.Schemes())
	assert.Equal(t, 3, d.Capability().DefaultReplication)
	assert.Equal(t, int64(128<<20), d.Capability().DefaultBlockSize)
	assert.True(t, d.Capability().SupportsAppend)

	client, err := d.NewClient(context.Background(), types.BackendConfig{"fs.defaultFS": "hdfs://nn1:9000"})
	require.NoError(t, err)
	assert.NoError(t, client.Close(), "nothing dialed yet")

	conf := Conf(types.BackendConfig{"dfs.replication": "2"})
	assert.Equal(t, "2", conf["dfs.replication"])
}

func TestCanceledContextNeverDials(t *testing.T) {
	f := NewFileSystem(hadoopconf.HadoopConf{"fs.defaultFS": "hdfs://nn1:9000"}, "gvfs", nil)
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Stat(ctx, "hdfs://nn1:9000/warehouse")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = f.List(ctx, "hdfs://nn1:9000/warehouse")
	assert.ErrorIs(t, err, context.Canceled)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Empty(t, f.clients)
}

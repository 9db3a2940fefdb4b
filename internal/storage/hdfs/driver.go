package hdfs

import (
	"context"
	"os"
	"os/user"

	"github.com/apex/log"
	"github.com/colinmarc/hdfs/v2/hadoopconf"

	"github.com/objectfs/gvfs/pkg/types"
)

// Config keys naming the HDFS user. Every other key is passed through as
// Hadoop configuration, so fs.defaultFS and dfs.* keys work as they do in
// core-site.xml and hdfs-site.xml.
const (
	KeyUser       = "fs.hdfs.user"
	KeyHadoopUser = "hadoop.user.name"
)

// Capability of the HDFS driver. The namenode may report other defaults.
var Capability = types.Capability{
	SupportsAppend:     true,
	DefaultReplication: 3,
	DefaultBlockSize:   128 << 20,
}

// NewDriver returns the "hdfs" driver.
func NewDriver(logger log.Interface) types.Driver {
	if logger == nil {
		logger = log.Log
	}
	return types.DriverFunc{
		Provider:   "hdfs",
		URISchemes: []string{"hdfs"},
		Caps:       Capability,
		New: func(_ context.Context, cfg types.BackendConfig) (types.FileSystem, error) {
			return NewFileSystem(Conf(cfg), User(cfg), logger.WithField("provider", "hdfs")), nil
		},
	}
}

// Conf converts backend config into Hadoop configuration.
func Conf(cfg types.BackendConfig) hadoopconf.HadoopConf {
	conf := make(hadoopconf.HadoopConf, len(cfg))
	for k, v := range cfg {
		conf[k] = v
	}
	return conf
}

// User picks the HDFS user: the config keys first, then HADOOP_USER_NAME,
// then the process owner.
func User(cfg types.BackendConfig) string {
	if u := cfg.Get(KeyUser, cfg.Get(KeyHadoopUser, "")); u != "" {
		return u
	}
	if u := os.Getenv("HADOOP_USER_NAME"); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

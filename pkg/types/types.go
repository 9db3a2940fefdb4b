package types

import (
	"sort"
	"strings"
	"time"
)

// FilesetIdent names a fileset within a metalake.
type FilesetIdent struct {
	Metalake string `json:"metalake"`
	Catalog  string `json:"catalog"`
	Schema   string `json:"schema"`
	Fileset  string `json:"fileset"`
}

// String returns the dotted form metalake.catalog.schema.fileset.
func (id FilesetIdent) String() string {
	return id.Metalake + "." + id.Catalog + "." + id.Schema + "." + id.Fileset
}

// LogicalPath is a parsed virtual path. It is a comparable value; two paths are
// equal when all parts are equal. SubPath is relative to the fileset root and
// never starts with a slash.
type LogicalPath struct {
	FilesetIdent
	SubPath string `json:"sub_path"`
}

// String returns the dotted fileset name followed by the sub path.
func (p LogicalPath) String() string {
	if p.SubPath == "" {
		return p.FilesetIdent.String()
	}
	return p.FilesetIdent.String() + "/" + p.SubPath
}

// FilesetKey returns the part of the path that identifies the fileset.
func (p LogicalPath) FilesetKey() FilesetIdent {
	return p.FilesetIdent
}

// FileStatus describes a file or directory as reported by a backend.
// Path is the full physical URI of the entry.
type FileStatus struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`

	// Zero means the backend did not report a value.
	BlockSize   int64 `json:"block_size,omitempty"`
	Replication int   `json:"replication,omitempty"`
}

// Capability is the static feature set of a backend driver.
type Capability struct {
	SupportsAppend     bool  `json:"supports_append"`
	DefaultReplication int   `json:"default_replication"`
	DefaultBlockSize   int64 `json:"default_block_size"`
}

// FilesetLocation is the resolved physical placement of a fileset.
type FilesetLocation struct {
	Identifier      string `json:"identifier"`
	PhysicalBaseURI string `json:"physical_base_uri"`
	Provider        string `json:"provider"`
}

// BackendConfig holds the settings handed to a backend driver. It is built fresh
// for every resolution and must not be mutated after it is handed off.
type BackendConfig map[string]string

// Get returns the value for key or def when it is unset or empty.
func (c BackendConfig) Get(key, def string) string {
	if v, ok := c[key]; ok && v != "" {
		return v
	}
	return def
}

// Keys returns the config keys in ascending order.
func (c BackendConfig) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the config with secret-looking values masked.
func (c BackendConfig) String() string {
	parts := make([]string, 0, len(c))
	for _, k := range c.Keys() {
		v := c[k]
		if isSecretKey(k) {
			v = "****"
		}
		parts = append(parts, k+"="+v)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	for _, s := range []string{"secret", "password", "token", "credential"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

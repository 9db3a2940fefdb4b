// Package translate converts virtual filesystem configuration into backend configuration.
//
// Keys carrying the bypass prefix are meant for the backend. Translate strips the
// prefix and drops every other key, since those configure the virtual filesystem
// itself.
package translate

import (
	"sort"
	"strings"

	"github.com/objectfs/gvfs/pkg/types"
)

// DefaultBypassPrefix marks configuration keys forwarded to backends.
const DefaultBypassPrefix = "gravitino.bypass."

// Translate returns a new BackendConfig holding every key of vfsConfig that begins
// with prefix, with the prefix removed and the value unchanged.
//
// Every occurrence of prefix is removed from a matching key, so no output key
// contains prefix. As a result two input keys can map to the same output key
// (gravitino.bypass.fs.x and gravitino.bypass.gravitino.bypass.fs.x both give
// fs.x). On such a collision the input key that sorts last wins. Keys that strip
// to the empty string are dropped. An empty prefix copies every non-empty key.
func Translate(vfsConfig map[string]string, prefix string) types.BackendConfig {
	out := make(types.BackendConfig)
	for _, k := range sortedKeys(vfsConfig) {
		stripped, ok := strip(k, prefix)
		if !ok {
			continue
		}
		out[stripped] = vfsConfig[k]
	}
	return out
}

// Collisions reports, for each output key produced by more than one input key,
// the colliding input keys in ascending order. The last one is the key Translate kept.
func Collisions(vfsConfig map[string]string, prefix string) map[string][]string {
	groups := make(map[string][]string)
	for _, k := range sortedKeys(vfsConfig) {
		stripped, ok := strip(k, prefix)
		if !ok {
			continue
		}
		groups[stripped] = append(groups[stripped], k)
	}
	for k, v := range groups {
		if len(v) < 2 {
			delete(groups, k)
		}
	}
	return groups
}

func strip(key, prefix string) (string, bool) {
	if prefix == "" {
		return key, key != ""
	}
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	// Removing one occurrence can splice a new one together, so repeat until none is left.
	for strings.Contains(key, prefix) {
		key = strings.ReplaceAll(key, prefix, "")
	}
	return key, key != ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package metadata resolves filesets to their physical storage locations.
//
// A Service is the consumed metadata API (a Gravitino-compatible REST server in
// production, an in-memory catalog in tests). The Resolver sits in front of it,
// maps every failure onto the not found, unauthorized and service unavailable
// error kinds, and optionally remembers locations for a short time.
package metadata

import (
	"context"

	"github.com/objectfs/gvfs/pkg/types"
)

// FilesetType distinguishes filesets whose location is owned by the catalog
// from those that point at pre-existing data.
type FilesetType string

const (
	FilesetManaged  FilesetType = "managed"
	FilesetExternal FilesetType = "external"
)

// Well-known fileset and catalog properties.
const (
	// PropertyProvider pins the provider of a fileset when its location
	// scheme is ambiguous.
	PropertyProvider = "filesystem-provider"
	// PropertyProviders lists the providers a catalog may use, comma separated.
	PropertyProviders = "filesystem-providers"
)

// FilesetInfo is what the metadata service knows about a fileset.
type FilesetInfo struct {
	Name            string            `json:"name"`
	Type            FilesetType       `json:"type"`
	Comment         string            `json:"comment,omitempty"`
	StorageLocation string            `json:"storageLocation"`
	Properties      map[string]string `json:"properties,omitempty"`
}

// Service is the metadata API consumed by the virtual filesystem. Errors
// should already be VFS errors; anything else is reported as the service
// being unavailable.
type Service interface {
	LoadFileset(ctx context.Context, ident types.FilesetIdent) (FilesetInfo, error)
	FilesetExists(ctx context.Context, ident types.FilesetIdent) (bool, error)
}

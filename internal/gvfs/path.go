package gvfs

import (
	"strings"

	"github.com/objectfs/gvfs/internal/metadata"
	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
	"github.com/objectfs/gvfs/pkg/utils"
)

// Virtual path syntax.
const (
	Scheme    = "gvfs"
	Authority = "fileset"
	prefix    = Scheme + "://" + Authority
)

// ParsePath parses a virtual path of the form
//
//	gvfs://fileset/{catalog}/{schema}/{fileset}[/{sub path}]
//
// or the same without the scheme and authority, starting at "/{catalog}".
// The metalake is not part of the path; it comes from configuration.
// The sub path is normalized but not decoded.
func ParsePath(raw, metalake string) (types.LogicalPath, error) {
	rest, err := stripPrefix(raw)
	if err != nil {
		return types.LogicalPath{}, err
	}

	parts := strings.SplitN(strings.TrimLeft(rest, "/"), "/", 4)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return types.LogicalPath{}, invalid(raw, "path must name a catalog, schema and fileset")
	}

	p := types.LogicalPath{
		FilesetIdent: types.FilesetIdent{
			Metalake: metalake,
			Catalog:  parts[0],
			Schema:   parts[1],
			Fileset:  parts[2],
		},
	}
	if metalake == "" {
		return types.LogicalPath{}, vfserrors.NewError(vfserrors.ErrCodeInvalidConfig, "no metalake configured").
			WithComponent("dispatcher").
			WithPath(raw)
	}
	for _, part := range []struct{ name, value string }{
		{"metalake", metalake},
		{"catalog", p.Catalog},
		{"schema", p.Schema},
		{"fileset", p.Fileset},
	} {
		if err := metadata.ValidateName(part.value); err != nil {
			return types.LogicalPath{}, invalid(raw, part.name+" name "+err.Error())
		}
	}

	if len(parts) == 4 {
		sub, err := utils.CleanSubPath(parts[3])
		if err != nil {
			return types.LogicalPath{}, invalid(raw, err.Error())
		}
		p.SubPath = sub
	}
	return p, nil
}

// VirtualPath renders p in gvfs:// form.
func VirtualPath(p types.LogicalPath) string {
	s := prefix + "/" + p.Catalog + "/" + p.Schema + "/" + p.Fileset
	if p.SubPath != "" {
		s += "/" + p.SubPath
	}
	return s
}

func stripPrefix(raw string) (string, error) {
	switch {
	case raw == "":
		return "", invalid(raw, "empty path")
	case strings.HasPrefix(raw, "/"):
		return raw, nil
	}

	i := strings.Index(raw, "://")
	if i < 0 {
		return "", invalid(raw, "path must be absolute or start with "+prefix)
	}
	if !strings.EqualFold(raw[:i], Scheme) {
		return "", invalid(raw, "unsupported scheme "+raw[:i])
	}
	rest := raw[i+3:]
	authority, path, _ := strings.Cut(rest, "/")
	if authority != Authority {
		return "", invalid(raw, "authority must be "+Authority)
	}
	return "/" + path, nil
}

func invalid(raw, reason string) error {
	return vfserrors.InvalidPath(raw, reason).WithComponent("dispatcher")
}

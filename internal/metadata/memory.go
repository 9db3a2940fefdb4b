package metadata

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	vfserrors "github.com/objectfs/gvfs/pkg/errors"
	"github.com/objectfs/gvfs/pkg/types"
	"github.com/objectfs/gvfs/pkg/utils"
)

// ErrAlreadyExists is returned by MemoryService when creating an entity twice.
var ErrAlreadyExists = errors.New("already exists")

// PropertyLocation is the catalog or schema property under which managed
// filesets without an explicit location are placed.
const PropertyLocation = "location"

type memSchema struct {
	properties map[string]string
	filesets   map[string]FilesetInfo
}

type memCatalog struct {
	properties map[string]string
	schemas    map[string]*memSchema
}

type memMetalake struct {
	catalogs map[string]*memCatalog
}

// MemoryService is an in-process metadata catalog. It backs tests and the
// CLI's local mode.
type MemoryService struct {
	mu        sync.RWMutex
	metalakes map[string]*memMetalake
	err       error
	loads     atomic.Int64
}

// NewMemoryService creates an empty catalog.
func NewMemoryService() *MemoryService {
	return &MemoryService{metalakes: make(map[string]*memMetalake)}
}

// SetError makes every subsequent read fail with err. A nil err clears it.
func (s *MemoryService) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Loads returns how many times LoadFileset has been called.
func (s *MemoryService) Loads() int64 {
	return s.loads.Load()
}

// LoadFileset implements Service.
func (s *MemoryService) LoadFileset(ctx context.Context, ident types.FilesetIdent) (FilesetInfo, error) {
	s.loads.Add(1)
	if err := ctx.Err(); err != nil {
		return FilesetInfo{}, vfserrors.ServiceUnavailable("metadata request canceled", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return FilesetInfo{}, s.err
	}

	sc, err := s.schema(ident.Metalake, ident.Catalog, ident.Schema)
	if err != nil {
		return FilesetInfo{}, err
	}
	fs, ok := sc.filesets[ident.Fileset]
	if !ok {
		return FilesetInfo{}, vfserrors.NotFound("fileset " + ident.String())
	}
	return copyInfo(fs), nil
}

// FilesetExists implements Service.
func (s *MemoryService) FilesetExists(ctx context.Context, ident types.FilesetIdent) (bool, error) {
	_, err := s.LoadFileset(ctx, ident)
	if vfserrors.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// CreateMetalake adds a metalake.
func (s *MemoryService) CreateMetalake(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.metalakes[name]; ok {
		return alreadyExists("metalake " + name)
	}
	s.metalakes[name] = &memMetalake{catalogs: make(map[string]*memCatalog)}
	return nil
}

// DropMetalake removes a metalake and everything below it.
func (s *MemoryService) DropMetalake(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.metalakes[name]
	delete(s.metalakes, name)
	return ok
}

// CreateCatalog adds a fileset catalog to a metalake.
func (s *MemoryService) CreateCatalog(metalake, name string, properties map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ml, ok := s.metalakes[metalake]
	if !ok {
		return vfserrors.NotFound("metalake " + metalake)
	}
	if _, ok := ml.catalogs[name]; ok {
		return alreadyExists("catalog " + metalake + "." + name)
	}
	ml.catalogs[name] = &memCatalog{
		properties: copyProps(properties),
		schemas:    make(map[string]*memSchema),
	}
	return nil
}

// DropCatalog removes a catalog.
func (s *MemoryService) DropCatalog(metalake, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ml, ok := s.metalakes[metalake]
	if !ok {
		return false
	}
	_, ok = ml.catalogs[name]
	delete(ml.catalogs, name)
	return ok
}

// CreateSchema adds a schema to a catalog.
func (s *MemoryService) CreateSchema(metalake, catalog, name string, properties map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ml, ok := s.metalakes[metalake]
	if !ok {
		return vfserrors.NotFound("metalake " + metalake)
	}
	cat, ok := ml.catalogs[catalog]
	if !ok {
		return vfserrors.NotFound("catalog " + metalake + "." + catalog)
	}
	if _, ok := cat.schemas[name]; ok {
		return alreadyExists("schema " + metalake + "." + catalog + "." + name)
	}
	cat.schemas[name] = &memSchema{
		properties: copyProps(properties),
		filesets:   make(map[string]FilesetInfo),
	}
	return nil
}

// DropSchema removes a schema.
func (s *MemoryService) DropSchema(metalake, catalog, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ml, ok := s.metalakes[metalake]
	if !ok {
		return false
	}
	cat, ok := ml.catalogs[catalog]
	if !ok {
		return false
	}
	_, ok = cat.schemas[name]
	delete(cat.schemas, name)
	return ok
}

// CreateFileset adds a fileset. A managed fileset created without a storage
// location is placed under the schema location, or else the catalog location,
// as <location>/<schema>/<fileset> (schema location omits the schema part).
func (s *MemoryService) CreateFileset(ident types.FilesetIdent, typ FilesetType, location string, properties map[string]string) (FilesetInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ml, ok := s.metalakes[ident.Metalake]
	if !ok {
		return FilesetInfo{}, vfserrors.NotFound("metalake " + ident.Metalake)
	}
	cat, ok := ml.catalogs[ident.Catalog]
	if !ok {
		return FilesetInfo{}, vfserrors.NotFound("catalog " + ident.Metalake + "." + ident.Catalog)
	}
	sc, ok := cat.schemas[ident.Schema]
	if !ok {
		return FilesetInfo{}, vfserrors.NotFound("schema " + ident.Metalake + "." + ident.Catalog + "." + ident.Schema)
	}
	if _, ok := sc.filesets[ident.Fileset]; ok {
		return FilesetInfo{}, alreadyExists("fileset " + ident.String())
	}

	if typ == "" {
		typ = FilesetManaged
	}
	if location == "" && typ == FilesetManaged {
		switch {
		case sc.properties[PropertyLocation] != "":
			location = utils.JoinURI(sc.properties[PropertyLocation], ident.Fileset)
		case cat.properties[PropertyLocation] != "":
			location = utils.JoinURI(cat.properties[PropertyLocation], ident.Schema+"/"+ident.Fileset)
		}
	}
	if strings.TrimSpace(location) == "" {
		return FilesetInfo{}, vfserrors.Newf(vfserrors.ErrCodeInvalidConfig, "fileset %s has no storage location", ident)
	}

	props := copyProps(properties)
	if _, ok := props[PropertyProvider]; !ok && cat.properties[PropertyProviders] != "" {
		// A catalog limited to a single provider pins it for its filesets.
		if providers := strings.Split(cat.properties[PropertyProviders], ","); len(providers) == 1 {
			props[PropertyProvider] = strings.TrimSpace(providers[0])
		}
	}

	info := FilesetInfo{
		Name:            ident.Fileset,
		Type:            typ,
		StorageLocation: location,
		Properties:      props,
	}
	sc.filesets[ident.Fileset] = info
	return copyInfo(info), nil
}

// DropFileset removes a fileset. It reports whether the fileset existed.
func (s *MemoryService) DropFileset(ident types.FilesetIdent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, err := s.schema(ident.Metalake, ident.Catalog, ident.Schema)
	if err != nil {
		return false
	}
	_, ok := sc.filesets[ident.Fileset]
	delete(sc.filesets, ident.Fileset)
	return ok
}

// AlterFilesetLocation points an existing fileset at a new location.
func (s *MemoryService) AlterFilesetLocation(ident types.FilesetIdent, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, err := s.schema(ident.Metalake, ident.Catalog, ident.Schema)
	if err != nil {
		return err
	}
	fs, ok := sc.filesets[ident.Fileset]
	if !ok {
		return vfserrors.NotFound("fileset " + ident.String())
	}
	fs.StorageLocation = location
	sc.filesets[ident.Fileset] = fs
	return nil
}

// schema looks up a schema. Caller holds mu.
func (s *MemoryService) schema(metalake, catalog, schema string) (*memSchema, error) {
	ml, ok := s.metalakes[metalake]
	if !ok {
		return nil, vfserrors.NotFound("metalake " + metalake)
	}
	cat, ok := ml.catalogs[catalog]
	if !ok {
		return nil, vfserrors.NotFound("catalog " + metalake + "." + catalog)
	}
	sc, ok := cat.schemas[schema]
	if !ok {
		return nil, vfserrors.NotFound("schema " + metalake + "." + catalog + "." + schema)
	}
	return sc, nil
}

func alreadyExists(what string) error {
	return vfserrors.Newf(vfserrors.ErrCodeInvalidConfig, "%s already exists", what).WithCause(ErrAlreadyExists)
}

func copyProps(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyInfo(in FilesetInfo) FilesetInfo {
	in.Properties = copyProps(in.Properties)
	return in
}

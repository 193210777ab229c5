package upkg

import (
	"context"
	"fmt"
	"maps"

	"github.com/google/uuid"
)

const (
	persistentPackage = "GlobalPersistentCookerData"
	persistentClass   = "PersistentCookerData"
)

// BulkDataInfo locates a bulk data payload stored outside its package.
type BulkDataInfo struct {
	Flags        uint32
	ElementCount uint32
	OffsetInFile uint32
	SizeOnDisk   uint32
	CacheName    string
}

// TextureFileCacheInfo describes one texture file cache.
type TextureFileCacheInfo struct {
	GUID      uuid.UUID
	LastSaved int64
}

// PersistentDataProvider is implemented by the cooker data object. Its maps
// are copied into the registry by LoadPersistentData.
type PersistentDataProvider interface {
	PersistentData() (bulk map[string]BulkDataInfo, textures map[string]TextureFileCacheInfo)
}

// LoadPersistentData reads the global cooker data package and keeps its bulk
// data and texture cache tables. The package is closed afterwards.
func (r *Registry) LoadPersistentData(ctx context.Context) error {
	p, err := r.OpenNamed(ctx, persistentPackage, uuid.Nil)
	if err != nil {
		return fmt.Errorf("persistent data: %w", err)
	}
	defer r.Close(p)
	if err := p.Load(ctx); err != nil {
		return fmt.Errorf("persistent data: %w", err)
	}

	for _, exp := range p.Exports() {
		if exp.className != persistentClass {
			continue
		}
		obj, err := p.GetObject(ctx, exp.ref, true)
		if err != nil {
			return fmt.Errorf("persistent data: %w", err)
		}
		prov, ok := obj.(PersistentDataProvider)
		if !ok {
			continue
		}
		bulk, textures := prov.PersistentData()
		r.persistMu.Lock()
		r.bulkData = maps.Clone(bulk)
		r.textureCache = maps.Clone(textures)
		r.persistMu.Unlock()
		r.log().Info("loaded persistent data", "bulk_data", len(bulk), "texture_caches", len(textures))
		return nil
	}
	return fmt.Errorf("persistent data: %w: no %s object in %s", ErrNotFound, persistentClass, p.name)
}

// BulkDataInfo returns the bulk data entry for name.
func (r *Registry) BulkDataInfo(name string) (BulkDataInfo, bool) {
	r.persistMu.RLock()
	defer r.persistMu.RUnlock()
	info, ok := r.bulkData[name]
	return info, ok
}

// TextureCacheInfo returns the texture file cache entry for name.
func (r *Registry) TextureCacheInfo(name string) (TextureFileCacheInfo, bool) {
	r.persistMu.RLock()
	defer r.persistMu.RUnlock()
	info, ok := r.textureCache[name]
	return info, ok
}

package compaction

import (
	"context"
	"path"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/strataio/strata/internal/cache"
	"github.com/strataio/strata/internal/manifest"
	"github.com/strataio/strata/internal/storage"
)

// GC removes segment objects the catalog no longer needs.
type GC struct {
	catalog  *manifest.Catalog
	store    storage.ObjectStorage
	segCache *cache.SegmentCache
}

// NewGC creates a garbage collector. segCache may be nil.
func NewGC(catalog *manifest.Catalog, store storage.ObjectStorage, segCache *cache.SegmentCache) *GC {
	return &GC{catalog: catalog, store: store, segCache: segCache}
}

// CollectExpired deletes compacted segments past ttl from the catalog and
// object storage. Returns the number of objects removed.
func (g *GC) CollectExpired(ctx context.Context, ttl time.Duration) (int, error) {
	keys, err := g.catalog.DeleteExpired(ctx, ttl)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if err := g.store.Delete(ctx, key); err != nil {
			log.WithError(err).WithField("key", key).Warn("failed to delete expired segment object")
			continue
		}
		if g.segCache != nil {
			g.segCache.Remove(key)
		}
		removed++
	}
	if removed > 0 {
		log.WithField("removed", removed).Info("expired segments collected")
	}
	return removed, nil
}

// CollectOrphans deletes segment objects under a tablet's storage prefix
// that the catalog does not know about. Orphans appear when an upload
// succeeded but the catalog insert did not.
func (g *GC) CollectOrphans(ctx context.Context, tabletID string) (int, error) {
	known, err := g.catalog.ListObjectKeys(ctx, tabletID)
	if err != nil {
		return 0, err
	}
	knownSet := make(map[string]struct{}, len(known))
	for _, key := range known {
		knownSet[key] = struct{}{}
	}

	stored, err := g.store.List(ctx, path.Join("tablets", tabletID))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, key := range stored {
		if _, ok := knownSet[key]; ok {
			continue
		}
		if err := g.store.Delete(ctx, key); err != nil {
			log.WithError(err).WithField("key", key).Warn("failed to delete orphan segment object")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.WithFields(logrus.Fields{"tablet": tabletID, "removed": removed}).Info("orphan segments collected")
	}
	return removed, nil
}

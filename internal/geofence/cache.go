package geofence

import (
	"sync"
	"time"

	"github.com/example/safety-core/internal/models"
)

// SnapshotCache keeps the last fetched zone list for a short TTL so rapid
// repeated triggers do not refetch polygons.
type SnapshotCache struct {
	mu    sync.RWMutex
	zones []models.GeofenceZone
	ts    time.Time
	ttl   time.Duration
}

// NewSnapshotCache creates a cache with the provided TTL.
func NewSnapshotCache(ttl time.Duration) *SnapshotCache {
	return &SnapshotCache{ttl: ttl}
}

// Get returns the cached snapshot and true if present and not expired.
func (c *SnapshotCache) Get() ([]models.GeofenceZone, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.zones == nil || time.Since(c.ts) > c.ttl {
		return nil, false
	}
	return c.zones, true
}

// Set stores a snapshot.
func (c *SnapshotCache) Set(zones []models.GeofenceZone) {
	c.mu.Lock()
	c.zones = zones
	c.ts = time.Now()
	c.mu.Unlock()
}

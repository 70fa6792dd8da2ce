package directory

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"classwatch/pkg/types"
)

// Cache key prefixes. The key space covers whole org-unit device lists and
// single devices, matching the two upstream query shapes.
const (
	orgUnitKeyPrefix = "devices_"
	deviceKeyPrefix  = "device_"
)

// Cache is the time-bounded cache in front of the directory API. Expired
// entries are absent the moment their TTL elapses, even before the backing
// store physically evicts them; the expirable LRU checks expiry on Get.
type Cache struct {
	lru *expirable.LRU[string, any]
	ttl time.Duration
}

// NewCache creates a cache with a fixed TTL for every entry. Size bounds
// the entry count; one org-unit list plus one entry per device fits easily.
func NewCache(ttl time.Duration, size int) *Cache {
	return &Cache{
		lru: expirable.NewLRU[string, any](size, nil, ttl),
		ttl: ttl,
	}
}

// GetDevices returns the cached device list for an org unit, if fresh.
func (c *Cache) GetDevices(orgUnit string) ([]*types.DirectoryRecord, bool) {
	v, ok := c.lru.Get(orgUnitKeyPrefix + orgUnit)
	if !ok {
		return nil, false
	}
	records, ok := v.([]*types.DirectoryRecord)
	return records, ok
}

// SetDevices stores an org unit's device list with expiry now + TTL.
func (c *Cache) SetDevices(orgUnit string, records []*types.DirectoryRecord) {
	c.lru.Add(orgUnitKeyPrefix+orgUnit, records)
}

// GetDevice returns a cached single-device record, if fresh.
func (c *Cache) GetDevice(deviceID string) (*types.DirectoryRecord, bool) {
	v, ok := c.lru.Get(deviceKeyPrefix + deviceID)
	if !ok {
		return nil, false
	}
	record, ok := v.(*types.DirectoryRecord)
	return record, ok
}

// SetDevice stores a single-device record with expiry now + TTL.
func (c *Cache) SetDevice(deviceID string, record *types.DirectoryRecord) {
	c.lru.Add(deviceKeyPrefix+deviceID, record)
}

// InvalidateAll clears every entry. Used for administrative cache-busting
// when directory data is known to have changed upstream.
func (c *Cache) InvalidateAll() {
	c.lru.Purge()
}

// Len reports the number of physically present entries, expired or not.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// TTL returns the fixed entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

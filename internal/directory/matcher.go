package directory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// Matcher resolves hardware identifiers to directory records through the
// cache, falling back to an upstream fetch-and-cache path. Successful
// fetches are also persisted to the snapshot store when one is configured,
// so later restarts and upstream outages have something to fall back on.
type Matcher struct {
	client  interfaces.DirectoryClient
	cache   *Cache
	store   interfaces.DeviceStore
	orgUnit string
	log     zerolog.Logger
}

// NewMatcher creates a matcher scoped to one org unit. store may be nil.
func NewMatcher(client interfaces.DirectoryClient, cache *Cache, store interfaces.DeviceStore, orgUnit string, log zerolog.Logger) *Matcher {
	return &Matcher{
		client:  client,
		cache:   cache,
		store:   store,
		orgUnit: orgUnit,
		log:     log,
	}
}

// OrgUnit returns the org unit this matcher is scoped to.
func (m *Matcher) OrgUnit() string {
	return m.orgUnit
}

// DevicesInOrgUnit returns the device list for the matcher's org unit,
// served from cache when fresh. Upstream failures propagate; the cache is
// never populated from a failed fetch.
func (m *Matcher) DevicesInOrgUnit(ctx context.Context) ([]*types.DirectoryRecord, error) {
	if records, ok := m.cache.GetDevices(m.orgUnit); ok {
		m.log.Debug().Str("org_unit", m.orgUnit).Int("count", len(records)).Msg("device list served from cache")
		return records, nil
	}

	records, err := m.client.ListDevices(ctx, m.orgUnit)
	if err != nil {
		return nil, fmt.Errorf("listing devices in %s: %w", m.orgUnit, err)
	}

	m.cache.SetDevices(m.orgUnit, records)
	m.persist(ctx, records)
	return records, nil
}

// ResolveByHardwareID scans the org unit's devices for the first record
// whose MAC-like identifier equals id. A missing match is (nil, nil), not
// an error; only upstream failures return an error, and callers treat it
// as recoverable.
func (m *Matcher) ResolveByHardwareID(ctx context.Context, id string) (*types.DirectoryRecord, error) {
	records, err := m.DevicesInOrgUnit(ctx)
	if err != nil {
		return nil, err
	}

	for _, record := range records {
		if record.MACAddress == id {
			return record, nil
		}
	}
	m.log.Debug().Str("hardware_id", id).Msg("no directory match for hardware id")
	return nil, nil
}

// Device returns one device by directory id, cache first.
func (m *Matcher) Device(ctx context.Context, deviceID string) (*types.DirectoryRecord, error) {
	if record, ok := m.cache.GetDevice(deviceID); ok {
		return record, nil
	}

	record, err := m.client.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	m.cache.SetDevice(deviceID, record)
	m.persist(ctx, []*types.DirectoryRecord{record})
	return record, nil
}

func (m *Matcher) persist(ctx context.Context, records []*types.DirectoryRecord) {
	if m.store == nil || len(records) == 0 {
		return
	}
	if err := m.store.UpsertDevices(ctx, records); err != nil {
		m.log.Warn().Err(err).Int("count", len(records)).Msg("failed to persist device snapshots")
	}
}

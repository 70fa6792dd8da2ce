package interfaces

import (
	"context"
	"time"

	"classwatch/pkg/types"
)

// DirectoryClient talks to the upstream device-management API. Failures are
// transient by assumption; callers cache successes and degrade gracefully on
// errors.
type DirectoryClient interface {
	// ListDevices enumerates every managed device under an org unit.
	ListDevices(ctx context.Context, orgUnit string) ([]*types.DirectoryRecord, error)

	// GetDevice fetches a single device by its directory id.
	GetDevice(ctx context.Context, deviceID string) (*types.DirectoryRecord, error)
}

// DeviceStore persists the most recent directory record per device. It backs
// the admin API when upstream is unreachable and warms the cache at startup.
type DeviceStore interface {
	UpsertDevices(ctx context.Context, records []*types.DirectoryRecord) error
	ListDevices(ctx context.Context, orgUnit string) ([]*types.DirectoryRecord, error)

	// ListDevicesSince returns records persisted at or after the given
	// instant, used to seed the cache with still-fresh snapshots.
	ListDevicesSince(ctx context.Context, since time.Time) ([]*types.DirectoryRecord, error)
	GetDevice(ctx context.Context, deviceID string) (*types.DirectoryRecord, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

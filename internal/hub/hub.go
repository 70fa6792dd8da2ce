// Package hub coordinates directory enrichment. Lookups run as detached
// tasks so nothing in the identify path blocks on upstream I/O; results
// come back through a channel into a single run loop, which makes the
// "party may have disappeared" race an explicit, testable no-op.
package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"classwatch/internal/registry"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// Resolver is the directory matcher surface the hub needs.
type Resolver interface {
	ResolveByHardwareID(ctx context.Context, id string) (*types.DirectoryRecord, error)
}

// Broadcaster re-broadcasts the roster once an enrichment result lands, so
// coordinators see directory metadata that arrived after the identify
// broadcast.
type Broadcaster interface {
	BroadcastRoster()
}

type lookupResult struct {
	conn   interfaces.Connection
	record *types.DirectoryRecord
}

// Hub runs the enrichment loop. Submit is non-blocking; a full results
// channel or a stopped hub just means the lookup result is lost, which the
// contract allows (enrichment is best-effort).
type Hub struct {
	resolver    Resolver
	registry    *registry.Registry
	broadcaster Broadcaster

	results  chan lookupResult
	shutdown chan struct{}
	ctx      context.Context

	running bool
	mu      sync.Mutex
	log     zerolog.Logger
}

func NewHub(resolver Resolver, reg *registry.Registry, broadcaster Broadcaster, log zerolog.Logger) *Hub {
	return &Hub{
		resolver:    resolver,
		registry:    reg,
		broadcaster: broadcaster,
		results:     make(chan lookupResult, 64),
		shutdown:    make(chan struct{}),
		log:         log,
	}
}

// Start begins draining lookup results.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.ctx = ctx

	go h.run(ctx)
	return nil
}

// Stop shuts the run loop down. Lookups in flight are abandoned; their
// results become harmless no-ops.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	select {
	case <-h.shutdown:
	default:
		close(h.shutdown)
	}
	return nil
}

// Submit schedules a directory lookup for a newly identified participant.
// The registry entry is attached when the lookup completes, if the handle
// is still connected.
func (h *Hub) Submit(conn interfaces.Connection, hardwareID string) {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	ctx := h.ctx
	h.mu.Unlock()

	go h.lookup(ctx, conn, hardwareID)
}

func (h *Hub) lookup(ctx context.Context, conn interfaces.Connection, hardwareID string) {
	record, err := h.resolver.ResolveByHardwareID(ctx, hardwareID)
	if err != nil {
		// Recoverable: the party stays registered without a record.
		h.log.Warn().Err(err).Str("hardware_id", hardwareID).Msg("directory enrichment failed")
		return
	}
	if record == nil {
		return
	}

	select {
	case h.results <- lookupResult{conn: conn, record: record}:
	case <-h.shutdown:
	case <-ctx.Done():
	}
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case res := <-h.results:
			if h.registry.AttachDirectoryRecord(res.conn, res.record) {
				h.log.Info().Str("conn", res.conn.ID()).Str("device", res.record.DeviceID).Msg("directory record attached")
				h.broadcaster.BroadcastRoster()
			} else {
				// Handle disconnected while the lookup was in flight.
				h.log.Debug().Str("conn", res.conn.ID()).Msg("enrichment result discarded, handle gone")
			}
		case <-h.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

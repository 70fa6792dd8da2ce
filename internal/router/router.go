// Package router interprets inbound envelopes and dispatches them to one,
// many, or all connected parties. Delivery is fire-and-forget: no acks, no
// retries, no queueing for offline recipients.
package router

import (
	"github.com/rs/zerolog"

	"classwatch/internal/registry"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

// Enricher accepts directory lookup requests for newly identified
// participants. Implemented by the enrichment hub; lookups are detached and
// their results come back through the registry, never through the router.
type Enricher interface {
	Submit(conn interfaces.Connection, hardwareID string)
}

// Router routes envelopes between connected parties. Per connection the
// state machine is Unidentified -> Identified -> Closed: presence in the
// registry is the Identified state, and everything but an identify envelope
// from an unidentified connection is silently ignored.
type Router struct {
	registry *registry.Registry
	enricher Enricher
	limiter  *RateLimiter
	log      zerolog.Logger
}

func NewRouter(reg *registry.Registry, log zerolog.Logger) *Router {
	return &Router{
		registry: reg,
		limiter:  NewRateLimiter(),
		log:      log,
	}
}

// SetEnricher wires the enrichment hub in after construction; the hub needs
// the router for roster rebroadcasts, so the two are bound in two steps.
func (r *Router) SetEnricher(e Enricher) {
	r.enricher = e
}

// HandleEnvelope processes one inbound frame from a connection. Envelopes
// on the same connection arrive through its read loop and are processed
// inline here, which preserves per-sender ordering. No failure in this path
// closes the connection.
func (r *Router) HandleEnvelope(conn interfaces.Connection, data []byte) {
	if !r.limiter.Allow(conn.ID()) {
		r.log.Warn().Str("conn", conn.ID()).Msg("inbound rate limit exceeded, frame dropped")
		return
	}

	env, err := types.DecodeEnvelope(data)
	if err == types.ErrUnknownKind {
		r.log.Debug().Str("conn", conn.ID()).Msg("ignoring unknown envelope kind")
		return
	}
	if err != nil {
		r.log.Warn().Err(err).Str("conn", conn.ID()).Msg("malformed envelope dropped")
		return
	}

	switch m := env.(type) {
	case *types.Identify:
		r.handleIdentify(conn, m)
	case *types.ScreenUpdate:
		r.handleScreenUpdate(conn, m)
	case *types.BlockListUpdate:
		r.handleBlockListUpdate(conn, m)
	case *types.ChatMessage:
		r.handleMessage(conn, m)
	}
}

// HandleDisconnect removes the connection's registry entry and, if one
// existed, broadcasts the shrunk roster. Safe for never-identified handles
// and duplicate close events.
func (r *Router) HandleDisconnect(conn interfaces.Connection) {
	r.limiter.Forget(conn.ID())

	party := r.registry.Remove(conn)
	if party == nil {
		return
	}
	r.log.Info().Str("conn", conn.ID()).Str("id", party.ID).Str("role", party.Role).Msg("party disconnected")
	r.BroadcastRoster()
}

func (r *Router) handleIdentify(conn interfaces.Connection, m *types.Identify) {
	if err := m.Validate(); err != nil {
		r.log.Warn().Err(err).Str("conn", conn.ID()).Msg("invalid identify envelope dropped")
		return
	}

	party := &types.Party{
		Role:       m.ClientType,
		ID:         m.ID,
		Name:       m.Name,
		DeviceInfo: m.DeviceInfo,
	}
	r.registry.Register(conn, party)
	r.log.Info().Str("conn", conn.ID()).Str("id", party.ID).Str("role", party.Role).Msg("party identified")

	if r.enricher != nil && party.Role == types.RoleParticipant &&
		party.DeviceInfo != nil && party.DeviceInfo.HardwareID != "" {
		r.enricher.Submit(conn, party.DeviceInfo.HardwareID)
	}

	r.BroadcastRoster()
}

func (r *Router) handleScreenUpdate(conn interfaces.Connection, m *types.ScreenUpdate) {
	sender, ok := r.registry.Get(conn)
	if !ok || sender.Role != types.RoleParticipant {
		return
	}

	out := types.NewScreenBroadcast(sender.ID, m.ScreenData)
	r.registry.ForEachByRole(types.RoleCoordinator, func(target interfaces.Connection, _ *types.Party) {
		r.send(target, out)
	})
}

// handleBlockListUpdate forwards the site list to every participant. A
// coordinator is the expected sender but any identified party is accepted.
func (r *Router) handleBlockListUpdate(conn interfaces.Connection, m *types.BlockListUpdate) {
	if _, ok := r.registry.Get(conn); !ok {
		return
	}

	out := types.NewBlockListBroadcast(m.Sites)
	r.registry.ForEachByRole(types.RoleParticipant, func(target interfaces.Connection, _ *types.Party) {
		r.send(target, out)
	})
}

func (r *Router) handleMessage(conn interfaces.Connection, m *types.ChatMessage) {
	sender, ok := r.registry.Get(conn)
	if !ok {
		return
	}

	out := types.NewDirectMessage(sender.ID, m.Content)

	if m.To == types.DestinationAll {
		r.registry.ForEachByRole(types.RoleParticipant, func(target interfaces.Connection, _ *types.Party) {
			r.send(target, out)
		})
		return
	}

	target, _, found := r.registry.FindFirstByID(m.To)
	if !found {
		// At-most-once semantics: no recipient means no delivery and no
		// error back to the sender.
		r.log.Debug().Str("to", m.To).Msg("message destination not connected, dropped")
		return
	}
	r.send(target, out)
}

// BroadcastRoster sends the full current membership to every connected
// party regardless of role.
func (r *Router) BroadcastRoster() {
	roster := types.NewRoster(r.registry.Snapshot())
	r.registry.ForEach(func(target interfaces.Connection, _ *types.Party) {
		r.send(target, roster)
	})
}

// send delivers to one target, isolating failures so a dead or slow
// connection cannot abort delivery to the rest of a fan-out.
func (r *Router) send(target interfaces.Connection, v interface{}) {
	if err := target.WriteJSON(v); err != nil {
		r.log.Debug().Err(err).Str("conn", target.ID()).Msg("send failed, message dropped")
	}
}

package router

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classwatch/internal/registry"
	"classwatch/pkg/interfaces"
	"classwatch/pkg/types"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	sent   []interface{}
	broken bool
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errors.New("connection reset")
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) received() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

type fakeEnricher struct {
	mu       sync.Mutex
	requests []string
}

func (f *fakeEnricher) Submit(_ interfaces.Connection, hardwareID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, hardwareID)
}

func (f *fakeEnricher) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	copy(out, f.requests)
	return out
}

func newTestRouter() (*Router, *registry.Registry) {
	reg := registry.NewRegistry()
	return NewRouter(reg, zerolog.Nop()), reg
}

func identify(r *Router, conn interfaces.Connection, clientType, id, name string) {
	raw := `{"type":"identify","clientType":"` + clientType + `","id":"` + id + `","name":"` + name + `"}`
	r.HandleEnvelope(conn, []byte(raw))
}

func TestIdentifyRegistersAndBroadcastsRoster(t *testing.T) {
	r, reg := newTestRouter()
	conn := &fakeConn{id: "c1"}

	identify(r, conn, "student", "s1", "Alice")

	assert.Equal(t, 1, reg.Len())

	received := conn.received()
	require.Len(t, received, 1)
	roster, ok := received[0].(types.Roster)
	require.True(t, ok, "expected roster broadcast, got %T", received[0])
	require.Len(t, roster.Clients, 1)
	assert.Equal(t, "s1", roster.Clients[0].ID)
	assert.Equal(t, types.RoleParticipant, roster.Clients[0].Role)
}

func TestIdentifyInvalidDropped(t *testing.T) {
	r, reg := newTestRouter()
	conn := &fakeConn{id: "c1"}

	r.HandleEnvelope(conn, []byte(`{"type":"identify","clientType":"admin","id":"a1","name":"x"}`))

	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, conn.received())
}

func TestIdentifyTriggersEnrichmentForParticipantWithHardware(t *testing.T) {
	r, _ := newTestRouter()
	enricher := &fakeEnricher{}
	r.SetEnricher(enricher)

	withHW := &fakeConn{id: "c1"}
	r.HandleEnvelope(withHW, []byte(`{"type":"identify","clientType":"student","id":"s1","name":"Alice","deviceInfo":{"hardwareId":"aa:bb"}}`))

	withoutHW := &fakeConn{id: "c2"}
	identify(r, withoutHW, "student", "s2", "Bob")

	teacherHW := &fakeConn{id: "c3"}
	r.HandleEnvelope(teacherHW, []byte(`{"type":"identify","clientType":"teacher","id":"t1","name":"Ms. Smith","deviceInfo":{"hardwareId":"cc:dd"}}`))

	assert.Equal(t, []string{"aa:bb"}, enricher.submitted(),
		"only participants with a hardware id are enriched")
}

func TestUnidentifiedEnvelopesIgnored(t *testing.T) {
	r, reg := newTestRouter()
	stranger := &fakeConn{id: "c1"}

	r.HandleEnvelope(stranger, []byte(`{"type":"screen-update","screenData":"x"}`))
	r.HandleEnvelope(stranger, []byte(`{"type":"block-list-update","sites":["x.com"]}`))
	r.HandleEnvelope(stranger, []byte(`{"type":"message","to":"all","content":"hi"}`))

	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, stranger.received())
}

func TestMalformedAndUnknownEnvelopesIgnored(t *testing.T) {
	r, _ := newTestRouter()
	conn := &fakeConn{id: "c1"}
	identify(r, conn, "student", "s1", "Alice")
	conn.reset()

	r.HandleEnvelope(conn, []byte(`{{{`))
	r.HandleEnvelope(conn, []byte(`{"type":"selfie"}`))
	r.HandleEnvelope(conn, []byte(``))

	assert.Empty(t, conn.received())
}

// classroom wires up the standard scenario: participants s1 and s2 plus
// coordinator t1, with broadcast history cleared.
func classroom(t *testing.T, r *Router) (s1, s2, teacher *fakeConn) {
	t.Helper()
	s1 = &fakeConn{id: "c-s1"}
	s2 = &fakeConn{id: "c-s2"}
	teacher = &fakeConn{id: "c-t"}

	identify(r, s1, "student", "s1", "Alice")
	identify(r, s2, "student", "s2", "Bob")
	identify(r, teacher, "teacher", "t1", "Ms. Smith")

	s1.reset()
	s2.reset()
	teacher.reset()
	return s1, s2, teacher
}

func TestScreenUpdateGoesToCoordinatorsOnly(t *testing.T) {
	r, _ := newTestRouter()
	s1, s2, teacher := classroom(t, r)

	r.HandleEnvelope(s1, []byte(`{"type":"screen-update","screenData":"frame-1"}`))

	received := teacher.received()
	require.Len(t, received, 1)
	frame, ok := received[0].(types.ScreenBroadcast)
	require.True(t, ok)
	assert.Equal(t, "s1", frame.StudentID)
	assert.Equal(t, "frame-1", frame.ScreenData)

	assert.Empty(t, s1.received(), "sender must not receive its own frame")
	assert.Empty(t, s2.received(), "other participants must never see frames")
}

func TestScreenUpdateFromCoordinatorIgnored(t *testing.T) {
	r, _ := newTestRouter()
	s1, s2, teacher := classroom(t, r)

	r.HandleEnvelope(teacher, []byte(`{"type":"screen-update","screenData":"x"}`))

	assert.Empty(t, s1.received())
	assert.Empty(t, s2.received())
	assert.Empty(t, teacher.received())
}

func TestBlockListGoesToParticipantsOnly(t *testing.T) {
	r, _ := newTestRouter()
	s1, s2, teacher := classroom(t, r)

	r.HandleEnvelope(teacher, []byte(`{"type":"block-list-update","sites":["x.com"]}`))

	for _, student := range []*fakeConn{s1, s2} {
		received := student.received()
		require.Len(t, received, 1, "participant %s", student.id)
		blocks, ok := received[0].(types.BlockListBroadcast)
		require.True(t, ok)
		assert.Equal(t, []string{"x.com"}, blocks.Sites)
	}
	assert.Empty(t, teacher.received(), "coordinator must not receive the block list")
}

func TestDirectMessageDeliveredToFirstMatchOnly(t *testing.T) {
	r, _ := newTestRouter()
	s1, s2, teacher := classroom(t, r)

	r.HandleEnvelope(teacher, []byte(`{"type":"message","to":"s1","content":"hi"}`))

	received := s1.received()
	require.Len(t, received, 1)
	msg, ok := received[0].(types.DirectMessage)
	require.True(t, ok)
	assert.Equal(t, "t1", msg.From)
	assert.Equal(t, "hi", msg.Content)

	assert.Empty(t, s2.received(), "B receives nothing")
	assert.Empty(t, teacher.received())
}

func TestDirectMessageNoMatchIsSilentlyDropped(t *testing.T) {
	r, _ := newTestRouter()
	s1, s2, teacher := classroom(t, r)

	r.HandleEnvelope(teacher, []byte(`{"type":"message","to":"s99","content":"hi"}`))

	assert.Empty(t, s1.received())
	assert.Empty(t, s2.received())
	assert.Empty(t, teacher.received())
}

func TestBroadcastMessageGoesToAllParticipantsAndNoCoordinator(t *testing.T) {
	r, _ := newTestRouter()
	s1, s2, teacher := classroom(t, r)

	r.HandleEnvelope(teacher, []byte(`{"type":"message","to":"all","content":"pencils down"}`))

	for _, student := range []*fakeConn{s1, s2} {
		received := student.received()
		require.Len(t, received, 1, "participant %s", student.id)
		msg := received[0].(types.DirectMessage)
		assert.Equal(t, "pencils down", msg.Content)
	}
	assert.Empty(t, teacher.received())
}

func TestDuplicateExternalIDDeliversToEarliestRegistration(t *testing.T) {
	r, _ := newTestRouter()
	first := &fakeConn{id: "c1"}
	second := &fakeConn{id: "c2"}
	teacher := &fakeConn{id: "c3"}

	identify(r, first, "student", "dup", "Alice")
	identify(r, second, "student", "dup", "Impostor")
	identify(r, teacher, "teacher", "t1", "Ms. Smith")
	first.reset()
	second.reset()

	r.HandleEnvelope(teacher, []byte(`{"type":"message","to":"dup","content":"hi"}`))

	assert.Len(t, first.received(), 1)
	assert.Empty(t, second.received())
}

func TestDisconnectBroadcastsRosterOnce(t *testing.T) {
	r, reg := newTestRouter()
	s1, s2, teacher := classroom(t, r)

	r.HandleDisconnect(s1)

	assert.Equal(t, 2, reg.Len())
	for _, remaining := range []*fakeConn{s2, teacher} {
		received := remaining.received()
		require.Len(t, received, 1, "exactly one roster broadcast per disconnect")
		roster := received[0].(types.Roster)
		require.Len(t, roster.Clients, 2)
		for _, client := range roster.Clients {
			assert.NotEqual(t, "s1", client.ID, "roster must omit the disconnected party")
		}
	}
}

func TestDisconnectOfUnidentifiedIsSilent(t *testing.T) {
	r, _ := newTestRouter()
	s1, s2, teacher := classroom(t, r)

	r.HandleDisconnect(&fakeConn{id: "never-identified"})

	assert.Empty(t, s1.received())
	assert.Empty(t, s2.received())
	assert.Empty(t, teacher.received())
}

func TestBrokenTargetDoesNotAbortFanOut(t *testing.T) {
	r, _ := newTestRouter()
	s1, s2, teacher := classroom(t, r)
	s1.broken = true

	r.HandleEnvelope(teacher, []byte(`{"type":"message","to":"all","content":"hi"}`))

	assert.Len(t, s2.received(), 1, "delivery must continue past a failing target")
}

func TestReidentifyOnSameHandleOverwrites(t *testing.T) {
	r, reg := newTestRouter()
	conn := &fakeConn{id: "c1"}

	identify(r, conn, "student", "s1", "Alice")
	identify(r, conn, "student", "s1b", "Alice B")

	assert.Equal(t, 1, reg.Len())
	_, _, found := reg.FindFirstByID("s1")
	assert.False(t, found)
	_, party, found := reg.FindFirstByID("s1b")
	require.True(t, found)
	assert.Equal(t, "Alice B", party.Name)
}

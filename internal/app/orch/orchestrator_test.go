package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/callsignal/internal/adapters/store/memstore"
	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recConn struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (c *recConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return nil
}

func (c *recConn) Close() {}

func (c *recConn) events() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

type recNotifier struct {
	mu    sync.Mutex
	calls []domain.IncomingCall
}

func (n *recNotifier) NotifyIncomingCall(c domain.IncomingCall) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, c)
	return true
}

type failingStore struct {
	*memstore.Store
}

func (failingStore) ApplyTransition(context.Context, domain.SessionID, domain.Transition) error {
	return errors.New("write timeout")
}

var fixedNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memstore.Store
	reg      *app.Registry
	notifier *recNotifier
	o        *Orchestrator
	c1, c2   *recConn
	u1, a1   Caller
}

func newFixture(t *testing.T, status domain.Status) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		reg:      app.NewRegistry(),
		notifier: &recNotifier{},
		c1:       &recConn{},
		c2:       &recConn{},
	}
	f.store.Put(domain.Session{
		ID:           "S1",
		Status:       status,
		Type:         domain.SessionVoiceCall,
		UserID:       "U1",
		AstrologerID: "A1",
	})
	f.o = New(f.store, app.NewRelay(f.reg, app.SimplePolicy{}), f.notifier)
	f.o.Now = func() time.Time { return fixedNow }

	f.u1 = Caller{Conn: "C1", Identity: domain.Identity{ID: "U1", Role: domain.RoleUser}}
	f.a1 = Caller{Conn: "C2", Identity: domain.Identity{ID: "A1", Role: domain.RoleAstrologer}}
	f.reg.BindSignal("C1", f.c1, func() {})
	f.reg.BindSignal("C2", f.c2, func() {})
	require.NoError(t, f.reg.Authenticate("C1", f.u1.Identity))
	require.NoError(t, f.reg.Authenticate("C2", f.a1.Identity))
	return f
}

func (f *fixture) status(t *testing.T) *domain.Session {
	t.Helper()
	s, err := f.store.FindSession(context.Background(), "S1")
	require.NoError(t, err)
	return s
}

func TestInitiateCallRingsCounterpart(t *testing.T) {
	f := newFixture(t, domain.StatusPending)

	err := f.o.InitiateCall(context.Background(), f.u1, InitiateRequest{
		SessionID:  "S1",
		CallerID:   "U1",
		CallerType: "user",
		CallType:   "voice",
	})
	require.NoError(t, err)

	s := f.status(t)
	assert.Equal(t, domain.StatusRinging, s.Status)
	assert.Equal(t, domain.UserID("U1"), s.InitiatedBy)

	assert.Empty(t, f.c1.events())
	got := f.c2.events()
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{
		"type":       "incoming_call",
		"sessionId":  "S1",
		"callerId":   "U1",
		"callerType": "user",
		"callType":   "voice",
		"callerName": "Unknown",
		"timestamp":  "2025-03-01T10:00:00.000Z",
	}, got[0])

	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, domain.UserID("A1"), f.notifier.calls[0].Recipient)
	assert.Equal(t, domain.RoleAstrologer, f.notifier.calls[0].RecipientRole)
}

func TestInitiateCallIgnoresSuppliedTarget(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	intruder := &recConn{}
	f.reg.BindSignal("C3", intruder, func() {})
	require.NoError(t, f.reg.Authenticate("C3", domain.Identity{ID: "X9", Role: domain.RoleUser}))

	require.NoError(t, f.o.InitiateCall(context.Background(), f.a1, InitiateRequest{SessionID: "S1", CallerID: "X9"}))

	assert.Empty(t, intruder.events())
	assert.Len(t, f.c1.events(), 1)
	assert.Empty(t, f.c2.events())
}

func TestAnswerCallNotifiesInitiator(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	require.NoError(t, f.o.InitiateCall(context.Background(), f.u1, InitiateRequest{SessionID: "S1"}))

	require.NoError(t, f.o.AnswerCall(context.Background(), f.a1, "S1"))

	s := f.status(t)
	assert.Equal(t, domain.StatusConnected, s.Status)
	require.NotNil(t, s.StartedAt)

	got := f.c1.events()
	require.Len(t, got, 1)
	assert.Equal(t, "call_answered", got[0]["type"])
	assert.Equal(t, "S1", got[0]["sessionId"])
	assert.Equal(t, "2025-03-01T10:00:00.000Z", got[0]["answeredAt"])
	assert.Len(t, f.c2.events(), 1, "answerer only saw the incoming_call")
}

func TestAnswerCallInitiatedByAstrologer(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	require.NoError(t, f.o.InitiateCall(context.Background(), f.a1, InitiateRequest{SessionID: "S1"}))
	require.NoError(t, f.o.AnswerCall(context.Background(), f.u1, "S1"))

	got := f.c2.events()
	require.Len(t, got, 1)
	assert.Equal(t, "call_answered", got[0]["type"])
}

func TestRejectCallOnlyReachesInitiator(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	require.NoError(t, f.o.InitiateCall(context.Background(), f.u1, InitiateRequest{SessionID: "S1"}))

	require.NoError(t, f.o.RejectCall(context.Background(), f.a1, RejectRequest{SessionID: "S1"}))

	s := f.status(t)
	assert.Equal(t, domain.StatusRejected, s.Status)
	assert.Equal(t, "declined", s.EndReason)

	assert.Len(t, f.c2.events(), 1, "rejecter receives nothing new")
	got := f.c1.events()
	require.Len(t, got, 1)
	assert.Equal(t, "call_rejected", got[0]["type"])
	assert.Equal(t, "declined", got[0]["reason"])
}

func TestRejectByInitiatorTargetsInitiator(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	require.NoError(t, f.o.InitiateCall(context.Background(), f.u1, InitiateRequest{SessionID: "S1"}))

	require.NoError(t, f.o.RejectCall(context.Background(), f.u1, RejectRequest{SessionID: "S1"}))

	got := f.c1.events()
	require.Len(t, got, 1)
	assert.Equal(t, "call_rejected", got[0]["type"])
	assert.Equal(t, "declined", got[0]["reason"])

	astro := f.c2.events()
	require.Len(t, astro, 1)
	assert.Equal(t, "incoming_call", astro[0]["type"])
}

func TestEndCallReachesBothParties(t *testing.T) {
	for _, from := range []domain.Status{domain.StatusRinging, domain.StatusConnected} {
		t.Run(string(from), func(t *testing.T) {
			f := newFixture(t, from)

			require.NoError(t, f.o.EndCall(context.Background(), f.u1, EndRequest{SessionID: "S1", EndedBy: "U1"}))

			s := f.status(t)
			assert.Equal(t, domain.StatusCompleted, s.Status)
			assert.NotNil(t, s.EndedAt)
			for _, c := range []*recConn{f.c1, f.c2} {
				got := c.events()
				require.Len(t, got, 1)
				assert.Equal(t, "call_ended", got[0]["type"])
				assert.Equal(t, "U1", got[0]["endedBy"])
			}
		})
	}
}

func TestEndCallWithOfflineParty(t *testing.T) {
	f := newFixture(t, domain.StatusConnected)
	f.reg.Deregister("C2")

	require.NoError(t, f.o.EndCall(context.Background(), f.u1, EndRequest{SessionID: "S1"}))
	assert.Equal(t, domain.StatusCompleted, f.status(t).Status)
	assert.Len(t, f.c1.events(), 1)
}

func TestSessionNotFound(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	ctx := context.Background()

	errs := []error{
		f.o.InitiateCall(ctx, f.u1, InitiateRequest{SessionID: "missing"}),
		f.o.AnswerCall(ctx, f.u1, "missing"),
		f.o.RejectCall(ctx, f.u1, RejectRequest{SessionID: "missing"}),
		f.o.EndCall(ctx, f.u1, EndRequest{SessionID: "missing"}),
	}
	for _, err := range errs {
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
		assert.Equal(t, "Session not found", ErrorMessage(domain.TriggerAnswer, err))
	}
	assert.Zero(t, f.store.Writes())
	assert.Empty(t, f.c1.events())
	assert.Empty(t, f.c2.events())
	assert.Empty(t, f.notifier.calls)
}

func TestInvalidTransitionWritesNothing(t *testing.T) {
	f := newFixture(t, domain.StatusCompleted)

	err := f.o.AnswerCall(context.Background(), f.a1, "S1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Zero(t, f.store.Writes())
	assert.Empty(t, f.c1.events())

	err = f.o.RejectCall(context.Background(), f.a1, RejectRequest{SessionID: "S1"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.StatusCompleted, f.status(t).Status)
}

func TestDuplicateEndCall(t *testing.T) {
	f := newFixture(t, domain.StatusConnected)
	ctx := context.Background()

	require.NoError(t, f.o.EndCall(ctx, f.u1, EndRequest{SessionID: "S1"}))
	err := f.o.EndCall(ctx, f.a1, EndRequest{SessionID: "S1"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, 1, f.store.Writes())
	assert.Len(t, f.c1.events(), 1)
}

func TestChatSessionRejected(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	f.store.Put(domain.Session{ID: "S2", Status: domain.StatusPending, Type: domain.SessionChat, UserID: "U1", AstrologerID: "A1"})

	err := f.o.InitiateCall(context.Background(), f.u1, InitiateRequest{SessionID: "S2"})
	require.ErrorIs(t, err, domain.ErrNotCallSession)
	assert.Empty(t, f.c2.events())
}

func TestPersistenceFailureSkipsRelay(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	f.o.Store = failingStore{f.store}

	err := f.o.InitiateCall(context.Background(), f.u1, InitiateRequest{SessionID: "S1"})
	require.Error(t, err)
	assert.Equal(t, "Failed to initiate call", ErrorMessage(domain.TriggerInitiate, err))
	assert.Empty(t, f.c2.events())
	assert.Empty(t, f.notifier.calls)
	assert.Equal(t, domain.StatusPending, f.status(t).Status)
}

func TestNonParticipantIsAllowed(t *testing.T) {
	f := newFixture(t, domain.StatusRinging)
	admin := Caller{Conn: "C9", Identity: domain.Identity{ID: "ops", Role: domain.RoleUser}}

	require.NoError(t, f.o.EndCall(context.Background(), admin, EndRequest{SessionID: "S1"}))
	assert.Equal(t, domain.StatusCompleted, f.status(t).Status)
	assert.Equal(t, "ops", f.c1.events()[0]["endedBy"])
}

func TestWaitRefusesNewTransitions(t *testing.T) {
	f := newFixture(t, domain.StatusPending)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, f.o.Wait(ctx))
	err := f.o.InitiateCall(context.Background(), f.u1, InitiateRequest{SessionID: "S1"})
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.Zero(t, f.store.Writes())
}

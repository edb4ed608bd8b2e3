package app

import (
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/callsignal/internal/core"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverToUserAllDevices(t *testing.T) {
	reg := NewRegistry()
	phone := bind(reg, "C1")
	tablet := bind(reg, "C2")
	other := bind(reg, "C3")
	require.NoError(t, reg.Authenticate("C1", domain.Identity{ID: "U1", Role: domain.RoleUser}))
	require.NoError(t, reg.Authenticate("C2", domain.Identity{ID: "U1", Role: domain.RoleUser}))
	require.NoError(t, reg.Authenticate("C3", domain.Identity{ID: "U2", Role: domain.RoleUser}))

	relay := NewRelay(reg, SimplePolicy{})
	n := relay.DeliverToUser("U1", EventCallEnded, CallEndedEvent{SessionID: "S1", EndedBy: "A1"})

	assert.Equal(t, 2, n)
	require.Len(t, phone.events(), 1)
	require.Len(t, tablet.events(), 1)
	assert.Empty(t, other.events())
	assert.Equal(t, "call_ended", phone.events()[0]["type"])
	assert.Equal(t, "S1", phone.events()[0]["sessionId"])
}

func TestDeliverToOfflineUserIsNoop(t *testing.T) {
	relay := NewRelay(NewRegistry(), SimplePolicy{})
	assert.Equal(t, 0, relay.DeliverToUser("ghost", EventIncomingCall, IncomingCallEvent{}))
	assert.Equal(t, 0, relay.DeliverToUser("", EventIncomingCall, IncomingCallEvent{}))
}

func TestBroadcastToRole(t *testing.T) {
	reg := NewRegistry()
	a1 := bind(reg, "C1")
	a2 := bind(reg, "C2")
	u1 := bind(reg, "C3")
	require.NoError(t, reg.Authenticate("C1", domain.Identity{ID: "A1", Role: domain.RoleAstrologer}))
	require.NoError(t, reg.Authenticate("C2", domain.Identity{ID: "A2", Role: domain.RoleAstrologer}))
	require.NoError(t, reg.Authenticate("C3", domain.Identity{ID: "U1", Role: domain.RoleUser}))

	relay := NewRelay(reg, SimplePolicy{})
	n := relay.BroadcastToRole(domain.RoleAstrologer, "announcement", map[string]string{"text": "hi"})

	assert.Equal(t, 2, n)
	assert.Len(t, a1.events(), 1)
	assert.Len(t, a2.events(), 1)
	assert.Empty(t, u1.events())
}

func TestRelayPreservesOrderPerOrigin(t *testing.T) {
	reg := NewRegistry()
	target := bind(reg, "C1")
	require.NoError(t, reg.Authenticate("C1", domain.Identity{ID: "U1", Role: domain.RoleUser}))
	relay := NewRelay(reg, SimplePolicy{})

	for _, kind := range []string{EventWebRTCOffer, EventWebRTCCandidate, EventWebRTCCandidate, EventWebRTCAnswer} {
		relay.DeliverToUser("U1", kind, map[string]string{"sessionId": "S1"})
	}

	var got []any
	for _, ev := range target.events() {
		got = append(got, ev["type"])
	}
	assert.Equal(t, []any{"webrtc_offer", "webrtc_ice_candidate", "webrtc_ice_candidate", "webrtc_answer"}, got)
}

func TestSlowConsumerIsKicked(t *testing.T) {
	reg := NewRegistry()
	slow := &fakeConn{limit: 1}
	canceled := false
	reg.BindSignal("C1", slow, func() { canceled = true })
	require.NoError(t, reg.Authenticate("C1", domain.Identity{ID: "U1", Role: domain.RoleUser}))
	relay := NewRelay(reg, SimplePolicy{})

	assert.Equal(t, 1, relay.DeliverToUser("U1", "a", nil))
	assert.Equal(t, 0, relay.DeliverToUser("U1", "b", nil))
	assert.True(t, slow.isClosed())
	assert.True(t, canceled)
}

func TestSendTo(t *testing.T) {
	reg := NewRegistry()
	c := bind(reg, "C1")
	relay := NewRelay(reg, nil)

	assert.True(t, relay.SendTo("C1", EventCallError, CallErrorEvent{Error: "Session not found"}))
	assert.False(t, relay.SendTo("C9", EventCallError, CallErrorEvent{}))
	require.Len(t, c.events(), 1)
	assert.Equal(t, "Session not found", c.events()[0]["error"])
}

func TestEncode(t *testing.T) {
	f, err := Encode("pong", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(f))

	f, err = Encode("call_error", CallErrorEvent{Error: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"call_error","error":"x"}`, string(f))

	_, err = Encode("bad", []int{1})
	assert.ErrorIs(t, err, ErrPayloadNotObject)
}

func TestDeliverDuringReconnectChurn(t *testing.T) {
	reg := NewRegistry()
	relay := NewRelay(reg, SimplePolicy{})
	stable := bind(reg, "C0")
	require.NoError(t, reg.Authenticate("C0", domain.Identity{ID: "U1", Role: domain.RoleUser}))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			id := core.ConnID(fmt.Sprintf("C%d", i%2+1))
			bind(reg, id)
			_ = reg.Authenticate(id, domain.Identity{ID: "U1", Role: domain.RoleUser})
			reg.Deregister(id)
		}
	}()

	for range 200 {
		assert.GreaterOrEqual(t, relay.DeliverToUser("U1", "notice", nil), 1)
	}
	close(stop)
	wg.Wait()

	assert.Len(t, stable.events(), 200)
	assert.Equal(t, 1, reg.Presence("U1").Connections)
}

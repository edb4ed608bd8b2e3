package push

import (
	"context"
	"errors"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessenger struct {
	got *messaging.Message
	err error
}

func (f *fakeMessenger) Send(_ context.Context, m *messaging.Message) (string, error) {
	f.got = m
	return "projects/p/messages/1", f.err
}

func TestBuildMessageUrgent(t *testing.T) {
	m := buildMessage(core.PushMessage{
		Token:  "tok",
		Title:  "Incoming voice call",
		Body:   "Asha is calling you",
		Data:   map[string]string{"sessionId": "S1"},
		Urgent: true,
	})
	assert.Equal(t, "tok", m.Token)
	assert.Equal(t, "S1", m.Data["sessionId"])
	require.NotNil(t, m.Android)
	assert.Equal(t, "high", m.Android.Priority)
	assert.Equal(t, androidChannelID, m.Android.Notification.ChannelID)
	require.NotNil(t, m.APNS)
	assert.Equal(t, "10", m.APNS.Headers["apns-priority"])
	assert.Equal(t, apnsCategory, m.APNS.Payload.Aps.Category)
}

func TestBuildMessagePlain(t *testing.T) {
	m := buildMessage(core.PushMessage{Token: "tok", Title: "t"})
	assert.Nil(t, m.Android)
	assert.Nil(t, m.APNS)
}

func TestFCMSenderSend(t *testing.T) {
	fm := &fakeMessenger{}
	s := &FCMSender{client: fm}
	require.NoError(t, s.Send(context.Background(), core.PushMessage{Token: "tok", Urgent: true}))
	assert.Equal(t, "tok", fm.got.Token)

	fm.err = errors.New("quota")
	assert.ErrorContains(t, s.Send(context.Background(), core.PushMessage{Token: "tok"}), "quota")
}

func TestDisabled(t *testing.T) {
	assert.NoError(t, Disabled{}.Send(context.Background(), core.PushMessage{}))
}

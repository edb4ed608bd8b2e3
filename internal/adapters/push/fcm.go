// Package push adapts core.PushSender to Firebase Cloud Messaging.
package push

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/dkeye/callsignal/internal/core"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

const (
	androidChannelID = "incoming_calls"
	apnsCategory     = "INCOMING_CALL"
	// an unanswered ring is useless after this
	ringTTL = 60 * time.Second
)

type messenger interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type FCMSender struct {
	client messenger
}

// NewFCMSender builds a messaging client from a service account file or,
// when credentialsFile is empty, application default credentials.
func NewFCMSender(ctx context.Context, projectID, credentialsFile string) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	log.Info().Str("module", "push.fcm").Str("project", projectID).Msg("messaging client ready")
	return &FCMSender{client: client}, nil
}

func (s *FCMSender) Send(ctx context.Context, msg core.PushMessage) error {
	id, err := s.client.Send(ctx, buildMessage(msg))
	if err != nil {
		if messaging.IsUnregistered(err) {
			return fmt.Errorf("fcm token unregistered: %w", err)
		}
		return fmt.Errorf("fcm send: %w", err)
	}
	log.Debug().Str("module", "push.fcm").Str("message_id", id).Msg("sent")
	return nil
}

// buildMessage maps an urgent message to calling-style presentation on
// both platforms.
func buildMessage(msg core.PushMessage) *messaging.Message {
	m := &messaging.Message{
		Token: msg.Token,
		Data:  msg.Data,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
	}
	if !msg.Urgent {
		return m
	}
	ttl := ringTTL
	m.Android = &messaging.AndroidConfig{
		Priority: "high",
		TTL:      &ttl,
		Notification: &messaging.AndroidNotification{
			ChannelID: androidChannelID,
			Priority:  messaging.PriorityMax,
			Sound:     "default",
		},
	}
	m.APNS = &messaging.APNSConfig{
		Headers: map[string]string{
			"apns-priority":  "10",
			"apns-push-type": "alert",
		},
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{
				Category:         apnsCategory,
				Sound:            "default",
				ContentAvailable: true,
			},
		},
	}
	return m
}

// --- File: internal/platform/fcm/fcmsender.go ---
// Package fcm sends test pushes through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"

	devmsg "github.com/tinywideclouds/go-device-messaging/pkg/messaging"
)

var _ devmsg.Sender = (*Sender)(nil)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type Sender struct {
	client MessagingClient
	icon   string
	logger *slog.Logger
}

// NewSender wraps client. icon is the web notification icon; it may be empty.
func NewSender(client MessagingClient, icon string, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		icon:   icon,
		logger: logger.With("component", "FCMSender"),
	}
}

func (s *Sender) Send(ctx context.Context, token string, n devmsg.Notification) error {
	if token == "" {
		return fmt.Errorf("fcm send: empty token")
	}

	msg := &messaging.Message{
		Token: token,
		Data:  payloadData(n),
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: n.Title,
				Body:  n.Body,
				Icon:  s.icon,
			},
		},
	}

	id, err := s.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsInvalidArgument(err) {
			s.logger.Warn("FCM rejected token", "err", err)
			return fmt.Errorf("%w: %v", devmsg.ErrTokenUnregistered, err)
		}
		return fmt.Errorf("fcm transport failed: %w", err)
	}
	s.logger.Info("FCM message sent", "message_id", id)
	return nil
}

// payloadData flattens the notification id into the data map FCM carries.
func payloadData(n devmsg.Notification) map[string]string {
	data := make(map[string]string, len(n.Data)+1)
	for k, v := range n.Data {
		data[k] = v
	}
	if n.ID != "" {
		data["id"] = n.ID
	}
	return data
}

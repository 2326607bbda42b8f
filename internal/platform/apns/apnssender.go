// --- File: internal/platform/apns/apnssender.go ---
// Package apns sends test pushes through the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
)

var _ messaging.Sender = (*Sender)(nil)

// APNSClient defines the subset of the apns2.Client methods we use.
type APNSClient interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type Sender struct {
	client APNSClient
	topic  string // The App Bundle ID
	logger *slog.Logger
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
	// Sandbox targets the development gateway.
	Sandbox bool
}

// NewSender creates a token-authenticated APNs sender.
// It parses the P8 key immediately to fail fast on bad credentials.
func NewSender(cfg Config, logger *slog.Logger) (*Sender, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	client := apns2.NewTokenClient(tokenSource)
	if cfg.Sandbox {
		client = client.Development()
	} else {
		client = client.Production()
	}
	return NewSenderWithClient(client, cfg.BundleID, logger), nil
}

func NewSenderWithClient(client APNSClient, topic string, logger *slog.Logger) *Sender {
	return &Sender{
		client: client,
		topic:  topic,
		logger: logger.With("component", "APNSSender"),
	}
}

func (s *Sender) Send(ctx context.Context, deviceToken string, n messaging.Notification) error {
	builder := payload.NewPayload().
		AlertTitle(n.Title).
		AlertBody(n.Body).
		Sound("default")
	for k, v := range n.Data {
		builder.Custom(k, v)
	}
	if n.ID != "" {
		builder.Custom("id", n.ID)
	}

	res, err := s.client.PushWithContext(ctx, &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       s.topic,
		Payload:     builder,
	})
	if err != nil {
		return fmt.Errorf("apns transport failed: %w", err)
	}
	if res.Sent() {
		s.logger.Info("APNs notification sent", "apns_id", res.ApnsID)
		return nil
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return fmt.Errorf("%w: apns %s", messaging.ErrTokenUnregistered, res.Reason)
	default:
		// The token may be fine; this is a configuration or payload problem.
		s.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		return fmt.Errorf("apns rejected notification: %d %s", res.StatusCode, res.Reason)
	}
}

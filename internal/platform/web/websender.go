// Package web sends test pushes to browser push subscriptions with VAPID.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/tinywideclouds/go-device-messaging/messagingservice/config"
	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
)

var _ messaging.Sender = (*Sender)(nil)

type Sender struct {
	subscriber string
	privateKey string
	publicKey  string
	ttl        int
	logger     *slog.Logger
	httpClient *http.Client
}

func NewSender(cfg config.VapidConfig, logger *slog.Logger) *Sender {
	return NewSenderWithClient(cfg, &http.Client{}, logger)
}

func NewSenderWithClient(cfg config.VapidConfig, client *http.Client, logger *slog.Logger) *Sender {
	return &Sender{
		privateKey: cfg.PrivateKey,
		publicKey:  cfg.PublicKey,
		subscriber: cfg.SubscriberEmail,
		ttl:        cfg.TTL,
		logger:     logger.With("component", "WebPushSender"),
		httpClient: client,
	}
}

// Send delivers n to the subscription encoded as JSON in token.
func (s *Sender) Send(ctx context.Context, token string, n messaging.Notification) error {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(token), &sub); err != nil {
		return fmt.Errorf("token is not a push subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return fmt.Errorf("push subscription has no endpoint")
	}

	payloadBytes, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": n.Title,
			"body":  n.Body,
		},
		"data": n.Data,
		"id":   n.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payloadBytes, &sub, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		TTL:             s.ttl,
		HTTPClient:      s.httpClient,
	})
	if err != nil {
		return fmt.Errorf("webpush transport failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		s.logger.Info("WebPush notification sent", "status", resp.StatusCode)
		return nil
	case http.StatusGone, http.StatusNotFound:
		return fmt.Errorf("%w: push service answered %d", messaging.ErrTokenUnregistered, resp.StatusCode)
	default:
		s.logger.Warn("WebPush rejected", "status", resp.StatusCode, "endpoint", sub.Endpoint)
		return fmt.Errorf("webpush rejected: status %d", resp.StatusCode)
	}
}

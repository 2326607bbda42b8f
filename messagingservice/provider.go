// --- File: messagingservice/provider.go ---
package messagingservice

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-device-messaging/messagingservice/config"
	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
	"github.com/tinywideclouds/go-device-messaging/pkg/provider/native"
	"github.com/tinywideclouds/go-device-messaging/pkg/provider/web"
)

// SDKs are the host bindings a delivery variant needs. Only the fields for the
// configured platform have to be set.
type SDKs struct {
	ServiceWorkers web.ServiceWorkers
	Messaging      web.MessagingClient
	PushPlugin     native.PushPlugin
}

// NewProvider builds the delivery provider selected by cfg.Platform.
func NewProvider(cfg *config.Config, sdks SDKs, logger *slog.Logger) (messaging.Provider, error) {
	switch cfg.Platform {
	case config.PlatformBrowser:
		if sdks.ServiceWorkers == nil || sdks.Messaging == nil {
			return nil, errors.New("browser platform needs ServiceWorkers and Messaging bindings")
		}
		logger.Info("Delivery provider selected", "platform", cfg.Platform)
		return web.New(sdks.ServiceWorkers, sdks.Messaging, logger), nil
	case config.PlatformNative:
		if sdks.PushPlugin == nil {
			return nil, errors.New("native platform needs a PushPlugin binding")
		}
		logger.Info("Delivery provider selected", "platform", cfg.Platform)
		return native.New(sdks.PushPlugin, logger), nil
	default:
		return nil, fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
}

package messaging

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultScope       = "./ember-blueprint-firebase-messaging"
	DefaultHandlerName = "firebase-messaging-sw.js"
)

// ChannelConfig is the static delivery channel configuration.
type ChannelConfig struct {
	// Scope is the versioned path the background handler is registered under.
	Scope       string
	HandlerName string
	VapidKey    string
	// Params are the provider connection parameters handed to the background handler.
	Params map[string]string
}

// HandlerURL returns "<scope>/<handler>?config=<url-encoded-json>".
func (c ChannelConfig) HandlerURL() (string, error) {
	params := c.Params
	if params == nil {
		params = map[string]string{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode channel params: %w", err)
	}
	scope := strings.TrimSuffix(c.scope(), "/")
	return fmt.Sprintf("%s/%s?config=%s", scope, c.handler(), encodeURIComponent(string(raw))), nil
}

// ScopePath returns the configured scope, or DefaultScope.
func (c ChannelConfig) ScopePath() string {
	return c.scope()
}

func (c ChannelConfig) scope() string {
	if c.Scope == "" {
		return DefaultScope
	}
	return c.Scope
}

func (c ChannelConfig) handler() string {
	if c.HandlerName == "" {
		return DefaultHandlerName
	}
	return c.HandlerName
}

// uriComponentUnescapes restores the characters encodeURIComponent leaves
// alone but url.QueryEscape escapes, and turns + back into %20.
var uriComponentUnescapes = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeURIComponent escapes exactly like its browser namesake.
func encodeURIComponent(s string) string {
	return uriComponentUnescapes.Replace(url.QueryEscape(s))
}

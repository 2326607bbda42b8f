// Package rest is the HTTP device directory: a REST resource of device records
// addressed by id and queried by token.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/tinywideclouds/go-device-messaging/pkg/device"
	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
)

// DefaultResource is the collection path used when none is configured.
const DefaultResource = "devices"

// AccessTokenSource supplies the bearer token sent with every request.
type AccessTokenSource interface {
	AccessToken() string
}

// Client implements messaging.Directory against a REST backend.
type Client struct {
	mu       sync.RWMutex
	baseURL  *url.URL
	resource string
	auth     AccessTokenSource
	http     *http.Client
	logger   *slog.Logger
}

// New creates a directory client rooted at rawURL.
func New(rawURL, resource string, timeout time.Duration, auth AccessTokenSource, logger *slog.Logger) (*Client, error) {
	parsed, err := parseBaseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if resource == "" {
		resource = DefaultResource
	}
	return &Client{
		baseURL:  parsed,
		resource: strings.Trim(resource, "/"),
		auth:     auth,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With("component", "RESTDirectory"),
	}, nil
}

// SetBaseURL points the client at another backend host. Requests already in
// flight keep the old one.
func (c *Client) SetBaseURL(rawURL string) error {
	parsed, err := parseBaseURL(rawURL)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.baseURL = parsed
	c.mu.Unlock()
	c.logger.Info("Directory base url changed", "base_url", parsed.String())
	return nil
}

// BaseURL returns the current backend root.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL.String()
}

func parseBaseURL(rawURL string) (*url.URL, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("base url must include scheme")
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	return parsed, nil
}

type devicePayload struct {
	Device *device.Record `json:"device"`
}

type writePayload struct {
	Device device.WriteFields `json:"device"`
}

type devicesPayload struct {
	Devices []*device.Record `json:"devices"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Create posts a new device record.
func (c *Client) Create(ctx context.Context, fields device.WriteFields) (*device.Record, error) {
	var out devicePayload
	if err := c.do(ctx, http.MethodPost, c.resolve(""), writePayload{Device: fields}, &out); err != nil {
		return nil, err
	}
	if out.Device == nil || out.Device.ID == "" {
		return nil, fmt.Errorf("create response has no device id")
	}
	c.logger.Debug("Device created", "device_id", out.Device.ID)
	return out.Device, nil
}

// QueryByToken returns the first device registered with token, or nil.
func (c *Client) QueryByToken(ctx context.Context, token string) (*device.Record, error) {
	values := url.Values{}
	values.Set("token", token)

	var out devicesPayload
	if err := c.do(ctx, http.MethodGet, c.resolve("")+"?"+values.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if len(out.Devices) == 0 {
		return nil, nil
	}
	if len(out.Devices) > 1 {
		c.logger.Warn("Directory returned several devices for one token", "count", len(out.Devices))
	}
	return out.Devices[0], nil
}

// Update replaces the writable fields of an existing record.
func (c *Client) Update(ctx context.Context, record *device.Record) (*device.Record, error) {
	if record.IsNew() {
		return nil, fmt.Errorf("cannot update a device record without an id")
	}
	var out devicePayload
	if err := c.do(ctx, http.MethodPut, c.resolve(record.ID), writePayload{Device: record.Fields()}, &out); err != nil {
		return nil, err
	}
	if out.Device == nil {
		// Some backends answer 204; the record as sent is then authoritative.
		return record.Clone(), nil
	}
	if out.Device.ID == "" {
		out.Device.ID = record.ID
	}
	return out.Device, nil
}

// Delete removes an existing record.
func (c *Client) Delete(ctx context.Context, record *device.Record) error {
	if record.IsNew() {
		return fmt.Errorf("cannot delete a device record without an id")
	}
	return c.do(ctx, http.MethodDelete, c.resolve(record.ID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.decorate(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		derr := decodeError(resp)
		c.logger.Debug("Directory request rejected", "method", method, "path", req.URL.Path, "status", resp.StatusCode, "reason", derr.Reason)
		return derr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode %s %s response: %w", method, req.URL.Path, err)
	}
	return nil
}

// decodeError reads {"errors": {...}} or {"errors": [{...}]} into a
// DirectoryError. Bodies in neither form still yield the status code.
func decodeError(resp *http.Response) *messaging.DirectoryError {
	derr := &messaging.DirectoryError{StatusCode: resp.StatusCode}

	var envelope struct {
		Errors json.RawMessage `json:"errors"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || json.Unmarshal(data, &envelope) != nil || len(envelope.Errors) == 0 {
		return derr
	}

	var single errorBody
	if json.Unmarshal(envelope.Errors, &single) == nil {
		derr.Reason, derr.Message = single.Code, single.Message
		return derr
	}
	var many []errorBody
	if json.Unmarshal(envelope.Errors, &many) == nil && len(many) > 0 {
		derr.Reason, derr.Message = many[0].Code, many[0].Message
	}
	return derr
}

func (c *Client) resolve(id string) string {
	c.mu.RLock()
	u := *c.baseURL
	c.mu.RUnlock()
	u.Path = path.Join("/", u.Path, c.resource, id)
	return u.String()
}

func (c *Client) decorate(req *http.Request) {
	if c.auth == nil {
		return
	}
	if token := c.auth.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

// HTTPClient speaks the hub's HTTP/JSON API.
type HTTPClient struct {
	baseURL string
	token   string
	hc      *http.Client

	mu       sync.RWMutex
	entityID string
	kind     model.EntityKind
}

// HTTPOption customizes an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the default http.Client, for timeouts or a
// custom transport.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.hc = hc }
}

// NewHTTPClient targets a hub at baseURL such as "http://localhost:8080".
// A non-empty token is sent as a bearer token.
func NewHTTPClient(baseURL, token string, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *HTTPClient) Close() error { return nil }

// pluginPath joins escaped segments under /plugin/{name}.
func pluginPath(name string, rest ...string) string {
	p := "/plugin/" + url.PathEscape(name)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

// EntityID returns the identity presented on each request.
func (c *HTTPClient) EntityID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entityID
}

// SetEntityID sets the identity presented on each request.
func (c *HTTPClient) SetEntityID(id string) {
	c.mu.Lock()
	c.entityID = id
	c.mu.Unlock()
}

func (c *HTTPClient) Connect(ctx context.Context, kind model.EntityKind, name string) (*wire.ConnectReply, error) {
	var reply wire.ConnectReply
	path := "/" + string(kind) + "/connect/" + url.PathEscape(name)
	if err := c.call(ctx, http.MethodPost, path, nil, &reply); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entityID, c.kind = reply.EntityID, kind
	c.mu.Unlock()
	return &reply, nil
}

// Disconnect drops the identity on the hub and forgets it locally.
func (c *HTTPClient) Disconnect(ctx context.Context) error {
	c.mu.RLock()
	kind := c.kind
	c.mu.RUnlock()
	if kind == "" {
		kind = model.KindPlugin
	}
	if err := c.call(ctx, http.MethodPost, "/"+string(kind)+"/disconnect", nil, nil); err != nil {
		return err
	}
	c.SetEntityID("")
	return nil
}

func (c *HTTPClient) Subscribe(ctx context.Context, plugin, event string) (string, error) {
	var status string
	if err := c.call(ctx, http.MethodPost, pluginPath(plugin, "subscribe", event), nil, &status); err != nil {
		return "", err
	}
	return status, nil
}

func (c *HTTPClient) Unsubscribe(ctx context.Context, plugin, event string) (string, error) {
	var status string
	if err := c.call(ctx, http.MethodPost, pluginPath(plugin, "unsubscribe", event), nil, &status); err != nil {
		return "", err
	}
	return status, nil
}

func (c *HTTPClient) Subscriptions(ctx context.Context, plugin string) ([]string, error) {
	var reply wire.SubscriptionsReply
	if err := c.call(ctx, http.MethodGet, pluginPath(plugin, "subscriptions"), nil, &reply); err != nil {
		return nil, err
	}
	return reply.Subscriptions, nil
}

func (c *HTTPClient) Publish(ctx context.Context, event string, payload any) (string, error) {
	raw, err := rawPayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	var reply wire.MessageIDReply
	if err := c.call(ctx, http.MethodPost, "/message", wire.PublishRequest{Name: event, Payload: raw}, &reply); err != nil {
		return "", err
	}
	return reply.MessageID, nil
}

func (c *HTTPClient) Transaction(ctx context.Context, payload any) (string, error) {
	raw, err := rawPayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	var reply wire.MessageIDReply
	if err := c.call(ctx, http.MethodPost, "/transaction", wire.TransactionRequest{Payload: raw}, &reply); err != nil {
		return "", err
	}
	return reply.MessageID, nil
}

func (c *HTTPClient) Messages(ctx context.Context, plugin string, channel model.Channel, mode wire.ReadMode) ([]wire.Envelope, error) {
	var reply map[string][]wire.Envelope
	if err := c.call(ctx, http.MethodGet, pluginPath(plugin, string(channel), string(mode)), nil, &reply); err != nil {
		return nil, err
	}
	return reply[wire.ListKey(channel, mode)], nil
}

func (c *HTTPClient) Respond(ctx context.Context, messageID string, payload any) (string, error) {
	raw, err := rawPayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	var reply wire.ResponseIDReply
	if err := c.call(ctx, http.MethodPost, "/response", wire.RespondRequest{MessageID: messageID, Payload: raw}, &reply); err != nil {
		return "", err
	}
	return reply.ResponseID, nil
}

func (c *HTTPClient) Responses(ctx context.Context) ([]wire.ResponseEnvelope, error) {
	var reply wire.ResponsesReply
	if err := c.call(ctx, http.MethodGet, "/responses", nil, &reply); err != nil {
		return nil, err
	}
	return reply.Responses, nil
}

func (c *HTTPClient) Version(ctx context.Context) (string, error) {
	var reply wire.VersionReply
	if err := c.call(ctx, http.MethodGet, "/version", nil, &reply); err != nil {
		return "", err
	}
	return reply.Version, nil
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// APIError is a failed call: a non-2xx reply, or a 200 whose body is the
// hub's {"error": "..."} answer to a rejected request.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode < http.StatusBadRequest {
		return "hub rejected request: " + e.Message
	}
	return fmt.Sprintf("hub returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// errorReply returns the message of a {"error": "..."} reply body.
func errorReply(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	reply := gjson.ParseBytes(body)
	if !reply.IsObject() {
		return "", false
	}
	e := reply.Get("error")
	if e.Type != gjson.String {
		return "", false
	}
	return e.String(), true
}

// apiError reads the {"error": "..."} body the hub sends with failures,
// falling back to the raw body.
func apiError(status int, body []byte) *APIError {
	msg := strings.TrimSpace(string(body))
	if gjson.ValidBytes(body) {
		if e := gjson.GetBytes(body, "error"); e.Exists() && e.String() != "" {
			msg = e.String()
		}
	}
	return &APIError{StatusCode: status, Message: msg}
}

// call sends in (when non-nil) as JSON and decodes the reply into out
// (when non-nil).
func (c *HTTPClient) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := c.EntityID(); id != "" {
		req.Header.Set(wire.EntityHeader, id)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s reply: %w", path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return apiError(resp.StatusCode, data)
	}
	if msg, ok := errorReply(data); ok {
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s reply: %w", path, err)
	}
	return nil
}

package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/alfredjeanlab/hpit/internal/broker"
	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

// LocalClient implements HubClient by calling a broker.Service in the same
// process. The hub uses it to host plugins next to the broker.
type LocalClient struct {
	svc *broker.Service

	mu       sync.RWMutex
	entityID string
}

// NewLocalClient returns a client bound to svc.
func NewLocalClient(svc *broker.Service) *LocalClient {
	return &LocalClient{svc: svc}
}

func (c *LocalClient) Close() error { return nil }

func (c *LocalClient) EntityID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entityID
}

func (c *LocalClient) SetEntityID(id string) {
	c.mu.Lock()
	c.entityID = id
	c.mu.Unlock()
}

// caller resolves the bound identity the way the transports do.
func (c *LocalClient) caller() (model.Entity, error) {
	return c.svc.Authenticate(c.EntityID())
}

func (c *LocalClient) Connect(ctx context.Context, kind model.EntityKind, name string) (*wire.ConnectReply, error) {
	e, err := c.svc.Connect(ctx, kind, name)
	if err != nil {
		return nil, err
	}
	c.SetEntityID(e.ID)
	return &wire.ConnectReply{EntityName: e.Name, EntityID: e.ID}, nil
}

func (c *LocalClient) Disconnect(ctx context.Context) error {
	c.svc.Disconnect(ctx, c.EntityID())
	c.SetEntityID("")
	return nil
}

func (c *LocalClient) Subscribe(ctx context.Context, plugin, event string) (string, error) {
	res, err := c.svc.Subscribe(ctx, plugin, event)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

func (c *LocalClient) Unsubscribe(ctx context.Context, plugin, event string) (string, error) {
	res, err := c.svc.Unsubscribe(ctx, plugin, event)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

func (c *LocalClient) Subscriptions(ctx context.Context, plugin string) ([]string, error) {
	return c.svc.ListSubscriptions(ctx, plugin)
}

func (c *LocalClient) Publish(ctx context.Context, event string, payload any) (string, error) {
	e, err := c.caller()
	if err != nil {
		return "", err
	}
	raw, err := rawPayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	return c.svc.Publish(ctx, e.ID, event, raw)
}

func (c *LocalClient) Transaction(ctx context.Context, payload any) (string, error) {
	e, err := c.caller()
	if err != nil {
		return "", err
	}
	raw, err := rawPayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	return c.svc.PublishTransaction(ctx, e.ID, raw)
}

func (c *LocalClient) Messages(ctx context.Context, plugin string, channel model.Channel, mode wire.ReadMode) ([]wire.Envelope, error) {
	deliveries, err := c.svc.Deliveries(ctx, plugin, channel, mode.Broker())
	if err != nil {
		return nil, err
	}
	out := make([]wire.Envelope, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, wire.EnvelopeOf(d))
	}
	return out, nil
}

func (c *LocalClient) Respond(ctx context.Context, messageID string, payload any) (string, error) {
	raw, err := rawPayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	return c.svc.Respond(ctx, messageID, raw)
}

func (c *LocalClient) Responses(ctx context.Context) ([]wire.ResponseEnvelope, error) {
	e, err := c.caller()
	if err != nil {
		return nil, err
	}
	responses, err := c.svc.PollResponses(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	out := make([]wire.ResponseEnvelope, 0, len(responses))
	for _, r := range responses {
		out = append(out, wire.ResponseEnvelope{Message: r.Message, Response: r.Payload})
	}
	return out, nil
}

func (c *LocalClient) Version(context.Context) (string, error) {
	return c.svc.Version(), nil
}

func (c *LocalClient) Health(context.Context) (string, error) {
	return "ok", nil
}

package client

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

// GRPCClient implements HubClient using the hpit.v1.Broker gRPC service.
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string

	mu       sync.RWMutex
	entityID string
}

// NewGRPCClient connects to the given gRPC address and returns a client.
func NewGRPCClient(addr, token string, opts ...grpc.DialOption) (*GRPCClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, token: token}, nil
}

func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func (c *GRPCClient) EntityID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entityID
}

func (c *GRPCClient) SetEntityID(id string) {
	c.mu.Lock()
	c.entityID = id
	c.mu.Unlock()
}

// --- Identity ---

func (c *GRPCClient) Connect(ctx context.Context, kind model.EntityKind, name string) (*wire.ConnectReply, error) {
	var reply wire.ConnectReply
	if err := c.invoke(ctx, wire.MethodConnect, wire.ConnectRequest{Kind: kind, Name: name}, &reply); err != nil {
		return nil, err
	}
	c.SetEntityID(reply.EntityID)
	return &reply, nil
}

func (c *GRPCClient) Disconnect(ctx context.Context) error {
	var reply wire.StatusReply
	if err := c.invoke(ctx, wire.MethodDisconnect, struct{}{}, &reply); err != nil {
		return err
	}
	c.SetEntityID("")
	return nil
}

// --- Subscriptions ---

func (c *GRPCClient) Subscribe(ctx context.Context, plugin, event string) (string, error) {
	var reply wire.StatusReply
	if err := c.invoke(ctx, wire.MethodSubscribe, wire.SubscriptionRequest{Plugin: plugin, Event: event}, &reply); err != nil {
		return "", err
	}
	return reply.Status, nil
}

func (c *GRPCClient) Unsubscribe(ctx context.Context, plugin, event string) (string, error) {
	var reply wire.StatusReply
	if err := c.invoke(ctx, wire.MethodUnsubscribe, wire.SubscriptionRequest{Plugin: plugin, Event: event}, &reply); err != nil {
		return "", err
	}
	return reply.Status, nil
}

func (c *GRPCClient) Subscriptions(ctx context.Context, plugin string) ([]string, error) {
	var reply wire.SubscriptionsReply
	if err := c.invoke(ctx, wire.MethodSubscriptions, wire.SubscriptionRequest{Plugin: plugin}, &reply); err != nil {
		return nil, err
	}
	return reply.Subscriptions, nil
}

// --- Messages ---

func (c *GRPCClient) Publish(ctx context.Context, event string, payload any) (string, error) {
	raw, err := rawPayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	var reply wire.MessageIDReply
	if err := c.invoke(ctx, wire.MethodPublish, wire.PublishRequest{Name: event, Payload: raw}, &reply); err != nil {
		return "", err
	}
	return reply.MessageID, nil
}

func (c *GRPCClient) Transaction(ctx context.Context, payload any) (string, error) {
	raw, err := rawPayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	var reply wire.MessageIDReply
	if err := c.invoke(ctx, wire.MethodTransaction, wire.TransactionRequest{Payload: raw}, &reply); err != nil {
		return "", err
	}
	return reply.MessageID, nil
}

func (c *GRPCClient) Messages(ctx context.Context, plugin string, channel model.Channel, mode wire.ReadMode) ([]wire.Envelope, error) {
	var reply wire.MessagesReply
	req := wire.MessagesRequest{Plugin: plugin, Channel: channel, Mode: mode}
	if err := c.invoke(ctx, wire.MethodMessages, req, &reply); err != nil {
		return nil, err
	}
	return reply.Messages, nil
}

// --- Responses ---

func (c *GRPCClient) Respond(ctx context.Context, messageID string, payload any) (string, error) {
	raw, err := rawPayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	var reply wire.ResponseIDReply
	if err := c.invoke(ctx, wire.MethodRespond, wire.RespondRequest{MessageID: messageID, Payload: raw}, &reply); err != nil {
		return "", err
	}
	return reply.ResponseID, nil
}

func (c *GRPCClient) Responses(ctx context.Context) ([]wire.ResponseEnvelope, error) {
	var reply wire.ResponsesReply
	if err := c.invoke(ctx, wire.MethodResponses, struct{}{}, &reply); err != nil {
		return nil, err
	}
	return reply.Responses, nil
}

// --- Misc ---

func (c *GRPCClient) Version(ctx context.Context) (string, error) {
	var reply wire.VersionReply
	if err := c.invoke(ctx, wire.MethodVersion, struct{}{}, &reply); err != nil {
		return "", err
	}
	return reply.Version, nil
}

// Health reports the state of the connection; the gRPC surface has no
// separate health document.
func (c *GRPCClient) Health(ctx context.Context) (string, error) {
	if _, err := c.Version(ctx); err != nil {
		return "", err
	}
	return "ok", nil
}

// --- internal helpers ---

func (c *GRPCClient) invoke(ctx context.Context, method string, req, result any) error {
	in, err := wire.ToStruct(req)
	if err != nil {
		return err
	}
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	if id := c.EntityID(); id != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, wire.EntityMetadataKey, id)
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, method, in, out); err != nil {
		return err
	}
	return wire.FromStruct(out, result)
}

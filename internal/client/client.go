// Package client provides a transport-agnostic interface for the HPIT hub
// and HTTP/JSON and gRPC implementations of it.
//
// A client carries the identity returned by Connect and presents it on every
// later call. Tutors, plugin runtimes and the CLI all talk to the hub through
// HubClient.
package client

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

// HubClient is the interface that CLI commands and plugin runtimes use to
// communicate with the hub. It is implemented by HTTPClient (default) and
// GRPCClient.
type HubClient interface {
	// Identity
	Connect(ctx context.Context, kind model.EntityKind, name string) (*wire.ConnectReply, error)
	Disconnect(ctx context.Context) error
	EntityID() string
	SetEntityID(id string)

	// Subscriptions
	Subscribe(ctx context.Context, plugin, event string) (string, error)
	Unsubscribe(ctx context.Context, plugin, event string) (string, error)
	Subscriptions(ctx context.Context, plugin string) ([]string, error)

	// Messages
	Publish(ctx context.Context, event string, payload any) (string, error)
	Transaction(ctx context.Context, payload any) (string, error)
	Messages(ctx context.Context, plugin string, channel model.Channel, mode wire.ReadMode) ([]wire.Envelope, error)

	// Responses
	Respond(ctx context.Context, messageID string, payload any) (string, error)
	Responses(ctx context.Context) ([]wire.ResponseEnvelope, error)

	// Misc
	Version(ctx context.Context) (string, error)
	Health(ctx context.Context) (string, error)

	// Lifecycle
	Close() error
}

// rawPayload turns a caller payload into raw JSON. Raw messages and byte
// slices are passed through untouched.
func rawPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	}
	return json.Marshal(payload)
}

var (
	_ HubClient = (*HTTPClient)(nil)
	_ HubClient = (*GRPCClient)(nil)
	_ HubClient = (*LocalClient)(nil)
)

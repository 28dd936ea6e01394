// Package wire holds the request and reply shapes shared by the hub's
// transports and clients, and the hpit.v1.Broker gRPC method names.
//
// The gRPC service carries google.protobuf.Struct documents shaped exactly
// like the HTTP JSON bodies, so one set of Go types serves both transports.
package wire

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/hpit/internal/broker"
	"github.com/alfredjeanlab/hpit/internal/model"
)

// EntityHeader carries the caller identity on HTTP requests.
const EntityHeader = "X-HPIT-Entity"

// EntityMetadataKey carries the caller identity in gRPC metadata.
const EntityMetadataKey = "x-hpit-entity"

// gRPC service and method names.
const (
	ServiceName = "hpit.v1.Broker"

	MethodConnect       = "/hpit.v1.Broker/Connect"
	MethodDisconnect    = "/hpit.v1.Broker/Disconnect"
	MethodSubscribe     = "/hpit.v1.Broker/Subscribe"
	MethodUnsubscribe   = "/hpit.v1.Broker/Unsubscribe"
	MethodSubscriptions = "/hpit.v1.Broker/Subscriptions"
	MethodPublish       = "/hpit.v1.Broker/Publish"
	MethodTransaction   = "/hpit.v1.Broker/Transaction"
	MethodMessages      = "/hpit.v1.Broker/Messages"
	MethodRespond       = "/hpit.v1.Broker/Respond"
	MethodResponses     = "/hpit.v1.Broker/Responses"
	MethodVersion       = "/hpit.v1.Broker/Version"
)

// ReadMode names a delivery queue read on the wire.
type ReadMode string

const (
	ModeHistory ReadMode = "history"
	ModePreview ReadMode = "preview"
	ModeList    ReadMode = "list"
)

// ParseReadMode validates a mode path segment.
func ParseReadMode(s string) (ReadMode, bool) {
	switch m := ReadMode(s); m {
	case ModeHistory, ModePreview, ModeList:
		return m, true
	}
	return "", false
}

// Broker maps the mode onto the broker's queue read. Listing consumes.
func (m ReadMode) Broker() broker.ReadMode {
	switch m {
	case ModeList:
		return broker.Consume
	case ModePreview:
		return broker.Preview
	}
	return broker.History
}

// ListKey returns the reply field that holds deliveries for a channel and mode.
func ListKey(channel model.Channel, mode ReadMode) string {
	singular := "message"
	if channel == model.ChannelTransactions {
		singular = "transaction"
	}
	switch mode {
	case ModeHistory:
		return singular + "-history"
	case ModePreview:
		return singular + "-preview"
	}
	return string(channel)
}

// ConnectReply answers a connect call.
type ConnectReply struct {
	EntityName string `json:"entity_name"`
	EntityID   string `json:"entity_id"`
}

// ConnectRequest is the gRPC form of a connect call.
type ConnectRequest struct {
	Kind model.EntityKind `json:"kind"`
	Name string           `json:"name"`
}

// SubscriptionRequest names a plugin and an event.
type SubscriptionRequest struct {
	Plugin string `json:"plugin"`
	Event  string `json:"event"`
}

// StatusReply carries a bare status string such as "OK" or "EXISTS".
type StatusReply struct {
	Status string `json:"status"`
}

// SubscriptionsReply lists a plugin's subscriptions.
type SubscriptionsReply struct {
	Subscriptions []string `json:"subscriptions"`
}

// PublishRequest is the body of POST /message.
type PublishRequest struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// TransactionRequest is the body of POST /transaction.
type TransactionRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// MessageIDReply answers a publish.
type MessageIDReply struct {
	MessageID string `json:"message_id"`
}

// MessagesRequest is the gRPC form of a queue read.
type MessagesRequest struct {
	Plugin  string        `json:"plugin"`
	Channel model.Channel `json:"channel"`
	Mode    ReadMode      `json:"mode"`
}

// Envelope is one delivered message as seen by a plugin. Message is the
// delivery body: the published payload plus message_id and sender_entity_id.
type Envelope struct {
	EventName string          `json:"event_name"`
	Message   json.RawMessage `json:"message"`
}

// EnvelopeOf converts a stored delivery.
func EnvelopeOf(d *model.Delivery) Envelope {
	return Envelope{EventName: d.EventName, Message: d.Payload}
}

// MessagesReply is the gRPC form of a queue read reply.
type MessagesReply struct {
	Messages []Envelope `json:"messages"`
}

// RespondRequest is the body of POST /response.
type RespondRequest struct {
	MessageID string          `json:"message_id"`
	Payload   json.RawMessage `json:"payload"`
}

// ResponseIDReply answers a respond call.
type ResponseIDReply struct {
	ResponseID string `json:"response_id"`
}

// ResponseEnvelope is one polled response with the snapshot of the message
// it answers.
type ResponseEnvelope struct {
	Message  model.MessageSnapshot `json:"message"`
	Response json.RawMessage       `json:"response"`
}

// ResponsesReply is the body of GET /responses.
type ResponsesReply struct {
	Responses []ResponseEnvelope `json:"responses"`
}

// VersionReply is the body of GET /version.
type VersionReply struct {
	Version string `json:"version"`
}

// ToStruct converts v to a Struct through its JSON form.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%T is not a JSON object: %w", v, err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("converting %T to struct: %w", v, err)
	}
	return s, nil
}

// FromStruct decodes s into v through its JSON form. A nil Struct decodes
// as an empty object.
func FromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("converting struct: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %T: %w", v, err)
	}
	return nil
}

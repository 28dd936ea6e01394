package model

import (
	"encoding/json"
	"time"
)

// TransactionEvent is the reserved event name routed on the transaction channel.
const TransactionEvent = "transaction"

// Channel is a logical delivery queue. Ordinary events and transactions never mix.
type Channel string

const (
	ChannelMessages     Channel = "messages"
	ChannelTransactions Channel = "transactions"
)

// ChannelFor returns the channel an event name is routed on.
func ChannelFor(eventName string) Channel {
	if eventName == TransactionEvent {
		return ChannelTransactions
	}
	return ChannelMessages
}

// Subscription records a plugin's interest in an event name.
type Subscription struct {
	PluginName string    `json:"plugin_name"`
	EventName  string    `json:"event_name"`
	CreatedAt  time.Time `json:"created_at"`
}

// Message is an immutable published event.
type Message struct {
	ID          string          `json:"id"`
	EventName   string          `json:"event_name"`
	Payload     json.RawMessage `json:"payload"`
	PublisherID string          `json:"publisher_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Snapshot copies the parts of the message a response must keep.
func (m *Message) Snapshot() MessageSnapshot {
	return MessageSnapshot{
		MessageID: m.ID,
		EventName: m.EventName,
		Payload:   m.Payload,
		EntityID:  m.PublisherID,
	}
}

// Delivery is one plugin's copy of a published message.
type Delivery struct {
	ID         string          `json:"id"`
	MessageID  string          `json:"message_id"`
	PluginName string          `json:"plugin_name"`
	EventName  string          `json:"event_name"`
	SenderID   string          `json:"sender_entity_id"`
	Payload    json.RawMessage `json:"payload"`
	Delivered  bool            `json:"delivered"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DeliveryFilter selects deliveries for history and preview reads.
type DeliveryFilter struct {
	PluginName      string
	Channel         Channel
	UndeliveredOnly bool
}

// MessageSnapshot is the copy of an original message embedded in a response.
// EntityID is the original publisher and decides who may poll the response.
type MessageSnapshot struct {
	MessageID string          `json:"message_id"`
	EventName string          `json:"event_name"`
	Payload   json.RawMessage `json:"payload"`
	EntityID  string          `json:"entity_id"`
}

// Response is a plugin's answer to a message, routed back to the publisher.
type Response struct {
	ID        string          `json:"id"`
	MessageID string          `json:"message_id"`
	Message   MessageSnapshot `json:"message"`
	Payload   json.RawMessage `json:"response"`
	Delivered bool            `json:"delivered"`
	CreatedAt time.Time       `json:"created_at"`
}

package events

import (
	"context"
	"encoding/json"

	"github.com/alfredjeanlab/hpit/internal/model"
)

// Event topic constants
const (
	TopicEntityConnected    = "hpit.entity.connected"
	TopicEntityDisconnected = "hpit.entity.disconnected"
	TopicMessagePublished   = "hpit.message.published"
	TopicResponsePosted     = "hpit.response.posted"

	// TopicDeliveryQueuedPrefix is followed by the plugin name.
	TopicDeliveryQueuedPrefix = "hpit.delivery.queued."
)

// DeliveryTopic returns the subject a plugin listens on to learn that new
// deliveries are waiting in its queue.
func DeliveryTopic(pluginName string) string {
	return TopicDeliveryQueuedPrefix + pluginName
}

// Event types

type EntityConnected struct {
	Entity model.Entity `json:"entity"`
}

type EntityDisconnected struct {
	Entity model.Entity `json:"entity"`
	Reason string       `json:"reason,omitempty"` // "request" or "idle"
}

type MessagePublished struct {
	MessageID   string   `json:"message_id"`
	EventName   string   `json:"event_name"`
	PublisherID string   `json:"publisher_id"`
	Subscribers []string `json:"subscribers"`
}

type DeliveryQueued struct {
	PluginName string        `json:"plugin_name"`
	MessageID  string        `json:"message_id"`
	EventName  string        `json:"event_name"`
	Channel    model.Channel `json:"channel"`
}

type ResponsePosted struct {
	ResponseID string          `json:"response_id"`
	MessageID  string          `json:"message_id"`
	EntityID   string          `json:"entity_id"`
	Response   json.RawMessage `json:"response,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subscriber receives events from the event bus.
type Subscriber interface {
	// Subscribe delivers raw event payloads on the returned channel.
	// Call the returned cancel function to unsubscribe and close the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

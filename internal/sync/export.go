package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/alfredjeanlab/hpit/internal/store"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version           string    `json:"version"`
	Type              string    `json:"type"`
	Timestamp         time.Time `json:"timestamp"`
	SubscriptionCount int       `json:"subscription_count"`
	MessageCount      int       `json:"message_count"`
	MasteryCount      int       `json:"mastery_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes the durable hub state as JSONL to w: subscriptions,
// the message log and every mastery record. Delivery queues and responses
// are transient and not exported.
func ExportJSONL(ctx context.Context, s store.Store, w io.Writer) error {
	subs, err := s.ListAllSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].PluginName != subs[j].PluginName {
			return subs[i].PluginName < subs[j].PluginName
		}
		return subs[i].EventName < subs[j].EventName
	})

	msgs, err := s.ListAllMessages(ctx)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})

	mastery, err := s.ListAllMastery(ctx)
	if err != nil {
		return fmt.Errorf("list mastery: %w", err)
	}
	sort.Slice(mastery, func(i, j int) bool {
		a, b := mastery[i], mastery[j]
		if a.PublisherID != b.PublisherID {
			return a.PublisherID < b.PublisherID
		}
		if a.StudentID != b.StudentID {
			return a.StudentID < b.StudentID
		}
		return a.SkillID < b.SkillID
	})

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:           "1",
		Type:              "header",
		Timestamp:         time.Now().UTC(),
		SubscriptionCount: len(subs),
		MessageCount:      len(msgs),
		MasteryCount:      len(mastery),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, sub := range subs {
		if err := enc.Encode(record{Type: "subscription", Data: sub}); err != nil {
			return fmt.Errorf("encode subscription %s/%s: %w", sub.PluginName, sub.EventName, err)
		}
	}
	for _, m := range msgs {
		if err := enc.Encode(record{Type: "message", Data: m}); err != nil {
			return fmt.Errorf("encode message %s: %w", m.ID, err)
		}
	}
	for _, m := range mastery {
		if err := enc.Encode(record{Type: "mastery", Data: m}); err != nil {
			return fmt.Errorf("encode mastery %s/%s: %w", m.StudentID, m.SkillID, err)
		}
	}
	return nil
}

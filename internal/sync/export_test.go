package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/store"
	"github.com/alfredjeanlab/hpit/internal/store/memory"
)

// seededStore returns a memory store with subscriptions, messages and
// mastery records inserted out of order.
func seededStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for _, sub := range []*model.Subscription{
		{PluginName: "kt", EventName: "kt_trace", CreatedAt: now},
		{PluginName: "hf", EventName: "hf_hint", CreatedAt: now},
		{PluginName: "kt", EventName: "kt_reset", CreatedAt: now},
	} {
		if _, err := st.AddSubscription(ctx, sub); err != nil {
			t.Fatal(err)
		}
	}
	for i, id := range []string{"msg-b", "msg-a"} {
		if err := st.CreateMessage(ctx, &model.Message{
			ID: id, EventName: "kt_trace", Payload: json.RawMessage(`{}`),
			PublisherID: "ent-1", CreatedAt: now.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatal(err)
		}
	}
	for _, student := range []string{"s2", "s1"} {
		if err := st.UpsertMastery(ctx, &model.Mastery{
			PublisherID: "ent-1", SkillID: "5f4e3d2c1b0a998877665544", StudentID: student,
			Priors: model.DefaultPriors(), UpdatedAt: now,
		}); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), memory.New(), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.SubscriptionCount != 0 || h.MessageCount != 0 || h.MasteryCount != 0 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_Ordering(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), seededStore(t), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	// header + 3 subscriptions + 2 messages + 2 mastery
	if len(lines) != 8 {
		t.Fatalf("expected 8 lines, got %d:\n%s", len(lines), buf.String())
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.SubscriptionCount != 3 || h.MessageCount != 2 || h.MasteryCount != 2 {
		t.Fatalf("header counts: %+v", h)
	}

	type line struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	var recs []line
	for _, l := range lines[1:] {
		var r line
		if err := json.Unmarshal([]byte(l), &r); err != nil {
			t.Fatalf("unmarshal %s: %v", l, err)
		}
		recs = append(recs, r)
	}

	wantTypes := []string{"subscription", "subscription", "subscription", "message", "message", "mastery", "mastery"}
	for i, want := range wantTypes {
		if recs[i].Type != want {
			t.Fatalf("record %d type = %q, want %q", i, recs[i].Type, want)
		}
	}

	var sub model.Subscription
	_ = json.Unmarshal(recs[0].Data, &sub)
	if sub.PluginName != "hf" {
		t.Errorf("first subscription = %+v, want plugin hf", sub)
	}
	var msg model.Message
	_ = json.Unmarshal(recs[3].Data, &msg)
	if msg.ID != "msg-b" {
		t.Errorf("first message = %q, want the oldest", msg.ID)
	}
	var m model.Mastery
	_ = json.Unmarshal(recs[5].Data, &m)
	if m.StudentID != "s1" || m.PKnown != model.DefaultPKnown {
		t.Errorf("first mastery = %+v", m)
	}
}

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}

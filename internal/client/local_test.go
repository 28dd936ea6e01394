package client

import (
	"context"
	"testing"

	"github.com/tidwall/gjson"

	"github.com/alfredjeanlab/hpit/internal/broker"
	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/store/memory"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

func TestLocalClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := broker.New(memory.New(), nil)

	tutor := NewLocalClient(svc)
	plugin := NewLocalClient(svc)
	if _, err := tutor.Connect(ctx, model.KindTutor, "t"); err != nil {
		t.Fatalf("tutor connect: %v", err)
	}
	if _, err := plugin.Connect(ctx, model.KindPlugin, "kt"); err != nil {
		t.Fatalf("plugin connect: %v", err)
	}

	status, err := plugin.Subscribe(ctx, "kt", "tutorgen.kt_trace")
	if err != nil || status != "OK" {
		t.Fatalf("Subscribe = %q, %v", status, err)
	}

	msgID, err := tutor.Publish(ctx, "tutorgen.kt_trace", map[string]any{"student_id": "s1"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got, err := plugin.Messages(ctx, "kt", model.ChannelMessages, wire.ModeList)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if id := gjson.GetBytes(got[0].Message, "message_id").String(); id != msgID {
		t.Errorf("message_id = %q, want %q", id, msgID)
	}
	if sender := gjson.GetBytes(got[0].Message, "sender_entity_id").String(); sender != tutor.EntityID() {
		t.Errorf("sender_entity_id = %q, want %q", sender, tutor.EntityID())
	}

	again, _ := plugin.Messages(ctx, "kt", model.ChannelMessages, wire.ModeList)
	if len(again) != 0 {
		t.Errorf("second list returned %d messages, want 0", len(again))
	}

	if _, err := plugin.Respond(ctx, msgID, map[string]any{"ok": true}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	responses, err := tutor.Responses(ctx)
	if err != nil {
		t.Fatalf("Responses: %v", err)
	}
	if len(responses) != 1 || responses[0].Message.MessageID != msgID {
		t.Fatalf("responses = %+v", responses)
	}
}

func TestLocalClient_RequiresIdentity(t *testing.T) {
	c := NewLocalClient(broker.New(memory.New(), nil))
	_, err := c.Publish(context.Background(), "x", nil)
	if !model.IsKind(err, model.ErrNotFound) {
		t.Fatalf("Publish without identity: err = %v, want not_found kind", err)
	}
	if _, err := c.Responses(context.Background()); !model.IsKind(err, model.ErrNotFound) {
		t.Fatalf("Responses without identity: err = %v, want not_found kind", err)
	}
}

func TestLocalClient_DisconnectForgetsIdentity(t *testing.T) {
	ctx := context.Background()
	svc := broker.New(memory.New(), nil)
	c := NewLocalClient(svc)
	reply, err := c.Connect(ctx, model.KindTutor, "t")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if c.EntityID() != "" {
		t.Errorf("EntityID() = %q after disconnect", c.EntityID())
	}
	if _, err := svc.Authenticate(reply.EntityID); err == nil {
		t.Error("identity still resolves after disconnect")
	}
}

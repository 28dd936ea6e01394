package main

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/alfredjeanlab/hpit/internal/model"
	"github.com/alfredjeanlab/hpit/internal/ui"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

func TestBuildPayload(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		sets    []string
		want    string
		wantErr bool
	}{
		{name: "empty", want: `{}`},
		{name: "raw only", raw: `{"student_id":"s1"}`, want: `{"student_id":"s1"}`},
		{
			name: "plain strings",
			sets: []string{"student_id=s1", "skill_id=addition"},
			want: `{"student_id":"s1","skill_id":"addition"}`,
		},
		{
			name: "boolean and number",
			sets: []string{"correct=true", "probability_known=0.75"},
			want: `{"correct":true,"probability_known":0.75}`,
		},
		{
			name: "json object value",
			sets: []string{`skill_ids={"Add":"abc"}`},
			want: `{"skill_ids":{"Add":"abc"}}`,
		},
		{
			name: "nested path",
			sets: []string{"tutor.name=example"},
			want: `{"tutor":{"name":"example"}}`,
		},
		{
			name: "overrides raw",
			raw:  `{"correct":false,"student_id":"s1"}`,
			sets: []string{"correct=true"},
			want: `{"correct":true,"student_id":"s1"}`,
		},
		{
			name: "version-like string",
			sets: []string{"version=1.2.3"},
			want: `{"version":"1.2.3"}`,
		},
		{name: "missing equals", sets: []string{"noequals"}, wantErr: true},
		{name: "empty key", sets: []string{"=x"}, wantErr: true},
		{name: "raw array", raw: `[1,2]`, wantErr: true},
		{name: "raw invalid", raw: `{nope`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildPayload(tt.raw, tt.sets)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			var gotMap, wantMap map[string]any
			if err := json.Unmarshal(got, &gotMap); err != nil {
				t.Fatalf("invalid JSON %s: %v", got, err)
			}
			if err := json.Unmarshal([]byte(tt.want), &wantMap); err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(gotMap, wantMap) {
				t.Errorf("buildPayload = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abcdefghijkl", 8); got != "abcde..." {
		t.Errorf("truncate = %q", got)
	}
}

func TestPrintEnvelopes(t *testing.T) {
	var buf bytes.Buffer
	printEnvelopes(&buf, []wire.Envelope{{
		EventName: "kt_trace",
		Message:   json.RawMessage(`{"correct":true,"message_id":"m1","sender_entity_id":"e1"}`),
	}})
	out := buf.String()
	for _, want := range []string{"m1", "kt_trace", "e1", `{"correct":true}`, "1 messages"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintResponses(t *testing.T) {
	var buf bytes.Buffer
	printResponses(&buf, nil)
	if !strings.Contains(buf.String(), "no responses") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	printResponses(&buf, []wire.ResponseEnvelope{{
		Message:  model.MessageSnapshot{MessageID: "m1", EventName: "kt_trace"},
		Response: json.RawMessage(`{"probability_known":0.5}`),
	}})
	if !strings.Contains(buf.String(), `{"probability_known":0.5}`) || !strings.Contains(buf.String(), "0.50") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestColorizeHelpOutput(t *testing.T) {
	ui.SetColor(true)
	defer ui.SetColor(false)

	in := "Session:\n  connect      Register an entity\n\nFlags:\n      --server string   hub gRPC address (default \"localhost:9090\")\n"
	out := colorizeHelpOutput(in)
	if !strings.Contains(out, "\x1b[") {
		t.Fatalf("no styling applied:\n%s", out)
	}
	if !strings.Contains(out, "connect") || !strings.Contains(out, "localhost:9090") {
		t.Errorf("content lost:\n%s", out)
	}
}

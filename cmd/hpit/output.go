package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/alfredjeanlab/hpit/internal/ui"
	"github.com/alfredjeanlab/hpit/internal/wire"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// buildPayload starts from raw (a JSON object, "{}" when empty) and applies
// each key=value assignment. Values that parse as JSON are set as JSON,
// anything else as a string. Keys use gjson path syntax.
func buildPayload(raw string, sets []string) (json.RawMessage, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return nil, fmt.Errorf("payload must be a JSON object: %s", raw)
	}
	out := []byte(raw)
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q (want key=value)", s)
		}
		var err error
		if gjson.Valid(value) {
			out, err = sjson.SetRawBytes(out, key, []byte(value))
		} else {
			out, err = sjson.SetBytes(out, key, value)
		}
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", key, err)
		}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func printEnvelopes(w io.Writer, envs []wire.Envelope) {
	if len(envs) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no messages"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MESSAGE ID\tEVENT\tSENDER\tPAYLOAD")
	for _, e := range envs {
		body := gjson.ParseBytes(e.Message)
		payload, _ := sjson.Delete(body.Raw, "message_id")
		payload, _ = sjson.Delete(payload, "sender_entity_id")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			body.Get("message_id").String(),
			e.EventName,
			body.Get("sender_entity_id").String(),
			truncate(payload, 60),
		)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d messages\n", len(envs))
}

func printResponses(w io.Writer, responses []wire.ResponseEnvelope) {
	if len(responses) == 0 {
		fmt.Fprintln(w, ui.RenderMuted("no responses"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MESSAGE ID\tEVENT\tP(KNOWN)\tRESPONSE")
	for _, r := range responses {
		known := "-"
		if p := gjson.GetBytes(r.Response, "probability_known"); p.Exists() {
			known = ui.RenderProbability(p.Float())
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Message.MessageID, r.Message.EventName, known, truncate(string(r.Response), 70))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d responses\n", len(responses))
}

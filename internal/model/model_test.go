package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

// fieldErrors extracts a *ValidationError from err or fails the test.
func fieldErrors(t *testing.T, err error) []FieldError {
	t.Helper()
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	return ve.Errors
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName(KindTutor, "algebra"); got != "tutor_algebra" {
		t.Errorf("DisplayName(tutor) = %q", got)
	}
	if got := DisplayName(KindPlugin, "kt"); got != "plugin_kt" {
		t.Errorf("DisplayName(plugin) = %q", got)
	}
}

func TestEntityKind_IsValid(t *testing.T) {
	for _, tc := range []struct {
		kind EntityKind
		want bool
	}{
		{KindTutor, true},
		{KindPlugin, true},
		{"robot", false},
		{"", false},
	} {
		if got := tc.kind.IsValid(); got != tc.want {
			t.Errorf("%q.IsValid() = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestChannelFor(t *testing.T) {
	if ChannelFor("transaction") != ChannelTransactions {
		t.Error("transaction should route on the transaction channel")
	}
	if ChannelFor("tutorgen.kt_trace") != ChannelMessages {
		t.Error("ordinary events should route on the message channel")
	}
	if ChannelFor("Transaction") != ChannelMessages {
		t.Error("the reserved name is case-sensitive")
	}
}

func TestMessageSnapshot(t *testing.T) {
	m := &Message{ID: "m1", EventName: "x", Payload: json.RawMessage(`{"a":1}`), PublisherID: "e1"}
	snap := m.Snapshot()
	if snap.MessageID != "m1" || snap.EventName != "x" || snap.EntityID != "e1" || string(snap.Payload) != `{"a":1}` {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestDefaultPriors(t *testing.T) {
	p := DefaultPriors()
	if p.PKnown != 0.75 || p.PLearned != 0.33 || p.PGuess != 0.33 || p.PMistake != 0.33 {
		t.Errorf("DefaultPriors() = %+v", p)
	}
}

func TestValidatePublish(t *testing.T) {
	for _, tc := range []struct {
		name    string
		event   string
		payload string
		field   string
	}{
		{"MissingName", "", `{}`, "name"},
		{"MissingPayload", "x", ``, "payload"},
		{"InvalidJSON", "x", `{`, "payload"},
		{"NotObject", "x", `[1,2]`, "payload"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			errs := fieldErrors(t, ValidatePublish(tc.event, json.RawMessage(tc.payload)))
			if errs[0].Field != tc.field {
				t.Errorf("field = %q, want %q", errs[0].Field, tc.field)
			}
		})
	}
	if err := ValidatePublish("x", json.RawMessage(` {"ok":true}`)); err != nil {
		t.Errorf("valid publish rejected: %v", err)
	}
}

func TestValidateEntityName(t *testing.T) {
	if err := ValidateEntityName("kt"); err != nil {
		t.Errorf("valid name rejected: %v", err)
	}
	for _, name := range []string{"", "  ", "a/b", "a b"} {
		fieldErrors(t, ValidateEntityName(name))
	}
}

func TestValidateSkillID(t *testing.T) {
	got, err := ValidateSkillID("5F1D7A3C2B9E4D6F8A0B1C2D")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "5f1d7a3c2b9e4d6f8a0b1c2d" {
		t.Errorf("canonical id = %q", got)
	}

	for _, bad := range []string{"", "abc", "zzzzzzzzzzzzzzzzzzzzzzzz", "5f1d7a3c2b9e4d6f8a0b1c2d00"} {
		_, err := ValidateSkillID(bad)
		if !IsKind(err, ErrInvalidSkillID) {
			t.Errorf("ValidateSkillID(%q) error = %v, want invalid skill id", bad, err)
		}
	}
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("handler: %w", Errorf(ErrAccessDenied, "Access denied"))
	if KindOf(err) != ErrAccessDenied {
		t.Errorf("KindOf = %q", KindOf(err))
	}
	if !IsKind(err, ErrAccessDenied) || IsKind(err, ErrNotFound) {
		t.Error("IsKind mismatch")
	}
	if KindOf(errors.New("boom")) != ErrUnexpected {
		t.Error("plain errors should be unexpected")
	}

	cause := errors.New("disk full")
	wrapped := Wrap(cause, "store failed")
	if !errors.Is(wrapped, cause) {
		t.Error("Wrap should keep the cause")
	}
	if wrapped.Error() != "store failed" {
		t.Errorf("Error() = %q", wrapped.Error())
	}
}

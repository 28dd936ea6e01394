package model

import (
	"encoding/json"
	"testing"
)

// hasFieldError reports whether the error list contains an error for the given field.
func hasFieldError(errs []FieldError, field string) bool {
	for _, fe := range errs {
		if fe.Field == field {
			return true
		}
	}
	return false
}

func TestValidatePublish_Fields(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload json.RawMessage
		fields  []string
	}{
		{"missing everything", "", nil, []string{"name", "payload"}},
		{"whitespace name", "  ", json.RawMessage(`{}`), []string{"name"}},
		{"invalid json", "kt_trace", json.RawMessage(`{`), []string{"payload"}},
		{"array payload", "kt_trace", json.RawMessage(`[]`), []string{"payload"}},
		{"string payload", "kt_trace", json.RawMessage(`"x"`), []string{"payload"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := fieldErrors(t, ValidatePublish(tt.event, tt.payload))
			for _, f := range tt.fields {
				if !hasFieldError(errs, f) {
					t.Errorf("expected error on %q, got %v", f, errs)
				}
			}
			if len(errs) != len(tt.fields) {
				t.Errorf("got %d errors, want %d: %v", len(errs), len(tt.fields), errs)
			}
		})
	}

	if err := ValidatePublish("kt_trace", json.RawMessage(` {"correct":true}`)); err != nil {
		t.Errorf("valid publish rejected: %v", err)
	}
}

func TestValidationError_Error(t *testing.T) {
	ve := &ValidationError{
		Errors: []FieldError{
			{Field: "name", Message: "is required"},
			{Field: "payload", Message: "must be a JSON object"},
		},
	}
	got := ve.Error()
	want := "validation failed: name: is required; payload: must be a JSON object"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	ve := &ValidationError{}
	if ve.HasErrors() {
		t.Error("HasErrors() should be false for empty Errors slice")
	}
	ve.Errors = append(ve.Errors, FieldError{Field: "x", Message: "y"})
	if !ve.HasErrors() {
		t.Error("HasErrors() should be true when Errors is non-empty")
	}
}

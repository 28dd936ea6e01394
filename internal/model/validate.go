package model

import (
	"bytes"
	"encoding/json"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ValidationError lists every problem found with a request.
type ValidationError struct {
	Errors []FieldError
}

type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

// err returns e when it holds errors. The nil case must be an untyped nil.
func (e *ValidationError) err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// ValidateEntityName checks a requested connect name.
func ValidateEntityName(name string) error {
	ve := &ValidationError{}
	switch {
	case strings.TrimSpace(name) == "":
		ve.add("name", "is required")
	case strings.ContainsAny(name, "/ \t\n"):
		ve.add("name", "must not contain slashes or whitespace")
	}
	return ve.err()
}

// ValidatePublish checks a message before it is stored. Payloads must be
// JSON objects since deliveries are annotated with extra keys.
func ValidatePublish(eventName string, payload json.RawMessage) error {
	ve := &ValidationError{}
	if strings.TrimSpace(eventName) == "" {
		ve.add("name", "is required")
	}
	switch trimmed := bytes.TrimSpace(payload); {
	case len(trimmed) == 0:
		ve.add("payload", "is required")
	case !json.Valid(trimmed):
		ve.add("payload", "contains invalid JSON")
	case trimmed[0] != '{':
		ve.add("payload", "must be a JSON object")
	}
	return ve.err()
}

// ValidateSkillID parses id as a 24-hex object identifier and returns its
// canonical form.
func ValidateSkillID(id string) (string, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return "", &Error{Kind: ErrInvalidSkillID, Message: "'skill_id' is not a valid skill id", Cause: err}
	}
	return oid.Hex(), nil
}

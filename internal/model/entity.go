package model

import "time"

// EntityKind distinguishes tutors from plugins.
type EntityKind string

const (
	KindTutor  EntityKind = "tutor"
	KindPlugin EntityKind = "plugin"
)

// IsValid checks whether the kind is a known value.
func (k EntityKind) IsValid() bool {
	switch k {
	case KindTutor, KindPlugin:
		return true
	}
	return false
}

// Entity is a connected tutor or plugin. It lives only as long as its session.
type Entity struct {
	ID          string     `json:"entity_id"`
	Name        string     `json:"entity_name"`
	Kind        EntityKind `json:"kind"`
	ConnectedAt time.Time  `json:"connected_at"`
}

// DisplayName derives the (non-unique) entity name from the requested name.
func DisplayName(kind EntityKind, requested string) string {
	return string(kind) + "_" + requested
}

// Package idgen mints the hub's record ids.
//
// Entity ids are UUIDv7, message ids are 24-hex object ids (the format skill
// ids share on the wire), and deliveries and responses get a short nanoid
// behind a type prefix.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
	nanoid "github.com/matoous/go-nanoid/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	PrefixDelivery = "dl-"
	PrefixResponse = "rs-"

	alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// nanoLength gives about 71 bits of randomness.
	nanoLength = 12
)

func prefixed(prefix string) (string, error) {
	id, err := nanoid.Generate(alphabet, nanoLength)
	if err != nil {
		return "", fmt.Errorf("generating %s id: %w", prefix, err)
	}
	return prefix + id, nil
}

func DeliveryID() (string, error) { return prefixed(PrefixDelivery) }

func ResponseID() (string, error) { return prefixed(PrefixResponse) }

// EntityID returns a fresh UUIDv7. Ids are never reused.
func EntityID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating entity id: %w", err)
	}
	return id.String(), nil
}

// MessageID returns a new object id in hex.
func MessageID() string {
	return primitive.NewObjectID().Hex()
}

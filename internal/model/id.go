package model

import (
	"strings"

	"github.com/google/uuid"
)

const localIDPrefix = "local-"

// NewID mints a canonical entity identifier. Only the authoritative store
// should assign these.
func NewID() string {
	return uuid.NewString()
}

// NewLocalID mints a provisional identifier for an entity created on-device
// before the remote store has assigned a canonical one.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was minted on-device and still awaits
// promotion to a canonical identifier.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

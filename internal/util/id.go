package util

import (
	"strings"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewCorrelationID returns a client_message_id for an optimistic send. The
// "temp-" prefix marks the id as provisional until the server echo replaces it.
func NewCorrelationID() string {
	return "temp-" + uuid.NewString()
}

func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, "temp-")
}

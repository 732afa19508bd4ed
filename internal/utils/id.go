package utils

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewID issues a message id synchronously so an optimistic entry and its
// persisted row share the same identity.
func NewID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

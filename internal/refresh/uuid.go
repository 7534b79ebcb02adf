package refresh

import "github.com/google/uuid"

// newUUID generates a fresh uuid for a cache record / vector-table row.
func newUUID() string {
	return uuid.NewString()
}

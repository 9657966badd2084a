package registry

import "github.com/google/uuid"

// NewRunID identifies one invocation of the supervisor; every process it
// starts and every journal event it writes carries the same ID.
func NewRunID() string {
	return uuid.New().String()
}

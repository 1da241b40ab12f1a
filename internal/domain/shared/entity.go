package shared

import (
	"time"

	"github.com/google/uuid"
)

// Entity is implemented by every aggregate the engine stores. UpdatedAt
// reflects the most recent lifecycle transition, not a database column.
type Entity interface {
	GetID() uuid.UUID
	GetCreatedAt() time.Time
	GetUpdatedAt() time.Time
}

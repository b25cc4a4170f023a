package types

import "time"

// Entity carries the creation and modification timestamps shared by
// accounts and pass tokens.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity creates an Entity stamped with the given time in UTC.
func NewEntity(now time.Time) Entity {
	now = now.UTC()
	return Entity{
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch sets UpdatedAt to the given time in UTC.
func (e *Entity) Touch(now time.Time) {
	e.UpdatedAt = now.UTC()
}

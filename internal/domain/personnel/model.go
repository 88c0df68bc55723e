package personnel

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("personnel not found")

// Contact is the sender identity an inbound message arrives from.
type Contact struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Identity  string    `db:"identity" json:"identity"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Personnel is a registered field worker.
type Personnel struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ContactID  uuid.UUID `db:"contact_id" json:"contact_id"`
	Name       string    `db:"name" json:"name"`
	SiteID     uuid.UUID `db:"site_id" json:"site_id"`
	PositionID uuid.UUID `db:"position_id" json:"position_id"`
	Email      string    `db:"email" json:"email,omitempty"`
	Mobile     string    `db:"mobile" json:"mobile"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

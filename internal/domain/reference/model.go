package reference

import (
	"time"

	"github.com/google/uuid"
)

// Position is a job title. LocTypeCode, when set, is the location type a
// holder of the position must register at.
type Position struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	AltCode     string    `db:"alt_code" json:"alt_code,omitempty"`
	Description string    `db:"description" json:"description"`
	LocTypeCode string    `db:"loc_type_code" json:"loc_type_code"`
}

type ProgramCategory struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Code string    `db:"code" json:"code"`
	Name string    `db:"name" json:"name"`
}

type Program struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Code       string     `db:"code" json:"code"`
	Name       string     `db:"name" json:"name"`
	CategoryID *uuid.UUID `db:"category_id" json:"category_id,omitempty"`
}

type PatientGroup struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Code string    `db:"code" json:"code"`
	Name string    `db:"name" json:"name"`
}

// Item is a stock item. AltCodes are accepted in SMS alongside Code.
type Item struct {
	ID       uuid.UUID `db:"id" json:"id"`
	Code     string    `db:"code" json:"code"`
	AltCodes []string  `db:"alt_codes" json:"alt_codes,omitempty"`
	Name     string    `db:"name" json:"name"`
	Unit     string    `db:"unit" json:"unit,omitempty"`
}

// Snapshot is the full set of reference tables at one point in time.
type Snapshot struct {
	Positions  []*Position        `json:"positions"`
	Categories []*ProgramCategory `json:"categories"`
	Programs   []*Program         `json:"programs"`
	Groups     []*PatientGroup    `json:"groups"`
	Items      []*Item            `json:"items"`
	LoadedAt   time.Time          `json:"loaded_at"`
}

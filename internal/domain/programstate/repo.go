package programstate

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PairStats summarises the program reports of one (site, program) pair.
type PairStats struct {
	SiteID       uuid.UUID
	ProgramID    uuid.UUID
	FirstCreated time.Time
	LastCreated  time.Time
}

// Filter narrows List. Zero values are ignored.
type Filter struct {
	SiteID    uuid.UUID
	ProgramID uuid.UUID
	State     State
	// Under restricts to sites whose materialized path starts with it.
	Under string
}

type Repository interface {
	// GetOrCreate returns the row for the pair, inserting an empty OUT row
	// when missing. Inside a transaction the row is locked.
	GetOrCreate(ctx context.Context, siteID, programID uuid.UUID) (*LocationProgramState, bool, error)
	// Upsert inserts the row for the pair or overwrites the dates and state
	// of the existing one. s.ID is set to the stored row's id.
	Upsert(ctx context.Context, s *LocationProgramState) error
	// Save writes the dates and the current state of an existing row.
	Save(ctx context.Context, s *LocationProgramState) error
	// DeleteOrphans removes rows whose pair has no program reports.
	DeleteOrphans(ctx context.Context) (int64, error)

	// ReportPairs lists every distinct pair found in program reports,
	// ordered by site then program.
	ReportPairs(ctx context.Context) ([]PairStats, error)
	// LastReportCreated returns the creation time of the newest report of the
	// pair, or nil when it has none.
	LastReportCreated(ctx context.Context, siteID, programID uuid.UUID) (*time.Time, error)

	List(ctx context.Context, f Filter, limit, offset int) ([]*LocationProgramState, int, error)
	CountByState(ctx context.Context, f Filter) (map[State]int, error)
}

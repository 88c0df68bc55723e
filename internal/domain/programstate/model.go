package programstate

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("program state not found")

// State is the activity classification of a site in a program.
type State string

const (
	Out             State = "OUT"
	InactiveTrained State = "INACTIVE-TRAINED"
	ActiveBad       State = "ACTIVE-BAD"
	Active          State = "ACTIVE"
	InactiveNew     State = "INACTIVE-NEW"
	Inactive        State = "INACTIVE"
)

var States = []State{Out, InactiveTrained, ActiveBad, Active, InactiveNew, Inactive}

var descriptions = map[State]string{
	Out:             "Not part of program",
	InactiveTrained: "Trained (but without data)",
	ActiveBad:       "Active with bad data",
	Active:          "Active with (some) good data",
	InactiveNew:     "Recently inactive (8-16 weeks ago)",
	Inactive:        "Inactive",
}

func (s State) Valid() bool {
	_, ok := descriptions[s]
	return ok
}

func (s State) Description() string { return descriptions[s] }

func (s State) IsActive() bool   { return strings.HasPrefix(string(s), "ACTIVE") }
func (s State) IsInactive() bool { return strings.HasPrefix(string(s), "INACTIVE") }

// LocationProgramState is the derived activity record of one (site, program)
// pair.
type LocationProgramState struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	SiteID         uuid.UUID  `db:"site_id" json:"site_id"`
	ProgramID      uuid.UUID  `db:"program_id" json:"program_id"`
	TrainingDate   *time.Time `db:"training_date" json:"training_date"`
	LastReportDate *time.Time `db:"last_report_date" json:"last_report_date"`
	CurrentState   State      `db:"current_state" json:"current_state"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

const (
	recentWeeks = 8
	staleWeeks  = 16
)

func weeksBefore(now time.Time, weeks int) time.Time {
	return now.AddDate(0, 0, -7*weeks)
}

func after(t *time.Time, bound time.Time) bool {
	return t != nil && t.After(bound)
}

// ClassifyState derives the state from the creation time of the newest
// report (nil when the pair has none), the training date and the last data
// arrival. Bounds are exclusive.
func ClassifyState(lastCreated, trainingDate, lastReportDate *time.Time, now time.Time) State {
	recent := weeksBefore(now, recentWeeks)
	stale := weeksBefore(now, staleWeeks)

	if lastCreated == nil {
		if trainingDate == nil {
			return Out
		}
		if after(lastReportDate, recent) {
			return ActiveBad
		}
		return InactiveTrained
	}

	switch {
	case lastCreated.After(recent):
		return Active
	case after(lastReportDate, recent):
		return ActiveBad
	case lastCreated.After(stale):
		return InactiveNew
	default:
		return Inactive
	}
}

// UpdateCurrentState recomputes CurrentState. Nothing is persisted; only
// CurrentState changes.
func (s *LocationProgramState) UpdateCurrentState(lastCreated *time.Time, now time.Time) {
	s.CurrentState = ClassifyState(lastCreated, s.TrainingDate, s.LastReportDate, now)
}

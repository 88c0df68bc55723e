package programstate

import (
	"context"

	"github.com/google/uuid"
)

// Health aggregates the states of the sites under a location for one
// program.
type Health struct {
	LocationID uuid.UUID     `json:"location_id"`
	ProgramID  uuid.UUID     `json:"program_id"`
	Counts     map[State]int `json:"counts"`
	Active     int           `json:"active"`
	Inactive   int           `json:"inactive"`
	Reporting  int           `json:"reporting"`
	Sites      int           `json:"sites"`
}

// Health counts states among sites whose path starts with path. sites is
// the total number of sites under the location, reported alongside.
func (e *Engine) Health(ctx context.Context, locationID uuid.UUID, path string, programID uuid.UUID, sites int) (*Health, error) {
	counts, err := e.repo.CountByState(ctx, Filter{ProgramID: programID, Under: path})
	if err != nil {
		return nil, err
	}
	h := &Health{LocationID: locationID, ProgramID: programID, Counts: counts, Sites: sites}
	for state, n := range counts {
		if state.IsActive() {
			h.Active += n
		}
		if state.IsInactive() {
			h.Inactive += n
		}
		if state != Out {
			h.Reporting += n
		}
	}
	return h, nil
}

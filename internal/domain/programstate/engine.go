package programstate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/imam/imam/internal/platform/db"
	"github.com/imam/imam/internal/platform/metrics"
)

// TxFunc runs fn as one unit of work.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

const conflictRetries = 3

// Engine maintains LocationProgramState rows. State is only recomputed when
// one of its methods says so; saving a row never reclassifies it.
type Engine struct {
	repo    Repository
	inTx    TxFunc
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewEngine creates an Engine. inTx and m may be nil.
func NewEngine(repo Repository, inTx TxFunc, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	if inTx == nil {
		inTx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Engine{
		repo:    repo,
		inTx:    inTx,
		metrics: m,
		logger:  logger.With().Str("component", "program-state").Logger(),
		now:     time.Now,
	}
}

func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// UpdateCurrentState reclassifies s from the report history of its pair. The
// caller persists it.
func (e *Engine) UpdateCurrentState(ctx context.Context, s *LocationProgramState) error {
	last, err := e.repo.LastReportCreated(ctx, s.SiteID, s.ProgramID)
	if err != nil {
		return fmt.Errorf("load last report: %w", err)
	}
	s.UpdateCurrentState(last, e.now().UTC())
	return nil
}

// RegisterDataArrival records that data for program arrived from site. The
// first arrival sets the training date; every arrival moves the last report
// date. The row is read and written under one transaction and retried on
// conflict.
func (e *Engine) RegisterDataArrival(ctx context.Context, programID, siteID uuid.UUID) error {
	return db.RetryOnConflict(ctx, conflictRetries, func(ctx context.Context) error {
		return e.inTx(ctx, func(ctx context.Context) error {
			s, _, err := e.repo.GetOrCreate(ctx, siteID, programID)
			if err != nil {
				return err
			}
			now := e.now().UTC()
			if s.TrainingDate == nil {
				s.TrainingDate = &now
			}
			s.LastReportDate = &now
			return e.repo.Save(ctx, s)
		})
	})
}

// ResetAll rebuilds the table from program reports. Rows of pairs without
// reports are deleted; every pair with reports gets its training date set to
// the first report and its last report date to the newest, then is
// reclassified. Each pair is written in its own transaction, so an arrival
// registered while the rebuild runs is overwritten rather than aborting it.
func (e *Engine) ResetAll(ctx context.Context) (int, error) {
	start := time.Now()
	deleted, err := e.repo.DeleteOrphans(ctx)
	if err != nil {
		err = fmt.Errorf("delete states: %w", err)
		e.metrics.RecordStateJob("reset_all", 0, err)
		return 0, err
	}
	pairs, err := e.repo.ReportPairs(ctx)
	if err != nil {
		err = fmt.Errorf("list report pairs: %w", err)
		e.metrics.RecordStateJob("reset_all", 0, err)
		return 0, err
	}

	rebuilt := 0
	for _, p := range pairs {
		p := p
		err := db.RetryOnConflict(ctx, conflictRetries, func(ctx context.Context) error {
			return e.inTx(ctx, func(ctx context.Context) error {
				first, last := p.FirstCreated, p.LastCreated
				s := &LocationProgramState{
					SiteID:         p.SiteID,
					ProgramID:      p.ProgramID,
					TrainingDate:   &first,
					LastReportDate: &last,
				}
				s.UpdateCurrentState(&last, e.now().UTC())
				return e.repo.Upsert(ctx, s)
			})
		})
		if err != nil {
			err = fmt.Errorf("rebuild state for site %s program %s: %w", p.SiteID, p.ProgramID, err)
			e.metrics.RecordStateJob("reset_all", rebuilt, err)
			return rebuilt, err
		}
		rebuilt++
	}

	e.logger.Info().Int64("deleted", deleted).Int("rebuilt", rebuilt).Dur("took", time.Since(start)).Msg("program states reset")
	e.metrics.RecordStateJob("reset_all", rebuilt, nil)
	return rebuilt, nil
}

// UpdateAll reclassifies the row of every pair that has program reports,
// creating missing rows without dates. Rows of pairs without reports are
// left alone. Each row is updated in its own transaction.
func (e *Engine) UpdateAll(ctx context.Context) (int, error) {
	pairs, err := e.repo.ReportPairs(ctx)
	if err != nil {
		err = fmt.Errorf("list report pairs: %w", err)
		e.metrics.RecordStateJob("update_all", 0, err)
		return 0, err
	}

	updated := 0
	for _, p := range pairs {
		p := p
		err := db.RetryOnConflict(ctx, conflictRetries, func(ctx context.Context) error {
			return e.inTx(ctx, func(ctx context.Context) error {
				s, _, err := e.repo.GetOrCreate(ctx, p.SiteID, p.ProgramID)
				if err != nil {
					return err
				}
				if err := e.UpdateCurrentState(ctx, s); err != nil {
					return err
				}
				return e.repo.Save(ctx, s)
			})
		})
		if err != nil {
			err = fmt.Errorf("update state for site %s program %s: %w", p.SiteID, p.ProgramID, err)
			e.metrics.RecordStateJob("update_all", updated, err)
			return updated, err
		}
		updated++
	}

	e.logger.Info().Int("updated", updated).Msg("program states updated")
	e.metrics.RecordStateJob("update_all", updated, nil)
	return updated, nil
}

func (e *Engine) List(ctx context.Context, f Filter, limit, offset int) ([]*LocationProgramState, int, error) {
	return e.repo.List(ctx, f, limit, offset)
}

package programstate

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imam/imam/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type stateRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &stateRepoPG{pool: pool}
}

func (r *stateRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

var stateColumns = []string{
	"s.id", "s.site_id", "s.program_id", "s.training_date", "s.last_report_date",
	"s.current_state", "s.created_at", "s.updated_at",
}

func (r *stateRepoPG) scan(row pgx.Row) (*LocationProgramState, error) {
	var s LocationProgramState
	err := row.Scan(&s.ID, &s.SiteID, &s.ProgramID, &s.TrainingDate, &s.LastReportDate,
		&s.CurrentState, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *stateRepoPG) GetOrCreate(ctx context.Context, siteID, programID uuid.UUID) (*LocationProgramState, bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO location_program_state (id, site_id, program_id, current_state)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (site_id, program_id) DO NOTHING`,
		uuid.New(), siteID, programID, Out)
	if err != nil {
		return nil, false, err
	}

	query, args, err := builder().Select(stateColumns...).From("location_program_state s").
		Where(sq.Eq{"s.site_id": siteID, "s.program_id": programID}).ToSql()
	if err != nil {
		return nil, false, err
	}
	if db.TxFromContext(ctx) != nil {
		query += ` FOR UPDATE`
	}
	s, err := r.scan(r.conn(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		return nil, false, err
	}
	return s, tag.RowsAffected() == 1, nil
}

func (r *stateRepoPG) Upsert(ctx context.Context, s *LocationProgramState) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO location_program_state (id, site_id, program_id, training_date, last_report_date, current_state)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (site_id, program_id) DO UPDATE
		SET training_date = EXCLUDED.training_date,
		    last_report_date = EXCLUDED.last_report_date,
		    current_state = EXCLUDED.current_state,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		uuid.New(), s.SiteID, s.ProgramID, s.TrainingDate, s.LastReportDate, s.CurrentState).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
}

func (r *stateRepoPG) Save(ctx context.Context, s *LocationProgramState) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE location_program_state
		SET training_date=$2, last_report_date=$3, current_state=$4, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		s.ID, s.TrainingDate, s.LastReportDate, s.CurrentState).Scan(&s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *stateRepoPG) DeleteOrphans(ctx context.Context) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM location_program_state s
		WHERE NOT EXISTS (
			SELECT 1 FROM program_report r
			WHERE r.site_id = s.site_id AND r.program_id = s.program_id
		)`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *stateRepoPG) ReportPairs(ctx context.Context) ([]PairStats, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT site_id, program_id, MIN(created), MAX(created)
		FROM program_report
		GROUP BY site_id, program_id
		ORDER BY site_id, program_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PairStats
	for rows.Next() {
		var p PairStats
		if err := rows.Scan(&p.SiteID, &p.ProgramID, &p.FirstCreated, &p.LastCreated); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *stateRepoPG) LastReportCreated(ctx context.Context, siteID, programID uuid.UUID) (*time.Time, error) {
	var last *time.Time
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT MAX(created) FROM program_report WHERE site_id = $1 AND program_id = $2`,
		siteID, programID).Scan(&last)
	return last, err
}

func (r *stateRepoPG) where(f Filter) sq.And {
	where := sq.And{}
	if f.SiteID != uuid.Nil {
		where = append(where, sq.Eq{"s.site_id": f.SiteID})
	}
	if f.ProgramID != uuid.Nil {
		where = append(where, sq.Eq{"s.program_id": f.ProgramID})
	}
	if f.State != "" {
		where = append(where, sq.Eq{"s.current_state": f.State})
	}
	if f.Under != "" {
		where = append(where, sq.Like{"l.path": f.Under + "%"})
	}
	return where
}

func (r *stateRepoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*LocationProgramState, int, error) {
	where := r.where(f)
	countSQL, countArgs, err := builder().Select("COUNT(*)").From("location_program_state s").
		Join("location l ON l.id = s.site_id").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args, err := builder().Select(stateColumns...).From("location_program_state s").
		Join("location l ON l.id = s.site_id").Where(where).
		OrderBy("l.name", "s.program_id").
		Limit(uint64(limit)).Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*LocationProgramState
	for rows.Next() {
		s, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *stateRepoPG) CountByState(ctx context.Context, f Filter) (map[State]int, error) {
	query, args, err := builder().Select("s.current_state", "COUNT(*)").From("location_program_state s").
		Join("location l ON l.id = s.site_id").Where(r.where(f)).
		GroupBy("s.current_state").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[State]int, len(States))
	for rows.Next() {
		var s State
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

package reference

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imam/imam/internal/platform/db"
)

type sourcePG struct{ pool *pgxpool.Pool }

func NewSourcePG(pool *pgxpool.Pool) Source {
	return &sourcePG{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func (s *sourcePG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *sourcePG) Load(ctx context.Context) (*Snapshot, error) {
	q := s.conn(ctx)
	snap := &Snapshot{LoadedAt: time.Now().UTC()}

	var err error
	if snap.Positions, err = collect(ctx, q, `SELECT id, code, COALESCE(alt_code, ''), description, COALESCE(loc_type_code, '') FROM position ORDER BY code`,
		func(row pgx.Row) (*Position, error) {
			var p Position
			return &p, row.Scan(&p.ID, &p.Code, &p.AltCode, &p.Description, &p.LocTypeCode)
		}); err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	if snap.Categories, err = collect(ctx, q, `SELECT id, code, name FROM program_category ORDER BY code`,
		func(row pgx.Row) (*ProgramCategory, error) {
			var c ProgramCategory
			return &c, row.Scan(&c.ID, &c.Code, &c.Name)
		}); err != nil {
		return nil, fmt.Errorf("load program categories: %w", err)
	}
	if snap.Programs, err = collect(ctx, q, `SELECT id, code, name, category_id FROM program ORDER BY code`,
		func(row pgx.Row) (*Program, error) {
			var p Program
			return &p, row.Scan(&p.ID, &p.Code, &p.Name, &p.CategoryID)
		}); err != nil {
		return nil, fmt.Errorf("load programs: %w", err)
	}
	if snap.Groups, err = collect(ctx, q, `SELECT id, code, name FROM patient_group ORDER BY code`,
		func(row pgx.Row) (*PatientGroup, error) {
			var g PatientGroup
			return &g, row.Scan(&g.ID, &g.Code, &g.Name)
		}); err != nil {
		return nil, fmt.Errorf("load patient groups: %w", err)
	}
	if snap.Items, err = collect(ctx, q, `SELECT id, code, alt_codes, name, unit FROM item ORDER BY code`,
		func(row pgx.Row) (*Item, error) {
			var i Item
			return &i, row.Scan(&i.ID, &i.Code, &i.AltCodes, &i.Name, &i.Unit)
		}); err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	return snap, nil
}

func collect[T any](ctx context.Context, q querier, sql string, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

package location

import (
	"context"
	"errors"
	"strings"

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

type locationRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &locationRepoPG{pool: pool}
}

func (r *locationRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const locationCols = `l.id, l.parent_id, l.name, l.hcid, l.type_code, l.path, l.created_at, l.updated_at,
	p.id, p.name, p.hcid, p.type_code, p.path`

const locationFrom = ` FROM location l LEFT JOIN location p ON p.id = l.parent_id`

func (r *locationRepoPG) scanLocation(row pgx.Row) (*Location, error) {
	var l Location
	var parentID *uuid.UUID
	var parentName, parentHCID, parentType, parentPath *string
	err := row.Scan(&l.ID, &l.ParentID, &l.Name, &l.HCID, &l.TypeCode, &l.Path, &l.CreatedAt, &l.UpdatedAt,
		&parentID, &parentName, &parentHCID, &parentType, &parentPath)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if parentID != nil {
		l.Parent = &Location{ID: *parentID, Name: deref(parentName), HCID: deref(parentHCID),
			TypeCode: deref(parentType), Path: deref(parentPath)}
	}
	return &l, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *locationRepoPG) Create(ctx context.Context, l *Location) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	var parent *Location
	if l.ParentID != nil {
		p, err := r.GetByID(ctx, *l.ParentID)
		if err != nil {
			return err
		}
		parent = p
	}
	l.Path = BuildPath(parent, l.ID)
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO location (id, parent_id, name, hcid, type_code, path)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		l.ID, l.ParentID, l.Name, l.HCID, l.TypeCode, l.Path).Scan(&l.CreatedAt, &l.UpdatedAt)
}

func (r *locationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Location, error) {
	return r.scanLocation(r.conn(ctx).QueryRow(ctx, `SELECT `+locationCols+locationFrom+` WHERE l.id = $1`, id))
}

func (r *locationRepoPG) GetByCode(ctx context.Context, code string) (*Location, error) {
	return r.scanLocation(r.conn(ctx).QueryRow(ctx,
		`SELECT `+locationCols+locationFrom+` WHERE upper(l.hcid) = upper($1)`, strings.TrimSpace(code)))
}

// ancestorsQuery selects the ancestors named by l's materialized path by
// primary key, nearest first.
func ancestorsQuery(l *Location, typeCodes []string) (string, []interface{}) {
	query := `SELECT ` + locationCols + locationFrom + `
		WHERE l.id = ANY($1)`
	args := []interface{}{l.AncestorIDs()}
	if len(typeCodes) > 0 {
		query += ` AND l.type_code = ANY($2)`
		args = append(args, typeCodes)
	}
	query += ` ORDER BY length(l.path) DESC`
	return query, args
}

func (r *locationRepoPG) Ancestors(ctx context.Context, l *Location, typeCodes ...string) ([]*Location, error) {
	if len(l.AncestorIDs()) == 0 {
		return nil, nil
	}
	query, args := ancestorsQuery(l, typeCodes)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Location
	for rows.Next() {
		loc, err := r.scanLocation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, loc)
	}
	return items, rows.Err()
}

func (r *locationRepoPG) Descendants(ctx context.Context, l *Location, typeCode string, limit, offset int) ([]*Location, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM location l
		WHERE l.path LIKE $1 || '%' AND l.id <> $2 AND l.type_code = $3`,
		l.Path, l.ID, typeCode).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `SELECT `+locationCols+locationFrom+`
		WHERE l.path LIKE $1 || '%' AND l.id <> $2 AND l.type_code = $3
		ORDER BY l.name LIMIT $4 OFFSET $5`,
		l.Path, l.ID, typeCode, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Location
	for rows.Next() {
		loc, err := r.scanLocation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, loc)
	}
	return items, total, rows.Err()
}

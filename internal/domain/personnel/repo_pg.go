package personnel

import (
	"context"
	"errors"

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

type personnelRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &personnelRepoPG{pool: pool}
}

func (r *personnelRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const personnelCols = `p.id, p.contact_id, p.name, p.site_id, p.position_id, COALESCE(p.email, ''), p.mobile,
	p.created_at, p.updated_at`

func (r *personnelRepoPG) scan(row pgx.Row) (*Personnel, error) {
	var p Personnel
	err := row.Scan(&p.ID, &p.ContactID, &p.Name, &p.SiteID, &p.PositionID, &p.Email, &p.Mobile,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *personnelRepoPG) GetByIdentity(ctx context.Context, identity string) (*Personnel, error) {
	query := `SELECT ` + personnelCols + ` FROM personnel p
		JOIN contact c ON c.id = p.contact_id
		WHERE c.identity = $1`
	if db.TxFromContext(ctx) != nil {
		query += ` FOR UPDATE OF p`
	}
	return r.scan(r.conn(ctx).QueryRow(ctx, query, identity))
}

func (r *personnelRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Personnel, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+personnelCols+` FROM personnel p WHERE p.id = $1`, id))
}

func (r *personnelRepoPG) Create(ctx context.Context, c *Contact, p *Personnel) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		c.ID = uuid.New()
		if err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO contact (id, name, identity) VALUES ($1,$2,$3)
			RETURNING created_at`,
			c.ID, c.Name, c.Identity).Scan(&c.CreatedAt); err != nil {
			return err
		}
		p.ID = uuid.New()
		p.ContactID = c.ID
		return r.conn(ctx).QueryRow(ctx, `
			INSERT INTO personnel (id, contact_id, name, site_id, position_id, email, mobile)
			VALUES ($1,$2,$3,$4,$5,NULLIF($6, ''),$7)
			RETURNING created_at, updated_at`,
			p.ID, p.ContactID, p.Name, p.SiteID, p.PositionID, p.Email, p.Mobile).Scan(&p.CreatedAt, &p.UpdatedAt)
	})
}

func (r *personnelRepoPG) Update(ctx context.Context, p *Personnel) error {
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE personnel SET name=$2, site_id=$3, position_id=$4, email=NULLIF($5, ''), updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.Name, p.SiteID, p.PositionID, p.Email).Scan(&p.UpdatedAt)
}

func (r *personnelRepoPG) MobilesAt(ctx context.Context, locationIDs []uuid.UUID) ([]string, error) {
	if len(locationIDs) == 0 {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT mobile FROM personnel
		WHERE site_id = ANY($1) AND mobile <> ''
		ORDER BY mobile`, locationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *personnelRepoPG) ListBySite(ctx context.Context, siteID uuid.UUID, limit, offset int) ([]*Personnel, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM personnel WHERE site_id = $1`, siteID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+personnelCols+` FROM personnel p
		WHERE p.site_id = $1 ORDER BY p.name LIMIT $2 OFFSET $3`, siteID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Personnel
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

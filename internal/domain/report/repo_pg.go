package report

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

func connFor(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

func builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// -- Program reports --

type programReportRepoPG struct{ pool *pgxpool.Pool }

func NewProgramReportRepoPG(pool *pgxpool.Pool) ProgramReportRepository {
	return &programReportRepoPG{pool: pool}
}

func (r *programReportRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

var programReportColumns = []string{
	"id", "site_id", "reporter_id", "created", "modified",
	"period_number", "report_date", "group_id", "program_id", "patients_at_period_start",
	"new_marasmic_patients", "new_oedema_patients", "new_relapsed_patients", "hiv_positive_patients",
	"readmitted_patients", "patients_transferred_in", "patients_transferred_out", "patient_deaths",
	"confirmed_patient_defaults", "unconfirmed_patient_defaults", "unresponsive_patients", "patients_cured",
	"patients_at_period_end",
}

const programReportCols = `id, site_id, reporter_id, created, modified,
	period_number, report_date, group_id, program_id, patients_at_period_start,
	new_marasmic_patients, new_oedema_patients, new_relapsed_patients, hiv_positive_patients,
	readmitted_patients, patients_transferred_in, patients_transferred_out, patient_deaths,
	confirmed_patient_defaults, unconfirmed_patient_defaults, unresponsive_patients, patients_cured,
	patients_at_period_end`

const newestFirst = `ORDER BY report_date DESC, created DESC`

func (r *programReportRepoPG) scan(row pgx.Row) (*ProgramReport, error) {
	var p ProgramReport
	c := &p.Counts
	err := row.Scan(&p.ID, &p.SiteID, &p.ReporterID, &p.Created, &p.Modified,
		&p.PeriodNumber, &p.ReportDate, &p.GroupID, &p.ProgramID, &p.PatientsAtPeriodStart,
		&c.NewMarasmic, &c.NewOedema, &c.NewRelapsed, &c.HIVPositive,
		&c.Readmitted, &c.TransferredIn, &c.TransferredOut, &c.Deaths,
		&c.ConfirmedDefaults, &c.UnconfirmedDefaults, &c.Unresponsive, &c.Cured,
		&p.PatientsAtPeriodEnd)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *programReportRepoPG) scanAll(rows pgx.Rows) ([]*ProgramReport, error) {
	defer rows.Close()
	var out []*ProgramReport
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *programReportRepoPG) Create(ctx context.Context, p *ProgramReport) error {
	p.ID = uuid.New()
	c := p.Counts
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO program_report (id, site_id, reporter_id, period_number, report_date, group_id, program_id,
			patients_at_period_start, new_marasmic_patients, new_oedema_patients, new_relapsed_patients,
			hiv_positive_patients, readmitted_patients, patients_transferred_in, patients_transferred_out,
			patient_deaths, confirmed_patient_defaults, unconfirmed_patient_defaults, unresponsive_patients,
			patients_cured, patients_at_period_end)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING created, modified`,
		p.ID, p.SiteID, p.ReporterID, p.PeriodNumber, p.ReportDate, p.GroupID, p.ProgramID,
		p.PatientsAtPeriodStart, c.NewMarasmic, c.NewOedema, c.NewRelapsed,
		c.HIVPositive, c.Readmitted, c.TransferredIn, c.TransferredOut,
		c.Deaths, c.ConfirmedDefaults, c.UnconfirmedDefaults, c.Unresponsive,
		c.Cured, p.PatientsAtPeriodEnd).Scan(&p.Created, &p.Modified)
}

func (r *programReportRepoPG) Update(ctx context.Context, p *ProgramReport) error {
	c := p.Counts
	return r.conn(ctx).QueryRow(ctx, `
		UPDATE program_report SET reporter_id=$2, report_date=$3, patients_at_period_start=$4,
			new_marasmic_patients=$5, new_oedema_patients=$6, new_relapsed_patients=$7,
			hiv_positive_patients=$8, readmitted_patients=$9, patients_transferred_in=$10,
			patients_transferred_out=$11, patient_deaths=$12, confirmed_patient_defaults=$13,
			unconfirmed_patient_defaults=$14, unresponsive_patients=$15, patients_cured=$16,
			patients_at_period_end=$17, modified=NOW()
		WHERE id = $1
		RETURNING modified`,
		p.ID, p.ReporterID, p.ReportDate, p.PatientsAtPeriodStart,
		c.NewMarasmic, c.NewOedema, c.NewRelapsed,
		c.HIVPositive, c.Readmitted, c.TransferredIn,
		c.TransferredOut, c.Deaths, c.ConfirmedDefaults,
		c.UnconfirmedDefaults, c.Unresponsive, c.Cured,
		p.PatientsAtPeriodEnd).Scan(&p.Modified)
}

func (r *programReportRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ProgramReport, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+programReportCols+` FROM program_report WHERE id = $1`, id))
}

func (r *programReportRepoPG) ForPeriod(ctx context.Context, k Key, period int) (*ProgramReport, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+programReportCols+` FROM program_report
		WHERE site_id = $1 AND program_id = $2 AND group_id = $3 AND period_number = $4
		`+newestFirst+` LIMIT 1`, k.SiteID, k.ProgramID, k.GroupID, period))
}

func (r *programReportRepoPG) Latest(ctx context.Context, k Key) (*ProgramReport, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+programReportCols+` FROM program_report
		WHERE site_id = $1 AND program_id = $2 AND group_id = $3
		ORDER BY created DESC LIMIT 1`, k.SiteID, k.ProgramID, k.GroupID))
}

func (r *programReportRepoPG) Prior(ctx context.Context, k Key, before time.Time, exclude uuid.UUID) (*ProgramReport, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+programReportCols+` FROM program_report
		WHERE site_id = $1 AND program_id = $2 AND group_id = $3 AND report_date < $4 AND id <> $5
		`+newestFirst+` LIMIT 1`, k.SiteID, k.ProgramID, k.GroupID, before, exclude))
}

func (r *programReportRepoPG) History(ctx context.Context, k Key, offset, limit int) ([]*ProgramReport, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+programReportCols+` FROM program_report
		WHERE site_id = $1 AND program_id = $2 AND group_id = $3
		`+newestFirst+` LIMIT $4 OFFSET $5`, k.SiteID, k.ProgramID, k.GroupID, limit, offset)
	if err != nil {
		return nil, err
	}
	return r.scanAll(rows)
}

func (r *programReportRepoPG) Search(ctx context.Context, p SearchParams, limit, offset int) ([]*ProgramReport, int, error) {
	where := sq.And{}
	if p.SiteID != uuid.Nil {
		where = append(where, sq.Eq{"site_id": p.SiteID})
	}
	if p.ProgramID != uuid.Nil {
		where = append(where, sq.Eq{"program_id": p.ProgramID})
	}
	if p.GroupID != uuid.Nil {
		where = append(where, sq.Eq{"group_id": p.GroupID})
	}
	if p.Period > 0 {
		where = append(where, sq.Eq{"period_number": p.Period})
	}
	if !p.From.IsZero() {
		where = append(where, sq.GtOrEq{"report_date": p.From})
	}
	if !p.To.IsZero() {
		where = append(where, sq.LtOrEq{"report_date": p.To})
	}
	if p.SMSOnly {
		where = append(where, sq.NotEq{"reporter_id": nil})
	}

	countSQL, countArgs, err := builder().Select("COUNT(*)").From("program_report").Where(where).ToSql()
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query, args, err := builder().Select(programReportColumns...).From("program_report").Where(where).
		OrderBy("report_date DESC", "created DESC").
		Limit(uint64(limit)).Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.scanAll(rows)
	return items, total, err
}

func (r *programReportRepoPG) RecordVersion(ctx context.Context, v *Version) error {
	v.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO program_report_version (id, report_id, reporter_id, comment, snapshot)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		v.ID, v.ReportID, v.ReporterID, v.Comment, v.Snapshot).Scan(&v.CreatedAt)
}

func (r *programReportRepoPG) Versions(ctx context.Context, reportID uuid.UUID) ([]*Version, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, report_id, reporter_id, comment, snapshot, created_at
		FROM program_report_version WHERE report_id = $1 ORDER BY created_at DESC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Version
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.ID, &v.ReportID, &v.ReporterID, &v.Comment, &v.Snapshot, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// -- Stock --

type stockRepoPG struct{ pool *pgxpool.Pool }

func NewStockRepoPG(pool *pgxpool.Pool) StockRepository {
	return &stockRepoPG{pool: pool}
}

func (r *stockRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *stockRepoPG) CreateStockReport(ctx context.Context, s *StockReport) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		s.ID = uuid.New()
		if err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO stock_report (id, site_id, reporter_id) VALUES ($1,$2,$3)
			RETURNING created, modified`,
			s.ID, s.SiteID, s.ReporterID).Scan(&s.Created, &s.Modified); err != nil {
			return err
		}
		for _, l := range s.Logs {
			l.ID = uuid.New()
			if err := r.conn(ctx).QueryRow(ctx, `
				INSERT INTO inventory_log (id, stock_report_id, item_id, last_quantity_received, current_holding)
				VALUES ($1,$2,$3,$4,$5)
				RETURNING created`,
				l.ID, s.ID, l.ItemID, l.LastQuantityReceived, l.CurrentHolding).Scan(&l.Created); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *stockRepoPG) LatestStockReport(ctx context.Context, siteID uuid.UUID) (*StockReport, error) {
	var s StockReport
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, site_id, reporter_id, created, modified FROM stock_report
		WHERE site_id = $1 ORDER BY created DESC LIMIT 1`, siteID).
		Scan(&s.ID, &s.SiteID, &s.ReporterID, &s.Created, &s.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT l.id, l.item_id, i.code, l.last_quantity_received, l.current_holding, l.created
		FROM inventory_log l JOIN item i ON i.id = l.item_id
		WHERE l.stock_report_id = $1 ORDER BY l.created, i.code`, s.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l InventoryLog
		if err := rows.Scan(&l.ID, &l.ItemID, &l.ItemCode, &l.LastQuantityReceived, &l.CurrentHolding, &l.Created); err != nil {
			return nil, err
		}
		s.Logs = append(s.Logs, &l)
	}
	return &s, rows.Err()
}

func (r *stockRepoPG) stockOutItems(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT item_id FROM stock_out_report_item WHERE stock_out_report_id = $1 ORDER BY item_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *stockRepoPG) StockOutForSite(ctx context.Context, siteID uuid.UUID) (*StockOutReport, error) {
	query := `SELECT id, site_id, reporter_id, created, modified FROM stock_out_report WHERE site_id = $1`
	if db.TxFromContext(ctx) != nil {
		query += ` FOR UPDATE`
	}
	var s StockOutReport
	err := r.conn(ctx).QueryRow(ctx, query, siteID).Scan(&s.ID, &s.SiteID, &s.ReporterID, &s.Created, &s.Modified)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if s.ItemIDs, err = r.stockOutItems(ctx, s.ID); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *stockRepoPG) SaveStockOut(ctx context.Context, s *StockOutReport) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		// A concurrent insert for the same site wins the row; adopt its id.
		if err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO stock_out_report (id, site_id, reporter_id) VALUES ($1,$2,$3)
			ON CONFLICT (site_id) DO UPDATE SET reporter_id = EXCLUDED.reporter_id, modified = NOW()
			RETURNING id, created, modified`,
			s.ID, s.SiteID, s.ReporterID).Scan(&s.ID, &s.Created, &s.Modified); err != nil {
			return err
		}
		if _, err := r.conn(ctx).Exec(ctx, `
			DELETE FROM stock_out_report_item WHERE stock_out_report_id = $1 AND NOT (item_id = ANY($2))`,
			s.ID, s.ItemIDs); err != nil {
			return err
		}
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO stock_out_report_item (stock_out_report_id, item_id)
			SELECT $1, unnest($2::uuid[])
			ON CONFLICT DO NOTHING`, s.ID, s.ItemIDs)
		return err
	})
}

func (r *stockRepoPG) DeleteStockOut(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM stock_out_report WHERE id = $1`, id)
	return err
}

func (r *stockRepoPG) ListStockOuts(ctx context.Context) ([]*StockOutReport, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, site_id, reporter_id, created, modified FROM stock_out_report ORDER BY modified`)
	if err != nil {
		return nil, err
	}
	var out []*StockOutReport
	for rows.Next() {
		var s StockOutReport
		if err := rows.Scan(&s.ID, &s.SiteID, &s.ReporterID, &s.Created, &s.Modified); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, &s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, s := range out {
		if s.ItemIDs, err = r.stockOutItems(ctx, s.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *stockRepoPG) UpsertLowStockAlert(ctx context.Context, a *LowStockAlert) (bool, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	var inserted bool
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO low_stock_alert (id, site_id, item_id, created) VALUES ($1,$2,$3,$4)
		ON CONFLICT (site_id, item_id) DO UPDATE SET created = EXCLUDED.created, modified = NOW()
		RETURNING id, created, modified, (xmax = 0)`,
		a.ID, a.SiteID, a.ItemID, a.Created).Scan(&a.ID, &a.Created, &a.Modified, &inserted)
	return inserted, err
}

func (r *stockRepoPG) DeleteLowStockAlerts(ctx context.Context, siteID uuid.UUID, itemIDs []uuid.UUID) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM low_stock_alert WHERE site_id = $1 AND item_id = ANY($2)`, siteID, itemIDs)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *stockRepoPG) ListLowStockAlerts(ctx context.Context) ([]*LowStockAlert, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, site_id, item_id, created, modified FROM low_stock_alert ORDER BY modified`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*LowStockAlert
	for rows.Next() {
		var a LowStockAlert
		if err := rows.Scan(&a.ID, &a.SiteID, &a.ItemID, &a.Created, &a.Modified); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

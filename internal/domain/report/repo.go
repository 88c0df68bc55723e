package report

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Key identifies a program report series.
type Key struct {
	SiteID    uuid.UUID
	ProgramID uuid.UUID
	GroupID   uuid.UUID
}

// SearchParams filters program reports for the dashboard listing. Zero
// values are ignored.
type SearchParams struct {
	SiteID    uuid.UUID
	ProgramID uuid.UUID
	GroupID   uuid.UUID
	Period    int
	From      time.Time
	To        time.Time
	SMSOnly   bool
}

// ProgramReportRepository persists program reports. Lists are ordered
// newest report_date first, then newest created.
type ProgramReportRepository interface {
	Create(ctx context.Context, r *ProgramReport) error
	Update(ctx context.Context, r *ProgramReport) error
	GetByID(ctx context.Context, id uuid.UUID) (*ProgramReport, error)
	// ForPeriod returns the newest report of the series for a period number.
	ForPeriod(ctx context.Context, k Key, period int) (*ProgramReport, error)
	// Latest returns the most recently created report of the series.
	Latest(ctx context.Context, k Key) (*ProgramReport, error)
	// Prior returns the newest report of the series dated before `before`,
	// skipping exclude.
	Prior(ctx context.Context, k Key, before time.Time, exclude uuid.UUID) (*ProgramReport, error)
	// History returns up to limit reports of the series after skipping offset.
	History(ctx context.Context, k Key, offset, limit int) ([]*ProgramReport, error)
	Search(ctx context.Context, p SearchParams, limit, offset int) ([]*ProgramReport, int, error)
	RecordVersion(ctx context.Context, v *Version) error
	Versions(ctx context.Context, reportID uuid.UUID) ([]*Version, error)
}

// StockRepository persists stock reports, stock-outs and low-stock alerts.
type StockRepository interface {
	CreateStockReport(ctx context.Context, r *StockReport) error
	LatestStockReport(ctx context.Context, siteID uuid.UUID) (*StockReport, error)

	// StockOutForSite returns the open stock-out of a site, locking it when
	// called inside a transaction.
	StockOutForSite(ctx context.Context, siteID uuid.UUID) (*StockOutReport, error)
	// SaveStockOut inserts or updates the site's stock-out and replaces its
	// items. Concurrent inserts for one site collapse into one row.
	SaveStockOut(ctx context.Context, s *StockOutReport) error
	DeleteStockOut(ctx context.Context, id uuid.UUID) error
	ListStockOuts(ctx context.Context) ([]*StockOutReport, error)

	// UpsertLowStockAlert creates the (site, item) alert or moves its
	// created time forward, reporting whether a row was inserted.
	UpsertLowStockAlert(ctx context.Context, a *LowStockAlert) (bool, error)
	DeleteLowStockAlerts(ctx context.Context, siteID uuid.UUID, itemIDs []uuid.UUID) (int64, error)
	ListLowStockAlerts(ctx context.Context) ([]*LowStockAlert, error)
}

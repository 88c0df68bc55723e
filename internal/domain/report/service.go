package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/imam/imam/internal/domain/location"
	"github.com/imam/imam/internal/domain/personnel"
	"github.com/imam/imam/internal/domain/reference"
	"github.com/imam/imam/internal/platform/notification"
)

// Notifier hands an alert off for delivery.
type Notifier interface {
	Notify(ctx context.Context, templateID string, data map[string]string, recipients []string) (*notification.Outbound, error)
}

// RecipientResolver returns the mobiles to alert about a site.
type RecipientResolver interface {
	Recipients(ctx context.Context, site *location.Location) ([]string, error)
	// RecipientsForSites resolves many sites at once. Sites that could not
	// be resolved are missing from the map and reported in the error.
	RecipientsForSites(ctx context.Context, sites []*location.Location) (map[uuid.UUID][]string, error)
}

// ArrivalRecorder is told when a program report arrives for a site.
type ArrivalRecorder interface {
	RegisterDataArrival(ctx context.Context, programID, siteID uuid.UUID) error
}

// TxFunc runs fn as one unit of work.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

const (
	versionComment = "Updated via SMS"
	alertDate      = "02/01/06"
)

// Policy holds the tunable business rules.
type Policy struct {
	// StaleDays is how old, in days, a period report may be and still match.
	StaleDays      int
	ExcludedGroups []string

	LowStockItem             string
	LowStockMultiplier       decimal.Decimal
	LowStockHistory          int
	LowStockExcludedGroups   []string
	LowStockExcludedPrograms []string

	Location *time.Location
}

func DefaultPolicy() Policy {
	return Policy{
		StaleDays:                31,
		ExcludedGroups:           []string{"05"},
		LowStockItem:             "RUTF",
		LowStockMultiplier:       decimal.NewFromFloat(1.5),
		LowStockHistory:          4,
		LowStockExcludedGroups:   []string{"05"},
		LowStockExcludedPrograms: []string{"SFP"},
		Location:                 time.UTC,
	}
}

type Deps struct {
	Reports    ProgramReportRepository
	Stock      StockRepository
	Locations  location.Repository
	Reference  *reference.Registry
	Recipients RecipientResolver
	Notifier   Notifier
	// Arrivals and InTx are optional.
	Arrivals ArrivalRecorder
	InTx     TxFunc
	Policy   Policy
	Logger   zerolog.Logger
}

type Service struct {
	reports    ProgramReportRepository
	stock      StockRepository
	locations  location.Repository
	refs       *reference.Registry
	recipients RecipientResolver
	notifier   Notifier
	arrivals   ArrivalRecorder
	inTx       TxFunc
	policy     Policy
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(d Deps) *Service {
	inTx := d.InTx
	if inTx == nil {
		inTx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	if d.Policy.Location == nil {
		d.Policy.Location = time.UTC
	}
	return &Service{
		reports:    d.Reports,
		stock:      d.Stock,
		locations:  d.Locations,
		refs:       d.Reference,
		recipients: d.Recipients,
		notifier:   d.Notifier,
		arrivals:   d.Arrivals,
		inTx:       inTx,
		policy:     d.Policy,
		logger:     d.Logger.With().Str("component", "report").Logger(),
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }


func (s *Service) today() time.Time {
	t := s.now().In(s.policy.Location)
	return date(t.Year(), t.Month(), t.Day())
}

func (s *Service) stale(r *ProgramReport) bool {
	rd := r.ReportDate
	days := int(s.today().Sub(date(rd.Year(), rd.Month(), rd.Day())).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days >= s.policy.StaleDays
}

// GroupAllowed reports whether program reports may be filed for group.
func (s *Service) GroupAllowed(g *reference.PatientGroup) bool {
	return !containsFold(s.policy.ExcludedGroups, g.Code)
}

// FindForPeriod returns the report of a series for a period, or nil when
// there is none or the newest one is stale.
func (s *Service) FindForPeriod(ctx context.Context, k Key, period int) (*ProgramReport, error) {
	r, err := s.reports.ForPeriod(ctx, k, period)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.stale(r) {
		return nil, nil
	}
	return r, nil
}

// Latest returns the most recently created report of a series, or nil.
func (s *Service) Latest(ctx context.Context, k Key) (*ProgramReport, error) {
	r, err := s.reports.Latest(ctx, k)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return r, err
}

// Submission is a validated program report from a worker.
type Submission struct {
	Site     *location.Location
	Program  *reference.Program
	Group    *reference.PatientGroup
	Period   int
	Reporter *personnel.Personnel
	Counts   Counts
}

// SubmitProgramReport finds or creates the report for the submission's
// period, overwrites its counters, seeds the opening balance from the prior
// report and records an audit version, all in one transaction.
func (s *Service) SubmitProgramReport(ctx context.Context, sub Submission) (*ProgramReport, error) {
	if !s.GroupAllowed(sub.Group) {
		return nil, ErrGroupNotAllowed
	}
	if sub.Period < 1 || sub.Period > 52 {
		return nil, fmt.Errorf("period %d out of range", sub.Period)
	}
	k := Key{SiteID: sub.Site.ID, ProgramID: sub.Program.ID, GroupID: sub.Group.ID}
	var reporterID *uuid.UUID
	if sub.Reporter != nil {
		id := sub.Reporter.ID
		reporterID = &id
	}

	var saved *ProgramReport
	err := s.inTx(ctx, func(ctx context.Context) error {
		r, err := s.FindForPeriod(ctx, k, sub.Period)
		if err != nil {
			return fmt.Errorf("find report: %w", err)
		}
		if r == nil {
			r = &ProgramReport{
				Base:         Base{SiteID: k.SiteID},
				PeriodNumber: sub.Period,
				ReportDate:   PeriodEnds(sub.Period, s.today()),
				GroupID:      k.GroupID,
				ProgramID:    k.ProgramID,
			}
		}
		r.ReporterID = reporterID
		r.Counts = sub.Counts

		prior, err := s.reports.Prior(ctx, k, r.ReportDate, r.ID)
		switch {
		case err == nil:
			r.PatientsAtPeriodStart = prior.PatientsAtPeriodEnd
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("find prior report: %w", err)
		}
		r.Recompute()

		if r.ID == uuid.Nil {
			err = s.reports.Create(ctx, r)
		} else {
			err = s.reports.Update(ctx, r)
		}
		if err != nil {
			return fmt.Errorf("save report: %w", err)
		}

		snapshot, err := sonic.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode report snapshot: %w", err)
		}
		if err := s.reports.RecordVersion(ctx, &Version{
			ReportID:   r.ID,
			ReporterID: reporterID,
			Comment:    versionComment,
			Snapshot:   snapshot,
		}); err != nil {
			return fmt.Errorf("record version: %w", err)
		}
		saved = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.arrivals != nil {
		if err := s.arrivals.RegisterDataArrival(ctx, k.ProgramID, k.SiteID); err != nil {
			s.logger.Error().Err(err).Str("site", sub.Site.HCID).Str("program", sub.Program.Code).Msg("register data arrival")
		}
	}
	return saved, nil
}

func (s *Service) GetProgramReport(ctx context.Context, id uuid.UUID) (*ProgramReport, error) {
	return s.reports.GetByID(ctx, id)
}

func (s *Service) Versions(ctx context.Context, id uuid.UUID) ([]*Version, error) {
	return s.reports.Versions(ctx, id)
}

func (s *Service) Search(ctx context.Context, p SearchParams, limit, offset int) ([]*ProgramReport, int, error) {
	return s.reports.Search(ctx, p, limit, offset)
}

// -- Stock --

// StockEntry is one item line of an inbound stock report.
type StockEntry struct {
	Item         *reference.Item
	LastReceived int
	CurrentStock int
}

// LatestStockReport returns the site's newest stock report, or nil.
func (s *Service) LatestStockReport(ctx context.Context, siteID uuid.UUID) (*StockReport, error) {
	r, err := s.stock.LatestStockReport(ctx, siteID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return r, err
}

// SubmitStockReport records the inventory logs, clears stocked items from
// the site's stock-out, adds exhausted items to it and finally re-evaluates
// the low-stock alert.
func (s *Service) SubmitStockReport(ctx context.Context, site *location.Location, reporter *personnel.Personnel, entries []StockEntry) (*StockReport, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("stock report has no entries")
	}
	report := &StockReport{Base: Base{SiteID: site.ID}}
	if reporter != nil {
		id := reporter.ID
		report.ReporterID = &id
	}

	var stocked, exhausted []uuid.UUID
	for _, e := range entries {
		report.Logs = append(report.Logs, &InventoryLog{
			ItemID:               e.Item.ID,
			ItemCode:             e.Item.Code,
			LastQuantityReceived: e.LastReceived,
			CurrentHolding:       e.CurrentStock,
		})
		if e.CurrentStock <= 0 {
			exhausted = appendUnique(exhausted, e.Item.ID)
		}
	}
	for _, e := range entries {
		if !containsID(exhausted, e.Item.ID) {
			stocked = appendUnique(stocked, e.Item.ID)
		}
	}

	var stockOut *StockOutReport
	err := s.inTx(ctx, func(ctx context.Context) error {
		current, err := s.stock.StockOutForSite(ctx, site.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("load stock-out: %w", err)
		}
		if current != nil && current.Remove(stocked...) {
			if len(current.ItemIDs) == 0 && len(exhausted) == 0 {
				if err := s.stock.DeleteStockOut(ctx, current.ID); err != nil {
					return fmt.Errorf("clear stock-out: %w", err)
				}
				current = nil
			} else if len(exhausted) == 0 {
				if err := s.stock.SaveStockOut(ctx, current); err != nil {
					return fmt.Errorf("update stock-out: %w", err)
				}
			}
		}

		if err := s.stock.CreateStockReport(ctx, report); err != nil {
			return fmt.Errorf("save stock report: %w", err)
		}

		if len(exhausted) > 0 {
			stockOut, err = s.recordStockOut(ctx, site.ID, report.ReporterID, current, exhausted)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if stockOut != nil {
		s.notifyStockOut(ctx, site, stockOut)
	}
	alerts, err := s.CheckLowStock(ctx, site, report)
	if err != nil {
		s.logger.Error().Err(err).Str("site", site.HCID).Msg("check low stock")
	}
	for _, a := range alerts {
		s.notifyLowStock(ctx, site, a)
	}
	return report, nil
}

// recordStockOut adds items to the site's stock-out, creating it if needed,
// and clears low-stock alerts the stock-out supersedes.
func (s *Service) recordStockOut(ctx context.Context, siteID uuid.UUID, reporterID *uuid.UUID, current *StockOutReport, items []uuid.UUID) (*StockOutReport, error) {
	if _, err := s.stock.DeleteLowStockAlerts(ctx, siteID, items); err != nil {
		return nil, fmt.Errorf("clear low stock alerts: %w", err)
	}
	if current == nil {
		var err error
		current, err = s.stock.StockOutForSite(ctx, siteID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("load stock-out: %w", err)
		}
		if current == nil {
			current = &StockOutReport{Base: Base{SiteID: siteID}}
		}
	}
	current.ReporterID = reporterID
	current.Add(items...)
	if err := s.stock.SaveStockOut(ctx, current); err != nil {
		return nil, fmt.Errorf("save stock-out: %w", err)
	}
	return current, nil
}

// CreateStockOut records a stock-out of items at site and notifies the
// site's supervisors.
func (s *Service) CreateStockOut(ctx context.Context, site *location.Location, reporter *personnel.Personnel, items []*reference.Item) (*StockOutReport, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("stock-out has no items")
	}
	var reporterID *uuid.UUID
	if reporter != nil {
		id := reporter.ID
		reporterID = &id
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		ids = appendUnique(ids, it.ID)
	}

	var so *StockOutReport
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		so, err = s.recordStockOut(ctx, site.ID, reporterID, nil, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.notifyStockOut(ctx, site, so)
	return so, nil
}

// ItemCodes returns the sorted item codes of a stock-out.
func (s *Service) ItemCodes(so *StockOutReport) []string {
	codes := make([]string, 0, len(so.ItemIDs))
	for _, id := range so.ItemIDs {
		if it := s.refs.ItemByID(id); it != nil {
			codes = append(codes, it.Code)
		}
	}
	return sortedCodes(codes)
}

// MinimumStock is the low-stock threshold of a site: for every counted
// (program, group) series, the mean admissions of the reports before the
// latest one, times the policy multiplier, summed.
func (s *Service) MinimumStock(ctx context.Context, siteID uuid.UUID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range s.refs.Programs() {
		if containsFold(s.policy.LowStockExcludedPrograms, p.Code) {
			continue
		}
		for _, g := range s.refs.Groups() {
			if containsFold(s.policy.LowStockExcludedGroups, g.Code) {
				continue
			}
			history, err := s.reports.History(ctx, Key{SiteID: siteID, ProgramID: p.ID, GroupID: g.ID}, 1, s.policy.LowStockHistory)
			if err != nil {
				return decimal.Zero, fmt.Errorf("load history for %s/%s: %w", p.Code, g.Code, err)
			}
			if len(history) == 0 {
				continue
			}
			sum := decimal.Zero
			for _, r := range history {
				sum = sum.Add(decimal.NewFromInt(int64(r.Admissions())))
			}
			mean := sum.Div(decimal.NewFromInt(int64(len(history)))).Abs()
			total = total.Add(mean.Mul(s.policy.LowStockMultiplier))
		}
	}
	return total, nil
}

// CheckLowStock raises or clears the low-stock alert for the tracked item
// from a stock report. It returns alerts that were newly raised.
func (s *Service) CheckLowStock(ctx context.Context, site *location.Location, report *StockReport) ([]*LowStockAlert, error) {
	item := s.refs.Item(s.policy.LowStockItem)
	if item == nil {
		return nil, nil
	}

	var raised []*LowStockAlert
	err := s.inTx(ctx, func(ctx context.Context) error {
		for _, l := range report.Logs {
			if l.ItemID != item.ID {
				continue
			}
			minimum, err := s.MinimumStock(ctx, site.ID)
			if err != nil {
				return err
			}
			holding := decimal.NewFromInt(int64(l.CurrentHolding))

			if holding.LessThanOrEqual(minimum) && minimum.IsPositive() {
				so, err := s.stock.StockOutForSite(ctx, site.ID)
				if err != nil && !errors.Is(err, ErrNotFound) {
					return fmt.Errorf("load stock-out: %w", err)
				}
				if so != nil && so.HasItem(item.ID) {
					continue
				}
				alert := &LowStockAlert{SiteID: site.ID, ItemID: item.ID, Created: report.Created}
				inserted, err := s.stock.UpsertLowStockAlert(ctx, alert)
				if err != nil {
					return fmt.Errorf("save low stock alert: %w", err)
				}
				if inserted {
					raised = append(raised, alert)
				}
			} else if holding.GreaterThanOrEqual(minimum) {
				if _, err := s.stock.DeleteLowStockAlerts(ctx, site.ID, []uuid.UUID{item.ID}); err != nil {
					return fmt.Errorf("clear low stock alert: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raised, nil
}

func (s *Service) ListStockOuts(ctx context.Context) ([]*StockOutReport, error) {
	return s.stock.ListStockOuts(ctx)
}

func (s *Service) ListLowStockAlerts(ctx context.Context) ([]*LowStockAlert, error) {
	return s.stock.ListLowStockAlerts(ctx)
}

func containsFold(list []string, v string) bool {
	for _, x := range list {
		if strings.EqualFold(strings.TrimSpace(x), strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	if containsID(ids, id) {
		return ids
	}
	return append(ids, id)
}

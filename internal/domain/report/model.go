package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("report not found")
	ErrGroupNotAllowed = errors.New("reports are not accepted for this patient group")
)

// Base carries the fields every report kind shares. A nil ReporterID means
// the report was imported rather than submitted by SMS.
type Base struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	SiteID     uuid.UUID  `db:"site_id" json:"site_id"`
	ReporterID *uuid.UUID `db:"reporter_id" json:"reporter_id,omitempty"`
	Created    time.Time  `db:"created" json:"created"`
	Modified   time.Time  `db:"modified" json:"modified"`
}

// Counts are the patient-flow counters of a program report. Nil means the
// value was not sent or was sent as "x".
type Counts struct {
	NewMarasmic         *int `db:"new_marasmic_patients" json:"new_marasmic_patients"`
	NewOedema           *int `db:"new_oedema_patients" json:"new_oedema_patients"`
	NewRelapsed         *int `db:"new_relapsed_patients" json:"new_relapsed_patients"`
	HIVPositive         *int `db:"hiv_positive_patients" json:"hiv_positive_patients"`
	Readmitted          *int `db:"readmitted_patients" json:"readmitted_patients"`
	TransferredIn       *int `db:"patients_transferred_in" json:"patients_transferred_in"`
	TransferredOut      *int `db:"patients_transferred_out" json:"patients_transferred_out"`
	Deaths              *int `db:"patient_deaths" json:"patient_deaths"`
	ConfirmedDefaults   *int `db:"confirmed_patient_defaults" json:"confirmed_patient_defaults"`
	UnconfirmedDefaults *int `db:"unconfirmed_patient_defaults" json:"unconfirmed_patient_defaults"`
	Unresponsive        *int `db:"unresponsive_patients" json:"unresponsive_patients"`
	Cured               *int `db:"patients_cured" json:"patients_cured"`
}

type ProgramReport struct {
	Base
	PeriodNumber          int       `db:"period_number" json:"period_number"`
	ReportDate            time.Time `db:"report_date" json:"report_date"`
	GroupID               uuid.UUID `db:"group_id" json:"group_id"`
	ProgramID             uuid.UUID `db:"program_id" json:"program_id"`
	PatientsAtPeriodStart *int      `db:"patients_at_period_start" json:"patients_at_period_start"`
	Counts
	PatientsAtPeriodEnd *int `db:"patients_at_period_end" json:"patients_at_period_end"`
}

func v(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// Balance is the number of patients under treatment at the end of the
// period, treating missing counters as zero.
func (r *ProgramReport) Balance() int {
	c := r.Counts
	return v(r.PatientsAtPeriodStart) +
		v(c.NewMarasmic) + v(c.NewOedema) + v(c.NewRelapsed) + v(c.Readmitted) + v(c.TransferredIn) -
		v(c.TransferredOut) - v(c.Deaths) -
		(v(c.ConfirmedDefaults) + v(c.UnconfirmedDefaults)) -
		v(c.Cured) - v(c.Unresponsive)
}

// Recompute stores Balance in PatientsAtPeriodEnd.
func (r *ProgramReport) Recompute() {
	end := r.Balance()
	r.PatientsAtPeriodEnd = &end
}

// Period is the display name of the reporting period, e.g. "w 10".
func (r *ProgramReport) Period() string {
	return fmt.Sprintf("w %d", r.PeriodNumber)
}

// Summary holds the aggregate figures quoted back to reporters.
type Summary struct {
	Name       string
	PeriodName string
	SiteName   string
	Atot       int
	Arel       int
	Tin        int
	Tout       int
	Dead       int
	DefT       int
	Dcur       int
	Dmed       int
	End        int
	Created    time.Time
}

func (r *ProgramReport) Summary(reporterName, siteName string) Summary {
	c := r.Counts
	return Summary{
		Name:       reporterName,
		PeriodName: r.Period(),
		SiteName:   siteName,
		Atot:       r.Admissions(),
		Arel:       v(c.Readmitted),
		Tin:        v(c.TransferredIn),
		Tout:       v(c.TransferredOut),
		Dead:       v(c.Deaths),
		DefT:       v(c.ConfirmedDefaults) + v(c.UnconfirmedDefaults),
		Dcur:       v(c.Cured),
		Dmed:       v(c.Unresponsive),
		End:        v(r.PatientsAtPeriodEnd),
		Created:    r.Created,
	}
}

// Admissions is new marasmic plus oedema plus relapsed admissions.
func (r *ProgramReport) Admissions() int {
	return v(r.NewMarasmic) + v(r.NewOedema) + v(r.NewRelapsed)
}

// Version is an audit entry written on every SMS change to a program report.
type Version struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	ReportID   uuid.UUID  `db:"report_id" json:"report_id"`
	ReporterID *uuid.UUID `db:"reporter_id" json:"reporter_id,omitempty"`
	Comment    string     `db:"comment" json:"comment"`
	Snapshot   []byte     `db:"snapshot" json:"snapshot"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// InventoryLog is one item line of a stock report.
type InventoryLog struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	ItemID               uuid.UUID `db:"item_id" json:"item_id"`
	ItemCode             string    `db:"-" json:"item_code"`
	LastQuantityReceived int       `db:"last_quantity_received" json:"last_quantity_received"`
	CurrentHolding       int       `db:"current_holding" json:"current_holding"`
	Created              time.Time `db:"created" json:"created"`
}

type StockReport struct {
	Base
	Logs []*InventoryLog `json:"logs"`
}

// Holdings renders "CODE: holding" pairs in log order.
func (r *StockReport) Holdings() string {
	parts := make([]string, 0, len(r.Logs))
	for _, l := range r.Logs {
		parts = append(parts, fmt.Sprintf("%s: %d", l.ItemCode, l.CurrentHolding))
	}
	return strings.Join(parts, ", ")
}

// StockOutReport is the single open stock-out record of a site.
type StockOutReport struct {
	Base
	ItemIDs []uuid.UUID `json:"item_ids"`
}

func (s *StockOutReport) HasItem(id uuid.UUID) bool {
	for _, it := range s.ItemIDs {
		if it == id {
			return true
		}
	}
	return false
}

// Add appends ids not already present and reports whether anything changed.
func (s *StockOutReport) Add(ids ...uuid.UUID) bool {
	changed := false
	for _, id := range ids {
		if !s.HasItem(id) {
			s.ItemIDs = append(s.ItemIDs, id)
			changed = true
		}
	}
	return changed
}

// Remove drops ids and reports whether anything changed.
func (s *StockOutReport) Remove(ids ...uuid.UUID) bool {
	drop := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.ItemIDs[:0]
	for _, id := range s.ItemIDs {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	changed := len(kept) != len(s.ItemIDs)
	s.ItemIDs = kept
	return changed
}

// LowStockAlert flags an item whose holding at a site fell to or below the
// computed minimum. There is at most one per (site, item).
type LowStockAlert struct {
	ID       uuid.UUID `db:"id" json:"id"`
	SiteID   uuid.UUID `db:"site_id" json:"site_id"`
	ItemID   uuid.UUID `db:"item_id" json:"item_id"`
	Created  time.Time `db:"created" json:"created"`
	Modified time.Time `db:"modified" json:"modified"`
}

func sortedCodes(codes []string) []string {
	out := append([]string(nil), codes...)
	sort.Strings(out)
	return out
}

package report

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryProgramReports is an in-memory ProgramReportRepository for tests.
// A report created with a non-zero Created keeps it.
type MemoryProgramReports struct {
	mu       sync.RWMutex
	items    map[uuid.UUID]*ProgramReport
	versions []*Version
}

func NewMemoryProgramReports() *MemoryProgramReports {
	return &MemoryProgramReports{items: make(map[uuid.UUID]*ProgramReport)}
}

func (m *MemoryProgramReports) Create(_ context.Context, r *ProgramReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	if r.Created.IsZero() {
		r.Created = time.Now().UTC()
	}
	r.Modified = r.Created
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *MemoryProgramReports) Update(_ context.Context, r *ProgramReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[r.ID]; !ok {
		return ErrNotFound
	}
	r.Modified = time.Now().UTC()
	cp := *r
	m.items[r.ID] = &cp
	return nil
}

func (m *MemoryProgramReports) GetByID(_ context.Context, id uuid.UUID) (*ProgramReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// sorted returns copies of matching reports, newest report_date first.
func (m *MemoryProgramReports) sorted(match func(*ProgramReport) bool) []*ProgramReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ProgramReport
	for _, r := range m.items {
		if match(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReportDate.Equal(out[j].ReportDate) {
			return out[i].ReportDate.After(out[j].ReportDate)
		}
		return out[i].Created.After(out[j].Created)
	})
	return out
}

func inSeries(r *ProgramReport, k Key) bool {
	return r.SiteID == k.SiteID && r.ProgramID == k.ProgramID && r.GroupID == k.GroupID
}

func first(rs []*ProgramReport) (*ProgramReport, error) {
	if len(rs) == 0 {
		return nil, ErrNotFound
	}
	return rs[0], nil
}

func (m *MemoryProgramReports) ForPeriod(_ context.Context, k Key, period int) (*ProgramReport, error) {
	return first(m.sorted(func(r *ProgramReport) bool {
		return inSeries(r, k) && r.PeriodNumber == period
	}))
}

func (m *MemoryProgramReports) Latest(_ context.Context, k Key) (*ProgramReport, error) {
	rs := m.sorted(func(r *ProgramReport) bool { return inSeries(r, k) })
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Created.After(rs[j].Created) })
	return first(rs)
}

func (m *MemoryProgramReports) Prior(_ context.Context, k Key, before time.Time, exclude uuid.UUID) (*ProgramReport, error) {
	return first(m.sorted(func(r *ProgramReport) bool {
		return inSeries(r, k) && r.ReportDate.Before(before) && r.ID != exclude
	}))
}

func (m *MemoryProgramReports) History(_ context.Context, k Key, offset, limit int) ([]*ProgramReport, error) {
	rs := m.sorted(func(r *ProgramReport) bool { return inSeries(r, k) })
	return page(rs, offset, limit), nil
}

func (m *MemoryProgramReports) Search(_ context.Context, p SearchParams, limit, offset int) ([]*ProgramReport, int, error) {
	rs := m.sorted(func(r *ProgramReport) bool {
		switch {
		case p.SiteID != uuid.Nil && r.SiteID != p.SiteID,
			p.ProgramID != uuid.Nil && r.ProgramID != p.ProgramID,
			p.GroupID != uuid.Nil && r.GroupID != p.GroupID,
			p.Period > 0 && r.PeriodNumber != p.Period,
			!p.From.IsZero() && r.ReportDate.Before(p.From),
			!p.To.IsZero() && r.ReportDate.After(p.To),
			p.SMSOnly && r.ReporterID == nil:
			return false
		}
		return true
	})
	return page(rs, offset, limit), len(rs), nil
}

func page(rs []*ProgramReport, offset, limit int) []*ProgramReport {
	if offset >= len(rs) {
		return nil
	}
	end := offset + limit
	if end > len(rs) {
		end = len(rs)
	}
	return rs[offset:end]
}

func (m *MemoryProgramReports) RecordVersion(_ context.Context, v *Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = uuid.New()
	v.CreatedAt = time.Now().UTC()
	cp := *v
	m.versions = append(m.versions, &cp)
	return nil
}

func (m *MemoryProgramReports) Versions(_ context.Context, reportID uuid.UUID) ([]*Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Version
	for i := len(m.versions) - 1; i >= 0; i-- {
		if m.versions[i].ReportID == reportID {
			out = append(out, m.versions[i])
		}
	}
	return out, nil
}

// All returns every stored report.
func (m *MemoryProgramReports) All() []*ProgramReport {
	return m.sorted(func(*ProgramReport) bool { return true })
}

// MemoryStock is an in-memory StockRepository for tests.
type MemoryStock struct {
	mu        sync.RWMutex
	reports   []*StockReport
	stockOuts map[uuid.UUID]*StockOutReport // by site
	alerts    map[[2]uuid.UUID]*LowStockAlert
	// ItemCodes resolves InventoryLog.ItemCode on read, as the item join does.
	ItemCodes map[uuid.UUID]string
}

func NewMemoryStock() *MemoryStock {
	return &MemoryStock{
		stockOuts: make(map[uuid.UUID]*StockOutReport),
		alerts:    make(map[[2]uuid.UUID]*LowStockAlert),
		ItemCodes: make(map[uuid.UUID]string),
	}
}

func (m *MemoryStock) CreateStockReport(_ context.Context, s *StockReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = uuid.New()
	if s.Created.IsZero() {
		s.Created = time.Now().UTC()
	}
	s.Modified = s.Created
	for _, l := range s.Logs {
		l.ID = uuid.New()
		l.Created = s.Created
	}
	m.reports = append(m.reports, s)
	return nil
}

func (m *MemoryStock) LatestStockReport(_ context.Context, siteID uuid.UUID) (*StockReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *StockReport
	for _, s := range m.reports {
		if s.SiteID == siteID && (latest == nil || !s.Created.Before(latest.Created)) {
			latest = s
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	cp.Logs = nil
	for _, l := range latest.Logs {
		lc := *l
		if code, ok := m.ItemCodes[l.ItemID]; ok {
			lc.ItemCode = code
		}
		cp.Logs = append(cp.Logs, &lc)
	}
	return &cp, nil
}

func copyStockOut(s *StockOutReport) *StockOutReport {
	cp := *s
	cp.ItemIDs = append([]uuid.UUID(nil), s.ItemIDs...)
	return &cp
}

func (m *MemoryStock) StockOutForSite(_ context.Context, siteID uuid.UUID) (*StockOutReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stockOuts[siteID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyStockOut(s), nil
}

func (m *MemoryStock) SaveStockOut(_ context.Context, s *StockOutReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.stockOuts[s.SiteID]; ok {
		s.ID = existing.ID
		s.Created = existing.Created
	} else {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		s.Created = now
	}
	s.Modified = now
	m.stockOuts[s.SiteID] = copyStockOut(s)
	return nil
}

func (m *MemoryStock) DeleteStockOut(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for site, s := range m.stockOuts {
		if s.ID == id {
			delete(m.stockOuts, site)
		}
	}
	return nil
}

func (m *MemoryStock) ListStockOuts(_ context.Context) ([]*StockOutReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*StockOutReport, 0, len(m.stockOuts))
	for _, s := range m.stockOuts {
		out = append(out, copyStockOut(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Modified.Before(out[j].Modified) })
	return out, nil
}

func (m *MemoryStock) UpsertLowStockAlert(_ context.Context, a *LowStockAlert) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]uuid.UUID{a.SiteID, a.ItemID}
	now := time.Now().UTC()
	if existing, ok := m.alerts[key]; ok {
		existing.Created = a.Created
		existing.Modified = now
		*a = *existing
		return false, nil
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Modified = now
	cp := *a
	m.alerts[key] = &cp
	return true, nil
}

func (m *MemoryStock) DeleteLowStockAlerts(_ context.Context, siteID uuid.UUID, itemIDs []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range itemIDs {
		key := [2]uuid.UUID{siteID, id}
		if _, ok := m.alerts[key]; ok {
			delete(m.alerts, key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStock) ListLowStockAlerts(_ context.Context) ([]*LowStockAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*LowStockAlert, 0, len(m.alerts))
	for _, a := range m.alerts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Modified.Before(out[j].Modified) })
	return out, nil
}

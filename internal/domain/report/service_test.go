package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imam/imam/internal/domain/location"
	"github.com/imam/imam/internal/domain/personnel"
	"github.com/imam/imam/internal/domain/reference"
	"github.com/imam/imam/internal/platform/notification"
)

type notifyCall struct {
	template   string
	data       map[string]string
	recipients []string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
}

func (n *recordingNotifier) Notify(_ context.Context, templateID string, data map[string]string, recipients []string) (*notification.Outbound, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{templateID, data, recipients})
	return &notification.Outbound{ID: uuid.NewString()}, nil
}

func (n *recordingNotifier) Calls() []notifyCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifyCall(nil), n.calls...)
}

type staticRecipients []string

func (r staticRecipients) Recipients(context.Context, *location.Location) ([]string, error) {
	return r, nil
}

func (r staticRecipients) RecipientsForSites(_ context.Context, sites []*location.Location) (map[uuid.UUID][]string, error) {
	out := make(map[uuid.UUID][]string, len(sites))
	for _, site := range sites {
		out[site.ID] = r
	}
	return out, nil
}

// batchRecipients records the sites each batch lookup was asked for and
// fails the ones listed in unresolved.
type batchRecipients struct {
	staticRecipients
	batches    [][]uuid.UUID
	unresolved map[uuid.UUID]bool
}

func (r *batchRecipients) RecipientsForSites(_ context.Context, sites []*location.Location) (map[uuid.UUID][]string, error) {
	var ids []uuid.UUID
	out := make(map[uuid.UUID][]string, len(sites))
	for _, site := range sites {
		ids = append(ids, site.ID)
		if !r.unresolved[site.ID] {
			out[site.ID] = r.staticRecipients
		}
	}
	r.batches = append(r.batches, ids)
	if len(out) < len(sites) {
		return out, errors.New("lookup failed")
	}
	return out, nil
}

type arrivals struct {
	mu    sync.Mutex
	pairs [][2]uuid.UUID
}

func (a *arrivals) RegisterDataArrival(_ context.Context, programID, siteID uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pairs = append(a.pairs, [2]uuid.UUID{programID, siteID})
	return nil
}

type fixture struct {
	svc      *Service
	reports  *MemoryProgramReports
	stock    *MemoryStock
	notifier *recordingNotifier
	arrivals *arrivals
	site     *location.Location
	otp, sfp *reference.Program
	g1, g5   *reference.PatientGroup
	rutf     *reference.Item
	f75      *reference.Item
	worker   *personnel.Personnel
	now      time.Time
	locs     *location.MemoryRepo
	refs     *reference.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	locs := location.NewMemoryRepo()
	state := &location.Location{Name: "Kano", HCID: "20", TypeCode: "adm1"}
	require.NoError(t, locs.Create(ctx, state))
	site := &location.Location{ParentID: &state.ID, Name: "Kano clinic", HCID: "201110001", TypeCode: "adm6"}
	require.NoError(t, locs.Create(ctx, site))

	f := &fixture{
		reports:  NewMemoryProgramReports(),
		stock:    NewMemoryStock(),
		notifier: &recordingNotifier{},
		arrivals: &arrivals{},
		site:     site,
		otp:      &reference.Program{ID: uuid.New(), Code: "OTP", Name: "Outpatient"},
		sfp:      &reference.Program{ID: uuid.New(), Code: "SFP", Name: "Supplementary"},
		g1:       &reference.PatientGroup{ID: uuid.New(), Code: "01", Name: "6-59 months"},
		g5:       &reference.PatientGroup{ID: uuid.New(), Code: "05", Name: "Pregnant women"},
		rutf:     &reference.Item{ID: uuid.New(), Code: "RUTF", Name: "Ready to use food"},
		f75:      &reference.Item{ID: uuid.New(), Code: "F75", Name: "F75 milk"},
		worker:   &personnel.Personnel{ID: uuid.New(), Name: "Ada Obi", SiteID: site.ID},
		now:      time.Date(2026, time.March, 11, 10, 0, 0, 0, time.UTC),
	}
	f.stock.ItemCodes[f.rutf.ID] = f.rutf.Code
	f.stock.ItemCodes[f.f75.ID] = f.f75.Code

	refs := reference.NewRegistry(reference.StaticSource{Snapshot: &reference.Snapshot{
		Programs: []*reference.Program{f.otp, f.sfp},
		Groups:   []*reference.PatientGroup{f.g1, f.g5},
		Items:    []*reference.Item{f.rutf, f.f75},
	}}, zerolog.Nop())
	require.NoError(t, refs.Load(ctx))
	f.locs, f.refs = locs, refs

	f.svc = NewService(Deps{
		Reports:    f.reports,
		Stock:      f.stock,
		Locations:  locs,
		Reference:  refs,
		Recipients: staticRecipients{"+2348000000001"},
		Notifier:   f.notifier,
		Arrivals:   f.arrivals,
		Policy:     DefaultPolicy(),
		Logger:     zerolog.Nop(),
	})
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) key(p *reference.Program, g *reference.PatientGroup) Key {
	return Key{SiteID: f.site.ID, ProgramID: p.ID, GroupID: g.ID}
}

func (f *fixture) week() int {
	_, w := f.now.ISOWeek()
	return w
}

func (f *fixture) submit(t *testing.T, period int, c Counts) *ProgramReport {
	t.Helper()
	r, err := f.svc.SubmitProgramReport(context.Background(), Submission{
		Site: f.site, Program: f.otp, Group: f.g1, Period: period, Reporter: f.worker, Counts: c,
	})
	require.NoError(t, err)
	return r
}

func TestSubmitProgramReport_CreatesThenUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	week := f.week()

	first := f.submit(t, week, Counts{NewMarasmic: ip(10), Cured: ip(2)})
	assert.Equal(t, IsoWeekEnds(week, 2026), first.ReportDate)
	assert.Equal(t, 8, *first.PatientsAtPeriodEnd)
	require.NotNil(t, first.ReporterID)
	assert.Equal(t, f.worker.ID, *first.ReporterID)

	second := f.submit(t, week, Counts{NewMarasmic: ip(12)})
	assert.Equal(t, first.ID, second.ID)
	assert.Nil(t, second.Cured)
	assert.Len(t, f.reports.All(), 1)

	versions, err := f.svc.Versions(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "Updated via SMS", versions[0].Comment)
	assert.Contains(t, string(versions[0].Snapshot), `"new_marasmic_patients":12`)

	assert.Len(t, f.arrivals.pairs, 2)
	assert.Equal(t, [2]uuid.UUID{f.otp.ID, f.site.ID}, f.arrivals.pairs[0])
}

func TestSubmitProgramReport_SeedsFromPriorReport(t *testing.T) {
	f := newFixture(t)
	week := f.week()

	f.submit(t, week-1, Counts{NewMarasmic: ip(50)})
	r := f.submit(t, week, Counts{NewMarasmic: ip(5), Cured: ip(10)})

	require.NotNil(t, r.PatientsAtPeriodStart)
	assert.Equal(t, 50, *r.PatientsAtPeriodStart)
	assert.Equal(t, 45, *r.PatientsAtPeriodEnd)
}

func TestSubmitProgramReport_RejectsExcludedGroup(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SubmitProgramReport(context.Background(), Submission{
		Site: f.site, Program: f.otp, Group: f.g5, Period: f.week(), Reporter: f.worker,
		Counts: Counts{NewMarasmic: ip(1)},
	})
	assert.True(t, errors.Is(err, ErrGroupNotAllowed))
	assert.Empty(t, f.reports.All())
	assert.Empty(t, f.arrivals.pairs)
}

func TestFindForPeriod_Staleness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := f.key(f.otp, f.g1)

	stale := &ProgramReport{Base: Base{SiteID: f.site.ID}, ProgramID: f.otp.ID, GroupID: f.g1.ID,
		PeriodNumber: 10, ReportDate: f.svc.today().AddDate(0, 0, -40)}
	require.NoError(t, f.reports.Create(ctx, stale))

	got, err := f.svc.FindForPeriod(ctx, k, 10)
	require.NoError(t, err)
	assert.Nil(t, got, "a report 40 days old is treated as missing")

	fresh := &ProgramReport{Base: Base{SiteID: f.site.ID}, ProgramID: f.otp.ID, GroupID: f.g1.ID,
		PeriodNumber: 9, ReportDate: f.svc.today().AddDate(0, 0, -30)}
	require.NoError(t, f.reports.Create(ctx, fresh))

	got, err = f.svc.FindForPeriod(ctx, k, 9)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fresh.ID, got.ID)

	latest, err := f.svc.Latest(ctx, k)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, latest.ID)
}

func stockOutItems(t *testing.T, f *fixture) []uuid.UUID {
	t.Helper()
	so, err := f.stock.StockOutForSite(context.Background(), f.site.ID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	return so.ItemIDs
}

func TestStockReport_PartialClearOfStockOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateStockOut(ctx, f.site, f.worker, []*reference.Item{f.rutf, f.f75})
	require.NoError(t, err)
	calls := f.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, notification.TemplateStockOut, calls[0].template)
	assert.Equal(t, "F75, RUTF", calls[0].data["items"])
	assert.Equal(t, "201110001", calls[0].data["site_id"])
	assert.Equal(t, []string{"+2348000000001"}, calls[0].recipients)

	_, err = f.svc.SubmitStockReport(ctx, f.site, f.worker, []StockEntry{
		{Item: f.rutf, LastReceived: 10, CurrentStock: 5},
		{Item: f.f75, LastReceived: 0, CurrentStock: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.f75.ID}, stockOutItems(t, f))

	_, err = f.svc.SubmitStockReport(ctx, f.site, f.worker, []StockEntry{
		{Item: f.f75, LastReceived: 20, CurrentStock: 20},
	})
	require.NoError(t, err)
	assert.Nil(t, stockOutItems(t, f))

	latest, err := f.svc.LatestStockReport(ctx, f.site.ID)
	require.NoError(t, err)
	assert.Equal(t, "F75: 20", latest.Holdings())
}

// seedHistory files three OTP reports (newest admissions 10, then 20, 30) and
// an SFP report that must not count.
func seedHistory(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	today := f.svc.today()
	for i, admitted := range []int{10, 20, 30} {
		require.NoError(t, f.reports.Create(ctx, &ProgramReport{
			Base: Base{SiteID: f.site.ID}, ProgramID: f.otp.ID, GroupID: f.g1.ID,
			PeriodNumber: 1 + i, ReportDate: today.AddDate(0, 0, -7*(i+1)),
			Counts: Counts{NewMarasmic: ip(admitted)},
		}))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, f.reports.Create(ctx, &ProgramReport{
			Base: Base{SiteID: f.site.ID}, ProgramID: f.sfp.ID, GroupID: f.g1.ID,
			PeriodNumber: 1 + i, ReportDate: today.AddDate(0, 0, -7*(i+1)),
			Counts: Counts{NewMarasmic: ip(1000)},
		}))
	}
}

func TestMinimumStock(t *testing.T) {
	f := newFixture(t)
	seedHistory(t, f)

	got, err := f.svc.MinimumStock(context.Background(), f.site.ID)
	require.NoError(t, err)
	// mean(20, 30) * 1.5
	assert.True(t, got.Equal(decimal.NewFromFloat(37.5)), got.String())
}

func TestCheckLowStock_RaisesAndClears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedHistory(t, f)

	_, err := f.svc.SubmitStockReport(ctx, f.site, f.worker, []StockEntry{{Item: f.rutf, LastReceived: 5, CurrentStock: 30}})
	require.NoError(t, err)
	alerts, _ := f.stock.ListLowStockAlerts(ctx)
	require.Len(t, alerts, 1)
	assert.Equal(t, f.rutf.ID, alerts[0].ItemID)

	calls := f.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, notification.TemplateLowStock, calls[0].template)
	assert.Equal(t, "RUTF", calls[0].data["item"])

	_, err = f.svc.SubmitStockReport(ctx, f.site, f.worker, []StockEntry{{Item: f.rutf, LastReceived: 50, CurrentStock: 40}})
	require.NoError(t, err)
	alerts, _ = f.stock.ListLowStockAlerts(ctx)
	assert.Empty(t, alerts)
}

func TestCheckLowStock_SuppressedByStockOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedHistory(t, f)

	_, err := f.svc.SubmitStockReport(ctx, f.site, f.worker, []StockEntry{{Item: f.rutf, LastReceived: 0, CurrentStock: 0}})
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{f.rutf.ID}, stockOutItems(t, f))
	alerts, _ := f.stock.ListLowStockAlerts(ctx)
	assert.Empty(t, alerts)
}

func TestSendReminders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedHistory(t, f)

	_, err := f.svc.SubmitStockReport(ctx, f.site, f.worker, []StockEntry{{Item: f.rutf, LastReceived: 5, CurrentStock: 30}})
	require.NoError(t, err)
	_, err = f.svc.CreateStockOut(ctx, f.site, f.worker, []*reference.Item{f.f75})
	require.NoError(t, err)
	before := len(f.notifier.Calls())

	sent, err := f.svc.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Len(t, f.notifier.Calls(), before+2)
}

func TestSendReminders_ResolvesEachSiteOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedHistory(t, f)

	_, err := f.svc.SubmitStockReport(ctx, f.site, f.worker, []StockEntry{{Item: f.rutf, LastReceived: 5, CurrentStock: 30}})
	require.NoError(t, err)
	_, err = f.svc.CreateStockOut(ctx, f.site, f.worker, []*reference.Item{f.f75})
	require.NoError(t, err)

	recipients := &batchRecipients{staticRecipients: staticRecipients{"+2348000000001"}}
	f.svc.recipients = recipients
	sent, err := f.svc.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	require.Len(t, recipients.batches, 1)
	assert.Equal(t, []uuid.UUID{f.site.ID}, recipients.batches[0])

	recipients.unresolved = map[uuid.UUID]bool{f.site.ID: true}
	before := len(f.notifier.Calls())
	sent, err = f.svc.SendReminders(ctx)
	assert.Error(t, err)
	assert.Zero(t, sent)
	assert.Len(t, f.notifier.Calls(), before)
}

package sms

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/imam/imam/internal/domain/location"
	"github.com/imam/imam/internal/domain/personnel"
	"github.com/imam/imam/internal/domain/reference"
	"github.com/imam/imam/internal/domain/report"
	"github.com/imam/imam/internal/platform/notification"
)

const (
	workerPhone     = "+2348000000001"
	supervisorPhone = "+2348000000009"
	strangerPhone   = "+2348000000077"
)

type fixture struct {
	router     *Router
	people     *personnel.Service
	peopleRepo *personnel.MemoryRepo
	reports    *report.Service
	programs   *report.MemoryProgramReports
	stock      *report.MemoryStock
	queue      *notification.MemoryQueue

	state, lga, site, depot, far *location.Location

	chw, sno, hw *reference.Position
	otp, sfp     *reference.Program
	g1, g5       *reference.PatientGroup
	rutf, f75    *reference.Item
	now          time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{now: time.Date(2026, time.March, 11, 10, 0, 0, 0, time.UTC)}

	locs := location.NewMemoryRepo()
	f.state = &location.Location{Name: "Kano", HCID: "20", TypeCode: "adm1"}
	require.NoError(t, locs.Create(ctx, f.state))
	f.lga = &location.Location{ParentID: &f.state.ID, Name: "Dala", HCID: "2011", TypeCode: "adm2"}
	require.NoError(t, locs.Create(ctx, f.lga))
	f.site = &location.Location{ParentID: &f.lga.ID, Name: "Kano clinic", HCID: "201110001", TypeCode: "adm6"}
	require.NoError(t, locs.Create(ctx, f.site))
	f.depot = &location.Location{ParentID: &f.lga.ID, Name: "Dala depot", HCID: "WH2011", TypeCode: "adm6"}
	require.NoError(t, locs.Create(ctx, f.depot))
	lagos := &location.Location{Name: "Lagos", HCID: "30", TypeCode: "adm1"}
	require.NoError(t, locs.Create(ctx, lagos))
	f.far = &location.Location{ParentID: &lagos.ID, Name: "Ikeja clinic", HCID: "301110001", TypeCode: "adm6"}
	require.NoError(t, locs.Create(ctx, f.far))

	f.chw = &reference.Position{ID: uuid.New(), Code: "CHW", Description: "Community health worker", LocTypeCode: "adm6"}
	f.sno = &reference.Position{ID: uuid.New(), Code: "SNO", Description: "State nutrition officer", LocTypeCode: "adm1"}
	f.hw = &reference.Position{ID: uuid.New(), Code: "HW", Description: "Health worker"}
	f.otp = &reference.Program{ID: uuid.New(), Code: "OTP", Name: "Outpatient therapeutic"}
	f.sfp = &reference.Program{ID: uuid.New(), Code: "SFP", Name: "Supplementary feeding"}
	ipf := &reference.Program{ID: uuid.New(), Code: "IPF", Name: "Inpatient facility"}
	f.g1 = &reference.PatientGroup{ID: uuid.New(), Code: "01", Name: "6-59 months"}
	f.g5 = &reference.PatientGroup{ID: uuid.New(), Code: "05", Name: "Pregnant women"}
	f.rutf = &reference.Item{ID: uuid.New(), Code: "RUTF", AltCodes: []string{"RUT"}, Name: "Ready to use food"}
	f.f75 = &reference.Item{ID: uuid.New(), Code: "F75", Name: "F75 milk"}

	refs := reference.NewRegistry(reference.StaticSource{Snapshot: &reference.Snapshot{
		Positions: []*reference.Position{f.chw, f.sno, f.hw},
		Programs:  []*reference.Program{f.otp, f.sfp, ipf},
		Groups:    []*reference.PatientGroup{f.g1, f.g5},
		Items:     []*reference.Item{f.rutf, f.f75},
	}}, zerolog.Nop())
	require.NoError(t, refs.Load(ctx))

	f.peopleRepo = personnel.NewMemoryRepo()
	f.people = personnel.NewService(f.peopleRepo, locs, []string{"adm1", "adm2"}, nil)
	require.NoError(t, f.peopleRepo.Create(ctx,
		&personnel.Contact{Name: "Supervisor", Identity: supervisorPhone},
		&personnel.Personnel{Name: "Supervisor", SiteID: f.state.ID, PositionID: f.sno.ID, Mobile: supervisorPhone}))

	f.queue = notification.NewMemoryQueue()
	dispatcher := notification.NewDispatcher(f.queue, notification.NewTemplateEngine(),
		notification.DefaultWindow(time.UTC), nil, zerolog.Nop())
	dispatcher.SetClock(func() time.Time { return f.now })

	f.programs = report.NewMemoryProgramReports()
	f.stock = report.NewMemoryStock()
	f.stock.ItemCodes[f.rutf.ID] = f.rutf.Code
	f.stock.ItemCodes[f.f75.ID] = f.f75.Code
	f.reports = report.NewService(report.Deps{
		Reports:    f.programs,
		Stock:      f.stock,
		Locations:  locs,
		Reference:  refs,
		Recipients: f.people,
		Notifier:   dispatcher,
		Policy:     report.DefaultPolicy(),
		Logger:     zerolog.Nop(),
	})
	f.reports.SetClock(func() time.Time { return f.now })

	f.router = NewRouter(Deps{
		Locations: locs,
		Personnel: f.people,
		Reports:   f.reports,
		Reference: refs,
		Logger:    zerolog.Nop(),
		Prefix:    "SAM",
		SiteType:  "adm6",
		Location:  time.UTC,
	})
	return f
}

func (f *fixture) send(identity, text string) string {
	return f.router.Handle(context.Background(), identity, text)
}

// registerWorker signs the worker up at loc without going through REG.
func (f *fixture) registerWorker(t *testing.T, loc *location.Location, pos *reference.Position) *personnel.Personnel {
	t.Helper()
	p, _, err := f.people.Register(context.Background(), personnel.Registration{
		Identity:   workerPhone,
		Name:       "Ada Obi",
		SiteID:     loc.ID,
		PositionID: pos.ID,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) key(p *reference.Program, g *reference.PatientGroup) report.Key {
	return report.Key{SiteID: f.site.ID, ProgramID: p.ID, GroupID: g.ID}
}

func (f *fixture) pending(t *testing.T) []*notification.Outbound {
	t.Helper()
	out, err := f.queue.Pending(context.Background(), 0)
	require.NoError(t, err)
	return out
}

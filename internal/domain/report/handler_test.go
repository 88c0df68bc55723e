package report

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func searchReports(t *testing.T, f *fixture, query string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports?"+query, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, NewHandler(f.svc, f.locs, f.refs).Search(c)
}

func reportIDs(t *testing.T, rec *httptest.ResponseRecorder) []string {
	t.Helper()
	var body struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"data"`
		Total int `json:"total"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	ids := make([]string, 0, len(body.Items))
	for _, it := range body.Items {
		ids = append(ids, it.ID)
	}
	return ids
}

func TestHandlerSearch_WeekSelectors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for week := 8; week <= 10; week++ {
		require.NoError(t, f.reports.Create(ctx, &ProgramReport{
			Base: Base{SiteID: f.site.ID}, ProgramID: f.otp.ID, GroupID: f.g1.ID,
			PeriodNumber: week, ReportDate: IsoWeekEnds(week, 2026),
		}))
	}
	w9, err := f.reports.ForPeriod(ctx, f.key(f.otp, f.g1), 9)
	require.NoError(t, err)

	rec, err := searchReports(t, f, "period=w9&year=2026")
	require.NoError(t, err)
	assert.Equal(t, []string{w9.ID.String()}, reportIDs(t, rec))

	// Wednesday of ISO week 9, 2026
	rec, err = searchReports(t, f, "week_of="+IsoWeekStarts(9, 2026).AddDate(0, 0, 2).Format("2006-01-02"))
	require.NoError(t, err)
	assert.Equal(t, []string{w9.ID.String()}, reportIDs(t, rec))
}

func TestHandlerSearch_RejectsWeekOutsideYear(t *testing.T) {
	f := newFixture(t)

	_, err := searchReports(t, f, "period=53&year=2021")
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)

	// 2020 has 53 ISO weeks
	_, err = searchReports(t, f, "period=53&year=2020")
	assert.NoError(t, err)

	_, err = searchReports(t, f, "year=2026")
	assert.Error(t, err)
}

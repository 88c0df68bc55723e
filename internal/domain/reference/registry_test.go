package reference

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSource struct{}

func (failingSource) Load(context.Context) (*Snapshot, error) {
	return nil, errors.New("db down")
}

type swapSource struct{ snap *Snapshot }

func (s *swapSource) Load(context.Context) (*Snapshot, error) { return s.snap, nil }

func fixture() *Snapshot {
	return &Snapshot{
		Positions: []*Position{{ID: uuid.New(), Code: "NUT", AltCode: "NO", Description: "Nutrition officer", LocTypeCode: "adm6"}},
		Programs: []*Program{
			{ID: uuid.New(), Code: "IPF", Name: "Inpatient"},
			{ID: uuid.New(), Code: "OTP", Name: "Outpatient"},
		},
		Groups: []*PatientGroup{{ID: uuid.New(), Code: "01", Name: "6-59 months"}},
		Items: []*Item{
			{ID: uuid.New(), Code: "RUTF", AltCodes: []string{"RUT", "PLUMPY"}, Name: "Ready to use food"},
			{ID: uuid.New(), Code: "F75", AltCodes: []string{"RUTF"}, Name: "F75 milk"},
		},
	}
}

func TestRegistry_LookupsBeforeLoad(t *testing.T) {
	r := NewRegistry(StaticSource{}, zerolog.Nop())
	assert.Nil(t, r.Program("OTP"))
	assert.Nil(t, r.Snapshot())
	assert.Nil(t, r.Groups())
}

func TestRegistry_Lookups(t *testing.T) {
	snap := fixture()
	r := NewRegistry(StaticSource{Snapshot: snap}, zerolog.Nop())
	require.NoError(t, r.Load(context.Background()))

	assert.Equal(t, snap.Programs[1], r.Program("otp"))
	assert.Equal(t, snap.Programs[1], r.ProgramByID(snap.Programs[1].ID))
	assert.Equal(t, snap.Groups[0], r.Group(" 01 "))
	assert.Equal(t, snap.Positions[0], r.Position("nut"))
	assert.Equal(t, snap.Positions[0], r.Position("no"))
	assert.Nil(t, r.Position("XYZ"))
	assert.False(t, r.Snapshot().LoadedAt.IsZero())
}

func TestRegistry_ItemAltCodes(t *testing.T) {
	snap := fixture()
	r := NewRegistry(StaticSource{Snapshot: snap}, zerolog.Nop())
	require.NoError(t, r.Load(context.Background()))

	rutf := snap.Items[0]
	assert.Equal(t, rutf, r.Item("plumpy"))
	assert.Equal(t, rutf, r.Item("RUT"))
	// a primary code wins over another item's alternate
	assert.Equal(t, rutf, r.Item("rutf"))
	assert.Equal(t, snap.Items[1], r.ItemByID(snap.Items[1].ID))
}

func TestRegistry_RefreshSwapsSnapshot(t *testing.T) {
	src := &swapSource{snap: fixture()}
	r := NewRegistry(src, zerolog.Nop())
	require.NoError(t, r.Load(context.Background()))
	require.NotNil(t, r.Program("OTP"))

	src.snap = &Snapshot{Programs: []*Program{{ID: uuid.New(), Code: "SFP"}}}
	require.NoError(t, r.Load(context.Background()))
	assert.Nil(t, r.Program("OTP"))
	assert.NotNil(t, r.Program("SFP"))
}

func TestRegistry_FailedLoadKeepsPrevious(t *testing.T) {
	r := NewRegistry(StaticSource{Snapshot: fixture()}, zerolog.Nop())
	require.NoError(t, r.Load(context.Background()))

	r.source = failingSource{}
	assert.Error(t, r.Load(context.Background()))
	assert.NotNil(t, r.Program("OTP"))
}

func TestHandler_GetNotLoaded(t *testing.T) {
	h := NewHandler(NewRegistry(StaticSource{}, zerolog.Nop()))
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := h.Get(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Code)
}

func TestHandler_Refresh(t *testing.T) {
	h := NewHandler(NewRegistry(StaticSource{Snapshot: fixture()}, zerolog.Nop()))
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	require.NoError(t, h.Refresh(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"programs":2`)
}

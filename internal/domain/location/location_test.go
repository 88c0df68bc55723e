package location

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tree struct {
	repo    *MemoryRepo
	country *Location
	state   *Location
	lga     *Location
	site    *Location
	other   *Location
}

func newTree(t *testing.T) *tree {
	t.Helper()
	ctx := context.Background()
	r := NewMemoryRepo()
	add := func(parent *Location, name, hcid, typ string) *Location {
		l := &Location{Name: name, HCID: hcid, TypeCode: typ}
		if parent != nil {
			l.ParentID = &parent.ID
		}
		require.NoError(t, r.Create(ctx, l))
		return l
	}
	tr := &tree{repo: r}
	tr.country = add(nil, "Nigeria", "NG", "country")
	tr.state = add(tr.country, "Kaduna", "10", "adm1")
	tr.lga = add(tr.state, "Kaduna North", "1011", "adm2")
	tr.site = add(tr.lga, "Kawo PHC", "101110001", "adm6")
	tr.other = add(tr.state, "Zaria", "1012", "adm2")
	return tr
}

func TestBuildPath(t *testing.T) {
	root := uuid.New()
	child := uuid.New()
	parent := &Location{ID: root, Path: BuildPath(nil, root)}
	assert.Equal(t, "/"+root.String()+"/", parent.Path)
	assert.Equal(t, "/"+root.String()+"/"+child.String()+"/", BuildPath(parent, child))
}

func TestIsAncestorOf(t *testing.T) {
	tr := newTree(t)

	assert.True(t, tr.state.IsAncestorOf(tr.site, false))
	assert.True(t, tr.lga.IsAncestorOf(tr.site, true))
	assert.False(t, tr.site.IsAncestorOf(tr.site, false))
	assert.True(t, tr.site.IsAncestorOf(tr.site, true))
	assert.False(t, tr.other.IsAncestorOf(tr.site, true))
	assert.False(t, tr.site.IsAncestorOf(tr.lga, true))
	assert.False(t, tr.site.IsAncestorOf(nil, true))
}

func TestIsSite(t *testing.T) {
	tr := newTree(t)
	assert.True(t, tr.site.IsSite("adm6"))
	assert.True(t, tr.site.IsSite("ADM6"))
	assert.False(t, tr.lga.IsSite("adm6"))
}

func TestAncestorIDs(t *testing.T) {
	tr := newTree(t)
	assert.Equal(t, []uuid.UUID{tr.country.ID, tr.state.ID, tr.lga.ID}, tr.site.AncestorIDs())
	assert.Empty(t, tr.country.AncestorIDs())
}

func TestMemoryRepo_Ancestors(t *testing.T) {
	tr := newTree(t)
	ctx := context.Background()

	got, err := tr.repo.Ancestors(ctx, tr.site, "adm1", "adm2")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, tr.lga.ID, got[0].ID)
	assert.Equal(t, tr.state.ID, got[1].ID)

	all, err := tr.repo.Ancestors(ctx, tr.site)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAncestorsQuery_LooksUpPathIDs(t *testing.T) {
	tr := newTree(t)

	query, args := ancestorsQuery(tr.site, []string{"adm1", "adm2"})
	assert.Contains(t, query, "l.id = ANY($1)")
	assert.Contains(t, query, "l.type_code = ANY($2)")
	assert.NotContains(t, query, "LIKE")
	require.Len(t, args, 2)
	assert.ElementsMatch(t, []uuid.UUID{tr.country.ID, tr.state.ID, tr.lga.ID}, args[0])
	assert.Equal(t, []string{"adm1", "adm2"}, args[1])

	query, args = ancestorsQuery(tr.lga, nil)
	assert.NotContains(t, query, "type_code")
	require.Len(t, args, 1)
	assert.ElementsMatch(t, []uuid.UUID{tr.country.ID, tr.state.ID}, args[0])
}

func TestMemoryRepo_GetByCode(t *testing.T) {
	tr := newTree(t)
	ctx := context.Background()

	l, err := tr.repo.GetByCode(ctx, " 101110001 ")
	require.NoError(t, err)
	assert.Equal(t, tr.site.ID, l.ID)
	assert.Equal(t, "Kaduna North", l.ParentName())

	_, err = tr.repo.GetByCode(ctx, "999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandler_Sites(t *testing.T) {
	tr := newTree(t)
	h := NewHandler(tr.repo, "adm6")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(tr.state.ID.String())

	require.NoError(t, h.Sites(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data  []Location `json:"data"`
		Total int        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Total)
	assert.Equal(t, "Kawo PHC", body.Data[0].Name)
}

func TestHandler_LookupNotFound(t *testing.T) {
	tr := newTree(t)
	h := NewHandler(tr.repo, "adm6")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?code=000", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.Lookup(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, httpErr.Code)
}

func TestHandler_GetInvalidID(t *testing.T) {
	h := NewHandler(NewMemoryRepo(), "adm6")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.Get(c)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

package sms

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postInbound(t *testing.T, h *Handler, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sms/inbound", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return rec, h.Inbound(c)
}

func TestHandlerInbound(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.router)

	rec, err := postInbound(t, h, `{"identity":"`+workerPhone+`","text":"SAM REG 201110001 Ada Obi CHW"}`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Reply
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Thank you Ada Obi, Community health worker, you are registered at Kano clinic with the site ID 201110001 in Dala", resp.Reply)
}

func TestHandlerInboundUnclearStillOK(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.router)

	rec, err := postInbound(t, h, `{"identity":"`+strangerPhone+`","text":"what"}`)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), msgUnclear)
}

func TestHandlerInboundRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.router)

	_, err := postInbound(t, h, `{"identity":"  ","text":"SAM"}`)
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)

	_, err = postInbound(t, h, `{not json`)
	require.Error(t, err)
	he, ok = err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, he.Code)
}

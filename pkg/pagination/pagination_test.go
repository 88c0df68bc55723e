package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor("")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"?limit=50&offset=10", 50, 10},
		{"?limit=5000", MaxLimit, 0},
		{"?limit=-3&offset=-1", DefaultLimit, 0},
		{"?limit=abc&offset=xyz", DefaultLimit, 0},
		{"?limit=10&page=3", 10, 20},
		{"?page=1", DefaultLimit, 0},
		{"?limit=10&page=3&offset=5", 10, 5},
	}
	for _, tt := range tests {
		p := paramsFor(tt.query)
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
			t.Errorf("%s: got limit=%d offset=%d, want %d/%d", tt.query, p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 5, 2, 0)
	if r.NextOffset == nil || *r.NextOffset != 2 {
		t.Errorf("expected next offset 2, got %v", r.NextOffset)
	}

	last := NewResponse([]string{"e"}, 5, 2, 4)
	if last.NextOffset != nil {
		t.Errorf("expected no next offset on the last page, got %d", *last.NextOffset)
	}
	if last.Total != 5 || last.Limit != 2 || last.Offset != 4 {
		t.Errorf("unexpected envelope: %+v", last)
	}
}

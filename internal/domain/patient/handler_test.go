package patient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/mci/mci/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _, _ := newTestService()
	e := echo.New()
	h := NewHandler(svc)
	h.RegisterRoutes(e.Group("/api/v1"))
	return h, e
}

func serve(e *echo.Echo, method, path, body string, roles ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req = req.WithContext(auth.WithUser(req.Context(), "user-1", roles))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreateAndGetPatient(t *testing.T) {
	_, e := newTestHandler()

	body := `{"hid":"h1","nid":"N1","given_name":"Karim","present_address":{"division_id":"10","district_id":"20"}}`
	rec := serve(e, http.MethodPost, "/api/v1/patients", body, RoleRegistrar)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, http.MethodGet, "/api/v1/patients/h1", "", "mci-approver")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var p Record
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.NationalID != "N1" || !p.Active {
		t.Errorf("unexpected patient %+v", p)
	}
}

func TestHandler_CreatePatient_BadRequest(t *testing.T) {
	_, e := newTestHandler()
	rec := serve(e, http.MethodPost, "/api/v1/patients", `{"nid":"N1"}`, RoleRegistrar)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_CreatePatient_Forbidden(t *testing.T) {
	_, e := newTestHandler()
	rec := serve(e, http.MethodPost, "/api/v1/patients", `{"hid":"h1","given_name":"A"}`, "mci-approver")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	_, e := newTestHandler()
	rec := serve(e, http.MethodGet, "/api/v1/patients/missing", "", "admin")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_UpdateAndRetire(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	for _, hid := range []string{"h1", "h2"} {
		if err := h.svc.CreatePatient(ctx, newPatient(hid)); err != nil {
			t.Fatal(err)
		}
	}

	rec := serve(e, http.MethodPut, "/api/v1/patients/h1", `{"given_name":"Renamed","present_address":{"division_id":"10","district_id":"20"}}`, RoleRegistrar)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = serve(e, http.MethodPost, "/api/v1/patients/h1/retire", `{"merged_with":"h2"}`, RoleRegistrar)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	p, err := h.svc.GetPatient(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if p.Active || p.MergedWith != "h2" || p.GivenName != "Renamed" {
		t.Errorf("unexpected patient %+v", p)
	}

	rec = serve(e, http.MethodPost, "/api/v1/patients/h1/retire", `{}`, RoleRegistrar)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 retiring twice, got %d", rec.Code)
	}
}

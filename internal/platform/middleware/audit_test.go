package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestSplitResource(t *testing.T) {
	id := uuid.New().String()
	tests := []struct {
		path         string
		wantResource string
		wantID       string
	}{
		{"/api/v1/patients/" + id, "patients", id},
		{"/api/v1/shopping/items/" + id + "/together", "shopping", id},
		{"/api/v1/members", "members", ""},
		{"/api/v1/me/preferences", "me", ""},
		{"/api/v1/", "unknown", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			res, gotID := splitResource(tt.path)
			if res != tt.wantResource || gotID != tt.wantID {
				t.Errorf("splitResource(%q) = %q, %q; want %q, %q", tt.path, res, gotID, tt.wantResource, tt.wantID)
			}
		})
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("%s -> %q, want %q", method, got, want)
		}
	}
}

func TestAudit_LogsAPIAccess(t *testing.T) {
	var buf bytes.Buffer
	actor := uuid.New()
	patient := uuid.New().String()

	e := echo.New()
	req := withActor(httptest.NewRequest(http.MethodDelete, "/api/v1/patients/"+patient, nil), actor)
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set(requestIDKey, "rid-9")

	h := Audit(zerolog.New(&buf))(func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	if err := h(c); err != nil {
		t.Fatal(err)
	}

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 audit line, got %d", len(lines))
	}
	l := lines[0]
	checks := map[string]interface{}{
		"type":        "access_audit",
		"actor_id":    actor.String(),
		"action":      "delete",
		"resource":    "patients",
		"resource_id": patient,
		"request_id":  "rid-9",
		"status":      float64(http.StatusNoContent),
		"level":       "info",
	}
	for k, want := range checks {
		if l[k] != want {
			t.Errorf("%s = %v, want %v", k, l[k], want)
		}
	}
}

func TestAudit_DeniedIsWarn(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/members", nil), httptest.NewRecorder())

	h := Audit(zerolog.New(&buf))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "denied")
	})
	_ = h(c)

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["level"] != "warn" || lines[0]["status"] != float64(http.StatusForbidden) {
		t.Errorf("got %v", lines[0])
	}
}

func TestAudit_SkipsNonAPI(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())

	if err := Audit(zerolog.New(&buf))(okHandler)(c); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no audit output, got %s", buf.String())
	}
}

package suggest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carehub/carehub/internal/domain/access"
	"github.com/carehub/carehub/internal/domain/inventory"
	"github.com/carehub/carehub/internal/platform/auth"
)

type stubAuthorizer struct {
	actor, account uuid.UUID
}

func (s stubAuthorizer) AuthorizeOwnAccount(_ context.Context, actorID uuid.UUID, _ access.Capability) (*access.Decision, error) {
	if actorID != s.actor {
		return nil, access.ErrDenied
	}
	return &access.Decision{AccountID: s.account, Role: access.RoleViewer}, nil
}

type stubHistory map[uuid.UUID][]*inventory.ShoppingItem

func (s stubHistory) ItemsWithHistory(_ context.Context, accountID uuid.UUID) ([]*inventory.ShoppingItem, error) {
	return s[accountID], nil
}

func newSuggestHandler(items ...*inventory.ShoppingItem) (*Handler, uuid.UUID) {
	authz := stubAuthorizer{actor: uuid.New(), account: uuid.New()}
	h := NewHandler(stubHistory{authz.account: items}, authz)
	h.now = func() time.Time { return now }
	return h, authz.actor
}

func request(target string, actor uuid.UUID, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req = req.WithContext(auth.WithActorID(req.Context(), actor))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	return c, rec
}

func TestHandler_DueToBuy(t *testing.T) {
	eggs := purchases(newItem("Eggs"), "", daysAgo(21), daysAgo(14), daysAgo(7))
	h, actor := newSuggestHandler(eggs)

	c, rec := request("/shopping/suggestions/due", actor)
	if err := h.DueToBuy(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []DueToBuyItem
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Item.ProductName != "Eggs" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_DueToBuy_Denied(t *testing.T) {
	h, _ := newSuggestHandler()
	c, _ := request("/shopping/suggestions/due", uuid.New())
	err := h.DueToBuy(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestHandler_BoughtTogether(t *testing.T) {
	d := daysAgo(3)
	pasta := purchases(newItem("Pasta"), "Coop", d)
	sauce := purchases(newItem("Sauce"), "Coop", d)
	h, actor := newSuggestHandler(pasta, sauce)

	c, rec := request("/shopping/items/x/together?min=1", actor, "id", pasta.ID.String())
	if err := h.BoughtTogether(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []Pair
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got) != 1 || got[0].ProductName != "Sauce" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c, rec = request("/shopping/items/x/together", actor, "id", pasta.ID.String())
	if err := h.BoughtTogether(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got) != 0 {
		t.Errorf("default threshold of %d should drop a single co-occurrence, got %+v", DefaultMinCoOccurrences, got)
	}
}

func TestHandler_BoughtTogether_Errors(t *testing.T) {
	h, actor := newSuggestHandler()
	tests := []struct {
		name   string
		target string
		id     string
		want   int
	}{
		{"bad id", "/x", "nope", http.StatusBadRequest},
		{"bad min", "/x?min=two", uuid.NewString(), http.StatusBadRequest},
		{"unknown item", "/x", uuid.NewString(), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := request(tt.target, actor, "id", tt.id)
			err := h.BoughtTogether(c)
			if he, ok := err.(*echo.HTTPError); !ok || he.Code != tt.want {
				t.Errorf("expected %d, got %v", tt.want, err)
			}
		})
	}
}

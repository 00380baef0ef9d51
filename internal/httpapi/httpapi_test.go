package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dhabapos/backend/internal/domain"
	"dhabapos/backend/internal/service"
	"dhabapos/backend/internal/stock"
	"dhabapos/backend/internal/store/memory"
)

type testEnv struct {
	handler      http.Handler
	api          *API
	repo         *memory.Store
	ownerToken   string
	counterToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := memory.NewEmpty()
	ctx := context.Background()

	ownerPwd, _ := hashSecret("owner-password-1")
	counterPwd, _ := hashSecret("counter-password-1")
	counterPIN, _ := hashSecret("4321")
	users := []domain.UserAccount{
		{Username: "owner", Password: ownerPwd, Role: domain.RoleSuperadmin, CreatedAt: time.Now().UTC()},
		{Username: "counter", Password: counterPwd, PIN: counterPIN, Role: domain.RoleAdmin, CreatedAt: time.Now().UTC()},
	}
	for _, account := range users {
		if err := repo.CreateUser(ctx, account); err != nil {
			t.Fatalf("seed user %s: %v", account.Username, err)
		}
	}

	products := []domain.Product{
		{ID: "prod-curry", Name: "Chicken Curry", FullPriceCents: 20000, HalfPriceCents: 12000, FullStock: 10, HalfStock: 8},
		{ID: "prod-roti", Name: "Roti", FullPriceCents: 2500, FullStock: 50, Solo: true},
	}
	for _, p := range products {
		if _, err := repo.CreateProduct(ctx, p); err != nil {
			t.Fatalf("seed product %s: %v", p.ID, err)
		}
	}

	svc := service.New(repo, stock.NewEngine(repo), nil, 0)
	auth := NewAuthManager(testSecret, time.Hour, repo)
	api := New(svc, auth, "http://127.0.0.1:3000")

	ownerLogin, err := auth.Login(domain.LoginRequest{Username: "owner", Password: "owner-password-1"})
	if err != nil {
		t.Fatalf("owner login: %v", err)
	}
	counterLogin, err := auth.Login(domain.LoginRequest{Username: "counter", Password: "counter-password-1", PIN: "4321"})
	if err != nil {
		t.Fatalf("counter login: %v", err)
	}

	return &testEnv{
		handler:      api.Handler(),
		api:          api,
		repo:         repo,
		ownerToken:   ownerLogin.AccessToken,
		counterToken: counterLogin.AccessToken,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		req.Header.Set("X-CSRF-Token", e.api.generateCSRFToken())
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer bogus-token")
	rec2 := httptest.NewRecorder()
	env.handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bogus token, got %d", rec2.Code)
	}
}

func TestSuperadminRoutesForbiddenForAdmin(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/v1/users", "/api/v1/activities", "/api/v1/sales/grouped"} {
		rec := env.do(t, http.MethodGet, path, env.counterToken, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for %s, got %d", path, rec.Code)
		}
	}
}

func TestMutatingRequestsRequireCSRFToken(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.counterToken)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
}

func TestCSRFTokenEndpointIssuesValidToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/auth/csrf-token", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	decodeBody(t, rec, &body)
	if !env.api.validateCSRFToken(body.CSRFToken) {
		t.Fatal("issued CSRF token did not validate")
	}
}

func TestLoginOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "owner",
		Password: "owner-password-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	if resp.AccessToken == "" || resp.Role != domain.RoleSuperadmin {
		t.Fatalf("unexpected login response: %+v", resp)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "owner",
		Password: "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rec.Code)
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/sales", env.counterToken, domain.SaleCreateRequest{
		Items:         []domain.SaleLine{{ProductID: "prod-curry", Variant: domain.VariantFull, Qty: 2}},
		PaymentMethod: "cash",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &created)
	if created.Sale.ID == "" || created.Sale.TotalCents != 40000 {
		t.Fatalf("unexpected sale: %+v", created.Sale)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, env.counterToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching sale, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPut, "/api/v1/sales/"+created.Sale.ID, env.counterToken, domain.SaleUpdateRequest{
		Items: []domain.SaleLine{{ProductID: "prod-roti", Variant: domain.VariantFull, Qty: 4}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 updating sale, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated struct {
		Sale domain.Sale `json:"sale"`
	}
	decodeBody(t, rec, &updated)
	if updated.Sale.TotalCents != 10000 {
		t.Fatalf("unexpected updated total: %d", updated.Sale.TotalCents)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/sales/"+created.Sale.ID, env.counterToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 deleting sale, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/sales/"+created.Sale.ID, env.counterToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestStockErrorsMapToStatuses(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/sales", env.counterToken, domain.SaleCreateRequest{
		Items: []domain.SaleLine{{ProductID: "prod-curry", Variant: domain.VariantFull, Qty: 99}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stock shortfall, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/sales", env.counterToken, domain.SaleCreateRequest{
		Items: []domain.SaleLine{{ProductID: "prod-roti", Variant: domain.VariantHalf, Qty: 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for half plate of solo product, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/sales", env.counterToken, domain.SaleCreateRequest{
		Items: []domain.SaleLine{{ProductID: "prod-ghost", Variant: domain.VariantFull, Qty: 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRangeDeleteOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/sales", env.counterToken, domain.SaleCreateRequest{
			Items: []domain.SaleLine{{ProductID: "prod-curry", Variant: domain.VariantFull, Qty: 1}},
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed sale %d: %d %s", i, rec.Code, rec.Body.String())
		}
	}

	today := time.Now().UTC().Format("2006-01-02")
	path := fmt.Sprintf("/api/v1/sales/range?from=%s&to=%s", today, today)

	rec := env.do(t, http.MethodDelete, path, env.counterToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for admin range delete, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, path, env.ownerToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.RangeDeleteResponse
	decodeBody(t, rec, &resp)
	if resp.DeletedCount != 2 {
		t.Fatalf("expected 2 deleted, got %d", resp.DeletedCount)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/sales/range?from=bogus&to="+today, env.ownerToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad bound, got %d", rec.Code)
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", bytes.NewReader([]byte(`{"name":"x","surprise":true}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+env.counterToken)
	req.Header.Set("X-CSRF-Token", env.api.generateCSRFToken())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/products", env.counterToken, map[string]any{})
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t)

	var last int
	for i := 0; i < 6; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
			Username: "owner",
			Password: "wrong",
		})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated attempts, got %d", last)
	}
}

func TestParseRangeBoundDateCoversWholeDay(t *testing.T) {
	lower, err := parseRangeBound("2026-08-30", false)
	if err != nil {
		t.Fatalf("parse lower: %v", err)
	}
	upper, err := parseRangeBound("2026-08-30", true)
	if err != nil {
		t.Fatalf("parse upper: %v", err)
	}
	if upper.Sub(lower) != 24*time.Hour {
		t.Fatalf("expected upper bound to roll to next day, got %v", upper.Sub(lower))
	}

	ts, err := parseRangeBound("2026-08-30T12:30:00Z", true)
	if err != nil {
		t.Fatalf("parse rfc3339: %v", err)
	}
	if ts.Hour() != 12 || ts.Minute() != 30 {
		t.Fatalf("rfc3339 bound should not be adjusted, got %v", ts)
	}
}

package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"webbilling/backend/internal/cache"
	"webbilling/backend/internal/domain"
	"webbilling/backend/internal/service"
	"webbilling/backend/internal/settings"
	"webbilling/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopProductCache{}, settings.Static{}, 5*time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func doJSON(t *testing.T, handler http.Handler, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{
		"username": username,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d (body: %s)", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func csrfToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/auth/csrf-token", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf response: %v", err)
	}
	return body["csrf_token"]
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLoginInvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProductsRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestMutationRequiresCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/bills", token, "", domain.BillCreateRequest{
		Items: []domain.BillCreateItem{{ProductID: 6, Quantity: 1}},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
}

func TestAuditLogsForbiddenForCashier(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", token, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestReturnFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	// Sell one tea pack.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/bills", token, csrf, domain.BillCreateRequest{
		CustomerName: "Asha",
		Items:        []domain.BillCreateItem{{ProductID: 4, Quantity: 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create bill: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var billResp domain.BillResponse
	if err := json.NewDecoder(rec.Body).Decode(&billResp); err != nil {
		t.Fatalf("decode bill: %v", err)
	}

	teaID := int64(4)
	sugarID := int64(6)
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/returns", token, csrf, domain.ReturnProcessData{
		OriginalBillID: billResp.Bill.ID,
		CustomerName:   "Asha",
		ReturnReason:   "damaged pack",
		ReturnItems: []domain.ReturnLineItem{
			{ProductID: &teaID, ProductName: "Tea Powder 500g", Quantity: 1, UnitPrice: 220, TotalPrice: 220},
		},
		ExchangeItems: []domain.ReturnLineItem{
			{ProductID: &sugarID, ProductName: "Sugar 1kg", Quantity: 2, UnitPrice: 45, TotalPrice: 90},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("process return: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var returnResp domain.ReturnProcessResponse
	if err := json.NewDecoder(rec.Body).Decode(&returnResp); err != nil {
		t.Fatalf("decode return: %v", err)
	}
	if returnResp.Return.Status != domain.ReturnStatusPending {
		t.Fatalf("status = %s", returnResp.Return.Status)
	}
	if returnResp.Return.BalanceAmount != -130 {
		t.Fatalf("balance = %.2f, want -130", returnResp.Return.BalanceAmount)
	}
	if returnResp.ExchangeBillNumber == "" {
		t.Fatalf("exchange bill missing")
	}

	// Stats should see the pending return.
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/returns/stats", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d", rec.Code)
	}
	var stats domain.ReturnStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.PendingReturns != 1 {
		t.Fatalf("pending = %d", stats.PendingReturns)
	}

	// Complete, then verify the transition is terminal.
	path := fmt.Sprintf("/api/v1/returns/%d/status", returnResp.Return.ID)
	rec = doJSON(t, handler, http.MethodPatch, path, token, csrf, domain.ReturnStatusUpdateRequest{Status: "COMPLETED"})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete: %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPatch, path, token, csrf, domain.ReturnStatusUpdateRequest{Status: "CANCELLED"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for terminal transition, got %d", rec.Code)
	}
}

func TestReturnValidationErrorsOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")
	csrf := csrfToken(t, handler)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/returns", token, csrf, domain.ReturnProcessData{
		OriginalBillID: 0,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestBarcodeLookupOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := login(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products/barcode/8901111000062", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("barcode lookup: %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products/barcode/0000000000000", token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown barcode: %d", rec.Code)
	}
}

func TestCashierManagementRequiresAdmin(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	csrf := csrfToken(t, handler)

	cashierToken := login(t, handler, "cashier", "cashier123")
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/users/cashiers", cashierToken, csrf, domain.CashierCreateRequest{
		Username: "newcashier",
		Password: "secret99",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	adminToken := login(t, handler, "admin", "admin123")
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users/cashiers", adminToken, csrf, domain.CashierCreateRequest{
		Username: "newcashier",
		Password: "secret99",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin create cashier: %d (body: %s)", rec.Code, rec.Body.String())
	}

	if token := login(t, handler, "newcashier", "secret99"); token == "" {
		t.Fatalf("new cashier must be able to log in")
	}
}

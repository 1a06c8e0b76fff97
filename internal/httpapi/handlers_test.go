package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tablebill/backend/internal/domain"
	"tablebill/backend/internal/logger"
	"tablebill/backend/internal/service"
	"tablebill/backend/internal/store/memory"
)

const testRestaurant = "main-restaurant"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "admin123")
	t.Setenv("SEED_CASHIER_PASSWORD", "cashier123")

	repo := memory.NewSeeded(testRestaurant, nil)
	svc := service.New(repo, service.Options{
		DefaultRestaurantID: testRestaurant,
		Charges: domain.Charges{
			CGSTRate: decimal.RequireFromString("2.5"),
			SGSTRate: decimal.RequireFromString("2.5"),
		},
		Logger: logger.Discard(),
	})
	auth := NewAuthManager("test-secret-key-that-is-long-enough", time.Hour, "246810", repo)

	return New(svc, auth, Options{AllowedOrigin: "*"})
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

func loginToken(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()
	payload, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) domain.OrderResult {
	t.Helper()
	var res domain.OrderResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode order result: %v", err)
	}
	return res
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

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

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	token := loginToken(t, api.Handler(), "admin", "admin123")
	if token == "" {
		t.Fatalf("expected non-empty access token")
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, domain.CreateOrderRequest{
		TableID: "T1",
		Items:   []domain.OrderItemRequest{{MenuItemID: "menu-paneer-tikka", Quantity: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	created := decodeResult(t, rec)
	if created.Order.OrderNumber != 1 || created.Order.Total != 588 {
		t.Fatalf("unexpected order: #%d total=%d", created.Order.OrderNumber, created.Order.Total)
	}
	orderPath := "/api/v1/orders/" + created.Order.ID

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, domain.CreateOrderRequest{
		TableID: "T1",
		Items:   []domain.OrderItemRequest{{MenuItemID: "menu-masala-chai", Quantity: 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected table conflict 400, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPatch, orderPath+"/items/"+created.Order.Items[0].ID+"/status", token, domain.ItemStatusRequest{Status: domain.ItemStatusPreparing})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on item status, got %d (%s)", rec.Code, rec.Body.String())
	}
	if got := decodeResult(t, rec).Order.Status; got != domain.OrderStatusPreparing {
		t.Fatalf("expected preparing, got %s", got)
	}

	rec = doJSON(t, handler, http.MethodPost, orderPath+"/close", token, domain.CloseOrderRequest{PaymentMethod: "cash"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on close, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, orderPath+"/close", token, domain.CloseOrderRequest{PaymentMethod: "cash"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second close, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, orderPath, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", rec.Code)
	}
	var got struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if got.Order.Status != domain.OrderStatusClosed || !got.Order.InventoryDeducted {
		t.Fatalf("expected closed order with deduction, got %s %v", got.Order.Status, got.Order.InventoryDeducted)
	}
	if got.Order.Audit[0].Actor != "cashier" {
		t.Fatalf("expected cashier on audit trail, got %q", got.Order.Audit[0].Actor)
	}
}

func TestPayLaterAndPartialSettlementOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, domain.CreateOrderRequest{
		CustomerMobile: "9800000001",
		Items:          []domain.OrderItemRequest{{Name: "Catering tray", Price: 952, Quantity: 1}},
	})
	order := decodeResult(t, rec).Order
	path := "/api/v1/orders/" + order.ID

	rec = doJSON(t, handler, http.MethodPost, path+"/pay-later", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on pay-later, got %d (%s)", rec.Code, rec.Body.String())
	}

	over := int64(5000)
	rec = doJSON(t, handler, http.MethodPost, path+"/payments", token, domain.SettlePaymentRequest{Method: "cash", Amount: &over})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 on overpayment, got %d", rec.Code)
	}

	first := int64(400)
	rec = doJSON(t, handler, http.MethodPost, path+"/payments", token, domain.SettlePaymentRequest{Method: "cash", Amount: &first})
	res := decodeResult(t, rec)
	if res.Order.Payment.AmountDue != 600 || res.Order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("unexpected state after partial payment: %+v", res.Order.Payment)
	}

	rec = doJSON(t, handler, http.MethodPost, path+"/payments", token, domain.SettlePaymentRequest{Method: "upi"})
	res = decodeResult(t, rec)
	if res.Order.Status != domain.OrderStatusClosed || res.Order.PaymentMethod != "cash:400, upi:600" {
		t.Fatalf("unexpected settled order: %s %q", res.Order.Status, res.Order.PaymentMethod)
	}
}

func TestCancelRequiresManagerPINForCashier(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	cashier := loginToken(t, handler, "cashier", "cashier123")
	admin := loginToken(t, handler, "admin", "admin123")

	newOrder := func() string {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", cashier, domain.CreateOrderRequest{
			Items: []domain.OrderItemRequest{{MenuItemID: "menu-masala-chai", Quantity: 1}},
		})
		return decodeResult(t, rec).Order.ID
	}

	id := newOrder()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders/"+id+"/cancel", cashier, domain.CancelOrderRequest{Reason: domain.CancelSoldOut, ManagerPIN: "000000"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with wrong PIN, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/"+id+"/cancel", cashier, domain.CancelOrderRequest{Reason: domain.CancelSoldOut, ManagerPIN: "246810"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with manager PIN, got %d (%s)", rec.Code, rec.Body.String())
	}

	id = newOrder()
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/"+id+"/cancel", admin, domain.CancelOrderRequest{Reason: domain.CancelOwnerCancelled})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected admin cancel without PIN, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestComputeAndSplitBillOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	subtotal := int64(1000)
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/bills/compute", token, domain.BillRequest{Subtotal: &subtotal})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var computed struct {
		Bill domain.Bill `json:"bill"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&computed); err != nil {
		t.Fatalf("decode bill: %v", err)
	}
	if computed.Bill.Total != 1050 {
		t.Fatalf("expected 1050, got %d", computed.Bill.Total)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, domain.CreateOrderRequest{
		Items: []domain.OrderItemRequest{{MenuItemID: "menu-chicken-biryani", Quantity: 3}},
	})
	order := decodeResult(t, rec).Order

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/"+order.ID+"/split", token, domain.SplitRequest{Mode: domain.SplitModeEqual, People: 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero people, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/"+order.ID+"/split", token, domain.SplitRequest{Mode: domain.SplitModeEqual, People: 4})
	var split domain.SplitResponse
	if err := json.NewDecoder(rec.Body).Decode(&split); err != nil {
		t.Fatalf("decode split: %v", err)
	}
	if len(split.Shares) != 4 || split.Total != order.Total {
		t.Fatalf("unexpected split: %+v", split)
	}
}

func TestListOrdersFiltersByStatus(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	for i := 0; i < 3; i++ {
		doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, domain.CreateOrderRequest{
			Channel: domain.ChannelTakeAway,
			Items:   []domain.OrderItemRequest{{MenuItemID: "menu-butter-naan", Quantity: 1}},
		})
	}

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/orders?status=active&limit=2", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list domain.OrderListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Orders) != 2 || list.Orders[0].OrderNumber != 3 {
		t.Fatalf("expected newest two orders, got %+v", list.Orders)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/orders?status=eaten", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestUnknownOrderReturns404(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/orders/ord-missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/engine"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/service"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type stubService struct {
	submitOrder *storage.Order
	submitErr   error
	cancelErr   error
	getErr      error
	lastSubmit  service.SubmitOrderInput
}

func (s *stubService) SubmitOrder(_ context.Context, input service.SubmitOrderInput) (*storage.Order, error) {
	s.lastSubmit = input
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return s.submitOrder, nil
}

func (s *stubService) CancelOrder(_ context.Context, orderID uuid.UUID) (*storage.Order, error) {
	if s.cancelErr != nil {
		return nil, s.cancelErr
	}
	return sampleOrder(orderID, "cancelled"), nil
}

func (s *stubService) GetOrder(_ context.Context, orderID uuid.UUID) (*storage.Order, []storage.Execution, error) {
	if s.getErr != nil {
		return nil, nil, s.getErr
	}
	return sampleOrder(orderID, "partially_filled"), []storage.Execution{{
		ID:       uuid.New(),
		OrderID:  orderID,
		Price:    decimal.NewFromInt(100),
		Quantity: decimal.NewFromInt(5),
	}}, nil
}

func (s *stubService) ListOrders(_ context.Context, _ storage.OrderFilter) ([]storage.Order, string, error) {
	return []storage.Order{*sampleOrder(uuid.New(), "pending")}, "next-token", nil
}

func (s *stubService) ListInstruments(_ context.Context) ([]storage.Instrument, error) {
	return []storage.Instrument{{Code: "SSNLF", Name: "Samsung Electronics"}}, nil
}

func (s *stubService) AccountSummary(_ context.Context, accountID uuid.UUID) (*storage.Account, []storage.Holding, error) {
	return &storage.Account{ID: accountID, MemberName: "member", CashBalance: decimal.NewFromInt(1000)},
		[]storage.Holding{{Instrument: "SSNLF", Quantity: decimal.NewFromInt(3)}}, nil
}

func sampleOrder(id uuid.UUID, status string) *storage.Order {
	return &storage.Order{
		ID:             id,
		AccountID:      uuid.New(),
		Instrument:     "SSNLF",
		Side:           "buy",
		Price:          decimal.NewFromInt(100),
		Quantity:       decimal.NewFromInt(10),
		FilledQuantity: decimal.Zero,
		Status:         status,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
}

func newTestRouter(svc *stubService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	New(svc, nil).Register(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func validCreateBody() map[string]string {
	return map[string]string{
		"account_id": uuid.NewString(),
		"instrument": "SSNLF",
		"side":       "buy",
		"price":      "100.50",
		"quantity":   "10",
	}
}

func TestCreateOrderReturns201(t *testing.T) {
	svc := &stubService{submitOrder: sampleOrder(uuid.New(), "pending")}
	router := newTestRouter(svc)

	rec := doJSON(t, router, http.MethodPost, "/v1/orders", validCreateBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "pending" {
		t.Fatalf("expected pending status, got %v", resp["status"])
	}
	if svc.lastSubmit.Side != "buy" || svc.lastSubmit.Instrument != "SSNLF" {
		t.Fatalf("normalized input not forwarded: %+v", svc.lastSubmit)
	}
}

func TestCreateOrderValidationFailure(t *testing.T) {
	router := newTestRouter(&stubService{})

	body := validCreateBody()
	body["side"] = "hold"
	body["price"] = "-1"

	rec := doJSON(t, router, http.MethodPost, "/v1/orders", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "INVALID_REQUEST" || len(resp.Fields) == 0 {
		t.Fatalf("expected field errors, got %+v", resp)
	}
}

func TestCreateOrderErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		body string
	}{
		{"insufficient funds", engine.ErrInsufficientFunds, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{"insufficient holdings", engine.ErrInsufficientHoldings, http.StatusUnprocessableEntity, "INSUFFICIENT_HOLDINGS"},
		{"unknown instrument", engine.ErrUnknownInstrument, http.StatusBadRequest, "UNKNOWN_INSTRUMENT"},
		{"account missing", storage.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubService{submitErr: tc.err})
			rec := doJSON(t, router, http.MethodPost, "/v1/orders", validCreateBody())
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
			var resp errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Code != tc.body {
				t.Fatalf("expected code %s, got %s", tc.body, resp.Code)
			}
		})
	}
}

func TestCancelOrderConflicts(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"already filled", storage.ErrOrderAlreadyFilled, http.StatusConflict},
		{"already cancelled", storage.ErrOrderAlreadyCancelled, http.StatusConflict},
		{"missing", storage.ErrNotFound, http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubService{cancelErr: tc.err})
			rec := doJSON(t, router, http.MethodDelete, "/v1/orders/"+uuid.NewString(), nil)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, rec.Code)
			}
		})
	}
}

func TestCancelOrderSucceeds(t *testing.T) {
	router := newTestRouter(&stubService{})
	rec := doJSON(t, router, http.MethodDelete, "/v1/orders/"+uuid.NewString(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp orderItem
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %s", resp.Status)
	}
}

func TestCancelOrderBadID(t *testing.T) {
	router := newTestRouter(&stubService{})
	rec := doJSON(t, router, http.MethodDelete, "/v1/orders/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetOrderIncludesExecutions(t *testing.T) {
	router := newTestRouter(&stubService{})
	rec := doJSON(t, router, http.MethodGet, "/v1/orders/"+uuid.NewString(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Order      orderItem       `json:"order"`
		Executions []executionItem `json:"executions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Executions) != 1 || resp.Executions[0].Quantity != "5" {
		t.Fatalf("expected one execution of 5, got %+v", resp.Executions)
	}
}

func TestListOrdersRequiresAccountID(t *testing.T) {
	router := newTestRouter(&stubService{})
	rec := doJSON(t, router, http.MethodGet, "/v1/orders", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListOrdersReturnsCursor(t *testing.T) {
	router := newTestRouter(&stubService{})
	rec := doJSON(t, router, http.MethodGet, "/v1/orders?account_id="+uuid.NewString(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Orders     []orderItem `json:"orders"`
		NextCursor string      `json:"next_cursor"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Orders) != 1 || resp.NextCursor != "next-token" {
		t.Fatalf("unexpected page: %+v", resp)
	}
}

func TestListInstruments(t *testing.T) {
	router := newTestRouter(&stubService{})
	rec := doJSON(t, router, http.MethodGet, "/v1/instruments", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGetAccountSummary(t *testing.T) {
	router := newTestRouter(&stubService{})
	rec := doJSON(t, router, http.MethodGet, "/v1/accounts/"+uuid.NewString(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		CashBalance string `json:"cash_balance"`
		Holdings    []struct {
			Instrument string `json:"instrument"`
			Quantity   string `json:"quantity"`
		} `json:"holdings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.CashBalance != "1000" || len(resp.Holdings) != 1 {
		t.Fatalf("unexpected summary: %+v", resp)
	}
}

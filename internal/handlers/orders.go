package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/engine"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/service"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/storage"
	"github.com/Industry-Academic-SW-Capstone/trading-engine/internal/validation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"log/slog"
)

type OrderService interface {
	SubmitOrder(ctx context.Context, input service.SubmitOrderInput) (*storage.Order, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID) (*storage.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*storage.Order, []storage.Execution, error)
	ListOrders(ctx context.Context, filter storage.OrderFilter) ([]storage.Order, string, error)
	ListInstruments(ctx context.Context) ([]storage.Instrument, error)
	AccountSummary(ctx context.Context, accountID uuid.UUID) (*storage.Account, []storage.Holding, error)
}

type Handler struct {
	Service OrderService
	Logger  *slog.Logger
}

func New(svc OrderService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine) {
	v1 := r.Group("/v1")
	v1.POST("/orders", h.CreateOrder)
	v1.GET("/orders", h.ListOrders)
	v1.GET("/orders/:id", h.GetOrder)
	v1.DELETE("/orders/:id", h.CancelOrder)
	v1.GET("/instruments", h.ListInstruments)
	v1.GET("/accounts/:id", h.GetAccount)
}

type createOrderRequest struct {
	AccountID  string `json:"account_id"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
}

type orderItem struct {
	OrderID    string `json:"order_id"`
	AccountID  string `json:"account_id"`
	Instrument string `json:"instrument"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	Filled     string `json:"filled_quantity"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type executionItem struct {
	ExecutionID string `json:"execution_id"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	ExecutedAt  string `json:"executed_at"`
}

type errorResponse struct {
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Fields  []validation.FieldError `json:"fields,omitempty"`
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}

	errs := validation.ValidateOrderRequest(req.AccountID, req.Instrument, req.Side, req.Price, req.Quantity)
	if len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}

	accountID, _ := uuid.Parse(strings.TrimSpace(req.AccountID))
	price, _ := validation.ParsePositiveDecimal(req.Price)
	quantity, _ := validation.ParsePositiveDecimal(req.Quantity)

	correlationID := ""
	if reqID, ok := c.Get("X-Request-ID"); ok {
		correlationID, _ = reqID.(string)
	}

	order, err := h.Service.SubmitOrder(c.Request.Context(), service.SubmitOrderInput{
		AccountID:     accountID,
		Instrument:    validation.NormalizeInstrument(req.Instrument),
		Side:          strings.ToLower(strings.TrimSpace(req.Side)),
		Price:         price,
		Quantity:      quantity,
		CorrelationID: correlationID,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"order_id":   order.ID.String(),
		"status":     order.Status,
		"created_at": order.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) CancelOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id", nil)
		return
	}

	order, err := h.Service.CancelOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderItem(order))
}

func (h *Handler) GetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id", nil)
		return
	}

	order, executions, err := h.Service.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	items := make([]executionItem, 0, len(executions))
	for _, exec := range executions {
		items = append(items, executionItem{
			ExecutionID: exec.ID.String(),
			Price:       exec.Price.String(),
			Quantity:    exec.Quantity.String(),
			ExecutedAt:  exec.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"order":      toOrderItem(order),
		"executions": items,
	})
}

func (h *Handler) ListOrders(c *gin.Context) {
	accountID, err := uuid.Parse(strings.TrimSpace(c.Query("account_id")))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "account_id is required", nil)
		return
	}

	filter := storage.OrderFilter{
		AccountID:  accountID,
		Instrument: validation.NormalizeInstrument(c.Query("instrument")),
		Status:     strings.ToLower(strings.TrimSpace(c.Query("status"))),
		Cursor:     strings.TrimSpace(c.Query("cursor")),
	}

	orders, next, err := h.Service.ListOrders(c.Request.Context(), filter)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	items := make([]orderItem, 0, len(orders))
	for i := range orders {
		items = append(items, toOrderItem(&orders[i]))
	}

	resp := gin.H{"orders": items}
	if next != "" {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListInstruments(c *gin.Context) {
	instruments, err := h.Service.ListInstruments(c.Request.Context())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	items := make([]gin.H, 0, len(instruments))
	for _, inst := range instruments {
		items = append(items, gin.H{"code": inst.Code, "name": inst.Name})
	}
	c.JSON(http.StatusOK, gin.H{"instruments": items})
}

func (h *Handler) GetAccount(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid account id", nil)
		return
	}

	account, holdings, err := h.Service.AccountSummary(c.Request.Context(), accountID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	held := make([]gin.H, 0, len(holdings))
	for _, holding := range holdings {
		held = append(held, gin.H{
			"instrument": holding.Instrument,
			"quantity":   holding.Quantity.String(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id":   account.ID.String(),
		"member_name":  account.MemberName,
		"cash_balance": account.CashBalance.String(),
		"holdings":     held,
	})
}

func (h *Handler) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, storage.ErrOrderAlreadyFilled):
		writeError(c, http.StatusConflict, "ORDER_ALREADY_FILLED", "order already fully filled", nil)
	case errors.Is(err, storage.ErrOrderAlreadyCancelled):
		writeError(c, http.StatusConflict, "ORDER_ALREADY_CANCELLED", "order already cancelled", nil)
	case errors.Is(err, engine.ErrUnknownInstrument):
		writeError(c, http.StatusBadRequest, "UNKNOWN_INSTRUMENT", "instrument is not tradable", nil)
	case errors.Is(err, engine.ErrInsufficientFunds):
		writeError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "not enough buying power", nil)
	case errors.Is(err, engine.ErrInsufficientHoldings):
		writeError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_HOLDINGS", "not enough held quantity", nil)
	case errors.Is(err, storage.ErrInvalidCursor):
		writeError(c, http.StatusBadRequest, "INVALID_CURSOR", "cursor is not valid", nil)
	default:
		h.Logger.Error("request failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func toOrderItem(order *storage.Order) orderItem {
	return orderItem{
		OrderID:    order.ID.String(),
		AccountID:  order.AccountID.String(),
		Instrument: order.Instrument,
		Side:       order.Side,
		Price:      order.Price.String(),
		Quantity:   order.Quantity.String(),
		Filled:     order.FilledQuantity.String(),
		Status:     order.Status,
		CreatedAt:  order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  order.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func writeError(c *gin.Context, status int, code, message string, fields []validation.FieldError) {
	c.JSON(status, errorResponse{Code: code, Message: message, Fields: fields})
}

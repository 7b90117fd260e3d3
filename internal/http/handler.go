package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"swiftshop/internal/models"
	"swiftshop/internal/paystack"
	"swiftshop/internal/services"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Reconciler drives payment initialization and verification.
type Reconciler interface {
	InitializePayment(ctx context.Context, intent models.PaymentIntent) (*paystack.InitializedTransaction, error)
	VerifyPayment(ctx context.Context, reference string) (*services.VerificationResult, error)
}

// Lifecycle governs order status and reads.
type Lifecycle interface {
	SetStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error)
	Cancel(ctx context.Context, orderID int64, reason string) (*models.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error)
	ListOrders(ctx context.Context) ([]*models.Order, error)
	ListOrdersByCustomerEmail(ctx context.Context, email string) ([]*models.Order, error)
}

type Handler struct {
	Payments Reconciler
	Orders   Lifecycle
	Logger   *zap.Logger
}

func NewHandler(payments Reconciler, orders Lifecycle, logger *zap.Logger) *Handler {
	return &Handler{Payments: payments, Orders: orders, Logger: logger}
}

type initializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyResponse struct {
	Order     *models.Order      `json:"order"`
	Items     []models.OrderItem `json:"items"`
	Duplicate bool               `json:"duplicate"`
}

func (h *Handler) InitializePayment(w http.ResponseWriter, r *http.Request) {
	var intent models.PaymentIntent
	if err := json.NewDecoder(r.Body).Decode(&intent); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	handle, err := h.Payments.InitializePayment(r.Context(), intent)
	if err != nil {
		h.respondError(w, err, "initialize payment failed")
		return
	}

	writeJSON(w, http.StatusOK, initializeResponse{
		AuthorizationURL: handle.AuthorizationURL,
		AccessCode:       handle.AccessCode,
		Reference:        handle.Reference,
	})
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		writeError(w, http.StatusBadRequest, "missing reference")
		return
	}

	result, err := h.Payments.VerifyPayment(r.Context(), reference)
	if err != nil {
		h.respondError(w, err, "verify payment failed")
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, verifyResponse{
		Order:     result.Order,
		Items:     result.Items,
		Duplicate: result.Duplicate,
	})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	order, items, err := h.Orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.respondError(w, err, "get order failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"order": order, "items": items})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []*models.Order
		err    error
	)
	if email := r.URL.Query().Get("email"); email != "" {
		orders, err = h.Orders.ListOrdersByCustomerEmail(r.Context(), email)
	} else {
		orders, err = h.Orders.ListOrders(r.Context())
	}
	if err != nil {
		h.respondError(w, err, "list orders failed")
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	order, err := h.Orders.SetStatus(r.Context(), orderID, models.OrderStatus(req.Status))
	if err != nil {
		h.respondError(w, err, "update status failed")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req cancelRequest
	if r.Body != nil {
		// Reason is optional; an empty body is fine.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	order, err := h.Orders.Cancel(r.Context(), orderID, req.Reason)
	if err != nil {
		h.respondError(w, err, "cancel order failed")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) respondError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrPaymentNotSuccessful):
		writeError(w, http.StatusPaymentRequired, "payment was not successful")
	case errors.Is(err, services.ErrIncompleteMetadata):
		writeError(w, http.StatusUnprocessableEntity, "transaction metadata is incomplete")
	case errors.Is(err, services.ErrGatewayUnavailable):
		writeError(w, http.StatusServiceUnavailable, "payment gateway unavailable, try again")
	case errors.Is(err, services.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, services.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.Logger.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

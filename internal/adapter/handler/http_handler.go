package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
	"github.com/rl1809/tenant-checkout/internal/core/service"
	"github.com/rl1809/tenant-checkout/internal/metrics"
)

const (
	TenantHeader = "X-Tenant-ID"
	UserHeader   = "X-User-ID"
)

type HTTPHandler struct {
	carts    *service.CartService
	checkout *service.CheckoutService
	orders   *service.OrderService
	metrics  *metrics.ServerMetrics
	timeout  time.Duration
}

type AddItemHTTPRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateItemHTTPRequest struct {
	Quantity int `json:"quantity"`
}

type CreateOrderHTTPRequest struct {
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
}

type UpdateStatusHTTPRequest struct {
	Status string `json:"status"`
}

type ListOrdersHTTPResponse struct {
	Orders     []domain.Order    `json:"orders"`
	Pagination domain.Pagination `json:"pagination"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func NewHTTPHandler(carts *service.CartService, checkout *service.CheckoutService, orders *service.OrderService, m *metrics.ServerMetrics, timeout time.Duration) *HTTPHandler {
	return &HTTPHandler{
		carts:    carts,
		checkout: checkout,
		orders:   orders,
		metrics:  m,
		timeout:  timeout,
	}
}

// Routes builds the router. metricsHandler may be nil.
func (h *HTTPHandler) Routes(metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.observe)

	r.Get("/health", h.HealthCheck)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(IdentityMiddleware)

		r.Get("/cart", h.GetCart)
		r.Delete("/cart", h.ClearCart)
		r.Post("/cart/items", h.AddItem)
		r.Put("/cart/items/{productID}", h.UpdateItem)
		r.Delete("/cart/items/{productID}", h.RemoveItem)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{orderID}", h.GetOrder)
		r.Patch("/orders/{orderID}/status", h.UpdateOrderStatus)
	})
	return r
}

// GetCart reclaims the user's cart first, so the first visit creates it and a
// visit after checkout starts a fresh one.
func (h *HTTPHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := identityFrom(r.Context())
	if _, err := h.carts.Reclaim(ctx, id.TenantID, id.UserID); err != nil {
		writeError(w, err)
		return
	}
	cart, err := h.carts.GetCart(ctx, id.TenantID, id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_request"})
		return
	}
	if req.ProductID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "product_id is required", Code: "invalid_request"})
		return
	}

	id := identityFrom(r.Context())
	cart, err := h.carts.AddItem(ctx, id.TenantID, id.UserID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateItemHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_request"})
		return
	}

	id := identityFrom(r.Context())
	cart, err := h.carts.UpdateItemQuantity(ctx, id.TenantID, id.UserID, chi.URLParam(r, "productID"), req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := identityFrom(r.Context())
	cart, err := h.carts.RemoveItem(ctx, id.TenantID, id.UserID, chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *HTTPHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := identityFrom(r.Context())
	if err := h.carts.ClearCart(ctx, id.TenantID, id.UserID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateOrderHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_request"})
		return
	}

	id := identityFrom(r.Context())
	order, err := h.checkout.CreateOrder(ctx, id.TenantID, id.UserID, req.ShippingAddress)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	q := r.URL.Query()
	page, err := optionalInt(q.Get("page"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "page must be a number", Code: "invalid_request"})
		return
	}
	limit, err := optionalInt(q.Get("limit"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a number", Code: "invalid_request"})
		return
	}

	id := identityFrom(r.Context())
	orders, pagination, err := h.orders.ListOrders(ctx, id.TenantID, id.UserID, domain.OrderFilter{
		Status: domain.OrderStatus(q.Get("status")),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListOrdersHTTPResponse{Orders: orders, Pagination: pagination})
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := identityFrom(r.Context())
	order, err := h.orders.GetOrder(ctx, id.TenantID, id.UserID, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req UpdateStatusHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_request"})
		return
	}

	id := identityFrom(r.Context())
	order, err := h.orders.UpdateOrderStatus(ctx, id.TenantID, chi.URLParam(r, "orderID"), domain.OrderStatus(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = r.Method + " " + rctx.RoutePattern()
		}
		h.metrics.Observe(route, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

func writeError(w http.ResponseWriter, err error) {
	var conflict *service.PricingConflictError

	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "pricing_conflict", Details: conflict.Changes})
	case errors.Is(err, service.ErrInsufficientStock):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "insufficient_stock"})
	case errors.Is(err, service.ErrIllegalTransition):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "illegal_transition"})
	case errors.Is(err, service.ErrProductUnavailable):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Code: "product_unavailable"})
	case errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidAddress),
		errors.Is(err, service.ErrInvalidStatus):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_request"})
	case errors.Is(err, service.ErrEmptyCart):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "empty_cart"})
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrCartNotFound),
		errors.Is(err, service.ErrItemNotFound),
		errors.Is(err, service.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out", Code: "timeout"})
	default:
		log.Printf("http: internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"})
	}
}

func optionalInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

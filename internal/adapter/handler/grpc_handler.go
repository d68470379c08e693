package handler

import (
	"context"
	"errors"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
	"github.com/rl1809/tenant-checkout/internal/core/service"
	"github.com/rl1809/tenant-checkout/internal/metrics"
)

type GRPCHandler struct {
	carts    *service.CartService
	checkout *service.CheckoutService
	orders   *service.OrderService
}

func NewGRPCHandler(carts *service.CartService, checkout *service.CheckoutService, orders *service.OrderService) *GRPCHandler {
	return &GRPCHandler{carts: carts, checkout: checkout, orders: orders}
}

func (h *GRPCHandler) GetCart(ctx context.Context, req *CartRequest) (*domain.Cart, error) {
	if req.TenantID == "" || req.UserID == "" {
		return nil, errMissingIdentity
	}
	if _, err := h.carts.Reclaim(ctx, req.TenantID, req.UserID); err != nil {
		return nil, grpcError(err)
	}
	cart, err := h.carts.GetCart(ctx, req.TenantID, req.UserID)
	if err != nil {
		return nil, grpcError(err)
	}
	return cart, nil
}

func (h *GRPCHandler) AddItem(ctx context.Context, req *ItemRequest) (*domain.Cart, error) {
	if req.TenantID == "" || req.UserID == "" {
		return nil, errMissingIdentity
	}
	cart, err := h.carts.AddItem(ctx, req.TenantID, req.UserID, req.ProductID, req.Quantity)
	if err != nil {
		return nil, grpcError(err)
	}
	return cart, nil
}

func (h *GRPCHandler) UpdateItem(ctx context.Context, req *ItemRequest) (*domain.Cart, error) {
	if req.TenantID == "" || req.UserID == "" {
		return nil, errMissingIdentity
	}
	cart, err := h.carts.UpdateItemQuantity(ctx, req.TenantID, req.UserID, req.ProductID, req.Quantity)
	if err != nil {
		return nil, grpcError(err)
	}
	return cart, nil
}

func (h *GRPCHandler) RemoveItem(ctx context.Context, req *ItemRequest) (*domain.Cart, error) {
	if req.TenantID == "" || req.UserID == "" {
		return nil, errMissingIdentity
	}
	cart, err := h.carts.RemoveItem(ctx, req.TenantID, req.UserID, req.ProductID)
	if err != nil {
		return nil, grpcError(err)
	}
	return cart, nil
}

func (h *GRPCHandler) ClearCart(ctx context.Context, req *CartRequest) (*Empty, error) {
	if req.TenantID == "" || req.UserID == "" {
		return nil, errMissingIdentity
	}
	if err := h.carts.ClearCart(ctx, req.TenantID, req.UserID); err != nil {
		return nil, grpcError(err)
	}
	return &Empty{}, nil
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*domain.Order, error) {
	if req.TenantID == "" || req.UserID == "" {
		return nil, errMissingIdentity
	}
	order, err := h.checkout.CreateOrder(ctx, req.TenantID, req.UserID, req.ShippingAddress)
	if err != nil {
		return nil, grpcError(err)
	}
	return order, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*domain.Order, error) {
	if req.TenantID == "" || req.UserID == "" {
		return nil, errMissingIdentity
	}
	order, err := h.orders.GetOrder(ctx, req.TenantID, req.UserID, req.OrderID)
	if err != nil {
		return nil, grpcError(err)
	}
	return order, nil
}

func (h *GRPCHandler) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	if req.TenantID == "" || req.UserID == "" {
		return nil, errMissingIdentity
	}
	orders, page, err := h.orders.ListOrders(ctx, req.TenantID, req.UserID, domain.OrderFilter{
		Status: domain.OrderStatus(req.Status),
		Page:   req.Page,
		Limit:  req.Limit,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return &ListOrdersResponse{Orders: orders, Pagination: page}, nil
}

func (h *GRPCHandler) UpdateOrderStatus(ctx context.Context, req *UpdateOrderStatusRequest) (*domain.Order, error) {
	if req.TenantID == "" {
		return nil, errMissingIdentity
	}
	order, err := h.orders.UpdateOrderStatus(ctx, req.TenantID, req.OrderID, domain.OrderStatus(req.Status))
	if err != nil {
		return nil, grpcError(err)
	}
	return order, nil
}

var errMissingIdentity = status.Error(codes.Unauthenticated, "tenant_id and user_id are required")

func grpcError(err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidAddress),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrEmptyCart):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrCartNotFound),
		errors.Is(err, service.ErrItemNotFound),
		errors.Is(err, service.ErrOrderNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrPricingConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, service.ErrInsufficientStock),
		errors.Is(err, service.ErrProductUnavailable),
		errors.Is(err, service.ErrIllegalTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")
	default:
		log.Printf("grpc: internal error: %v", err)
		return status.Error(codes.Internal, "internal error")
	}
}

// UnaryMetricsInterceptor records per-method request counts and latency.
func UnaryMetricsInterceptor(m *metrics.ServerMetrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		m.Observe(info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

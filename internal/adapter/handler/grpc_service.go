package handler

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
)

// The checkout RPC surface is described by hand and carried as JSON, so
// clients must call with the "json" content-subtype (see NewCheckoutClient).

const checkoutServiceName = "checkout.v1.CheckoutService"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type CartRequest struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

type ItemRequest struct {
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity,omitempty"`
}

type CreateOrderRequest struct {
	TenantID        string                 `json:"tenant_id"`
	UserID          string                 `json:"user_id"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
}

type GetOrderRequest struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	OrderID  string `json:"order_id"`
}

type ListOrdersRequest struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Status   string `json:"status,omitempty"`
	Page     int    `json:"page,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

type ListOrdersResponse struct {
	Orders     []domain.Order    `json:"orders"`
	Pagination domain.Pagination `json:"pagination"`
}

type UpdateOrderStatusRequest struct {
	TenantID string `json:"tenant_id"`
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
}

type Empty struct{}

type CheckoutServer interface {
	GetCart(context.Context, *CartRequest) (*domain.Cart, error)
	AddItem(context.Context, *ItemRequest) (*domain.Cart, error)
	UpdateItem(context.Context, *ItemRequest) (*domain.Cart, error)
	RemoveItem(context.Context, *ItemRequest) (*domain.Cart, error)
	ClearCart(context.Context, *CartRequest) (*Empty, error)
	CreateOrder(context.Context, *CreateOrderRequest) (*domain.Order, error)
	GetOrder(context.Context, *GetOrderRequest) (*domain.Order, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	UpdateOrderStatus(context.Context, *UpdateOrderStatusRequest) (*domain.Order, error)
}

var CheckoutServiceDesc = grpc.ServiceDesc{
	ServiceName: checkoutServiceName,
	HandlerType: (*CheckoutServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetCart", CheckoutServer.GetCart),
		unary("AddItem", CheckoutServer.AddItem),
		unary("UpdateItem", CheckoutServer.UpdateItem),
		unary("RemoveItem", CheckoutServer.RemoveItem),
		unary("ClearCart", CheckoutServer.ClearCart),
		unary("CreateOrder", CheckoutServer.CreateOrder),
		unary("GetOrder", CheckoutServer.GetOrder),
		unary("ListOrders", CheckoutServer.ListOrders),
		unary("UpdateOrderStatus", CheckoutServer.UpdateOrderStatus),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterCheckoutServer(s grpc.ServiceRegistrar, srv CheckoutServer) {
	s.RegisterService(&CheckoutServiceDesc, srv)
}

func unary[Req, Resp any](method string, call func(CheckoutServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + checkoutServiceName + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CheckoutServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(CheckoutServer), ctx, req.(*Req))
			})
		},
	}
}

// CheckoutClient is the client side of CheckoutServiceDesc.
type CheckoutClient struct {
	cc grpc.ClientConnInterface
}

func NewCheckoutClient(cc grpc.ClientConnInterface) *CheckoutClient {
	return &CheckoutClient{cc: cc}
}

func (c *CheckoutClient) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(jsonCodec{}.Name())}, opts...)
	return c.cc.Invoke(ctx, "/"+checkoutServiceName+"/"+method, in, out, opts...)
}

func (c *CheckoutClient) GetCart(ctx context.Context, in *CartRequest, opts ...grpc.CallOption) (*domain.Cart, error) {
	out := new(domain.Cart)
	if err := c.invoke(ctx, "GetCart", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CheckoutClient) AddItem(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*domain.Cart, error) {
	out := new(domain.Cart)
	if err := c.invoke(ctx, "AddItem", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CheckoutClient) UpdateItem(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*domain.Cart, error) {
	out := new(domain.Cart)
	if err := c.invoke(ctx, "UpdateItem", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CheckoutClient) RemoveItem(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*domain.Cart, error) {
	out := new(domain.Cart)
	if err := c.invoke(ctx, "RemoveItem", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CheckoutClient) ClearCart(ctx context.Context, in *CartRequest, opts ...grpc.CallOption) error {
	return c.invoke(ctx, "ClearCart", in, new(Empty), opts...)
}

func (c *CheckoutClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*domain.Order, error) {
	out := new(domain.Order)
	if err := c.invoke(ctx, "CreateOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CheckoutClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*domain.Order, error) {
	out := new(domain.Order)
	if err := c.invoke(ctx, "GetOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CheckoutClient) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	out := new(ListOrdersResponse)
	if err := c.invoke(ctx, "ListOrders", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CheckoutClient) UpdateOrderStatus(ctx context.Context, in *UpdateOrderStatusRequest, opts ...grpc.CallOption) (*domain.Order, error) {
	out := new(domain.Order)
	if err := c.invoke(ctx, "UpdateOrderStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPlaced     OrderStatus = "PLACED"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPlaced, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

type ShippingAddress struct {
	FullName   string `json:"full_name"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// MissingField returns the JSON name of the first empty field, or "".
func (a ShippingAddress) MissingField() string {
	fields := []struct {
		name  string
		value string
	}{
		{"full_name", a.FullName},
		{"street", a.Street},
		{"city", a.City},
		{"state", a.State},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	}
	for _, f := range fields {
		if f.value == "" {
			return f.name
		}
	}
	return ""
}

type Order struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	UserID          string          `json:"user_id"`
	OrderNumber     string          `json:"order_number"`
	Items           []CartItem      `json:"items"`
	TotalItems      int             `json:"total_items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TotalDiscount   decimal.Decimal `json:"total_discount"`
	Total           decimal.Decimal `json:"total"`
	Status          OrderStatus     `json:"status"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewOrderFromCart snapshots the cart. Later cart or catalog changes do not
// reach the returned order.
func NewOrderFromCart(id, number string, cart Cart, addr ShippingAddress, now time.Time) Order {
	return Order{
		ID:              id,
		TenantID:        cart.TenantID,
		UserID:          cart.UserID,
		OrderNumber:     number,
		Items:           cloneItems(cart.Items),
		TotalItems:      cart.TotalItems,
		Subtotal:        cart.Subtotal,
		TotalDiscount:   cart.TotalDiscount,
		Total:           cart.Total,
		Status:          OrderStatusPlaced,
		ShippingAddress: addr,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (o Order) Clone() Order {
	o.Items = cloneItems(o.Items)
	return o
}

// FormatOrderNumber renders ORD-YYMM-NNNNNN from the tenant sequence.
func FormatOrderNumber(createdAt time.Time, seq int64) string {
	return fmt.Sprintf("ORD-%s-%06d", createdAt.UTC().Format("0601"), seq)
}

type OrderFilter struct {
	Status OrderStatus
	Page   int
	Limit  int
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

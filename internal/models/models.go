package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

type OrderStatus string

const (
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// ValidOrderStatus reports membership in the order status set.
func ValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// TerminalStatus reports whether no transition leaves s.
func TerminalStatus(s OrderStatus) bool {
	return s == OrderDelivered || s == OrderCancelled
}

type Order struct {
	ID                int64           `json:"id"`
	OrderNumber       string          `json:"order_number"`
	PaystackReference string          `json:"paystack_reference"`
	CustomerName      string          `json:"customer_name"`
	CustomerEmail     string          `json:"customer_email"`
	CustomerPhone     string          `json:"customer_phone"`
	Street            string          `json:"street"`
	City              string          `json:"city"`
	State             string          `json:"state"`
	PostalCode        string          `json:"postal_code"`
	Country           string          `json:"country"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	DeliveryFee       decimal.Decimal `json:"delivery_fee"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	OrderStatus       OrderStatus     `json:"order_status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// OrderItem is a purchase-time snapshot of a catalog product. The name and
// price are denormalized on purpose so later catalog edits never rewrite
// history. Items are immutable once the owning order is committed.
type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// IntentItem is one line of a checkout intent before any order exists.
type IntentItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// PaymentIntent is the full checkout bundle. It is never persisted locally:
// it rides to Paystack as transaction metadata and is reconstructed verbatim
// from the verification echo, which is what lets the system avoid a pending
// orders table entirely.
type PaymentIntent struct {
	CustomerName  string          `json:"customer_name"`
	CustomerEmail string          `json:"customer_email"`
	CustomerPhone string          `json:"customer_phone"`
	Street        string          `json:"street"`
	City          string          `json:"city"`
	State         string          `json:"state"`
	PostalCode    string          `json:"postal_code"`
	Country       string          `json:"country"`
	Items         []IntentItem    `json:"items"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
}

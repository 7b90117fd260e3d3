package notify

import (
	"context"
	"time"

	"swiftshop/internal/models"

	"github.com/google/uuid"
)

type Kind string

const (
	KindOrderCreated   Kind = "order_created"
	KindOrderShipped   Kind = "order_shipped"
	KindOrderDelivered Kind = "order_delivered"
	KindOrderCancelled Kind = "order_cancelled"
)

// Event is the order-lifecycle fact handed to the dispatcher. It carries a
// snapshot of everything the notifier needs so the consumer never has to
// read the orders table.
type Event struct {
	EventID           string `json:"event_id"`
	Kind              Kind   `json:"kind"`
	OrderID           int64  `json:"order_id"`
	OrderNumber       string `json:"order_number"`
	CustomerName      string `json:"customer_name"`
	CustomerEmail     string `json:"customer_email"`
	TotalAmount       string `json:"total_amount"`
	Reason            string `json:"reason,omitempty"`
	EstimatedDelivery string `json:"estimated_delivery,omitempty"`
	OccurredAt        string `json:"occurred_at"`
}

// Dispatcher accepts lifecycle events best-effort. Callers log a failed
// Notify and move on; a slow or down notification path must never delay or
// fail an order operation.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// NewEvent builds an event from an order snapshot.
func NewEvent(kind Kind, order *models.Order) Event {
	return Event{
		EventID:       uuid.NewString(),
		Kind:          kind,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		TotalAmount:   order.TotalAmount.StringFixed(2),
		OccurredAt:    time.Now().UTC().Format(time.RFC3339),
	}
}

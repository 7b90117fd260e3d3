package services

import (
	"context"
	"errors"
	"fmt"

	"swiftshop/internal/models"
	"swiftshop/internal/notify"
	"swiftshop/internal/store"

	"go.uber.org/zap"
)

// transitions is the fulfillment state machine. delivered and cancelled are
// terminal; there is no way back to processing.
var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderProcessing: {models.OrderShipped, models.OrderCancelled},
	models.OrderShipped:    {models.OrderDelivered, models.OrderCancelled},
}

func transitionAllowed(from, to models.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LifecycleController applies order status transitions and fires the
// matching notifications. Notifications are strictly a side effect: their
// failure is logged and never rolls back or fails a transition.
type LifecycleController struct {
	Store            OrderStore
	Dispatcher       notify.Dispatcher
	Logger           *zap.Logger
	DeliveryEstimate string
}

// SetStatus moves an order along the lifecycle graph.
func (c *LifecycleController) SetStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	if !models.ValidOrderStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	order, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if order.OrderStatus == status {
		// Re-applying the current status is a no-op, not a violation.
		return order, nil
	}
	if !transitionAllowed(order.OrderStatus, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.OrderStatus, status)
	}

	updated, err := c.Store.UpdateStatus(ctx, orderID, status)
	if err != nil {
		return nil, mapStoreError(err)
	}

	c.Logger.Info("Order status updated",
		zap.Int64("order_id", updated.ID),
		zap.String("from", string(order.OrderStatus)),
		zap.String("to", string(status)),
	)

	switch status {
	case models.OrderShipped:
		event := notify.NewEvent(notify.KindOrderShipped, updated)
		event.EstimatedDelivery = c.DeliveryEstimate
		c.dispatch(ctx, event)
	case models.OrderDelivered:
		c.dispatch(ctx, notify.NewEvent(notify.KindOrderDelivered, updated))
	}

	return updated, nil
}

// Cancel forces an order to cancelled from any non-terminal state.
func (c *LifecycleController) Cancel(ctx context.Context, orderID int64, reason string) (*models.Order, error) {
	order, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if order.OrderStatus == models.OrderCancelled {
		return order, nil
	}
	if models.TerminalStatus(order.OrderStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.OrderStatus, models.OrderCancelled)
	}

	updated, err := c.Store.UpdateStatus(ctx, orderID, models.OrderCancelled)
	if err != nil {
		return nil, mapStoreError(err)
	}

	c.Logger.Info("Order cancelled",
		zap.Int64("order_id", updated.ID),
		zap.String("reason", reason),
	)

	event := notify.NewEvent(notify.KindOrderCancelled, updated)
	event.Reason = reason
	c.dispatch(ctx, event)

	return updated, nil
}

func (c *LifecycleController) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.OrderItem, error) {
	order, err := c.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, nil, mapStoreError(err)
	}
	items, err := c.Store.GetItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

func (c *LifecycleController) ListOrders(ctx context.Context) ([]*models.Order, error) {
	return c.Store.ListOrders(ctx)
}

func (c *LifecycleController) ListOrdersByCustomerEmail(ctx context.Context, email string) ([]*models.Order, error) {
	return c.Store.ListOrdersByEmail(ctx, email)
}

func (c *LifecycleController) dispatch(ctx context.Context, event notify.Event) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := c.Dispatcher.Notify(ctx, event); err != nil {
			c.Logger.Warn("Notification dispatch failed",
				zap.String("kind", string(event.Kind)),
				zap.Int64("order_id", event.OrderID),
				zap.Error(err),
			)
		}
	}()
}

func mapStoreError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrOrderNotFound
	}
	return err
}

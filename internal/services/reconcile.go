package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"swiftshop/internal/models"
	"swiftshop/internal/notify"
	"swiftshop/internal/paystack"
	"swiftshop/internal/pricing"
	"swiftshop/internal/store"
	"swiftshop/internal/telemetry"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OrderTx is one storage transaction of the reconciliation protocol.
type OrderTx interface {
	FindByReference(ctx context.Context, reference string, forUpdate bool) (*models.Order, error)
	InsertOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) (*models.Order, []models.OrderItem, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// OrderStore is the durable order storage consumed by the engine and the
// lifecycle controller.
type OrderStore interface {
	Begin(ctx context.Context) (OrderTx, error)
	FindByReference(ctx context.Context, reference string) (*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	GetItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error)
	ListOrders(ctx context.Context) ([]*models.Order, error)
	ListOrdersByEmail(ctx context.Context, email string) ([]*models.Order, error)
}

// Gateway is the verified-transaction oracle.
type Gateway interface {
	InitializeTransaction(ctx context.Context, email string, amountKobo int64, callbackURL string, metadata models.PaymentIntent) (*paystack.InitializedTransaction, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystack.VerifiedTransaction, error)
}

// PgOrderStore adapts *store.Store to OrderStore.
type PgOrderStore struct {
	*store.Store
}

func (s PgOrderStore) Begin(ctx context.Context) (OrderTx, error) {
	tx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ReconciliationEngine turns verified gateway transactions into orders,
// at most one per reference.
type ReconciliationEngine struct {
	Store       OrderStore
	Gateway     Gateway
	Dispatcher  notify.Dispatcher
	Pricing     pricing.Service
	CallbackURL string
	Logger      *zap.Logger
}

// VerificationResult is the outcome of VerifyPayment. Duplicate is true when
// the order already existed and this call changed nothing.
type VerificationResult struct {
	Order     *models.Order
	Items     []models.OrderItem
	Duplicate bool
}

// InitializePayment requests a hosted-payment-page handle from the gateway,
// embedding the whole intent as metadata. Nothing is written locally; the
// order only comes into existence at verification time.
func (e *ReconciliationEngine) InitializePayment(ctx context.Context, intent models.PaymentIntent) (*paystack.InitializedTransaction, error) {
	ctx, span := otel.Tracer("reconciliation").Start(ctx, "InitializePayment")
	defer span.End()

	if err := validateIntent(intent); err != nil {
		return nil, err
	}

	// The gateway deals in minor units; everything else in this package is
	// decimal majors. This is the single conversion point.
	amountKobo := intent.TotalAmount.Mul(decimal.NewFromInt(100)).IntPart()

	handle, err := e.Gateway.InitializeTransaction(ctx, intent.CustomerEmail, amountKobo, e.CallbackURL, intent)
	if err != nil {
		span.RecordError(err)
		return nil, classifyGatewayError(err)
	}

	span.SetAttributes(attribute.String("paystack.reference", handle.Reference))
	e.Logger.Info("Payment initialized",
		zap.String("reference", handle.Reference),
		zap.String("email", intent.CustomerEmail),
		zap.Int64("amount_kobo", amountKobo),
	)
	return handle, nil
}

// VerifyPayment runs the idempotent commit-or-return-existing protocol.
//
// The row lock taken on the existing order serializes concurrent verifies for
// one reference; the uniqueness constraint on paystack_reference backstops
// isolation levels where the lock alone is not enough. Either way at most one
// order per reference is ever committed.
func (e *ReconciliationEngine) VerifyPayment(ctx context.Context, reference string) (*VerificationResult, error) {
	// Caller cancellation must not strand a half-open transaction; the
	// operation runs to completion or rolls back on its own terms.
	ctx = context.WithoutCancel(ctx)
	ctx, span := otel.Tracer("reconciliation").Start(ctx, "VerifyPayment")
	defer span.End()
	span.SetAttributes(attribute.String("paystack.reference", reference))

	if reference == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrValidation)
	}

	tx, err := e.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	existing, err := tx.FindByReference(ctx, reference, true)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		// Duplicate delivery: webhook and redirect racing, or a retried
		// webhook. Release the lock and return what was committed before.
		// No second gateway call, no second insert.
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return e.duplicateResult(ctx, span, existing)
	}

	verified, err := e.Gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		span.RecordError(err)
		return nil, classifyGatewayError(err)
	}
	if !verified.Succeeded {
		e.Logger.Info("Payment not successful", zap.String("reference", reference))
		return nil, ErrPaymentNotSuccessful
	}

	intent := verified.Metadata
	if intent == nil || intent.CustomerName == "" || intent.CustomerEmail == "" || intent.CustomerPhone == "" {
		e.Logger.Error("Verified transaction missing identity metadata", zap.String("reference", reference))
		return nil, ErrIncompleteMetadata
	}

	e.checkAmountIntegrity(ctx, reference, *intent)

	order, items := buildOrder(reference, *intent)
	created, insertedItems, err := tx.InsertOrderWithItems(ctx, order, items)
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			// Lost a race that the row lock did not cover. The winner's row
			// is the order; read it back outside the failed transaction.
			return e.recoverDuplicate(ctx, span, reference, err)
		}
		return nil, err
	}

	telemetry.RecordOrderCreated()
	span.SetAttributes(attribute.Int64("order.id", created.ID))
	e.Logger.Info("Order created",
		zap.Int64("order_id", created.ID),
		zap.String("order_number", created.OrderNumber),
		zap.String("reference", reference),
	)

	e.dispatch(ctx, notify.NewEvent(notify.KindOrderCreated, created))

	return &VerificationResult{Order: created, Items: insertedItems}, nil
}

func (e *ReconciliationEngine) duplicateResult(ctx context.Context, span trace.Span, order *models.Order) (*VerificationResult, error) {
	items, err := e.Store.GetItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	telemetry.RecordDuplicateVerify()
	span.SetAttributes(attribute.Bool("duplicate", true), attribute.Int64("order.id", order.ID))
	e.Logger.Info("Duplicate verification, returning existing order",
		zap.Int64("order_id", order.ID),
		zap.String("reference", order.PaystackReference),
	)
	return &VerificationResult{Order: order, Items: items, Duplicate: true}, nil
}

func (e *ReconciliationEngine) recoverDuplicate(ctx context.Context, span trace.Span, reference string, cause error) (*VerificationResult, error) {
	existing, err := e.Store.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// Constraint fired but the winning row is not visible. Surface the
		// original failure rather than inventing an outcome.
		return nil, cause
	}
	return e.duplicateResult(ctx, span, existing)
}

// checkAmountIntegrity recomputes the charge from the reconstructed lines and
// the quoted delivery fee. The flow trusts the client-submitted total, so a
// mismatch is logged for investigation rather than failing the verification.
func (e *ReconciliationEngine) checkAmountIntegrity(ctx context.Context, reference string, intent models.PaymentIntent) {
	recomputed := intent.DeliveryFee
	for _, item := range intent.Items {
		recomputed = recomputed.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if !recomputed.Equal(intent.TotalAmount) {
		e.Logger.Warn("Charged total does not match reconstructed item total",
			zap.String("reference", reference),
			zap.String("charged", intent.TotalAmount.String()),
			zap.String("recomputed", recomputed.String()),
		)
	}

	quote, err := e.Pricing.QuoteDelivery(ctx, intent.Subtotal)
	if err != nil {
		return
	}
	if !quote.DeliveryFee.Equal(intent.DeliveryFee) {
		e.Logger.Warn("Charged delivery fee does not match quote",
			zap.String("reference", reference),
			zap.String("charged", intent.DeliveryFee.String()),
			zap.String("quoted", quote.DeliveryFee.String()),
			zap.String("source", quote.Source),
		)
	}
}

func (e *ReconciliationEngine) dispatch(ctx context.Context, event notify.Event) {
	go func() {
		if err := e.Dispatcher.Notify(ctx, event); err != nil {
			e.Logger.Warn("Notification dispatch failed",
				zap.String("kind", string(event.Kind)),
				zap.Int64("order_id", event.OrderID),
				zap.Error(err),
			)
		}
	}()
}

func validateIntent(intent models.PaymentIntent) error {
	required := []struct {
		field, value string
	}{
		{"customer_name", intent.CustomerName},
		{"customer_email", intent.CustomerEmail},
		{"customer_phone", intent.CustomerPhone},
		{"street", intent.Street},
		{"city", intent.City},
		{"state", intent.State},
		{"postal_code", intent.PostalCode},
		{"country", intent.Country},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, r.field)
		}
	}
	if len(intent.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	for _, item := range intent.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item quantity must be positive", ErrValidation)
		}
	}
	if !intent.TotalAmount.IsPositive() {
		return fmt.Errorf("%w: total amount must be positive", ErrValidation)
	}
	return nil
}

func buildOrder(reference string, intent models.PaymentIntent) (*models.Order, []models.OrderItem) {
	order := &models.Order{
		OrderNumber:       generateOrderNumber(),
		PaystackReference: reference,
		CustomerName:      intent.CustomerName,
		CustomerEmail:     intent.CustomerEmail,
		CustomerPhone:     intent.CustomerPhone,
		Street:            intent.Street,
		City:              intent.City,
		State:             intent.State,
		PostalCode:        intent.PostalCode,
		Country:           intent.Country,
		Subtotal:          intent.Subtotal,
		DeliveryFee:       intent.DeliveryFee,
		TotalAmount:       intent.TotalAmount,
		PaymentStatus:     models.PaymentCompleted,
		OrderStatus:       models.OrderProcessing,
	}

	items := make([]models.OrderItem, 0, len(intent.Items))
	for _, line := range intent.Items {
		items = append(items, models.OrderItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Subtotal:    line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
		})
	}
	return order, items
}

// generateOrderNumber mints a display number. Uniqueness beyond display is
// not required; the reference is the real key.
func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%d%03d", time.Now().UnixMilli(), rand.IntN(1000))
}

// classifyGatewayError keeps driver and HTTP client errors from crossing the
// engine boundary. Timeouts, 5xx and malformed responses all read the same to
// a caller: try again later.
func classifyGatewayError(err error) error {
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"swiftshop/internal/models"
	"swiftshop/internal/notify"
	"swiftshop/internal/paystack"
	"swiftshop/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

// fakeStore emulates the storage semantics the protocol depends on: a
// write-intent lock serializing transactions per store, and plain reads that
// never block (MVCC). Changes stage inside a transaction and only become
// visible at Commit.
type fakeStore struct {
	dataMu       sync.RWMutex
	lockMu       sync.Mutex
	nextID       int64
	byReference  map[string]*models.Order
	itemsByOrder map[int64][]models.OrderItem

	failItemInsert bool
	insertErr      error
	// staleTxReads makes transactional lookups miss rows committed by other
	// "processes", reproducing the snapshot gap the unique constraint backstops.
	staleTxReads bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byReference:  make(map[string]*models.Order),
		itemsByOrder: make(map[int64][]models.OrderItem),
	}
}

func (s *fakeStore) Begin(ctx context.Context) (OrderTx, error) {
	return &fakeTx{store: s}, nil
}

func (s *fakeStore) FindByReference(ctx context.Context, reference string) (*models.Order, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	if order, ok := s.byReference[reference]; ok {
		copied := *order
		return &copied, nil
	}
	return nil, nil
}

func (s *fakeStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	for _, order := range s.byReference {
		if order.ID == id {
			copied := *order
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) GetItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return append([]models.OrderItem(nil), s.itemsByOrder[orderID]...), nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	for _, order := range s.byReference {
		if order.ID == id {
			order.OrderStatus = status
			order.UpdatedAt = time.Now().UTC()
			copied := *order
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) ListOrders(ctx context.Context) ([]*models.Order, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var out []*models.Order
	for _, order := range s.byReference {
		copied := *order
		out = append(out, &copied)
	}
	return out, nil
}

func (s *fakeStore) ListOrdersByEmail(ctx context.Context, email string) ([]*models.Order, error) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	var out []*models.Order
	for _, order := range s.byReference {
		if order.CustomerEmail == email {
			copied := *order
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *fakeStore) count() int {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	return len(s.byReference)
}

func (s *fakeStore) seed(order *models.Order, items []models.OrderItem) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.nextID++
	order.ID = s.nextID
	s.byReference[order.PaystackReference] = order
	s.itemsByOrder[order.ID] = items
}

type fakeTx struct {
	store        *fakeStore
	locked       bool
	done         bool
	pendingOrder *models.Order
	pendingItems []models.OrderItem
}

func (t *fakeTx) FindByReference(ctx context.Context, reference string, forUpdate bool) (*models.Order, error) {
	if forUpdate && !t.locked {
		t.store.lockMu.Lock()
		t.locked = true
	}
	if t.store.staleTxReads {
		return nil, nil
	}
	return t.store.FindByReference(ctx, reference)
}

func (t *fakeTx) InsertOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) (*models.Order, []models.OrderItem, error) {
	if t.store.insertErr != nil {
		return nil, nil, t.store.insertErr
	}
	if existing, _ := t.store.FindByReference(ctx, order.PaystackReference); existing != nil {
		return nil, nil, store.ErrUniqueViolation
	}
	if t.store.failItemInsert {
		return nil, nil, errors.New("order_items insert failed")
	}
	t.pendingOrder = order
	t.pendingItems = items
	return order, items, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	defer t.release()
	if t.pendingOrder == nil {
		return nil
	}
	t.store.dataMu.Lock()
	defer t.store.dataMu.Unlock()
	if _, ok := t.store.byReference[t.pendingOrder.PaystackReference]; ok {
		return store.ErrUniqueViolation
	}
	t.store.nextID++
	t.pendingOrder.ID = t.store.nextID
	t.pendingOrder.CreatedAt = time.Now().UTC()
	t.pendingOrder.UpdatedAt = t.pendingOrder.CreatedAt
	for i := range t.pendingItems {
		t.pendingItems[i].OrderID = t.pendingOrder.ID
		t.pendingItems[i].ID = int64(i + 1)
	}
	t.store.byReference[t.pendingOrder.PaystackReference] = t.pendingOrder
	t.store.itemsByOrder[t.pendingOrder.ID] = t.pendingItems
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.release()
	return nil
}

func (t *fakeTx) release() {
	if t.done {
		return
	}
	t.done = true
	if t.locked {
		t.store.lockMu.Unlock()
		t.locked = false
	}
}

type fakeGateway struct {
	mu          sync.Mutex
	verifyCalls int
	verify      func(reference string) (*paystack.VerifiedTransaction, error)
	initialize  func() (*paystack.InitializedTransaction, error)
}

func (g *fakeGateway) InitializeTransaction(ctx context.Context, email string, amountKobo int64, callbackURL string, metadata models.PaymentIntent) (*paystack.InitializedTransaction, error) {
	if g.initialize != nil {
		return g.initialize()
	}
	return &paystack.InitializedTransaction{
		AuthorizationURL: "https://checkout.paystack.com/abc123",
		AccessCode:       "abc123",
		Reference:        "REF123",
	}, nil
}

func (g *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*paystack.VerifiedTransaction, error) {
	g.mu.Lock()
	g.verifyCalls++
	g.mu.Unlock()
	return g.verify(reference)
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.verifyCalls
}

type fakeDispatcher struct {
	events chan notify.Event
	err    error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{events: make(chan notify.Event, 16)}
}

func (d *fakeDispatcher) Notify(ctx context.Context, event notify.Event) error {
	d.events <- event
	return d.err
}

func (d *fakeDispatcher) wait(t *testing.T) notify.Event {
	t.Helper()
	select {
	case ev := <-d.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification event")
		return notify.Event{}
	}
}

func testIntent() models.PaymentIntent {
	return models.PaymentIntent{
		CustomerName:  "Ada Obi",
		CustomerEmail: "ada@example.com",
		CustomerPhone: "+2348012345678",
		Street:        "12 Marina Road",
		City:          "Lagos",
		State:         "Lagos",
		PostalCode:    "100001",
		Country:       "NG",
		Items: []models.IntentItem{
			{ProductID: 1, ProductName: "Sneakers", Quantity: 2, UnitPrice: decimal.NewFromInt(15000)},
			{ProductID: 2, ProductName: "Backpack", Quantity: 1, UnitPrice: decimal.NewFromInt(15000)},
		},
		Subtotal:    decimal.NewFromInt(45000),
		DeliveryFee: decimal.Zero,
		TotalAmount: decimal.NewFromInt(45000),
	}
}

func successGateway(intent models.PaymentIntent) *fakeGateway {
	return &fakeGateway{
		verify: func(reference string) (*paystack.VerifiedTransaction, error) {
			return &paystack.VerifiedTransaction{
				Succeeded:  true,
				Reference:  reference,
				AmountKobo: intent.TotalAmount.Mul(decimal.NewFromInt(100)).IntPart(),
				Metadata:   &intent,
			}, nil
		},
	}
}

func newEngine(t *testing.T, st *fakeStore, gw *fakeGateway, d *fakeDispatcher) *ReconciliationEngine {
	t.Helper()
	return &ReconciliationEngine{
		Store:       st,
		Gateway:     gw,
		Dispatcher:  d,
		CallbackURL: "http://localhost:3000/payment/callback",
		Logger:      zaptest.NewLogger(t),
	}
}

func TestInitializePayment_RequiresIdentityFields(t *testing.T) {
	st := newFakeStore()
	engine := newEngine(t, st, successGateway(testIntent()), newFakeDispatcher())

	intent := testIntent()
	intent.CustomerEmail = ""
	if _, err := engine.InitializePayment(context.Background(), intent); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	intent = testIntent()
	intent.Items = nil
	if _, err := engine.InitializePayment(context.Background(), intent); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty items, got %v", err)
	}
}

func TestInitializePayment_NeverCreatesOrder(t *testing.T) {
	st := newFakeStore()
	engine := newEngine(t, st, successGateway(testIntent()), newFakeDispatcher())

	for i := 0; i < 5; i++ {
		handle, err := engine.InitializePayment(context.Background(), testIntent())
		if err != nil {
			t.Fatalf("initialize failed: %v", err)
		}
		if handle.AuthorizationURL == "" || handle.Reference == "" {
			t.Fatalf("incomplete handle: %+v", handle)
		}
	}
	if n := st.count(); n != 0 {
		t.Fatalf("expected 0 orders after initialization, got %d", n)
	}
}

func TestInitializePayment_GatewayUnavailable(t *testing.T) {
	gw := &fakeGateway{
		initialize: func() (*paystack.InitializedTransaction, error) {
			return nil, fmt.Errorf("%w: connection refused", paystack.ErrUnavailable)
		},
	}
	engine := newEngine(t, newFakeStore(), gw, newFakeDispatcher())

	_, err := engine.InitializePayment(context.Background(), testIntent())
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestVerifyPayment_CreatesOrder(t *testing.T) {
	intent := testIntent()
	st := newFakeStore()
	dispatcher := newFakeDispatcher()
	engine := newEngine(t, st, successGateway(intent), dispatcher)

	result, err := engine.VerifyPayment(context.Background(), "REF123")
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if result.Duplicate {
		t.Fatal("first verification must not be a duplicate")
	}

	order := result.Order
	if matched, _ := regexp.MatchString(`^ORD-\d+$`, order.OrderNumber); !matched {
		t.Fatalf("order number %q does not match ORD-<digits>", order.OrderNumber)
	}
	if !order.TotalAmount.Equal(decimal.NewFromInt(45000)) {
		t.Fatalf("unexpected total: %s", order.TotalAmount)
	}
	if order.PaymentStatus != models.PaymentCompleted {
		t.Fatalf("expected completed payment, got %s", order.PaymentStatus)
	}
	if order.OrderStatus != models.OrderProcessing {
		t.Fatalf("expected processing order, got %s", order.OrderStatus)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result.Items))
	}
	sum := decimal.Zero
	for _, item := range result.Items {
		sum = sum.Add(item.Subtotal)
	}
	if !sum.Equal(decimal.NewFromInt(45000)) {
		t.Fatalf("item subtotals sum to %s, want 45000", sum)
	}

	event := dispatcher.wait(t)
	if event.Kind != notify.KindOrderCreated {
		t.Fatalf("expected order_created event, got %s", event.Kind)
	}
	if event.OrderID != order.ID {
		t.Fatalf("event order id %d != %d", event.OrderID, order.ID)
	}
}

func TestVerifyPayment_DuplicateDelivery(t *testing.T) {
	intent := testIntent()
	st := newFakeStore()
	gw := successGateway(intent)
	dispatcher := newFakeDispatcher()
	engine := newEngine(t, st, gw, dispatcher)

	first, err := engine.VerifyPayment(context.Background(), "REF123")
	if err != nil {
		t.Fatalf("first verify failed: %v", err)
	}
	dispatcher.wait(t)

	second, err := engine.VerifyPayment(context.Background(), "REF123")
	if err != nil {
		t.Fatalf("second verify failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("second verification must be flagged duplicate")
	}
	if second.Order.ID != first.Order.ID {
		t.Fatalf("duplicate returned different order: %d != %d", second.Order.ID, first.Order.ID)
	}
	if gw.calls() != 1 {
		t.Fatalf("gateway verified %d times, want 1 (no second call on duplicate)", gw.calls())
	}
	if n := st.count(); n != 1 {
		t.Fatalf("expected exactly 1 order, got %d", n)
	}

	select {
	case ev := <-dispatcher.events:
		t.Fatalf("duplicate verification dispatched %s event", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestVerifyPayment_ConcurrentCallsCreateOneOrder(t *testing.T) {
	intent := testIntent()
	st := newFakeStore()
	dispatcher := newFakeDispatcher()
	engine := newEngine(t, st, successGateway(intent), dispatcher)

	const n = 8
	results := make([]*VerificationResult, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.VerifyPayment(context.Background(), "REF123")
		}(i)
	}
	wg.Wait()

	creations := 0
	var orderID int64
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d failed: %v", i, errs[i])
		}
		if orderID == 0 {
			orderID = results[i].Order.ID
		}
		if results[i].Order.ID != orderID {
			t.Fatalf("call %d returned order %d, others returned %d", i, results[i].Order.ID, orderID)
		}
		if !results[i].Duplicate {
			creations++
		}
	}
	if creations != 1 {
		t.Fatalf("expected exactly 1 non-duplicate result, got %d", creations)
	}
	if st.count() != 1 {
		t.Fatalf("expected exactly 1 stored order, got %d", st.count())
	}
}

func TestVerifyPayment_NotSuccessfulThenRetried(t *testing.T) {
	intent := testIntent()
	st := newFakeStore()
	succeed := false
	gw := &fakeGateway{
		verify: func(reference string) (*paystack.VerifiedTransaction, error) {
			return &paystack.VerifiedTransaction{
				Succeeded: succeed,
				Reference: reference,
				Metadata:  &intent,
			}, nil
		},
	}
	engine := newEngine(t, st, gw, newFakeDispatcher())

	_, err := engine.VerifyPayment(context.Background(), "REF123")
	if !errors.Is(err, ErrPaymentNotSuccessful) {
		t.Fatalf("expected ErrPaymentNotSuccessful, got %v", err)
	}
	if st.count() != 0 {
		t.Fatal("failed verification must not create an order")
	}

	// Customer retried the payment and it went through.
	succeed = true
	result, err := engine.VerifyPayment(context.Background(), "REF123")
	if err != nil {
		t.Fatalf("retried verify failed: %v", err)
	}
	if result.Duplicate {
		t.Fatal("first successful verification is not a duplicate")
	}
	if st.count() != 1 {
		t.Fatalf("expected exactly 1 order, got %d", st.count())
	}
}

func TestVerifyPayment_IncompleteMetadata(t *testing.T) {
	intent := testIntent()
	intent.CustomerPhone = ""
	st := newFakeStore()
	engine := newEngine(t, st, successGateway(intent), newFakeDispatcher())

	_, err := engine.VerifyPayment(context.Background(), "REF123")
	if !errors.Is(err, ErrIncompleteMetadata) {
		t.Fatalf("expected ErrIncompleteMetadata, got %v", err)
	}
	if st.count() != 0 {
		t.Fatal("incomplete metadata must not create an order")
	}
}

func TestVerifyPayment_UniqueViolationFallback(t *testing.T) {
	intent := testIntent()
	st := newFakeStore()
	winner := &models.Order{
		OrderNumber:       "ORD-1700000000000001",
		PaystackReference: "REF123",
		CustomerName:      intent.CustomerName,
		CustomerEmail:     intent.CustomerEmail,
		CustomerPhone:     intent.CustomerPhone,
		TotalAmount:       intent.TotalAmount,
		PaymentStatus:     models.PaymentCompleted,
		OrderStatus:       models.OrderProcessing,
	}

	// Simulate the isolation gap: the transactional lookup sees nothing, the
	// insert trips the constraint because another instance committed between
	// lookup and insert. The engine must recover by re-reading outside the
	// failed transaction.
	st.staleTxReads = true
	st.seed(winner, []models.OrderItem{{ProductID: 1, ProductName: "Sneakers", Quantity: 3, UnitPrice: decimal.NewFromInt(15000), Subtotal: decimal.NewFromInt(45000)}})

	engine := newEngine(t, st, successGateway(intent), newFakeDispatcher())

	result, err := engine.VerifyPayment(context.Background(), "REF123")
	if err != nil {
		t.Fatalf("expected fallback recovery, got %v", err)
	}
	if !result.Duplicate {
		t.Fatal("fallback result must be flagged duplicate")
	}
	if result.Order.ID != winner.ID {
		t.Fatalf("fallback returned order %d, want %d", result.Order.ID, winner.ID)
	}
}

func TestVerifyPayment_ItemInsertFailureIsAtomic(t *testing.T) {
	intent := testIntent()
	st := newFakeStore()
	st.failItemInsert = true
	engine := newEngine(t, st, successGateway(intent), newFakeDispatcher())

	if _, err := engine.VerifyPayment(context.Background(), "REF123"); err == nil {
		t.Fatal("expected item insert failure to surface")
	}
	if st.count() != 0 {
		t.Fatal("partial order must not be observable after item insert failure")
	}
}

func TestVerifyPayment_NotificationFailureDoesNotAffectResult(t *testing.T) {
	intent := testIntent()
	st := newFakeStore()
	dispatcher := newFakeDispatcher()
	dispatcher.err = errors.New("smtp relay down")
	engine := newEngine(t, st, successGateway(intent), dispatcher)

	result, err := engine.VerifyPayment(context.Background(), "REF123")
	if err != nil {
		t.Fatalf("verify failed because of notification: %v", err)
	}
	dispatcher.wait(t)
	if result.Order == nil || st.count() != 1 {
		t.Fatal("order must be committed regardless of notification outcome")
	}
}

func TestVerifyPayment_GatewayUnavailable(t *testing.T) {
	st := newFakeStore()
	gw := &fakeGateway{
		verify: func(reference string) (*paystack.VerifiedTransaction, error) {
			return nil, fmt.Errorf("%w: timeout", paystack.ErrUnavailable)
		},
	}
	engine := newEngine(t, st, gw, newFakeDispatcher())

	_, err := engine.VerifyPayment(context.Background(), "REF123")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if st.count() != 0 {
		t.Fatal("gateway outage must not create an order")
	}
}

package billing

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubVendor is a controllable vendor client for adapter tests. Callbacks
// fire on their own goroutines, like the real SDK.
type stubVendor struct {
	mu sync.Mutex

	connectCode  ResultCode
	connectGate  chan struct{} // when set, StartConnection waits on it
	connectCalls atomic.Int64

	queryCode ResultCode
	products  []Product

	purchasesCode ResultCode
	purchases     []Purchase

	ackCode     ResultCode
	consumeCode ResultCode
	launchCode  ResultCode

	lastToken    string
	lastParams   PurchaseParams
	ready        bool
	onUpdate     func(ResultCode, []Purchase)
}

func (s *stubVendor) StartConnection(onReady func(ResultCode)) {
	s.connectCalls.Add(1)
	gate := s.connectGate
	go func() {
		if gate != nil {
			<-gate
		}
		s.mu.Lock()
		code := s.connectCode
		if code == ResultOK {
			s.ready = true
		}
		s.mu.Unlock()
		onReady(code)
	}()
}

func (s *stubVendor) EndConnection() {
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
}

func (s *stubVendor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *stubVendor) QueryProducts(ids []string, kind ProductKind, onResult func(ResultCode, []Product)) {
	s.mu.Lock()
	code := s.queryCode
	products := s.products
	s.mu.Unlock()
	go onResult(code, products)
}

func (s *stubVendor) QueryPurchases(kind ProductKind) (ResultCode, []Purchase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purchasesCode, s.purchases
}

func (s *stubVendor) Acknowledge(token string, onDone func(ResultCode)) {
	s.mu.Lock()
	s.lastToken = token
	code := s.ackCode
	s.mu.Unlock()
	go onDone(code)
}

func (s *stubVendor) Consume(token string, onDone func(ResultCode)) {
	s.mu.Lock()
	s.lastToken = token
	code := s.consumeCode
	s.mu.Unlock()
	go onDone(code)
}

func (s *stubVendor) LaunchPurchaseFlow(params PurchaseParams) ResultCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastParams = params
	return s.launchCode
}

func (s *stubVendor) SetUpdateListener(onUpdate func(ResultCode, []Purchase)) {
	s.mu.Lock()
	s.onUpdate = onUpdate
	s.mu.Unlock()
}

func (s *stubVendor) FeatureSupported(f Feature) ResultCode {
	return ResultOK
}

func (s *stubVendor) emit(code ResultCode, purchases []Purchase) {
	s.mu.Lock()
	onUpdate := s.onUpdate
	s.mu.Unlock()
	if onUpdate != nil {
		onUpdate(code, purchases)
	}
}

func newTestAdapter(stub *stubVendor, opts ...Option) *Adapter {
	return NewAdapter(func() VendorClient { return stub }, opts...)
}

// fakeObfuscator marks values without hashing, so tests can see both sides.
type fakeObfuscator struct{}

func (fakeObfuscator) Obfuscate(raw string) string { return "obf:" + raw }

func drainProducts(t *testing.T, stream <-chan ProductResult) ([]Product, error) {
	t.Helper()
	var products []Product
	for res := range stream {
		if res.Err != nil {
			return products, res.Err
		}
		products = append(products, res.Product)
	}
	return products, nil
}

func TestProducts_EmptyIDList(t *testing.T) {
	stub := &stubVendor{}
	adapter := newTestAdapter(stub)

	_, err := adapter.Products(context.Background(), nil, KindOneTime)
	if !errors.Is(err, ErrNoProducts) {
		t.Fatalf("Products() error = %v, want ErrNoProducts", err)
	}
	if got := stub.connectCalls.Load(); got != 0 {
		t.Errorf("vendor connect calls = %d, want 0 (precondition must fail before I/O)", got)
	}
}

func TestProducts_StreamsInVendorOrder(t *testing.T) {
	stub := &stubVendor{
		products: []Product{
			{ID: "a", Kind: KindOneTime, Title: "A"},
			{ID: "b", Kind: KindOneTime, Title: "B"},
			{ID: "c", Kind: KindOneTime, Title: "C"},
		},
	}
	adapter := newTestAdapter(stub)

	stream, err := adapter.Products(context.Background(), []string{"a", "b", "c"}, KindOneTime)
	if err != nil {
		t.Fatalf("Products() error: %v", err)
	}

	products, err := drainProducts(t, stream)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(products) != 3 {
		t.Fatalf("got %d products, want 3", len(products))
	}
	for i, want := range []string{"a", "b", "c"} {
		if products[i].ID != want {
			t.Errorf("products[%d].ID = %s, want %s", i, products[i].ID, want)
		}
	}
}

func TestProducts_VendorErrorInStream(t *testing.T) {
	stub := &stubVendor{queryCode: ResultServiceUnavailable}
	adapter := newTestAdapter(stub)

	stream, err := adapter.Products(context.Background(), []string{"a"}, KindOneTime)
	if err != nil {
		t.Fatalf("Products() error: %v", err)
	}

	_, err = drainProducts(t, stream)
	ve, ok := AsVendorError(err)
	if !ok {
		t.Fatalf("stream error = %v, want VendorError", err)
	}
	if ve.Code != ResultServiceUnavailable {
		t.Errorf("vendor code = %s, want SERVICE_UNAVAILABLE", ve.Code)
	}
}

func TestEnsureConnected_ReusesReadyConnection(t *testing.T) {
	stub := &stubVendor{products: []Product{{ID: "a", Kind: KindOneTime}}}
	adapter := newTestAdapter(stub)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		stream, err := adapter.Products(ctx, []string{"a"}, KindOneTime)
		if err != nil {
			t.Fatalf("Products() call %d error: %v", i, err)
		}
		if _, err := drainProducts(t, stream); err != nil {
			t.Fatalf("stream %d error: %v", i, err)
		}
	}

	if got := stub.connectCalls.Load(); got != 1 {
		t.Errorf("vendor connect calls = %d, want 1", got)
	}
}

func TestEnsureConnected_SingleFlight(t *testing.T) {
	gate := make(chan struct{})
	stub := &stubVendor{connectGate: gate}
	adapter := newTestAdapter(stub)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = adapter.ensureConnected(ctx)
		}(i)
	}

	// Give every caller time to reach the in-flight attempt, then let the
	// vendor setup callback fire.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d error: %v", i, err)
		}
	}
	if got := stub.connectCalls.Load(); got != 1 {
		t.Errorf("vendor connect calls = %d, want 1 (single-flight)", got)
	}
}

func TestEnsureConnected_FailureClearsCache(t *testing.T) {
	stub := &stubVendor{connectCode: ResultBillingUnavailable}
	adapter := newTestAdapter(stub)
	ctx := context.Background()

	_, err := adapter.ensureConnected(ctx)
	ve, ok := AsVendorError(err)
	if !ok || ve.Code != ResultBillingUnavailable {
		t.Fatalf("ensureConnected() error = %v, want BILLING_UNAVAILABLE vendor error", err)
	}

	// Vendor recovers; the next call must re-attempt setup.
	stub.mu.Lock()
	stub.connectCode = ResultOK
	stub.mu.Unlock()

	if _, err := adapter.ensureConnected(ctx); err != nil {
		t.Fatalf("ensureConnected() after recovery error: %v", err)
	}
	if got := stub.connectCalls.Load(); got != 2 {
		t.Errorf("vendor connect calls = %d, want 2", got)
	}
}

func TestAcknowledge(t *testing.T) {
	stub := &stubVendor{}
	adapter := newTestAdapter(stub)

	code, err := adapter.Acknowledge(context.Background(), Purchase{Token: "tok-1"})
	if err != nil {
		t.Fatalf("Acknowledge() error: %v", err)
	}
	if code != ResultOK {
		t.Errorf("code = %s, want OK", code)
	}
	if stub.lastToken != "tok-1" {
		t.Errorf("vendor saw token %q, want tok-1", stub.lastToken)
	}
}

func TestConsume_VendorError(t *testing.T) {
	stub := &stubVendor{consumeCode: ResultItemNotOwned}
	adapter := newTestAdapter(stub)

	code, err := adapter.Consume(context.Background(), Purchase{Token: "tok-2"})
	if code != ResultItemNotOwned {
		t.Errorf("code = %s, want ITEM_NOT_OWNED", code)
	}
	ve, ok := AsVendorError(err)
	if !ok || ve.Code != ResultItemNotOwned {
		t.Errorf("error = %v, want ITEM_NOT_OWNED vendor error", err)
	}
	if stub.lastToken != "tok-2" {
		t.Errorf("vendor saw token %q, want tok-2", stub.lastToken)
	}
}

func TestPurchase_ObfuscatesIdentity(t *testing.T) {
	stub := &stubVendor{}
	adapter := newTestAdapter(stub, WithObfuscator(fakeObfuscator{}))

	code, err := adapter.Purchase(context.Background(), PurchaseParams{
		Product:   Product{ID: "premium", Kind: KindSubscription},
		AccountID: "jane@example.com",
	})
	if err != nil {
		t.Fatalf("Purchase() error: %v", err)
	}
	if code != ResultOK {
		t.Errorf("launch code = %s, want OK", code)
	}

	got := stub.lastParams
	if got.AccountID != "" {
		t.Errorf("raw account id reached the vendor: %q", got.AccountID)
	}
	if got.ObfuscatedAccountID != "obf:jane@example.com" {
		t.Errorf("obfuscated account id = %q", got.ObfuscatedAccountID)
	}
}

func TestPurchase_RawIdentityWithoutObfuscator(t *testing.T) {
	stub := &stubVendor{}
	adapter := newTestAdapter(stub)

	_, err := adapter.Purchase(context.Background(), PurchaseParams{
		Product:   Product{ID: "premium"},
		AccountID: "jane@example.com",
	})
	if !errors.Is(err, ErrRawIdentity) {
		t.Fatalf("Purchase() error = %v, want ErrRawIdentity", err)
	}
	if got := stub.connectCalls.Load(); got != 0 {
		t.Errorf("vendor connect calls = %d, want 0", got)
	}
}

func TestPurchase_LaunchFailure(t *testing.T) {
	stub := &stubVendor{launchCode: ResultItemAlreadyOwned}
	adapter := newTestAdapter(stub)

	code, err := adapter.Purchase(context.Background(), PurchaseParams{
		Product: Product{ID: "remove_ads", Kind: KindOneTime},
	})
	if code != ResultItemAlreadyOwned {
		t.Errorf("code = %s, want ITEM_ALREADY_OWNED", code)
	}
	if _, ok := AsVendorError(err); !ok {
		t.Errorf("error = %v, want VendorError", err)
	}
}

func TestOwnedPurchases_StreamsAndRepublishes(t *testing.T) {
	stub := &stubVendor{
		purchases: []Purchase{
			{Token: "t1", ProductID: "coins_100", Kind: KindOneTime},
			{Token: "t2", ProductID: "remove_ads", Kind: KindOneTime},
		},
	}
	adapter := newTestAdapter(stub)

	updates, cancel := adapter.Updates()
	defer cancel()

	stream, err := adapter.OwnedPurchases(context.Background(), KindOneTime)
	if err != nil {
		t.Fatalf("OwnedPurchases() error: %v", err)
	}

	var purchases []Purchase
	for res := range stream {
		if res.Err != nil {
			t.Fatalf("stream error: %v", res.Err)
		}
		purchases = append(purchases, res.Purchase)
	}
	if len(purchases) != 2 {
		t.Fatalf("got %d purchases, want 2", len(purchases))
	}

	select {
	case ev := <-updates:
		if len(ev.Purchases) != 2 {
			t.Errorf("synthetic event carries %d purchases, want 2", len(ev.Purchases))
		}
	case <-time.After(time.Second):
		t.Fatal("no synthetic update event published")
	}
}

func TestOwnedPurchases_VendorError(t *testing.T) {
	stub := &stubVendor{purchasesCode: ResultServiceDisconnected}
	adapter := newTestAdapter(stub)

	stream, err := adapter.OwnedPurchases(context.Background(), KindOneTime)
	if err != nil {
		t.Fatalf("OwnedPurchases() error: %v", err)
	}

	res, ok := <-stream
	if !ok {
		t.Fatal("stream closed without an error result")
	}
	ve, ok := AsVendorError(res.Err)
	if !ok || ve.Code != ResultServiceDisconnected {
		t.Errorf("stream error = %v, want SERVICE_DISCONNECTED vendor error", res.Err)
	}
}

func TestSpontaneousUpdateBroadcast(t *testing.T) {
	stub := &stubVendor{}
	adapter := newTestAdapter(stub)

	// Establish the connection so the standing listener is registered.
	if _, err := adapter.ensureConnected(context.Background()); err != nil {
		t.Fatalf("ensureConnected() error: %v", err)
	}

	first, cancelFirst := adapter.Updates()
	defer cancelFirst()
	second, cancelSecond := adapter.Updates()
	defer cancelSecond()

	stub.emit(ResultOK, []Purchase{
		{Token: "t1", ProductID: "coins_100"},
		{Token: "t2", ProductID: "premium"},
	})

	for name, ch := range map[string]<-chan UpdateEvent{"first": first, "second": second} {
		select {
		case ev := <-ch:
			if len(ev.Purchases) != 2 {
				t.Errorf("%s subscriber got %d purchases, want 2", name, len(ev.Purchases))
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber never observed the update", name)
		}
	}

	// A subscriber joining after the event never observes it.
	late, cancelLate := adapter.Updates()
	defer cancelLate()
	select {
	case ev := <-late:
		t.Fatalf("late subscriber observed replayed event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClose_ReconnectsOnNextOperation(t *testing.T) {
	stub := &stubVendor{}
	adapter := newTestAdapter(stub)
	ctx := context.Background()

	if _, err := adapter.ensureConnected(ctx); err != nil {
		t.Fatalf("ensureConnected() error: %v", err)
	}
	adapter.Close()

	// Operations after Close transparently open a new connection.
	if _, err := adapter.Acknowledge(ctx, Purchase{Token: "t"}); err != nil {
		t.Fatalf("Acknowledge() after Close error: %v", err)
	}
	if got := stub.connectCalls.Load(); got != 2 {
		t.Errorf("vendor connect calls = %d, want 2", got)
	}

	// The update stream does not come back.
	updates, cancel := adapter.Updates()
	defer cancel()
	if _, ok := <-updates; ok {
		t.Error("Updates() after Close returned an open stream")
	}
}

func TestFeatureSupported_Placeholder(t *testing.T) {
	adapter := newTestAdapter(&stubVendor{})
	if code := adapter.FeatureSupported(FeatureSubscriptions); code != ResultOK {
		t.Errorf("FeatureSupported() = %s, want OK", code)
	}
}

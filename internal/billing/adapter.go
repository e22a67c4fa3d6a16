package billing

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Service is the asynchronous billing API the adapter exposes. Callers are
// vendor-agnostic: the same code works against the sandbox client, the
// remote bridge, or any other VendorClient.
type Service interface {
	// Products streams mapped descriptors for the given product ids. The
	// channel is finite and closes once the vendor callback has been
	// drained. An empty id list fails with ErrNoProducts before any I/O.
	Products(ctx context.Context, ids []string, kind ProductKind) (<-chan ProductResult, error)

	// OwnedPurchases streams the current purchase list for a product kind
	// and republishes the result as a synthetic update event.
	OwnedPurchases(ctx context.Context, kind ProductKind) (<-chan PurchaseResult, error)

	// Purchase launches the vendor purchase flow and returns the launch
	// result. The purchase itself resolves asynchronously through Updates.
	Purchase(ctx context.Context, params PurchaseParams) (ResultCode, error)

	// Acknowledge confirms receipt of a purchase to prevent automatic refund.
	Acknowledge(ctx context.Context, p Purchase) (ResultCode, error)

	// Consume marks a one-time purchase as used so it can be bought again.
	Consume(ctx context.Context, p Purchase) (ResultCode, error)

	// FeatureSupported reports whether the vendor supports a feature.
	FeatureSupported(f Feature) ResultCode

	// Updates subscribes to the broadcast stream of purchase updates. The
	// cancel func unsubscribes; there is no replay of past events.
	Updates() (<-chan UpdateEvent, func())

	// Close tears down the active connection and ends the update stream.
	Close()
}

// Obfuscator turns a raw identity value into an irreversible digest before
// it is forwarded to the vendor.
type Obfuscator interface {
	Obfuscate(raw string) string
}

// Option configures optional Adapter settings.
type Option func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithObfuscator sets the identity obfuscator applied to raw account and
// profile ids in purchase params.
func WithObfuscator(o Obfuscator) Option {
	return func(a *Adapter) { a.obfuscator = o }
}

// Adapter maintains at most one live connection to a vendor billing client
// and translates its callback-based results into channels. One vendor
// client instance backs one connection; a fresh client is built for each
// (re)connect.
type Adapter struct {
	newClient  func() VendorClient
	logger     *slog.Logger
	obfuscator Obfuscator

	mu      sync.Mutex // protects conn
	conn    VendorClient
	connect singleflight.Group

	updates *broadcaster
}

var _ Service = (*Adapter)(nil)

// NewAdapter creates an adapter over the given vendor client factory.
// Options are applied after defaults.
func NewAdapter(newClient func() VendorClient, opts ...Option) *Adapter {
	a := &Adapter{
		newClient: newClient,
		logger:    slog.Default(),
		updates:   newBroadcaster(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ensureConnected returns the cached connection when it is ready, otherwise
// establishes a new one and waits for the vendor's setup callback.
// Concurrent callers during an in-flight attempt all share the outcome of
// that single attempt; setup failure clears the cache and is not retried.
func (a *Adapter) ensureConnected(ctx context.Context) (VendorClient, error) {
	a.mu.Lock()
	if a.conn != nil && a.conn.Ready() {
		conn := a.conn
		a.mu.Unlock()
		return conn, nil
	}
	a.mu.Unlock()

	v, err, _ := a.connect.Do("connect", func() (any, error) {
		// Re-check under the flight: a previous winner may have already
		// cached a ready connection.
		a.mu.Lock()
		if a.conn != nil && a.conn.Ready() {
			conn := a.conn
			a.mu.Unlock()
			return conn, nil
		}
		a.conn = nil
		a.mu.Unlock()

		client := a.newClient()
		client.SetUpdateListener(a.publishUpdate)

		ready := make(chan ResultCode, 1)
		client.StartConnection(func(code ResultCode) {
			ready <- code
		})

		select {
		case code := <-ready:
			if code != ResultOK {
				a.logger.Error("vendor connection setup failed", "code", code.String())
				return nil, &VendorError{Op: "connect", Code: code}
			}
			a.mu.Lock()
			a.conn = client
			a.mu.Unlock()
			a.logger.Debug("vendor connection established")
			return client, nil
		case <-ctx.Done():
			// The vendor setup cannot be cancelled; stop waiting and let
			// the next call start over.
			return nil, ctx.Err()
		}
	})
	if err != nil {
		return nil, err
	}
	return v.(VendorClient), nil
}

// publishUpdate is the standing vendor update listener shared by every
// connection the adapter establishes.
func (a *Adapter) publishUpdate(code ResultCode, purchases []Purchase) {
	a.logger.Debug("purchase update", "code", code.String(), "purchases", len(purchases))
	a.updates.publish(UpdateEvent{Code: code, Purchases: purchases})
}

// Products implements Service.
func (a *Adapter) Products(ctx context.Context, ids []string, kind ProductKind) (<-chan ProductResult, error) {
	if len(ids) == 0 {
		return nil, ErrNoProducts
	}

	conn, err := a.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan ProductResult)
	conn.QueryProducts(ids, kind, func(code ResultCode, products []Product) {
		// Deliver on our own goroutine so a slow consumer never blocks
		// the vendor's callback goroutine.
		go func() {
			defer close(out)
			if code != ResultOK {
				select {
				case out <- ProductResult{Err: &VendorError{Op: "query_products", Code: code}}:
				case <-ctx.Done():
				}
				return
			}
			for _, p := range products {
				select {
				case out <- ProductResult{Product: p}:
				case <-ctx.Done():
					return
				}
			}
		}()
	})
	return out, nil
}

// OwnedPurchases implements Service.
func (a *Adapter) OwnedPurchases(ctx context.Context, kind ProductKind) (<-chan PurchaseResult, error) {
	conn, err := a.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan PurchaseResult)
	go func() {
		defer close(out)
		code, purchases := conn.QueryPurchases(kind)
		if code != ResultOK {
			select {
			case out <- PurchaseResult{Err: &VendorError{Op: "query_purchases", Code: code}}:
			case <-ctx.Done():
			}
			return
		}
		// Synthetic event so update subscribers see re-query results too.
		a.updates.publish(UpdateEvent{Code: code, Purchases: purchases})
		for _, p := range purchases {
			select {
			case out <- PurchaseResult{Purchase: p}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Purchase implements Service. Raw account and profile ids are obfuscated
// before the params reach the vendor; the raw values are dropped.
func (a *Adapter) Purchase(ctx context.Context, params PurchaseParams) (ResultCode, error) {
	if (params.AccountID != "" || params.ProfileID != "") && a.obfuscator == nil {
		return ResultDeveloperError, ErrRawIdentity
	}
	if params.AccountID != "" {
		params.ObfuscatedAccountID = a.obfuscator.Obfuscate(params.AccountID)
	}
	if params.ProfileID != "" {
		params.ObfuscatedProfileID = a.obfuscator.Obfuscate(params.ProfileID)
	}
	params.AccountID = ""
	params.ProfileID = ""

	conn, err := a.ensureConnected(ctx)
	if err != nil {
		return ResultServiceDisconnected, err
	}

	code := conn.LaunchPurchaseFlow(params)
	if code != ResultOK {
		return code, &VendorError{Op: "launch_purchase_flow", Code: code}
	}
	return code, nil
}

// Acknowledge implements Service.
func (a *Adapter) Acknowledge(ctx context.Context, p Purchase) (ResultCode, error) {
	return a.oneShot(ctx, "acknowledge", p.Token, func(conn VendorClient, token string, done func(ResultCode)) {
		conn.Acknowledge(token, done)
	})
}

// Consume implements Service.
func (a *Adapter) Consume(ctx context.Context, p Purchase) (ResultCode, error) {
	return a.oneShot(ctx, "consume", p.Token, func(conn VendorClient, token string, done func(ResultCode)) {
		conn.Consume(token, done)
	})
}

// oneShot dispatches a token-keyed vendor call and resolves once with its
// result. Cancellation abandons the wait, not the vendor call.
func (a *Adapter) oneShot(ctx context.Context, op, token string, call func(VendorClient, string, func(ResultCode))) (ResultCode, error) {
	conn, err := a.ensureConnected(ctx)
	if err != nil {
		return ResultServiceDisconnected, err
	}

	done := make(chan ResultCode, 1)
	call(conn, token, func(code ResultCode) {
		done <- code
	})

	select {
	case code := <-done:
		if code != ResultOK {
			return code, &VendorError{Op: op, Code: code}
		}
		return code, nil
	case <-ctx.Done():
		return ResultServiceTimeout, ctx.Err()
	}
}

// FeatureSupported implements Service.
//
// TODO: call through to conn.FeatureSupported once connection-independent
// feature checks are modeled; for now this reports OK without real
// verification, matching the behavior callers already rely on.
func (a *Adapter) FeatureSupported(f Feature) ResultCode {
	return ResultOK
}

// Updates implements Service.
func (a *Adapter) Updates() (<-chan UpdateEvent, func()) {
	return a.updates.subscribe()
}

// Close implements Service. The cached handle is cleared, so a later
// operation transparently opens a fresh connection; the update stream stays
// closed for good.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.conn != nil {
		a.conn.EndConnection()
		a.conn = nil
	}
	a.mu.Unlock()
	a.updates.close()
}

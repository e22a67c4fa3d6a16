// Package sandbox provides an in-process VendorClient with the same
// asynchronous callback behavior as the real vendor SDK. It backs tests,
// the daemon's default profile, and the interactive console.
package sandbox

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/streambill/streambill/internal/billing"
)

// Op names a vendor operation for fault injection.
type Op string

const (
	OpConnect        Op = "connect"
	OpQueryProducts  Op = "query_products"
	OpQueryPurchases Op = "query_purchases"
	OpAcknowledge    Op = "acknowledge"
	OpConsume        Op = "consume"
	OpLaunch         Op = "launch"
)

// Client is an in-memory vendor billing client. Callbacks are delivered on
// their own goroutines, like the real SDK's internal executor.
type Client struct {
	mu        sync.Mutex
	catalog   map[string]billing.Product
	purchases map[string]billing.Purchase // keyed by token
	ready     bool
	onUpdate  func(billing.ResultCode, []billing.Purchase)
	forced    map[Op]billing.ResultCode

	connectCalls atomic.Int64
	lastToken    string
	lastParams   billing.PurchaseParams
}

var _ billing.VendorClient = (*Client)(nil)

// NewClient creates a sandbox client selling the given catalog.
func NewClient(catalog []billing.Product) *Client {
	c := &Client{
		catalog:   make(map[string]billing.Product, len(catalog)),
		purchases: make(map[string]billing.Purchase),
		forced:    make(map[Op]billing.ResultCode),
	}
	for _, p := range catalog {
		c.catalog[p.ID] = p
	}
	return c
}

// Fail forces every subsequent call of op to report code. Forcing ResultOK
// clears the fault.
func (c *Client) Fail(op Op, code billing.ResultCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if code == billing.ResultOK {
		delete(c.forced, op)
		return
	}
	c.forced[op] = code
}

func (c *Client) forcedCode(op Op) (billing.ResultCode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code, ok := c.forced[op]
	return code, ok
}

// StartConnection implements billing.VendorClient.
func (c *Client) StartConnection(onReady func(billing.ResultCode)) {
	c.connectCalls.Add(1)
	go func() {
		if code, ok := c.forcedCode(OpConnect); ok {
			onReady(code)
			return
		}
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()
		onReady(billing.ResultOK)
	}()
}

// EndConnection implements billing.VendorClient.
func (c *Client) EndConnection() {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
}

// Ready implements billing.VendorClient.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// QueryProducts implements billing.VendorClient. Unknown ids are skipped,
// matching ids are returned in request order.
func (c *Client) QueryProducts(ids []string, kind billing.ProductKind, onResult func(billing.ResultCode, []billing.Product)) {
	go func() {
		if code, ok := c.forcedCode(OpQueryProducts); ok {
			onResult(code, nil)
			return
		}
		c.mu.Lock()
		var products []billing.Product
		for _, id := range ids {
			if p, ok := c.catalog[id]; ok && p.Kind == kind {
				products = append(products, p)
			}
		}
		c.mu.Unlock()
		onResult(billing.ResultOK, products)
	}()
}

// QueryPurchases implements billing.VendorClient.
func (c *Client) QueryPurchases(kind billing.ProductKind) (billing.ResultCode, []billing.Purchase) {
	if code, ok := c.forcedCode(OpQueryPurchases); ok {
		return code, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var purchases []billing.Purchase
	for _, p := range c.purchases {
		if p.Kind == kind {
			purchases = append(purchases, p)
		}
	}
	return billing.ResultOK, purchases
}

// Acknowledge implements billing.VendorClient.
func (c *Client) Acknowledge(token string, onDone func(billing.ResultCode)) {
	go func() {
		if code, ok := c.forcedCode(OpAcknowledge); ok {
			onDone(code)
			return
		}
		c.mu.Lock()
		c.lastToken = token
		p, ok := c.purchases[token]
		if !ok {
			c.mu.Unlock()
			onDone(billing.ResultItemNotOwned)
			return
		}
		p.Acknowledged = true
		c.purchases[token] = p
		c.mu.Unlock()
		onDone(billing.ResultOK)
	}()
}

// Consume implements billing.VendorClient. Consuming removes the token so
// the product can be purchased again; only one-time products are consumable.
func (c *Client) Consume(token string, onDone func(billing.ResultCode)) {
	go func() {
		if code, ok := c.forcedCode(OpConsume); ok {
			onDone(code)
			return
		}
		c.mu.Lock()
		c.lastToken = token
		p, ok := c.purchases[token]
		if !ok {
			c.mu.Unlock()
			onDone(billing.ResultItemNotOwned)
			return
		}
		if p.Kind != billing.KindOneTime {
			c.mu.Unlock()
			onDone(billing.ResultDeveloperError)
			return
		}
		delete(c.purchases, token)
		c.mu.Unlock()
		onDone(billing.ResultOK)
	}()
}

// LaunchPurchaseFlow implements billing.VendorClient. A successful launch
// completes the purchase immediately and reports it through the update
// listener, the way a user approving the vendor dialog would.
func (c *Client) LaunchPurchaseFlow(params billing.PurchaseParams) billing.ResultCode {
	if code, ok := c.forcedCode(OpLaunch); ok {
		return code
	}

	c.mu.Lock()
	c.lastParams = params
	product, ok := c.catalog[params.Product.ID]
	if !ok {
		c.mu.Unlock()
		return billing.ResultItemUnavailable
	}
	for _, owned := range c.purchases {
		if owned.ProductID == product.ID {
			c.mu.Unlock()
			return billing.ResultItemAlreadyOwned
		}
	}
	purchase := billing.Purchase{
		Token:        uuid.NewString(),
		ProductID:    product.ID,
		Kind:         product.Kind,
		State:        billing.StatePurchased,
		PurchaseTime: time.Now().UTC(),
	}
	c.purchases[purchase.Token] = purchase
	onUpdate := c.onUpdate
	c.mu.Unlock()

	if onUpdate != nil {
		go onUpdate(billing.ResultOK, []billing.Purchase{purchase})
	}
	return billing.ResultOK
}

// SetUpdateListener implements billing.VendorClient.
func (c *Client) SetUpdateListener(onUpdate func(billing.ResultCode, []billing.Purchase)) {
	c.mu.Lock()
	c.onUpdate = onUpdate
	c.mu.Unlock()
}

// FeatureSupported implements billing.VendorClient. The sandbox supports
// everything.
func (c *Client) FeatureSupported(f billing.Feature) billing.ResultCode {
	return billing.ResultOK
}

// Emit injects a spontaneous update, simulating a purchase completed
// outside any call initiated through this process.
func (c *Client) Emit(code billing.ResultCode, purchases []billing.Purchase) {
	c.mu.Lock()
	onUpdate := c.onUpdate
	for _, p := range purchases {
		c.purchases[p.Token] = p
	}
	c.mu.Unlock()
	if onUpdate != nil {
		onUpdate(code, purchases)
	}
}

// ConnectCalls reports how many times StartConnection was invoked.
func (c *Client) ConnectCalls() int64 {
	return c.connectCalls.Load()
}

// LastToken reports the token of the most recent acknowledge or consume.
func (c *Client) LastToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastToken
}

// LastParams reports the params of the most recent purchase-flow launch.
func (c *Client) LastParams() billing.PurchaseParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastParams
}

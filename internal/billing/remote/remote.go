// Package remote bridges the VendorClient surface to a vendor billing
// emulator over HTTP. Each asynchronous SDK call becomes an HTTP round trip
// on its own goroutine that then fires the callback; the standing update
// listener is fed from a websocket stream.
package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streambill/streambill/internal/billing"
)

const requestTimeout = 30 * time.Second

// Client implements billing.VendorClient against a remote emulator.
type Client struct {
	http    *http.Client
	baseURL string

	mu       sync.Mutex
	ready    bool
	onUpdate func(billing.ResultCode, []billing.Purchase)
	stop     chan struct{}
}

var _ billing.VendorClient = (*Client)(nil)

// NewClient creates a remote vendor client for the emulator at baseURL.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		http:    httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type codeResponse struct {
	Code billing.ResultCode `json:"code"`
}

type productsResponse struct {
	Code     billing.ResultCode `json:"code"`
	Products []billing.Product  `json:"products"`
}

type purchasesResponse struct {
	Code      billing.ResultCode `json:"code"`
	Purchases []billing.Purchase `json:"purchases"`
}

// post issues a JSON POST and decodes the vendor code response into out.
func (c *Client) post(path string, payload, out any) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("emulator returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StartConnection implements billing.VendorClient.
func (c *Client) StartConnection(onReady func(billing.ResultCode)) {
	go func() {
		var out codeResponse
		if err := c.post("/v1/connect", nil, &out); err != nil {
			onReady(billing.ResultServiceUnavailable)
			return
		}
		if out.Code != billing.ResultOK {
			onReady(out.Code)
			return
		}

		stop := make(chan struct{})
		c.mu.Lock()
		c.ready = true
		c.stop = stop
		c.mu.Unlock()

		go c.streamUpdates(stop)
		onReady(billing.ResultOK)
	}()
}

// streamUpdates forwards emulator update messages to the registered
// listener until the connection ends or the socket drops.
func (c *Client) streamUpdates(stop chan struct{}) {
	wsURL, err := url.Parse(c.baseURL + "/v1/updates")
	if err != nil {
		return
	}
	switch wsURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		return
	}
	defer conn.Close()

	go func() {
		<-stop
		conn.Close()
	}()

	for {
		var msg purchasesResponse
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		c.mu.Lock()
		onUpdate := c.onUpdate
		c.mu.Unlock()
		if onUpdate != nil {
			onUpdate(msg.Code, msg.Purchases)
		}
	}
}

// EndConnection implements billing.VendorClient.
func (c *Client) EndConnection() {
	c.mu.Lock()
	c.ready = false
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.mu.Unlock()

	var out codeResponse
	_ = c.post("/v1/disconnect", nil, &out)
}

// Ready implements billing.VendorClient.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// QueryProducts implements billing.VendorClient.
func (c *Client) QueryProducts(ids []string, kind billing.ProductKind, onResult func(billing.ResultCode, []billing.Product)) {
	go func() {
		payload := map[string]any{"ids": ids, "kind": kind}
		var out productsResponse
		if err := c.post("/v1/products/query", payload, &out); err != nil {
			onResult(billing.ResultServiceUnavailable, nil)
			return
		}
		onResult(out.Code, out.Products)
	}()
}

// QueryPurchases implements billing.VendorClient.
func (c *Client) QueryPurchases(kind billing.ProductKind) (billing.ResultCode, []billing.Purchase) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/v1/purchases?kind="+url.QueryEscape(string(kind)), nil)
	if err != nil {
		return billing.ResultError, nil
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return billing.ResultServiceUnavailable, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return billing.ResultServiceUnavailable, nil
	}
	var out purchasesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return billing.ResultError, nil
	}
	return out.Code, out.Purchases
}

// Acknowledge implements billing.VendorClient.
func (c *Client) Acknowledge(token string, onDone func(billing.ResultCode)) {
	go func() {
		var out codeResponse
		if err := c.post("/v1/purchases/"+url.PathEscape(token)+"/acknowledge", nil, &out); err != nil {
			onDone(billing.ResultServiceUnavailable)
			return
		}
		onDone(out.Code)
	}()
}

// Consume implements billing.VendorClient.
func (c *Client) Consume(token string, onDone func(billing.ResultCode)) {
	go func() {
		var out codeResponse
		if err := c.post("/v1/purchases/"+url.PathEscape(token)+"/consume", nil, &out); err != nil {
			onDone(billing.ResultServiceUnavailable)
			return
		}
		onDone(out.Code)
	}()
}

// LaunchPurchaseFlow implements billing.VendorClient.
func (c *Client) LaunchPurchaseFlow(params billing.PurchaseParams) billing.ResultCode {
	payload := map[string]any{
		"product_id":            params.Product.ID,
		"kind":                  params.Product.Kind,
		"obfuscated_account_id": params.ObfuscatedAccountID,
		"obfuscated_profile_id": params.ObfuscatedProfileID,
	}
	var out codeResponse
	if err := c.post("/v1/purchases", payload, &out); err != nil {
		return billing.ResultServiceUnavailable
	}
	return out.Code
}

// SetUpdateListener implements billing.VendorClient.
func (c *Client) SetUpdateListener(onUpdate func(billing.ResultCode, []billing.Purchase)) {
	c.mu.Lock()
	c.onUpdate = onUpdate
	c.mu.Unlock()
}

// FeatureSupported implements billing.VendorClient.
func (c *Client) FeatureSupported(f billing.Feature) billing.ResultCode {
	payload := map[string]any{"feature": f}
	var out codeResponse
	if err := c.post("/v1/features/check", payload, &out); err != nil {
		return billing.ResultServiceUnavailable
	}
	return out.Code
}

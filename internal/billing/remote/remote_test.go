package remote

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streambill/streambill/internal/billing"
)

// emulator is a minimal in-test vendor emulator.
type emulator struct {
	mu          sync.Mutex
	connectCode billing.ResultCode
	purchases   []billing.Purchase
	lastLaunch  map[string]any
	disconnects int

	upgrader websocket.Upgrader
	push     chan purchasesResponse
}

func newEmulator() *emulator {
	return &emulator{
		connectCode: billing.ResultOK,
		push:        make(chan purchasesResponse, 4),
	}
}

func (e *emulator) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/connect", func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		code := e.connectCode
		e.mu.Unlock()
		writeJSON(w, codeResponse{Code: code})
	})
	mux.HandleFunc("POST /v1/disconnect", func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		e.disconnects++
		e.mu.Unlock()
		writeJSON(w, codeResponse{Code: billing.ResultOK})
	})
	mux.HandleFunc("POST /v1/products/query", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			IDs  []string            `json:"ids"`
			Kind billing.ProductKind `json:"kind"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		products := make([]billing.Product, 0, len(req.IDs))
		for _, id := range req.IDs {
			products = append(products, billing.Product{ID: id, Kind: req.Kind, Currency: "USD"})
		}
		writeJSON(w, productsResponse{Code: billing.ResultOK, Products: products})
	})
	mux.HandleFunc("GET /v1/purchases", func(w http.ResponseWriter, r *http.Request) {
		e.mu.Lock()
		purchases := append([]billing.Purchase(nil), e.purchases...)
		e.mu.Unlock()
		writeJSON(w, purchasesResponse{Code: billing.ResultOK, Purchases: purchases})
	})
	mux.HandleFunc("POST /v1/purchases", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		e.mu.Lock()
		e.lastLaunch = payload
		e.mu.Unlock()
		writeJSON(w, codeResponse{Code: billing.ResultOK})
	})
	mux.HandleFunc("POST /v1/purchases/{token}/acknowledge", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, codeResponse{Code: billing.ResultOK})
	})
	mux.HandleFunc("POST /v1/purchases/{token}/consume", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, codeResponse{Code: billing.ResultItemNotOwned})
	})
	mux.HandleFunc("POST /v1/features/check", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, codeResponse{Code: billing.ResultFeatureNotSupported})
	})
	mux.HandleFunc("GET /v1/updates", func(w http.ResponseWriter, r *http.Request) {
		conn, err := e.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for msg := range e.push {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func startEmulator(t *testing.T) (*emulator, *Client) {
	t.Helper()
	e := newEmulator()
	ts := httptest.NewServer(e.routes())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(e.push) })
	return e, NewClient(ts.Client(), ts.URL)
}

func connect(t *testing.T, c *Client) {
	t.Helper()
	done := make(chan billing.ResultCode, 1)
	c.StartConnection(func(code billing.ResultCode) { done <- code })
	select {
	case code := <-done:
		if code != billing.ResultOK {
			t.Fatalf("connection setup = %s, want OK", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connection setup callback never fired")
	}
}

func TestStartConnection(t *testing.T) {
	_, c := startEmulator(t)

	connect(t, c)
	if !c.Ready() {
		t.Error("client not ready after successful connect")
	}
}

func TestStartConnection_VendorRefuses(t *testing.T) {
	e, c := startEmulator(t)
	e.connectCode = billing.ResultBillingUnavailable

	done := make(chan billing.ResultCode, 1)
	c.StartConnection(func(code billing.ResultCode) { done <- code })
	if code := <-done; code != billing.ResultBillingUnavailable {
		t.Fatalf("setup code = %s, want BILLING_UNAVAILABLE", code)
	}
	if c.Ready() {
		t.Error("client ready after refused connect")
	}
}

func TestStartConnection_EmulatorUnreachable(t *testing.T) {
	c := NewClient(nil, "http://127.0.0.1:1")

	done := make(chan billing.ResultCode, 1)
	c.StartConnection(func(code billing.ResultCode) { done <- code })
	select {
	case code := <-done:
		if code != billing.ResultServiceUnavailable {
			t.Fatalf("setup code = %s, want SERVICE_UNAVAILABLE", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("connection setup callback never fired")
	}
}

func TestQueryProducts(t *testing.T) {
	_, c := startEmulator(t)
	connect(t, c)

	type result struct {
		code     billing.ResultCode
		products []billing.Product
	}
	done := make(chan result, 1)
	c.QueryProducts([]string{"coins_100", "remove_ads"}, billing.KindOneTime, func(code billing.ResultCode, products []billing.Product) {
		done <- result{code, products}
	})

	res := <-done
	if res.code != billing.ResultOK || len(res.products) != 2 {
		t.Fatalf("query = %s with %d products, want OK with 2", res.code, len(res.products))
	}
	if res.products[0].ID != "coins_100" {
		t.Errorf("products[0].ID = %s", res.products[0].ID)
	}
}

func TestQueryPurchases(t *testing.T) {
	e, c := startEmulator(t)
	connect(t, c)
	e.mu.Lock()
	e.purchases = []billing.Purchase{{Token: "t1", ProductID: "coins_100", Kind: billing.KindOneTime}}
	e.mu.Unlock()

	code, purchases := c.QueryPurchases(billing.KindOneTime)
	if code != billing.ResultOK || len(purchases) != 1 {
		t.Fatalf("QueryPurchases = %s with %d purchases, want OK with 1", code, len(purchases))
	}
}

func TestAcknowledgeAndConsume(t *testing.T) {
	_, c := startEmulator(t)
	connect(t, c)

	done := make(chan billing.ResultCode, 1)
	c.Acknowledge("t1", func(code billing.ResultCode) { done <- code })
	if code := <-done; code != billing.ResultOK {
		t.Errorf("acknowledge code = %s, want OK", code)
	}

	c.Consume("t1", func(code billing.ResultCode) { done <- code })
	if code := <-done; code != billing.ResultItemNotOwned {
		t.Errorf("consume code = %s, want ITEM_NOT_OWNED", code)
	}
}

func TestLaunchPurchaseFlow_ForwardsObfuscatedIdentity(t *testing.T) {
	e, c := startEmulator(t)
	connect(t, c)

	code := c.LaunchPurchaseFlow(billing.PurchaseParams{
		Product:             billing.Product{ID: "premium", Kind: billing.KindSubscription},
		ObfuscatedAccountID: "digest-a",
		ObfuscatedProfileID: "digest-p",
	})
	if code != billing.ResultOK {
		t.Fatalf("launch code = %s, want OK", code)
	}

	e.mu.Lock()
	launch := e.lastLaunch
	e.mu.Unlock()
	if launch["product_id"] != "premium" {
		t.Errorf("product_id = %v", launch["product_id"])
	}
	if launch["obfuscated_account_id"] != "digest-a" || launch["obfuscated_profile_id"] != "digest-p" {
		t.Errorf("obfuscated ids not forwarded: %v", launch)
	}
}

func TestFeatureSupported(t *testing.T) {
	_, c := startEmulator(t)

	if code := c.FeatureSupported(billing.FeatureSubscriptions); code != billing.ResultFeatureNotSupported {
		t.Errorf("feature code = %s, want FEATURE_NOT_SUPPORTED", code)
	}
}

func TestUpdateStream(t *testing.T) {
	e, c := startEmulator(t)

	got := make(chan billing.UpdateEvent, 1)
	c.SetUpdateListener(func(code billing.ResultCode, purchases []billing.Purchase) {
		got <- billing.UpdateEvent{Code: code, Purchases: purchases}
	})
	connect(t, c)

	e.push <- purchasesResponse{
		Code:      billing.ResultOK,
		Purchases: []billing.Purchase{{Token: "t1", ProductID: "premium"}},
	}

	select {
	case ev := <-got:
		if len(ev.Purchases) != 1 || ev.Purchases[0].Token != "t1" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener never saw the pushed update")
	}
}

func TestEndConnection(t *testing.T) {
	e, c := startEmulator(t)
	connect(t, c)

	c.EndConnection()
	if c.Ready() {
		t.Error("client still ready after EndConnection")
	}
	e.mu.Lock()
	disconnects := e.disconnects
	e.mu.Unlock()
	if disconnects != 1 {
		t.Errorf("disconnect calls = %d, want 1", disconnects)
	}
}

package billing

// VendorClient is the surface of the closed-source vendor billing client.
// All entitlement and payment logic lives behind it; the adapter only calls
// it and translates its callbacks into channels.
//
// The vendor delivers callbacks on its own internal goroutines. Implementations
// must not assume the callback runs on the goroutine that issued the call.
type VendorClient interface {
	// StartConnection begins asynchronous connection setup. onReady fires
	// exactly once with the setup result.
	StartConnection(onReady func(ResultCode))

	// EndConnection tears the connection down. No callbacks fire afterward.
	EndConnection()

	// Ready reports whether the connection is established and usable.
	Ready() bool

	// QueryProducts asynchronously fetches descriptors for the given ids.
	// onResult fires exactly once with the vendor code and, on OK, the
	// matched products in vendor order.
	QueryProducts(ids []string, kind ProductKind, onResult func(ResultCode, []Product))

	// QueryPurchases synchronously returns the current purchase list for a
	// product kind.
	QueryPurchases(kind ProductKind) (ResultCode, []Purchase)

	// Acknowledge confirms receipt of the purchase identified by token.
	// onDone fires exactly once.
	Acknowledge(token string, onDone func(ResultCode))

	// Consume marks the one-time purchase identified by token as used,
	// allowing it to be purchased again. onDone fires exactly once.
	Consume(token string, onDone func(ResultCode))

	// LaunchPurchaseFlow starts the vendor purchase flow and returns the
	// launch result. The purchase itself resolves later through the update
	// listener.
	LaunchPurchaseFlow(params PurchaseParams) ResultCode

	// SetUpdateListener registers the standing listener for spontaneous
	// purchase updates. At most one listener is active; a later call
	// replaces the earlier one.
	SetUpdateListener(onUpdate func(ResultCode, []Purchase))

	// FeatureSupported reports whether the vendor client supports a feature.
	FeatureSupported(f Feature) ResultCode
}

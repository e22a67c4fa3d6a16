package billing

import "time"

// ResultCode is the vendor billing client's result taxonomy.
// Values mirror the codes the vendor SDK reports; OK is the zero value.
type ResultCode int

const (
	ResultServiceTimeout       ResultCode = -3
	ResultFeatureNotSupported  ResultCode = -2
	ResultServiceDisconnected  ResultCode = -1
	ResultOK                   ResultCode = 0
	ResultUserCanceled         ResultCode = 1
	ResultServiceUnavailable   ResultCode = 2
	ResultBillingUnavailable   ResultCode = 3
	ResultItemUnavailable      ResultCode = 4
	ResultDeveloperError       ResultCode = 5
	ResultError                ResultCode = 6
	ResultItemAlreadyOwned     ResultCode = 7
	ResultItemNotOwned         ResultCode = 8
)

// String returns the vendor-style name for the code.
func (c ResultCode) String() string {
	switch c {
	case ResultServiceTimeout:
		return "SERVICE_TIMEOUT"
	case ResultFeatureNotSupported:
		return "FEATURE_NOT_SUPPORTED"
	case ResultServiceDisconnected:
		return "SERVICE_DISCONNECTED"
	case ResultOK:
		return "OK"
	case ResultUserCanceled:
		return "USER_CANCELED"
	case ResultServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case ResultBillingUnavailable:
		return "BILLING_UNAVAILABLE"
	case ResultItemUnavailable:
		return "ITEM_UNAVAILABLE"
	case ResultDeveloperError:
		return "DEVELOPER_ERROR"
	case ResultError:
		return "ERROR"
	case ResultItemAlreadyOwned:
		return "ITEM_ALREADY_OWNED"
	case ResultItemNotOwned:
		return "ITEM_NOT_OWNED"
	default:
		return "UNKNOWN"
	}
}

// ProductKind distinguishes one-time purchases from recurring subscriptions.
type ProductKind string

const (
	KindOneTime      ProductKind = "onetime"
	KindSubscription ProductKind = "subscription"
)

// Feature identifies an optional vendor client capability.
type Feature string

const (
	FeatureSubscriptions  Feature = "subscriptions"
	FeaturePriceChange    Feature = "price_change"
	FeatureProductDetails Feature = "product_details"
)

// Product is an immutable descriptor for a purchasable item, created from
// vendor query results and read-only afterward.
type Product struct {
	ID          string      `json:"id"`
	Kind        ProductKind `json:"kind"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	// PriceMicros is the price in micro-units of Currency, as reported by
	// the vendor.
	PriceMicros int64  `json:"price_micros"`
	Currency    string `json:"currency"`
}

// PurchaseState is the lifecycle state of a purchase as reported by the
// vendor. Acknowledged and consumed are tracked separately because the
// vendor only transitions them server-side.
type PurchaseState int

const (
	StateUnspecified PurchaseState = iota
	StatePending
	StatePurchased
)

// Purchase is a vendor-issued purchase record. The adapter never mutates
// local copies; acknowledge and consume transition the record vendor-side
// and callers observe the change by re-querying.
type Purchase struct {
	Token        string        `json:"token"`
	ProductID    string        `json:"product_id"`
	Kind         ProductKind   `json:"kind"`
	State        PurchaseState `json:"state"`
	Acknowledged bool          `json:"acknowledged"`
	PurchaseTime time.Time     `json:"purchase_time"`
}

// UpdateEvent is broadcast whenever the vendor client signals a purchase
// change, spontaneous or triggered by a re-query. Past events are not
// replayed to late subscribers.
type UpdateEvent struct {
	Code      ResultCode `json:"code"`
	Purchases []Purchase `json:"purchases"`
}

// PurchaseParams describes a purchase-flow launch. AccountID and ProfileID
// are raw caller identity and are obfuscated by the adapter before the
// params reach the vendor; only the Obfuscated fields are ever forwarded.
type PurchaseParams struct {
	Product Product

	AccountID string
	ProfileID string

	ObfuscatedAccountID string
	ObfuscatedProfileID string
}

// ProductResult is one element of a finite product query stream. Either
// Product is set or Err carries the vendor failure; the stream closes after
// the vendor callback has been fully drained.
type ProductResult struct {
	Product Product
	Err     error
}

// PurchaseResult is one element of a finite owned-purchases stream.
type PurchaseResult struct {
	Purchase Purchase
	Err      error
}

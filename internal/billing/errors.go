package billing

import (
	"errors"
	"fmt"
)

// ErrNoProducts is returned when a query is issued with an empty id list.
// The precondition is rejected before any vendor I/O happens.
var ErrNoProducts = errors.New("billing: product id list is empty")

// ErrRawIdentity is returned when purchase params carry raw account or
// profile identifiers but no obfuscator is configured. Raw identity never
// leaves the adapter.
var ErrRawIdentity = errors.New("billing: raw identity set but no obfuscator configured")

// VendorError wraps a non-OK result code reported by the vendor client.
type VendorError struct {
	Op   string
	Code ResultCode
}

func (e *VendorError) Error() string {
	return fmt.Sprintf("billing: %s failed: %s", e.Op, e.Code)
}

// AsVendorError unwraps err into a VendorError if it carries one.
func AsVendorError(err error) (*VendorError, bool) {
	var ve *VendorError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

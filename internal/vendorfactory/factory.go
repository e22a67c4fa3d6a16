package vendorfactory

import (
	"fmt"

	"github.com/streambill/streambill/internal/billing"
	"github.com/streambill/streambill/internal/billing/remote"
	"github.com/streambill/streambill/internal/billing/sandbox"
	"github.com/streambill/streambill/internal/config"
)

// New builds a vendor client constructor from a vendor profile. The
// constructor is handed to the adapter, which calls it for each
// (re)connect; the underlying client instance is shared so vendor-side
// state survives reconnects, the way it does with the real SDK.
func New(profile config.VendorProfile) (func() billing.VendorClient, error) {
	switch profile.Provider {
	case "sandbox":
		catalog := make([]billing.Product, 0, len(profile.Catalog))
		for _, e := range profile.Catalog {
			catalog = append(catalog, e.Product())
		}
		client := sandbox.NewClient(catalog)
		return func() billing.VendorClient { return client }, nil
	case "remote":
		if profile.Endpoint == "" {
			return nil, fmt.Errorf("endpoint is not set (required for provider %q)", profile.Provider)
		}
		client := remote.NewClient(nil, profile.Endpoint)
		return func() billing.VendorClient { return client }, nil
	default:
		return nil, fmt.Errorf("unsupported vendor provider: %q (supported: sandbox, remote)", profile.Provider)
	}
}

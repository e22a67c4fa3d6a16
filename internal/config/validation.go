package config

import "fmt"

// Validate checks that the configuration is internally consistent.
// Returns an error with helpful messaging if validation fails.
func Validate(cfg *Config) error {
	if cfg.Vendor.Current == "" {
		return fmt.Errorf("vendor.current must name a profile")
	}
	if _, ok := cfg.Vendor.Available[cfg.Vendor.Current]; !ok {
		return fmt.Errorf("vendor.current %q is not in vendor.available", cfg.Vendor.Current)
	}

	for name, p := range cfg.Vendor.Available {
		switch p.Provider {
		case "sandbox":
			if len(p.Catalog) == 0 {
				return fmt.Errorf("vendor profile %q: sandbox provider requires a catalog", name)
			}
			for i, e := range p.Catalog {
				if e.ID == "" {
					return fmt.Errorf("vendor profile %q: catalog entry %d has no id", name, i)
				}
				if e.Kind != "onetime" && e.Kind != "subscription" {
					return fmt.Errorf("vendor profile %q: catalog entry %q has unknown kind %q (supported: onetime, subscription)", name, e.ID, e.Kind)
				}
			}
		case "remote":
			if p.Endpoint == "" {
				return fmt.Errorf("vendor profile %q: remote provider requires an endpoint", name)
			}
		default:
			return fmt.Errorf("vendor profile %q: unsupported provider %q (supported: sandbox, remote)", name, p.Provider)
		}
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", cfg.Logging.Level)
	}

	return nil
}

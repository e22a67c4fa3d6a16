package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/streambill/streambill/internal/billing"
)

// Config represents the streambill configuration
type Config struct {
	Vendor   VendorConfig   `yaml:"vendor"`
	Identity IdentityConfig `yaml:"identity"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// VendorConfig selects the active vendor client profile
type VendorConfig struct {
	Current   string                   `yaml:"current"`
	Available map[string]VendorProfile `yaml:"available"`
}

// VendorProfile configures one vendor client
type VendorProfile struct {
	Provider string         `yaml:"provider"` // "sandbox", "remote"
	Endpoint string         `yaml:"endpoint,omitempty"`
	Catalog  []CatalogEntry `yaml:"catalog,omitempty"`
}

// CatalogEntry is a sandbox catalog item
type CatalogEntry struct {
	ID          string `yaml:"id"`
	Kind        string `yaml:"kind"` // "onetime", "subscription"
	Title       string `yaml:"title"`
	Description string `yaml:"description,omitempty"`
	PriceMicros int64  `yaml:"price_micros"`
	Currency    string `yaml:"currency"`
}

// Product converts the entry to a billing descriptor.
func (e CatalogEntry) Product() billing.Product {
	return billing.Product{
		ID:          e.ID,
		Kind:        billing.ProductKind(e.Kind),
		Title:       e.Title,
		Description: e.Description,
		PriceMicros: e.PriceMicros,
		Currency:    e.Currency,
	}
}

// IdentityConfig configures identity obfuscation
type IdentityConfig struct {
	// Salt keys the one-way digest of account/profile ids. Purchases that
	// carry raw identity fail when it is empty.
	Salt string `yaml:"salt"`
}

// ServerConfig configures the streambilld HTTP server
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
	File  string `yaml:"file,omitempty"`
}

// CurrentProfile returns the active vendor profile.
func (v VendorConfig) CurrentProfile() (VendorProfile, error) {
	p, ok := v.Available[v.Current]
	if !ok {
		return VendorProfile{}, fmt.Errorf("vendor profile %q not found in config", v.Current)
	}
	return p, nil
}

// ProfileNames returns the configured profile names, sorted.
func (v VendorConfig) ProfileNames() []string {
	names := make([]string, 0, len(v.Available))
	for name := range v.Available {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// defaultConfig returns the configuration used when no file exists.
func defaultConfig() *Config {
	return &Config{
		Vendor: VendorConfig{
			Current: "sandbox",
			Available: map[string]VendorProfile{
				"sandbox": {
					Provider: "sandbox",
					Catalog: []CatalogEntry{
						{ID: "premium", Kind: "subscription", Title: "Premium", PriceMicros: 4_990_000, Currency: "USD"},
						{ID: "coins_100", Kind: "onetime", Title: "100 Coins", PriceMicros: 990_000, Currency: "USD"},
						{ID: "remove_ads", Kind: "onetime", Title: "Remove Ads", PriceMicros: 1_990_000, Currency: "USD"},
					},
				},
			},
		},
		Identity: IdentityConfig{
			Salt: "streambill-dev",
		},
		Server: ServerConfig{
			Address: "localhost:7878",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the given YAML file path. A missing file
// yields defaults; a present file is parsed over the defaults and then
// validated. An empty path resolves to ~/.config/streambill/config.yaml.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil
		}
		path = filepath.Join(home, ".config", "streambill", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/streambill/streambill/internal/billing"
	"github.com/streambill/streambill/internal/config"
)

var ErrExit = errors.New("exit requested")

// ServiceBuilder creates a billing service for the given vendor profile.
// Used by /vendor to hot-swap the backing client without restarting.
type ServiceBuilder func(profile config.VendorProfile) (billing.Service, error)

// Console implements the interactive storefront loop for streambill
type Console struct {
	config  *config.Config
	build   ServiceBuilder
	service billing.Service

	lastProducts []billing.Product
	watching     atomic.Bool
	cancelWatch  func()
}

// New creates a console over an initial billing service.
func New(cfg *config.Config, service billing.Service, build ServiceBuilder) *Console {
	return &Console{
		config:  cfg,
		build:   build,
		service: service,
	}
}

// Run starts the console loop.
// Prints a welcome message, then loops reading input and dispatching
// commands. Exits on /exit, /quit, or Ctrl+D (EOF).
func (c *Console) Run(ctx context.Context) error {
	fmt.Printf("streambill console — vendor profile %q\n", c.config.Vendor.Current)
	fmt.Println("Type product ids to look them up, or /help for commands.")
	fmt.Println()

	c.subscribe()
	defer c.unsubscribe()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")

		if !scanner.Scan() {
			// EOF (Ctrl+D) or error
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if err := c.handleCommand(ctx, input); err != nil {
				if errors.Is(err, ErrExit) {
					fmt.Println("Goodbye.")
					break
				}
				fmt.Printf("Error: %v\n", err)
			}
			fmt.Println()
			continue
		}

		// Plain input is a one-time product lookup.
		if err := c.queryProducts(ctx, billing.KindOneTime, strings.Fields(input)); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
		fmt.Println()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	return nil
}

// subscribe starts printing update events when watching is enabled.
func (c *Console) subscribe() {
	updates, cancel := c.service.Updates()
	c.cancelWatch = cancel
	go func() {
		for ev := range updates {
			if !c.watching.Load() {
				continue
			}
			fmt.Printf("\n[update] %s", ev.Code)
			for _, p := range ev.Purchases {
				fmt.Printf(" product=%s token=%s", p.ProductID, p.Token)
			}
			fmt.Print("\n> ")
		}
	}()
}

func (c *Console) unsubscribe() {
	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}
}

// handleCommand processes console commands starting with /
func (c *Console) handleCommand(ctx context.Context, input string) error {
	cmd := strings.TrimPrefix(input, "/")
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return nil
	}

	switch parts[0] {
	case "products":
		if len(parts) < 3 {
			return fmt.Errorf("usage: /products <onetime|sub> <id> [id...]")
		}
		kind, err := parseKind(parts[1])
		if err != nil {
			return err
		}
		return c.queryProducts(ctx, kind, parts[2:])
	case "buy":
		return c.handleBuy(ctx, parts[1:])
	case "owned":
		kind := billing.KindOneTime
		if len(parts) > 1 {
			var err error
			if kind, err = parseKind(parts[1]); err != nil {
				return err
			}
		}
		return c.handleOwned(ctx, kind)
	case "ack":
		if len(parts) < 2 {
			return fmt.Errorf("usage: /ack <token>")
		}
		code, err := c.service.Acknowledge(ctx, billing.Purchase{Token: parts[1]})
		if err != nil {
			return err
		}
		fmt.Printf("acknowledged: %s\n", code)
		return nil
	case "consume":
		if len(parts) < 2 {
			return fmt.Errorf("usage: /consume <token>")
		}
		code, err := c.service.Consume(ctx, billing.Purchase{Token: parts[1]})
		if err != nil {
			return err
		}
		fmt.Printf("consumed: %s\n", code)
		return nil
	case "watch":
		on := c.watching.Load()
		c.watching.Store(!on)
		if on {
			fmt.Println("update watch off")
		} else {
			fmt.Println("update watch on")
		}
		return nil
	case "vendor":
		return c.handleVendorCommand()
	case "help":
		return c.handleHelpCommand()
	case "exit", "quit":
		return ErrExit
	default:
		return fmt.Errorf("unknown command: /%s. Type /help for available commands", parts[0])
	}
}

func parseKind(s string) (billing.ProductKind, error) {
	switch s {
	case "onetime", "one-time":
		return billing.KindOneTime, nil
	case "sub", "subs", "subscription":
		return billing.KindSubscription, nil
	default:
		return "", fmt.Errorf("unknown product kind %q (use onetime or sub)", s)
	}
}

// queryProducts streams a lookup and remembers the results for /buy.
func (c *Console) queryProducts(ctx context.Context, kind billing.ProductKind, ids []string) error {
	stream, err := c.service.Products(ctx, ids, kind)
	if err != nil {
		return err
	}

	c.lastProducts = c.lastProducts[:0]
	for res := range stream {
		if res.Err != nil {
			return res.Err
		}
		c.lastProducts = append(c.lastProducts, res.Product)
		fmt.Printf("  %s — %s  %s\n", res.Product.ID, res.Product.Title, formatPrice(res.Product))
	}
	if len(c.lastProducts) == 0 {
		fmt.Println("  no matching products")
	}
	return nil
}

func (c *Console) handleBuy(ctx context.Context, args []string) error {
	var product billing.Product

	if len(args) > 0 {
		product = billing.Product{ID: args[0], Kind: billing.KindOneTime}
		for _, p := range c.lastProducts {
			if p.ID == args[0] {
				product = p
				break
			}
		}
	} else {
		if len(c.lastProducts) == 0 {
			fmt.Println("Nothing to buy yet. Look up products first.")
			return nil
		}
		selected, err := RunProductPicker(c.lastProducts)
		if err != nil {
			return fmt.Errorf("failed to run picker: %w", err)
		}
		if selected == nil {
			fmt.Println("Cancelled")
			return nil
		}
		product = *selected
	}

	params := billing.PurchaseParams{Product: product}
	if len(args) > 1 {
		params.AccountID = args[1]
	}

	code, err := c.service.Purchase(ctx, params)
	if err != nil {
		return err
	}
	fmt.Printf("purchase flow launched: %s (watch updates for the result)\n", code)
	return nil
}

func (c *Console) handleOwned(ctx context.Context, kind billing.ProductKind) error {
	stream, err := c.service.OwnedPurchases(ctx, kind)
	if err != nil {
		return err
	}

	n := 0
	for res := range stream {
		if res.Err != nil {
			return res.Err
		}
		n++
		ack := ""
		if res.Purchase.Acknowledged {
			ack = " (acknowledged)"
		}
		fmt.Printf("  %s token=%s%s\n", res.Purchase.ProductID, res.Purchase.Token, ack)
	}
	if n == 0 {
		fmt.Println("  nothing owned")
	}
	return nil
}

// handleVendorCommand shows an interactive profile selector and switches
// the backing vendor client.
func (c *Console) handleVendorCommand() error {
	profiles := c.config.Vendor.ProfileNames()
	current := c.config.Vendor.Current

	if len(profiles) == 0 {
		fmt.Println("No vendor profiles configured in config.yaml")
		return nil
	}
	if len(profiles) == 1 {
		fmt.Printf("Only one vendor profile configured: %s\n", current)
		return nil
	}

	selected, err := RunProfilePicker(profiles, current)
	if err != nil {
		return fmt.Errorf("failed to run selector: %w", err)
	}
	if selected == "" {
		fmt.Println("Cancelled")
		return nil
	}
	if selected == current {
		fmt.Printf("Already using %s\n", current)
		return nil
	}

	profile, ok := c.config.Vendor.Available[selected]
	if !ok {
		return fmt.Errorf("vendor profile %s not found in config", selected)
	}

	service, err := c.build(profile)
	if err != nil {
		return fmt.Errorf("failed to build vendor client for %s: %w", selected, err)
	}

	c.unsubscribe()
	c.service.Close()
	c.service = service
	c.config.Vendor.Current = selected
	c.lastProducts = nil
	c.subscribe()

	fmt.Printf("\nSwitched to %s (%s)\n", selected, profile.Provider)
	return nil
}

// handleHelpCommand displays available commands
func (c *Console) handleHelpCommand() error {
	help := `Available commands:
  /products <onetime|sub> <id...>  - Look up product descriptors
  /buy [id] [account_id]           - Launch a purchase flow (picker without args)
  /owned [onetime|sub]             - List owned purchases
  /ack <token>                     - Acknowledge a purchase
  /consume <token>                 - Consume a one-time purchase
  /watch                           - Toggle printing of update events
  /vendor                          - Switch vendor profile
  /help                            - Show this help
  /exit                            - Exit (or use Ctrl+D)
`
	fmt.Print(help)
	return nil
}

func formatPrice(p billing.Product) string {
	if p.Currency == "" {
		return ""
	}
	return fmt.Sprintf("%.2f %s", float64(p.PriceMicros)/1e6, p.Currency)
}

package settings

import (
	"context"
	"os"
	"strings"

	"webbilling/backend/internal/domain"
)

// Provider supplies shop identity and receipt preferences to components
// that render customer-facing output. Injected explicitly so the core
// stays testable without any ambient key-value store.
type Provider interface {
	Get(ctx context.Context) (domain.ShopSettings, error)
}

// Static returns fixed settings; the default for tests and single-shop use.
type Static struct {
	Settings domain.ShopSettings
}

func (s Static) Get(_ context.Context) (domain.ShopSettings, error) {
	settings := s.Settings
	if settings.CurrencySign == "" {
		settings.CurrencySign = "₹"
	}
	if settings.ShopName == "" {
		settings.ShopName = "Retail Billing"
	}
	return settings, nil
}

// FromEnv builds a Static provider from SHOP_* environment variables.
func FromEnv() Static {
	return Static{Settings: domain.ShopSettings{
		ShopName:      strings.TrimSpace(os.Getenv("SHOP_NAME")),
		AddressLine:   strings.TrimSpace(os.Getenv("SHOP_ADDRESS")),
		Phone:         strings.TrimSpace(os.Getenv("SHOP_PHONE")),
		ReceiptFooter: strings.TrimSpace(os.Getenv("SHOP_RECEIPT_FOOTER")),
		CurrencySign:  strings.TrimSpace(os.Getenv("SHOP_CURRENCY_SIGN")),
	}}
}

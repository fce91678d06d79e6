package cache

import (
	"context"
	"time"

	"webbilling/backend/internal/domain"
)

// ProductCache short-circuits barcode lookups on the hot scan path.
// A miss is (nil, false, nil); errors are reserved for backend failures.
type ProductCache interface {
	Get(ctx context.Context, barcode string) (*domain.Product, bool, error)
	Set(ctx context.Context, barcode string, product *domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, barcode string) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ string, _ *domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

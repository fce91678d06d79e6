package returns

import (
	"context"
	"log"

	"webbilling/backend/internal/domain"
)

// ProductGetter is the slice of the catalog collaborator the stock checker
// needs. The full repository satisfies it.
type ProductGetter interface {
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
}

type StockChecker struct {
	catalog ProductGetter
}

func NewStockChecker(catalog ProductGetter) *StockChecker {
	return &StockChecker{catalog: catalog}
}

// Check cross-references each exchange line against current catalog stock.
// Lines without a product reference are skipped: a manually entered line has
// nothing to check against. A failed lookup is logged and skipped rather
// than aborting the whole check; this is advisory, not a reservation, and
// the store re-checks atomically at commit time.
func (c *StockChecker) Check(ctx context.Context, exchangeItems []domain.ReturnLineItem) domain.StockCheckResult {
	shortfalls := make([]domain.StockShortfall, 0, len(exchangeItems))
	for _, item := range exchangeItems {
		if item.ProductID == nil {
			continue
		}
		product, err := c.catalog.GetProductByID(ctx, *item.ProductID)
		if err != nil {
			log.Printf("[stockcheck] WARN: cannot verify stock for %q (product %d): %v", item.ProductName, *item.ProductID, err)
			continue
		}
		if item.Quantity > product.StockQuantity {
			shortfalls = append(shortfalls, domain.StockShortfall{
				ProductName: item.ProductName,
				Requested:   item.Quantity,
				Available:   product.StockQuantity,
			})
		}
	}
	return domain.StockCheckResult{IsValid: len(shortfalls) == 0, InsufficientStock: shortfalls}
}

package returns

import (
	"fmt"
	"strings"

	"webbilling/backend/internal/domain"
)

// Validate checks a proposed return/exchange transaction before submission.
// Every applicable violation is collected; the caller surfaces the first one
// to the user and keeps the full list for logs. Pure, no I/O.
func Validate(originalBillID int64, returnItems, exchangeItems []domain.ReturnLineItem) domain.ValidationResult {
	errs := make([]string, 0, 4)

	if originalBillID <= 0 {
		errs = append(errs, "original bill id must be a positive integer")
	}
	if len(returnItems) == 0 {
		errs = append(errs, "at least one return item is required")
	}
	if len(exchangeItems) == 0 {
		errs = append(errs, "at least one exchange item is required")
	}

	errs = append(errs, validateItems("return", returnItems)...)
	errs = append(errs, validateItems("exchange", exchangeItems)...)

	return domain.ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

func validateItems(kind string, items []domain.ReturnLineItem) []string {
	errs := make([]string, 0, 2)
	for i, item := range items {
		label := fmt.Sprintf("%s item %d", kind, i+1)
		if name := strings.TrimSpace(item.ProductName); name != "" {
			label = fmt.Sprintf("%s item %q", kind, name)
		} else {
			errs = append(errs, fmt.Sprintf("%s: product name is required", label))
		}
		if item.Quantity <= 0 {
			errs = append(errs, fmt.Sprintf("%s: quantity must be greater than zero", label))
		}
		if item.UnitPrice < 0 {
			errs = append(errs, fmt.Sprintf("%s: unit price must not be negative", label))
		}
		calculated := LineTotal(item.Quantity, item.UnitPrice)
		if !withinTolerance(calculated, item.TotalPrice) {
			errs = append(errs, fmt.Sprintf("%s: total price %.2f does not match quantity x unit price %.2f", label, item.TotalPrice, calculated))
		}
	}
	return errs
}

package returns

import (
	"fmt"
	"math"

	"webbilling/backend/internal/domain"
)

// PriceTolerance is the allowed drift between a line's stored total and
// quantity * unit price. A small epsilon pad keeps a drift of exactly
// 0.01 on the passing side despite float64 representation error.
const PriceTolerance = 0.01

const toleranceEpsilon = 1e-9

// LineTotal computes a line's value from quantity and unit price. Callers
// must never trust a stale stored total at submission time.
func LineTotal(quantity int, unitPrice float64) float64 {
	return float64(quantity) * unitPrice
}

func withinTolerance(calculated, provided float64) bool {
	return math.Abs(calculated-provided) <= PriceTolerance+toleranceEpsilon
}

// Summarize computes the financial settlement of a return/exchange pair.
// Balance is exchange minus return: positive means the customer owes more,
// negative means the customer is owed change. A zero balance is not
// positive; nobody owes anybody.
func Summarize(returnItems, exchangeItems []domain.ReturnLineItem) domain.ReturnSummary {
	summary := domain.ReturnSummary{}
	for _, item := range returnItems {
		summary.TotalReturnValue += item.TotalPrice
	}
	for _, item := range exchangeItems {
		summary.TotalExchangeValue += item.TotalPrice
	}
	summary.BalanceAmount = summary.TotalExchangeValue - summary.TotalReturnValue
	summary.IsBalancePositive = summary.BalanceAmount > 0
	return summary
}

// FormatAmount renders an amount with the shop's currency sign, e.g. "₹150.00".
func FormatAmount(sign string, amount float64) string {
	if sign == "" {
		sign = "₹"
	}
	if amount < 0 {
		return fmt.Sprintf("-%s%.2f", sign, -amount)
	}
	return fmt.Sprintf("%s%.2f", sign, amount)
}

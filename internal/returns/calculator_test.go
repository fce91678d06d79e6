package returns

import (
	"math"
	"testing"

	"webbilling/backend/internal/domain"
)

func line(name string, qty int, unitPrice float64) domain.ReturnLineItem {
	return domain.ReturnLineItem{
		ProductName: name,
		Quantity:    qty,
		UnitPrice:   unitPrice,
		TotalPrice:  LineTotal(qty, unitPrice),
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestSummarizeCustomerOwesMore(t *testing.T) {
	summary := Summarize(
		[]domain.ReturnLineItem{line("Tea Powder 500g", 1, 100)},
		[]domain.ReturnLineItem{line("Basmati Rice 5kg", 1, 150)},
	)

	if !almostEqual(summary.TotalReturnValue, 100) {
		t.Fatalf("return value = %.2f, want 100", summary.TotalReturnValue)
	}
	if !almostEqual(summary.TotalExchangeValue, 150) {
		t.Fatalf("exchange value = %.2f, want 150", summary.TotalExchangeValue)
	}
	if !almostEqual(summary.BalanceAmount, 50) {
		t.Fatalf("balance = %.2f, want 50", summary.BalanceAmount)
	}
	if !summary.IsBalancePositive {
		t.Fatalf("expected positive balance")
	}
}

func TestSummarizeRefundDue(t *testing.T) {
	summary := Summarize(
		[]domain.ReturnLineItem{line("Wheat Flour 10kg", 1, 200)},
		[]domain.ReturnLineItem{line("Sugar 1kg", 1, 80)},
	)

	if !almostEqual(summary.BalanceAmount, -120) {
		t.Fatalf("balance = %.2f, want -120", summary.BalanceAmount)
	}
	if summary.IsBalancePositive {
		t.Fatalf("refund-due balance must not be positive")
	}
}

func TestSummarizeEvenExchangeNotPositive(t *testing.T) {
	summary := Summarize(
		[]domain.ReturnLineItem{line("Toor Dal 1kg", 2, 70)},
		[]domain.ReturnLineItem{line("Sunflower Oil 1L", 1, 140)},
	)

	if !almostEqual(summary.BalanceAmount, 0) {
		t.Fatalf("balance = %.2f, want 0", summary.BalanceAmount)
	}
	if summary.IsBalancePositive {
		t.Fatalf("zero balance must not report as positive")
	}
}

func TestSummarizeEmptyInputs(t *testing.T) {
	summary := Summarize(nil, nil)
	if summary.TotalReturnValue != 0 || summary.TotalExchangeValue != 0 || summary.BalanceAmount != 0 {
		t.Fatalf("empty inputs must produce a zero summary, got %+v", summary)
	}
	if summary.IsBalancePositive {
		t.Fatalf("zero balance must not report as positive")
	}
}

func TestSummarizeMultipleLines(t *testing.T) {
	summary := Summarize(
		[]domain.ReturnLineItem{
			line("Tea Powder 500g", 2, 220),
			line("Sugar 1kg", 3, 45),
		},
		[]domain.ReturnLineItem{
			line("Basmati Rice 5kg", 1, 450),
		},
	)

	if !almostEqual(summary.TotalReturnValue, 575) {
		t.Fatalf("return value = %.2f, want 575", summary.TotalReturnValue)
	}
	if !almostEqual(summary.BalanceAmount, -125) {
		t.Fatalf("balance = %.2f, want -125", summary.BalanceAmount)
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount("₹", 150); got != "₹150.00" {
		t.Fatalf("FormatAmount = %q", got)
	}
	if got := FormatAmount("", 99.5); got != "₹99.50" {
		t.Fatalf("FormatAmount default sign = %q", got)
	}
	if got := FormatAmount("₹", -120); got != "-₹120.00" {
		t.Fatalf("FormatAmount negative = %q", got)
	}
}

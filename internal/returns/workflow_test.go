package returns

import (
	"context"
	"testing"
	"time"

	"webbilling/backend/internal/domain"
	"webbilling/backend/internal/store"
)

type fakeBillSource struct {
	bills map[int64]domain.Bill
}

func (f *fakeBillSource) SearchBills(_ context.Context, query string, _ int) ([]domain.Bill, error) {
	result := make([]domain.Bill, 0, len(f.bills))
	for _, bill := range f.bills {
		result = append(result, bill)
	}
	return result, nil
}

func (f *fakeBillSource) GetBillByID(_ context.Context, id int64) (*domain.Bill, error) {
	bill, ok := f.bills[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := bill
	return &copied, nil
}

type fakeProducts struct {
	byID      map[int64]domain.Product
	byBarcode map[string]domain.Product
}

func (f *fakeProducts) GetProductByID(_ context.Context, id int64) (*domain.Product, error) {
	product, ok := f.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (f *fakeProducts) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	product, ok := f.byBarcode[barcode]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func intPtr(v int64) *int64 { return &v }

func testWorkflow() (*Workflow, *fakeProducts) {
	bills := &fakeBillSource{bills: map[int64]domain.Bill{
		1: {
			ID:           1,
			BillNumber:   "bill-001",
			CustomerName: "Asha",
			TotalAmount:  440,
			Items: []domain.BillItem{
				{ProductID: intPtr(10), ProductName: "Tea Powder 500g", Quantity: 2, UnitPrice: 220, TotalPrice: 440},
			},
		},
		2: {ID: 2, BillNumber: "ret-777", IsReturn: true},
	}}
	sugar := domain.Product{ID: 20, Name: "Sugar 1kg", Code: "SUGAR-1KG", Barcode: "8901111000062", SellingPrice: 45, StockQuantity: 50}
	rice := domain.Product{ID: 21, Name: "Basmati Rice 5kg", Code: "RICE-5KG", Barcode: "8901111000017", SellingPrice: 450, StockQuantity: 2}
	products := &fakeProducts{
		byID:      map[int64]domain.Product{20: sugar, 21: rice},
		byBarcode: map[string]domain.Product{sugar.Barcode: sugar, rice.Barcode: rice},
	}
	return NewWorkflow(bills, products, NewStockChecker(products)), products
}

func TestWorkflowSearchFiltersSettlementBills(t *testing.T) {
	w, _ := testWorkflow()
	bills, err := w.SearchBills(context.Background(), "")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for _, bill := range bills {
		if bill.IsReturn {
			t.Fatalf("settlement bill %s must not be offered as a return source", bill.BillNumber)
		}
	}
}

func TestWorkflowRejectsSelectingSettlementBill(t *testing.T) {
	w, _ := testWorkflow()
	if err := w.SelectBill(context.Background(), 2); err == nil {
		t.Fatalf("selecting a settlement bill must fail")
	}
}

func TestWorkflowStepGates(t *testing.T) {
	w, _ := testWorkflow()
	ctx := context.Background()

	if err := w.Advance(); err == nil {
		t.Fatalf("advancing without a source bill must fail")
	}

	if err := w.SelectBill(ctx, 1); err != nil {
		t.Fatalf("select bill: %v", err)
	}
	if err := w.Advance(); err != nil {
		t.Fatalf("advance to return selection: %v", err)
	}

	if err := w.Advance(); err == nil {
		t.Fatalf("advancing with no return quantities must fail")
	}
	if err := w.SetReturnQuantity(0, 1); err != nil {
		t.Fatalf("set return quantity: %v", err)
	}
	if err := w.Advance(); err != nil {
		t.Fatalf("advance to exchange selection: %v", err)
	}

	if err := w.Advance(); err == nil {
		t.Fatalf("advancing with no exchange items must fail")
	}
	product, _ := w.products.GetProductByID(ctx, 20)
	if err := w.AddExchangeProduct(product, 2); err != nil {
		t.Fatalf("add exchange product: %v", err)
	}
	if err := w.Advance(); err != nil {
		t.Fatalf("advance to confirm: %v", err)
	}

	if w.Step() != StepConfirm {
		t.Fatalf("step = %s, want %s", w.Step(), StepConfirm)
	}
	if err := w.Advance(); err == nil {
		t.Fatalf("advancing past the final step must fail")
	}
}

func TestWorkflowReturnQuantityBounds(t *testing.T) {
	w, _ := testWorkflow()
	ctx := context.Background()
	if err := w.SelectBill(ctx, 1); err != nil {
		t.Fatalf("select bill: %v", err)
	}

	if err := w.SetReturnQuantity(0, 3); err == nil {
		t.Fatalf("quantity above the sold amount must fail")
	}
	if err := w.SetReturnQuantity(0, -1); err == nil {
		t.Fatalf("negative quantity must fail")
	}
	if err := w.SetReturnQuantity(0, 2); err != nil {
		t.Fatalf("quantity equal to the sold amount must pass: %v", err)
	}
}

func TestWorkflowBackPreservesLaterSteps(t *testing.T) {
	w, _ := testWorkflow()
	ctx := context.Background()

	if err := w.SelectBill(ctx, 1); err != nil {
		t.Fatalf("select bill: %v", err)
	}
	_ = w.Advance()
	_ = w.SetReturnQuantity(0, 1)
	_ = w.Advance()
	product, _ := w.products.GetProductByID(ctx, 20)
	_ = w.AddExchangeProduct(product, 1)

	w.Back()
	w.Back()
	if w.Step() != StepSearchBill {
		t.Fatalf("step after two backs = %s", w.Step())
	}

	if got := w.ReturnItems(); len(got) != 1 || got[0].Quantity != 1 {
		t.Fatalf("return selection lost after back: %+v", got)
	}
	if got := w.ExchangeItems(); len(got) != 1 {
		t.Fatalf("exchange selection lost after back: %+v", got)
	}
}

func TestWorkflowCancelDiscardsEverything(t *testing.T) {
	w, _ := testWorkflow()
	ctx := context.Background()

	_ = w.SelectBill(ctx, 1)
	_ = w.Advance()
	_ = w.SetReturnQuantity(0, 1)
	w.Cancel()

	if w.Step() != StepSearchBill {
		t.Fatalf("cancel must reset to the first step, got %s", w.Step())
	}
	if len(w.ReturnItems()) != 0 || len(w.ExchangeItems()) != 0 {
		t.Fatalf("cancel must discard all selections")
	}
	if err := w.Advance(); err == nil {
		t.Fatalf("cancelled workflow must not advance without a fresh bill")
	}
}

func TestWorkflowScanOnlyOnExchangeStep(t *testing.T) {
	w, _ := testWorkflow()
	ctx := context.Background()

	if err := w.HandleScan(ctx, "8901111000062"); err == nil {
		t.Fatalf("scanning outside the exchange step must fail")
	}

	_ = w.SelectBill(ctx, 1)
	_ = w.Advance()
	_ = w.SetReturnQuantity(0, 1)
	_ = w.Advance()

	if err := w.HandleScan(ctx, "8901111000062"); err != nil {
		t.Fatalf("scan on exchange step: %v", err)
	}
	if err := w.HandleScan(ctx, "8901111000062"); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	items := w.ExchangeItems()
	if len(items) != 1 {
		t.Fatalf("repeated scans must merge into one line, got %d", len(items))
	}
	if items[0].Quantity != 2 {
		t.Fatalf("merged quantity = %d, want 2", items[0].Quantity)
	}
	if err := w.HandleScan(ctx, "0000000000000"); err == nil {
		t.Fatalf("unknown barcode must fail")
	}
}

func TestWorkflowConsumeScans(t *testing.T) {
	w, _ := testWorkflow()
	ctx := context.Background()

	_ = w.SelectBill(ctx, 1)
	_ = w.Advance()
	_ = w.SetReturnQuantity(0, 1)
	_ = w.Advance()

	scans := make(chan string, 3)
	scans <- "8901111000062"
	scans <- "not-a-barcode"
	scans <- "8901111000017"
	close(scans)

	done := make(chan struct{})
	go func() {
		w.ConsumeScans(ctx, scans)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ConsumeScans did not drain the channel")
	}

	if got := len(w.ExchangeItems()); got != 2 {
		t.Fatalf("expected 2 exchange lines after scans, got %d", got)
	}
}

func TestWorkflowConfirmBuildsPayload(t *testing.T) {
	w, _ := testWorkflow()
	ctx := context.Background()

	_ = w.SelectBill(ctx, 1)
	w.SetCustomer("Asha", "9876500000")
	w.SetReason("size exchange")
	_ = w.Advance()
	_ = w.SetReturnQuantity(0, 1)
	_ = w.Advance()
	product, _ := w.products.GetProductByID(ctx, 20)
	_ = w.AddExchangeProduct(product, 3)
	_ = w.Advance()

	data, err := w.Confirm(ctx)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if data.OriginalBillID != 1 {
		t.Fatalf("original bill id = %d", data.OriginalBillID)
	}
	if data.CustomerName != "Asha" || data.ReturnReason != "size exchange" {
		t.Fatalf("customer metadata lost: %+v", data)
	}
	if len(data.ReturnItems) != 1 || data.ReturnItems[0].Quantity != 1 {
		t.Fatalf("unexpected return items: %+v", data.ReturnItems)
	}
	if len(data.ExchangeItems) != 1 || !almostEqual(data.ExchangeItems[0].TotalPrice, 135) {
		t.Fatalf("unexpected exchange items: %+v", data.ExchangeItems)
	}
}

func TestWorkflowConfirmRejectsStockShortfall(t *testing.T) {
	w, _ := testWorkflow()
	ctx := context.Background()

	_ = w.SelectBill(ctx, 1)
	_ = w.Advance()
	_ = w.SetReturnQuantity(0, 1)
	_ = w.Advance()
	rice, _ := w.products.GetProductByID(ctx, 21)
	_ = w.AddExchangeProduct(rice, 5)
	_ = w.Advance()

	if _, err := w.Confirm(ctx); err == nil {
		t.Fatalf("confirm must fail when exchange stock is short")
	}
	if w.Step() != StepConfirm {
		t.Fatalf("failed confirm must leave the workflow on the confirm step")
	}
}

func TestWorkflowConfirmRequiresFinalStep(t *testing.T) {
	w, _ := testWorkflow()
	if _, err := w.Confirm(context.Background()); err == nil {
		t.Fatalf("confirm before the final step must fail")
	}
}

func TestWorkflowSummaryTracksSelections(t *testing.T) {
	w, _ := testWorkflow()
	ctx := context.Background()

	_ = w.SelectBill(ctx, 1)
	_ = w.Advance()
	_ = w.SetReturnQuantity(0, 2)
	_ = w.Advance()
	product, _ := w.products.GetProductByID(ctx, 20)
	_ = w.AddExchangeProduct(product, 2)

	summary := w.Summary()
	if !almostEqual(summary.TotalReturnValue, 440) {
		t.Fatalf("return value = %.2f, want 440", summary.TotalReturnValue)
	}
	if !almostEqual(summary.TotalExchangeValue, 90) {
		t.Fatalf("exchange value = %.2f, want 90", summary.TotalExchangeValue)
	}
	if !almostEqual(summary.BalanceAmount, -350) {
		t.Fatalf("balance = %.2f, want -350", summary.BalanceAmount)
	}
}

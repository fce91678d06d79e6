package returns

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"webbilling/backend/internal/domain"
)

// Step identifies a stage of the return/exchange workflow.
type Step int

const (
	StepSearchBill Step = iota + 1
	StepSelectReturnItems
	StepSelectExchangeItems
	StepConfirm
)

func (s Step) String() string {
	switch s {
	case StepSearchBill:
		return "search_bill"
	case StepSelectReturnItems:
		return "select_return_items"
	case StepSelectExchangeItems:
		return "select_exchange_items"
	case StepConfirm:
		return "confirm"
	default:
		return "unknown"
	}
}

// BillSource is the slice of the bill collaborator the workflow needs.
type BillSource interface {
	SearchBills(ctx context.Context, query string, limit int) ([]domain.Bill, error)
	GetBillByID(ctx context.Context, id int64) (*domain.Bill, error)
}

// ProductLookup resolves exchange-item candidates from the catalog.
type ProductLookup interface {
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
}

// returnLine is a bill line pre-populated for return selection. Quantity is
// independently adjustable between zero and the originally sold quantity.
type returnLine struct {
	item        domain.ReturnLineItem
	maxQuantity int
}

// Workflow drives one user session through the four-step return/exchange
// flow. All step state lives in memory until Confirm; Cancel discards it
// with no persistence side effect. The mutex exists because the barcode
// scan feed runs on its own goroutine alongside UI-driven calls.
type Workflow struct {
	mu       sync.Mutex
	bills    BillSource
	products ProductLookup
	checker  *StockChecker

	step          Step
	sourceBill    *domain.Bill
	returnLines   []returnLine
	exchangeLines []domain.ReturnLineItem
	customerName  string
	customerPhone string
	reason        string
	notes         string
}

func NewWorkflow(bills BillSource, products ProductLookup, checker *StockChecker) *Workflow {
	return &Workflow{
		bills:    bills,
		products: products,
		checker:  checker,
		step:     StepSearchBill,
	}
}

func (w *Workflow) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// SearchBills returns return-eligible source bills: settlement records
// (is_return) are filtered out because a return cannot be returned.
func (w *Workflow) SearchBills(ctx context.Context, query string) ([]domain.Bill, error) {
	bills, err := w.bills.SearchBills(ctx, query, 50)
	if err != nil {
		return nil, err
	}
	eligible := make([]domain.Bill, 0, len(bills))
	for _, bill := range bills {
		if bill.IsReturn {
			continue
		}
		eligible = append(eligible, bill)
	}
	return eligible, nil
}

// SelectBill hydrates the chosen source bill and pre-populates the return
// lines from its line items with quantity zero. Customer fields default to
// the bill's customer until overridden.
func (w *Workflow) SelectBill(ctx context.Context, billID int64) error {
	w.mu.Lock()
	step := w.step
	w.mu.Unlock()
	if step != StepSearchBill {
		return fmt.Errorf("bill can only be selected on the %s step", StepSearchBill)
	}

	bill, err := w.bills.GetBillByID(ctx, billID)
	if err != nil {
		return err
	}
	if bill.IsReturn {
		return fmt.Errorf("bill %s is a return settlement and cannot be returned again", bill.BillNumber)
	}

	lines := make([]returnLine, 0, len(bill.Items))
	for _, item := range bill.Items {
		lines = append(lines, returnLine{
			item: domain.ReturnLineItem{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				ProductCode: item.ProductCode,
				Barcode:     item.Barcode,
				Quantity:    0,
				UnitPrice:   item.UnitPrice,
			},
			maxQuantity: item.Quantity,
		})
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.sourceBill = bill
	w.returnLines = lines
	w.customerName = bill.CustomerName
	w.customerPhone = bill.CustomerPhone
	return nil
}

// SetReturnQuantity adjusts a pre-populated return line. The quantity may
// not exceed what the source bill originally sold on that line.
func (w *Workflow) SetReturnQuantity(index int, quantity int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if index < 0 || index >= len(w.returnLines) {
		return fmt.Errorf("no return line at index %d", index)
	}
	line := &w.returnLines[index]
	if quantity < 0 || quantity > line.maxQuantity {
		return fmt.Errorf("return quantity for %q must be between 0 and %d", line.item.ProductName, line.maxQuantity)
	}
	line.item.Quantity = quantity
	line.item.TotalPrice = LineTotal(quantity, line.item.UnitPrice)
	return nil
}

// AddExchangeProduct adds an exchange line priced at the current catalog
// price, snapshotting name/code/barcode. Adding the same product again
// merges into the existing line.
func (w *Workflow) AddExchangeProduct(product *domain.Product, quantity int) error {
	if product == nil {
		return fmt.Errorf("exchange product is required")
	}
	if quantity < 1 {
		return fmt.Errorf("exchange quantity must be at least 1")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.exchangeLines {
		if w.exchangeLines[i].ProductID != nil && *w.exchangeLines[i].ProductID == product.ID {
			w.exchangeLines[i].Quantity += quantity
			w.exchangeLines[i].TotalPrice = LineTotal(w.exchangeLines[i].Quantity, w.exchangeLines[i].UnitPrice)
			return nil
		}
	}
	id := product.ID
	w.exchangeLines = append(w.exchangeLines, domain.ReturnLineItem{
		ProductID:   &id,
		ProductName: product.Name,
		ProductCode: product.Code,
		Barcode:     product.Barcode,
		Quantity:    quantity,
		UnitPrice:   product.SellingPrice,
		TotalPrice:  LineTotal(quantity, product.SellingPrice),
	})
	return nil
}

// SetExchangeQuantity adjusts an exchange line; zero removes it.
func (w *Workflow) SetExchangeQuantity(index int, quantity int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if index < 0 || index >= len(w.exchangeLines) {
		return fmt.Errorf("no exchange line at index %d", index)
	}
	if quantity < 0 {
		return fmt.Errorf("exchange quantity must not be negative")
	}
	if quantity == 0 {
		w.exchangeLines = append(w.exchangeLines[:index], w.exchangeLines[index+1:]...)
		return nil
	}
	w.exchangeLines[index].Quantity = quantity
	w.exchangeLines[index].TotalPrice = LineTotal(quantity, w.exchangeLines[index].UnitPrice)
	return nil
}

// HandleScan resolves a scanned barcode and, on success, behaves exactly
// like a manual add of one unit. Only active on the exchange step.
func (w *Workflow) HandleScan(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return fmt.Errorf("empty barcode")
	}
	if w.Step() != StepSelectExchangeItems {
		return fmt.Errorf("barcode scanning is only active on the %s step", StepSelectExchangeItems)
	}
	product, err := w.products.GetProductByBarcode(ctx, code)
	if err != nil {
		return fmt.Errorf("barcode %s: %w", code, err)
	}
	return w.AddExchangeProduct(product, 1)
}

// ConsumeScans drains a scanner event stream until the channel closes or
// the context ends. Scans that fail to resolve are logged and dropped so a
// misread never interrupts the cashier.
func (w *Workflow) ConsumeScans(ctx context.Context, scans <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case code, ok := <-scans:
			if !ok {
				return
			}
			if err := w.HandleScan(ctx, code); err != nil {
				log.Printf("[workflow] WARN: dropped scan: %v", err)
			}
		}
	}
}

func (w *Workflow) SetCustomer(name, phone string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.customerName = strings.TrimSpace(name)
	w.customerPhone = strings.TrimSpace(phone)
}

func (w *Workflow) SetReason(reason string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reason = strings.TrimSpace(reason)
}

func (w *Workflow) SetNotes(notes string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notes = strings.TrimSpace(notes)
}

// CanAdvance reports whether the current step's exit gate is satisfied.
func (w *Workflow) CanAdvance() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canAdvanceLocked()
}

func (w *Workflow) canAdvanceLocked() error {
	switch w.step {
	case StepSearchBill:
		if w.sourceBill == nil {
			return fmt.Errorf("select a source bill first")
		}
	case StepSelectReturnItems:
		if len(w.activeReturnItemsLocked()) == 0 {
			return fmt.Errorf("at least one return item must have a quantity greater than zero")
		}
	case StepSelectExchangeItems:
		if len(w.exchangeLines) == 0 {
			return fmt.Errorf("at least one exchange item is required")
		}
	case StepConfirm:
		return fmt.Errorf("already on the final step")
	}
	return nil
}

// Advance moves forward one step if the gate passes. Skipping is impossible.
func (w *Workflow) Advance() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.canAdvanceLocked(); err != nil {
		return err
	}
	w.step++
	return nil
}

// Back moves to the previous step. Data entered in later steps is kept, so
// returning forward does not lose return or exchange selections.
func (w *Workflow) Back() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.step > StepSearchBill {
		w.step--
	}
}

// Cancel discards all in-progress state. Nothing was persisted, so no
// compensating action is needed.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.step = StepSearchBill
	w.sourceBill = nil
	w.returnLines = nil
	w.exchangeLines = nil
	w.customerName = ""
	w.customerPhone = ""
	w.reason = ""
	w.notes = ""
}

// Summary derives the settlement shown to the user at every step.
func (w *Workflow) Summary() domain.ReturnSummary {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Summarize(w.activeReturnItemsLocked(), w.exchangeLines)
}

// ReturnItems exposes the adjustable return lines with their limits.
func (w *Workflow) ReturnItems() []domain.ReturnLineItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	items := make([]domain.ReturnLineItem, 0, len(w.returnLines))
	for _, line := range w.returnLines {
		items = append(items, line.item)
	}
	return items
}

func (w *Workflow) ExchangeItems() []domain.ReturnLineItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	items := make([]domain.ReturnLineItem, len(w.exchangeLines))
	copy(items, w.exchangeLines)
	return items
}

func (w *Workflow) activeReturnItemsLocked() []domain.ReturnLineItem {
	items := make([]domain.ReturnLineItem, 0, len(w.returnLines))
	for _, line := range w.returnLines {
		if line.item.Quantity < 1 {
			continue
		}
		item := line.item
		item.TotalPrice = LineTotal(item.Quantity, item.UnitPrice)
		items = append(items, item)
	}
	return items
}

// Confirm re-validates, re-checks stock and assembles the submission
// payload. Zero-quantity lines are stripped and every line total is
// recomputed from quantity and unit price; a stale total is never trusted.
// On any failure the workflow stays on the confirm step untouched.
func (w *Workflow) Confirm(ctx context.Context) (domain.ReturnProcessData, error) {
	w.mu.Lock()
	if w.step != StepConfirm {
		step := w.step
		w.mu.Unlock()
		return domain.ReturnProcessData{}, fmt.Errorf("cannot confirm from the %s step", step)
	}
	if w.sourceBill == nil {
		w.mu.Unlock()
		return domain.ReturnProcessData{}, fmt.Errorf("no source bill selected")
	}

	returnItems := w.activeReturnItemsLocked()
	exchangeItems := make([]domain.ReturnLineItem, 0, len(w.exchangeLines))
	for _, item := range w.exchangeLines {
		if item.Quantity < 1 {
			continue
		}
		item.TotalPrice = LineTotal(item.Quantity, item.UnitPrice)
		exchangeItems = append(exchangeItems, item)
	}

	data := domain.ReturnProcessData{
		OriginalBillID: w.sourceBill.ID,
		CustomerName:   w.customerName,
		CustomerPhone:  w.customerPhone,
		ReturnReason:   w.reason,
		Notes:          w.notes,
		ReturnItems:    returnItems,
		ExchangeItems:  exchangeItems,
	}
	w.mu.Unlock()

	if result := Validate(data.OriginalBillID, data.ReturnItems, data.ExchangeItems); !result.IsValid {
		return domain.ReturnProcessData{}, fmt.Errorf("%s", result.Errors[0])
	}
	if w.checker != nil {
		if result := w.checker.Check(ctx, data.ExchangeItems); !result.IsValid {
			short := result.InsufficientStock[0]
			return domain.ReturnProcessData{}, fmt.Errorf("insufficient stock for %q: requested %d, available %d", short.ProductName, short.Requested, short.Available)
		}
	}
	return data, nil
}

package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"webbilling/backend/internal/cache"
	"webbilling/backend/internal/domain"
	"webbilling/backend/internal/returns"
	"webbilling/backend/internal/settings"
	"webbilling/backend/internal/store"
	"webbilling/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	products     cache.ProductCache
	shopSettings settings.Provider
	checker      *returns.StockChecker
	barcodeTTL   time.Duration
}

func New(repo store.Repository, productCache cache.ProductCache, shopSettings settings.Provider, barcodeTTL time.Duration) *Service {
	if productCache == nil {
		productCache = cache.NoopProductCache{}
	}
	if shopSettings == nil {
		shopSettings = settings.Static{}
	}
	if barcodeTTL < 1 {
		barcodeTTL = 10 * time.Minute
	}

	return &Service{
		repo:         repo,
		products:     productCache,
		shopSettings: shopSettings,
		checker:      returns.NewStockChecker(repo),
		barcodeTTL:   barcodeTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	return s.repo.SearchProducts(ctx, query, limit)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Code = strings.TrimSpace(req.Code)
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Name == "" || req.Code == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.SellingPrice < 0 || req.StockQuantity < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		Name:          req.Name,
		Code:          req.Code,
		Barcode:       req.Barcode,
		SellingPrice:  req.SellingPrice,
		StockQuantity: req.StockQuantity,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product.create", "product", fmt.Sprintf("%d", created.ID),
		fmt.Sprintf("created %s (%s)", created.Name, created.Code))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	oldBarcode := existing.Barcode
	if req.Name != nil {
		existing.Name = strings.TrimSpace(*req.Name)
	}
	if req.Barcode != nil {
		existing.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.SellingPrice != nil {
		existing.SellingPrice = *req.SellingPrice
	}
	if req.StockQuantity != nil {
		existing.StockQuantity = *req.StockQuantity
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}

	updated, err := s.repo.UpdateProduct(ctx, *existing)
	if err != nil {
		return domain.Product{}, err
	}

	if oldBarcode != "" {
		if err := s.products.Invalidate(ctx, oldBarcode); err != nil {
			log.Printf("[service] WARN: failed to invalidate barcode cache %q: %v", oldBarcode, err)
		}
	}

	s.logAudit(ctx, "product.update", "product", fmt.Sprintf("%d", updated.ID),
		fmt.Sprintf("updated %s", updated.Name))
	return *updated, nil
}

// ResolveBarcode answers the scanner hot path: cache first, catalog on miss.
// Cache failures degrade to a direct lookup rather than failing the scan.
func (s *Service) ResolveBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, store.ErrNotFound
	}

	cached, hit, err := s.products.Get(ctx, barcode)
	if err != nil {
		log.Printf("[service] WARN: barcode cache read failed for %q: %v", barcode, err)
	}
	if hit && cached != nil {
		return *cached, nil
	}

	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	if err != nil {
		return domain.Product{}, err
	}

	if err := s.products.Set(ctx, barcode, product, s.barcodeTTL); err != nil {
		log.Printf("[service] WARN: barcode cache write failed for %q: %v", barcode, err)
	}
	return *product, nil
}

func (s *Service) CreateBill(ctx context.Context, req domain.BillCreateRequest) (domain.BillResponse, error) {
	if len(req.Items) == 0 {
		return domain.BillResponse{}, store.ErrInvalidTransaction
	}

	items := make([]domain.BillItem, 0, len(req.Items))
	var total float64
	for _, line := range req.Items {
		if line.Quantity < 1 {
			return domain.BillResponse{}, store.ErrInvalidTransaction
		}
		product, err := s.repo.GetProductByID(ctx, line.ProductID)
		if err != nil {
			return domain.BillResponse{}, err
		}

		productID := product.ID
		lineTotal := returns.LineTotal(line.Quantity, product.SellingPrice)
		items = append(items, domain.BillItem{
			ProductID:   &productID,
			ProductName: product.Name,
			ProductCode: product.Code,
			Barcode:     product.Barcode,
			Quantity:    line.Quantity,
			UnitPrice:   product.SellingPrice,
			TotalPrice:  lineTotal,
		})
		total += lineTotal
	}

	created, err := s.repo.CreateBill(ctx, domain.Bill{
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		TotalAmount:   total,
		Items:         items,
	})
	if err != nil {
		return domain.BillResponse{}, err
	}

	s.logAudit(ctx, "bill.create", "bill", fmt.Sprintf("%d", created.ID),
		fmt.Sprintf("bill %s total %.2f", created.BillNumber, created.TotalAmount))
	return domain.BillResponse{Bill: *created}, nil
}

func (s *Service) GetBill(ctx context.Context, id int64) (domain.BillResponse, error) {
	bill, err := s.repo.GetBillByID(ctx, id)
	if err != nil {
		return domain.BillResponse{}, err
	}
	return domain.BillResponse{Bill: *bill}, nil
}

func (s *Service) SearchBills(ctx context.Context, query string, limit int) (domain.BillListResponse, error) {
	bills, err := s.repo.SearchBills(ctx, query, limit)
	if err != nil {
		return domain.BillListResponse{}, err
	}
	return domain.BillListResponse{Bills: bills}, nil
}

func (s *Service) ListBills(ctx context.Context, limit int) (domain.BillListResponse, error) {
	bills, err := s.repo.ListBills(ctx, limit)
	if err != nil {
		return domain.BillListResponse{}, err
	}
	return domain.BillListResponse{Bills: bills}, nil
}

// ProcessReturn runs the full reconciliation: validation, advisory stock
// check, atomic persistence, then a best-effort settlement bill. The bill
// is secondary output; its failure never rolls back the recorded return
// and is surfaced as a warning instead.
func (s *Service) ProcessReturn(ctx context.Context, data domain.ReturnProcessData) (domain.ReturnProcessResponse, error) {
	result := returns.Validate(data.OriginalBillID, data.ReturnItems, data.ExchangeItems)
	if !result.IsValid {
		return domain.ReturnProcessResponse{}, fmt.Errorf("validation failed: %s", strings.Join(result.Errors, "; "))
	}

	source, err := s.repo.GetBillByID(ctx, data.OriginalBillID)
	if err != nil {
		return domain.ReturnProcessResponse{}, err
	}
	if source.IsReturn {
		return domain.ReturnProcessResponse{}, fmt.Errorf("%w: bill %s settles a previous return and cannot be returned", store.ErrInvalidTransaction, source.BillNumber)
	}

	stock := s.checker.Check(ctx, data.ExchangeItems)
	if !stock.IsValid {
		parts := make([]string, 0, len(stock.InsufficientStock))
		for _, short := range stock.InsufficientStock {
			parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", short.ProductName, short.Requested, short.Available))
		}
		return domain.ReturnProcessResponse{}, fmt.Errorf("%w: %s", store.ErrInsufficientStock, strings.Join(parts, "; "))
	}

	summary := returns.Summarize(data.ReturnItems, data.ExchangeItems)
	created, err := s.repo.CreateReturn(ctx, domain.ReturnTransaction{
		OriginalBillID:     data.OriginalBillID,
		CustomerName:       strings.TrimSpace(data.CustomerName),
		CustomerPhone:      strings.TrimSpace(data.CustomerPhone),
		ReturnReason:       strings.TrimSpace(data.ReturnReason),
		Notes:              strings.TrimSpace(data.Notes),
		ReturnDate:         time.Now().UTC(),
		TotalReturnValue:   summary.TotalReturnValue,
		TotalExchangeValue: summary.TotalExchangeValue,
		BalanceAmount:      summary.BalanceAmount,
		Status:             domain.ReturnStatusPending,
		ReturnItems:        data.ReturnItems,
		ExchangeItems:      data.ExchangeItems,
	})
	if err != nil {
		return domain.ReturnProcessResponse{}, err
	}

	s.logAudit(ctx, "return.process", "return", fmt.Sprintf("%d", created.ID),
		fmt.Sprintf("return for bill %d, balance %.2f", created.OriginalBillID, created.BalanceAmount))

	resp := domain.ReturnProcessResponse{Return: *created}
	bill, err := s.createExchangeBill(ctx, *created)
	if err != nil {
		log.Printf("[service] WARN: return %d recorded but exchange bill failed: %v", created.ID, err)
		resp.ExchangeBillWarning = "return recorded, but the exchange bill could not be created: " + err.Error()
		return resp, nil
	}
	resp.ExchangeBillNumber = bill.BillNumber
	return resp, nil
}

func (s *Service) createExchangeBill(ctx context.Context, ret domain.ReturnTransaction) (*domain.Bill, error) {
	items := make([]domain.BillItem, 0, len(ret.ExchangeItems))
	for _, line := range ret.ExchangeItems {
		items = append(items, domain.BillItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			ProductCode: line.ProductCode,
			Barcode:     line.Barcode,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TotalPrice:  line.TotalPrice,
		})
	}

	originalBillID := ret.OriginalBillID
	return s.repo.CreateBill(ctx, domain.Bill{
		CustomerName:   ret.CustomerName,
		CustomerPhone:  ret.CustomerPhone,
		IsReturn:       true,
		OriginalBillID: &originalBillID,
		TotalAmount:    ret.TotalExchangeValue,
		Items:          items,
	})
}

func (s *Service) GetReturn(ctx context.Context, id int64) (domain.ReturnTransaction, error) {
	ret, err := s.repo.GetReturnByID(ctx, id)
	if err != nil {
		return domain.ReturnTransaction{}, err
	}
	return *ret, nil
}

func (s *Service) ListReturns(ctx context.Context, limit int) ([]domain.ReturnTransaction, error) {
	return s.repo.ListReturns(ctx, limit)
}

func (s *Service) UpdateReturnStatus(ctx context.Context, id int64, req domain.ReturnStatusUpdateRequest) (domain.ReturnTransaction, error) {
	status := strings.ToUpper(strings.TrimSpace(req.Status))

	current, err := s.repo.GetReturnByID(ctx, id)
	if err != nil {
		return domain.ReturnTransaction{}, err
	}
	if !returns.CanTransition(current.Status, status) {
		return domain.ReturnTransaction{}, fmt.Errorf("%w: cannot move %s to %s", store.ErrInvalidStatus, current.Status, status)
	}

	updated, err := s.repo.UpdateReturnStatus(ctx, id, status)
	if err != nil {
		return domain.ReturnTransaction{}, err
	}

	s.logAudit(ctx, "return.status", "return", fmt.Sprintf("%d", updated.ID),
		fmt.Sprintf("status %s", updated.Status))
	return *updated, nil
}

const statsScanLimit = 500

func (s *Service) ReturnStats(ctx context.Context) (domain.ReturnStats, error) {
	all, err := s.repo.ListReturns(ctx, statsScanLimit)
	if err != nil {
		return domain.ReturnStats{}, err
	}
	return returns.AggregateStats(all, time.Now()), nil
}

// BuildReceipt renders an ESC/POS receipt for a bill or a return. Exactly
// one of BillID and ReturnID must be set.
func (s *Service) BuildReceipt(ctx context.Context, req domain.ReceiptRequest) (domain.ReceiptResponse, error) {
	if (req.BillID == 0) == (req.ReturnID == 0) {
		return domain.ReceiptResponse{}, store.ErrInvalidTransaction
	}

	shop, err := s.shopSettings.Get(ctx)
	if err != nil {
		return domain.ReceiptResponse{}, err
	}

	var lines []string
	var fileName string
	if req.BillID != 0 {
		bill, err := s.repo.GetBillByID(ctx, req.BillID)
		if err != nil {
			return domain.ReceiptResponse{}, err
		}
		lines = billReceiptLines(shop, *bill)
		fileName = fmt.Sprintf("receipt-bill-%d.bin", bill.ID)
	} else {
		ret, err := s.repo.GetReturnByID(ctx, req.ReturnID)
		if err != nil {
			return domain.ReceiptResponse{}, err
		}
		lines = returnReceiptLines(shop, *ret)
		fileName = fmt.Sprintf("receipt-return-%d.bin", ret.ID)
	}

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return domain.ReceiptResponse{
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		PreviewText:  strings.Join(lines, "\n"),
		FileName:     fileName,
	}, nil
}

func receiptHeader(shop domain.ShopSettings) []string {
	lines := []string{shop.ShopName}
	if shop.AddressLine != "" {
		lines = append(lines, shop.AddressLine)
	}
	if shop.Phone != "" {
		lines = append(lines, "Ph: "+shop.Phone)
	}
	lines = append(lines, "========================")
	return lines
}

func receiptFooter(shop domain.ShopSettings) []string {
	lines := []string{"========================"}
	if shop.ReceiptFooter != "" {
		lines = append(lines, shop.ReceiptFooter)
	}
	lines = append(lines, "Thank you, visit again", "")
	return lines
}

func billReceiptLines(shop domain.ShopSettings, bill domain.Bill) []string {
	lines := receiptHeader(shop)
	lines = append(lines,
		"Bill: "+bill.BillNumber,
		"Date: "+bill.CreatedAt.Format("2006-01-02 15:04:05"),
	)
	if bill.CustomerName != "" {
		lines = append(lines, "Customer: "+bill.CustomerName)
	}
	lines = append(lines, "------------------------")
	for _, item := range bill.Items {
		lines = append(lines, fmt.Sprintf("%s x%d", item.ProductName, item.Quantity))
		lines = append(lines, "  "+returns.FormatAmount(shop.CurrencySign, item.TotalPrice))
	}
	lines = append(lines,
		"------------------------",
		"Total : "+returns.FormatAmount(shop.CurrencySign, bill.TotalAmount),
	)
	return append(lines, receiptFooter(shop)...)
}

func returnReceiptLines(shop domain.ShopSettings, ret domain.ReturnTransaction) []string {
	lines := receiptHeader(shop)
	lines = append(lines,
		fmt.Sprintf("Return #%d (bill %d)", ret.ID, ret.OriginalBillID),
		"Date: "+ret.ReturnDate.Format("2006-01-02 15:04:05"),
	)
	if ret.CustomerName != "" {
		lines = append(lines, "Customer: "+ret.CustomerName)
	}
	lines = append(lines, "--- Returned ---")
	for _, item := range ret.ReturnItems {
		lines = append(lines, fmt.Sprintf("%s x%d", item.ProductName, item.Quantity))
		lines = append(lines, "  "+returns.FormatAmount(shop.CurrencySign, item.TotalPrice))
	}
	lines = append(lines, "--- Exchanged ---")
	for _, item := range ret.ExchangeItems {
		lines = append(lines, fmt.Sprintf("%s x%d", item.ProductName, item.Quantity))
		lines = append(lines, "  "+returns.FormatAmount(shop.CurrencySign, item.TotalPrice))
	}
	lines = append(lines,
		"------------------------",
		"Return value   : "+returns.FormatAmount(shop.CurrencySign, ret.TotalReturnValue),
		"Exchange value : "+returns.FormatAmount(shop.CurrencySign, ret.TotalExchangeValue),
	)
	if ret.BalanceAmount > 0 {
		lines = append(lines, "Customer pays  : "+returns.FormatAmount(shop.CurrencySign, ret.BalanceAmount))
	} else if ret.BalanceAmount < 0 {
		lines = append(lines, "Refund due     : "+returns.FormatAmount(shop.CurrencySign, -ret.BalanceAmount))
	} else {
		lines = append(lines, "Even exchange")
	}
	return append(lines, receiptFooter(shop)...)
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// IsNotFound lets transport code map store sentinel errors without
// importing the store package everywhere.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

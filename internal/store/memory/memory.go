package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"webbilling/backend/internal/domain"
	"webbilling/backend/internal/store"
	"webbilling/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[int64]domain.Product
	bills           map[int64]domain.Bill
	returns         map[int64]domain.ReturnTransaction
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
	nextProductID   int64
	nextBillID      int64
	nextReturnID    int64
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables; hardcoded dev defaults are used otherwise with a
// warning. Production deployments use PostgreSQL via DATABASE_URL.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: 1, Name: "Basmati Rice 5kg", Code: "RICE-5KG", Barcode: "8901111000017", SellingPrice: 450, StockQuantity: 40, Active: true, CreatedAt: now},
		{ID: 2, Name: "Sunflower Oil 1L", Code: "OIL-1L", Barcode: "8901111000024", SellingPrice: 160, StockQuantity: 60, Active: true, CreatedAt: now},
		{ID: 3, Name: "Toor Dal 1kg", Code: "DAL-1KG", Barcode: "8901111000031", SellingPrice: 140, StockQuantity: 80, Active: true, CreatedAt: now},
		{ID: 4, Name: "Tea Powder 500g", Code: "TEA-500G", Barcode: "8901111000048", SellingPrice: 220, StockQuantity: 35, Active: true, CreatedAt: now},
		{ID: 5, Name: "Wheat Flour 10kg", Code: "ATTA-10KG", Barcode: "8901111000055", SellingPrice: 380, StockQuantity: 25, Active: true, CreatedAt: now},
		{ID: 6, Name: "Sugar 1kg", Code: "SUGAR-1KG", Barcode: "8901111000062", SellingPrice: 45, StockQuantity: 100, Active: true, CreatedAt: now},
	}

	productMap := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		productMap[p.ID] = p
	}

	return &Store{
		products:        productMap,
		bills:           make(map[int64]domain.Bill),
		returns:         make(map[int64]domain.ReturnTransaction),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: seedUsers(),
		nextProductID:   int64(len(products)) + 1,
		nextBillID:      1,
		nextReturnID:    1,
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) SearchProducts(_ context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 50
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]domain.Product, 0, limit)
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		if needle == "" ||
			strings.Contains(strings.ToLower(p.Name), needle) ||
			strings.Contains(strings.ToLower(p.Code), needle) ||
			strings.Contains(p.Barcode, needle) {
			matches = append(matches, p)
		}
	}
	slices.SortFunc(matches, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Code) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.SellingPrice < 0 || product.StockQuantity < 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.products {
		if existing.Code == product.Code {
			return nil, store.ErrInvalidTransaction
		}
	}

	product.ID = s.nextProductID
	s.nextProductID++
	product.Active = true
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (*domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, store.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.products {
		if p.Active && p.Barcode == barcode {
			copied := p
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.SellingPrice < 0 || product.StockQuantity < 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

// CreateBill assigns an id and, for ordinary sale bills, decrements stock
// per line. Settlement bills (is_return) never touch stock here: their
// inventory movement already happened inside CreateReturn.
func (s *Store) CreateBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	if len(bill.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !bill.IsReturn {
		for _, item := range bill.Items {
			if item.ProductID == nil {
				continue
			}
			product, exists := s.products[*item.ProductID]
			if !exists {
				return nil, store.ErrInvalidTransaction
			}
			if product.StockQuantity < item.Quantity {
				return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, product.Name)
			}
		}
		for _, item := range bill.Items {
			if item.ProductID == nil {
				continue
			}
			product := s.products[*item.ProductID]
			product.StockQuantity -= item.Quantity
			s.products[*item.ProductID] = product
		}
	}

	bill.ID = s.nextBillID
	s.nextBillID++
	if bill.BillNumber == "" {
		bill.BillNumber = xid.New("bill")
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}
	s.bills[bill.ID] = bill
	created := bill
	return &created, nil
}

func (s *Store) GetBillByID(_ context.Context, id int64) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, exists := s.bills[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := bill
	copied.Items = append([]domain.BillItem(nil), bill.Items...)
	return &copied, nil
}

func (s *Store) SearchBills(_ context.Context, query string, limit int) ([]domain.Bill, error) {
	if limit < 1 {
		limit = 50
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]domain.Bill, 0, limit)
	for _, bill := range s.bills {
		if needle != "" && !billMatches(bill, needle) {
			continue
		}
		copied := bill
		copied.Items = append([]domain.BillItem(nil), bill.Items...)
		matches = append(matches, copied)
	}
	slices.SortFunc(matches, func(a, b domain.Bill) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) ListBills(ctx context.Context, limit int) ([]domain.Bill, error) {
	return s.SearchBills(ctx, "", limit)
}

func billMatches(bill domain.Bill, needle string) bool {
	if strings.Contains(strings.ToLower(bill.BillNumber), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(bill.CustomerName), needle) {
		return true
	}
	if strings.Contains(bill.CustomerPhone, needle) {
		return true
	}
	return strings.Contains(fmt.Sprintf("%.2f", bill.TotalAmount), needle)
}

// CreateReturn persists the return with both line collections and settles
// inventory in the same critical section: exchange stock is decremented
// only if sufficient, returned items go back on the shelf.
func (s *Store) CreateReturn(_ context.Context, ret domain.ReturnTransaction) (*domain.ReturnTransaction, error) {
	if ret.OriginalBillID < 1 || len(ret.ReturnItems) == 0 || len(ret.ExchangeItems) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	source, exists := s.bills[ret.OriginalBillID]
	if !exists {
		return nil, store.ErrNotFound
	}
	// Settlement bills are not returnable sources.
	if source.IsReturn {
		return nil, store.ErrInvalidTransaction
	}

	for _, item := range ret.ExchangeItems {
		if item.ProductID == nil {
			continue
		}
		product, exists := s.products[*item.ProductID]
		if !exists {
			return nil, store.ErrInvalidTransaction
		}
		if product.StockQuantity < item.Quantity {
			return nil, fmt.Errorf("%w: %s", store.ErrInsufficientStock, product.Name)
		}
	}

	for _, item := range ret.ExchangeItems {
		if item.ProductID == nil {
			continue
		}
		product := s.products[*item.ProductID]
		product.StockQuantity -= item.Quantity
		s.products[*item.ProductID] = product
	}
	for _, item := range ret.ReturnItems {
		if item.ProductID == nil {
			continue
		}
		product, exists := s.products[*item.ProductID]
		if !exists {
			continue
		}
		product.StockQuantity += item.Quantity
		s.products[*item.ProductID] = product
	}

	ret.ID = s.nextReturnID
	s.nextReturnID++
	if ret.Status == "" {
		ret.Status = domain.ReturnStatusPending
	}
	if ret.ReturnDate.IsZero() {
		ret.ReturnDate = time.Now().UTC()
	}
	s.returns[ret.ID] = ret
	created := ret
	return &created, nil
}

func (s *Store) GetReturnByID(_ context.Context, id int64) (*domain.ReturnTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, exists := s.returns[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := ret
	copied.ReturnItems = append([]domain.ReturnLineItem(nil), ret.ReturnItems...)
	copied.ExchangeItems = append([]domain.ReturnLineItem(nil), ret.ExchangeItems...)
	return &copied, nil
}

func (s *Store) ListReturns(_ context.Context, limit int) ([]domain.ReturnTransaction, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.ReturnTransaction, 0, len(s.returns))
	for _, ret := range s.returns {
		copied := ret
		copied.ReturnItems = append([]domain.ReturnLineItem(nil), ret.ReturnItems...)
		copied.ExchangeItems = append([]domain.ReturnLineItem(nil), ret.ExchangeItems...)
		all = append(all, copied)
	}
	slices.SortFunc(all, func(a, b domain.ReturnTransaction) int {
		return b.ReturnDate.Compare(a.ReturnDate)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// UpdateReturnStatus is the authoritative transition gate: only PENDING
// records move, and only to COMPLETED or CANCELLED.
func (s *Store) UpdateReturnStatus(_ context.Context, id int64, status string) (*domain.ReturnTransaction, error) {
	if status != domain.ReturnStatusCompleted && status != domain.ReturnStatusCancelled {
		return nil, store.ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ret, exists := s.returns[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if ret.Status != domain.ReturnStatusPending {
		return nil, store.ErrInvalidStatus
	}
	ret.Status = status
	s.returns[id] = ret
	updated := ret
	return &updated, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		logs = append(logs, s.auditLogs[i])
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))

	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

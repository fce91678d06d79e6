package domain

import "time"

type Product struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Code          string    `json:"code"`
	Barcode       string    `json:"barcode,omitempty"`
	SellingPrice  float64   `json:"selling_price"`
	StockQuantity int       `json:"stock_quantity"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

type ProductCreateRequest struct {
	Name          string  `json:"name"`
	Code          string  `json:"code"`
	Barcode       string  `json:"barcode,omitempty"`
	SellingPrice  float64 `json:"selling_price"`
	StockQuantity int     `json:"stock_quantity"`
}

type ProductUpdateRequest struct {
	Name          *string  `json:"name,omitempty"`
	Barcode       *string  `json:"barcode,omitempty"`
	SellingPrice  *float64 `json:"selling_price,omitempty"`
	StockQuantity *int     `json:"stock_quantity,omitempty"`
	Active        *bool    `json:"active,omitempty"`
}

// BillItem snapshots the product at sale time. ProductID is optional: the
// catalog entry may be deleted later, but the snapshot fields stay printable.
type BillItem struct {
	ProductID   *int64  `json:"product_id,omitempty"`
	ProductName string  `json:"product_name"`
	ProductCode string  `json:"product_code,omitempty"`
	Barcode     string  `json:"barcode,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
}

type Bill struct {
	ID             int64      `json:"id"`
	BillNumber     string     `json:"bill_number"`
	CustomerName   string     `json:"customer_name,omitempty"`
	CustomerPhone  string     `json:"customer_phone,omitempty"`
	IsReturn       bool       `json:"is_return"`
	OriginalBillID *int64     `json:"original_bill_id,omitempty"`
	TotalAmount    float64    `json:"total_amount"`
	CreatedAt      time.Time  `json:"created_at"`
	Items          []BillItem `json:"items"`
}

type BillCreateItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type BillCreateRequest struct {
	CustomerName  string           `json:"customer_name,omitempty"`
	CustomerPhone string           `json:"customer_phone,omitempty"`
	Items         []BillCreateItem `json:"items"`
}

type BillResponse struct {
	Bill Bill `json:"bill"`
}

type BillListResponse struct {
	Bills []Bill `json:"bills"`
}

// ReturnLineItem is the shared shape of return items and exchange items.
// Direction is given by which collection holds the line.
type ReturnLineItem struct {
	ProductID   *int64  `json:"product_id,omitempty"`
	ProductName string  `json:"product_name"`
	ProductCode string  `json:"product_code,omitempty"`
	Barcode     string  `json:"barcode,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TotalPrice  float64 `json:"total_price"`
}

// ReturnProcessData is the wire payload the orchestrator hands to the
// return persistence collaborator on confirm.
type ReturnProcessData struct {
	OriginalBillID int64            `json:"original_bill_id"`
	CustomerName   string           `json:"customer_name,omitempty"`
	CustomerPhone  string           `json:"customer_phone,omitempty"`
	ReturnReason   string           `json:"return_reason,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	ReturnItems    []ReturnLineItem `json:"return_items"`
	ExchangeItems  []ReturnLineItem `json:"exchange_items"`
}

type ReturnTransaction struct {
	ID                 int64            `json:"id"`
	OriginalBillID     int64            `json:"original_bill_id"`
	CustomerName       string           `json:"customer_name,omitempty"`
	CustomerPhone      string           `json:"customer_phone,omitempty"`
	ReturnReason       string           `json:"return_reason,omitempty"`
	Notes              string           `json:"notes,omitempty"`
	ReturnDate         time.Time        `json:"return_date"`
	TotalReturnValue   float64          `json:"total_return_value"`
	TotalExchangeValue float64          `json:"total_exchange_value"`
	BalanceAmount      float64          `json:"balance_amount"`
	Status             string           `json:"status"`
	ReturnItems        []ReturnLineItem `json:"return_items"`
	ExchangeItems      []ReturnLineItem `json:"exchange_items"`
}

type ReturnSummary struct {
	TotalReturnValue   float64 `json:"total_return_value"`
	TotalExchangeValue float64 `json:"total_exchange_value"`
	BalanceAmount      float64 `json:"balance_amount"`
	IsBalancePositive  bool    `json:"is_balance_positive"`
}

type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors"`
}

type StockShortfall struct {
	ProductName string `json:"product_name"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

type StockCheckResult struct {
	IsValid           bool             `json:"is_valid"`
	InsufficientStock []StockShortfall `json:"insufficient_stock"`
}

type ReturnProcessResponse struct {
	Return              ReturnTransaction `json:"return"`
	ExchangeBillNumber  string            `json:"exchange_bill_number,omitempty"`
	ExchangeBillWarning string            `json:"exchange_bill_warning,omitempty"`
}

type ReturnStatusUpdateRequest struct {
	Status string `json:"status"`
}

type ReturnStats struct {
	TodayReturns   int                 `json:"today_returns"`
	PendingReturns int                 `json:"pending_returns"`
	TotalValue     float64             `json:"total_value"`
	AvgReturnValue float64             `json:"avg_return_value"`
	RecentReturns  []ReturnTransaction `json:"recent_returns"`
}

type ShopSettings struct {
	ShopName      string `json:"shop_name"`
	AddressLine   string `json:"address_line,omitempty"`
	Phone         string `json:"phone,omitempty"`
	ReceiptFooter string `json:"receipt_footer,omitempty"`
	CurrencySign  string `json:"currency_sign"`
}

type ReceiptRequest struct {
	BillID   int64 `json:"bill_id,omitempty"`
	ReturnID int64 `json:"return_id,omitempty"`
}

type ReceiptResponse struct {
	EscposBase64 string `json:"escpos_base64"`
	PreviewText  string `json:"preview_text"`
	FileName     string `json:"file_name"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	ReturnStatusPending   = "PENDING"
	ReturnStatusCompleted = "COMPLETED"
	ReturnStatusCancelled = "CANCELLED"
)

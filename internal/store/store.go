package store

import (
	"context"
	"errors"

	"webbilling/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidStatus      = errors.New("invalid status transition")
)

// Repository is the persistence collaborator consumed by the service layer.
// CreateReturn must behave atomically with respect to inventory: exchange
// stock is decremented only if sufficient, returned stock is added back, and
// the return transaction with both line collections is written in one unit.
type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id int64) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	GetBillByID(ctx context.Context, id int64) (*domain.Bill, error)
	SearchBills(ctx context.Context, query string, limit int) ([]domain.Bill, error)
	ListBills(ctx context.Context, limit int) ([]domain.Bill, error)

	CreateReturn(ctx context.Context, ret domain.ReturnTransaction) (*domain.ReturnTransaction, error)
	GetReturnByID(ctx context.Context, id int64) (*domain.ReturnTransaction, error)
	ListReturns(ctx context.Context, limit int) ([]domain.ReturnTransaction, error)
	UpdateReturnStatus(ctx context.Context, id int64, status string) (*domain.ReturnTransaction, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"webbilling/backend/internal/domain"
	"webbilling/backend/internal/store"
	"webbilling/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, code, barcode, selling_price, stock_quantity, active, created_at
		FROM products
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProducts(rows)
}

func (s *Store) SearchProducts(ctx context.Context, query string, limit int) ([]domain.Product, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, code, barcode, selling_price, stock_quantity, active, created_at
		FROM products
		WHERE active = true
		  AND (name ILIKE '%' || $1 || '%' OR code ILIKE '%' || $1 || '%' OR barcode LIKE '%' || $1 || '%')
		ORDER BY name
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProducts(rows)
}

func scanProducts(rows *sql.Rows) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Code, &p.Barcode, &p.SellingPrice, &p.StockQuantity, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Code == "" {
		return nil, store.ErrInvalidTransaction
	}
	if product.SellingPrice < 0 || product.StockQuantity < 0 {
		return nil, store.ErrInvalidTransaction
	}

	product.Active = true
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, code, barcode, selling_price, stock_quantity, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, product.Name, product.Code, product.Barcode, product.SellingPrice, product.StockQuantity, product.Active, product.CreatedAt).Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, code, barcode, selling_price, stock_quantity, active, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Code, &p.Barcode, &p.SellingPrice, &p.StockQuantity, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	if barcode == "" {
		return nil, store.ErrNotFound
	}
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, code, barcode, selling_price, stock_quantity, active, created_at
		FROM products
		WHERE barcode = $1 AND active = true
	`, barcode).Scan(&p.ID, &p.Name, &p.Code, &p.Barcode, &p.SellingPrice, &p.StockQuantity, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SellingPrice < 0 || product.StockQuantity < 0 {
		return nil, store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, barcode = $3, selling_price = $4, stock_quantity = $5, active = $6
		WHERE id = $1
	`, product.ID, product.Name, product.Barcode, product.SellingPrice, product.StockQuantity, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) CreateBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	if len(bill.Items) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if bill.BillNumber == "" {
		bill.BillNumber = xid.New("bill")
	}
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Settlement bills skip the stock movement; inventory for those
	// already settled inside CreateReturn.
	if !bill.IsReturn {
		for _, item := range bill.Items {
			if item.ProductID == nil {
				continue
			}
			if err := decrementStock(ctx, tx, *item.ProductID, item.Quantity, item.ProductName); err != nil {
				return nil, err
			}
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO bills (bill_number, customer_name, customer_phone, is_return, original_bill_id, total_amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, bill.BillNumber, bill.CustomerName, bill.CustomerPhone, bill.IsReturn, bill.OriginalBillID, bill.TotalAmount, bill.CreatedAt).Scan(&bill.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	for _, item := range bill.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bill_items (bill_id, product_id, product_name, product_code, barcode, quantity, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, bill.ID, item.ProductID, item.ProductName, item.ProductCode, item.Barcode, item.Quantity, item.UnitPrice, item.TotalPrice)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := bill
	return &created, nil
}

func (s *Store) GetBillByID(ctx context.Context, id int64) (*domain.Bill, error) {
	var bill domain.Bill
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bill_number, COALESCE(customer_name,''), COALESCE(customer_phone,''), is_return, original_bill_id, total_amount, created_at
		FROM bills
		WHERE id = $1
	`, id).Scan(&bill.ID, &bill.BillNumber, &bill.CustomerName, &bill.CustomerPhone, &bill.IsReturn, &bill.OriginalBillID, &bill.TotalAmount, &bill.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	bill.Items, err = s.billItems(ctx, bill.ID)
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

func (s *Store) billItems(ctx context.Context, billID int64) ([]domain.BillItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, COALESCE(product_code,''), COALESCE(barcode,''), quantity, unit_price, total_price
		FROM bill_items
		WHERE bill_id = $1
		ORDER BY id
	`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.BillItem, 0, 8)
	for rows.Next() {
		var item domain.BillItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.ProductCode, &item.Barcode, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) SearchBills(ctx context.Context, query string, limit int) ([]domain.Bill, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bill_number, COALESCE(customer_name,''), COALESCE(customer_phone,''), is_return, original_bill_id, total_amount, created_at
		FROM bills
		WHERE $1 = ''
		   OR bill_number ILIKE '%' || $1 || '%'
		   OR customer_name ILIKE '%' || $1 || '%'
		   OR customer_phone LIKE '%' || $1 || '%'
		   OR to_char(total_amount, 'FM9999999990.00') LIKE '%' || $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, limit)
	for rows.Next() {
		var bill domain.Bill
		if err := rows.Scan(&bill.ID, &bill.BillNumber, &bill.CustomerName, &bill.CustomerPhone, &bill.IsReturn, &bill.OriginalBillID, &bill.TotalAmount, &bill.CreatedAt); err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bills {
		bills[i].Items, err = s.billItems(ctx, bills[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return bills, nil
}

func (s *Store) ListBills(ctx context.Context, limit int) ([]domain.Bill, error) {
	return s.SearchBills(ctx, "", limit)
}

// CreateReturn runs the whole inventory settlement in one serializable
// transaction: exchange lines decrement stock only when enough is on hand,
// returned lines restock, and the return row plus both line collections
// land together or not at all.
func (s *Store) CreateReturn(ctx context.Context, ret domain.ReturnTransaction) (*domain.ReturnTransaction, error) {
	if ret.OriginalBillID < 1 || len(ret.ReturnItems) == 0 || len(ret.ExchangeItems) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if ret.Status == "" {
		ret.Status = domain.ReturnStatusPending
	}
	if ret.ReturnDate.IsZero() {
		ret.ReturnDate = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var sourceIsReturn bool
	err = tx.QueryRowContext(ctx, `SELECT is_return FROM bills WHERE id = $1`, ret.OriginalBillID).Scan(&sourceIsReturn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// Settlement bills are not returnable sources.
	if sourceIsReturn {
		return nil, store.ErrInvalidTransaction
	}

	for _, item := range ret.ExchangeItems {
		if item.ProductID == nil {
			continue
		}
		if err := decrementStock(ctx, tx, *item.ProductID, item.Quantity, item.ProductName); err != nil {
			return nil, err
		}
	}
	for _, item := range ret.ReturnItems {
		if item.ProductID == nil {
			continue
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET stock_quantity = stock_quantity + $2 WHERE id = $1
		`, *item.ProductID, item.Quantity)
		if err != nil {
			return nil, err
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO returns (
			original_bill_id, customer_name, customer_phone, return_reason, notes,
			return_date, total_return_value, total_exchange_value, balance_amount, status
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, ret.OriginalBillID, ret.CustomerName, ret.CustomerPhone, ret.ReturnReason, ret.Notes,
		ret.ReturnDate, ret.TotalReturnValue, ret.TotalExchangeValue, ret.BalanceAmount, ret.Status).Scan(&ret.ID)
	if err != nil {
		return nil, err
	}

	if err := insertReturnLines(ctx, tx, ret.ID, "return", ret.ReturnItems); err != nil {
		return nil, err
	}
	if err := insertReturnLines(ctx, tx, ret.ID, "exchange", ret.ExchangeItems); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := ret
	return &created, nil
}

// decrementStock is a conditional update: the WHERE clause refuses to take
// stock below zero, and zero rows affected maps to ErrInsufficientStock.
func decrementStock(ctx context.Context, tx *sql.Tx, productID int64, qty int, name string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2
		WHERE id = $1 AND stock_quantity >= $2
	`, productID, qty)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrInvalidTransaction
		}
		return fmt.Errorf("%w: %s", store.ErrInsufficientStock, name)
	}
	return nil
}

func insertReturnLines(ctx context.Context, tx *sql.Tx, returnID int64, kind string, items []domain.ReturnLineItem) error {
	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO return_items (return_id, kind, product_id, product_name, product_code, barcode, quantity, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, returnID, kind, item.ProductID, item.ProductName, item.ProductCode, item.Barcode, item.Quantity, item.UnitPrice, item.TotalPrice)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetReturnByID(ctx context.Context, id int64) (*domain.ReturnTransaction, error) {
	var ret domain.ReturnTransaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, original_bill_id, COALESCE(customer_name,''), COALESCE(customer_phone,''),
		       COALESCE(return_reason,''), COALESCE(notes,''), return_date,
		       total_return_value, total_exchange_value, balance_amount, status
		FROM returns
		WHERE id = $1
	`, id).Scan(&ret.ID, &ret.OriginalBillID, &ret.CustomerName, &ret.CustomerPhone,
		&ret.ReturnReason, &ret.Notes, &ret.ReturnDate,
		&ret.TotalReturnValue, &ret.TotalExchangeValue, &ret.BalanceAmount, &ret.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if err := s.loadReturnLines(ctx, &ret); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (s *Store) loadReturnLines(ctx context.Context, ret *domain.ReturnTransaction) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, product_id, product_name, COALESCE(product_code,''), COALESCE(barcode,''), quantity, unit_price, total_price
		FROM return_items
		WHERE return_id = $1
		ORDER BY id
	`, ret.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	ret.ReturnItems = ret.ReturnItems[:0]
	ret.ExchangeItems = ret.ExchangeItems[:0]
	for rows.Next() {
		var kind string
		var item domain.ReturnLineItem
		if err := rows.Scan(&kind, &item.ProductID, &item.ProductName, &item.ProductCode, &item.Barcode, &item.Quantity, &item.UnitPrice, &item.TotalPrice); err != nil {
			return err
		}
		if kind == "exchange" {
			ret.ExchangeItems = append(ret.ExchangeItems, item)
		} else {
			ret.ReturnItems = append(ret.ReturnItems, item)
		}
	}
	return rows.Err()
}

func (s *Store) ListReturns(ctx context.Context, limit int) ([]domain.ReturnTransaction, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_bill_id, COALESCE(customer_name,''), COALESCE(customer_phone,''),
		       COALESCE(return_reason,''), COALESCE(notes,''), return_date,
		       total_return_value, total_exchange_value, balance_amount, status
		FROM returns
		ORDER BY return_date DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all := make([]domain.ReturnTransaction, 0, limit)
	for rows.Next() {
		var ret domain.ReturnTransaction
		if err := rows.Scan(&ret.ID, &ret.OriginalBillID, &ret.CustomerName, &ret.CustomerPhone,
			&ret.ReturnReason, &ret.Notes, &ret.ReturnDate,
			&ret.TotalReturnValue, &ret.TotalExchangeValue, &ret.BalanceAmount, &ret.Status); err != nil {
			return nil, err
		}
		all = append(all, ret)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range all {
		if err := s.loadReturnLines(ctx, &all[i]); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// UpdateReturnStatus moves a PENDING return to COMPLETED or CANCELLED.
// The WHERE clause carries the transition rule so concurrent updates
// cannot race past it.
func (s *Store) UpdateReturnStatus(ctx context.Context, id int64, status string) (*domain.ReturnTransaction, error) {
	if status != domain.ReturnStatusCompleted && status != domain.ReturnStatusCancelled {
		return nil, store.ErrInvalidStatus
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE returns
		SET status = $2
		WHERE id = $1 AND status = 'PENDING'
	`, id, status)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.GetReturnByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, store.ErrInvalidStatus
	}

	return s.GetReturnByID(ctx, id)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, COALESCE(entity_id,''), COALESCE(detail,''), created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidTransaction
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

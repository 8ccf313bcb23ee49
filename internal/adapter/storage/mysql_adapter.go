package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pharmacy-fulfillment/internal/core/domain"
	"github.com/rl1809/pharmacy-fulfillment/internal/port"
)

//go:embed schema.sql
var schemaSQL string

const (
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// Migrate creates the tables if they do not exist.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.InventoryTx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{q: tx}); err != nil {
		return mapMySQLError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapMySQLError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// mapMySQLError turns InnoDB deadlock and lock wait victims into lost
// optimistic writes so the caller retries the unit of work.
func mapMySQLError(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == mysqlErrDeadlock || myErr.Number == mysqlErrLockWaitTimeout) {
		return fmt.Errorf("%w: %v", port.ErrOptimisticLock, err)
	}
	return err
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProductSQL(ctx, m.db, productID)
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return getOrderSQL(ctx, m.db, orderID)
}

func (m *MySQLAdapter) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.Movement, error) {
	var (
		where []string
		args  []any
	)
	if filter.ProductID != "" {
		where = append(where, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if len(filter.Types) > 0 {
		marks := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "type IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.Reference != "" {
		where = append(where, "reference = ?")
		args = append(args, filter.Reference)
	}
	if !filter.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, filter.To.UTC())
	}

	query := `
		SELECT id, product_id, type, quantity, stock_before, stock_after, reason, reference, created_by, created_at
		FROM stock_movements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, seq DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}
	defer rows.Close()

	var out []domain.Movement
	for rows.Next() {
		var mv domain.Movement
		if err := rows.Scan(&mv.ID, &mv.ProductID, &mv.Type, &mv.Quantity, &mv.StockBefore,
			&mv.StockAfter, &mv.Reason, &mv.Reference, &mv.CreatedBy, &mv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}

// UpsertProduct writes catalog fields only. Stock counters of an existing row
// are left alone; a new row starts empty.
func (m *MySQLAdapter) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (id, name, active, price_ttc, tax_rate, prescription_required, threshold_alert, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name), active = VALUES(active), price_ttc = VALUES(price_ttc),
			tax_rate = VALUES(tax_rate), prescription_required = VALUES(prescription_required),
			updated_at = VALUES(updated_at)`,
		p.ID, p.Name, p.Active, p.PriceTTC, p.TaxRate, p.PrescriptionRequired, p.Stock.ThresholdAlert, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

type mysqlTx struct {
	q queryer
}

func (t *mysqlTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProductSQL(ctx, t.q, productID)
}

func (t *mysqlTx) CompareAndSwapStock(ctx context.Context, productID string, expectedVersion int64, next domain.Stock) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE products
		SET on_hand = ?, reserved = ?, stock_version = stock_version + 1, updated_at = ?
		WHERE id = ? AND stock_version = ?`,
		next.OnHand, next.Reserved, time.Now().UTC(), productID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrOptimisticLock
	}
	return nil
}

func (t *mysqlTx) AppendMovement(ctx context.Context, mv domain.Movement) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO stock_movements
			(id, product_id, type, quantity, stock_before, stock_after, reason, reference, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mv.ID, mv.ProductID, string(mv.Type), mv.Quantity, mv.StockBefore, mv.StockAfter,
		string(mv.Reason), mv.Reference, mv.CreatedBy, mv.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func (t *mysqlTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	var couponCode, couponKind sql.NullString
	var couponValue decimal.NullDecimal
	if o.Coupon != nil {
		couponCode = sql.NullString{String: o.Coupon.Code, Valid: true}
		couponKind = sql.NullString{String: string(o.Coupon.Kind), Valid: true}
		couponValue = decimal.NullDecimal{Decimal: o.Coupon.Value, Valid: true}
	}

	_, err := t.q.ExecContext(ctx, `
		INSERT INTO orders (id, number, customer_id, type, delivery_method, payment_method, payment_status,
			payment_reference, coupon_code, coupon_kind, coupon_value, status, inventory_state, shipping_cost,
			subtotal_ht, subtotal_ttc, tax_total, discount_total, total_ht, total_ttc, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.Number, o.CustomerID, string(o.Type), string(o.DeliveryMethod), string(o.Payment.Method),
		string(o.Payment.Status), o.Payment.Reference, couponCode, couponKind, couponValue,
		string(o.Status), string(o.InventoryState), o.ShippingCost, o.SubtotalHT, o.SubtotalTTC,
		o.TaxTotal, o.DiscountTotal, o.TotalHT, o.TotalTTC, o.Version, o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, product_id, product_name, quantity, price_ht, price_ttc,
				tax_rate, discount, line_ht, line_ttc, prescription_ref)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, i, it.ProductID, it.ProductName, it.Quantity, it.PriceHT, it.PriceTTC,
			it.TaxRate, it.Discount, it.LineHT, it.LineTTC, it.PrescriptionRef,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	return insertHistory(ctx, t.q, o.ID, o.StatusHistory, 0)
}

func (t *mysqlTx) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return getOrderSQL(ctx, t.q, orderID)
}

func (t *mysqlTx) UpdateOrder(ctx context.Context, o *domain.Order, expectedVersion int64) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, inventory_state = ?, payment_status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(o.Status), string(o.InventoryState), string(o.Payment.Status), o.UpdatedAt.UTC(), o.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrOptimisticLock
	}

	var stored int
	if err := t.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_status_history WHERE order_id = ?`, o.ID,
	).Scan(&stored); err != nil {
		return fmt.Errorf("count history: %w", err)
	}
	if stored > len(o.StatusHistory) {
		return fmt.Errorf("update order %s: history shrank from %d to %d entries", o.ID, stored, len(o.StatusHistory))
	}
	return insertHistory(ctx, t.q, o.ID, o.StatusHistory[stored:], stored)
}

func insertHistory(ctx context.Context, q queryer, orderID string, entries []domain.StatusEntry, offset int) error {
	for i, e := range entries {
		_, err := q.ExecContext(ctx, `
			INSERT INTO order_status_history (order_id, seq, status, changed_at, changed_by, note)
			VALUES (?, ?, ?, ?, ?, ?)`,
			orderID, offset+i, string(e.Status), e.At.UTC(), e.ChangedBy, e.Note,
		)
		if err != nil {
			return fmt.Errorf("insert status history: %w", err)
		}
	}
	return nil
}

func getProductSQL(ctx context.Context, q queryer, productID string) (*domain.Product, error) {
	var p domain.Product
	err := q.QueryRowContext(ctx, `
		SELECT id, name, active, price_ttc, tax_rate, prescription_required,
			on_hand, reserved, threshold_alert, stock_version, updated_at
		FROM products WHERE id = ?`, productID,
	).Scan(&p.ID, &p.Name, &p.Active, &p.PriceTTC, &p.TaxRate, &p.PrescriptionRequired,
		&p.Stock.OnHand, &p.Stock.Reserved, &p.Stock.ThresholdAlert, &p.Stock.Version, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func getOrderSQL(ctx context.Context, q queryer, orderID string) (*domain.Order, error) {
	var (
		o           domain.Order
		couponCode  sql.NullString
		couponKind  sql.NullString
		couponValue decimal.NullDecimal
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, number, customer_id, type, delivery_method, payment_method, payment_status, payment_reference,
			coupon_code, coupon_kind, coupon_value, status, inventory_state, shipping_cost, subtotal_ht,
			subtotal_ttc, tax_total, discount_total, total_ht, total_ttc, version, created_at, updated_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&o.ID, &o.Number, &o.CustomerID, &o.Type, &o.DeliveryMethod, &o.Payment.Method, &o.Payment.Status,
		&o.Payment.Reference, &couponCode, &couponKind, &couponValue, &o.Status, &o.InventoryState,
		&o.ShippingCost, &o.SubtotalHT, &o.SubtotalTTC, &o.TaxTotal, &o.DiscountTotal, &o.TotalHT,
		&o.TotalTTC, &o.Version, &o.CreatedAt, &o.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	if couponCode.Valid {
		o.Coupon = &domain.Coupon{Code: couponCode.String, Kind: domain.CouponKind(couponKind.String), Value: couponValue.Decimal}
	}

	items, err := q.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, price_ht, price_ttc, tax_rate, discount, line_ht, line_ttc, prescription_ref
		FROM order_items WHERE order_id = ? ORDER BY line_no`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer items.Close()
	for items.Next() {
		var it domain.OrderItem
		if err := items.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.PriceHT, &it.PriceTTC,
			&it.TaxRate, &it.Discount, &it.LineHT, &it.LineTTC, &it.PrescriptionRef); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := items.Err(); err != nil {
		return nil, fmt.Errorf("read order items: %w", err)
	}

	history, err := q.QueryContext(ctx, `
		SELECT status, changed_at, changed_by, note
		FROM order_status_history WHERE order_id = ? ORDER BY seq`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query status history: %w", err)
	}
	defer history.Close()
	for history.Next() {
		var e domain.StatusEntry
		if err := history.Scan(&e.Status, &e.At, &e.ChangedBy, &e.Note); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		o.StatusHistory = append(o.StatusHistory, e)
	}
	if err := history.Err(); err != nil {
		return nil, fmt.Errorf("read status history: %w", err)
	}
	return &o, nil
}

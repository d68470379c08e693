package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/tenant-checkout/internal/core/domain"
	"github.com/rl1809/tenant-checkout/internal/port"
)

var (
	ErrDuplicateOrder = errors.New("duplicate order")
	ErrOrderNotFound  = errors.New("order not found")
)

const mysqlErrDuplicateEntry = 1062

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// mysqlRepo runs against the pool or a transaction. Inside a transaction the
// cart row is read with FOR UPDATE.
type mysqlRepo struct {
	q    querier
	inTx bool
}

type MySQLAdapter struct {
	mysqlRepo
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{mysqlRepo: mysqlRepo{q: db}, db: db}
}

func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Repository) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlRepo{q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *mysqlRepo) GetProduct(ctx context.Context, tenantID, productID string) (*domain.Product, error) {
	var p domain.Product
	err := r.q.QueryRowContext(ctx, `
		SELECT tenant_id, id, sku, name, description, image_url, category,
		       price, inventory, is_active, created_at, updated_at
		FROM products WHERE tenant_id = ? AND id = ?`, tenantID, productID,
	).Scan(&p.TenantID, &p.ID, &p.SKU, &p.Name, &p.Description, &p.ImageURL, &p.Category,
		&p.Price, &p.Inventory, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (r *mysqlRepo) ListActiveRules(ctx context.Context, tenantID, productID string) ([]domain.PricingRule, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, tenant_id, name, product_id, discount_type, discount_value,
		       min_inventory, max_inventory, min_quantity, max_quantity, is_active, priority
		FROM pricing_rules
		WHERE tenant_id = ? AND is_active = TRUE AND (product_id IS NULL OR product_id = '' OR product_id = ?)
		ORDER BY priority DESC, id`, tenantID, productID)
	if err != nil {
		return nil, fmt.Errorf("query pricing rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.PricingRule
	for rows.Next() {
		var (
			rule                           domain.PricingRule
			product                        sql.NullString
			kind                           string
			value                          decimal.Decimal
			minInv, maxInv, minQty, maxQty sql.NullInt64
		)
		if err := rows.Scan(&rule.ID, &rule.TenantID, &rule.Name, &product, &kind, &value,
			&minInv, &maxInv, &minQty, &maxQty, &rule.IsActive, &rule.Priority); err != nil {
			return nil, fmt.Errorf("scan pricing rule: %w", err)
		}

		rule.ProductID = product.String
		rule.Discount, err = domain.NewDiscount(domain.DiscountKind(kind), value)
		if err != nil {
			return nil, fmt.Errorf("pricing rule %s: %w", rule.ID, err)
		}
		rule.Conditions = domain.RuleConditions{
			MinInventory: intPtr(minInv),
			MaxInventory: intPtr(maxInv),
			MinQuantity:  intPtr(minQty),
			MaxQuantity:  intPtr(maxQty),
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *mysqlRepo) GetCart(ctx context.Context, tenantID, userID string) (*domain.Cart, error) {
	query := `
		SELECT id, tenant_id, user_id, status, items, total_items, subtotal, total_discount, total,
		       created_at, updated_at
		FROM carts WHERE tenant_id = ? AND user_id = ?`
	if r.inTx {
		query += ` FOR UPDATE`
	}

	var (
		c     domain.Cart
		items []byte
	)
	err := r.q.QueryRowContext(ctx, query, tenantID, userID).Scan(
		&c.ID, &c.TenantID, &c.UserID, &c.Status, &items, &c.TotalItems,
		&c.Subtotal, &c.TotalDiscount, &c.Total, &c.CreatedAt, &c.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	if err := json.Unmarshal(items, &c.Items); err != nil {
		return nil, fmt.Errorf("unmarshal cart items: %w", err)
	}
	return &c, nil
}

func (r *mysqlRepo) SaveCart(ctx context.Context, cart domain.Cart) error {
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	items, err := json.Marshal(cart.Items)
	if err != nil {
		return fmt.Errorf("marshal cart items: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO carts (tenant_id, user_id, id, status, items, total_items, subtotal, total_discount, total, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status), items = VALUES(items), total_items = VALUES(total_items),
			subtotal = VALUES(subtotal), total_discount = VALUES(total_discount), total = VALUES(total),
			updated_at = VALUES(updated_at)`,
		cart.TenantID, cart.UserID, cart.ID, cart.Status, items, cart.TotalItems,
		cart.Subtotal, cart.TotalDiscount, cart.Total, cart.CreatedAt, cart.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}
	return nil
}

// NextOrderSequence uses the LAST_INSERT_ID(expr) counter idiom, so the
// increment and the read are one statement.
func (r *mysqlRepo) NextOrderSequence(ctx context.Context, tenantID string) (int64, error) {
	result, err := r.q.ExecContext(ctx, `
		INSERT INTO order_sequences (tenant_id, last_value) VALUES (?, LAST_INSERT_ID(1))
		ON DUPLICATE KEY UPDATE last_value = LAST_INSERT_ID(last_value + 1)`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("advance order sequence: %w", err)
	}
	return result.LastInsertId()
}

func (r *mysqlRepo) CreateOrder(ctx context.Context, order domain.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}
	addr, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}

	_, err = r.q.ExecContext(ctx, `
		INSERT INTO orders (tenant_id, id, user_id, order_number, items, total_items, subtotal,
		                    total_discount, total, status, shipping_address, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.TenantID, order.ID, order.UserID, order.OrderNumber, items, order.TotalItems, order.Subtotal,
		order.TotalDiscount, order.Total, order.Status, addr, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		var myErr *mysqldriver.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlErrDuplicateEntry {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

const orderColumns = `id, tenant_id, user_id, order_number, items, total_items, subtotal,
	total_discount, total, status, shipping_address, created_at, updated_at`

func (r *mysqlRepo) GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = ? AND id = ?`
	if r.inTx {
		query += ` FOR UPDATE`
	}

	o, err := scanOrder(r.q.QueryRowContext(ctx, query, tenantID, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return o, nil
}

func (r *mysqlRepo) ListOrders(ctx context.Context, tenantID, userID string, filter domain.OrderFilter) ([]domain.Order, int, error) {
	where := []string{"tenant_id = ?", "user_id = ?"}
	args := []any{tenantID, userID}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := r.q.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+cond+` ORDER BY created_at DESC, order_number DESC LIMIT ? OFFSET ?`,
		append(args, filter.Limit, (filter.Page-1)*filter.Limit)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, total, rows.Err()
}

func (r *mysqlRepo) UpdateOrderStatus(ctx context.Context, tenantID, orderID string, status domain.OrderStatus, updatedAt time.Time) error {
	result, err := r.q.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		status, updatedAt, tenantID, orderID,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *mysqlRepo) DecrementStock(ctx context.Context, tenantID, productID string, quantity int) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET inventory = inventory - ?, updated_at = NOW(6)
		WHERE tenant_id = ? AND id = ? AND inventory >= ?`,
		quantity, tenantID, productID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("update inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (r *mysqlRepo) IncrementStock(ctx context.Context, tenantID, productID string, quantity int) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE products
		SET inventory = inventory + ?, updated_at = NOW(6)
		WHERE tenant_id = ? AND id = ?`,
		quantity, tenantID, productID,
	)
	if err != nil {
		return false, fmt.Errorf("update inventory: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// UpsertProduct seeds the catalog; product writes normally belong to the
// catalog service.
func (m *MySQLAdapter) UpsertProduct(ctx context.Context, p domain.Product) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (tenant_id, id, sku, name, description, image_url, category, price, inventory, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			sku = VALUES(sku), name = VALUES(name), description = VALUES(description),
			image_url = VALUES(image_url), category = VALUES(category), price = VALUES(price),
			inventory = VALUES(inventory), is_active = VALUES(is_active), updated_at = NOW(6)`,
		p.TenantID, p.ID, p.SKU, p.Name, p.Description, p.ImageURL, p.Category, p.Price, p.Inventory, p.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) UpsertRule(ctx context.Context, rule domain.PricingRule) error {
	if rule.Discount == nil {
		return fmt.Errorf("pricing rule %s: missing discount", rule.ID)
	}

	var product sql.NullString
	if rule.ProductID != "" {
		product = sql.NullString{String: rule.ProductID, Valid: true}
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO pricing_rules (tenant_id, id, name, product_id, discount_type, discount_value,
		                           min_inventory, max_inventory, min_quantity, max_quantity, is_active, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name), product_id = VALUES(product_id), discount_type = VALUES(discount_type),
			discount_value = VALUES(discount_value), min_inventory = VALUES(min_inventory),
			max_inventory = VALUES(max_inventory), min_quantity = VALUES(min_quantity),
			max_quantity = VALUES(max_quantity), is_active = VALUES(is_active), priority = VALUES(priority),
			updated_at = NOW(6)`,
		rule.TenantID, rule.ID, rule.Name, product, string(rule.Discount.Kind()), rule.Discount.Value(),
		nullInt(rule.Conditions.MinInventory), nullInt(rule.Conditions.MaxInventory),
		nullInt(rule.Conditions.MinQuantity), nullInt(rule.Conditions.MaxQuantity),
		rule.IsActive, rule.Priority,
	)
	if err != nil {
		return fmt.Errorf("upsert pricing rule: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o           domain.Order
		items, addr []byte
	)
	if err := row.Scan(&o.ID, &o.TenantID, &o.UserID, &o.OrderNumber, &items, &o.TotalItems, &o.Subtotal,
		&o.TotalDiscount, &o.Total, &o.Status, &addr, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(addr, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	return &o, nil
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dhabapos/backend/internal/domain"
	"dhabapos/backend/internal/store"
	"dhabapos/backend/internal/xid"
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
		SELECT id, name, category, barcode, image_url, full_price_cents, half_price_cents,
			full_stock, half_stock, total_stock, solo, sort_order, created_at
		FROM products
		ORDER BY sort_order, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, barcode, image_url, full_price_cents, half_price_cents,
			full_stock, half_stock, total_stock, solo, sort_order, created_at
		FROM products
		WHERE id = $1
	`, id)
	p, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, barcode, image_url, full_price_cents, half_price_cents,
			full_stock, half_stock, total_stock, solo, sort_order, created_at
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" || product.FullPriceCents < 1 {
		return nil, store.ErrInvalidSale
	}
	if !product.Solo && product.HalfPriceCents < 1 {
		return nil, store.ErrInvalidSale
	}
	if product.FullStock < 0 || product.HalfStock < 0 {
		return nil, store.ErrInvalidSale
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	if product.Solo {
		product.HalfStock = 0
		product.HalfPriceCents = 0
	}
	product.TotalStock = domain.TotalStock(product)

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (
			id, name, category, barcode, image_url, full_price_cents, half_price_cents,
			full_stock, half_stock, total_stock, solo, sort_order, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,
			COALESCE((SELECT MAX(sort_order) + 1 FROM products), 0), $12, now())
		RETURNING sort_order
	`, product.ID, product.Name, product.Category, product.Barcode, product.ImageURL,
		product.FullPriceCents, product.HalfPriceCents, product.FullStock, product.HalfStock,
		product.TotalStock, product.Solo, product.CreatedAt).Scan(&product.SortOrder)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if strings.TrimSpace(product.Name) == "" || product.FullPriceCents < 1 {
		return nil, store.ErrInvalidSale
	}
	if product.FullStock < 0 || product.HalfStock < 0 {
		return nil, store.ErrInvalidSale
	}
	if product.Solo {
		product.HalfStock = 0
		product.HalfPriceCents = 0
	}
	product.TotalStock = domain.TotalStock(product)

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, barcode = $4, image_url = $5, full_price_cents = $6,
			half_price_cents = $7, full_stock = $8, half_stock = $9, total_stock = $10,
			solo = $11, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.Barcode, product.ImageURL,
		product.FullPriceCents, product.HalfPriceCents, product.FullStock, product.HalfStock,
		product.TotalStock, product.Solo)
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

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
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

func (s *Store) ReorderProducts(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var known int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM products WHERE id = ANY($1)
	`, ids).Scan(&known); err != nil {
		return err
	}
	if known != len(ids) {
		return store.ErrNotFound
	}

	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET sort_order = $2, updated_at = now() WHERE id = $1
		`, id, i); err != nil {
			return err
		}
	}

	// Unlisted products keep their relative order after the listed ones.
	if _, err := tx.ExecContext(ctx, `
		WITH ranked AS (
			SELECT id, ROW_NUMBER() OVER (ORDER BY sort_order, id) - 1 AS pos
			FROM products
			WHERE NOT (id = ANY($1))
		)
		UPDATE products
		SET sort_order = $2 + ranked.pos, updated_at = now()
		FROM ranked
		WHERE products.id = ranked.id
	`, ids, len(ids)); err != nil {
		return err
	}

	return tx.Commit()
}

// ApplyStockDeltas runs the whole batch in one serializable transaction. The
// touched products are locked in id order, every debit is checked against the
// locked counters, and total_stock is recomputed before commit. Any failing
// line rolls the whole batch back.
func (s *Store) ApplyStockDeltas(ctx context.Context, deltas []domain.StockDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	ids := make([]string, 0, len(deltas))
	seen := make(map[string]struct{}, len(deltas))
	for _, delta := range deltas {
		if _, ok := seen[delta.ProductID]; !ok {
			seen[delta.ProductID] = struct{}{}
			ids = append(ids, delta.ProductID)
		}
	}
	slices.Sort(ids)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, full_stock, half_stock, solo
		FROM products
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return err
	}
	locked := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.FullStock, &p.HalfStock, &p.Solo); err != nil {
			_ = rows.Close()
			return err
		}
		locked[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, delta := range deltas {
		if delta.Qty == 0 {
			continue
		}
		product, exists := locked[delta.ProductID]
		if !exists {
			if delta.Qty > 0 {
				continue
			}
			return store.ErrNotFound
		}
		current, ok := product.VariantStock(delta.Variant)
		if !ok {
			if delta.Qty > 0 {
				continue
			}
			return store.ErrInvalidVariant
		}
		if current+delta.Qty < 0 {
			return store.ErrInsufficientStock
		}
		switch delta.Variant {
		case domain.VariantFull:
			product.FullStock = current + delta.Qty
		case domain.VariantHalf:
			product.HalfStock = current + delta.Qty
		}
		locked[delta.ProductID] = product
	}

	for _, id := range ids {
		product, exists := locked[id]
		if !exists {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET full_stock = $2, half_stock = $3, total_stock = $4, updated_at = now()
			WHERE id = $1
		`, product.ID, product.FullStock, product.HalfStock, domain.TotalStock(product)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) CountSalesReferencingProduct(ctx context.Context, productID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT sale_id) FROM sale_items WHERE product_id = $1
	`, productID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidSale
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.UpdatedAt = sale.CreatedAt

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, total_cents, payment_method, order_type, order_taker, created_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, sale.ID, sale.TotalCents, sale.PaymentMethod, sale.OrderType, sale.OrderTaker, sale.CreatedBy, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if err := insertSaleItems(ctx, tx, sale.ID, sale.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := sale
	return &created, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	err := s.db.QueryRowContext(ctx, `
		SELECT id, total_cents, payment_method, order_type, order_taker, created_by, created_at, updated_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.TotalCents, &sale.PaymentMethod, &sale.OrderType, &sale.OrderTaker, &sale.CreatedBy, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.UpdatedAt = sale.UpdatedAt.UTC()

	itemsBySale, err := s.loadSaleItems(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = itemsBySale[sale.ID]
	return &sale, nil
}

func (s *Store) UpdateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidSale
	}
	sale.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		UPDATE sales
		SET total_cents = $2, payment_method = $3, order_type = $4, order_taker = $5, updated_at = $6
		WHERE id = $1
		RETURNING created_by, created_at
	`, sale.ID, sale.TotalCents, sale.PaymentMethod, sale.OrderType, sale.OrderTaker, sale.UpdatedAt).
		Scan(&sale.CreatedBy, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, sale.ID); err != nil {
		return nil, err
	}
	if err := insertSaleItems(ctx, tx, sale.ID, sale.Items); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	updated := sale
	return &updated, nil
}

func (s *Store) DeleteSale(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
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

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT id, total_cents, payment_method, order_type, order_taker, created_by, created_at, updated_at
		FROM sales
		ORDER BY created_at DESC, id DESC
	`)
}

func (s *Store) ListSalesByCreator(ctx context.Context, username string) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT id, total_cents, payment_method, order_type, order_taker, created_by, created_at, updated_at
		FROM sales
		WHERE created_by = $1
		ORDER BY created_at DESC, id DESC
	`, username)
}

func (s *Store) ListSalesInRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Sale, error) {
	return s.querySales(ctx, `
		SELECT id, total_cents, payment_method, order_type, order_taker, created_by, created_at, updated_at
		FROM sales
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
	`, from, to)
}

func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		if err := rows.Scan(&sale.ID, &sale.TotalCents, &sale.PaymentMethod, &sale.OrderType, &sale.OrderTaker, &sale.CreatedBy, &sale.CreatedAt, &sale.UpdatedAt); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sale.UpdatedAt = sale.UpdatedAt.UTC()
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	itemsBySale, err := s.loadSaleItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = itemsBySale[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) loadSaleItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleLine, error) {
	result := make(map[string][]domain.SaleLine, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, variant, qty, unit_price_cents
		FROM sale_items
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.Variant, &line.Qty, &line.UnitPriceCents); err != nil {
			return nil, err
		}
		result[saleID] = append(result[saleID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func insertSaleItems(ctx context.Context, tx *sql.Tx, saleID string, items []domain.SaleLine) error {
	for i, line := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, line_no, product_id, variant, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, saleID, i, line.ProductID, line.Variant, line.Qty, line.UnitPriceCents); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateOrderTaker(ctx context.Context, taker domain.OrderTaker) (*domain.OrderTaker, error) {
	taker.Name = strings.TrimSpace(taker.Name)
	if taker.Name == "" {
		return nil, store.ErrInvalidSale
	}
	if taker.ID == "" {
		taker.ID = xid.New("taker")
	}
	if taker.CreatedAt.IsZero() {
		taker.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO order_takers (id, name, phone, balance_cents, image_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, taker.ID, taker.Name, taker.Phone, taker.BalanceCents, taker.ImageURL, taker.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := taker
	return &created, nil
}

func (s *Store) GetOrderTakerByID(ctx context.Context, id string) (*domain.OrderTaker, error) {
	var taker domain.OrderTaker
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, phone, balance_cents, image_url, created_at
		FROM order_takers
		WHERE id = $1
	`, id).Scan(&taker.ID, &taker.Name, &taker.Phone, &taker.BalanceCents, &taker.ImageURL, &taker.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	taker.CreatedAt = taker.CreatedAt.UTC()
	return &taker, nil
}

func (s *Store) UpdateOrderTaker(ctx context.Context, taker domain.OrderTaker) (*domain.OrderTaker, error) {
	if strings.TrimSpace(taker.Name) == "" {
		return nil, store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE order_takers
		SET name = $2, phone = $3, balance_cents = $4, image_url = $5, updated_at = now()
		WHERE id = $1
	`, taker.ID, taker.Name, taker.Phone, taker.BalanceCents, taker.ImageURL)
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
	updated := taker
	return &updated, nil
}

func (s *Store) DeleteOrderTaker(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM order_takers WHERE id = $1`, id)
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

func (s *Store) ListOrderTakers(ctx context.Context) ([]domain.OrderTaker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, balance_cents, image_url, created_at
		FROM order_takers
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	takers := make([]domain.OrderTaker, 0, 16)
	for rows.Next() {
		var taker domain.OrderTaker
		if err := rows.Scan(&taker.ID, &taker.Name, &taker.Phone, &taker.BalanceCents, &taker.ImageURL, &taker.CreatedAt); err != nil {
			return nil, err
		}
		taker.CreatedAt = taker.CreatedAt.UTC()
		takers = append(takers, taker)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return takers, nil
}

func (s *Store) CreateActivity(ctx context.Context, entry domain.Activity) error {
	if entry.ID == "" {
		entry.ID = xid.New("act")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, username, role, action, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, entry.ID, entry.Username, entry.Role, entry.Action, entry.CreatedAt)
	return err
}

func (s *Store) ListActivities(ctx context.Context, limit int) ([]domain.Activity, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, role, action, created_at
		FROM activities
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.Activity, 0, limit)
	for rows.Next() {
		var entry domain.Activity
		if err := rows.Scan(&entry.ID, &entry.Username, &entry.Role, &entry.Action, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if user.Role == "" {
		user.Role = domain.RoleAdmin
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, pin, role, site, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.PIN, user.Role, user.Site, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	var lastLogin, lastLogout sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, pin, role, site, last_login, last_logout, created_at
		FROM app_users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).
		Scan(&user.Username, &user.Password, &user.PIN, &user.Role, &user.Site, &lastLogin, &lastLogout, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		user.LastLogin = &t
	}
	if lastLogout.Valid {
		t := lastLogout.Time.UTC()
		user.LastLogout = &t
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, pin, role, site, last_login, last_logout, created_at
		FROM app_users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		var lastLogin, lastLogout sql.NullTime
		if err := rows.Scan(&user.Username, &user.Password, &user.PIN, &user.Role, &user.Site, &lastLogin, &lastLogout, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		if lastLogin.Valid {
			t := lastLogin.Time.UTC()
			user.LastLogin = &t
		}
		if lastLogout.Valid {
			t := lastLogout.Time.UTC()
			user.LastLogout = &t
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM app_users WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)))
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

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidSale
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password = $2, updated_at = now() WHERE username = $1
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

func (s *Store) TouchUserLogin(ctx context.Context, username string, at time.Time, logout bool) error {
	column := "last_login"
	if logout {
		column = "last_logout"
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET `+column+` = $2, updated_at = now() WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)), at.UTC())
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Barcode, &p.ImageURL, &p.FullPriceCents,
		&p.HalfPriceCents, &p.FullStock, &p.HalfStock, &p.TotalStock, &p.Solo, &p.SortOrder, &p.CreatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

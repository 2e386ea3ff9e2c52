package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookshop/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProductListFilter struct {
	Search       string
	Limit        int
	Offset       int
	LowStockOnly bool
}

type ProductCreateInput struct {
	SKU             string
	Name            string
	Category        string
	BuyPrice        float64
	SellPrice       float64
	ReorderLevel    int
	OpeningQuantity int
	CreatedBy       string
}

type ProductPatchInput struct {
	SKU          *string
	Name         *string
	Category     *string
	BuyPrice     *float64
	SellPrice    *float64
	ReorderLevel *int
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// movement describes one signed stock delta to record. RefType/RefID
// link the movement back to the sale, return or receipt that caused it.
type movement struct {
	ProductID int64
	Change    int
	Reason    string
	RefType   string
	RefID     string
	Actor     string
}

// applyMovementTx inserts a movement row and applies its delta to the
// product quantity inside the caller's transaction. For receipt and
// sale movements the update is guarded so the resulting quantity can
// never drop below zero; return and adjustment movements are
// compensations and may exceed what receipts and sales alone justify.
func applyMovementTx(ctx context.Context, tx pgx.Tx, m movement) (int64, error) {
	var (
		cmd pgconn.CommandTag
		err error
	)
	if m.Reason == domain.MovementReturn || m.Reason == domain.MovementAdjustment {
		cmd, err = tx.Exec(ctx, `
			UPDATE products
			SET quantity = quantity + $2, updated_at = NOW()
			WHERE id = $1
		`, m.ProductID, m.Change)
	} else {
		cmd, err = tx.Exec(ctx, `
			UPDATE products
			SET quantity = quantity + $2, updated_at = NOW()
			WHERE id = $1 AND quantity + $2 >= 0
		`, m.ProductID, m.Change)
	}
	if err != nil {
		return 0, fmt.Errorf("apply stock delta for product %d: %w", m.ProductID, err)
	}
	if cmd.RowsAffected() == 0 {
		var available int
		err := tx.QueryRow(ctx,
			"SELECT quantity FROM products WHERE id = $1", m.ProductID,
		).Scan(&available)
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("check product %d after rejected delta: %w", m.ProductID, err)
		}
		return 0, &InsufficientStockError{
			ProductID: m.ProductID,
			Requested: -m.Change,
			Available: available,
		}
	}

	var movementID int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO stock_movements (product_id, change, reason, ref_type, ref_id, actor)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		m.ProductID,
		m.Change,
		m.Reason,
		nullIfEmpty(m.RefType),
		nullIfEmpty(m.RefID),
		m.Actor,
	).Scan(&movementID); err != nil {
		return 0, fmt.Errorf("insert stock movement for product %d: %w", m.ProductID, err)
	}
	return movementID, nil
}

// ApplyMovement records a single stock movement as its own transaction.
// Multi-row operations (sales, returns, receipts, deletions) use the
// in-transaction form instead so the whole event commits or nothing
// does.
func (r *Repository) ApplyMovement(
	ctx context.Context,
	productID int64,
	delta int,
	reason, refType, refID, actor string,
) (int64, error) {
	if delta == 0 {
		return 0, validationErrorf("delta cannot be zero")
	}
	if !validReason(reason) {
		return 0, validationErrorf("unknown movement reason %q", reason)
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return 0, validationErrorf("actor is required")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin movement tx: %w", err)
	}
	defer tx.Rollback(ctx)

	movementID, err := applyMovementTx(ctx, tx, movement{
		ProductID: productID,
		Change:    delta,
		Reason:    reason,
		RefType:   refType,
		RefID:     refID,
		Actor:     actor,
	})
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit movement tx: %w", err)
	}
	return movementID, nil
}

func (r *Repository) CurrentQuantity(ctx context.Context, productID int64) (int, error) {
	var quantity int
	err := r.pool.QueryRow(ctx,
		"SELECT quantity FROM products WHERE id = $1", productID,
	).Scan(&quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("current quantity for product %d: %w", productID, err)
	}
	return quantity, nil
}

const productColumns = `
	id,
	sku,
	name,
	category,
	buy_price::double precision,
	sell_price::double precision,
	quantity,
	reorder_level,
	created_at,
	updated_at
`

func (r *Repository) ListProducts(ctx context.Context, filter ProductListFilter) ([]domain.Product, error) {
	limit := normalizeLimit(filter.Limit)
	offset := normalizeOffset(filter.Offset)
	search := strings.TrimSpace(filter.Search)

	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR sku ILIKE '%' || $1 || '%')
	`
	if filter.LowStockOnly {
		query += " AND quantity <= reorder_level"
	}
	query += " ORDER BY id ASC LIMIT $2 OFFSET $3"

	rows, err := r.pool.Query(ctx, query, search, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (r *Repository) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	return &product, nil
}

// CreateProduct inserts a catalog row. The stored quantity starts at
// zero; an opening quantity arrives as a receipt movement so the
// reconciliation invariant holds from the product's first row.
func (r *Repository) CreateProduct(ctx context.Context, input ProductCreateInput) (domain.Product, error) {
	input.SKU = strings.TrimSpace(input.SKU)
	input.Name = strings.TrimSpace(input.Name)
	if input.SKU == "" {
		return domain.Product{}, validationErrorf("sku is required")
	}
	if input.Name == "" {
		return domain.Product{}, validationErrorf("name is required")
	}
	if input.BuyPrice < 0 || input.SellPrice < 0 {
		return domain.Product{}, validationErrorf("prices cannot be negative")
	}
	if input.OpeningQuantity < 0 {
		return domain.Product{}, validationErrorf("opening quantity cannot be negative")
	}
	if input.ReorderLevel < 0 {
		return domain.Product{}, validationErrorf("reorder level cannot be negative")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Product{}, fmt.Errorf("begin create product tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO products (sku, name, category, buy_price, sell_price, quantity, reorder_level)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		RETURNING `+productColumns+`
	`,
		input.SKU,
		input.Name,
		strings.TrimSpace(input.Category),
		input.BuyPrice,
		input.SellPrice,
		input.ReorderLevel,
	)
	product, err := scanProduct(row)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Product{}, validationErrorf("sku %q already exists", input.SKU)
		}
		return domain.Product{}, fmt.Errorf("create product: %w", err)
	}

	if input.OpeningQuantity > 0 {
		actor := strings.TrimSpace(input.CreatedBy)
		if actor == "" {
			actor = "catalog"
		}
		if _, err := applyMovementTx(ctx, tx, movement{
			ProductID: product.ID,
			Change:    input.OpeningQuantity,
			Reason:    domain.MovementReceipt,
			RefType:   "opening_stock",
			RefID:     product.SKU,
			Actor:     actor,
		}); err != nil {
			return domain.Product{}, err
		}
		product.Quantity = input.OpeningQuantity
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Product{}, fmt.Errorf("commit create product tx: %w", err)
	}
	return product, nil
}

// PatchProduct updates catalog attributes only. Quantity is never
// patchable; it changes exclusively through movements.
func (r *Repository) PatchProduct(ctx context.Context, id int64, input ProductPatchInput) (*domain.Product, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin patch product tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, id)
	product, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load product for patch: %w", err)
	}

	if input.SKU != nil {
		sku := strings.TrimSpace(*input.SKU)
		if sku == "" {
			return nil, validationErrorf("sku cannot be empty")
		}
		product.SKU = sku
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, validationErrorf("name cannot be empty")
		}
		product.Name = name
	}
	if input.Category != nil {
		product.Category = strings.TrimSpace(*input.Category)
	}
	if input.BuyPrice != nil {
		if *input.BuyPrice < 0 {
			return nil, validationErrorf("buy_price cannot be negative")
		}
		product.BuyPrice = *input.BuyPrice
	}
	if input.SellPrice != nil {
		if *input.SellPrice < 0 {
			return nil, validationErrorf("sell_price cannot be negative")
		}
		product.SellPrice = *input.SellPrice
	}
	if input.ReorderLevel != nil {
		if *input.ReorderLevel < 0 {
			return nil, validationErrorf("reorder_level cannot be negative")
		}
		product.ReorderLevel = *input.ReorderLevel
	}

	row = tx.QueryRow(ctx, `
		UPDATE products
		SET
			sku = $2,
			name = $3,
			category = $4,
			buy_price = $5,
			sell_price = $6,
			reorder_level = $7,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+productColumns+`
	`,
		id,
		product.SKU,
		product.Name,
		product.Category,
		product.BuyPrice,
		product.SellPrice,
		product.ReorderLevel,
	)
	updated, err := scanProduct(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, validationErrorf("sku %q already exists", product.SKU)
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit patch product tx: %w", err)
	}
	return &updated, nil
}

// DeleteProduct removes a product and every row that references it, in
// dependency order, inside one transaction.
func (r *Repository) DeleteProduct(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete product tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)", id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check product %d: %w", id, err)
	}
	if !exists {
		return ErrNotFound
	}

	for _, stmt := range []string{
		"DELETE FROM sales WHERE product_id = $1",
		"DELETE FROM returns WHERE product_id = $1",
		"DELETE FROM stock_movements WHERE product_id = $1",
		"DELETE FROM products WHERE id = $1",
	} {
		if _, err := tx.Exec(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete product %d: %w", id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete product tx: %w", err)
	}
	return nil
}

// ImportCatalog upserts catalog rows by SKU. New products with an
// opening quantity get a receipt movement; existing products keep
// their recorded quantity and only catalog fields change.
func (r *Repository) ImportCatalog(
	ctx context.Context,
	importRows []domain.CatalogImportRow,
	actor string,
) (domain.CatalogImportResult, error) {
	if len(importRows) == 0 {
		return domain.CatalogImportResult{}, validationErrorf("import has no rows")
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "import"
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.CatalogImportResult{}, fmt.Errorf("begin import tx: %w", err)
	}
	defer tx.Rollback(ctx)

	result := domain.CatalogImportResult{}
	for _, row := range importRows {
		sku := strings.TrimSpace(row.SKU)
		name := strings.TrimSpace(row.Name)
		if sku == "" || name == "" {
			continue
		}
		reorder := 5
		if row.ReorderLevel != nil {
			reorder = *row.ReorderLevel
		}

		var existingID int64
		err := tx.QueryRow(ctx,
			"SELECT id FROM products WHERE sku = $1 FOR UPDATE", sku,
		).Scan(&existingID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return domain.CatalogImportResult{}, fmt.Errorf("query existing product %q: %w", sku, err)
		}

		if errors.Is(err, pgx.ErrNoRows) {
			var productID int64
			if err := tx.QueryRow(ctx, `
				INSERT INTO products (sku, name, category, buy_price, sell_price, quantity, reorder_level)
				VALUES ($1, $2, $3, $4, $5, 0, $6)
				RETURNING id
			`, sku, name, strings.TrimSpace(row.Category), row.BuyPrice, row.SellPrice, reorder).Scan(&productID); err != nil {
				return domain.CatalogImportResult{}, fmt.Errorf("insert imported product %q: %w", sku, err)
			}
			if row.Quantity > 0 {
				if _, err := applyMovementTx(ctx, tx, movement{
					ProductID: productID,
					Change:    row.Quantity,
					Reason:    domain.MovementReceipt,
					RefType:   "catalog_import",
					RefID:     sku,
					Actor:     actor,
				}); err != nil {
					return domain.CatalogImportResult{}, err
				}
			}
			result.Created++
			continue
		}

		if _, err := tx.Exec(ctx, `
			UPDATE products
			SET
				name = $2,
				category = $3,
				buy_price = $4,
				sell_price = $5,
				reorder_level = $6,
				updated_at = NOW()
			WHERE id = $1
		`, existingID, name, strings.TrimSpace(row.Category), row.BuyPrice, row.SellPrice, reorder); err != nil {
			return domain.CatalogImportResult{}, fmt.Errorf("update imported product %q: %w", sku, err)
		}
		result.Updated++
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.CatalogImportResult{}, fmt.Errorf("commit import tx: %w", err)
	}
	return result, nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var product domain.Product
	if err := row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Category,
		&product.BuyPrice,
		&product.SellPrice,
		&product.Quantity,
		&product.ReorderLevel,
		&product.CreatedAt,
		&product.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

func validReason(reason string) bool {
	switch reason {
	case domain.MovementReceipt, domain.MovementSale, domain.MovementReturn, domain.MovementAdjustment:
		return true
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"bookshop/internal/domain"
	"bookshop/internal/pricing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type lockedProduct struct {
	ID        int64
	Name      string
	BuyPrice  float64
	SellPrice float64
	Quantity  int
}

func loadProductForUpdate(ctx context.Context, tx pgx.Tx, productID int64) (lockedProduct, error) {
	var p lockedProduct
	err := tx.QueryRow(ctx, `
		SELECT id, name, buy_price::double precision, sell_price::double precision, quantity
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, productID).Scan(&p.ID, &p.Name, &p.BuyPrice, &p.SellPrice, &p.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return lockedProduct{}, ErrNotFound
	}
	if err != nil {
		return lockedProduct{}, fmt.Errorf("load product %d: %w", productID, err)
	}
	return p, nil
}

func validateSaleInput(input domain.SaleInput) error {
	if strings.TrimSpace(input.SoldBy) == "" {
		return validationErrorf("sold_by is required")
	}
	if len(input.Lines) == 0 {
		return validationErrorf("sale has no lines")
	}
	for _, line := range input.Lines {
		if line.ProductID <= 0 {
			return validationErrorf("invalid product id %d", line.ProductID)
		}
		if line.Quantity <= 0 {
			return validationErrorf("quantity must be positive for product %d", line.ProductID)
		}
	}
	return nil
}

// requestedPerProduct sums quantities across cart lines so two lines
// for the same product are checked against stock as one demand, not
// independently.
func requestedPerProduct(lines []domain.SaleLineInput) (map[int64]int, []int64) {
	requested := make(map[int64]int, len(lines))
	for _, line := range lines {
		requested[line.ProductID] += line.Quantity
	}
	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return requested, ids
}

// RecordSale records a multi-line sale under one transaction id. The
// whole write sequence (sale rows plus sale movements) runs in a
// single transaction: either every line is recorded and stock debited,
// or nothing is.
func (r *Repository) RecordSale(ctx context.Context, input domain.SaleInput) (*domain.Receipt, error) {
	if err := validateSaleInput(input); err != nil {
		return nil, err
	}

	soldBy := strings.TrimSpace(input.SoldBy)
	paymentMethod := strings.TrimSpace(input.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = "cash"
	}
	paymentStatus := strings.TrimSpace(input.PaymentStatus)
	if paymentStatus == "" {
		paymentStatus = "paid"
	}
	customer := normalizeNullable(input.CustomerName)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin sale tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock in ascending id order so concurrent carts cannot deadlock.
	requested, productIDs := requestedPerProduct(input.Lines)
	products := make(map[int64]lockedProduct, len(productIDs))
	for _, productID := range productIDs {
		product, err := loadProductForUpdate(ctx, tx, productID)
		if err != nil {
			return nil, err
		}
		if want := requested[productID]; want > product.Quantity {
			return nil, &InsufficientStockError{
				ProductID: productID,
				Requested: want,
				Available: product.Quantity,
			}
		}
		products[productID] = product
	}

	transactionID := uuid.NewString()
	receipt := &domain.Receipt{
		TransactionID: transactionID,
		Lines:         make([]domain.ReceiptLine, 0, len(input.Lines)),
		CreatedAt:     time.Now().UTC(),
	}

	quotes := make([]pricing.LineQuote, len(input.Lines))
	for i, line := range input.Lines {
		product := products[line.ProductID]
		quote, err := pricing.QuoteLine(product.SellPrice, product.BuyPrice, line.Quantity, line.DiscountType, line.DiscountValue)
		if err != nil {
			return nil, validationErrorf("line %d (%s): %v", i+1, product.Name, err)
		}
		quotes[i] = quote
		receipt.Subtotal += quote.OriginalTotal
		receipt.TotalDiscount += quote.DiscountAmount
		receipt.GrandTotal += quote.FinalTotal
		receipt.TotalProfit += quote.Profit
	}

	// Paid amount defaults to the full total; a partial payment is
	// allocated to lines in order so stored amounts sum to it exactly.
	remainingPaid := receipt.GrandTotal
	if input.AmountPaid != nil {
		if *input.AmountPaid < 0 {
			return nil, validationErrorf("amount_paid cannot be negative")
		}
		remainingPaid = *input.AmountPaid
	}

	for i, line := range input.Lines {
		product := products[line.ProductID]
		quote := quotes[i]

		linePaid := quote.FinalTotal
		if linePaid > remainingPaid {
			linePaid = remainingPaid
		}
		remainingPaid -= linePaid

		discountPercent := 0.0
		if line.DiscountType == domain.DiscountPercentage {
			discountPercent = line.DiscountValue
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO sales (
				transaction_id,
				product_id,
				quantity,
				unit_price,
				buy_price,
				discount_amount,
				discount_percent,
				original_price,
				final_price,
				total_amount,
				profit,
				payment_method,
				sold_by,
				customer_name,
				payment_status,
				amount_paid
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`,
			transactionID,
			product.ID,
			line.Quantity,
			product.SellPrice,
			product.BuyPrice,
			quote.DiscountAmount,
			discountPercent,
			product.SellPrice,
			quote.FinalUnitPrice,
			quote.FinalTotal,
			quote.Profit,
			paymentMethod,
			soldBy,
			customer,
			paymentStatus,
			linePaid,
		); err != nil {
			return nil, fmt.Errorf("insert sale line for product %d: %w", product.ID, err)
		}

		if _, err := applyMovementTx(ctx, tx, movement{
			ProductID: product.ID,
			Change:    -line.Quantity,
			Reason:    domain.MovementSale,
			RefType:   "sale",
			RefID:     transactionID,
			Actor:     soldBy,
		}); err != nil {
			return nil, err
		}

		receipt.Lines = append(receipt.Lines, domain.ReceiptLine{
			ProductID:      product.ID,
			ProductName:    product.Name,
			Quantity:       line.Quantity,
			UnitPrice:      product.SellPrice,
			OriginalTotal:  quote.OriginalTotal,
			DiscountAmount: quote.DiscountAmount,
			FinalUnitPrice: quote.FinalUnitPrice,
			TotalAmount:    quote.FinalTotal,
			Profit:         quote.Profit,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit sale tx: %w", err)
	}
	return receipt, nil
}

// PreviewSale runs sale validation and pricing with zero writes. The
// stock check here is advisory; RecordSale re-checks under row locks.
func (r *Repository) PreviewSale(ctx context.Context, input domain.SaleInput) (*domain.Receipt, error) {
	if len(input.Lines) == 0 {
		return nil, validationErrorf("sale has no lines")
	}
	for _, line := range input.Lines {
		if line.ProductID <= 0 || line.Quantity <= 0 {
			return nil, validationErrorf("invalid line for product %d", line.ProductID)
		}
	}

	requested, productIDs := requestedPerProduct(input.Lines)
	products := make(map[int64]lockedProduct, len(productIDs))
	for _, productID := range productIDs {
		var p lockedProduct
		err := r.pool.QueryRow(ctx, `
			SELECT id, name, buy_price::double precision, sell_price::double precision, quantity
			FROM products
			WHERE id = $1
		`, productID).Scan(&p.ID, &p.Name, &p.BuyPrice, &p.SellPrice, &p.Quantity)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load product %d for preview: %w", productID, err)
		}
		if want := requested[productID]; want > p.Quantity {
			return nil, &InsufficientStockError{ProductID: productID, Requested: want, Available: p.Quantity}
		}
		products[productID] = p
	}

	receipt := &domain.Receipt{
		Lines:     make([]domain.ReceiptLine, 0, len(input.Lines)),
		CreatedAt: time.Now().UTC(),
	}
	for i, line := range input.Lines {
		product := products[line.ProductID]
		quote, err := pricing.QuoteLine(product.SellPrice, product.BuyPrice, line.Quantity, line.DiscountType, line.DiscountValue)
		if err != nil {
			return nil, validationErrorf("line %d (%s): %v", i+1, product.Name, err)
		}
		receipt.Subtotal += quote.OriginalTotal
		receipt.TotalDiscount += quote.DiscountAmount
		receipt.GrandTotal += quote.FinalTotal
		receipt.TotalProfit += quote.Profit
		receipt.Lines = append(receipt.Lines, domain.ReceiptLine{
			ProductID:      product.ID,
			ProductName:    product.Name,
			Quantity:       line.Quantity,
			UnitPrice:      product.SellPrice,
			OriginalTotal:  quote.OriginalTotal,
			DiscountAmount: quote.DiscountAmount,
			FinalUnitPrice: quote.FinalUnitPrice,
			TotalAmount:    quote.FinalTotal,
			Profit:         quote.Profit,
		})
	}
	return receipt, nil
}

// DeleteSale removes one sale row and restores its stock effect with
// an adjustment movement, as a single transaction. Deleting a row that
// no longer exists reports ErrNotFound; stock is never restored twice.
func (r *Repository) DeleteSale(ctx context.Context, saleID int64, deletedBy string) error {
	deletedBy = strings.TrimSpace(deletedBy)
	if deletedBy == "" {
		deletedBy = "system"
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete sale tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		productID int64
		quantity  int
	)
	err = tx.QueryRow(ctx, `
		SELECT product_id, quantity
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, saleID).Scan(&productID, &quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load sale %d: %w", saleID, err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM sales WHERE id = $1", saleID); err != nil {
		return fmt.Errorf("delete sale %d: %w", saleID, err)
	}

	// quantity is signed, so deleting a compensating row re-debits
	// stock instead of crediting it.
	if _, err := applyMovementTx(ctx, tx, movement{
		ProductID: productID,
		Change:    quantity,
		Reason:    domain.MovementAdjustment,
		RefType:   "sale_delete",
		RefID:     strconv.FormatInt(saleID, 10),
		Actor:     deletedBy,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete sale tx: %w", err)
	}
	return nil
}

const saleColumns = `
	s.id,
	s.transaction_id,
	s.product_id,
	p.name,
	s.quantity,
	s.unit_price::double precision,
	s.buy_price::double precision,
	s.discount_amount::double precision,
	s.discount_percent::double precision,
	s.original_price::double precision,
	s.final_price::double precision,
	s.total_amount::double precision,
	s.profit::double precision,
	s.payment_method,
	s.sold_by,
	s.customer_name,
	s.payment_status,
	s.amount_paid::double precision,
	s.created_at
`

// RecentSales is a windowed display list. It is never the source for
// headline totals; DashboardTotals computes those exactly.
func (r *Repository) RecentSales(ctx context.Context, limit int) ([]domain.SaleLine, error) {
	limit = normalizeLimit(limit)
	rows, err := r.pool.Query(ctx, `
		SELECT `+saleColumns+`
		FROM sales s
		JOIN products p ON p.id = s.product_id
		ORDER BY s.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent sales: %w", err)
	}
	defer rows.Close()

	items := make([]domain.SaleLine, 0, limit)
	for rows.Next() {
		line, err := scanSaleLine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent sales: %w", err)
	}
	return items, nil
}

func (r *Repository) GetSalesByTransaction(ctx context.Context, transactionID string) ([]domain.SaleLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+saleColumns+`
		FROM sales s
		JOIN products p ON p.id = s.product_id
		WHERE s.transaction_id = $1
		ORDER BY s.id ASC
	`, strings.TrimSpace(transactionID))
	if err != nil {
		return nil, fmt.Errorf("sales for transaction %s: %w", transactionID, err)
	}
	defer rows.Close()

	items := make([]domain.SaleLine, 0)
	for rows.Next() {
		line, err := scanSaleLine(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction sales: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items, nil
}

func scanSaleLine(row pgx.Row) (domain.SaleLine, error) {
	var (
		line     domain.SaleLine
		customer *string
	)
	if err := row.Scan(
		&line.ID,
		&line.TransactionID,
		&line.ProductID,
		&line.ProductName,
		&line.Quantity,
		&line.UnitPrice,
		&line.BuyPrice,
		&line.DiscountAmount,
		&line.DiscountPercent,
		&line.OriginalPrice,
		&line.FinalPrice,
		&line.TotalAmount,
		&line.Profit,
		&line.PaymentMethod,
		&line.SoldBy,
		&customer,
		&line.PaymentStatus,
		&line.AmountPaid,
		&line.CreatedAt,
	); err != nil {
		return domain.SaleLine{}, fmt.Errorf("scan sale line: %w", err)
	}
	line.CustomerName = customer
	return line, nil
}

func normalizeNullable(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	if v == "" {
		return nil
	}
	return &v
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bookshop/internal/domain"
	"bookshop/internal/pricing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// RecordReturn records a product return as one transaction with three
// effects: the return row, a positive return movement, and a
// compensating sale row with negative quantity and totals so revenue
// and profit aggregates net out the refund without special-case
// filtering downstream.
func (r *Repository) RecordReturn(ctx context.Context, input domain.ReturnInput) (*domain.Receipt, error) {
	if input.ProductID <= 0 {
		return nil, validationErrorf("invalid product id %d", input.ProductID)
	}
	if input.Quantity <= 0 {
		return nil, validationErrorf("quantity must be positive")
	}
	processedBy := strings.TrimSpace(input.ProcessedBy)
	if processedBy == "" {
		return nil, validationErrorf("processed_by is required")
	}
	refundMethod := strings.TrimSpace(input.RefundMethod)
	if refundMethod == "" {
		refundMethod = "cash"
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin return tx: %w", err)
	}
	defer tx.Rollback(ctx)

	product, err := loadProductForUpdate(ctx, tx, input.ProductID)
	if err != nil {
		return nil, err
	}

	if input.SaleID != nil {
		var exists bool
		if err := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM sales WHERE id = $1)", *input.SaleID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check linked sale %d: %w", *input.SaleID, err)
		}
		if !exists {
			return nil, ErrNotFound
		}
	}

	quote, err := pricing.QuoteLine(product.SellPrice, product.BuyPrice, input.Quantity, domain.DiscountNone, 0)
	if err != nil {
		return nil, validationErrorf("price return: %v", err)
	}
	refund := quote.FinalTotal

	var returnID int64
	if err := tx.QueryRow(ctx, `
		INSERT INTO returns (
			sale_id,
			product_id,
			quantity,
			unit_price,
			total_refund,
			reason,
			condition,
			refund_method,
			processed_by,
			notes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`,
		input.SaleID,
		product.ID,
		input.Quantity,
		product.SellPrice,
		refund,
		strings.TrimSpace(input.Reason),
		strings.TrimSpace(input.Condition),
		refundMethod,
		processedBy,
		normalizeNullable(input.Notes),
	).Scan(&returnID); err != nil {
		return nil, fmt.Errorf("insert return: %w", err)
	}

	if _, err := applyMovementTx(ctx, tx, movement{
		ProductID: product.ID,
		Change:    input.Quantity,
		Reason:    domain.MovementReturn,
		RefType:   "return",
		RefID:     strconv.FormatInt(returnID, 10),
		Actor:     processedBy,
	}); err != nil {
		return nil, err
	}

	transactionID := uuid.NewString()
	if _, err := tx.Exec(ctx, `
		INSERT INTO sales (
			transaction_id,
			product_id,
			quantity,
			unit_price,
			buy_price,
			original_price,
			final_price,
			total_amount,
			profit,
			payment_method,
			sold_by,
			payment_status,
			amount_paid
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		transactionID,
		product.ID,
		-input.Quantity,
		product.SellPrice,
		product.BuyPrice,
		product.SellPrice,
		product.SellPrice,
		-refund,
		-quote.Profit,
		refundMethod,
		processedBy,
		"refunded",
		-refund,
	); err != nil {
		return nil, fmt.Errorf("insert compensating sale for return %d: %w", returnID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit return tx: %w", err)
	}

	return &domain.Receipt{
		TransactionID: transactionID,
		Lines: []domain.ReceiptLine{{
			ProductID:      product.ID,
			ProductName:    product.Name,
			Quantity:       -input.Quantity,
			UnitPrice:      product.SellPrice,
			OriginalTotal:  -refund,
			FinalUnitPrice: product.SellPrice,
			TotalAmount:    -refund,
			Profit:         -quote.Profit,
		}},
		Subtotal:    -refund,
		GrandTotal:  -refund,
		TotalProfit: -quote.Profit,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// DeleteReturn reverses a recorded return: it removes the return row,
// re-debits the stock the return had credited, and inserts a positive
// sale row restoring the refunded revenue. Historical rows are never
// edited; the reversal is purely additive apart from the return row
// itself.
func (r *Repository) DeleteReturn(ctx context.Context, returnID int64, deletedBy string) error {
	deletedBy = strings.TrimSpace(deletedBy)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete return tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		productID    int64
		quantity     int
		unitPrice    float64
		totalRefund  float64
		refundMethod string
		processedBy  string
	)
	err = tx.QueryRow(ctx, `
		SELECT product_id, quantity, unit_price::double precision, total_refund::double precision, refund_method, processed_by
		FROM returns
		WHERE id = $1
		FOR UPDATE
	`, returnID).Scan(&productID, &quantity, &unitPrice, &totalRefund, &refundMethod, &processedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load return %d: %w", returnID, err)
	}
	if deletedBy == "" {
		deletedBy = processedBy
	}

	product, err := loadProductForUpdate(ctx, tx, productID)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM returns WHERE id = $1", returnID); err != nil {
		return fmt.Errorf("delete return %d: %w", returnID, err)
	}

	if _, err := applyMovementTx(ctx, tx, movement{
		ProductID: productID,
		Change:    -quantity,
		Reason:    domain.MovementAdjustment,
		RefType:   "return_delete",
		RefID:     strconv.FormatInt(returnID, 10),
		Actor:     deletedBy,
	}); err != nil {
		return err
	}

	quote, err := pricing.QuoteLine(unitPrice, product.BuyPrice, quantity, domain.DiscountNone, 0)
	if err != nil {
		return fmt.Errorf("price return reversal %d: %w", returnID, err)
	}

	transactionID := uuid.NewString()
	if _, err := tx.Exec(ctx, `
		INSERT INTO sales (
			transaction_id,
			product_id,
			quantity,
			unit_price,
			buy_price,
			original_price,
			final_price,
			total_amount,
			profit,
			payment_method,
			sold_by,
			payment_status,
			amount_paid
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		transactionID,
		productID,
		quantity,
		unitPrice,
		product.BuyPrice,
		unitPrice,
		unitPrice,
		totalRefund,
		quote.Profit,
		refundMethod,
		deletedBy,
		"paid",
		totalRefund,
	); err != nil {
		return fmt.Errorf("insert restoring sale for return %d: %w", returnID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete return tx: %w", err)
	}
	return nil
}

func (r *Repository) ListReturns(ctx context.Context, limit, offset int) ([]domain.ReturnRecord, error) {
	limit = normalizeLimit(limit)
	offset = normalizeOffset(offset)

	rows, err := r.pool.Query(ctx, `
		SELECT
			t.id,
			t.sale_id,
			t.product_id,
			p.name,
			t.quantity,
			t.unit_price::double precision,
			t.total_refund::double precision,
			t.reason,
			t.condition,
			t.refund_method,
			t.processed_by,
			t.notes,
			t.status,
			t.created_at
		FROM returns t
		JOIN products p ON p.id = t.product_id
		ORDER BY t.id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list returns: %w", err)
	}
	defer rows.Close()

	items := make([]domain.ReturnRecord, 0, limit)
	for rows.Next() {
		var item domain.ReturnRecord
		if err := rows.Scan(
			&item.ID,
			&item.SaleID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.TotalRefund,
			&item.Reason,
			&item.Condition,
			&item.RefundMethod,
			&item.ProcessedBy,
			&item.Notes,
			&item.Status,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan return: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate returns: %w", err)
	}
	return items, nil
}

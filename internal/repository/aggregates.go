package repository

import (
	"context"
	"fmt"
	"strings"

	"bookshop/internal/domain"
)

// balanceTolerance keeps customers whose remainder is pure float dust
// out of the outstanding list. Exact equality is never used.
const balanceTolerance = 0.01

// DashboardTotals computes the headline figures with exact server-side
// aggregates over every sale row, compensating entries included.
// Windowed views (RecentSales) are display-only and never feed these
// numbers.
func (r *Repository) DashboardTotals(ctx context.Context) (domain.DashboardTotals, error) {
	var totals domain.DashboardTotals
	if err := r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(total_amount), 0)::double precision,
			COALESCE(SUM(profit), 0)::double precision,
			COALESCE(SUM(total_amount) FILTER (WHERE created_at::date = CURRENT_DATE), 0)::double precision,
			COALESCE(SUM(profit) FILTER (WHERE created_at::date = CURRENT_DATE), 0)::double precision,
			COALESCE(SUM(total_amount) FILTER (WHERE DATE_TRUNC('year', created_at) = DATE_TRUNC('year', NOW())), 0)::double precision,
			COALESCE(SUM(profit) FILTER (WHERE DATE_TRUNC('year', created_at) = DATE_TRUNC('year', NOW())), 0)::double precision
		FROM sales
	`).Scan(
		&totals.TotalSales,
		&totals.TotalProfit,
		&totals.TodaySales,
		&totals.TodayProfit,
		&totals.YearSales,
		&totals.YearProfit,
	); err != nil {
		return domain.DashboardTotals{}, fmt.Errorf("dashboard totals: %w", err)
	}
	return totals, nil
}

func (r *Repository) TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error) {
	if limit <= 0 {
		limit = 5
	}
	if limit > 100 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT
			s.product_id,
			p.name,
			COALESCE(SUM(s.quantity), 0)::int,
			COALESCE(SUM(s.total_amount), 0)::double precision AS revenue
		FROM sales s
		JOIN products p ON p.id = s.product_id
		GROUP BY s.product_id, p.name
		ORDER BY revenue DESC, p.name ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("top products: %w", err)
	}
	defer rows.Close()

	items := make([]domain.TopProduct, 0, limit)
	for rows.Next() {
		var item domain.TopProduct
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.SoldQty, &item.Revenue); err != nil {
			return nil, fmt.Errorf("scan top product: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top products: %w", err)
	}
	return items, nil
}

// CustomerBalances groups sale rows by customer name and reports those
// with an outstanding amount above the rounding tolerance. A customer
// with exactly one contributing sale keeps that sale's payment status;
// anything else is "mixed".
func (r *Repository) CustomerBalances(ctx context.Context) ([]domain.CustomerBalance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			TRIM(customer_name) AS customer,
			COALESCE(SUM(total_amount), 0)::double precision AS sold,
			COALESCE(SUM(amount_paid), 0)::double precision AS paid,
			(COALESCE(SUM(total_amount), 0) - COALESCE(SUM(amount_paid), 0))::double precision AS outstanding,
			COUNT(*)::int,
			MAX(created_at),
			CASE WHEN COUNT(*) = 1 THEN MIN(payment_status) ELSE 'mixed' END
		FROM sales
		WHERE customer_name IS NOT NULL AND TRIM(customer_name) <> ''
		GROUP BY TRIM(customer_name)
		HAVING COALESCE(SUM(total_amount), 0) - COALESCE(SUM(amount_paid), 0) > $1
		ORDER BY outstanding DESC, customer ASC
	`, balanceTolerance)
	if err != nil {
		return nil, fmt.Errorf("customer balances: %w", err)
	}
	defer rows.Close()

	items := make([]domain.CustomerBalance, 0)
	for rows.Next() {
		var item domain.CustomerBalance
		if err := rows.Scan(
			&item.CustomerName,
			&item.TotalSold,
			&item.TotalPaid,
			&item.Outstanding,
			&item.TransactionCount,
			&item.LastTransaction,
			&item.PaymentStatus,
		); err != nil {
			return nil, fmt.Errorf("scan customer balance: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate customer balances: %w", err)
	}
	return items, nil
}

func (r *Repository) LowStock(ctx context.Context) ([]domain.LowStockRow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			id,
			sku,
			name,
			quantity,
			reorder_level,
			(reorder_level - quantity) AS needed
		FROM products
		WHERE quantity <= reorder_level
		ORDER BY needed DESC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("low stock: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LowStockRow, 0)
	for rows.Next() {
		var item domain.LowStockRow
		if err := rows.Scan(
			&item.ProductID,
			&item.SKU,
			&item.Name,
			&item.Quantity,
			&item.ReorderLevel,
			&item.Needed,
		); err != nil {
			return nil, fmt.Errorf("scan low stock row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate low stock rows: %w", err)
	}
	return items, nil
}

type MovementListFilter struct {
	ProductID *int64
	Reason    string
	Search    string
	Limit     int
	Offset    int
}

// ListMovements is the audit trail view over the movement history,
// newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementListFilter) ([]domain.StockMovement, error) {
	limit := normalizeLimit(filter.Limit)
	offset := normalizeOffset(filter.Offset)
	search := strings.TrimSpace(filter.Search)

	query := `
		SELECT
			m.id,
			m.product_id,
			p.name,
			m.change,
			m.reason,
			m.ref_type,
			m.ref_id,
			m.actor,
			m.created_at
		FROM stock_movements m
		JOIN products p ON p.id = m.product_id
		WHERE ($1 = '' OR p.name ILIKE '%' || $1 || '%' OR m.actor ILIKE '%' || $1 || '%')
	`
	args := []any{search}
	idx := 2

	if filter.ProductID != nil {
		query += fmt.Sprintf(" AND m.product_id = $%d", idx)
		args = append(args, *filter.ProductID)
		idx++
	}
	if reason := strings.TrimSpace(filter.Reason); reason != "" {
		if !validReason(reason) {
			return nil, validationErrorf("unknown movement reason %q", reason)
		}
		query += fmt.Sprintf(" AND m.reason = $%d", idx)
		args = append(args, reason)
		idx++
	}
	query += fmt.Sprintf(" ORDER BY m.id DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	items := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var item domain.StockMovement
		if err := rows.Scan(
			&item.ID,
			&item.ProductID,
			&item.ProductName,
			&item.Change,
			&item.Reason,
			&item.RefType,
			&item.RefID,
			&item.Actor,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate movements: %w", err)
	}
	return items, nil
}

// MovementSum returns the sum of all recorded deltas for a product.
// With the reconciliation invariant intact it equals the live
// quantity.
func (r *Repository) MovementSum(ctx context.Context, productID int64) (int, error) {
	var sum int
	if err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(change), 0)::int
		FROM stock_movements
		WHERE product_id = $1
	`, productID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("movement sum for product %d: %w", productID, err)
	}
	return sum, nil
}

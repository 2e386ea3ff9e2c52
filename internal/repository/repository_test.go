package repository_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"testing"

	"bookshop/internal/db"
	"bookshop/internal/domain"
	"bookshop/internal/repository"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests run against a throwaway Postgres database and are
// skipped unless LEDGER_TEST_DATABASE_URL is set. Every test resets
// the tables it touches, so do not point this at live data.
func newTestRepo(t *testing.T) (*repository.Repository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.RunMigrations(ctx, pool); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		TRUNCATE TABLE sales, returns, stock_movements, audit_log, products
		RESTART IDENTITY CASCADE
	`); err != nil {
		t.Fatalf("reset tables: %v", err)
	}
	return repository.New(pool), pool
}

func createProduct(t *testing.T, repo *repository.Repository, sku string, sell, buy float64, opening int) int64 {
	t.Helper()
	product, err := repo.CreateProduct(context.Background(), repository.ProductCreateInput{
		SKU:             sku,
		Name:            "Book " + sku,
		Category:        "fiction",
		BuyPrice:        buy,
		SellPrice:       sell,
		ReorderLevel:    2,
		OpeningQuantity: opening,
		CreatedBy:       "tester",
	})
	if err != nil {
		t.Fatalf("create product %s: %v", sku, err)
	}
	return product.ID
}

func mustQuantity(t *testing.T, repo *repository.Repository, productID int64) int {
	t.Helper()
	quantity, err := repo.CurrentQuantity(context.Background(), productID)
	if err != nil {
		t.Fatalf("current quantity: %v", err)
	}
	return quantity
}

func assertReconciled(t *testing.T, repo *repository.Repository, productID int64) {
	t.Helper()
	sum, err := repo.MovementSum(context.Background(), productID)
	if err != nil {
		t.Fatalf("movement sum: %v", err)
	}
	quantity := mustQuantity(t, repo, productID)
	if sum != quantity {
		t.Fatalf("ledger out of balance for product %d: movements sum to %d, quantity is %d", productID, sum, quantity)
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestLedgerStaysReconciled(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	productID := createProduct(t, repo, "978-0100", 500, 400, 10)
	assertReconciled(t, repo, productID)

	if _, err := repo.ReceiveStock(ctx, []domain.ReceiptLineInput{
		{ProductID: productID, Quantity: 5},
	}, "clerk"); err != nil {
		t.Fatalf("receive stock: %v", err)
	}

	if _, err := repo.RecordSale(ctx, domain.SaleInput{
		Lines:  []domain.SaleLineInput{{ProductID: productID, Quantity: 3}},
		SoldBy: "clerk",
	}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	if _, err := repo.RecordReturn(ctx, domain.ReturnInput{
		ProductID:   productID,
		Quantity:    1,
		ProcessedBy: "clerk",
	}); err != nil {
		t.Fatalf("record return: %v", err)
	}

	if _, err := repo.ApplyMovement(ctx, productID, -2, domain.MovementAdjustment, "manual_adjustment", "", "clerk"); err != nil {
		t.Fatalf("adjust stock: %v", err)
	}

	if got := mustQuantity(t, repo, productID); got != 11 {
		t.Fatalf("expected quantity 11 after op sequence, got %d", got)
	}
	assertReconciled(t, repo, productID)
}

func TestSaleChecksStockAcrossLines(t *testing.T) {
	repo, pool := newTestRepo(t)
	ctx := context.Background()

	productID := createProduct(t, repo, "978-0200", 500, 400, 10)

	// Two lines for the same product demand 11 against 10 on hand.
	// Each line alone would pass; the aggregate must not.
	_, err := repo.RecordSale(ctx, domain.SaleInput{
		Lines: []domain.SaleLineInput{
			{ProductID: productID, Quantity: 6},
			{ProductID: productID, Quantity: 5},
		},
		SoldBy: "clerk",
	})
	var stockErr *repository.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if stockErr.Requested != 11 || stockErr.Available != 10 {
		t.Fatalf("unexpected stock error detail: %+v", stockErr)
	}

	if got := mustQuantity(t, repo, productID); got != 10 {
		t.Fatalf("rejected sale changed quantity to %d", got)
	}
	var saleMovements int
	if err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM stock_movements WHERE product_id = $1 AND reason = 'sale'
	`, productID).Scan(&saleMovements); err != nil {
		t.Fatalf("count sale movements: %v", err)
	}
	if saleMovements != 0 {
		t.Fatalf("rejected sale left %d sale movements behind", saleMovements)
	}
}

func TestReceiveStockBatchIsAtomic(t *testing.T) {
	repo, pool := newTestRepo(t)
	ctx := context.Background()

	first := createProduct(t, repo, "978-0300", 500, 400, 0)
	second := createProduct(t, repo, "978-0301", 700, 550, 0)

	_, err := repo.ReceiveStock(ctx, []domain.ReceiptLineInput{
		{ProductID: first, Quantity: 4},
		{ProductID: 999999, Quantity: 2},
		{ProductID: second, Quantity: 3},
	}, "clerk")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found for unknown product in batch, got %v", err)
	}

	if got := mustQuantity(t, repo, first); got != 0 {
		t.Fatalf("failed batch changed first product quantity to %d", got)
	}
	if got := mustQuantity(t, repo, second); got != 0 {
		t.Fatalf("failed batch changed second product quantity to %d", got)
	}
	var receipts int
	if err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM stock_movements WHERE reason = 'receipt' AND ref_type = 'stock_receipt'
	`).Scan(&receipts); err != nil {
		t.Fatalf("count receipt movements: %v", err)
	}
	if receipts != 0 {
		t.Fatalf("failed batch left %d receipt movements behind", receipts)
	}
}

func TestSalePricingAndReceipt(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	productID := createProduct(t, repo, "978-0400", 1000, 700, 10)

	receipt, err := repo.RecordSale(ctx, domain.SaleInput{
		Lines: []domain.SaleLineInput{
			{ProductID: productID, Quantity: 3, DiscountType: domain.DiscountPercentage, DiscountValue: 10},
		},
		SoldBy: "clerk",
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}

	if !approx(receipt.Subtotal, 3000) || !approx(receipt.TotalDiscount, 300) {
		t.Fatalf("unexpected subtotal/discount: %+v", receipt)
	}
	if !approx(receipt.GrandTotal, 2700) {
		t.Fatalf("expected grand total 2700, got %v", receipt.GrandTotal)
	}
	// Profit uses the discounted price: 2700 - 3*700.
	if !approx(receipt.TotalProfit, 600) {
		t.Fatalf("expected profit 600, got %v", receipt.TotalProfit)
	}

	lines, err := repo.GetSalesByTransaction(ctx, receipt.TransactionID)
	if err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 stored line, got %d", len(lines))
	}
	if !approx(lines[0].TotalAmount, 2700) || !approx(lines[0].AmountPaid, 2700) {
		t.Fatalf("stored line totals wrong: %+v", lines[0])
	}
	if got := mustQuantity(t, repo, productID); got != 7 {
		t.Fatalf("expected quantity 7 after sale, got %d", got)
	}
	assertReconciled(t, repo, productID)
}

func TestReturnNetsSaleToZero(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	productID := createProduct(t, repo, "978-0500", 500, 400, 5)

	if _, err := repo.RecordSale(ctx, domain.SaleInput{
		Lines:  []domain.SaleLineInput{{ProductID: productID, Quantity: 2}},
		SoldBy: "clerk",
	}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	receipt, err := repo.RecordReturn(ctx, domain.ReturnInput{
		ProductID:   productID,
		Quantity:    2,
		Reason:      "damaged",
		ProcessedBy: "clerk",
	})
	if err != nil {
		t.Fatalf("record return: %v", err)
	}
	if !approx(receipt.GrandTotal, -1000) || !approx(receipt.TotalProfit, -200) {
		t.Fatalf("unexpected return receipt: %+v", receipt)
	}

	totals, err := repo.DashboardTotals(ctx)
	if err != nil {
		t.Fatalf("dashboard totals: %v", err)
	}
	if !approx(totals.TotalSales, 0) || !approx(totals.TotalProfit, 0) {
		t.Fatalf("full return should net totals to zero, got %+v", totals)
	}
	if got := mustQuantity(t, repo, productID); got != 5 {
		t.Fatalf("expected stock restored to 5, got %d", got)
	}
	assertReconciled(t, repo, productID)
}

func TestDeleteSaleRestoresStockExactlyOnce(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	productID := createProduct(t, repo, "978-0600", 500, 400, 10)

	receipt, err := repo.RecordSale(ctx, domain.SaleInput{
		Lines:  []domain.SaleLineInput{{ProductID: productID, Quantity: 4}},
		SoldBy: "clerk",
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	lines, err := repo.GetSalesByTransaction(ctx, receipt.TransactionID)
	if err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	saleID := lines[0].ID

	if err := repo.DeleteSale(ctx, saleID, "manager"); err != nil {
		t.Fatalf("delete sale: %v", err)
	}
	if got := mustQuantity(t, repo, productID); got != 10 {
		t.Fatalf("expected quantity back to 10, got %d", got)
	}

	if err := repo.DeleteSale(ctx, saleID, "manager"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("second delete must report not found, got %v", err)
	}
	if got := mustQuantity(t, repo, productID); got != 10 {
		t.Fatalf("second delete changed quantity to %d", got)
	}
	assertReconciled(t, repo, productID)
}

func TestDeleteReturnReversesRefund(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	productID := createProduct(t, repo, "978-0700", 500, 400, 5)

	if _, err := repo.RecordSale(ctx, domain.SaleInput{
		Lines:  []domain.SaleLineInput{{ProductID: productID, Quantity: 2}},
		SoldBy: "clerk",
	}); err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if _, err := repo.RecordReturn(ctx, domain.ReturnInput{
		ProductID:   productID,
		Quantity:    2,
		ProcessedBy: "clerk",
	}); err != nil {
		t.Fatalf("record return: %v", err)
	}

	returns, err := repo.ListReturns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list returns: %v", err)
	}
	if len(returns) != 1 {
		t.Fatalf("expected 1 return, got %d", len(returns))
	}

	if err := repo.DeleteReturn(ctx, returns[0].ID, "manager"); err != nil {
		t.Fatalf("delete return: %v", err)
	}

	totals, err := repo.DashboardTotals(ctx)
	if err != nil {
		t.Fatalf("dashboard totals: %v", err)
	}
	if !approx(totals.TotalSales, 1000) || !approx(totals.TotalProfit, 200) {
		t.Fatalf("reversal should restore sale totals, got %+v", totals)
	}
	if got := mustQuantity(t, repo, productID); got != 3 {
		t.Fatalf("expected quantity 3 after reversal, got %d", got)
	}

	if err := repo.DeleteReturn(ctx, returns[0].ID, "manager"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("second delete must report not found, got %v", err)
	}
	assertReconciled(t, repo, productID)
}

func TestCustomerBalancesIgnoreRoundingDust(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	productID := createProduct(t, repo, "978-0800", 1000, 700, 20)

	sell := func(customer string, paid float64) {
		t.Helper()
		name := customer
		if _, err := repo.RecordSale(ctx, domain.SaleInput{
			Lines:         []domain.SaleLineInput{{ProductID: productID, Quantity: 1}},
			SoldBy:        "clerk",
			CustomerName:  &name,
			PaymentStatus: "partial",
			AmountPaid:    &paid,
		}); err != nil {
			t.Fatalf("record sale for %s: %v", customer, err)
		}
	}

	sell("Dust Customer", 999.995)
	sell("Short Customer", 999.98)

	balances, err := repo.CustomerBalances(ctx)
	if err != nil {
		t.Fatalf("customer balances: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("expected exactly 1 outstanding customer, got %d: %+v", len(balances), balances)
	}
	balance := balances[0]
	if balance.CustomerName != "Short Customer" {
		t.Fatalf("wrong customer flagged: %+v", balance)
	}
	if !approx(balance.Outstanding, 0.02) {
		t.Fatalf("expected outstanding 0.02, got %v", balance.Outstanding)
	}
	if balance.PaymentStatus != "partial" {
		t.Fatalf("single-sale customer should keep its payment status, got %q", balance.PaymentStatus)
	}
}

func TestCustomerBalancesTrimNames(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	productID := createProduct(t, repo, "978-0850", 1000, 700, 20)

	zero := 0.0
	for _, name := range []string{"Ada Lovelace", "  Ada Lovelace  "} {
		customer := name
		if _, err := repo.RecordSale(ctx, domain.SaleInput{
			Lines:         []domain.SaleLineInput{{ProductID: productID, Quantity: 1}},
			SoldBy:        "clerk",
			CustomerName:  &customer,
			PaymentStatus: "pending",
			AmountPaid:    &zero,
		}); err != nil {
			t.Fatalf("record sale for %q: %v", name, err)
		}
	}

	balances, err := repo.CustomerBalances(ctx)
	if err != nil {
		t.Fatalf("customer balances: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("whitespace variants should group as one customer, got %d", len(balances))
	}
	balance := balances[0]
	if balance.TransactionCount != 2 || !approx(balance.TotalSold, 2000) {
		t.Fatalf("unexpected grouped balance: %+v", balance)
	}
}

func TestLowStockAndTopProducts(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	lowID := createProduct(t, repo, "978-0900", 500, 400, 2)
	busyID := createProduct(t, repo, "978-0901", 1000, 700, 20)

	if _, err := repo.RecordSale(ctx, domain.SaleInput{
		Lines:  []domain.SaleLineInput{{ProductID: busyID, Quantity: 5}},
		SoldBy: "clerk",
	}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	low, err := repo.LowStock(ctx)
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	if len(low) != 1 || low[0].ProductID != lowID {
		t.Fatalf("expected only the low product flagged, got %+v", low)
	}

	top, err := repo.TopProducts(ctx, 5)
	if err != nil {
		t.Fatalf("top products: %v", err)
	}
	if len(top) != 1 || top[0].ProductID != busyID {
		t.Fatalf("unexpected top products: %+v", top)
	}
	if top[0].SoldQty != 5 || !approx(top[0].Revenue, 5000) {
		t.Fatalf("unexpected top product figures: %+v", top[0])
	}
}

func TestMovementTrailFilters(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	productID := createProduct(t, repo, "978-1000", 500, 400, 10)
	if _, err := repo.RecordSale(ctx, domain.SaleInput{
		Lines:  []domain.SaleLineInput{{ProductID: productID, Quantity: 2}},
		SoldBy: "clerk",
	}); err != nil {
		t.Fatalf("record sale: %v", err)
	}

	movements, err := repo.ListMovements(ctx, repository.MovementListFilter{
		ProductID: &productID,
		Reason:    domain.MovementSale,
	})
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected 1 sale movement, got %d", len(movements))
	}
	if movements[0].Change != -2 || movements[0].Actor != "clerk" {
		t.Fatalf("unexpected movement: %+v", movements[0])
	}

	if _, err := repo.ListMovements(ctx, repository.MovementListFilter{Reason: "teleport"}); !errors.Is(err, repository.ErrValidation) {
		t.Fatalf("unknown reason must be a validation error, got %v", err)
	}
}

func TestImportCatalogUpsert(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	existing := createProduct(t, repo, "978-1100", 500, 400, 7)

	reorder := 4
	result, err := repo.ImportCatalog(ctx, []domain.CatalogImportRow{
		{SKU: "978-1100", Name: "Renamed Book", Category: "classics", BuyPrice: 450, SellPrice: 600, Quantity: 99},
		{SKU: "978-1101", Name: "Fresh Book", BuyPrice: 300, SellPrice: 500, Quantity: 6, ReorderLevel: &reorder},
	}, "importer")
	if err != nil {
		t.Fatalf("import catalog: %v", err)
	}
	if result.Created != 1 || result.Updated != 1 {
		t.Fatalf("unexpected import result: %+v", result)
	}

	// Existing products keep their ledger quantity; the workbook
	// quantity only seeds brand new rows.
	if got := mustQuantity(t, repo, existing); got != 7 {
		t.Fatalf("import changed existing quantity to %d", got)
	}
	updated, err := repo.GetProductByID(ctx, existing)
	if err != nil {
		t.Fatalf("reload existing: %v", err)
	}
	if updated.Name != "Renamed Book" || !approx(updated.SellPrice, 600) {
		t.Fatalf("catalog fields not refreshed: %+v", updated)
	}

	fresh, err := repo.ListProducts(ctx, repository.ProductListFilter{Search: "Fresh Book"})
	if err != nil {
		t.Fatalf("find imported product: %v", err)
	}
	if len(fresh) != 1 || fresh[0].Quantity != 6 {
		t.Fatalf("imported product missing or wrong quantity: %+v", fresh)
	}
	assertReconciled(t, repo, fresh[0].ID)
}

func TestDuplicateSKURejected(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	createProduct(t, repo, "978-1200", 500, 400, 1)
	_, err := repo.CreateProduct(ctx, repository.ProductCreateInput{
		SKU:       "978-1200",
		Name:      "Duplicate",
		SellPrice: 100,
		CreatedBy: "tester",
	})
	if !errors.Is(err, repository.ErrValidation) {
		t.Fatalf("duplicate sku must be a validation error, got %v", err)
	}
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "sku") {
		t.Fatalf("error should mention sku, got %v", err)
	}
}

func TestAuditTrailRecordsActions(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	actor := "manager"
	for i := 0; i < 3; i++ {
		if err := repo.LogAction(ctx, &actor, "sale", fmt.Sprintf("Recorded sale %d", i), "-"); err != nil {
			t.Fatalf("log action: %v", err)
		}
	}

	entries, err := repo.ListAuditEntries(ctx, 10, 0, "")
	if err != nil {
		t.Fatalf("list audit entries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Actor == nil || *entries[0].Actor != "manager" {
		t.Fatalf("actor not stored: %+v", entries[0])
	}

	count, err := repo.CountAuditEntries(ctx, "sale 1")
	if err != nil {
		t.Fatalf("count audit entries: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected search to match 1 entry, got %d", count)
	}
}

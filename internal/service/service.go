package service

import (
	"context"
	"fmt"
	"strings"

	"bookshop/internal/domain"
	"bookshop/internal/repository"

	"github.com/sirupsen/logrus"
)

// Service validates and orchestrates ledger operations. All invariant
// enforcement lives in the repository transactions; this layer trims
// input, fans out to the store, and records operator audit entries
// after successful writes.
type Service struct {
	repo *repository.Repository
	log  *logrus.Logger
}

func New(repo *repository.Repository, log *logrus.Logger) *Service {
	return &Service{repo: repo, log: log}
}

func (s *Service) ListProducts(ctx context.Context, search string, limit, offset int, lowStockOnly bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, repository.ProductListFilter{
		Search:       search,
		Limit:        limit,
		Offset:       offset,
		LowStockOnly: lowStockOnly,
	})
}

func (s *Service) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return s.repo.GetProductByID(ctx, id)
}

func (s *Service) CurrentQuantity(ctx context.Context, id int64) (int, error) {
	return s.repo.CurrentQuantity(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, input repository.ProductCreateInput) (domain.Product, error) {
	product, err := s.repo.CreateProduct(ctx, input)
	if err != nil {
		return domain.Product{}, err
	}
	s.audit(ctx, &input.CreatedBy, "product", "Created product",
		fmt.Sprintf("sku=%s name=%s opening_quantity=%d", product.SKU, product.Name, input.OpeningQuantity))
	return product, nil
}

func (s *Service) PatchProduct(ctx context.Context, id int64, input repository.ProductPatchInput) (*domain.Product, error) {
	return s.repo.PatchProduct(ctx, id, input)
}

func (s *Service) DeleteProduct(ctx context.Context, id int64, deletedBy string) error {
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, &deletedBy, "product", "Deleted product", fmt.Sprintf("product_id=%d", id))
	return nil
}

func (s *Service) ReceiveStock(ctx context.Context, lines []domain.ReceiptLineInput, receivedBy string) (string, error) {
	batchID, err := s.repo.ReceiveStock(ctx, lines, receivedBy)
	if err != nil {
		return "", err
	}
	s.audit(ctx, &receivedBy, "receipt", "Received stock",
		fmt.Sprintf("batch=%s lines=%d", batchID, len(lines)))
	return batchID, nil
}

func (s *Service) RecordSale(ctx context.Context, input domain.SaleInput) (*domain.Receipt, error) {
	receipt, err := s.repo.RecordSale(ctx, input)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, &input.SoldBy, "sale", "Recorded sale",
		fmt.Sprintf("transaction=%s lines=%d total=%.2f", receipt.TransactionID, len(receipt.Lines), receipt.GrandTotal))
	return receipt, nil
}

func (s *Service) PreviewSale(ctx context.Context, input domain.SaleInput) (*domain.Receipt, error) {
	return s.repo.PreviewSale(ctx, input)
}

func (s *Service) RecordReturn(ctx context.Context, input domain.ReturnInput) (*domain.Receipt, error) {
	receipt, err := s.repo.RecordReturn(ctx, input)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, &input.ProcessedBy, "return", "Recorded return",
		fmt.Sprintf("product_id=%d quantity=%d refund=%.2f", input.ProductID, input.Quantity, -receipt.GrandTotal))
	return receipt, nil
}

func (s *Service) DeleteSale(ctx context.Context, saleID int64, deletedBy string) error {
	if err := s.repo.DeleteSale(ctx, saleID, deletedBy); err != nil {
		return err
	}
	s.audit(ctx, &deletedBy, "sale", "Deleted sale", fmt.Sprintf("sale_id=%d", saleID))
	return nil
}

func (s *Service) DeleteReturn(ctx context.Context, returnID int64, deletedBy string) error {
	if err := s.repo.DeleteReturn(ctx, returnID, deletedBy); err != nil {
		return err
	}
	s.audit(ctx, &deletedBy, "return", "Deleted return", fmt.Sprintf("return_id=%d", returnID))
	return nil
}

func (s *Service) AdjustStock(ctx context.Context, productID int64, delta int, actor, note string) (int64, error) {
	movementID, err := s.repo.ApplyMovement(ctx, productID, delta, domain.MovementAdjustment, "manual_adjustment", note, actor)
	if err != nil {
		return 0, err
	}
	s.audit(ctx, &actor, "adjustment", "Adjusted stock",
		fmt.Sprintf("product_id=%d delta=%d movement=%d", productID, delta, movementID))
	return movementID, nil
}

func (s *Service) ImportCatalog(ctx context.Context, rows []domain.CatalogImportRow, actor string) (domain.CatalogImportResult, error) {
	result, err := s.repo.ImportCatalog(ctx, rows, actor)
	if err != nil {
		return domain.CatalogImportResult{}, err
	}
	s.audit(ctx, &actor, "import", "Imported catalog",
		fmt.Sprintf("created=%d updated=%d", result.Created, result.Updated))
	return result, nil
}

func (s *Service) DashboardTotals(ctx context.Context) (domain.DashboardTotals, error) {
	return s.repo.DashboardTotals(ctx)
}

func (s *Service) TopProducts(ctx context.Context, limit int) ([]domain.TopProduct, error) {
	return s.repo.TopProducts(ctx, limit)
}

func (s *Service) CustomerBalances(ctx context.Context) ([]domain.CustomerBalance, error) {
	return s.repo.CustomerBalances(ctx)
}

func (s *Service) LowStock(ctx context.Context) ([]domain.LowStockRow, error) {
	return s.repo.LowStock(ctx)
}

func (s *Service) ListMovements(ctx context.Context, filter repository.MovementListFilter) ([]domain.StockMovement, error) {
	return s.repo.ListMovements(ctx, filter)
}

func (s *Service) RecentSales(ctx context.Context, limit int) ([]domain.SaleLine, error) {
	return s.repo.RecentSales(ctx, limit)
}

func (s *Service) GetSalesByTransaction(ctx context.Context, transactionID string) ([]domain.SaleLine, error) {
	return s.repo.GetSalesByTransaction(ctx, transactionID)
}

func (s *Service) ListReturns(ctx context.Context, limit, offset int) ([]domain.ReturnRecord, error) {
	return s.repo.ListReturns(ctx, limit, offset)
}

func (s *Service) ListAuditEntries(ctx context.Context, limit, offset int, search string) ([]domain.AuditEntry, error) {
	return s.repo.ListAuditEntries(ctx, limit, offset, search)
}

func (s *Service) CountAuditEntries(ctx context.Context, search string) (int, error) {
	return s.repo.CountAuditEntries(ctx, search)
}

// audit records an operator-history entry after a successful write.
// Failures are logged and swallowed; the ledger write already
// committed and must not be reported as failed.
func (s *Service) audit(ctx context.Context, actor *string, actionType, title, details string) {
	var actorValue *string
	if actor != nil {
		if v := strings.TrimSpace(*actor); v != "" {
			actorValue = &v
		}
	}
	if err := s.repo.LogAction(ctx, actorValue, actionType, title, details); err != nil {
		s.log.WithFields(logrus.Fields{
			"action_type": actionType,
			"title":       title,
		}).WithError(err).Warn("audit entry not recorded")
	}
}

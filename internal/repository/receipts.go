package repository

import (
	"context"
	"fmt"
	"strings"

	"bookshop/internal/domain"

	"github.com/google/uuid"
)

// ReceiveStock applies a batch of positive stock movements as one
// transaction. An unknown product anywhere in the batch aborts the
// whole receipt with zero movements applied.
func (r *Repository) ReceiveStock(
	ctx context.Context,
	lines []domain.ReceiptLineInput,
	receivedBy string,
) (string, error) {
	receivedBy = strings.TrimSpace(receivedBy)
	if receivedBy == "" {
		return "", validationErrorf("received_by is required")
	}
	if len(lines) == 0 {
		return "", validationErrorf("receipt batch is empty")
	}
	for _, line := range lines {
		if line.ProductID <= 0 {
			return "", validationErrorf("invalid product id %d", line.ProductID)
		}
		if line.Quantity <= 0 {
			return "", validationErrorf("quantity must be positive for product %d", line.ProductID)
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin receipt tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batchID := uuid.NewString()
	for _, line := range lines {
		if _, err := applyMovementTx(ctx, tx, movement{
			ProductID: line.ProductID,
			Change:    line.Quantity,
			Reason:    domain.MovementReceipt,
			RefType:   "stock_receipt",
			RefID:     batchID,
			Actor:     receivedBy,
		}); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit receipt tx: %w", err)
	}
	return batchID, nil
}

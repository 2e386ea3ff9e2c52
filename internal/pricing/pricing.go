// Package pricing computes per-line money figures for sale
// transactions. All arithmetic runs on decimals and is rounded to two
// places before leaving the package, so aggregate queries over stored
// rows add up without drift.
package pricing

import (
	"fmt"

	"bookshop/internal/domain"

	"github.com/shopspring/decimal"
)

type LineQuote struct {
	OriginalTotal  float64
	DiscountAmount float64
	FinalTotal     float64
	FinalUnitPrice float64
	Profit         float64
}

// QuoteLine prices one sale line. The discount is either a percentage
// of the original total or a flat amount clamped to the original total;
// it never produces a negative final total.
func QuoteLine(sellPrice, buyPrice float64, quantity int, discountType string, discountValue float64) (LineQuote, error) {
	if quantity <= 0 {
		return LineQuote{}, fmt.Errorf("quantity must be positive")
	}
	if sellPrice < 0 || buyPrice < 0 {
		return LineQuote{}, fmt.Errorf("prices cannot be negative")
	}

	qty := decimal.NewFromInt(int64(quantity))
	sell := decimal.NewFromFloat(sellPrice)
	buy := decimal.NewFromFloat(buyPrice)
	original := sell.Mul(qty)

	var discount decimal.Decimal
	switch discountType {
	case "", domain.DiscountNone:
		discount = decimal.Zero
	case domain.DiscountPercentage:
		if discountValue < 0 || discountValue > 100 {
			return LineQuote{}, fmt.Errorf("discount percentage must be between 0 and 100")
		}
		discount = original.Mul(decimal.NewFromFloat(discountValue)).Div(decimal.NewFromInt(100))
	case domain.DiscountAmount:
		if discountValue < 0 {
			return LineQuote{}, fmt.Errorf("discount amount cannot be negative")
		}
		discount = decimal.NewFromFloat(discountValue)
		if discount.GreaterThan(original) {
			discount = original
		}
	default:
		return LineQuote{}, fmt.Errorf("unknown discount type %q", discountType)
	}

	discount = discount.Round(2)
	finalTotal := original.Sub(discount)
	finalUnit := finalTotal.Div(qty).Round(2)
	profit := finalUnit.Sub(buy).Mul(qty).Round(2)

	quote := LineQuote{}
	quote.OriginalTotal, _ = original.Round(2).Float64()
	quote.DiscountAmount, _ = discount.Float64()
	quote.FinalTotal, _ = finalTotal.Round(2).Float64()
	quote.FinalUnitPrice, _ = finalUnit.Float64()
	quote.Profit, _ = profit.Float64()
	return quote, nil
}

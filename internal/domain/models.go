package domain

import "time"

const (
	MovementReceipt    = "receipt"
	MovementSale       = "sale"
	MovementReturn     = "return"
	MovementAdjustment = "adjustment"
)

const (
	DiscountNone       = "none"
	DiscountPercentage = "percentage"
	DiscountAmount     = "amount"
)

type Product struct {
	ID           int64     `json:"id"`
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	BuyPrice     float64   `json:"buy_price"`
	SellPrice    float64   `json:"sell_price"`
	Quantity     int       `json:"quantity"`
	ReorderLevel int       `json:"reorder_level"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StockMovement is an immutable signed quantity delta applied to one
// product. The sum of all movements for a product equals its live
// quantity.
type StockMovement struct {
	ID          int64     `json:"id"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	Change      int       `json:"change"`
	Reason      string    `json:"reason"`
	RefType     *string   `json:"ref_type,omitempty"`
	RefID       *string   `json:"ref_id,omitempty"`
	Actor       string    `json:"actor"`
	CreatedAt   time.Time `json:"created_at"`
}

// SaleLine is one product line within a sale transaction. Rows are
// never mutated after creation; negative quantities are compensating
// entries for returns and deletions.
type SaleLine struct {
	ID              int64     `json:"id"`
	TransactionID   string    `json:"transaction_id"`
	ProductID       int64     `json:"product_id"`
	ProductName     string    `json:"product_name,omitempty"`
	Quantity        int       `json:"quantity"`
	UnitPrice       float64   `json:"unit_price"`
	BuyPrice        float64   `json:"buy_price"`
	DiscountAmount  float64   `json:"discount_amount"`
	DiscountPercent float64   `json:"discount_percent"`
	OriginalPrice   float64   `json:"original_price"`
	FinalPrice      float64   `json:"final_price"`
	TotalAmount     float64   `json:"total_amount"`
	Profit          float64   `json:"profit"`
	PaymentMethod   string    `json:"payment_method"`
	SoldBy          string    `json:"sold_by"`
	CustomerName    *string   `json:"customer_name,omitempty"`
	PaymentStatus   string    `json:"payment_status"`
	AmountPaid      float64   `json:"amount_paid"`
	CreatedAt       time.Time `json:"created_at"`
}

type ReturnRecord struct {
	ID           int64     `json:"id"`
	SaleID       *int64    `json:"sale_id,omitempty"`
	ProductID    int64     `json:"product_id"`
	ProductName  string    `json:"product_name,omitempty"`
	Quantity     int       `json:"quantity"`
	UnitPrice    float64   `json:"unit_price"`
	TotalRefund  float64   `json:"total_refund"`
	Reason       string    `json:"reason"`
	Condition    string    `json:"condition"`
	RefundMethod string    `json:"refund_method"`
	ProcessedBy  string    `json:"processed_by"`
	Notes        *string   `json:"notes,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

type ReceiptLineInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type SaleLineInput struct {
	ProductID     int64   `json:"product_id"`
	Quantity      int     `json:"quantity"`
	DiscountType  string  `json:"discount_type"`
	DiscountValue float64 `json:"discount_value"`
}

type SaleInput struct {
	Lines         []SaleLineInput `json:"lines"`
	PaymentMethod string          `json:"payment_method"`
	SoldBy        string          `json:"sold_by"`
	CustomerName  *string         `json:"customer_name,omitempty"`
	PaymentStatus string          `json:"payment_status"`
	AmountPaid    *float64        `json:"amount_paid,omitempty"`
}

type ReturnInput struct {
	ProductID    int64   `json:"product_id"`
	Quantity     int     `json:"quantity"`
	Condition    string  `json:"condition"`
	Reason       string  `json:"reason"`
	RefundMethod string  `json:"refund_method"`
	ProcessedBy  string  `json:"processed_by"`
	SaleID       *int64  `json:"sale_id,omitempty"`
	Notes        *string `json:"notes,omitempty"`
}

// Receipt is the value object returned by the transaction processors.
// It is display state only; the ledger rows are the source of truth.
type Receipt struct {
	TransactionID string        `json:"transaction_id"`
	Lines         []ReceiptLine `json:"lines"`
	Subtotal      float64       `json:"subtotal"`
	TotalDiscount float64       `json:"total_discount"`
	GrandTotal    float64       `json:"grand_total"`
	TotalProfit   float64       `json:"total_profit"`
	CreatedAt     time.Time     `json:"created_at"`
}

type ReceiptLine struct {
	ProductID      int64   `json:"product_id"`
	ProductName    string  `json:"product_name"`
	Quantity       int     `json:"quantity"`
	UnitPrice      float64 `json:"unit_price"`
	OriginalTotal  float64 `json:"original_total"`
	DiscountAmount float64 `json:"discount_amount"`
	FinalUnitPrice float64 `json:"final_unit_price"`
	TotalAmount    float64 `json:"total_amount"`
	Profit         float64 `json:"profit"`
}

// CustomerBalance is derived from sale rows on demand, never stored.
type CustomerBalance struct {
	CustomerName     string    `json:"customer_name"`
	TotalSold        float64   `json:"total_sold"`
	TotalPaid        float64   `json:"total_paid"`
	Outstanding      float64   `json:"outstanding"`
	TransactionCount int       `json:"transaction_count"`
	LastTransaction  time.Time `json:"last_transaction"`
	PaymentStatus    string    `json:"payment_status"`
}

type DashboardTotals struct {
	TotalSales  float64 `json:"total_sales"`
	TotalProfit float64 `json:"total_profit"`
	TodaySales  float64 `json:"today_sales"`
	TodayProfit float64 `json:"today_profit"`
	YearSales   float64 `json:"year_sales"`
	YearProfit  float64 `json:"year_profit"`
}

type TopProduct struct {
	ProductID   int64   `json:"product_id"`
	ProductName string  `json:"product_name"`
	SoldQty     int     `json:"sold_qty"`
	Revenue     float64 `json:"revenue"`
}

type LowStockRow struct {
	ProductID    int64  `json:"product_id"`
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	ReorderLevel int    `json:"reorder_level"`
	Needed       int    `json:"needed"`
}

type AuditEntry struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Actor      *string   `json:"actor,omitempty"`
	ActionType string    `json:"action_type"`
	Title      string    `json:"title"`
	Details    string    `json:"details"`
}

type CatalogImportRow struct {
	SKU          string  `json:"sku"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	BuyPrice     float64 `json:"buy_price"`
	SellPrice    float64 `json:"sell_price"`
	Quantity     int     `json:"quantity"`
	ReorderLevel *int    `json:"reorder_level,omitempty"`
}

type CatalogImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

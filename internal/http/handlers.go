package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"bookshop/internal/domain"
	"bookshop/internal/excel"
	"bookshop/internal/repository"
	"bookshop/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Handler struct {
	svc *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseOptionalInt(query.Get("limit"), 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(query.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	lowStockOnly := false
	if raw := strings.TrimSpace(query.Get("low_stock")); raw != "" {
		lowStockOnly, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "low_stock must be true or false")
			return
		}
	}

	items, err := h.svc.ListProducts(r.Context(), query.Get("search"), limit, offset, lowStockOnly)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	product, err := h.svc.GetProduct(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (h *Handler) CurrentQuantity(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	quantity, err := h.svc.CurrentQuantity(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_id": id, "quantity": quantity})
}

type createProductRequest struct {
	SKU             string  `json:"sku" validate:"required"`
	Name            string  `json:"name" validate:"required"`
	Category        string  `json:"category"`
	BuyPrice        float64 `json:"buy_price" validate:"gte=0"`
	SellPrice       float64 `json:"sell_price" validate:"gte=0"`
	ReorderLevel    int     `json:"reorder_level" validate:"gte=0"`
	OpeningQuantity int     `json:"opening_quantity" validate:"gte=0"`
	CreatedBy       string  `json:"created_by"`
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.svc.CreateProduct(r.Context(), repository.ProductCreateInput{
		SKU:             req.SKU,
		Name:            req.Name,
		Category:        req.Category,
		BuyPrice:        req.BuyPrice,
		SellPrice:       req.SellPrice,
		ReorderLevel:    req.ReorderLevel,
		OpeningQuantity: req.OpeningQuantity,
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type patchProductRequest struct {
	SKU          *string  `json:"sku"`
	Name         *string  `json:"name"`
	Category     *string  `json:"category"`
	BuyPrice     *float64 `json:"buy_price"`
	SellPrice    *float64 `json:"sell_price"`
	ReorderLevel *int     `json:"reorder_level"`
}

func (h *Handler) PatchProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req patchProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := h.svc.PatchProduct(r.Context(), id, repository.ProductPatchInput{
		SKU:          req.SKU,
		Name:         req.Name,
		Category:     req.Category,
		BuyPrice:     req.BuyPrice,
		SellPrice:    req.SellPrice,
		ReorderLevel: req.ReorderLevel,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.DeleteProduct(r.Context(), id, r.URL.Query().Get("deleted_by")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type receiptLineRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

type receiveStockRequest struct {
	ReceivedBy string               `json:"received_by" validate:"required"`
	Lines      []receiptLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req receiveStockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lines := make([]domain.ReceiptLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, domain.ReceiptLineInput{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	batchID, err := h.svc.ReceiveStock(r.Context(), lines, req.ReceivedBy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"batch_id": batchID, "lines": len(lines)})
}

type adjustStockRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Delta     int    `json:"delta" validate:"required"`
	Actor     string `json:"actor" validate:"required"`
	Note      string `json:"note"`
}

func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	movementID, err := h.svc.AdjustStock(r.Context(), req.ProductID, req.Delta, req.Actor, req.Note)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"movement_id": movementID})
}

func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseOptionalInt(query.Get("limit"), 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(query.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	productID, err := parseOptionalInt64(query.Get("product_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.ListMovements(r.Context(), repository.MovementListFilter{
		ProductID: productID,
		Reason:    query.Get("reason"),
		Search:    query.Get("search"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.LowStock(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

type saleLineRequest struct {
	ProductID     int64   `json:"product_id" validate:"required,gt=0"`
	Quantity      int     `json:"quantity" validate:"required,gt=0"`
	DiscountType  string  `json:"discount_type" validate:"omitempty,oneof=none percentage amount"`
	DiscountValue float64 `json:"discount_value" validate:"gte=0"`
}

type recordSaleRequest struct {
	Lines         []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
	PaymentMethod string            `json:"payment_method"`
	SoldBy        string            `json:"sold_by" validate:"required"`
	CustomerName  *string           `json:"customer_name"`
	PaymentStatus string            `json:"payment_status"`
	AmountPaid    *float64          `json:"amount_paid" validate:"omitempty,gte=0"`
}

func (req recordSaleRequest) toInput() domain.SaleInput {
	lines := make([]domain.SaleLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, domain.SaleLineInput{
			ProductID:     line.ProductID,
			Quantity:      line.Quantity,
			DiscountType:  line.DiscountType,
			DiscountValue: line.DiscountValue,
		})
	}
	return domain.SaleInput{
		Lines:         lines,
		PaymentMethod: req.PaymentMethod,
		SoldBy:        req.SoldBy,
		CustomerName:  req.CustomerName,
		PaymentStatus: req.PaymentStatus,
		AmountPaid:    req.AmountPaid,
	}
}

func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req recordSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := h.svc.RecordSale(r.Context(), req.toInput())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) PreviewSale(w http.ResponseWriter, r *http.Request) {
	var req recordSaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "lines are required")
		return
	}
	receipt, err := h.svc.PreviewSale(r.Context(), req.toInput())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *Handler) RecentSales(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.RecentSales(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) GetSalesByTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := strings.TrimSpace(chi.URLParam(r, "transactionID"))
	if transactionID == "" {
		writeError(w, http.StatusBadRequest, "transaction id is required")
		return
	}
	items, err := h.svc.GetSalesByTransaction(r.Context(), transactionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.DeleteSale(r.Context(), id, r.URL.Query().Get("deleted_by")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordReturnRequest struct {
	ProductID    int64   `json:"product_id" validate:"required,gt=0"`
	Quantity     int     `json:"quantity" validate:"required,gt=0"`
	Condition    string  `json:"condition"`
	Reason       string  `json:"reason"`
	RefundMethod string  `json:"refund_method"`
	ProcessedBy  string  `json:"processed_by" validate:"required"`
	SaleID       *int64  `json:"sale_id" validate:"omitempty,gt=0"`
	Notes        *string `json:"notes"`
}

func (h *Handler) RecordReturn(w http.ResponseWriter, r *http.Request) {
	var req recordReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	receipt, err := h.svc.RecordReturn(r.Context(), domain.ReturnInput{
		ProductID:    req.ProductID,
		Quantity:     req.Quantity,
		Condition:    req.Condition,
		Reason:       req.Reason,
		RefundMethod: req.RefundMethod,
		ProcessedBy:  req.ProcessedBy,
		SaleID:       req.SaleID,
		Notes:        req.Notes,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (h *Handler) ListReturns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseOptionalInt(query.Get("limit"), 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(query.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.ListReturns(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) DeleteReturn(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.DeleteReturn(r.Context(), id, r.URL.Query().Get("deleted_by")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DashboardTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := h.svc.DashboardTotals(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (h *Handler) TopProducts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseOptionalInt(r.URL.Query().Get("limit"), 5)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.TopProducts(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) CustomerBalances(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.CustomerBalances(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) ImportCatalogExcel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	rows, err := excel.ParseCatalogRows(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.svc.ImportCatalog(r.Context(), rows, r.FormValue("actor"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, err := parseOptionalInt(query.Get("limit"), 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := parseOptionalInt(query.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := h.svc.ListAuditEntries(r.Context(), limit, offset, query.Get("search"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

func (h *Handler) CountAuditEntries(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.CountAuditEntries(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func writeServiceError(w http.ResponseWriter, err error) {
	var stockErr *repository.InsufficientStockError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      stockErr.Error(),
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func parseOptionalInt(raw string, defaultValue int) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %s", raw)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("value cannot be negative")
	}
	return parsed, nil
}

func parseOptionalInt64(raw string) (*int64, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed <= 0 {
		return nil, fmt.Errorf("invalid id value: %s", raw)
	}
	return &parsed, nil
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

func NewRouter(handler *Handler, log *logrus.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(Timeout)
	r.Use(CORS)

	r.Get("/healthz", handler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", handler.ListProducts)
		r.Get("/products/{id}", handler.GetProduct)
		r.Get("/products/{id}/quantity", handler.CurrentQuantity)
		r.Post("/products", handler.CreateProduct)
		r.Patch("/products/{id}", handler.PatchProduct)
		r.Delete("/products/{id}", handler.DeleteProduct)

		r.Post("/stock/receipts", handler.ReceiveStock)
		r.Post("/stock/adjustments", handler.AdjustStock)
		r.Get("/stock/movements", handler.ListMovements)
		r.Get("/stock/low", handler.LowStock)

		r.Post("/sales", handler.RecordSale)
		r.Post("/sales/preview", handler.PreviewSale)
		r.Get("/sales/recent", handler.RecentSales)
		r.Get("/sales/transactions/{transactionID}", handler.GetSalesByTransaction)
		r.Delete("/sales/{id}", handler.DeleteSale)

		r.Post("/returns", handler.RecordReturn)
		r.Get("/returns", handler.ListReturns)
		r.Delete("/returns/{id}", handler.DeleteReturn)

		r.Get("/dashboard/totals", handler.DashboardTotals)
		r.Get("/dashboard/top-products", handler.TopProducts)
		r.Get("/customers/balances", handler.CustomerBalances)

		r.Post("/catalog/import-excel", handler.ImportCatalogExcel)

		r.Get("/audit", handler.ListAuditEntries)
		r.Get("/audit/count", handler.CountAuditEntries)
	})

	return r
}

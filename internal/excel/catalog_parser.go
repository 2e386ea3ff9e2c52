package excel

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"bookshop/internal/domain"

	"github.com/xuri/excelize/v2"
)

var headerAliases = map[string]string{
	"sku":            "sku",
	"isbn":           "sku",
	"code":           "sku",
	"name":           "name",
	"title":          "name",
	"book":           "name",
	"book title":     "name",
	"product name":   "name",
	"category":       "category",
	"genre":          "category",
	"buy price":      "buy_price",
	"cost":           "buy_price",
	"cost price":     "buy_price",
	"purchase price": "buy_price",
	"sell price":     "sell_price",
	"price":          "sell_price",
	"sales price":    "sell_price",
	"quantity":       "quantity",
	"qty":            "quantity",
	"stock":          "quantity",
	"reorder level":  "reorder_level",
	"reorder":        "reorder_level",
	"min stock":      "reorder_level",
}

// ParseCatalogRows reads the first sheet of an xlsx workbook into
// catalog import rows. The header row is matched case-insensitively
// against common column name variants; sku and name are required.
func ParseCatalogRows(reader io.Reader) ([]domain.CatalogImportRow, error) {
	file, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("open excel file: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("excel file is empty")
	}

	colMap := mapColumns(rows[0])
	if _, ok := colMap["sku"]; !ok {
		return nil, fmt.Errorf("missing required column: sku")
	}
	if _, ok := colMap["name"]; !ok {
		return nil, fmt.Errorf("missing required column: name")
	}

	result := make([]domain.CatalogImportRow, 0, len(rows)-1)
	for index := 1; index < len(rows); index++ {
		cells := rows[index]
		sku := strings.TrimSpace(readCell(cells, colMap["sku"]))
		if sku == "" {
			continue
		}
		name := strings.TrimSpace(readCell(cells, colMap["name"]))
		if name == "" {
			return nil, fmt.Errorf("row %d has a sku but no name", index+1)
		}

		row := domain.CatalogImportRow{SKU: sku, Name: name}

		if idx, ok := colMap["category"]; ok {
			row.Category = strings.TrimSpace(readCell(cells, idx))
		}

		if idx, ok := colMap["buy_price"]; ok {
			raw := strings.TrimSpace(readCell(cells, idx))
			if raw != "" {
				parsed, err := parseFloat(raw)
				if err != nil {
					return nil, fmt.Errorf("row %d invalid buy price: %w", index+1, err)
				}
				row.BuyPrice = parsed
			}
		}

		if idx, ok := colMap["sell_price"]; ok {
			raw := strings.TrimSpace(readCell(cells, idx))
			if raw != "" {
				parsed, err := parseFloat(raw)
				if err != nil {
					return nil, fmt.Errorf("row %d invalid sell price: %w", index+1, err)
				}
				row.SellPrice = parsed
			}
		}

		if idx, ok := colMap["quantity"]; ok {
			raw := strings.TrimSpace(readCell(cells, idx))
			if raw != "" {
				parsed, err := parseInt(raw)
				if err != nil {
					return nil, fmt.Errorf("row %d invalid quantity: %w", index+1, err)
				}
				row.Quantity = parsed
			}
		}

		if idx, ok := colMap["reorder_level"]; ok {
			raw := strings.TrimSpace(readCell(cells, idx))
			if raw != "" {
				parsed, err := parseInt(raw)
				if err != nil {
					return nil, fmt.Errorf("row %d invalid reorder level: %w", index+1, err)
				}
				row.ReorderLevel = &parsed
			}
		}

		if row.BuyPrice < 0 || row.SellPrice < 0 || row.Quantity < 0 {
			return nil, fmt.Errorf("row %d has negative values", index+1)
		}

		result = append(result, row)
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("excel file has no valid data rows")
	}
	return result, nil
}

func mapColumns(header []string) map[string]int {
	mapped := make(map[string]int)
	for idx, col := range header {
		normalized := normalizeHeader(col)
		if normalized == "" {
			continue
		}
		canonical, ok := headerAliases[normalized]
		if !ok {
			continue
		}
		if _, exists := mapped[canonical]; !exists {
			mapped[canonical] = idx
		}
	}
	return mapped
}

func normalizeHeader(raw string) string {
	value := strings.TrimSpace(raw)
	value = strings.TrimPrefix(value, "\ufeff")
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

func readCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func parseInt(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("value is empty")
	}

	asFloat, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	if math.Mod(asFloat, 1) != 0 {
		return 0, fmt.Errorf("must be an integer")
	}
	return int(asFloat), nil
}

func parseFloat(raw string) (float64, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0, fmt.Errorf("value is empty")
	}
	parsed, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("not a number")
	}
	return parsed, nil
}

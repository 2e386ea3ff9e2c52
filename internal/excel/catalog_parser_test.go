package excel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func buildWorkbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	file := excelize.NewFile()
	defer file.Close()

	sheet := file.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row %d: %v", i+1, err)
		}
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return &buf
}

func TestParseCatalogRows(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"SKU", "Title", "Genre", "Buy Price", "Sell Price", "Quantity", "Reorder Level"},
		{"978-1", "The Go Programming Language", "Programming", 400, 650, 12, 3},
		{"978-2", "Dune", "Fiction", "1,200", "1,800", "5", ""},
		{"", "skipped row without sku", "", 1, 2, 3, 4},
	})

	rows, err := ParseCatalogRows(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.SKU != "978-1" || first.Name != "The Go Programming Language" {
		t.Fatalf("unexpected first row: %+v", first)
	}
	if first.Category != "Programming" || first.BuyPrice != 400 || first.SellPrice != 650 {
		t.Fatalf("unexpected first row values: %+v", first)
	}
	if first.Quantity != 12 || first.ReorderLevel == nil || *first.ReorderLevel != 3 {
		t.Fatalf("unexpected first row stock fields: %+v", first)
	}

	second := rows[1]
	if second.BuyPrice != 1200 || second.SellPrice != 1800 || second.Quantity != 5 {
		t.Fatalf("comma-formatted numbers not parsed: %+v", second)
	}
	if second.ReorderLevel != nil {
		t.Fatalf("expected nil reorder level for empty cell, got %d", *second.ReorderLevel)
	}
}

func TestParseCatalogRowsHeaderAliases(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"ISBN", "Book_Title", "  COST  ", "price", "qty"},
		{"978-9", "Neuromancer", 300, 550, 7},
	})

	rows, err := ParseCatalogRows(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.SKU != "978-9" || row.Name != "Neuromancer" {
		t.Fatalf("aliases not mapped: %+v", row)
	}
	if row.BuyPrice != 300 || row.SellPrice != 550 || row.Quantity != 7 {
		t.Fatalf("aliased numeric columns wrong: %+v", row)
	}
}

func TestParseCatalogRowsMissingRequiredColumn(t *testing.T) {
	buf := buildWorkbook(t, [][]any{
		{"Title", "Price"},
		{"Dune", 100},
	})

	if _, err := ParseCatalogRows(buf); err == nil || !strings.Contains(err.Error(), "sku") {
		t.Fatalf("expected missing sku column error, got %v", err)
	}
}

func TestParseCatalogRowsRejectsBadData(t *testing.T) {
	cases := []struct {
		name string
		rows [][]any
		want string
	}{
		{
			name: "non numeric quantity",
			rows: [][]any{
				{"SKU", "Name", "Quantity"},
				{"978-1", "Dune", "many"},
			},
			want: "invalid quantity",
		},
		{
			name: "fractional quantity",
			rows: [][]any{
				{"SKU", "Name", "Quantity"},
				{"978-1", "Dune", "2.5"},
			},
			want: "invalid quantity",
		},
		{
			name: "sku without name",
			rows: [][]any{
				{"SKU", "Name"},
				{"978-1", "  "},
			},
			want: "no name",
		},
		{
			name: "negative price",
			rows: [][]any{
				{"SKU", "Name", "Sell Price"},
				{"978-1", "Dune", -5},
			},
			want: "negative",
		},
		{
			name: "no data rows",
			rows: [][]any{
				{"SKU", "Name"},
			},
			want: "no valid data rows",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := buildWorkbook(t, tc.rows)
			_, err := ParseCatalogRows(buf)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseCatalogRowsNotAnExcelFile(t *testing.T) {
	if _, err := ParseCatalogRows(strings.NewReader("not a workbook")); err == nil {
		t.Fatal("expected error for non-xlsx input")
	}
}

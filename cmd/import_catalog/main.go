// Command import_catalog loads a catalog workbook into the products
// table. New products receive an opening receipt movement for their
// imported quantity; existing products keep their on-hand stock and
// only the catalog fields are refreshed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bookshop/internal/config"
	"bookshop/internal/db"
	"bookshop/internal/domain"
	"bookshop/internal/excel"
	"bookshop/internal/repository"
	"bookshop/internal/service"

	"github.com/sirupsen/logrus"
)

func main() {
	var (
		path  = flag.String("file", "catalog.xlsx", "path to the catalog xlsx file")
		actor = flag.String("actor", "import_catalog", "operator name recorded on import movements")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config error: %v", err)
	}
	log := config.NewLogger(cfg.LogLevel)

	rows, err := readCatalog(*path)
	if err != nil {
		log.Fatalf("read catalog: %v", err)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	svc := service.New(repository.New(pool), log)
	result, err := svc.ImportCatalog(ctx, rows, *actor)
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}

	log.WithFields(logrus.Fields{
		"rows":    len(rows),
		"created": result.Created,
		"updated": result.Updated,
	}).Info("catalog import complete")
}

func readCatalog(path string) ([]domain.CatalogImportRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	rows, err := excel.ParseCatalogRows(file)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rows, nil
}

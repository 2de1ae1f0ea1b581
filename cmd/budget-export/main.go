package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/models/reports"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/sirupsen/logrus"
)

func main() {
	budgetID := flag.Int("budget-id", 0, "Required: budget id")
	production := flag.Bool("production", false, "Export the production sheet instead of the priced budget")
	outDir := flag.String("out", ".", "Directory the workbook is written to")
	upload := flag.Bool("upload", false, "Also upload the workbook to GCS_BUCKET")
	flag.Parse()

	if *budgetID <= 0 {
		fmt.Fprintln(os.Stderr, "--budget-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()
	ctx := context.Background()

	export := reports.ExportBudgetWorkbook
	if *production {
		export = reports.ExportProductionSheet
	}
	data, filename, err := export(ctx, *budgetID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}

	path := filepath.Join(*outDir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d bytes)\n", path, len(data))

	if !*upload {
		return
	}
	objectName := fmt.Sprintf("budgets/%d/%s_%s", *budgetID, time.Now().UTC().Format("20060102T150405"), filename)
	uri, err := utils.UploadToGCS(ctx, objectName, reports.XlsxContentType, data)
	if err != nil {
		config.LogError(logger, "cmd/budget-export", "main", "UploadToGCS", objectName, err)
		fmt.Fprintf(os.Stderr, "upload failed: %v\n", err)
		os.Exit(1)
	}
	logger.WithFields(logrus.Fields{"budget_id": *budgetID, "uri": uri}).Info("budget export uploaded")
	fmt.Println(uri)
}

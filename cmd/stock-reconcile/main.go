package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/sirupsen/logrus"
)

// Compares every item's batches with its movement ledger. Exits 2 when any
// item drifted.
func main() {
	itemID := flag.Int("item-id", 0, "Optional: only this stock item")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing items and continue with the others")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()
	ctx := context.Background()

	var ids []int
	if *itemID > 0 {
		ids = []int{*itemID}
	} else if err := db.WithContext(ctx).Model(&models.StockItem{}).Order("id ASC").Pluck("id", &ids).Error; err != nil {
		fmt.Fprintf(os.Stderr, "list stock items: %v\n", err)
		os.Exit(1)
	}

	drifted := 0
	for _, id := range ids {
		rec, err := models.ReconcileStockItem(ctx, id)
		if err != nil {
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "reconcile item %d failed (skipping): %v\n", id, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "reconcile item %d failed: %v\n", id, err)
			os.Exit(1)
		}
		if rec.Consistent() {
			continue
		}
		drifted++
		logger.WithFields(logrus.Fields{
			"item_id":    id,
			"batches":    rec.BatchTotal.String(),
			"movements":  rec.MovementTotal.String(),
			"difference": rec.Difference.String(),
			"drifts":     len(rec.Drifts),
		}).Warn("stock ledger drift")
		fmt.Printf("item=%d batches=%s movements=%s difference=%s\n", id, rec.BatchTotal.String(), rec.MovementTotal.String(), rec.Difference.String())
	}

	fmt.Printf("checked=%d drifted=%d\n", len(ids), drifted)
	if drifted > 0 {
		os.Exit(2)
	}
}

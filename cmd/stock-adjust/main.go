package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/models"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func main() {
	itemID := flag.Int("item-id", 0, "Required: stock item id")
	qtyStr := flag.String("qty", "", "Required: counted physical quantity")
	justification := flag.String("justification", "", "Required: reason recorded on the adjustment movements")
	userName := flag.String("user", "inventory-count", "Optional: name recorded as the actor")
	flag.Parse()

	if *itemID <= 0 {
		fmt.Fprintln(os.Stderr, "--item-id is required")
		os.Exit(1)
	}
	if strings.TrimSpace(*justification) == "" {
		fmt.Fprintln(os.Stderr, "--justification is required")
		os.Exit(1)
	}
	qty, ok := models.ParseDecimalText(*qtyStr)
	if !ok {
		fmt.Fprintf(os.Stderr, "invalid qty %q\n", *qtyStr)
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	ctx := utils.SetUserNameInContext(context.Background(), *userName)
	result, err := models.AdjustStock(ctx, *itemID, qty, models.ActorFromContext(ctx), *justification)
	if err != nil {
		config.LogError(logger, "cmd/stock-adjust", "main", "AdjustStock", map[string]any{"item_id": *itemID, "qty": qty.String()}, err)
		fmt.Fprintf(os.Stderr, "adjust failed: %v\n", err)
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{
		"item_id":    *itemID,
		"difference": result.Difference.String(),
		"movements":  len(result.Movements),
	}).Info("stock adjusted")
	fmt.Printf("item=%d previous=%s counted=%s movements=%d\n", *itemID, result.Previous.String(), result.Counted.String(), len(result.Movements))
	if result.Shortfall.GreaterThan(decimal.Zero) {
		fmt.Printf("warning: %s could not be taken from any batch\n", result.Shortfall.String())
	}
}

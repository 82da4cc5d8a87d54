package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/payments_backend/config"
	"github.com/mmdatafocus/payments_backend/models"
)

// Lists PROCESSING ledger rows older than the threshold. These indicate a
// crashed or hung attempt (the lock lease expired but the row was never moved
// to a terminal state) and require manual investigation; nothing resolves
// them automatically.
func main() {
	olderThanMin := flag.Int("older-than-minutes", 30, "Report PROCESSING rows older than this")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ledger := models.NewWebhookEventLedger(db)
	rows, err := ledger.StuckProcessing(context.Background(), time.Duration(*olderThanMin)*time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
		os.Exit(1)
	}

	if len(rows) == 0 {
		fmt.Println("no stuck events")
		return
	}

	fmt.Printf("%-8s %-10s %-30s %-20s %-10s %s\n", "ID", "PROVIDER", "EVENT_ID", "REFERENCE", "RETRIES", "CREATED_AT")
	for _, row := range rows {
		fmt.Printf("%-8d %-10s %-30s %-20s %-10d %s\n",
			row.ID, row.Provider, row.EventId, row.ReferenceId, row.RetryCount,
			row.CreatedAt.Format(time.RFC3339))
	}
	fmt.Printf("\n%d stuck event(s)\n", len(rows))
}

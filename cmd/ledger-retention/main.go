package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/payments_backend/config"
	"github.com/mmdatafocus/payments_backend/models"
)

// One-shot retention pass over the webhook-event ledger. Deletes COMPLETED and
// FAILED rows older than the horizon; PROCESSING rows are never touched.
func main() {
	days := flag.Int("days", config.WebhookRetentionDays(), "Retention horizon in days")
	dryRun := flag.Bool("dry-run", true, "Count matching rows only (no deletes)")
	confirm := flag.String("confirm", "", "Type PURGE to proceed when dry-run=false")
	flag.Parse()

	if *days <= 0 {
		fmt.Fprintln(os.Stderr, "--days must be positive")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "PURGE" {
		fmt.Fprintln(os.Stderr, "set --confirm=PURGE to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := context.Background()
	horizon := time.Duration(*days) * 24 * time.Hour
	cutoff := time.Now().UTC().Add(-horizon)

	if *dryRun {
		var count int64
		err := db.WithContext(ctx).Model(&models.WebhookEvent{}).
			Where("status IN ? AND created_at < ?",
				[]models.WebhookEventStatus{models.WebhookEventStatusCompleted, models.WebhookEventStatusFailed}, cutoff).
			Count(&count).Error
		if err != nil {
			fmt.Fprintf(os.Stderr, "count failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("dry-run: %d terminal rows older than %s would be purged\n", count, cutoff.Format(time.RFC3339))
		return
	}

	purged, err := models.PurgeTerminalEvents(ctx, db, horizon)
	if err != nil {
		fmt.Fprintf(os.Stderr, "purge failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("purged %d rows older than %s\n", purged, cutoff.Format(time.RFC3339))
}

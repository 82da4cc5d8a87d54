package models

import (
	"log"

	"github.com/mmdatafocus/payments_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&WebhookEvent{},
		&NotificationOutbox{},
		&OrderSettlement{},
	)
	if err != nil {
		log.Fatal(err)
	}
}

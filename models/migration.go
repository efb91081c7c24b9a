package models

import (
	"log"

	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) {
	err := db.AutoMigrate(
		&Listing{},
		&PriceHistory{},
		&PipelineTier{},
		&WorkUnit{},
		&NotificationRule{}, &Notification{},
	)
	if err != nil {
		log.Fatal(err)
	}
}

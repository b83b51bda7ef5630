package db

import (
	"fmt"

	"github.com/zulandar/openhouse/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Thread{},
		&models.Checkpoint{},
		&models.ConversationTurn{},
		&models.ToolExecution{},
		&models.Property{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SampleProperties is a small listing set for demos and tests.
func SampleProperties() []models.Property {
	return []models.Property{
		{Price: 525000, Bed: 3, Bath: 2, AcreLot: 0.25, Street: "1208 Willow Bend Dr", City: "Austin", State: "Texas", ZipCode: "78745", HouseSize: 1850, Status: "for_sale"},
		{Price: 689000, Bed: 4, Bath: 3, AcreLot: 0.31, Street: "4410 Red River St", City: "Austin", State: "Texas", ZipCode: "78751", HouseSize: 2400, Status: "for_sale"},
		{Price: 375000, Bed: 2, Bath: 2, AcreLot: 0.12, Street: "77 Rainey St #1402", City: "Austin", State: "Texas", ZipCode: "78701", HouseSize: 1100, Status: "for_sale"},
		{Price: 1150000, Bed: 5, Bath: 4, AcreLot: 0.5, Street: "9 Barton Hills Dr", City: "Austin", State: "Texas", ZipCode: "78704", HouseSize: 3600, Status: "for_sale"},
		{Price: 298000, Bed: 3, Bath: 2, AcreLot: 0.18, Street: "315 Magnolia Ave", City: "Houston", State: "Texas", ZipCode: "77002", HouseSize: 1600, Status: "for_sale"},
		{Price: 449900, Bed: 4, Bath: 2, AcreLot: 0.22, Street: "2020 Heights Blvd", City: "Houston", State: "Texas", ZipCode: "77008", HouseSize: 2100, Status: "for_sale"},
		{Price: 810000, Bed: 3, Bath: 2, AcreLot: 0.1, Street: "58 Linden St", City: "Boston", State: "Massachusetts", ZipCode: "02134", HouseSize: 1500, Status: "for_sale"},
		{Price: 265000, Bed: 2, Bath: 1, AcreLot: 0.08, Street: "19 Elm Ct", City: "Portland", State: "Maine", ZipCode: "04101", HouseSize: 980, Status: "for_sale"},
		{Price: 540000, Bed: 3, Bath: 3, AcreLot: 0.2, Street: "402 Alder St", City: "Portland", State: "Oregon", ZipCode: "97205", HouseSize: 1720, Status: "for_sale"},
	}
}

// SeedProperties inserts the sample listings when the table is empty. It
// returns the number of rows inserted.
func SeedProperties(db *gorm.DB) (int, error) {
	var count int64
	if err := db.Model(&models.Property{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("db: seed properties: %w", err)
	}
	if count > 0 {
		return 0, nil
	}
	rows := SampleProperties()
	if err := db.CreateInBatches(&rows, 100).Error; err != nil {
		return 0, fmt.Errorf("db: seed properties: %w", err)
	}
	return len(rows), nil
}

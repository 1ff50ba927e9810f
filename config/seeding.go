package config

import (
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"p9e.in/incubator/models"
)

// SeedDemoData creates a starter admin account, one team and a few inventory
// items. Runs only against an empty users table so restarts are safe.
func SeedDemoData(db *gorm.DB) {
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		log.Printf("⚠️ Seed skipped, cannot count users: %v", err)
		return
	}
	if count > 0 {
		return
	}

	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "changeme"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("⚠️ Seed skipped, cannot hash password: %v", err)
		return
	}

	team := models.Team{Name: "Operations", Description: "Default operations team", IsActive: true}
	if err := db.Create(&team).Error; err != nil {
		log.Printf("⚠️ Seed failed creating team: %v", err)
		return
	}

	admin := models.User{
		Name:         "Administrator",
		Email:        "admin@example.com",
		PasswordHash: string(hash),
		Role:         models.RoleAdmin,
		TeamID:       &team.ID,
		IsActive:     true,
	}
	if err := db.Create(&admin).Error; err != nil {
		log.Printf("⚠️ Seed failed creating admin user: %v", err)
		return
	}

	items := []models.InventoryItem{
		{Name: "Laptop", Category: "electronics", Unit: "pcs", TotalQuantity: 10, AvailableQuantity: 10},
		{Name: "Whiteboard Marker", Category: "consumables", Unit: "pcs", TotalQuantity: 200, AvailableQuantity: 200, IsFrequentlyDistributed: true},
		{Name: "HDMI Cable", Category: "accessories", Unit: "pcs", TotalQuantity: 25, AvailableQuantity: 25},
	}
	for i := range items {
		if err := db.Create(&items[i]).Error; err != nil {
			log.Printf("⚠️ Seed failed creating inventory item %s: %v", items[i].Name, err)
		}
	}

	log.Println("✅ Seeded demo data (admin@example.com)")
}

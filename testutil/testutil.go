package testutil

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"p9e.in/incubator/models"
)

const testSchemaPrefix = "test_incubator"

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SetupTestDB opens a connection to the test database in a unique schema so
// tests are fully isolated from each other. The schema is dropped when the
// test finishes. Tests are skipped when no database is reachable.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	godotenv.Load("../.env")

	host := getEnv("TEST_DB_HOST", "127.0.0.1")
	port := getEnv("TEST_DB_PORT", "5432")
	user := getEnv("TEST_DB_USER", "postgres")
	password := getEnv("TEST_DB_PASSWORD", "postgres")
	dbname := getEnv("TEST_DB_NAME", "incubator_test")

	baseDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	schemaName := fmt.Sprintf("%s_%d", testSchemaPrefix, time.Now().UnixNano()%1000000)

	setupDB, err := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("test database not reachable: %v", err)
	}
	if err := setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName)).Error; err != nil {
		t.Skipf("cannot create test schema: %v", err)
	}
	sqlSetup, _ := setupDB.DB()
	sqlSetup.Close()

	// search_path in the DSN so every pooled connection uses the test schema.
	testDSN := fmt.Sprintf("%s search_path=%s", baseDSN, schemaName)
	db, err := gorm.Open(postgres.Open(testDSN), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.Team{},
		&models.Project{},
		&models.InventoryItem{},
		&models.InventoryAssignment{},
		&models.ConsumptionLog{},
		&models.InventoryTransaction{},
		&models.MaterialRequest{},
		&models.RequestItem{},
		&models.RequestApproval{},
		&models.RequestHistory{},
		&models.RequestComment{},
		&models.RequestSequence{},
		&models.Notification{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		cleanDB, cleanErr := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			sqlClean, _ := cleanDB.DB()
			if sqlClean != nil {
				sqlClean.Close()
			}
		}
	})

	return db
}

// CreateUser persists a user with the given role and returns it.
func CreateUser(t *testing.T, db *gorm.DB, name, role string) *models.User {
	t.Helper()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	user := &models.User{
		Name:         name,
		Email:        fmt.Sprintf("%s-%s@test.local", name, uuid.NewString()[:8]),
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return user
}

// CreateTeam persists a team and returns it.
func CreateTeam(t *testing.T, db *gorm.DB, name string) *models.Team {
	t.Helper()
	team := &models.Team{Name: fmt.Sprintf("%s-%s", name, uuid.NewString()[:8]), IsActive: true}
	if err := db.Create(team).Error; err != nil {
		t.Fatalf("Failed to create test team: %v", err)
	}
	return team
}

// CreateInventoryItem persists an inventory item with the given stock level.
func CreateInventoryItem(t *testing.T, db *gorm.DB, name string, quantity float64, frequentlyDistributed bool) *models.InventoryItem {
	t.Helper()
	item := &models.InventoryItem{
		Name:                    name,
		Unit:                    "pcs",
		TotalQuantity:           quantity,
		AvailableQuantity:       quantity,
		IsFrequentlyDistributed: frequentlyDistributed,
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("Failed to create test inventory item: %v", err)
	}
	return item
}

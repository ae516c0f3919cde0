package repo

import (
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/canteen-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db.Exec("PRAGMA foreign_keys=ON;")
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

// newSchemaDB returns a fresh database with the full schema.
func newSchemaDB(t *testing.T) *gorm.DB {
	t.Helper()
	return newTestDB(t, Models()...)
}

func mustCreate(t *testing.T, db *gorm.DB, v any) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("seed %T: %v", v, err)
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type catalog struct {
	Group    domain.Group
	User     domain.User
	Soup     domain.FoodCategory
	Main     domain.FoodCategory
	Menu     domain.Menu
	SoupItem domain.MenuItem
	MainItem domain.MenuItem
}

// seedCatalog creates one grouped user and a June 2024 menu with a soup and a
// main course.
func seedCatalog(t *testing.T, db *gorm.DB) catalog {
	t.Helper()
	var c catalog
	c.Group = domain.Group{Name: "pupils"}
	mustCreate(t, db, &c.Group)
	c.User = domain.User{Username: "alice", IsActive: true, BillingGroupID: &c.Group.ID}
	mustCreate(t, db, &c.User)
	c.Soup = domain.FoodCategory{Name: "soup", Position: 1}
	c.Main = domain.FoodCategory{Name: "main", Position: 2}
	mustCreate(t, db, &c.Soup)
	mustCreate(t, db, &c.Main)

	soup := domain.Meal{Name: "Goulash soup", BasePrice: dec("20.00")}
	main := domain.Meal{Name: "Schnitzel", BasePrice: dec("80.00")}
	mustCreate(t, db, &soup)
	mustCreate(t, db, &main)

	c.Menu = domain.Menu{Name: "June", ValidFrom: "2024-06-01", ValidTo: "2024-06-30"}
	mustCreate(t, db, &c.Menu)
	c.MainItem = domain.MenuItem{MenuID: c.Menu.ID, FoodCategoryID: c.Main.ID, MealID: main.ID}
	c.SoupItem = domain.MenuItem{MenuID: c.Menu.ID, FoodCategoryID: c.Soup.ID, MealID: soup.ID}
	mustCreate(t, db, &c.MainItem)
	mustCreate(t, db, &c.SoupItem)
	return c
}

// seedOrder creates an order with one item per (menuItem, qty, price) triple.
func seedOrder(t *testing.T, db *gorm.DB, userID uint, date string, status domain.OrderStatus, items ...domain.OrderItem) domain.Order {
	t.Helper()
	o := domain.Order{UserID: userID, ServiceDate: date, Status: status}
	mustCreate(t, db, &o)
	for i := range items {
		items[i].OrderID = o.ID
		mustCreate(t, db, &items[i])
	}
	o.Items = items
	return o
}

package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/canteen-backend/internal/domain"
	"github.com/tbourn/canteen-backend/internal/repo"
)

// prague is a fixed summer offset so tests do not depend on tzdata.
var prague = time.FixedZone("CEST", 2*60*60)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())
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
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mustCreate(t *testing.T, db *gorm.DB, v any) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("seed %T: %v", v, err)
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decNull(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func wantDec(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s = %s, want %s", what, got.StringFixed(2), want)
	}
}

// fixture is a canteen with one pupil (alice), one staff member, a June 2024
// menu (soup 20.00, main 80.00), a closing policy of one operating day at
// 07:00, and a clock set to Thursday 2024-05-30 12:00 local.
type fixture struct {
	DB     *gorm.DB
	Now    time.Time
	Engine *EligibilityEngine
	Orders *OrderService

	Group    domain.Group
	User     domain.User
	Staff    domain.User
	Soup     domain.FoodCategory
	Main     domain.FoodCategory
	Menu     domain.Menu
	SoupItem domain.MenuItem
	MainItem domain.MenuItem
	Policy   domain.ClosingPolicy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{DB: db, Now: time.Date(2024, 5, 30, 12, 0, 0, 0, prague)}

	f.Group = domain.Group{Name: "pupils"}
	mustCreate(t, db, &f.Group)
	f.User = domain.User{Username: "alice", FirstName: "Alice", LastName: "Novak", IsActive: true, BillingGroupID: &f.Group.ID}
	mustCreate(t, db, &f.User)
	f.User.BillingGroup = &f.Group
	f.Staff = domain.User{Username: "cook", IsStaff: true, IsActive: true}
	mustCreate(t, db, &f.Staff)

	f.Soup = domain.FoodCategory{Name: "soup", Position: 1}
	f.Main = domain.FoodCategory{Name: "main", Position: 2}
	mustCreate(t, db, &f.Soup)
	mustCreate(t, db, &f.Main)
	soup := domain.Meal{Name: "Goulash soup", BasePrice: dec("20.00")}
	main := domain.Meal{Name: "Schnitzel", BasePrice: dec("80.00")}
	mustCreate(t, db, &soup)
	mustCreate(t, db, &main)

	f.Menu = domain.Menu{Name: "June", ValidFrom: "2024-06-01", ValidTo: "2024-06-30"}
	mustCreate(t, db, &f.Menu)
	f.SoupItem = domain.MenuItem{MenuID: f.Menu.ID, FoodCategoryID: f.Soup.ID, MealID: soup.ID}
	f.MainItem = domain.MenuItem{MenuID: f.Menu.ID, FoodCategoryID: f.Main.ID, MealID: main.ID}
	mustCreate(t, db, &f.SoupItem)
	mustCreate(t, db, &f.MainItem)

	f.Policy = domain.ClosingPolicy{Active: true, AdvanceDays: 1, ClosingTime: datatypes.NewTime(7, 0, 0, 0)}
	mustCreate(t, db, &f.Policy)

	cutoff := NewCutoffResolver(prague)
	cutoff.Now = func() time.Time { return f.Now }
	f.Engine = NewEligibilityEngine(db, cutoff, NewMessages(language.English), 10)
	f.Orders = NewOrderService(f.Engine)
	return f
}

func (f *fixture) deposit(t *testing.T, userID uint, amount string) {
	t.Helper()
	mustCreate(t, f.DB, &domain.Deposit{UserID: userID, Amount: dec(amount), Kind: domain.DepositStandard})
}

func (f *fixture) settings(t *testing.T, s domain.AccountSettings) {
	t.Helper()
	s.GroupID = f.Group.ID
	mustCreate(t, f.DB, &s)
}

func (f *fixture) quota(t *testing.T, categoryID uint, n int) {
	t.Helper()
	mustCreate(t, f.DB, &domain.GroupDailyQuota{GroupID: f.Group.ID, FoodCategoryID: categoryID, MaxPerDay: n})
}

func (f *fixture) balance(t *testing.T, userID uint) decimal.Decimal {
	t.Helper()
	b, err := f.Engine.Ledger.CurrentBalance(context.Background(), f.DB, userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func wantDeny(t *testing.T, err error, reason DenyReason) *DenyError {
	t.Helper()
	de, ok := AsDeny(err)
	if !ok {
		t.Fatalf("expected *DenyError(%s), got %v", reason, err)
	}
	if de.Reason != reason {
		t.Fatalf("reason = %q, want %q (%s)", de.Reason, reason, de.Message)
	}
	return de
}

// loadItem fetches a menu item with its menu, meal, and category.
func loadItem(t *testing.T, f *fixture, id uint) *domain.MenuItem {
	t.Helper()
	it, err := repo.GetMenuItem(context.Background(), f.DB, id)
	if err != nil {
		t.Fatalf("load menu item %d: %v", id, err)
	}
	return it
}

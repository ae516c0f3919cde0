package repo

import (
	"context"
	"errors"
	"testing"

	"gorm.io/datatypes"

	"github.com/tbourn/canteen-backend/internal/domain"
)

func TestUpsertOperatingException_ReplacesByDate(t *testing.T) {
	db := newSchemaDB(t)
	ctx := context.Background()

	if err := UpsertOperatingException(ctx, db, &domain.OperatingException{Date: "2024-12-25", Type: domain.ExceptionClosed}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := UpsertOperatingException(ctx, db, &domain.OperatingException{Date: "2024-12-25", Type: domain.ExceptionOpen, Reason: "extra"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	ex, err := GetOperatingException(ctx, db, "2024-12-25")
	if err != nil || ex.Type != domain.ExceptionOpen || ex.Reason != "extra" {
		t.Fatalf("unexpected exception: %+v err=%v", ex, err)
	}
	var n int64
	db.Model(&domain.OperatingException{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected one row, got %d", n)
	}
}

func TestActivateClosingPolicy_SingleActive(t *testing.T) {
	db := newSchemaDB(t)
	ctx := context.Background()

	if _, err := GetActiveClosingPolicy(ctx, db); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without policy, got %v", err)
	}

	a := &domain.ClosingPolicy{AdvanceDays: 1, ClosingTime: datatypes.NewTime(7, 0, 0, 0)}
	b := &domain.ClosingPolicy{AdvanceDays: 2, ClosingTime: datatypes.NewTime(14, 30, 0, 0)}
	if err := ActivateClosingPolicy(ctx, db, a); err != nil {
		t.Fatalf("activate a: %v", err)
	}
	if err := ActivateClosingPolicy(ctx, db, b); err != nil {
		t.Fatalf("activate b: %v", err)
	}

	got, err := GetActiveClosingPolicy(ctx, db)
	if err != nil || got.ID != b.ID || got.AdvanceDays != 2 {
		t.Fatalf("unexpected active policy: %+v err=%v", got, err)
	}
	var active int64
	db.Model(&domain.ClosingPolicy{}).Where("active = ?", true).Count(&active)
	if active != 1 {
		t.Fatalf("expected exactly one active policy, got %d", active)
	}
}

func TestPolicyLookups(t *testing.T) {
	db := newSchemaDB(t)
	c := seedCatalog(t, db)
	ctx := context.Background()

	p := domain.SubsidyPolicy{GroupID: c.Group.ID, Percentage: dec("10"), Amount: dec("5")}
	mustCreate(t, db, &p)
	mustCreate(t, db, &domain.SubsidyOverride{PolicyID: p.ID, FoodCategoryID: c.Soup.ID})
	mustCreate(t, db, &domain.GroupDailyQuota{GroupID: c.Group.ID, FoodCategoryID: c.Main.ID, MaxPerDay: 1})
	mustCreate(t, db, &domain.AccountSettings{GroupID: c.Group.ID, AllowOverdraft: true, OverdraftLimit: dec("-100")})

	if got, err := GetSubsidyPolicy(ctx, db, c.Group.ID); err != nil || !got.Percentage.Equal(dec("10")) {
		t.Fatalf("GetSubsidyPolicy: %+v %v", got, err)
	}
	if got, err := GetSubsidyOverride(ctx, db, p.ID, c.Soup.ID); err != nil || got.Percentage.Valid {
		t.Fatalf("GetSubsidyOverride: %+v %v", got, err)
	}
	if _, err := GetSubsidyOverride(ctx, db, p.ID, c.Main.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing override, got %v", err)
	}
	if got, err := GetGroupQuota(ctx, db, c.Group.ID, c.Main.ID); err != nil || got.MaxPerDay != 1 {
		t.Fatalf("GetGroupQuota: %+v %v", got, err)
	}
	ids, err := OverdraftGroupIDs(ctx, db)
	if err != nil || len(ids) != 1 || ids[0] != c.Group.ID {
		t.Fatalf("OverdraftGroupIDs = %v, %v", ids, err)
	}
	users, err := ListActiveUsersInGroups(ctx, db, ids)
	if err != nil || len(users) != 1 || users[0].ID != c.User.ID {
		t.Fatalf("ListActiveUsersInGroups = %+v, %v", users, err)
	}
}

func TestMenuRangeAndOverlap(t *testing.T) {
	db := newSchemaDB(t)
	c := seedCatalog(t, db)
	ctx := context.Background()

	items, err := ListMenuItemsInRange(ctx, db, "2024-06-03", "2024-06-07")
	if err != nil {
		t.Fatalf("ListMenuItemsInRange: %v", err)
	}
	// Ordered by category position: soup (1) before main (2).
	if len(items) != 2 || items[0].ID != c.SoupItem.ID || items[1].ID != c.MainItem.ID {
		t.Fatalf("unexpected items: %+v", items)
	}
	if items[0].Meal.Name == "" || items[0].Menu.ID != c.Menu.ID {
		t.Fatalf("expected associations preloaded: %+v", items[0])
	}

	if n, err := CountOverlappingMenus(ctx, db, "2024-06-30", "2024-07-10"); err != nil || n != 1 {
		t.Fatalf("overlap at boundary = %d, %v; want 1", n, err)
	}
	if n, err := CountOverlappingMenus(ctx, db, "2024-07-01", "2024-07-10"); err != nil || n != 0 {
		t.Fatalf("no overlap = %d, %v; want 0", n, err)
	}
}

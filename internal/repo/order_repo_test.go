package repo

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/canteen-backend/internal/domain"
)

func TestEnsureOrder_CreatesOnceAndReturnsExisting(t *testing.T) {
	db := newSchemaDB(t)
	c := seedCatalog(t, db)
	ctx := context.Background()

	var first, second *domain.Order
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = EnsureOrder(ctx, tx, c.User.ID, "2024-06-03", domain.OrderOrdered)
		return err
	})
	if err != nil {
		t.Fatalf("EnsureOrder #1: %v", err)
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		second, err = EnsureOrder(ctx, tx, c.User.ID, "2024-06-03", domain.OrderCreatedByStaff)
		return err
	})
	if err != nil {
		t.Fatalf("EnsureOrder #2: %v", err)
	}
	if first.ID == 0 || first.ID != second.ID {
		t.Fatalf("expected same order, got %d and %d", first.ID, second.ID)
	}
	if second.Status != domain.OrderOrdered {
		t.Fatalf("existing status must be kept, got %q", second.Status)
	}

	var n int64
	db.Model(&domain.Order{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected one order row, got %d", n)
	}
}

func TestLockOrder_NotFound(t *testing.T) {
	db := newSchemaDB(t)
	_, err := LockOrder(context.Background(), db, 1, "2024-06-03")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindUserItem_IgnoresCancelledOrders(t *testing.T) {
	db := newSchemaDB(t)
	c := seedCatalog(t, db)
	ctx := context.Background()

	seedOrder(t, db, c.User.ID, "2024-06-03", domain.OrderCancelledByStaff,
		domain.OrderItem{MenuItemID: c.MainItem.ID, Quantity: 1, Price: dec("80")})
	if _, err := FindUserItem(ctx, db, c.User.ID, "2024-06-03", c.MainItem.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for cancelled order, got %v", err)
	}

	seedOrder(t, db, c.User.ID, "2024-06-04", domain.OrderOrdered,
		domain.OrderItem{MenuItemID: c.MainItem.ID, Quantity: 2, Price: dec("80")})
	it, err := FindUserItem(ctx, db, c.User.ID, "2024-06-04", c.MainItem.ID)
	if err != nil {
		t.Fatalf("FindUserItem: %v", err)
	}
	if it.Quantity != 2 || it.Order.ServiceDate != "2024-06-04" {
		t.Fatalf("unexpected item: %+v", it)
	}
}

func TestSumCategoryQuantity(t *testing.T) {
	db := newSchemaDB(t)
	c := seedCatalog(t, db)
	ctx := context.Background()

	seedOrder(t, db, c.User.ID, "2024-06-03", domain.OrderOrdered,
		domain.OrderItem{MenuItemID: c.MainItem.ID, Quantity: 2, Price: dec("80")},
		domain.OrderItem{MenuItemID: c.SoupItem.ID, Quantity: 1, Price: dec("20")})

	got, err := SumCategoryQuantity(ctx, db, c.User.ID, "2024-06-03", c.Main.ID)
	if err != nil || got != 2 {
		t.Fatalf("main quantity = %d, %v; want 2", got, err)
	}
	got, err = SumCategoryQuantity(ctx, db, c.User.ID, "2024-06-04", c.Main.ID)
	if err != nil || got != 0 {
		t.Fatalf("other date quantity = %d, %v; want 0", got, err)
	}
}

func TestDeleteOrder_RemovesItems(t *testing.T) {
	db := newSchemaDB(t)
	c := seedCatalog(t, db)
	o := seedOrder(t, db, c.User.ID, "2024-06-03", domain.OrderOrdered,
		domain.OrderItem{MenuItemID: c.MainItem.ID, Quantity: 1, Price: dec("80")})

	if err := DeleteOrder(context.Background(), db, o.ID); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	n, _ := CountOrderItems(context.Background(), db, o.ID)
	if n != 0 {
		t.Fatalf("expected no items left, got %d", n)
	}
	if _, err := GetOrderByID(context.Background(), db, o.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected order gone, got %v", err)
	}
}

func TestListUserItemsPage_OrderAndPaging(t *testing.T) {
	db := newSchemaDB(t)
	c := seedCatalog(t, db)
	ctx := context.Background()

	seedOrder(t, db, c.User.ID, "2024-06-05", domain.OrderOrdered,
		domain.OrderItem{MenuItemID: c.MainItem.ID, Quantity: 1, Price: dec("80")})
	seedOrder(t, db, c.User.ID, "2024-06-03", domain.OrderOrdered,
		domain.OrderItem{MenuItemID: c.SoupItem.ID, Quantity: 1, Price: dec("20")},
		domain.OrderItem{MenuItemID: c.MainItem.ID, Quantity: 1, Price: dec("80")})

	page, err := ListUserItemsPage(ctx, db, c.User.ID, "2024-06-01", 0, 2)
	if err != nil {
		t.Fatalf("ListUserItemsPage: %v", err)
	}
	if len(page) != 2 || page[0].Order.ServiceDate != "2024-06-03" || page[1].Order.ServiceDate != "2024-06-03" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if page[0].MenuItem.Meal.Name == "" {
		t.Fatalf("expected meal preloaded")
	}
	rest, err := ListUserItemsPage(ctx, db, c.User.ID, "2024-06-01", 2, 2)
	if err != nil || len(rest) != 1 || rest[0].Order.ServiceDate != "2024-06-05" {
		t.Fatalf("unexpected second page: %+v err=%v", rest, err)
	}
}

func TestMarkOrdersUnclaimed(t *testing.T) {
	db := newSchemaDB(t)
	c := seedCatalog(t, db)
	ctx := context.Background()

	past := seedOrder(t, db, c.User.ID, "2024-06-03", domain.OrderOrdered)
	staff := seedOrder(t, db, c.User.ID, "2024-06-04", domain.OrderCreatedByStaff)
	partial := seedOrder(t, db, c.User.ID, "2024-06-05", domain.OrderPartiallyIssued)
	future := seedOrder(t, db, c.User.ID, "2024-06-10", domain.OrderOrdered)

	n, err := MarkOrdersUnclaimed(ctx, db, "2024-06-05")
	if err != nil || n != 2 {
		t.Fatalf("MarkOrdersUnclaimed = %d, %v; want 2", n, err)
	}
	want := map[uint]domain.OrderStatus{
		past.ID:    domain.OrderUnclaimed,
		staff.ID:   domain.OrderUnclaimed,
		partial.ID: domain.OrderPartiallyIssued,
		future.ID:  domain.OrderOrdered,
	}
	for id, st := range want {
		var o domain.Order
		db.First(&o, id)
		if o.Status != st {
			t.Fatalf("order %d status = %q; want %q", id, o.Status, st)
		}
	}
}

func TestListItemsInRange_SkipsInactive(t *testing.T) {
	db := newSchemaDB(t)
	c := seedCatalog(t, db)
	seedOrder(t, db, c.User.ID, "2024-06-03", domain.OrderOrdered,
		domain.OrderItem{MenuItemID: c.MainItem.ID, Quantity: 1, Price: dec("80")})
	seedOrder(t, db, c.User.ID, "2024-06-04", domain.OrderCancelledByUser,
		domain.OrderItem{MenuItemID: c.MainItem.ID, Quantity: 1, Price: dec("80")})
	seedOrder(t, db, c.User.ID, "2024-07-01", domain.OrderOrdered,
		domain.OrderItem{MenuItemID: c.MainItem.ID, Quantity: 1, Price: dec("80")})

	items, err := ListItemsInRange(context.Background(), db, "2024-06-01", "2024-06-30")
	if err != nil {
		t.Fatalf("ListItemsInRange: %v", err)
	}
	if len(items) != 1 || items[0].Order.ServiceDate != "2024-06-03" || items[0].MenuItem.FoodCategory.ID != c.Main.ID {
		t.Fatalf("unexpected items: %+v", items)
	}
}

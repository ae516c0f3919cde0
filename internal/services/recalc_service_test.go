package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tbourn/canteen-backend/internal/domain"
)

func seedRecalc(t *testing.T, f *fixture) (domain.Order, domain.Order) {
	t.Helper()
	a := domain.Order{UserID: f.User.ID, ServiceDate: "2024-06-03", Status: domain.OrderOrdered,
		Items: []domain.OrderItem{
			{MenuItemID: f.MainItem.ID, Quantity: 2, Price: dec("80")},
			{MenuItemID: f.SoupItem.ID, Quantity: 1, Price: dec("20")},
		}}
	mustCreate(t, f.DB, &a)
	b := domain.Order{UserID: f.User.ID, ServiceDate: "2024-06-10", Status: domain.OrderIssued,
		Items: []domain.OrderItem{{MenuItemID: f.MainItem.ID, Quantity: 1, Price: dec("80")}}}
	mustCreate(t, f.DB, &b)
	// Cancelled orders are not repriced.
	mustCreate(t, f.DB, &domain.Order{UserID: f.User.ID, ServiceDate: "2024-06-11", Status: domain.OrderCancelledByUser,
		Items: []domain.OrderItem{{MenuItemID: f.MainItem.ID, Quantity: 1, Price: dec("80")}}})

	// Retroactive 25 % on main courses only.
	p := domain.SubsidyPolicy{GroupID: f.Group.ID}
	mustCreate(t, f.DB, &p)
	mustCreate(t, f.DB, &domain.SubsidyOverride{PolicyID: p.ID, FoodCategoryID: f.Main.ID, Percentage: decNull("25")})
	return a, b
}

func TestRecalculate_DryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	seedRecalc(t, f)
	svc := NewRecalcService(f.DB)

	rep, err := svc.Recalculate(context.Background(), f.Staff.ID, "2024-06-01", "2024-06-30", true)
	if err != nil {
		t.Fatal(err)
	}
	if rep.ItemsTotal != 3 || rep.ItemsChanged != 2 || rep.ItemsUnchanged != 1 || rep.OrdersAffected != 2 {
		t.Fatalf("got %+v", rep)
	}
	// (60 − 80) × 2 + (60 − 80) × 1
	wantDec(t, "total diff", rep.TotalPriceDiff, "-60.00")
	if rep.LogID != nil {
		t.Fatal("dry run must not log")
	}
	if len(rep.ByUser) != 1 || rep.ByUser[0].Username != "alice" || rep.ByUser[0].Items != 2 {
		t.Fatalf("by user = %+v", rep.ByUser)
	}
	wantDec(t, "alice diff", rep.ByUser[0].Diff, "-60.00")

	var logs int64
	f.DB.Model(&domain.PriceRecalculationLog{}).Count(&logs)
	wantDec(t, "balance", f.balance(t, f.User.ID), "-260.00")
	if logs != 0 {
		t.Fatalf("logs = %d", logs)
	}
}

func TestRecalculate_AppliesAndAudits(t *testing.T) {
	f := newFixture(t)
	a, _ := seedRecalc(t, f)
	svc := NewRecalcService(f.DB)

	rep, err := svc.Recalculate(context.Background(), f.Staff.ID, "2024-06-01", "2024-06-30", false)
	if err != nil {
		t.Fatal(err)
	}
	if rep.LogID == nil {
		t.Fatal("expected a log id")
	}
	wantDec(t, "balance", f.balance(t, f.User.ID), "-200.00")

	var log domain.PriceRecalculationLog
	if err := f.DB.Preload("Details").First(&log, *rep.LogID).Error; err != nil {
		t.Fatal(err)
	}
	if len(log.Details) != 2 || log.ItemsAffected != 2 || log.OrdersAffected != 2 || log.CreatedByID == nil {
		t.Fatalf("log = %+v", log)
	}
	var params map[string]any
	if err := json.Unmarshal(log.Params, &params); err != nil || params["from"] != "2024-06-01" {
		t.Fatalf("params = %s err=%v", log.Params, err)
	}

	var main domain.OrderItem
	f.DB.Where("order_id = ? AND menu_item_id = ?", a.ID, f.MainItem.ID).First(&main)
	wantDec(t, "repriced", main.Price, "60.00")

	// A second run finds nothing to change.
	rep, err = svc.Recalculate(context.Background(), f.Staff.ID, "2024-06-01", "2024-06-30", false)
	if err != nil || rep.ItemsChanged != 0 || rep.LogID != nil {
		t.Fatalf("rerun: %+v err=%v", rep, err)
	}
}

func TestRecalculate_EmptyAndInvalid(t *testing.T) {
	f := newFixture(t)
	svc := NewRecalcService(f.DB)
	ctx := context.Background()

	rep, err := svc.Recalculate(ctx, f.Staff.ID, "2024-06-01", "2024-06-30", false)
	if err != nil || rep.Message == "" || rep.ItemsTotal != 0 {
		t.Fatalf("empty: %+v err=%v", rep, err)
	}
	if _, err := svc.Recalculate(ctx, f.Staff.ID, "2024-06-30", "2024-06-01", true); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("reversed: %v", err)
	}
	if _, err := svc.Recalculate(ctx, f.Staff.ID, "2024-06-01", "x", true); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("bad date: %v", err)
	}
	if _, err := svc.Recalculate(ctx, f.User.ID, "2024-06-01", "2024-06-30", true); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-staff: %v", err)
	}
}

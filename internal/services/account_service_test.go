package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tbourn/canteen-backend/internal/domain"
)

func TestDeposit(t *testing.T) {
	f := newFixture(t)
	svc := NewAccountService(f.DB)
	ctx := context.Background()

	d, err := svc.Deposit(ctx, f.Staff.ID, f.User.ID, dec("150.005"), "  cash ")
	if err != nil {
		t.Fatal(err)
	}
	wantDec(t, "amount", d.Amount, "150.01")
	if d.Kind != domain.DepositStandard || d.Note != "cash" || d.CreatedByID == nil || *d.CreatedByID != f.Staff.ID {
		t.Fatalf("deposit = %+v", d)
	}

	// Corrections are negative deposits.
	if _, err := svc.Deposit(ctx, f.Staff.ID, f.User.ID, dec("-0.01"), "fix"); err != nil {
		t.Fatal(err)
	}
	wantDec(t, "balance", f.balance(t, f.User.ID), "150.00")

	if _, err := svc.Deposit(ctx, f.Staff.ID, f.User.ID, decimal.Zero, ""); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero: %v", err)
	}
	if _, err := svc.Deposit(ctx, f.User.ID, f.User.ID, dec("10"), ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-staff: %v", err)
	}
	if _, err := svc.Deposit(ctx, f.Staff.ID, 999, dec("10"), ""); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown user: %v", err)
	}
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	svc := NewAccountService(f.DB)
	ctx := context.Background()
	f.settings(t, domain.AccountSettings{AllowOverdraft: true, OverdraftLimit: dec("-100")})
	f.deposit(t, f.User.ID, "100")
	mustCreate(t, f.DB, &domain.SubsidyCredit{UserID: f.User.ID, Amount: dec("25"), Program: "lunch"})
	mustCreate(t, f.DB, &domain.Order{UserID: f.User.ID, ServiceDate: "2024-06-03", Status: domain.OrderOrdered,
		Items: []domain.OrderItem{{MenuItemID: f.MainItem.ID, Quantity: 2, Price: dec("80")}}})

	s, err := svc.Summary(ctx, f.User.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantDec(t, "deposits", s.Deposits, "100")
	wantDec(t, "credits", s.SubsidyCredits, "25")
	wantDec(t, "charges", s.Charges, "160")
	wantDec(t, "balance", s.Balance, "-35")
	if !s.AllowOverdraft || s.OverdraftLimit == nil || len(s.RecentDeposits) != 1 {
		t.Fatalf("summary = %+v", s)
	}

	if _, err := svc.Summary(ctx, 999); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown: %v", err)
	}
}

func TestRequireStaff(t *testing.T) {
	f := newFixture(t)
	svc := NewAccountService(f.DB)
	ctx := context.Background()

	if err := svc.RequireStaff(ctx, f.Staff.ID); err != nil {
		t.Fatalf("staff: %v", err)
	}
	if err := svc.RequireStaff(ctx, f.User.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("pupil: %v", err)
	}
	if err := svc.RequireStaff(ctx, 999); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown: %v", err)
	}
}

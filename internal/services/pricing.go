// Package services – SubsidyResolver, QuotaChecker and BalanceLedger
//
// These are the leaf policies the eligibility engine composes. Each one is a
// small function over a handful of rows:
//
//   - SubsidyResolver prices a menu item for a user from the billing group's
//     subsidy policy and its per-category override.
//   - QuotaChecker enforces the per-group, per-category daily ceiling.
//   - BalanceLedger recomputes the spendable balance from deposits, subsidy
//     credits, and charged order items. Nothing stores a running balance, so
//     the aggregate is the only source of truth.
//
// All of them accept the *gorm.DB to run on, so the order commit path can call
// them on its transaction handle and see its own uncommitted rows.
package services

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tbourn/canteen-backend/internal/domain"
	"github.com/tbourn/canteen-backend/internal/repo"
)

var hundred = decimal.NewFromInt(100)

// ApplySubsidy discounts base by pct percent, then subtracts amount from the
// result, flooring at zero. The result is rounded half-up to 2 places.
// Non-positive pct or amount are ignored.
func ApplySubsidy(base, pct, amount decimal.Decimal) decimal.Decimal {
	price := base
	if pct.IsPositive() {
		price = base.Mul(decimal.NewFromInt(1).Sub(pct.Div(hundred)))
	}
	if amount.IsPositive() {
		price = price.Sub(amount)
	}
	if price.IsNegative() {
		price = decimal.Zero
	}
	return price.Round(2)
}

// SubsidyResolver prices menu items per user.
type SubsidyResolver struct{}

// PriceFor returns the subsidized unit price of item for user. A user without
// a billing group, or a group without a policy, pays the base price.
func (SubsidyResolver) PriceFor(ctx context.Context, db *gorm.DB, user *domain.User, item *domain.MenuItem) (decimal.Decimal, error) {
	meal := item.Meal
	if meal.ID == 0 {
		m, err := repo.GetMeal(ctx, db, item.MealID)
		if err != nil {
			return decimal.Zero, err
		}
		meal = *m
	}
	base := meal.BasePrice
	if user.BillingGroupID == nil {
		return base.Round(2), nil
	}

	policy, err := repo.GetSubsidyPolicy(ctx, db, *user.BillingGroupID)
	if errors.Is(err, repo.ErrNotFound) {
		return base.Round(2), nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	pct, amount := policy.Percentage, policy.Amount
	ov, err := repo.GetSubsidyOverride(ctx, db, policy.ID, item.FoodCategoryID)
	switch {
	case err == nil:
		if ov.Percentage.Valid {
			pct = ov.Percentage.Decimal
		}
		if ov.Amount.Valid {
			amount = ov.Amount.Decimal
		}
	case !errors.Is(err, repo.ErrNotFound):
		return decimal.Zero, err
	}
	return ApplySubsidy(base, pct, amount), nil
}

// QuotaResult is the outcome of a quota check.
//
// Max is the configured ceiling (0 when unlimited) and Remaining what the
// user may still add; both feed the quantity hint on the menu.
type QuotaResult struct {
	Allowed   bool
	Max       int
	Remaining int
	Message   string
}

// QuotaChecker enforces GroupDailyQuota rows.
type QuotaChecker struct {
	Messages *Messages
}

// Check decides whether user may add qty of item for date. Staff, users
// without a billing group, and categories without a (non-zero) quota are
// unlimited.
func (q QuotaChecker) Check(ctx context.Context, db *gorm.DB, user *domain.User, item *domain.MenuItem, date string, qty int) (QuotaResult, error) {
	if user.IsStaff || user.BillingGroupID == nil {
		return QuotaResult{Allowed: true}, nil
	}
	quota, err := repo.GetGroupQuota(ctx, db, *user.BillingGroupID, item.FoodCategoryID)
	if errors.Is(err, repo.ErrNotFound) {
		return QuotaResult{Allowed: true}, nil
	}
	if err != nil {
		return QuotaResult{}, err
	}
	if quota.MaxPerDay == 0 {
		return QuotaResult{Allowed: true}, nil
	}

	existing, err := repo.SumCategoryQuantity(ctx, db, user.ID, date, item.FoodCategoryID)
	if err != nil {
		return QuotaResult{}, err
	}
	res := QuotaResult{Max: quota.MaxPerDay, Remaining: max(quota.MaxPerDay-existing, 0)}
	if existing+qty > quota.MaxPerDay {
		group := ""
		if user.BillingGroup != nil {
			group = user.BillingGroup.Name
		}
		res.Message = q.Messages.Sprintf(msgGroupLimit, quota.MaxPerDay, item.FoodCategory.Name, group)
		return res, nil
	}
	res.Allowed = true
	return res, nil
}

// BalanceLedger is the balance read model.
type BalanceLedger struct{}

// CurrentBalance returns deposits + subsidy credits − charges for userID.
func (BalanceLedger) CurrentBalance(ctx context.Context, db *gorm.DB, userID uint) (decimal.Decimal, error) {
	deposits, err := repo.SumDeposits(ctx, db, userID)
	if err != nil {
		return decimal.Zero, err
	}
	credits, err := repo.SumSubsidyCredits(ctx, db, userID)
	if err != nil {
		return decimal.Zero, err
	}
	charges, err := repo.SumCharges(ctx, db, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return deposits.Add(credits).Sub(charges).Round(2), nil
}

// SettingsFor returns the account settings of user's billing group, or nil
// when the user has no group or the group has no settings row.
func (BalanceLedger) SettingsFor(ctx context.Context, db *gorm.DB, user *domain.User) (*domain.AccountSettings, error) {
	if user.BillingGroupID == nil {
		return nil, nil
	}
	s, err := repo.GetAccountSettings(ctx, db, *user.BillingGroupID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	return s, err
}

// CheckAffordability applies the debit policy to a purchase of price at
// balance. Nil settings behave like a group with neither flag set.
func CheckAffordability(settings *domain.AccountSettings, balance, price decimal.Decimal) DenyReason {
	var s domain.AccountSettings
	if settings != nil {
		s = *settings
	}
	switch {
	case s.RequiresTopUp && balance.LessThan(price):
		return ReasonInsufficientBalance
	case s.AllowOverdraft && balance.Sub(price).LessThan(s.OverdraftLimit):
		return ReasonDebitLimitExceeded
	case !s.RequiresTopUp && !s.AllowOverdraft && balance.LessThan(price):
		return ReasonInsufficientBalance
	}
	return ReasonNone
}

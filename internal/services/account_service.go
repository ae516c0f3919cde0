// Package services – AccountService
//
// AccountService records deposits and reports the balance read model.
// Deposits are append-only; a correction is a new (possibly negative) row.
package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/canteen-backend/internal/domain"
	"github.com/tbourn/canteen-backend/internal/repo"
)

// recentDeposits is how many deposits a summary lists.
const recentDeposits = 10

// AccountSummary breaks a balance down into its sources.
type AccountSummary struct {
	UserID         uint             `json:"user_id"`
	Balance        decimal.Decimal  `json:"balance"`
	Deposits       decimal.Decimal  `json:"deposits"`
	SubsidyCredits decimal.Decimal  `json:"subsidy_credits"`
	Charges        decimal.Decimal  `json:"charges"`
	AllowOverdraft bool             `json:"allow_overdraft"`
	RequiresTopUp  bool             `json:"requires_topup"`
	OverdraftLimit *decimal.Decimal `json:"overdraft_limit,omitempty"`
	RecentDeposits []domain.Deposit `json:"recent_deposits"`
}

// AccountService manages deposits and balance summaries.
type AccountService struct {
	DB     *gorm.DB
	Ledger BalanceLedger
}

// NewAccountService constructs an AccountService.
func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{DB: db}
}

func (s *AccountService) tracer() trace.Tracer { return otel.Tracer("services/AccountService") }

// Deposit credits amount to userID on behalf of staffID.
func (s *AccountService) Deposit(ctx context.Context, staffID, userID uint, amount decimal.Decimal, note string) (*domain.Deposit, error) {
	ctx, span := s.tracer().Start(ctx, "Deposit",
		trace.WithAttributes(
			attribute.Int("staff.id", int(staffID)),
			attribute.Int("user.id", int(userID)),
		),
	)
	defer span.End()

	if err := requireStaff(ctx, s.DB, staffID); err != nil {
		return nil, err
	}
	amount = amount.Round(2)
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	if _, err := repo.GetUser(ctx, s.DB, userID); err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}

	d := &domain.Deposit{
		UserID:      userID,
		Amount:      amount,
		Kind:        domain.DepositStandard,
		Note:        strings.TrimSpace(note),
		CreatedByID: &staffID,
	}
	if err := repo.CreateDeposit(ctx, s.DB, d); err != nil {
		span.RecordError(err)
		return nil, err
	}
	observeMutation("deposit")
	log.Ctx(ctx).Info().
		Uint("staff_id", staffID).
		Uint("user_id", userID).
		Str("amount", amount.StringFixed(2)).
		Msg("deposit recorded")
	return d, nil
}

// Summary returns the balance of userID with its components and the
// group's debit policy.
func (s *AccountService) Summary(ctx context.Context, userID uint) (*AccountSummary, error) {
	ctx, span := s.tracer().Start(ctx, "Summary",
		trace.WithAttributes(attribute.Int("user.id", int(userID))))
	defer span.End()

	user, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}

	out := &AccountSummary{UserID: userID}
	if out.Deposits, err = repo.SumDeposits(ctx, s.DB, userID); err != nil {
		return nil, err
	}
	if out.SubsidyCredits, err = repo.SumSubsidyCredits(ctx, s.DB, userID); err != nil {
		return nil, err
	}
	if out.Charges, err = repo.SumCharges(ctx, s.DB, userID); err != nil {
		return nil, err
	}
	out.Balance = out.Deposits.Add(out.SubsidyCredits).Sub(out.Charges).Round(2)

	settings, err := s.Ledger.SettingsFor(ctx, s.DB, user)
	if err != nil {
		return nil, err
	}
	if settings != nil {
		out.AllowOverdraft = settings.AllowOverdraft
		out.RequiresTopUp = settings.RequiresTopUp
		if settings.AllowOverdraft {
			limit := settings.OverdraftLimit
			out.OverdraftLimit = &limit
		}
	}

	if out.RecentDeposits, err = repo.ListDeposits(ctx, s.DB, userID, recentDeposits); err != nil {
		return nil, err
	}
	return out, nil
}

// RequireStaff returns nil when userID is a staff member, ErrForbidden for
// other users, and ErrUserNotFound when the account does not exist.
func (s *AccountService) RequireStaff(ctx context.Context, userID uint) error {
	return requireStaff(ctx, s.DB, userID)
}

// Package services – SweepService
//
// Periodic batch jobs. They run from the command line (cron), never inside
// the request path, and touch only rows of past service dates or of users
// whose balance is already settled by the time they run.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/canteen-backend/internal/domain"
	"github.com/tbourn/canteen-backend/internal/repo"
)

const zeroingNote = "Month-end debt zeroing"

// ZeroingReport summarizes a ZeroNegativeBalances run.
type ZeroingReport struct {
	Users  int             `json:"users"`
	Amount decimal.Decimal `json:"amount"`
}

// SweepService runs the maintenance sweeps.
type SweepService struct {
	DB     *gorm.DB
	Ledger BalanceLedger
	Now    func() time.Time
}

// NewSweepService constructs a SweepService on the wall clock.
func NewSweepService(db *gorm.DB) *SweepService {
	return &SweepService{DB: db, Now: time.Now}
}

func (s *SweepService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *SweepService) tracer() trace.Tracer { return otel.Tracer("services/SweepService") }

// MarkUnclaimed moves every open order served on or before through (ISO) to
// unclaimed. Charges of unclaimed orders stay on the balance.
func (s *SweepService) MarkUnclaimed(ctx context.Context, through string) (int64, error) {
	ctx, span := s.tracer().Start(ctx, "MarkUnclaimed",
		trace.WithAttributes(attribute.String("through", through)))
	defer span.End()

	if _, err := ParseDate(through); err != nil {
		return 0, ErrInvalidDate
	}
	n, err := repo.MarkOrdersUnclaimed(ctx, s.DB, through)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	log.Ctx(ctx).Info().Str("through", through).Int64("orders", n).Msg("orders marked unclaimed")
	return n, nil
}

// ZeroNegativeBalances writes a zeroing deposit for every active user of an
// overdraft group whose balance is below zero, bringing it back to zero.
func (s *SweepService) ZeroNegativeBalances(ctx context.Context) (*ZeroingReport, error) {
	ctx, span := s.tracer().Start(ctx, "ZeroNegativeBalances")
	defer span.End()

	report := &ZeroingReport{Amount: decimal.Zero}
	groupIDs, err := repo.OverdraftGroupIDs(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	users, err := repo.ListActiveUsersInGroups(ctx, s.DB, groupIDs)
	if err != nil {
		return nil, err
	}

	for _, u := range users {
		var zeroed decimal.Decimal
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := s.Ledger.CurrentBalance(ctx, tx, u.ID)
			if err != nil {
				return err
			}
			if !balance.IsNegative() {
				return nil
			}
			zeroed = balance.Neg()
			return repo.CreateDeposit(ctx, tx, &domain.Deposit{
				UserID: u.ID,
				Amount: zeroed,
				Kind:   domain.DepositZeroing,
				Note:   zeroingNote,
			})
		})
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if zeroed.IsPositive() {
			report.Users++
			report.Amount = report.Amount.Add(zeroed)
			observeMutation("deposit_zeroing")
			log.Ctx(ctx).Info().Uint("user_id", u.ID).Str("amount", zeroed.StringFixed(2)).Msg("negative balance zeroed")
		}
	}
	return report, nil
}

// PurgeIdempotency deletes idempotency records past their expiry.
func (s *SweepService) PurgeIdempotency(ctx context.Context) (int64, error) {
	ctx, span := s.tracer().Start(ctx, "PurgeIdempotency")
	defer span.End()

	n, err := repo.PurgeExpiredIdempotency(ctx, s.DB, s.now().UTC())
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if n > 0 {
		log.Ctx(ctx).Debug().Int64("records", n).Msg("expired idempotency records purged")
	}
	return n, nil
}

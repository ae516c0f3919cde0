// Package services – RecalcService
//
// RecalcService reprices already-frozen order items after a subsidy policy
// changed retroactively. Each item in the period is priced again with the
// current SubsidyResolver; items whose price moves by at least one cent are
// reported, and unless the run is a dry run they are updated together with an
// audit log in one transaction.
package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/canteen-backend/internal/domain"
	"github.com/tbourn/canteen-backend/internal/repo"
)

// maxRecalcDays bounds one recalculation run.
const maxRecalcDays = 366

var priceEpsilon = decimal.New(1, -2)

// PriceChange is one repriced item.
type PriceChange struct {
	OrderItemID uint            `json:"order_item_id"`
	OrderID     uint            `json:"order_id"`
	UserID      uint            `json:"user_id"`
	Date        string          `json:"date"`
	MealName    string          `json:"meal_name"`
	Quantity    int             `json:"quantity"`
	OldPrice    decimal.Decimal `json:"old_price"`
	NewPrice    decimal.Decimal `json:"new_price"`
	PriceDiff   decimal.Decimal `json:"price_diff"`
}

// UserPriceChanges groups the changes of one user for review.
type UserPriceChanges struct {
	UserID   uint            `json:"user_id"`
	Username string          `json:"username"`
	Items    int             `json:"items"`
	Diff     decimal.Decimal `json:"diff"`
}

// RecalcReport summarizes a recalculation run.
//
// TotalPriceDiff is the change of the summed charges (unit diff times
// quantity); a negative value means users were charged less.
type RecalcReport struct {
	From           string             `json:"from"`
	To             string             `json:"to"`
	DryRun         bool               `json:"dry_run"`
	ItemsTotal     int                `json:"items_total"`
	ItemsChanged   int                `json:"items_changed"`
	ItemsUnchanged int                `json:"items_unchanged"`
	OrdersAffected int                `json:"orders_affected"`
	TotalPriceDiff decimal.Decimal    `json:"total_price_diff"`
	Changes        []PriceChange      `json:"changes"`
	ByUser         []UserPriceChanges `json:"by_user"`
	LogID          *uint              `json:"log_id,omitempty"`
	Message        string             `json:"message,omitempty"`
}

// RecalcService reprices order items in a date range.
type RecalcService struct {
	DB      *gorm.DB
	Subsidy SubsidyResolver
}

// NewRecalcService constructs a RecalcService.
func NewRecalcService(db *gorm.DB) *RecalcService {
	return &RecalcService{DB: db}
}

// Recalculate reprices every charged item served in [from, to]. With dryRun
// nothing is written.
func (s *RecalcService) Recalculate(ctx context.Context, actorID uint, from, to string, dryRun bool) (*RecalcReport, error) {
	tr := otel.Tracer("services/RecalcService")
	ctx, span := tr.Start(ctx, "Recalculate",
		trace.WithAttributes(
			attribute.Int("actor.id", int(actorID)),
			attribute.String("from", from),
			attribute.String("to", to),
			attribute.Bool("dry_run", dryRun),
		),
	)
	defer span.End()

	if err := requireStaff(ctx, s.DB, actorID); err != nil {
		return nil, err
	}
	fromDay, err := ParseDate(from)
	if err != nil {
		return nil, ErrInvalidDate
	}
	toDay, err := ParseDate(to)
	if err != nil {
		return nil, ErrInvalidDate
	}
	if toDay.Before(fromDay) || toDay.Sub(fromDay).Hours()/24 >= maxRecalcDays {
		return nil, ErrInvalidRange
	}

	report := &RecalcReport{From: from, To: to, DryRun: dryRun, TotalPriceDiff: decimal.Zero, Changes: []PriceChange{}, ByUser: []UserPriceChanges{}}
	items, err := repo.ListItemsInRange(ctx, s.DB, from, to)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list items failed")
		return nil, err
	}
	if len(items) == 0 {
		report.Message = fmt.Sprintf("no orders in period %s to %s", from, to)
		return report, nil
	}

	users := map[uint]*domain.User{}
	orders := map[uint]struct{}{}
	for i := range items {
		it := &items[i]
		user, ok := users[it.Order.UserID]
		if !ok {
			if user, err = repo.GetUser(ctx, s.DB, it.Order.UserID); err != nil {
				return nil, err
			}
			users[user.ID] = user
		}
		price, err := s.Subsidy.PriceFor(ctx, s.DB, user, &it.MenuItem)
		if err != nil {
			return nil, err
		}
		price = price.Round(2)
		diff := price.Sub(it.Price)
		if diff.Abs().LessThan(priceEpsilon) {
			report.ItemsUnchanged++
			continue
		}
		orders[it.OrderID] = struct{}{}
		report.TotalPriceDiff = report.TotalPriceDiff.Add(diff.Mul(decimal.NewFromInt(int64(it.Quantity))))
		report.Changes = append(report.Changes, PriceChange{
			OrderItemID: it.ID,
			OrderID:     it.OrderID,
			UserID:      it.Order.UserID,
			Date:        it.Order.ServiceDate,
			MealName:    it.MenuItem.Meal.Name,
			Quantity:    it.Quantity,
			OldPrice:    it.Price,
			NewPrice:    price,
			PriceDiff:   diff,
		})
	}
	report.ItemsTotal = len(items)
	report.ItemsChanged = len(report.Changes)
	report.OrdersAffected = len(orders)
	report.TotalPriceDiff = report.TotalPriceDiff.Round(2)
	report.ByUser = groupByUser(report.Changes, users)

	if dryRun || len(report.Changes) == 0 {
		return report, nil
	}

	params, err := json.Marshal(map[string]any{"from": from, "to": to, "dry_run": dryRun})
	if err != nil {
		return nil, err
	}
	entry := &domain.PriceRecalculationLog{
		CreatedByID:    &actorID,
		DateFrom:       from,
		DateTo:         to,
		OrdersAffected: report.OrdersAffected,
		ItemsAffected:  report.ItemsChanged,
		TotalPriceDiff: report.TotalPriceDiff,
		Note:           fmt.Sprintf("Price recalculation for %s to %s", from, to),
		Params:         datatypes.JSON(params),
		Details:        make([]domain.PriceRecalculationDetail, 0, len(report.Changes)),
	}
	for _, c := range report.Changes {
		entry.Details = append(entry.Details, domain.PriceRecalculationDetail{
			OrderItemID: c.OrderItemID,
			OldPrice:    c.OldPrice,
			NewPrice:    c.NewPrice,
			PriceDiff:   c.PriceDiff,
		})
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateRecalculationLog(ctx, tx, entry); err != nil {
			return err
		}
		for _, c := range report.Changes {
			if err := repo.UpdateOrderItemPrice(ctx, tx, c.OrderItemID, c.NewPrice); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recalculation failed")
		return nil, err
	}
	report.LogID = &entry.ID
	observeMutation("price_recalculation")

	log.Ctx(ctx).Info().
		Uint("actor_id", actorID).
		Str("from", from).Str("to", to).
		Int("items_changed", report.ItemsChanged).
		Str("total_price_diff", report.TotalPriceDiff.StringFixed(2)).
		Msg("order prices recalculated")
	return report, nil
}

// groupByUser folds changes per user, keeping first-seen order.
func groupByUser(changes []PriceChange, users map[uint]*domain.User) []UserPriceChanges {
	out := []UserPriceChanges{}
	idx := map[uint]int{}
	for _, c := range changes {
		i, ok := idx[c.UserID]
		if !ok {
			i = len(out)
			idx[c.UserID] = i
			g := UserPriceChanges{UserID: c.UserID, Diff: decimal.Zero}
			if u := users[c.UserID]; u != nil {
				g.Username = u.Username
			}
			out = append(out, g)
		}
		out[i].Items++
		out[i].Diff = out[i].Diff.Add(c.PriceDiff.Mul(decimal.NewFromInt(int64(c.Quantity))))
	}
	return out
}

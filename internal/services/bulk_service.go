// Package services – BulkOrderService
//
// BulkOrderService is the staff tool that books the same menu items for many
// users on one date. Each user's order is replaced by one of each selected
// item and marked created_by_staff. The closing instant does not apply, but
// the affordability and quota gates do, with the same deny reasons the
// self-service path uses. Users are processed in separate transactions so
// one refusal never undoes another user's order.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/canteen-backend/internal/domain"
	"github.com/tbourn/canteen-backend/internal/repo"
)

// BulkOrderInput selects the date, items, and users of a bulk booking.
type BulkOrderInput struct {
	Date        string `json:"date"          binding:"required,isodate"`
	MenuItemIDs []uint `json:"menu_item_ids" binding:"required,min=1,unique,dive,gt=0"`
	UserIDs     []uint `json:"user_ids"      binding:"required,min=1,unique,dive,gt=0"`
}

// BulkDenial names a user the booking was refused for.
type BulkDenial struct {
	UserID   uint       `json:"user_id"`
	Username string     `json:"username,omitempty"`
	Reason   DenyReason `json:"reason"`
	Message  string     `json:"message"`
}

// BulkOrderReport summarizes a bulk booking.
type BulkOrderReport struct {
	Date    string       `json:"date"`
	Created int          `json:"created"`
	Denied  []BulkDenial `json:"denied"`
}

// BulkOrderService books orders on behalf of users.
type BulkOrderService struct {
	DB     *gorm.DB
	Engine *EligibilityEngine
}

// NewBulkOrderService constructs a BulkOrderService sharing the engine's database.
func NewBulkOrderService(engine *EligibilityEngine) *BulkOrderService {
	return &BulkOrderService{DB: engine.DB, Engine: engine}
}

// Create books in.MenuItemIDs for every user in in.UserIDs on in.Date.
// Unknown users are reported as denials; unknown or unlisted items fail the
// whole request before anything is written.
func (s *BulkOrderService) Create(ctx context.Context, staffID uint, in BulkOrderInput) (*BulkOrderReport, error) {
	tr := otel.Tracer("services/BulkOrderService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.Int("staff.id", int(staffID)),
			attribute.String("service_date", in.Date),
			attribute.Int("users", len(in.UserIDs)),
			attribute.Int("items", len(in.MenuItemIDs)),
		),
	)
	defer span.End()

	if err := requireStaff(ctx, s.DB, staffID); err != nil {
		return nil, err
	}
	if _, err := ParseDate(in.Date); err != nil {
		return nil, ErrInvalidDate
	}

	in.MenuItemIDs, in.UserIDs = distinct(in.MenuItemIDs), distinct(in.UserIDs)

	items := make([]*domain.MenuItem, 0, len(in.MenuItemIDs))
	for _, id := range in.MenuItemIDs {
		it, err := repo.GetMenuItem(ctx, s.DB, id)
		if err != nil {
			return nil, notFound(err, ErrMenuItemNotFound)
		}
		if !it.Menu.Covers(in.Date) {
			return nil, s.Engine.Messages.deny(ReasonNotListed, msgNotListed, in.Date)
		}
		items = append(items, it)
	}

	report := &BulkOrderReport{Date: in.Date, Denied: []BulkDenial{}}
	for _, uid := range in.UserIDs {
		user, err := repo.GetUser(ctx, s.DB, uid)
		if errors.Is(err, repo.ErrNotFound) {
			report.Denied = append(report.Denied, BulkDenial{UserID: uid, Reason: ReasonUserNotFound, Message: ErrUserNotFound.Error()})
			continue
		}
		if err != nil {
			return nil, err
		}

		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.bookOne(ctx, tx, user, items, in.Date)
		})
		if de, ok := AsDeny(err); ok {
			observeDecision(de.Reason)
			report.Denied = append(report.Denied, BulkDenial{
				UserID: user.ID, Username: user.Username, Reason: de.Reason, Message: de.Message,
			})
			continue
		}
		if err != nil {
			return nil, err
		}
		report.Created++
		observeDecision(ReasonNone)
		observeMutation("order_bulk_created")
	}

	log.Ctx(ctx).Info().
		Uint("staff_id", staffID).
		Str("service_date", in.Date).
		Int("created", report.Created).
		Int("denied", len(report.Denied)).
		Msg("bulk orders created")
	return report, nil
}

// bookOne replaces user's items for date with one of each item.
func (s *BulkOrderService) bookOne(ctx context.Context, tx *gorm.DB, user *domain.User, items []*domain.MenuItem, date string) error {
	e := s.Engine
	order, err := repo.EnsureOrder(ctx, tx, user.ID, date, domain.OrderCreatedByStaff)
	if err != nil {
		return err
	}
	if !order.Status.Open() {
		return e.Messages.deny(ReasonOrderLocked, msgOrderLocked, date)
	}
	if err := repo.DeleteOrderItems(ctx, tx, order.ID); err != nil {
		return err
	}
	order.Status = domain.OrderCreatedByStaff
	if err := repo.UpdateOrder(ctx, tx, order); err != nil {
		return err
	}

	prices := make([]decimal.Decimal, len(items))
	total := decimal.Zero
	for i, it := range items {
		p, err := e.Subsidy.PriceFor(ctx, tx, user, it)
		if err != nil {
			return err
		}
		prices[i] = p
		total = total.Add(p)
	}
	if !user.IsStaff {
		if deny, err := e.affordable(ctx, tx, user, total); err != nil {
			return err
		} else if deny != nil {
			return deny
		}
	}

	for i, it := range items {
		q, err := e.Quota.Check(ctx, tx, user, it, date, 1)
		if err != nil {
			return err
		}
		if !q.Allowed {
			return &DenyError{Reason: ReasonGroupLimit, Message: q.Message}
		}
		row := &domain.OrderItem{OrderID: order.ID, MenuItemID: it.ID, Quantity: 1, Price: prices[i]}
		if err := repo.SaveOrderItem(ctx, tx, row); err != nil {
			return err
		}
	}
	return nil
}

// distinct drops repeated IDs, keeping the first occurrence.
func distinct(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
